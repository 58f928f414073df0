package syncer

import (
	"time"

	"schoolattend/internal/model"
)

// Thresholds for statuses derived from offline scans. These differ from the
// canonical time-out rules on purpose; offline groups are classified by duration.
const (
	FullDayMinimum = 4 * time.Hour
	LateAfterHour  = 8

	RemarkFullDay     = "Full day attendance"
	RemarkHalfDay     = "Half day attendance"
	RemarkLateArrival = "Late arrival"
	RemarkTimeOutOnly = "Time out only"
)

// Derive computes status and remarks for a student-day from its latest scans.
// A nil argument means no scan of that type was captured.
func Derive(timeIn, timeOut *time.Time) (model.Status, string) {
	switch {
	case timeIn != nil && timeOut != nil:
		if timeOut.Sub(*timeIn) < FullDayMinimum {
			return model.StatusHalfDay, RemarkHalfDay
		}
		return model.StatusPresent, RemarkFullDay
	case timeIn != nil:
		if timeIn.Hour() > LateAfterHour {
			return model.StatusLate, RemarkLateArrival
		}
		return model.StatusPresent, ""
	case timeOut != nil:
		return model.StatusPresent, RemarkTimeOutOnly
	}
	return model.StatusNotMarked, ""
}
