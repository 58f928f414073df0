package attendance

import "schoolattend/internal/model"

// School-hour thresholds used by the daily state machine.
var (
	DefaultScheduleStart = model.NewClock(7, 30, 0)
	// LateCutoff marks a time-in as late when computing time-out remarks.
	LateCutoff = model.NewClock(7, 31, 0)
)

const (
	wholeDayLatestInHour    = 7
	wholeDayEarliestOutHour = 16

	RemarkLateArrival  = "Late arrival"
	RemarkWholeDay     = "Whole Day"
	RemarkLateWholeDay = "Late - Whole Day"
	RemarkHalfDay      = "Half Day"
	RemarkLateHalfDay  = "Late - Half Day"
)

// TimeInStatus is Late strictly after the schedule start, Present otherwise.
func TimeInStatus(timeIn, scheduleStart model.Clock) (model.Status, string) {
	if timeIn > scheduleStart {
		return model.StatusLate, RemarkLateArrival
	}
	return model.StatusPresent, ""
}

// TimeOutStatus classifies a completed day as whole or half, qualified by lateness.
func TimeOutStatus(timeIn, timeOut model.Clock) (model.Status, string) {
	whole := timeIn.Hour() <= wholeDayLatestInHour && timeOut.Hour() >= wholeDayEarliestOutHour
	late := timeIn >= LateCutoff
	switch {
	case whole && late:
		return model.StatusWholeDay, RemarkLateWholeDay
	case whole:
		return model.StatusWholeDay, RemarkWholeDay
	case late:
		return model.StatusHalfDay, RemarkLateHalfDay
	default:
		return model.StatusHalfDay, RemarkHalfDay
	}
}
