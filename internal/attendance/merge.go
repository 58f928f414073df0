package attendance

import "schoolattend/internal/model"

// Merge folds an incoming sync record into the existing row without clobbering
// values the row already holds. A nil existing row yields a fresh record built from
// incoming. The bool reports whether anything would be written.
func Merge(existing *model.DailyRecord, in model.SyncRecord) (model.DailyRecord, bool) {
	if existing == nil {
		rec := model.DailyRecord{
			StudentID: in.StudentID,
			Date:      in.Date,
			TimeIn:    in.TimeIn,
			TimeOut:   in.TimeOut,
			Status:    in.Status,
			Remarks:   in.Remarks,
		}
		if rec.Status == "" {
			rec.Status = model.StatusNotMarked
		}
		return rec, true
	}

	out := *existing
	changed := false
	if out.TimeIn == nil && in.TimeIn != nil {
		out.TimeIn = in.TimeIn
		changed = true
	}
	if out.TimeOut == nil && in.TimeOut != nil {
		out.TimeOut = in.TimeOut
		changed = true
	}
	if (out.Status == "" || out.Status == model.StatusNotMarked) && in.Status != "" && in.Status != model.StatusNotMarked {
		out.Status = in.Status
		changed = true
	}
	if out.Remarks == "" && in.Remarks != "" {
		out.Remarks = in.Remarks
		changed = true
	}
	return out, changed
}
