package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"schoolattend/internal/metrics"
	"schoolattend/internal/model"
	"schoolattend/internal/queue"
)

// Store is the canonical persistence the state machine needs.
type Store interface {
	// ListDay returns every row for the student-day, oldest created first.
	ListDay(ctx context.Context, studentID string, day model.Day) ([]model.DailyRecord, error)
	Insert(ctx context.Context, rec model.DailyRecord) (model.DailyRecord, error)
	UpdateTimeIn(ctx context.Context, attendanceID string, timeIn model.Clock, status model.Status, remarks string) error
	UpdateTimeOut(ctx context.Context, attendanceID string, timeOut model.Clock, status model.Status, remarks string) error
	UpdateMerged(ctx context.Context, rec model.DailyRecord) error
	Delete(ctx context.Context, attendanceIDs []string) error
	// SubjectSchedule returns the subject's start time, or nil when it has none.
	SubjectSchedule(ctx context.Context, subjectID string) (*model.Clock, error)
}

// MarkRequest carries one time-in or time-out.
type MarkRequest struct {
	StudentID string
	Date      model.Day
	Time      model.Clock
	SubjectID string
}

// Service runs the daily attendance state machine against the canonical store.
type Service struct {
	store         Store
	queue         queue.Queue
	scheduleStart model.Clock
	logger        *slog.Logger
}

// NewService creates a service. q may be nil when no heal worker is running.
func NewService(store Store, q queue.Queue, scheduleStart model.Clock, logger *slog.Logger) *Service {
	if scheduleStart == 0 {
		scheduleStart = DefaultScheduleStart
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, queue: q, scheduleStart: scheduleStart, logger: logger}
}

// Consolidate keeps the earliest-created row for the student-day and deletes the rest.
// It returns the surviving row, or nil when none exists.
func (s *Service) Consolidate(ctx context.Context, studentID string, day model.Day) (*model.DailyRecord, error) {
	rows, err := s.store.ListDay(ctx, studentID, day)
	if err != nil {
		return nil, fmt.Errorf("list day: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	keep := rows[0]
	if len(rows) > 1 {
		extra := make([]string, 0, len(rows)-1)
		for _, r := range rows[1:] {
			extra = append(extra, r.AttendanceID)
		}
		if err := s.store.Delete(ctx, extra); err != nil {
			return nil, fmt.Errorf("delete duplicates: %w", err)
		}
		metrics.Consolidated.Add(float64(len(extra)))
		s.logger.Info("consolidated duplicate attendance rows",
			"student_id", studentID, "date", day.String(), "kept", keep.AttendanceID, "removed", len(extra))
	}
	return &keep, nil
}

// TimeIn records arrival for the student-day, creating the row if needed.
func (s *Service) TimeIn(ctx context.Context, req MarkRequest) (model.DailyRecord, error) {
	if req.StudentID == "" || req.Date.IsZero() {
		return model.DailyRecord{}, ErrInvalidRequest
	}
	existing, err := s.Consolidate(ctx, req.StudentID, req.Date)
	if err != nil {
		return model.DailyRecord{}, err
	}
	if existing != nil && existing.TimeIn != nil && existing.TimeOut != nil {
		return model.DailyRecord{}, ErrAlreadyMarked
	}

	start, err := s.scheduleFor(ctx, req.SubjectID)
	if err != nil {
		return model.DailyRecord{}, err
	}
	status, remarks := TimeInStatus(req.Time, start)

	var rec model.DailyRecord
	if existing != nil {
		if err := s.store.UpdateTimeIn(ctx, existing.AttendanceID, req.Time, status, remarks); err != nil {
			return model.DailyRecord{}, fmt.Errorf("update time in: %w", err)
		}
		rec = *existing
		rec.TimeIn = model.ClockPtr(req.Time)
		rec.Status = status
		rec.Remarks = remarks
	} else {
		rec, err = s.store.Insert(ctx, model.DailyRecord{
			StudentID: req.StudentID,
			Date:      req.Date,
			TimeIn:    model.ClockPtr(req.Time),
			Status:    status,
			Remarks:   remarks,
		})
		if err != nil {
			return model.DailyRecord{}, fmt.Errorf("insert time in: %w", err)
		}
	}

	metrics.Transitions.WithLabelValues("time_in", string(status)).Inc()
	s.requestHeal(ctx, req.StudentID, req.Date)
	return rec, nil
}

// TimeOut records departure. The row must have a time-in and no time-out yet.
func (s *Service) TimeOut(ctx context.Context, req MarkRequest) (model.DailyRecord, error) {
	if req.StudentID == "" || req.Date.IsZero() {
		return model.DailyRecord{}, ErrInvalidRequest
	}
	existing, err := s.Consolidate(ctx, req.StudentID, req.Date)
	if err != nil {
		return model.DailyRecord{}, err
	}
	if existing == nil || existing.TimeIn == nil {
		return model.DailyRecord{}, ErrNoTimeInFound
	}
	if existing.TimeOut != nil {
		return model.DailyRecord{}, ErrAlreadyMarked
	}

	status, remarks := TimeOutStatus(*existing.TimeIn, req.Time)
	if err := s.store.UpdateTimeOut(ctx, existing.AttendanceID, req.Time, status, remarks); err != nil {
		// zero rows: a concurrent time-out won
		if errors.Is(err, ErrNotFound) {
			return model.DailyRecord{}, ErrAlreadyMarked
		}
		return model.DailyRecord{}, fmt.Errorf("update time out: %w", err)
	}
	rec := *existing
	rec.TimeOut = model.ClockPtr(req.Time)
	rec.Status = status
	rec.Remarks = remarks

	metrics.Transitions.WithLabelValues("time_out", string(status)).Inc()
	return rec, nil
}

// ApplySync merges consolidated offline records. Each record is applied on its own;
// a failure is reported in its result and does not stop the others.
func (s *Service) ApplySync(ctx context.Context, teacherID string, records []model.SyncRecord) []model.SyncResult {
	results := make([]model.SyncResult, 0, len(records))
	for _, in := range records {
		res := model.SyncResult{StudentID: in.StudentID, Date: in.Date}
		if err := s.applyOne(ctx, in); err != nil {
			res.Error = err.Error()
			metrics.SyncGroups.WithLabelValues("failed").Inc()
			s.logger.Warn("sync record rejected",
				"teacher_id", teacherID, "student_id", in.StudentID, "date", in.Date.String(), "error", err)
		} else {
			res.Applied = true
			metrics.SyncGroups.WithLabelValues("applied").Inc()
		}
		results = append(results, res)
	}
	return results
}

func (s *Service) applyOne(ctx context.Context, in model.SyncRecord) error {
	if in.StudentID == "" || in.Date.IsZero() {
		return ErrInvalidRequest
	}
	existing, err := s.Consolidate(ctx, in.StudentID, in.Date)
	if err != nil {
		return err
	}
	merged, changed := Merge(existing, in)
	if !changed {
		return nil
	}
	if existing == nil {
		if _, err := s.store.Insert(ctx, merged); err != nil {
			return fmt.Errorf("insert synced record: %w", err)
		}
		s.requestHeal(ctx, in.StudentID, in.Date)
		return nil
	}
	if err := s.store.UpdateMerged(ctx, merged); err != nil {
		return fmt.Errorf("update synced record: %w", err)
	}
	return nil
}

func (s *Service) scheduleFor(ctx context.Context, subjectID string) (model.Clock, error) {
	if subjectID == "" {
		return s.scheduleStart, nil
	}
	start, err := s.store.SubjectSchedule(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.scheduleStart, nil
		}
		return 0, fmt.Errorf("subject schedule: %w", err)
	}
	if start == nil {
		return s.scheduleStart, nil
	}
	return *start, nil
}

// requestHeal asks the worker to collapse rows a concurrent writer may have added.
func (s *Service) requestHeal(ctx context.Context, studentID string, day model.Day) {
	if s.queue == nil {
		return
	}
	msg := queue.Message{Type: queue.TypeConsolidate, Body: []byte(studentID + "|" + day.String())}
	if err := s.queue.Publish(ctx, msg); err != nil {
		s.logger.Warn("queue publish failed", "student_id", studentID, "error", err)
	}
}
