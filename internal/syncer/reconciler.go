package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"schoolattend/internal/model"
	"schoolattend/internal/offline"
)

// Buffer is the offline log the reconciler drains.
type Buffer interface {
	Unsynced(ctx context.Context) ([]model.OfflineEvent, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkSyncedForStudentDay(ctx context.Context, studentID string, day model.Day, loc *time.Location, upToID int64) error
}

// Remote is the canonical store's bulk upsert endpoint.
type Remote interface {
	BulkSync(ctx context.Context, teacherID string, records []model.SyncRecord) ([]model.SyncResult, error)
}

// Summary reports one sync pass.
type Summary struct {
	Success     bool     `json:"success"`
	SyncedCount int      `json:"syncedCount"`
	Errors      []string `json:"errors,omitempty"`
}

// Group is the buffered scans of one student-day.
type Group struct {
	StudentID string
	Day       model.Day
	Events    []model.OfflineEvent
}

// Reconciler drains the offline buffer into the canonical store.
type Reconciler struct {
	buffer Buffer
	remote Remote
	loc    *time.Location
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a reconciler. Scan times are bucketed into days in loc.
func New(buffer Buffer, remote Remote, loc *time.Location, logger *slog.Logger) *Reconciler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{buffer: buffer, remote: remote, loc: loc, logger: logger}
}

// Sync submits one consolidated record per buffered student-day and marks the
// underlying events synced when the server accepts the record. Passes are serialized.
func (r *Reconciler) Sync(ctx context.Context, teacherID string) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	events, err := r.buffer.Unsynced(ctx)
	if err != nil {
		return Summary{Errors: []string{fmt.Sprintf("load offline events: %v", err)}}
	}
	if len(events) == 0 {
		return Summary{Success: true}
	}

	groups := GroupEvents(events, r.loc)
	records := make([]model.SyncRecord, 0, len(groups))
	for _, g := range groups {
		records = append(records, r.consolidate(g))
	}

	results, err := r.remote.BulkSync(ctx, teacherID, records)
	if err != nil {
		r.logger.Warn("bulk sync failed", "groups", len(groups), "error", err)
		return Summary{Errors: []string{fmt.Sprintf("bulk sync: %v", err)}}
	}

	byKey := make(map[string]model.SyncResult, len(results))
	for _, res := range results {
		byKey[key(res.StudentID, res.Date)] = res
	}

	var sum Summary
	for _, g := range groups {
		res, ok := byKey[key(g.StudentID, g.Day)]
		switch {
		case !ok:
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s %s: no result from server", g.StudentID, g.Day))
			continue
		case !res.Applied:
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s %s: %s", g.StudentID, g.Day, res.Error))
			continue
		}
		if err := r.markGroup(ctx, g); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s %s: mark synced: %v", g.StudentID, g.Day, err))
			continue
		}
		sum.SyncedCount++
	}
	sum.Success = len(sum.Errors) == 0
	r.logger.Info("offline sync finished", "synced", sum.SyncedCount, "failed", len(sum.Errors))
	return sum
}

// consolidate keeps the latest time-in and latest time-out of the group.
func (r *Reconciler) consolidate(g Group) model.SyncRecord {
	var lastIn, lastOut *time.Time
	for i := range g.Events {
		t := g.Events[i].ScanTime.In(r.loc)
		switch g.Events[i].AttendanceType {
		case model.TimeIn:
			if lastIn == nil || t.After(*lastIn) {
				lastIn = &t
			}
		case model.TimeOut:
			if lastOut == nil || t.After(*lastOut) {
				lastOut = &t
			}
		}
	}
	if lastIn == nil && lastOut != nil {
		r.logger.Warn("offline group has time-out without time-in", "student_id", g.StudentID, "date", g.Day.String())
	}

	status, remarks := Derive(lastIn, lastOut)
	rec := model.SyncRecord{StudentID: g.StudentID, Date: g.Day, Status: status, Remarks: remarks}
	if lastIn != nil {
		rec.TimeIn = model.ClockPtr(model.ClockOf(*lastIn))
	}
	if lastOut != nil {
		rec.TimeOut = model.ClockPtr(model.ClockOf(*lastOut))
	}
	return rec
}

// markGroup marks each event by id, falling back to the student-day when an id
// cannot be marked. The fallback never reaches past the group's newest event.
func (r *Reconciler) markGroup(ctx context.Context, g Group) error {
	var (
		failed bool
		maxID  int64
	)
	for _, evt := range g.Events {
		if evt.ID > maxID {
			maxID = evt.ID
		}
		if err := r.buffer.MarkSynced(ctx, evt.ID); err != nil {
			r.logger.Warn("mark synced by id failed, falling back to student", "id", evt.ID, "student_id", g.StudentID, "error", err)
			failed = true
		}
	}
	if !failed {
		return nil
	}
	// no rows left means every event of the day is already marked
	err := r.buffer.MarkSyncedForStudentDay(ctx, g.StudentID, g.Day, r.loc, maxID)
	if err != nil && !errors.Is(err, offline.ErrNoRows) {
		return err
	}
	return nil
}

// GroupEvents buckets events by student and scan day, ordered by student then day.
func GroupEvents(events []model.OfflineEvent, loc *time.Location) []Group {
	idx := map[string]int{}
	var groups []Group
	for _, evt := range events {
		day := model.DayOf(evt.ScanTime.In(loc))
		k := key(evt.StudentID, day)
		i, ok := idx[k]
		if !ok {
			i = len(groups)
			idx[k] = i
			groups = append(groups, Group{StudentID: evt.StudentID, Day: day})
		}
		groups[i].Events = append(groups[i].Events, evt)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].StudentID != groups[b].StudentID {
			return groups[a].StudentID < groups[b].StudentID
		}
		return groups[a].Day.String() < groups[b].Day.String()
	})
	return groups
}

func key(studentID string, day model.Day) string {
	return studentID + "|" + day.String()
}
