package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"schoolattend/internal/apiclient"
	"schoolattend/internal/attendance"
	"schoolattend/internal/metrics"
	"schoolattend/internal/model"
	"schoolattend/internal/scan"
	"schoolattend/internal/session"
	"schoolattend/internal/syncer"
)

// Canonical is the subset of the canonical store API a device writes to.
type Canonical interface {
	IsOnline(ctx context.Context) bool
	TimeIn(ctx context.Context, studentID string, day model.Day, at model.Clock, subjectID string) (model.DailyRecord, error)
	TimeOut(ctx context.Context, studentID string, day model.Day, at model.Clock, subjectID string) (model.DailyRecord, error)
}

// Buffer appends scans captured while offline.
type Buffer interface {
	AppendAt(ctx context.Context, studentID string, typ model.AttendanceType, deviceID string, scanTime time.Time) (model.OfflineEvent, error)
}

// Result is what the scan loop shows the user after recording.
type Result struct {
	OK      bool                     `json:"ok"`
	Offline bool                     `json:"offline"`
	Message string                   `json:"message"`
	Code    attendance.RejectionCode `json:"code,omitempty"`
	Record  *model.DailyRecord       `json:"record,omitempty"`
}

// Scanner routes scans from one device to the canonical store or the offline buffer.
type Scanner struct {
	sessions  *session.Manager
	remote    Canonical
	buffer    Buffer
	reconcile *syncer.Reconciler
	deviceID  string
	subjectID string
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

// Config carries the per-device settings of a Scanner.
type Config struct {
	DeviceID  string
	SubjectID string
	Location  *time.Location
}

func NewScanner(cfg Config, sessions *session.Manager, remote Canonical, buffer Buffer, reconcile *syncer.Reconciler, logger *slog.Logger) *Scanner {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		sessions:  sessions,
		remote:    remote,
		buffer:    buffer,
		reconcile: reconcile,
		deviceID:  cfg.DeviceID,
		subjectID: cfg.SubjectID,
		loc:       cfg.Location,
		now:       time.Now,
		logger:    logger,
	}
}

// ValidateScan parses raw scan text and checks it against the logged-in actor.
func (s *Scanner) ValidateScan(raw string) scan.ValidationResult {
	var actor *model.ActorContext
	if sess, err := s.sessions.Current(); err == nil {
		actor = &sess.Actor
	}
	res := scan.ValidateRaw(raw, actor)
	outcome := "ok"
	if !res.IsValid {
		outcome = string(res.Reason)
	}
	metrics.Scans.WithLabelValues(outcome).Inc()
	return res
}

// RecordOrBuffer writes the scan to the canonical store when reachable and to the
// offline buffer otherwise. Any online failure other than a rejection also
// routes to the buffer, so a scan is never lost to an auth or server error.
func (s *Scanner) RecordOrBuffer(ctx context.Context, id model.ScannedIdentity, typ model.AttendanceType) Result {
	if _, err := s.sessions.Current(); err != nil {
		return Result{Message: "no teacher session; log in before scanning"}
	}
	if !typ.Valid() {
		return Result{Message: fmt.Sprintf("unknown attendance type %q", typ)}
	}
	at := s.now().In(s.loc)

	if s.remote.IsOnline(ctx) {
		rec, err := s.recordOnline(ctx, id.StudentID, typ, at)
		if err == nil {
			return Result{OK: true, Message: confirmation(id, typ, rec.Status), Record: &rec}
		}
		if rej, ok := attendance.AsRejection(err); ok {
			return Result{Message: rej.Message, Code: rej.Code}
		}
		if errors.Is(err, apiclient.ErrUnavailable) {
			s.logger.Info("canonical store unreachable, buffering scan", "student_id", id.StudentID, "error", err)
		} else {
			s.logger.Warn("online attendance write failed, buffering scan", "student_id", id.StudentID, "error", err)
		}
	}

	if _, err := s.buffer.AppendAt(ctx, id.StudentID, typ, s.deviceID, at); err != nil {
		s.logger.Error("offline buffer write failed", "student_id", id.StudentID, "error", err)
		return Result{Offline: true, Message: "could not save scan offline; please scan again"}
	}
	return Result{OK: true, Offline: true, Message: fmt.Sprintf("%s saved offline", confirmation(id, typ, ""))}
}

func (s *Scanner) recordOnline(ctx context.Context, studentID string, typ model.AttendanceType, at time.Time) (model.DailyRecord, error) {
	day, clock := model.DayOf(at), model.ClockOf(at)
	if typ == model.TimeOut {
		return s.remote.TimeOut(ctx, studentID, day, clock, s.subjectID)
	}
	return s.remote.TimeIn(ctx, studentID, day, clock, s.subjectID)
}

// SyncOfflineData drains the buffer for the logged-in teacher.
func (s *Scanner) SyncOfflineData(ctx context.Context) syncer.Summary {
	sess, err := s.sessions.Current()
	if err != nil {
		return syncer.Summary{Errors: []string{err.Error()}}
	}
	return s.reconcile.Sync(ctx, sess.Actor.TeacherID)
}

// Watch checks connectivity every interval and syncs whenever the store is
// reachable, which covers the offline-to-online edge. It returns when ctx ends.
func (s *Scanner) Watch(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	online := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		now := s.remote.IsOnline(ctx)
		if now && !online {
			s.logger.Info("connectivity restored")
		}
		online = now
		if !online {
			continue
		}
		if _, err := s.sessions.Current(); err != nil {
			continue
		}
		if sum := s.SyncOfflineData(ctx); !sum.Success {
			s.logger.Warn("offline sync incomplete", "synced", sum.SyncedCount, "errors", sum.Errors)
		}
	}
}

func confirmation(id model.ScannedIdentity, typ model.AttendanceType, status model.Status) string {
	verb := "timed in"
	if typ == model.TimeOut {
		verb = "timed out"
	}
	name := id.FullName
	if name == "" || name == scan.UnknownName {
		name = id.StudentID
	}
	if status == "" {
		return fmt.Sprintf("%s %s", name, verb)
	}
	return fmt.Sprintf("%s %s (%s)", name, verb, status)
}
