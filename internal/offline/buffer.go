package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"schoolattend/internal/model"
)

// ErrNoRows is returned by the mark operations when nothing was left to mark.
var ErrNoRows = errors.New("offline: no unsynced events matched")

const timeLayout = time.RFC3339Nano

// Buffer is the device-local log of scans captured while offline.
// It has a single writer: the scanning device.
type Buffer struct {
	db  *sql.DB
	now func() time.Time
}

// Open initializes the buffer database, creating directories as needed.
func Open(ctx context.Context, path string) (*Buffer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create buffer directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	b := &Buffer{db: db, now: time.Now}
	if err := b.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Buffer) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS offline_attendance (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			student_id TEXT NOT NULL,
			attendance_type TEXT NOT NULL,
			scan_time TEXT NOT NULL,
			device_id TEXT NOT NULL,
			is_synced INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_offline_attendance_unsynced ON offline_attendance(is_synced, student_id);`,
	}
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (b *Buffer) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Append commits one scan before returning. The scan time is the wall clock at capture.
func (b *Buffer) Append(ctx context.Context, studentID string, typ model.AttendanceType, deviceID string) (model.OfflineEvent, error) {
	return b.AppendAt(ctx, studentID, typ, deviceID, b.now())
}

// AppendAt is Append with an explicit scan time.
func (b *Buffer) AppendAt(ctx context.Context, studentID string, typ model.AttendanceType, deviceID string, scanTime time.Time) (model.OfflineEvent, error) {
	if studentID == "" {
		return model.OfflineEvent{}, errors.New("offline: student id required")
	}
	if !typ.Valid() {
		return model.OfflineEvent{}, fmt.Errorf("offline: unknown attendance type %q", typ)
	}
	evt := model.OfflineEvent{
		StudentID:      studentID,
		AttendanceType: typ,
		ScanTime:       scanTime,
		DeviceID:       deviceID,
		CreatedAt:      b.now(),
	}
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO offline_attendance (student_id, attendance_type, scan_time, device_id, is_synced, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`, evt.StudentID, string(evt.AttendanceType), evt.ScanTime.Format(timeLayout), evt.DeviceID, evt.CreatedAt.Format(timeLayout))
	if err != nil {
		return model.OfflineEvent{}, fmt.Errorf("append offline event: %w", err)
	}
	if evt.ID, err = res.LastInsertId(); err != nil {
		return model.OfflineEvent{}, fmt.Errorf("append offline event: %w", err)
	}
	return evt, nil
}

// Unsynced returns events not yet applied remotely, in capture order.
func (b *Buffer) Unsynced(ctx context.Context) ([]model.OfflineEvent, error) {
	return b.query(ctx, `
		SELECT id, student_id, attendance_type, scan_time, device_id, is_synced, created_at
		FROM offline_attendance WHERE is_synced = 0 ORDER BY id ASC
	`)
}

// All returns every buffered event, synced or not.
func (b *Buffer) All(ctx context.Context) ([]model.OfflineEvent, error) {
	return b.query(ctx, `
		SELECT id, student_id, attendance_type, scan_time, device_id, is_synced, created_at
		FROM offline_attendance ORDER BY id ASC
	`)
}

func (b *Buffer) query(ctx context.Context, q string, args ...any) ([]model.OfflineEvent, error) {
	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query offline events: %w", err)
	}
	defer rows.Close()

	var out []model.OfflineEvent
	for rows.Next() {
		var (
			evt                model.OfflineEvent
			typ, scan, created string
			synced             int
		)
		if err := rows.Scan(&evt.ID, &evt.StudentID, &typ, &scan, &evt.DeviceID, &synced, &created); err != nil {
			return nil, fmt.Errorf("scan offline event: %w", err)
		}
		evt.AttendanceType = model.AttendanceType(typ)
		evt.IsSynced = synced != 0
		if evt.ScanTime, err = time.Parse(timeLayout, scan); err != nil {
			return nil, fmt.Errorf("parse scan time: %w", err)
		}
		if evt.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created at: %w", err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// MarkSynced flips one event to synced. It never flips an event back.
func (b *Buffer) MarkSynced(ctx context.Context, id int64) error {
	res, err := b.db.ExecContext(ctx, `UPDATE offline_attendance SET is_synced = 1 WHERE id = ? AND is_synced = 0`, id)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return affected(res)
}

// MarkSyncedForStudentDay flips the unsynced events of the student scanned on day
// whose id is at most upToID. Events appended after a sync pass read the buffer
// have larger ids and stay pending.
func (b *Buffer) MarkSyncedForStudentDay(ctx context.Context, studentID string, day model.Day, loc *time.Location, upToID int64) error {
	if loc == nil {
		loc = time.Local
	}
	events, err := b.query(ctx, `
		SELECT id, student_id, attendance_type, scan_time, device_id, is_synced, created_at
		FROM offline_attendance WHERE is_synced = 0 AND student_id = ? AND id <= ?
	`, studentID, upToID)
	if err != nil {
		return err
	}
	marked := 0
	for _, evt := range events {
		if model.DayOf(evt.ScanTime.In(loc)) != day {
			continue
		}
		if err := b.MarkSynced(ctx, evt.ID); err != nil && !errors.Is(err, ErrNoRows) {
			return err
		}
		marked++
	}
	if marked == 0 {
		return ErrNoRows
	}
	return nil
}

// Counts reports total and pending events.
func (b *Buffer) Counts(ctx context.Context) (total, pending int, err error) {
	err = b.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_synced = 0 THEN 1 ELSE 0 END), 0) FROM offline_attendance
	`).Scan(&total, &pending)
	return total, pending, err
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRows
	}
	return nil
}
