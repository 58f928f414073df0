package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"schoolattend/internal/model"
	"schoolattend/internal/store"
)

// Repository persists attendance data in Postgres. Every call takes a slot from the gate.
type Repository struct {
	db   *sql.DB
	gate *store.Gate
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB, gate *store.Gate) *Repository {
	return &Repository{db: db, gate: gate}
}

func (r *Repository) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.gate == nil {
		return fn(ctx)
	}
	return r.gate.Do(ctx, fn)
}

// UpsertDevice ensures a device record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	return r.do(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO devices (device_id)
			VALUES ($1)
			ON CONFLICT (device_id) DO NOTHING
		`, deviceID)
		return err
	})
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, deviceID, token string, expiresAt time.Time) error {
	return r.do(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO refresh_tokens (device_id, token, expires_at)
			VALUES ($1, $2, $3)
		`, deviceID, token, expiresAt)
		return err
	})
}

// ConsumeRefreshToken revokes a live refresh token of the device. It returns
// ErrNotFound when the token is unknown, expired or already used.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, deviceID, token string) error {
	return r.exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE device_id = $1 AND token = $2 AND NOT revoked AND expires_at > now()
	`, deviceID, token)
}

const recordColumns = `attendance_id, student_id, attendance_date, time_in::text, time_out::text, status, remarks, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (model.DailyRecord, error) {
	var (
		rec             model.DailyRecord
		date            time.Time
		timeIn, timeOut sql.NullString
		status          string
	)
	if err := row.Scan(&rec.AttendanceID, &rec.StudentID, &date, &timeIn, &timeOut, &status, &rec.Remarks, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return model.DailyRecord{}, err
	}
	rec.Date = model.DayOf(date)
	rec.Status = model.Status(status)
	var err error
	if rec.TimeIn, err = nullClock(timeIn); err != nil {
		return model.DailyRecord{}, err
	}
	if rec.TimeOut, err = nullClock(timeOut); err != nil {
		return model.DailyRecord{}, err
	}
	return rec, nil
}

func nullClock(s sql.NullString) (*model.Clock, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	// TIME renders as HH:MM:SS with optional fractional seconds.
	text, _, _ := strings.Cut(s.String, ".")
	c, err := model.ParseClock(text)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func clockArg(c *model.Clock) any {
	if c == nil {
		return nil
	}
	return c.SQL()
}

// ListDay returns every row for the student-day, oldest first.
func (r *Repository) ListDay(ctx context.Context, studentID string, day model.Day) ([]model.DailyRecord, error) {
	var res []model.DailyRecord
	err := r.do(ctx, func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, `
			SELECT `+recordColumns+`
			FROM daily_attendance
			WHERE student_id = $1 AND attendance_date = $2
			ORDER BY created_at ASC, attendance_id ASC
		`, studentID, day.String())
		if err != nil {
			return err
		}
		defer rows.Close()
		res = res[:0]
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			res = append(res, rec)
		}
		return rows.Err()
	})
	return res, err
}

// Insert writes a new row with a fresh id.
func (r *Repository) Insert(ctx context.Context, rec model.DailyRecord) (model.DailyRecord, error) {
	if rec.AttendanceID == "" {
		rec.AttendanceID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = model.StatusNotMarked
	}
	err := r.do(ctx, func(ctx context.Context) error {
		row := r.db.QueryRowContext(ctx, `
			INSERT INTO daily_attendance (attendance_id, student_id, attendance_date, time_in, time_out, status, remarks)
			VALUES ($1, $2, $3, $4::time, $5::time, $6, $7)
			RETURNING created_at, updated_at
		`, rec.AttendanceID, rec.StudentID, rec.Date.String(), clockArg(rec.TimeIn), clockArg(rec.TimeOut), string(rec.Status), rec.Remarks)
		return row.Scan(&rec.CreatedAt, &rec.UpdatedAt)
	})
	if err != nil {
		return model.DailyRecord{}, err
	}
	return rec, nil
}

// UpdateTimeIn sets time-in fields by attendance id.
func (r *Repository) UpdateTimeIn(ctx context.Context, attendanceID string, timeIn model.Clock, status model.Status, remarks string) error {
	return r.exec(ctx, `
		UPDATE daily_attendance
		SET time_in = $2::time, status = $3, remarks = $4, updated_at = clock_timestamp()
		WHERE attendance_id = $1
	`, attendanceID, timeIn.SQL(), string(status), remarks)
}

// UpdateTimeOut sets time-out fields by attendance id, only while time_out is empty.
func (r *Repository) UpdateTimeOut(ctx context.Context, attendanceID string, timeOut model.Clock, status model.Status, remarks string) error {
	return r.exec(ctx, `
		UPDATE daily_attendance
		SET time_out = $2::time, status = $3, remarks = $4, updated_at = clock_timestamp()
		WHERE attendance_id = $1 AND time_out IS NULL
	`, attendanceID, timeOut.SQL(), string(status), remarks)
}

// UpdateMerged writes a merged record, still refusing to overwrite values already set.
func (r *Repository) UpdateMerged(ctx context.Context, rec model.DailyRecord) error {
	return r.exec(ctx, `
		UPDATE daily_attendance
		SET time_in = COALESCE(time_in, $2::time),
			time_out = COALESCE(time_out, $3::time),
			status = CASE WHEN status IN ('', 'NOT_MARKED') THEN $4 ELSE status END,
			remarks = CASE WHEN remarks = '' THEN $5 ELSE remarks END,
			updated_at = clock_timestamp()
		WHERE attendance_id = $1
	`, rec.AttendanceID, clockArg(rec.TimeIn), clockArg(rec.TimeOut), string(rec.Status), rec.Remarks)
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) error {
	return r.do(ctx, func(ctx context.Context) error {
		res, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Delete removes rows by attendance id.
func (r *Repository) Delete(ctx context.Context, attendanceIDs []string) error {
	if len(attendanceIDs) == 0 {
		return nil
	}
	return r.do(ctx, func(ctx context.Context) error {
		_, err := r.db.ExecContext(ctx, `DELETE FROM daily_attendance WHERE attendance_id = ANY($1)`, attendanceIDs)
		return err
	})
}

// SubjectSchedule returns the start time of a subject.
func (r *Repository) SubjectSchedule(ctx context.Context, subjectID string) (*model.Clock, error) {
	var start sql.NullString
	err := r.do(ctx, func(ctx context.Context) error {
		return r.db.QueryRowContext(ctx, `SELECT schedule_start::text FROM subjects WHERE subject_id = $1`, subjectID).Scan(&start)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return nullClock(start)
}

// ListFilter narrows ListRecords.
type ListFilter struct {
	StudentID string
	Date      model.Day
	Limit     int
	Offset    int
}

// ListRecords returns rows with basic filters, newest first.
func (r *Repository) ListRecords(ctx context.Context, f ListFilter) ([]model.DailyRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT ` + recordColumns + ` FROM daily_attendance`
	args := []any{}
	clauses := []string{}
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		clauses = append(clauses, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if !f.Date.IsZero() {
		args = append(args, f.Date.String())
		clauses = append(clauses, fmt.Sprintf("attendance_date = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY attendance_date DESC, created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	var res []model.DailyRecord
	err := r.do(ctx, func(ctx context.Context) error {
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		res = res[:0]
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return err
			}
			res = append(res, rec)
		}
		return rows.Err()
	})
	return res, err
}
