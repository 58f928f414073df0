package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps the canonical Postgres store.
type DB struct {
	Client *sql.DB
}

// NewDB opens Postgres through pgx with the pool capped at maxConns.
func NewDB(ctx context.Context, connString string, maxConns int) (*DB, error) {
	if maxConns <= 0 {
		maxConns = 10
	}
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{Client: db}, nil
}

// Migrate creates the canonical schema if missing.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			device_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			device_id TEXT NOT NULL REFERENCES devices(device_id),
			token TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS teachers (
			teacher_id TEXT PRIMARY KEY,
			school_id TEXT NOT NULL DEFAULT '',
			grade_level INT NOT NULL DEFAULT 0,
			section TEXT NOT NULL DEFAULT '',
			strand TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS students (
			student_id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL,
			grade_level INT NOT NULL DEFAULT 0,
			section TEXT NOT NULL DEFAULT '',
			school_id TEXT NOT NULL DEFAULT '',
			strand TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS subjects (
			subject_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			grade_level INT NOT NULL,
			strand TEXT NOT NULL DEFAULT '',
			schedule_start TIME
		)`,
		`CREATE TABLE IF NOT EXISTS teacher_assignments (
			teacher_id TEXT NOT NULL REFERENCES teachers(teacher_id),
			subject_id TEXT NOT NULL REFERENCES subjects(subject_id),
			section TEXT NOT NULL,
			PRIMARY KEY (teacher_id, subject_id, section)
		)`,
		`CREATE TABLE IF NOT EXISTS enrollments (
			student_id TEXT NOT NULL REFERENCES students(student_id),
			subject_id TEXT NOT NULL REFERENCES subjects(subject_id),
			PRIMARY KEY (student_id, subject_id)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_attendance (
			attendance_id TEXT PRIMARY KEY,
			student_id TEXT NOT NULL,
			attendance_date DATE NOT NULL,
			time_in TIME,
			time_out TIME,
			status TEXT NOT NULL DEFAULT 'NOT_MARKED',
			remarks TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_attendance_student_date ON daily_attendance(student_id, attendance_date)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
