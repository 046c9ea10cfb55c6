package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return &DB{Client: db}, db.PingContext(ctx)
}

// Healthy verifies database connectivity.
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

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Schema returns the DDL for the given civil-day zone. The day of intime is an
// index expression, never a stored column.
func Schema(zone string) string {
	z := strings.ReplaceAll(zone, "'", "''")
	return `
	CREATE TABLE IF NOT EXISTS users (
		id     TEXT PRIMARY KEY,
		name   TEXT NOT NULL,
		email  TEXT UNIQUE NOT NULL,
		role   TEXT NOT NULL CHECK (role IN ('student', 'teacher'))
	);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id          UUID PRIMARY KEY,
		student_id  TEXT NOT NULL,
		intime      TIMESTAMPTZ NOT NULL,
		outtime     TIMESTAMPTZ,
		topic       TEXT,
		staff_name  TEXT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK ((outtime IS NULL) = (topic IS NULL) AND (topic IS NULL) = (staff_name IS NULL))
	);

	CREATE UNIQUE INDEX IF NOT EXISTS attendance_records_student_day
		ON attendance_records (student_id, ((intime AT TIME ZONE '` + z + `')::date));
	CREATE INDEX IF NOT EXISTS attendance_records_created
		ON attendance_records (created_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS attendance_records_staff
		ON attendance_records (staff_name);
	`
}

// Migrate applies the schema idempotently.
func Migrate(ctx context.Context, db Execer, zone string) error {
	if zone == "" {
		return fmt.Errorf("migrate: zone required")
	}
	if _, err := db.ExecContext(ctx, Schema(zone)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
