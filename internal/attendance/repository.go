package attendance

import (
	"context"
	"time"
)

// RecordFilter narrows reporting reads. Zero values mean "no constraint".
type RecordFilter struct {
	From      time.Time // inclusive bound on intime
	To        time.Time // exclusive bound on intime
	StaffName string    // exact match
}

// Repository is the persistence contract the engine is written against.
// It must enforce at most one record per (student, civil day of intime).
type Repository interface {
	// FindInWindow returns the student's record whose intime falls in
	// [start, end), or nil when there is none.
	FindInWindow(ctx context.Context, studentID string, start, end time.Time) (*Record, error)
	// CreateOrFetch inserts rec unless the student already has a record for the
	// same civil day, in which case the stored record is returned with created=false.
	CreateOrFetch(ctx context.Context, rec Record) (stored Record, created bool, err error)
	// Complete sets the check-out fields on a record that has none yet. It
	// returns false when the record is missing or was already completed.
	Complete(ctx context.Context, id string, outTime time.Time, topic, staffName string) (bool, error)
	// Count returns how many records match f.
	Count(ctx context.Context, f RecordFilter) (int, error)
	// List returns matching records joined with owner details, newest first.
	// limit <= 0 returns every match.
	List(ctx context.Context, f RecordFilter, limit, offset int) ([]RecordView, error)
}

// CompletionCache remembers (student, day) pairs that reached Completed.
type CompletionCache interface {
	IsCompleted(ctx context.Context, studentID, day string) (bool, error)
	MarkCompleted(ctx context.Context, studentID, day string, ttl time.Duration) error
}
