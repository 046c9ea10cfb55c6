package attendance

import (
	"time"

	"geoattend/internal/civilday"
	"geoattend/internal/geo"
)

// Role is the caller role supplied by the identity service.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Identity is the authenticated caller.
type Identity struct {
	ID   string
	Role Role
}

// State of a student's record for one civil day.
type State int

const (
	NotStarted State = iota
	CheckedIn
	Completed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case CheckedIn:
		return "checked_in"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// Record is one student's attendance for one civil day.
type Record struct {
	ID        string     `json:"id"`
	StudentID string     `json:"studentId"`
	InTime    time.Time  `json:"intime"`
	OutTime   *time.Time `json:"outtime,omitempty"`
	Topic     *string    `json:"topic,omitempty"`
	StaffName *string    `json:"staffName,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// State derives the lifecycle state of an existing record.
func (r *Record) State() State {
	if r == nil {
		return NotStarted
	}
	if r.OutTime != nil {
		return Completed
	}
	return CheckedIn
}

// Day is the civil day of InTime in loc. It is never stored.
func (r Record) Day(loc *time.Location) string {
	return civilday.DayOf(r.InTime, loc)
}

// RecordView is a record joined with its owner's display fields.
type RecordView struct {
	Record
	StudentName  string `json:"studentName"`
	StudentEmail string `json:"studentEmail"`
}

// Payload is a student submission. Absent fields are empty strings; a nil
// Location means the client sent none.
type Payload struct {
	InTime    string     `json:"intime"`
	OutTime   string     `json:"outtime"`
	Topic     string     `json:"topic"`
	StaffName string     `json:"staffName"`
	Location  *geo.Point `json:"location"`
}

// Outcome codes for accepted submissions.
const (
	OutcomeCreated = "created"
	OutcomeUpdated = "updated"
)

// Outcome describes an accepted submission.
type Outcome struct {
	Code    string
	Message string
	Record  Record
}

// Settings is the per-deployment configuration of the engine.
type Settings struct {
	Fence       geo.Fence
	Location    *time.Location
	PageSize    int
	MaxPageSize int
	StaffNames  []string
}
