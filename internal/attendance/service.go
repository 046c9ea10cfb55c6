package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"geoattend/internal/civilday"
)

// Service runs the attendance state machine and reporting reads.
type Service struct {
	repo     Repository
	settings Settings
	cache    CompletionCache
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithCache enables the completion cache for HasCompletedToday.
func WithCache(c CompletionCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a service backed by a repository.
func NewService(repo Repository, settings Settings, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("attendance: repository required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.MaxPageSize < settings.PageSize {
		settings.MaxPageSize = settings.PageSize
	}
	s := &Service{repo: repo, settings: settings, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Validate checks the settings are usable.
func (st Settings) Validate() error {
	switch {
	case st.Location == nil:
		return errors.New("attendance: time zone required")
	case !st.Fence.Center.Valid():
		return fmt.Errorf("attendance: invalid geofence center %v", st.Fence.Center)
	case st.Fence.RadiusMeters <= 0 || math.IsNaN(st.Fence.RadiusMeters):
		return fmt.Errorf("attendance: geofence radius must be positive, got %v", st.Fence.RadiusMeters)
	case st.PageSize < 1:
		return fmt.Errorf("attendance: page size must be >= 1, got %d", st.PageSize)
	case len(st.StaffNames) == 0:
		return errors.New("attendance: staff roster is empty")
	}
	return nil
}

// Location returns the civil-day zone.
func (s *Service) Location() *time.Location { return s.settings.Location }

// StaffNames returns a copy of the configured roster.
func (s *Service) StaffNames() []string {
	return append([]string(nil), s.settings.StaffNames...)
}

// Today returns the current civil-day window.
func (s *Service) Today() civilday.Window {
	return civilday.DayWindow(s.now(), s.settings.Location)
}

// Submit validates a student submission and advances today's record.
// Every rejection happens before any write.
func (s *Service) Submit(ctx context.Context, who Identity, p Payload) (Outcome, error) {
	if who.Role != RoleStudent || who.ID == "" {
		return Outcome{}, newError(KindNotAuthorized, "only students can submit attendance")
	}
	if p.Location == nil || !p.Location.Valid() {
		return Outcome{}, newError(KindInvalidLocation, "location data is required and must be numbers")
	}
	if dist, ok := s.settings.Fence.Check(*p.Location); !ok {
		return Outcome{}, newError(KindOutOfRange, fmt.Sprintf(
			"you are %.0fm away from the allowed location (limit %.0fm)", math.Round(dist), s.settings.Fence.RadiusMeters))
	}

	today := s.Today()
	existing, err := s.repo.FindInWindow(ctx, who.ID, today.Start, today.End)
	if err != nil {
		return Outcome{}, storageError("lookup", err)
	}
	return s.advance(ctx, who.ID, existing, p, today)
}

func (s *Service) advance(ctx context.Context, studentID string, existing *Record, p Payload, today civilday.Window) (Outcome, error) {
	switch existing.State() {
	case NotStarted:
		return s.checkIn(ctx, studentID, p, today)
	case CheckedIn:
		return s.checkOut(ctx, *existing, p)
	default:
		return Outcome{}, newError(KindAlreadyCompleted, "attendance already fully submitted today")
	}
}

func (s *Service) checkIn(ctx context.Context, studentID string, p Payload, today civilday.Window) (Outcome, error) {
	if strings.TrimSpace(p.InTime) == "" {
		return Outcome{}, newError(KindMissingField, "in-time is required")
	}
	in, err := civilday.ToZonedInstant(p.InTime, s.settings.Location)
	if err != nil {
		return Outcome{}, &Error{Kind: KindInvalidTimestamp, Message: "in-time is not a valid date-time", Err: err}
	}
	if !today.Contains(in) {
		return Outcome{}, newError(KindInvalidTimestamp, fmt.Sprintf(
			"in-time must fall on %s", civilday.DayOf(today.Start, s.settings.Location)))
	}

	stored, created, err := s.repo.CreateOrFetch(ctx, Record{StudentID: studentID, InTime: in})
	if err != nil {
		return Outcome{}, storageError("create", err)
	}
	if !created {
		// lost the race for today's row; judge the payload against the winner
		return s.advance(ctx, studentID, &stored, p, today)
	}
	return Outcome{Code: OutcomeCreated, Message: "in-time marked successfully", Record: stored}, nil
}

func (s *Service) checkOut(ctx context.Context, rec Record, p Payload) (Outcome, error) {
	topic := strings.TrimSpace(p.Topic)
	staff := strings.TrimSpace(p.StaffName)
	if strings.TrimSpace(p.OutTime) == "" {
		if strings.TrimSpace(p.InTime) != "" && topic == "" && staff == "" {
			return Outcome{}, newError(KindAlreadyCheckedIn, "in-time already marked today")
		}
		return Outcome{}, newError(KindMissingField, "out-time, topic, and staff name are required")
	}
	if topic == "" || staff == "" {
		return Outcome{}, newError(KindMissingField, "out-time, topic, and staff name are required")
	}
	if !s.knownStaff(staff) {
		return Outcome{}, newError(KindInvalidStaff, fmt.Sprintf("unknown staff name %q", staff))
	}
	out, err := civilday.ToZonedInstant(p.OutTime, s.settings.Location)
	if err != nil {
		return Outcome{}, &Error{Kind: KindInvalidTimestamp, Message: "out-time is not a valid date-time", Err: err}
	}
	if !out.After(rec.InTime) {
		return Outcome{}, newError(KindInvalidTimestamp, "out-time must be after in-time")
	}

	ok, err := s.repo.Complete(ctx, rec.ID, out, topic, staff)
	if err != nil {
		return Outcome{}, storageError("update", err)
	}
	if !ok {
		return Outcome{}, newError(KindAlreadyCompleted, "attendance already fully submitted today")
	}
	rec.OutTime, rec.Topic, rec.StaffName = &out, &topic, &staff
	return Outcome{Code: OutcomeUpdated, Message: "attendance submitted successfully", Record: rec}, nil
}

func (s *Service) knownStaff(name string) bool {
	for _, n := range s.settings.StaffNames {
		if n == name {
			return true
		}
	}
	return false
}

// HasCompletedToday reports whether the student's record for today has an out-time.
// It never writes attendance data.
func (s *Service) HasCompletedToday(ctx context.Context, studentID string) (bool, error) {
	now := s.now()
	today := civilday.DayWindow(now, s.settings.Location)
	day := civilday.DayOf(today.Start, s.settings.Location)

	if s.cache != nil {
		done, err := s.cache.IsCompleted(ctx, studentID, day)
		if err != nil {
			log.Printf("completion cache read failed: %v", err)
		} else if done {
			return true, nil
		}
	}

	rec, err := s.repo.FindInWindow(ctx, studentID, today.Start, today.End)
	if err != nil {
		return false, storageError("lookup", err)
	}
	done := rec.State() == Completed
	if done && s.cache != nil {
		if err := s.cache.MarkCompleted(ctx, studentID, day, today.End.Sub(now)); err != nil {
			log.Printf("completion cache write failed: %v", err)
		}
	}
	return done, nil
}
