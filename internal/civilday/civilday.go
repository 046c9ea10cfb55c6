// Package civilday maps instants onto calendar days of a single configured zone.
package civilday

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day format used in filters and cache keys.
const DateLayout = "2006-01-02"

// ErrInvalidTimestamp is returned when a date or date-time string cannot be parsed.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// localLayouts are the naive wall-clock layouts accepted from clients.
var localLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// Window is a half-open civil-day interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// LoadZone resolves an IANA zone name. "IST" and "+05:30" style names, or a missing
// tz database, fall back to a fixed UTC+05:30 zone.
func LoadZone(name string) (*time.Location, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "IST", "+05:30", "UTC+05:30":
		return IST(), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == "Asia/Kolkata" || name == "Asia/Calcutta" {
			return IST(), nil
		}
		return nil, fmt.Errorf("load zone %q: %w", name, err)
	}
	return loc, nil
}

// IST is Indian Standard Time as a fixed offset.
func IST() *time.Location {
	return time.FixedZone("IST", 5*3600+30*60)
}

// DayWindow returns the civil day in loc that contains ref.
func DayWindow(ref time.Time, loc *time.Location) Window {
	local := ref.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// DayOf returns the calendar day of t in loc as YYYY-MM-DD.
func DayOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// ParseDay interprets a YYYY-MM-DD string as a civil day in loc.
func ParseDay(day string, loc *time.Location) (Window, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(day), loc)
	if err != nil {
		return Window{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidTimestamp, day)
	}
	return Window{Start: d, End: d.AddDate(0, 0, 1)}, nil
}

// ToZonedInstant interprets a naive local date-time as wall-clock time in loc.
// Strings carrying an explicit offset (RFC 3339) keep their own offset.
func ToZonedInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidTimestamp)
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// ZoneName is the tz database name for loc, as understood by Postgres. The fixed
// IST fallback maps back to Asia/Kolkata.
func ZoneName(loc *time.Location) string {
	if loc == nil {
		return "UTC"
	}
	if loc.String() == "IST" {
		if _, off := time.Now().In(loc).Zone(); off == 19800 {
			return "Asia/Kolkata"
		}
	}
	return loc.String()
}
