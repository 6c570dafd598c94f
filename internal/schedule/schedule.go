package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	// Zone rules are embedded so scheduling does not depend on the host.
	_ "time/tzdata"
)

// ErrNoActiveWeekdays is returned when a schedule has an empty weekday set.
// No next send exists until the schedule is corrected.
var ErrNoActiveWeekdays = errors.New("schedule has no active weekdays")

// ClockTime is a wall-clock time of day in the team's own zone.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" or "HH:MM:SS" (seconds are ignored).
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ClockTime{}, fmt.Errorf("invalid send time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid send time %q: hour out of range", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid send time %q: minute out of range", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// MarshalText implements encoding.TextMarshaler.
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockTime) UnmarshalText(b []byte) error {
	parsed, err := ParseClockTime(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Schedule describes when a team's check-in recurs.
type Schedule struct {
	SendTime ClockTime
	Location *time.Location
	Weekdays WeekdaySet
}

// NextSend returns the first instant strictly after from that falls on an
// active weekday at SendTime in the schedule's zone. The candidate is built
// from calendar fields, so daylight-saving shifts keep the wall-clock time.
func NextSend(s Schedule, from time.Time) (time.Time, error) {
	if s.Weekdays.Empty() {
		return time.Time{}, ErrNoActiveWeekdays
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}

	local := from.In(loc)
	y, m, d := local.Date()

	// Seven days out always repeats the weekday of day zero, so eight
	// candidates are enough for any non-empty set.
	for i := 0; i <= 7; i++ {
		candidate := time.Date(y, m, d+i, s.SendTime.Hour, s.SendTime.Minute, 0, 0, loc)
		if candidate.After(from) && s.Weekdays.Has(candidate.Weekday()) {
			return candidate.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("no send time within a week of %s", from.Format(time.RFC3339))
}
