package schedule

import (
	"fmt"
	"strings"
	"time"
)

// WeekdaySet is a bit set of active weekdays, bit n set for time.Weekday(n).
type WeekdaySet uint8

// weekOrder lists weekdays Monday first, the order used for display and storage.
var weekOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// NewWeekdaySet builds a set from the given days.
func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

// Workdays is Monday through Friday.
var Workdays = NewWeekdaySet(time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday)

// ParseWeekdays accepts English weekday names ("Monday" or "mon"), case-insensitively.
func ParseWeekdays(names []string) (WeekdaySet, error) {
	var s WeekdaySet
	for _, name := range names {
		d, ok := lookupWeekday(name)
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", name)
		}
		s |= 1 << uint(d)
	}
	return s, nil
}

func lookupWeekday(name string) (time.Weekday, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if len(n) < 3 {
		return 0, false
	}
	for _, d := range weekOrder {
		full := strings.ToLower(d.String())
		if n == full || n == full[:3] {
			return d, true
		}
	}
	return 0, false
}

// Has reports whether d is in the set.
func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Empty reports whether no weekday is active.
func (s WeekdaySet) Empty() bool {
	return s&0x7f == 0
}

// Days returns the active weekdays, Monday first.
func (s WeekdaySet) Days() []time.Weekday {
	var out []time.Weekday
	for _, d := range weekOrder {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Names returns the English names of the active weekdays, Monday first.
func (s WeekdaySet) Names() []string {
	days := s.Days()
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()
	}
	return names
}

func (s WeekdaySet) String() string {
	return strings.Join(s.Names(), ",")
}
