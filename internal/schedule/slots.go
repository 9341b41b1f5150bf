package schedule

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// DateLayout is the wire and storage format of appointment dates.
const DateLayout = "2006-01-02"

// Clock is a time of day in minutes since midnight.
type Clock int

// ParseClock parses "HH:MM". Seconds are accepted and dropped so that
// TIME columns read back as "09:00:00" still parse.
func ParseClock(s string) (Clock, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
}

// MustClock is ParseClock for constants.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// ParseDate parses a calendar date in DateLayout.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return d, nil
}

// GenerateSlots returns the slot start times from open, stepping by
// granularity, stopping strictly before close. An empty window or a
// non-positive granularity yields no slots.
func GenerateSlots(open, close Clock, granularity time.Duration) []string {
	step := int(granularity / time.Minute)
	if step <= 0 || open >= close {
		return []string{}
	}
	if close > minutesPerDay {
		close = minutesPerDay
	}

	slots := make([]string, 0, (int(close-open)+step-1)/step)
	for t := open; t < close; t += Clock(step) {
		slots = append(slots, t.String())
	}
	return slots
}

// IsSlot reports whether t is one of the slots GenerateSlots would produce.
func IsSlot(open, close Clock, granularity time.Duration, t Clock) bool {
	step := int(granularity / time.Minute)
	if step <= 0 || t < open || t >= close || t >= minutesPerDay {
		return false
	}
	return int(t-open)%step == 0
}

// Subtract removes booked times from candidates, keeping candidate order.
func Subtract(candidates []string, booked map[string]struct{}) []string {
	free := make([]string, 0, len(candidates))
	for _, slot := range candidates {
		if _, taken := booked[slot]; taken {
			continue
		}
		free = append(free, slot)
	}
	return free
}
