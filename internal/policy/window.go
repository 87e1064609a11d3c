package policy

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time without a date
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// Midnight is the reset time used when a rule's reset is missing or invalid
var Midnight = TimeOfDay{}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// ParseTimeOfDay parses "HH:MM:SS" or "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute(), Second: parsed.Second()}, nil
		}
	}
	return Midnight, fmt.Errorf("invalid time of day %q (expected HH:MM or HH:MM:SS)", s)
}

// DailyWindowStart returns the start of the daily accounting window ending
// at now. The window starts at today's reset time in now's location, or at
// yesterday's if today's reset is still in the future.
func DailyWindowStart(now time.Time, reset TimeOfDay) time.Time {
	y, m, d := now.Date()
	start := time.Date(y, m, d, reset.Hour, reset.Minute, reset.Second, 0, now.Location())
	if start.After(now) {
		start = start.AddDate(0, 0, -1)
	}
	return start
}

// HourlyWindowStart returns the start of the clock hour containing now.
func HourlyWindowStart(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, now.Hour(), 0, 0, 0, now.Location())
}
