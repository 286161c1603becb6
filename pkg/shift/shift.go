// Package shift contains the core domain types for the coop shift watcher.
package shift

import (
	"fmt"
	"strings"
	"time"
)

// DurationHours is how long every coop shift runs. A shift only fits the
// caller's window if it starts late enough and ends before the window closes.
const DurationHours = 2.75

// Record represents one shift slot parsed from a calendar column.
type Record struct {
	Name    string // Shift label, e.g. "Checkout"
	Time    string // Start time formatted HH:MM
	Hour    int    // Start hour, 0-23
	Minute  int    // Start minute
	Claimed bool   // Already signed up for by the acting member
}

// Criteria holds the caller-supplied constraints for one polling run.
// Immutable for the duration of the run.
type Criteria struct {
	TargetDate  time.Time
	StartHour   int    // Earliest acceptable start hour (inclusive), 1-24
	EndHour     int    // Latest acceptable end hour (inclusive), 1-24
	NamePattern string // Lowercased shift name, or "all"
}

// Matches reports whether a record satisfies the criteria: the shift starts
// no earlier than StartHour, fits entirely before EndHour, is unclaimed, and
// carries a matching name.
func (r Record) Matches(c Criteria) bool {
	if r.Claimed {
		return false
	}
	if r.Hour < c.StartHour {
		return false
	}
	if float64(c.EndHour) < float64(r.Hour)+DurationHours {
		return false
	}
	if c.NamePattern == "all" {
		return true
	}
	return strings.EqualFold(r.Name, c.NamePattern)
}

// FormatList renders records one per line as "HH:MM: name", in input order.
func FormatList(records []Record) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("%s: %s", r.Time, r.Name))
	}
	return strings.Join(lines, "\n")
}

// SameDate reports calendar-date equality, ignoring time of day.
func SameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
