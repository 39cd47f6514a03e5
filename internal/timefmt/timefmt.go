// Package timefmt holds the date and duration formatting helpers shared by
// the composition components.
package timefmt

import (
	"fmt"
	"strings"
	"time"
)

const (
	secInHour   = 60 * 60
	secInMinute = 60

	// Unknown is rendered when a remaining time cannot be computed.
	Unknown = "<Unknown>"
)

// Layouts accepted from the server. The original backend serializes naive UTC
// datetimes (no zone), sometimes with microseconds.
var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseDateTime parses an ISO-8601 datetime string. Strings without a zone
// are read as UTC. Returns false on empty or invalid input.
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ISO formats t as RFC3339 with milliseconds in UTC, the format the REST
// collaborator expects for action timestamps.
func ISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// FormatClock renders a number of seconds as HH:MM:SS. Negative values clamp
// to 00:00:00.
func FormatClock(sec int64) string {
	if sec < 0 {
		sec = 0
	}
	hours := sec / secInHour
	sec -= hours * secInHour
	minutes := sec / secInMinute
	sec -= minutes * secInMinute
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, sec)
}

// FormatSecondDuration renders a duration like "1 h. 2 m. 3 s.".
func FormatSecondDuration(sec int64) string {
	var b strings.Builder

	hours := sec / secInHour
	sec -= hours * secInHour
	if hours != 0 {
		fmt.Fprintf(&b, "%d h. ", hours)
	}

	minutes := sec / secInMinute
	sec -= minutes * secInMinute
	if minutes != 0 || hours != 0 {
		fmt.Fprintf(&b, "%d m. ", minutes)
	}

	fmt.Fprintf(&b, "%d s.", sec)
	return b.String()
}

// FormatDate renders the local date as YYYY-MM-DD, or "" for a zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02")
}

// FormatTime renders the local time as HH:MM:SS, or "" for a zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("15:04:05")
}

// FormatDateTime renders the local date and time, or "" for a zero time.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
