// Package timefmt parses and renders the human-oriented time formats used in
// project documents: "XdXhXm" durations, "Jan 02, 2006 03:04PM" datetimes,
// and "03:04PM" clock times. The remote service speaks RFC 3339; documents
// speak these friendlier forms, so both directions of the sync need to
// convert.
package timefmt

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DatetimeLayout is the canonical document rendering of a deadline.
const DatetimeLayout = "Jan 02, 2006 03:04PM"

// ClockLayout is the canonical document rendering of a time-of-day setting.
const ClockLayout = "03:04PM"

var durationRe = regexp.MustCompile(`^\s*(?:(\d+)\s*d)?\s*(?:(\d+)\s*h)?\s*(?:(\d+)\s*m)?\s*$`)

// ParseDuration parses a duration in the "XdXhXm" form used by relative
// deadline cutoffs. Each component is optional; the empty string is zero.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf(`expected a duration in the form "XdXhXm", got %q`, s)
	}
	days, _ := strconv.Atoi(zeroIfEmpty(m[1]))
	hours, _ := strconv.Atoi(zeroIfEmpty(m[2]))
	minutes, _ := strconv.Atoi(zeroIfEmpty(m[3]))
	return time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute, nil
}

// FormatDuration renders a duration in the "XdXhXm" form, omitting zero
// components. The zero duration renders as the empty string, matching the
// parse side.
func FormatDuration(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	out := ""
	if days != 0 {
		out += fmt.Sprintf("%dd", days)
	}
	if hours != 0 {
		out += fmt.Sprintf("%dh", hours)
	}
	if minutes != 0 {
		out += fmt.Sprintf("%dm", minutes)
	}
	return out
}

// datetimeLayouts are tried in order when parsing a datetime from a document
// or from the remote service.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	DatetimeLayout,
	"Jan 2, 2006 03:04PM",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDatetime parses a datetime in any accepted layout, interpreting
// zone-less forms in loc.
func ParseDatetime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime format: %q", s)
}

// FormatDatetime renders a datetime in the canonical document layout,
// shifted into loc.
func FormatDatetime(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DatetimeLayout)
}

var clockLayouts = []string{ClockLayout, "3:04PM", "15:04:05", "15:04"}

// ParseClock parses a time-of-day value such as "12:00AM" or "08:00:00".
func ParseClock(s string) (time.Time, error) {
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}

// FormatClock renders a time-of-day value in the canonical document layout.
func FormatClock(t time.Time) string {
	return t.Format(ClockLayout)
}

// LoadTimezone validates an IANA timezone name and returns its location.
func LoadTimezone(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("expected a string naming a timezone")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unrecognized timezone %q", name)
	}
	return loc, nil
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
