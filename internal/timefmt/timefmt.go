// Package timefmt turns the assorted time values found on orders
// (ISO datetimes, "HH:MM", "8:30 p. m.", native times) into a 24-hour
// "HH:MM" clock string.
package timefmt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const clockLayout = "15:04"

var (
	// Already canonical: 24-hour, zero-padded.
	clockRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

	// A date prefix means the value is a full datetime.
	datePrefixRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]`)

	// H:MM or HH:MM followed by anything (seconds, "hrs", ...).
	leadingClockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})`)

	// am/pm marker anywhere, standing alone as a word and tolerating dots
	// and spaces: "pm", "p.m.", "p. m.", "8pm hs".
	meridiemRe = regexp.MustCompile(`(?i)(?:^|[^a-z])([ap])\s*\.?\s*m(?:[^a-z]|$)`)

	// Hour with optional minutes and seconds, as left before the marker.
	meridiemClockRe = regexp.MustCompile(`^(\d{1,2})(?:\s*[:.]\s*(\d{2})(?:\s*:\s*(\d{2}))?)?$`)
)

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Normalize converts v to a canonical "HH:MM" string in loc.
//
// Strings already in canonical form are returned as-is. Unrecognised
// non-empty strings are passed through unchanged; callers that need a real
// clock value should check the result with IsClock. The bool is false only
// when nothing usable was given (nil, empty, unsupported type).
func Normalize(v any, loc *time.Location) (string, bool) {
	if loc == nil {
		loc = time.Local
	}

	switch val := v.(type) {
	case nil:
		return "", false
	case time.Time:
		if val.IsZero() {
			return "", false
		}
		return val.In(loc).Format(clockLayout), true
	case *time.Time:
		if val == nil || val.IsZero() {
			return "", false
		}
		return val.In(loc).Format(clockLayout), true
	case string:
		return normalizeString(val, loc)
	case fmt.Stringer:
		return normalizeString(val.String(), loc)
	}
	return "", false
}

func normalizeString(raw string, loc *time.Location) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	if clockRe.MatchString(s) {
		return s, true
	}

	if datePrefixRe.MatchString(s) {
		if t, ok := ParseDateTime(s, loc); ok {
			return t.Format(clockLayout), true
		}
	}

	// The marker check runs before the leading-clock match so that
	// "8:30 pm" is not read as 08:30.
	if idx := meridiemRe.FindStringSubmatchIndex(s); idx != nil {
		if hhmm, ok := parseMeridiem(s[:idx[0]], s[idx[2]:idx[3]]); ok {
			return hhmm, true
		}
	} else if m := leadingClockRe.FindStringSubmatch(s); m != nil {
		if hhmm, ok := clock(m[1], m[2]); ok {
			return hhmm, true
		}
	}

	return raw, true
}

// parseMeridiem converts "8:30" + "p" into "20:30". Seconds are checked
// and dropped.
func parseMeridiem(body, marker string) (string, bool) {
	m := meridiemClockRe.FindStringSubmatch(strings.TrimSpace(body))
	if m == nil {
		return "", false
	}
	h, err := strconv.Atoi(m[1])
	if err != nil || h < 1 || h > 12 {
		return "", false
	}
	mins := 0
	if m[2] != "" {
		mins, err = strconv.Atoi(m[2])
		if err != nil || mins > 59 {
			return "", false
		}
	}
	if m[3] != "" {
		if secs, err := strconv.Atoi(m[3]); err != nil || secs > 59 {
			return "", false
		}
	}

	pm := strings.EqualFold(marker, "p")
	switch {
	case !pm && h == 12:
		h = 0
	case pm && h < 12:
		h += 12
	}
	return fmt.Sprintf("%02d:%02d", h, mins), true
}

func clock(hs, ms string) (string, bool) {
	h, err := strconv.Atoi(hs)
	if err != nil || h > 23 {
		return "", false
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}

// ParseDateTime parses a combined date+time string. Values without a zone
// are read in loc; the result is always expressed in loc.
func ParseDateTime(s string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	if !datePrefixRe.MatchString(s) {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

// IsClock reports whether s is a canonical 24-hour "HH:MM".
func IsClock(s string) bool {
	return clockRe.MatchString(s)
}

// ClockOn places the canonical clock s on the calendar day of day, in day's location.
func ClockOn(s string, day time.Time) (time.Time, bool) {
	if !IsClock(s) {
		return time.Time{}, false
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, 0, 0, day.Location()), true
}

// FormatMinutes renders a minute count as "45m" or "1h 5m".
func FormatMinutes(m int) string {
	if m < 0 {
		m = 0
	}
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", m/60, m%60)
}
