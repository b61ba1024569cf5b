package utils

import (
	"errors"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	DefaultTimezone = "America/Chicago"

	// layout of an <input type="datetime-local"> value
	dateTimeLocalLayout        = "2006-01-02T15:04"
	dateTimeLocalSecondsLayout = "2006-01-02T15:04:05"
	displayLayout              = "January 2, 2006 at 3:04 PM MST"
)

var ErrInvalidDateTime = errors.New("invalid date and time")

// LoadLocation resolves an IANA zone name, falling back to fallback and then UTC.
func LoadLocation(tz, fallback string) *time.Location {
	for _, name := range []string{strings.TrimSpace(tz), fallback} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// ParsePickupTime accepts RFC3339 or a datetime-local value. A value
// without an offset is read as wall time in tz and returned in UTC.
func ParsePickupTime(raw, tz, fallback string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, ErrInvalidDateTime
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}

	loc := LoadLocation(tz, fallback)
	for _, layout := range []string{dateTimeLocalLayout, dateTimeLocalSecondsLayout} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidDateTime
}

// FormatInZone renders t for humans in the given zone.
func FormatInZone(t time.Time, tz string) string {
	return t.In(LoadLocation(tz, DefaultTimezone)).Format(displayLayout)
}
