package utils

import (
	"fmt"
	"time"
)

// DateFormat is the ISO calendar date layout used in storage and on the wire.
const DateFormat = "2006-01-02"

// ParseDate parses an ISO calendar date into a UTC midnight time.
func ParseDate(dateStr string) (time.Time, error) {
	t, err := time.ParseInLocation(DateFormat, dateStr, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s', expected YYYY-MM-DD: %w", dateStr, err)
	}
	return t, nil
}

// FormatDate renders the calendar date of t. The zero time renders as "".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateFormat)
}

// DateOnly truncates t to UTC midnight of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	return FormatDate(a) == FormatDate(b)
}
