package db

import (
	"database/sql"
	"time"

	"github.com/teranos/mise/errors"
)

// TimeLayout is the fixed-width UTC layout used for every timestamp column.
// Fixed width keeps lexicographic order equal to chronological order, so
// range queries like "due_at <= ?" work on TEXT columns.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime formats t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid timestamp %q", s)
	}
	return t, nil
}

// NullTime formats an optional time for a nullable column.
func NullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// ParseNullTime parses a nullable timestamp column.
func ParseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
