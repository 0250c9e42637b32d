package db

import (
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimeRoundTrip(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	in := time.Date(2026, 3, 14, 11, 30, 0, 500, loc)

	out, err := ParseTime(FormatTime(in))
	require.NoError(t, err)
	assert.True(t, out.Equal(in))
	assert.Equal(t, time.UTC, out.Location())
}

func TestFormatTimeSortsChronologically(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	times := []time.Time{
		base.Add(500 * time.Millisecond),
		base,
		base.Add(-time.Nanosecond),
		base.Add(time.Second),
	}

	formatted := make([]string, len(times))
	for i, tm := range times {
		formatted[i] = FormatTime(tm)
	}
	sort.Strings(formatted)

	assert.Equal(t, FormatTime(base.Add(-time.Nanosecond)), formatted[0])
	assert.Equal(t, FormatTime(base), formatted[1])
	assert.Equal(t, FormatTime(base.Add(500*time.Millisecond)), formatted[2])
	assert.Equal(t, FormatTime(base.Add(time.Second)), formatted[3])
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	_, err := ParseTime("yesterday")
	assert.Error(t, err)
}

func TestNullTime(t *testing.T) {
	assert.Nil(t, NullTime(nil))

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-14T09:30:00.000000000Z", NullTime(&now))

	parsed, err := ParseNullTime(sql.NullString{})
	require.NoError(t, err)
	assert.Nil(t, parsed)

	parsed, err = ParseNullTime(sql.NullString{String: FormatTime(now), Valid: true})
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.True(t, parsed.Equal(now))
}
