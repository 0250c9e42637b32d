package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(h, m int) time.Time {
	return time.Date(2026, 3, 14, h, m, 0, 0, time.UTC)
}

func TestNextRunOneTime(t *testing.T) {
	runAt := day(12, 0)
	next := NextRun(OneTime(runAt), day(9, 0))
	require.NotNil(t, next)
	assert.True(t, next.Equal(runAt))

	// A past run time is returned as is
	next = NextRun(OneTime(runAt), day(15, 0))
	require.NotNil(t, next)
	assert.True(t, next.Equal(runAt))
}

func TestNextRunRecurring(t *testing.T) {
	asOf := day(10, 0)
	next := NextRun(Recurring(5*time.Minute), asOf)
	require.NotNil(t, next)
	assert.Equal(t, day(10, 5), *next)
}

func TestNextRunRecurringDriftsFromLateTick(t *testing.T) {
	// Tick processed 40s late: the next one is measured from the late tick
	lateTick := day(10, 5).Add(40 * time.Second)
	next := NextRun(Recurring(5*time.Minute), lateTick)
	require.NotNil(t, next)
	assert.Equal(t, day(10, 10).Add(40*time.Second), *next)
}

func TestNextRunUnknownType(t *testing.T) {
	assert.Nil(t, NextRun(Spec{Type: "Weekly"}, day(10, 0)))
}

func TestNextRunConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	asOf := time.Date(2026, 3, 14, 12, 0, 0, 0, loc) // 10:00 UTC

	next := NextRun(Recurring(time.Minute), asOf)
	require.NotNil(t, next)
	assert.Equal(t, time.UTC, next.Location())
	assert.Equal(t, day(10, 1), *next)
}

func TestNextCron(t *testing.T) {
	tests := []struct {
		name string
		expr string
		asOf time.Time
		want time.Time
	}{
		{
			name: "later today",
			expr: "30 9 * * *",
			asOf: day(8, 0),
			want: day(9, 30),
		},
		{
			name: "already passed rolls to tomorrow",
			expr: "30 9 * * *",
			asOf: day(10, 0),
			want: day(9, 30).AddDate(0, 0, 1),
		},
		{
			name: "exactly now rolls to tomorrow",
			expr: "30 9 * * *",
			asOf: day(9, 30),
			want: day(9, 30).AddDate(0, 0, 1),
		},
		{
			name: "wildcard hour later this hour",
			expr: "45 * * * *",
			asOf: day(10, 20),
			want: day(10, 45),
		},
		{
			name: "wildcard hour already passed adds one hour",
			expr: "15 * * * *",
			asOf: day(10, 20),
			want: day(11, 15),
		},
		{
			name: "day fields ignored",
			expr: "0 6 1 1 1",
			asOf: day(5, 0),
			want: day(6, 0),
		},
		{
			name: "day field syntax from other schedulers ignored",
			expr: "30 9 L * *",
			asOf: day(8, 0),
			want: day(9, 30),
		},
		{
			name: "out of range day fields ignored",
			expr: "0 6 32 13 9",
			asOf: day(5, 0),
			want: day(6, 0),
		},
		{
			name: "wrong field count falls back",
			expr: "30 9 * *",
			asOf: day(8, 0),
			want: day(9, 0),
		},
		{
			name: "non numeric minute falls back",
			expr: "*/5 9 * * *",
			asOf: day(8, 0),
			want: day(9, 0),
		},
		{
			name: "out of range hour falls back",
			expr: "0 25 * * *",
			asOf: day(8, 0),
			want: day(9, 0),
		},
		{
			name: "garbage falls back",
			expr: "not a cron",
			asOf: day(8, 0),
			want: day(9, 0),
		},
		{
			name: "empty falls back",
			expr: "",
			asOf: day(8, 0),
			want: day(9, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextCron(tt.expr, tt.asOf)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextCronIsDeterministic(t *testing.T) {
	asOf := day(8, 0)
	first := NextCron("30 9 * * *", asOf)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, NextCron("30 9 * * *", asOf))
	}
}

func TestNextCronMonthBoundary(t *testing.T) {
	asOf := time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC)
	got := NextCron("0 12 * * *", asOf)
	assert.Equal(t, time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC), got)
}

func TestTypeIsValid(t *testing.T) {
	assert.True(t, TypeOneTime.IsValid())
	assert.True(t, TypeRecurring.IsValid())
	assert.True(t, TypeCron.IsValid())
	assert.False(t, Type("Weekly").IsValid())
}
