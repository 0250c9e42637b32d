package trigger

import (
	"strconv"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// CronFallback is added to asOf when an expression cannot be parsed.
const CronFallback = time.Hour

// minuteHourParser checks the two honored fields for range and syntax. The
// day-of-month, month and day-of-week fields are never parsed, so values
// other schedulers accept there (L, W, #) are fine.
var minuteHourParser = cronlib.NewParser(cronlib.Minute | cronlib.Hour)

// NextCron computes the next run for a five-field cron expression.
//
// Only the minute and hour fields are honored; day-of-month, month and
// day-of-week must be present but are neither validated nor used. The candidate is today at hour:minute
// UTC, where a wildcard hour means the hour of asOf. If that is not after
// asOf, one hour is added when the hour field is a wildcard, otherwise one day.
//
// Any parse failure falls back to asOf + 1h. NextCron never fails.
func NextCron(expr string, asOf time.Time) time.Time {
	asOf = asOf.UTC()

	minute, hour, hourWildcard, ok := parseMinuteHour(expr)
	if !ok {
		return asOf.Add(CronFallback)
	}

	if hourWildcard {
		hour = asOf.Hour()
	}

	candidate := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), hour, minute, 0, 0, time.UTC)
	if !candidate.After(asOf) {
		if hourWildcard {
			candidate = candidate.Add(time.Hour)
		} else {
			candidate = candidate.AddDate(0, 0, 1)
		}
	}
	return candidate
}

// parseMinuteHour extracts the numeric minute and hour fields. The minute must
// be a plain number; the hour may also be "*".
func parseMinuteHour(expr string) (minute, hour int, hourWildcard, ok bool) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return 0, 0, false, false
	}
	if _, err := minuteHourParser.Parse(fields[0] + " " + fields[1]); err != nil {
		return 0, 0, false, false
	}

	minute, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, false, false
	}

	if fields[1] == "*" {
		return minute, 0, true, true
	}
	hour, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, false, false
	}
	return minute, hour, false, true
}
