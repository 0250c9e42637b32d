// Package trigger computes when a scheduled job should next run.
//
// Three trigger kinds are supported:
//   - OneTime: a fixed UTC timestamp
//   - Recurring: a fixed interval measured from the tick that was just processed
//   - Cron: a five-field expression of which only minute and hour are honored
//
// All computation is in UTC and every function here is pure.
package trigger

import (
	"time"
)

// Type identifies the kind of trigger a job uses.
type Type string

const (
	TypeOneTime   Type = "OneTime"
	TypeRecurring Type = "Recurring"
	TypeCron      Type = "Cron"
)

// IsValid reports whether t is one of the known trigger types.
func (t Type) IsValid() bool {
	switch t {
	case TypeOneTime, TypeRecurring, TypeCron:
		return true
	default:
		return false
	}
}

// Spec is the rule for when a job runs. Only the field matching Type is used.
type Spec struct {
	Type           Type          `json:"trigger_type"`
	RunAt          time.Time     `json:"run_at,omitempty"`
	Interval       time.Duration `json:"interval,omitempty"`
	CronExpression string        `json:"cron_expression,omitempty"`
}

// OneTime returns a spec that fires once at runAt.
func OneTime(runAt time.Time) Spec {
	return Spec{Type: TypeOneTime, RunAt: runAt.UTC()}
}

// Recurring returns a spec that fires every interval.
func Recurring(interval time.Duration) Spec {
	return Spec{Type: TypeRecurring, Interval: interval}
}

// Cron returns a spec driven by a cron expression.
func Cron(expr string) Spec {
	return Spec{Type: TypeCron, CronExpression: expr}
}

// NextRun returns the next run time for spec as of asOf, or nil when the spec
// has no next run (unknown trigger type).
//
// Recurring is relative to asOf, the moment the previous tick was processed, so
// a late tick shifts every later tick. There is no catch-up toward the
// original cadence.
func NextRun(spec Spec, asOf time.Time) *time.Time {
	asOf = asOf.UTC()

	var next time.Time
	switch spec.Type {
	case TypeOneTime:
		next = spec.RunAt.UTC()
	case TypeRecurring:
		next = asOf.Add(spec.Interval)
	case TypeCron:
		next = NextCron(spec.CronExpression, asOf)
	default:
		return nil
	}
	return &next
}
