// Package registry keeps one job index per organization.
//
// The index is a denormalized, possibly stale copy of job state. Job actors
// push updates to it on a best-effort basis; the job itself stays the source
// of truth.
package registry

import (
	"sort"
	"time"

	"github.com/teranos/mise/pulse/schedule"
	"github.com/teranos/mise/pulse/trigger"
)

// Entry summarizes one job.
type Entry struct {
	JobID       string          `json:"job_id"`
	Name        string          `json:"name"`
	TriggerType trigger.Type    `json:"trigger_type"`
	Status      schedule.Status `json:"status"`
	NextRunAt   *time.Time      `json:"next_run_at,omitempty"`
	LastRunAt   *time.Time      `json:"last_run_at,omitempty"`
}

// State is the persisted registry of one organization.
type State struct {
	OrgID       string
	Initialized bool
	Entries     []Entry
	Version     int64
	UpdatedAt   time.Time
}

func (s *State) find(jobID string) int {
	for i := range s.Entries {
		if s.Entries[i].JobID == jobID {
			return i
		}
	}
	return -1
}

func (s *State) clone() *State {
	c := *s
	c.Entries = make([]Entry, len(s.Entries))
	for i, e := range s.Entries {
		c.Entries[i] = e.clone()
	}
	return &c
}

func (e Entry) clone() Entry {
	e.NextRunAt = cloneTime(e.NextRunAt)
	e.LastRunAt = cloneTime(e.LastRunAt)
	return e
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// sortByNextRun orders entries by NextRunAt, latest first. Entries without a
// next run sort last; ties keep registration order.
func sortByNextRun(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].NextRunAt, entries[j].NextRunAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}
