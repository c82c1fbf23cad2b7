// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package stress

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how a run ended.
type Outcome string

// Defined run outcomes.
const (
	// OutcomePassed is the outcome of a run that completed without
	// observing overlapping critical sections or lost updates.
	OutcomePassed Outcome = "passed"
	// OutcomeFailed is the outcome of a run that observed at least one
	// overlapping critical section or lost update.
	OutcomeFailed Outcome = "failed"
	// OutcomeCanceled is the outcome of a run that was interrupted
	// before it completed.
	OutcomeCanceled Outcome = "canceled"
)

// IsFinished reports whether the outcome indicates the run ran to
// completion.
func (o Outcome) IsFinished() bool {
	return o == OutcomePassed || o == OutcomeFailed
}

// A Report summarizes one stress run.
type Report struct {
	RunID        uuid.UUID     `json:"runId"`
	Start        time.Time     `json:"start"`
	Elapsed      time.Duration `json:"elapsed,format:nano"`
	Config       Config        `json:"config"`
	Outcome      Outcome       `json:"outcome"`
	Acquisitions int64         `json:"acquisitions"`
	Violations   int64         `json:"violations"`
	LostUpdates  int64         `json:"lostUpdates"`
	MaxWait      time.Duration `json:"maxWait,format:nano"`
	TotalWait    time.Duration `json:"totalWait,format:nano"`

	// Counters holds the final value of each state's guarded counter.
	Counters []int64 `json:"counters"`

	// Rusage is filled on platforms that can report process resource
	// usage and nil elsewhere.
	Rusage *Rusage `json:"rusage,omitzero"`

	// Samples holds per-acquisition wait times, capped at the config's
	// sample limit. It is large and is persisted separately from the
	// rest of the report.
	Samples []WaitSample `json:"-"`
}

// MeanWait returns the average time an acquisition waited for its lock.
func (r *Report) MeanWait() time.Duration {
	if r.Acquisitions == 0 {
		return 0
	}
	return r.TotalWait / time.Duration(r.Acquisitions)
}

// A WaitSample records how long one acquisition waited for its lock.
type WaitSample struct {
	State  int           `json:"state"`
	Worker int           `json:"worker"`
	Seq    int64         `json:"seq"`
	Wait   time.Duration `json:"wait,format:nano"`
}

// Rusage is a snapshot of process resource usage taken when a run ends.
type Rusage struct {
	MaxRSSKiB  int64         `json:"maxRssKiB"`
	UserTime   time.Duration `json:"userTime,format:nano"`
	SystemTime time.Duration `json:"systemTime,format:nano"`
}
