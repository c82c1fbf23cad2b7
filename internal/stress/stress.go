// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

// Package stress exercises per-state locking under configurable
// contention and verifies its guarantees:
// critical sections for one state never overlap,
// guarded counters lose no updates,
// and independent states proceed concurrently.
package stress

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"ulua.256lights.llc/pkg"
	"ulua.256lights.llc/pkg/threads"
	"zombiezen.com/go/log"
)

// API selects the locking surface a run drives.
type API string

// Defined locking surfaces.
const (
	// APIHooks drives the hook trio of a [ulua.Registry]:
	// explicit lock and unlock calls keyed by state handle.
	APIHooks API = "hooks"
	// APIGuarded drives scoped acquisitions of [ulua.Guarded] wrappers.
	APIGuarded API = "guarded"
)

// defaultSampleLimit bounds the number of wait samples a run retains
// when the config does not say otherwise.
const defaultSampleLimit = 4096

// Config describes one stress run.
type Config struct {
	// States is the number of independent interpreter states.
	States int `json:"states"`
	// Workers is the number of goroutines contending for each state.
	Workers int `json:"workers"`
	// Iterations is the number of critical sections each worker enters.
	// Zero means the run is bounded by Duration alone.
	Iterations int `json:"iterations,omitzero"`
	// Duration bounds the run in time.
	// If both Iterations and Duration are set,
	// workers stop at whichever limit they reach first.
	Duration time.Duration `json:"duration,omitzero,format:nano"`
	// Hold is an artificial delay inside each critical section.
	Hold time.Duration `json:"hold,omitzero,format:nano"`
	// Pause is an artificial delay between critical sections.
	Pause time.Duration `json:"pause,omitzero,format:nano"`
	// Spin yields the processor inside each critical section.
	Spin bool `json:"spin,omitzero"`
	// API selects the locking surface. An empty API means [APIHooks].
	API API `json:"api,omitzero"`
	// SampleLimit caps the number of retained wait samples.
	// Zero means a small default; negative disables sampling.
	SampleLimit int `json:"sampleLimit,omitzero"`
}

// Validate reports the first problem that makes the config unrunnable.
func (cfg *Config) Validate() error {
	switch {
	case cfg.States < 1:
		return fmt.Errorf("states is %d; need at least 1", cfg.States)
	case cfg.Workers < 1:
		return fmt.Errorf("workers is %d; need at least 1", cfg.Workers)
	case cfg.Iterations < 0:
		return fmt.Errorf("iterations is negative")
	case cfg.Iterations == 0 && cfg.Duration <= 0:
		return errors.New("neither iterations nor duration is set")
	case cfg.Hold < 0 || cfg.Pause < 0:
		return errors.New("negative delay")
	}
	switch cfg.API {
	case "", APIHooks, APIGuarded:
	default:
		return fmt.Errorf("unknown api %q", cfg.API)
	}
	return nil
}

// api returns the locking surface the config selects,
// resolving the empty default.
func (cfg *Config) api() API {
	if cfg.API == "" {
		return APIHooks
	}
	return cfg.API
}

// sampleLimit returns the number of wait samples to retain.
func (cfg *Config) sampleLimit() int {
	switch {
	case cfg.SampleLimit > 0:
		return cfg.SampleLimit
	case cfg.SampleLimit < 0:
		return 0
	default:
		return defaultSampleLimit
	}
}

// A stateCell holds the per-state bookkeeping a run maintains alongside
// the lock itself.
type stateCell struct {
	// inside counts goroutines currently in the state's critical
	// section. Any observation above 1 or below 0 is a violation.
	inside atomic.Int32
	// counter is guarded only by the state's lock.
	counter int64
}

type runner struct {
	cfg      *Config
	api      API
	deadline time.Time

	cells  []*stateCell
	reg    *ulua.Registry[int]
	guards []*ulua.Guarded[int64]

	// workerCounts[state][worker] is written once by its owning worker
	// after it stops.
	workerCounts [][]int64

	acquisitions atomic.Int64
	violations   atomic.Int64
	totalWait    atomic.Int64
	maxWait      atomic.Int64
	sampleIdx    atomic.Int64
	samples      []WaitSample
}

// Run performs one stress run and reports what it observed.
// Run returns an error only if cfg is invalid;
// an interrupted run yields a report with [OutcomeCanceled].
func Run(ctx context.Context, cfg *Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stress run: %w", err)
	}

	runID := uuid.New()
	rn := &runner{
		cfg:          cfg,
		api:          cfg.api(),
		cells:        make([]*stateCell, cfg.States),
		workerCounts: make([][]int64, cfg.States),
		samples:      make([]WaitSample, cfg.sampleLimit()),
	}
	for i := range rn.cells {
		rn.cells[i] = new(stateCell)
		rn.workerCounts[i] = make([]int64, cfg.Workers)
	}
	switch rn.api {
	case APIGuarded:
		rn.guards = make([]*ulua.Guarded[int64], cfg.States)
		for i := range rn.guards {
			rn.guards[i] = ulua.NewGuarded[int64](0)
		}
	default:
		rn.reg = new(ulua.Registry[int])
		for i := range cfg.States {
			rn.reg.InitLock(i)
		}
	}

	log.Debugf(ctx, "Starting stress run %v: %d states x %d workers (api=%s)",
		runID, cfg.States, cfg.Workers, rn.api)
	start := time.Now()
	if cfg.Duration > 0 {
		rn.deadline = start.Add(cfg.Duration)
	}
	err := threads.Each(ctx, cfg.States*cfg.Workers, 0, func(ctx context.Context, i int) error {
		return rn.worker(ctx, i/cfg.Workers, i%cfg.Workers)
	})
	elapsed := time.Since(start)
	canceled := err != nil
	if canceled && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("stress run %v: %w", runID, err)
	}

	rep := &Report{
		RunID:        runID,
		Start:        start,
		Elapsed:      elapsed,
		Config:       *cfg,
		Acquisitions: rn.acquisitions.Load(),
		Violations:   rn.violations.Load(),
		MaxWait:      time.Duration(rn.maxWait.Load()),
		TotalWait:    time.Duration(rn.totalWait.Load()),
		Rusage:       collectRusage(),
	}
	for i := range rn.cells {
		got := rn.counter(i)
		var want int64
		for _, n := range rn.workerCounts[i] {
			want += n
		}
		if got != want {
			rep.LostUpdates += abs(want - got)
		}
		rep.Counters = append(rep.Counters, got)
	}
	if n := min(rn.sampleIdx.Load(), int64(len(rn.samples))); n > 0 {
		rep.Samples = rn.samples[:n]
	}
	switch {
	case canceled:
		rep.Outcome = OutcomeCanceled
	case rep.Violations > 0 || rep.LostUpdates > 0:
		rep.Outcome = OutcomeFailed
	default:
		rep.Outcome = OutcomePassed
	}
	if rn.reg != nil {
		// The states are torn down once the run is over.
		for i := range cfg.States {
			rn.reg.Forget(i)
		}
	}

	log.Debugf(ctx, "Stress run %v %s: %d acquisitions, %d violations, %d lost updates in %v",
		runID, rep.Outcome, rep.Acquisitions, rep.Violations, rep.LostUpdates, elapsed)
	return rep, nil
}

func (rn *runner) worker(ctx context.Context, state, worker int) error {
	var local int64
	defer func() {
		rn.workerCounts[state][worker] = local
	}()

	for seq := int64(0); ; seq++ {
		if n := int64(rn.cfg.Iterations); n > 0 && seq >= n {
			return nil
		}
		if !rn.deadline.IsZero() && !time.Now().Before(rn.deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if rn.cfg.Pause > 0 {
			threads.Sleep(rn.cfg.Pause)
		}

		start := time.Now()
		switch rn.api {
		case APIGuarded:
			rn.guards[state].Do(func(n *int64) {
				rn.section(state, worker, seq, time.Since(start))
				*n++
			})
		default:
			rn.reg.Lock(state)
			rn.section(state, worker, seq, time.Since(start))
			rn.cells[state].counter++
			rn.reg.Unlock(state)
		}
		local++
	}
}

// section runs inside a critical section: it records the acquisition and
// probes for overlap with the state's witness counter.
func (rn *runner) section(state, worker int, seq int64, wait time.Duration) {
	rn.acquisitions.Add(1)
	rn.totalWait.Add(int64(wait))
	for {
		old := rn.maxWait.Load()
		if int64(wait) <= old || rn.maxWait.CompareAndSwap(old, int64(wait)) {
			break
		}
	}
	if idx := rn.sampleIdx.Add(1) - 1; idx < int64(len(rn.samples)) {
		rn.samples[idx] = WaitSample{State: state, Worker: worker, Seq: seq, Wait: wait}
	}

	cell := rn.cells[state]
	if n := cell.inside.Add(1); n > 1 {
		rn.violations.Add(1)
	}
	if rn.cfg.Hold > 0 {
		threads.Sleep(rn.cfg.Hold)
	}
	if rn.cfg.Spin {
		threads.YieldNow()
	}
	if n := cell.inside.Add(-1); n < 0 {
		rn.violations.Add(1)
	}
}

// counter returns the final value of a state's guarded counter.
// It must only be called after every worker has stopped.
func (rn *runner) counter(state int) int64 {
	if rn.api == APIGuarded {
		var got int64
		rn.guards[state].Do(func(n *int64) { got = *n })
		return got
	}
	return rn.cells[state].counter
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
