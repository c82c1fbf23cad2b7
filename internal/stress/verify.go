// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package stress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ulua.256lights.llc/pkg"
	"zombiezen.com/go/log"
)

// A PropertyResult is the outcome of one verification property.
type PropertyResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitzero"`
}

// A VerifyReport collects the results of every verification property.
type VerifyReport struct {
	Passed  bool             `json:"passed"`
	Results []PropertyResult `json:"results"`
}

// Verify checks the locking guarantees one property at a time with small
// fixed workloads.
// Failed properties are reported in the result;
// Verify returns an error only if ctx is canceled before the checks
// complete.
func Verify(ctx context.Context) (*VerifyReport, error) {
	checks := []struct {
		name string
		f    func(ctx context.Context) (string, error)
	}{
		{"uncontended lock/unlock", checkUncontended},
		{"mutual exclusion", checkMutualExclusion},
		{"sequential pairs", checkSequentialPairs},
		{"independent states", checkIndependentStates},
		{"no lost updates", checkNoLostUpdates},
		{"release then reacquire", checkReacquire},
		{"guarded wrapper", checkGuarded},
	}

	rep := &VerifyReport{Passed: true}
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		detail, err := check.f(ctx)
		result := PropertyResult{Name: check.name, Passed: err == nil, Detail: detail}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.Detail = err.Error()
			rep.Passed = false
			log.Warnf(ctx, "Property %q failed: %v", check.name, err)
		}
		rep.Results = append(rep.Results, result)
	}
	return rep, nil
}

// runProperty performs a run for a property check,
// requiring it to run to completion.
func runProperty(ctx context.Context, cfg *Config) (*Report, error) {
	rep, err := Run(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if rep.Outcome == OutcomeCanceled {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("run canceled")
	}
	return rep, nil
}

func checkUncontended(ctx context.Context) (string, error) {
	rep, err := runProperty(ctx, &Config{States: 1, Workers: 1, Iterations: 1})
	if err != nil {
		return "", err
	}
	if rep.Outcome != OutcomePassed {
		return "", fmt.Errorf("%d violations, %d lost updates", rep.Violations, rep.LostUpdates)
	}
	return fmt.Sprintf("1 acquisition in %v", rep.Elapsed), nil
}

func checkMutualExclusion(ctx context.Context) (string, error) {
	rep, err := runProperty(ctx, &Config{States: 1, Workers: 8, Iterations: 2500, Spin: true})
	if err != nil {
		return "", err
	}
	if rep.Violations > 0 {
		return "", fmt.Errorf("%d overlapping critical sections in %d acquisitions",
			rep.Violations, rep.Acquisitions)
	}
	return fmt.Sprintf("%d acquisitions, no overlap", rep.Acquisitions), nil
}

func checkSequentialPairs(ctx context.Context) (string, error) {
	const pairs = 10000
	rep, err := runProperty(ctx, &Config{States: 1, Workers: 1, Iterations: pairs})
	if err != nil {
		return "", err
	}
	if rep.Acquisitions != pairs {
		return "", fmt.Errorf("completed %d of %d pairs", rep.Acquisitions, pairs)
	}
	return fmt.Sprintf("%d pairs in %v", pairs, rep.Elapsed), nil
}

func checkIndependentStates(ctx context.Context) (string, error) {
	r := new(ulua.Registry[int])
	r.InitLock(1)
	r.InitLock(2)
	r.Lock(1)
	defer r.Unlock(1)

	acquireCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	start := time.Now()
	if err := r.LockContext(acquireCtx, 2); err != nil {
		return "", fmt.Errorf("second state unavailable while first held: %w", err)
	}
	r.Unlock(2)
	return fmt.Sprintf("second state acquired in %v while first held", time.Since(start)), nil
}

func checkNoLostUpdates(ctx context.Context) (string, error) {
	const workers, iterations = 8, 10000
	rep, err := runProperty(ctx, &Config{States: 1, Workers: workers, Iterations: iterations})
	if err != nil {
		return "", err
	}
	want := int64(workers) * iterations
	if got := rep.Counters[0]; got != want {
		return "", fmt.Errorf("counter = %d; want %d", got, want)
	}
	return fmt.Sprintf("counter = %d after %d workers x %d increments", want, workers, iterations), nil
}

func checkReacquire(ctx context.Context) (string, error) {
	r := new(ulua.Registry[int])
	r.InitLock(1)
	r.Lock(1)
	r.Unlock(1)
	if !r.TryLock(1) {
		return "", errors.New("could not reacquire immediately after release")
	}
	r.Unlock(1)
	return "reacquired immediately after release", nil
}

func checkGuarded(ctx context.Context) (string, error) {
	const workers, iterations = 8, 10000
	rep, err := runProperty(ctx, &Config{States: 1, Workers: workers, Iterations: iterations, API: APIGuarded})
	if err != nil {
		return "", err
	}
	want := int64(workers) * iterations
	if got := rep.Counters[0]; got != want || rep.Violations > 0 {
		return "", fmt.Errorf("counter = %d (want %d), %d violations", got, want, rep.Violations)
	}
	return fmt.Sprintf("counter = %d through scoped acquisitions", want), nil
}
