// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package ulua

import "sync/atomic"

// An Annotator observes every lock acquisition and release in the process.
// Locks are identified by opaque nonzero tokens that are stable for the
// life of the lock.
// The annotator exists to feed external race checkers the happens-before
// edges this package creates, since those edges are otherwise invisible
// to tooling that only instruments the standard sync primitives.
//
// Implementations must be safe for concurrent use and must not call back
// into this package.
type Annotator interface {
	// Acquire is called by the goroutine that acquired the lock
	// identified by addr, immediately after the acquisition.
	Acquire(addr uintptr)
	// Release is called by the goroutine releasing the lock identified
	// by addr, immediately before the release is published.
	Release(addr uintptr)
}

var annotator atomic.Pointer[Annotator]

// SetAnnotator directs every subsequent acquisition and release to a.
// Passing nil removes the current annotator.
// SetAnnotator is intended to be called during process startup, before
// any locks are contended; events that race with the change may be
// delivered to either annotator or dropped.
func SetAnnotator(a Annotator) {
	if a == nil {
		annotator.Store(nil)
		return
	}
	annotator.Store(&a)
}

func raceAcquire(id uintptr) {
	if p := annotator.Load(); p != nil {
		(*p).Acquire(id)
	}
}

func raceRelease(id uintptr) {
	if p := annotator.Load(); p != nil {
		(*p).Release(id)
	}
}
