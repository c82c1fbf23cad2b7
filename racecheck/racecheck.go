// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

// Package racecheck connects the per-state lock annotator to a dynamic
// race detector, declaring every acquisition and release as a
// happens-before edge.
// It exists for hosts whose locks guard memory the standard race
// instrumentation cannot see, such as interpreter state reached through
// foreign pointers.
package racecheck

import (
	"sync"

	"github.com/kolkov/racedetector/race"
	"ulua.256lights.llc/pkg"
)

// A Checker is an [ulua.Annotator] backed by the pure-Go race detector
// runtime.
type Checker struct {
	fini sync.Once
}

// New initializes the race detector runtime and returns a Checker.
// Call [Checker.Close] at process exit to finalize the runtime and print
// its report.
func New() *Checker {
	race.Init()
	return new(Checker)
}

// Enable initializes the race detector runtime and installs the returned
// Checker as the process-wide lock annotator.
func Enable() *Checker {
	c := New()
	ulua.SetAnnotator(c)
	return c
}

// Acquire declares that the lock identified by addr was acquired by the
// calling goroutine.
func (c *Checker) Acquire(addr uintptr) {
	race.RaceAcquire(addr)
}

// Release declares that the lock identified by addr is about to be
// released by the calling goroutine.
func (c *Checker) Release(addr uintptr) {
	race.RaceRelease(addr)
}

// Close removes the process-wide lock annotator and finalizes the
// detector runtime, printing its summary report.
// Close may be called more than once; only the first call finalizes.
func (c *Checker) Close() error {
	c.fini.Do(func() {
		ulua.SetAnnotator(nil)
		race.Fini()
	})
	return nil
}

// Read declares a read of the shared memory location addr to the
// detector runtime.
func Read(addr uintptr) {
	race.RaceRead(addr)
}

// Write declares a write of the shared memory location addr to the
// detector runtime.
func Write(addr uintptr) {
	race.RaceWrite(addr)
}

// Version returns the version of the underlying detector runtime.
func Version() string {
	return race.Version
}

// Algorithm returns the name of the detection algorithm in use.
func Algorithm() string {
	return race.GetInfo().Algorithm
}
