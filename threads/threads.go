// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

// Package threads provides goroutine helpers for hosts that drive
// interpreter states from multiple workers:
// fire-and-join spawning in the style of an OS thread library,
// and bounded concurrent fanout with error collection.
package threads

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// A Thread is a goroutine started by [Spawn] that can be joined.
type Thread struct {
	done chan struct{}
}

// Spawn runs f on a new goroutine and returns a Thread that completes
// when f returns.
// A panic in f crashes the process, as it would on a bare goroutine.
func Spawn(f func()) *Thread {
	t := &Thread{done: make(chan struct{})}
	go func() {
		defer close(t.done)
		f()
	}()
	return t
}

// Done returns a channel that is closed once the thread's function has
// returned.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the thread's function has returned.
// It may be called any number of times from any goroutine.
func (t *Thread) Wait() {
	<-t.done
}

// Join waits for every thread in the list.
func Join(threads ...*Thread) {
	for _, t := range threads {
		t.Wait()
	}
}

// Each runs f(ctx, 0) through f(ctx, n-1) concurrently,
// at most limit invocations at a time (nonpositive limit means no bound),
// and waits for all of them.
// The context passed to f is canceled once any invocation returns a
// non-nil error; Each returns the first such error.
func Each(ctx context.Context, n, limit int, f func(ctx context.Context, i int) error) error {
	grp, grpCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		grp.SetLimit(limit)
	}
	for i := range n {
		grp.Go(func() error {
			return f(grpCtx, i)
		})
	}
	return grp.Wait()
}

// Sleep pauses the calling goroutine for at least the duration d.
// It mirrors the sleep call of an OS thread library so harness code can
// be written against this package alone.
func Sleep(d time.Duration) {
	time.Sleep(d)
}

// YieldNow yields the processor, allowing other goroutines to run.
func YieldNow() {
	runtime.Gosched()
}
