// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package ulua

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistry(t *testing.T) {
	// Prevent this test from blocking for more than 10 seconds.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := new(Registry[int])
	r.InitLock(1)
	r.InitLock(2)
	if got, want := r.Len(), 2; got != want {
		t.Errorf("Len() = %d; want %d", got, want)
	}

	r.Lock(1)
	if !r.Held(1) {
		t.Error("Held(1) = false while holding 1")
	}

	// Verify that an independent handle can be acquired while 1 is held.
	if err := r.LockContext(ctx, 2); err != nil {
		t.Fatal("LockContext(ctx, 2) while holding 1 failed:", err)
	}

	// Verify that a second acquisition of 1 blocks until Done.
	failFastCtx, cancelFailFast := context.WithTimeout(ctx, 100*time.Millisecond)
	err := r.LockContext(failFastCtx, 1)
	cancelFailFast()
	if err == nil {
		t.Error("LockContext(ctx, 1) acquired without an unlock")
	}
	if r.TryLock(1) {
		t.Error("TryLock(1) acquired without an unlock")
	}

	// Verify that releasing 1 allows a subsequent acquisition.
	r.Unlock(1)
	if r.Held(1) {
		t.Error("Held(1) = true after Unlock(1)")
	}
	if !r.TryLock(1) {
		t.Error("TryLock(1) after Unlock(1) failed")
	}
	r.Unlock(1)

	// Verify that releasing 2 wakes a concurrent acquirer.
	lock2Done := make(chan error)
	go func() {
		lock2Done <- r.LockContext(ctx, 2)
	}()
	// Wait for a little bit to make it more likely that the other goroutine
	// is waiting on 2.
	timer := time.NewTimer(10 * time.Millisecond)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}
	r.Unlock(2)
	if err := <-lock2Done; err != nil {
		t.Error("LockContext(ctx, 2) with concurrent Unlock(2) failed:", err)
	}
	r.Unlock(2)
}

func TestMutualExclusion(t *testing.T) {
	const goroutines = 8
	const iterations = 2500

	r := new(Registry[string])
	r.InitLock("L")

	// inside counts goroutines currently in the critical section.
	// It must never be observed above 1 or below 0.
	var inside, violations atomic.Int32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				r.Lock("L")
				if n := inside.Add(1); n > 1 {
					violations.Add(1)
				}
				if n := inside.Add(-1); n < 0 {
					violations.Add(1)
				}
				r.Unlock("L")
			}
		}()
	}
	wg.Wait()
	if n := violations.Load(); n > 0 {
		t.Errorf("observed %d overlapping critical sections", n)
	}
}

func TestNoLostUpdates(t *testing.T) {
	const goroutines = 8
	const iterations = 10000

	h := new(int)
	r := new(Registry[*int])
	r.InitLock(h)

	// n is guarded only by h's lock.
	n := 0
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				r.Lock(h)
				n++
				r.Unlock(h)
			}
		}()
	}
	wg.Wait()
	if want := goroutines * iterations; n != want {
		t.Errorf("counter = %d; want %d", n, want)
	}
}

func TestSequentialReacquire(t *testing.T) {
	r := new(Registry[int])
	r.InitLock(7)

	// An uncontended lock/unlock pair must never deadlock,
	// no matter how many precede it.
	for range 1000 {
		r.Lock(7)
		r.Unlock(7)
	}

	// Releasing a lock permits the releasing goroutine to reacquire it
	// immediately.
	r.Lock(7)
	r.Unlock(7)
	if !r.TryLock(7) {
		t.Error("TryLock(7) immediately after Unlock(7) failed")
	}
	r.Unlock(7)
}

func TestWith(t *testing.T) {
	r := new(Registry[int])
	r.InitLock(1)

	entered := false
	r.With(1, func() {
		entered = true
		if !r.Held(1) {
			t.Error("Held(1) = false inside With")
		}
	})
	if !entered {
		t.Error("With did not call f")
	}
	if r.Held(1) {
		t.Error("Held(1) = true after With returned")
	}

	// The lock must be released even if f panics.
	func() {
		defer func() { recover() }()
		r.With(1, func() { panic("kaboom") })
	}()
	if r.Held(1) {
		t.Error("Held(1) = true after panic inside With")
	}
}

func TestForget(t *testing.T) {
	r := new(Registry[int])
	r.InitLock(1)
	r.Lock(1)
	r.Unlock(1)
	r.Forget(1)
	if got, want := r.Len(), 0; got != want {
		t.Errorf("Len() after Forget = %d; want %d", got, want)
	}

	// A forgotten handle may be initialized anew.
	r.InitLock(1)
	if !r.TryLock(1) {
		t.Error("TryLock(1) after reinitialization failed")
	}
	r.Unlock(1)
}

func TestMisusePanics(t *testing.T) {
	tests := []struct {
		name string
		f    func(r *Registry[int])
	}{
		{"LockUninitialized", func(r *Registry[int]) { r.Lock(1) }},
		{"UnlockUninitialized", func(r *Registry[int]) { r.Unlock(1) }},
		{"TryLockUninitialized", func(r *Registry[int]) { r.TryLock(1) }},
		{"HeldUninitialized", func(r *Registry[int]) { r.Held(1) }},
		{"ForgetUninitialized", func(r *Registry[int]) { r.Forget(1) }},
		{"DoubleInit", func(r *Registry[int]) { r.InitLock(1); r.InitLock(1) }},
		{"UnlockUnlocked", func(r *Registry[int]) { r.InitLock(1); r.Unlock(1) }},
		{"UnlockTwice", func(r *Registry[int]) { r.InitLock(1); r.Lock(1); r.Unlock(1); r.Unlock(1) }},
		{"ForgetLocked", func(r *Registry[int]) { r.InitLock(1); r.Lock(1); r.Forget(1) }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("no panic")
				}
			}()
			test.f(new(Registry[int]))
		})
	}
}

func TestNonComparableHandle(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("no panic for a slice-typed handle")
		}
	}()
	InitLock([]int{1})
}

func TestDefaultRegistry(t *testing.T) {
	const goroutines = 4
	const iterations = 1000

	h := new(int)
	InitLock(h)
	defer DefaultRegistry.Forget(h)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				Lock(h)
				*h++
				Unlock(h)
			}
		}()
	}
	wg.Wait()

	got := 0
	With(h, func() { got = *h })
	if want := goroutines * iterations; got != want {
		t.Errorf("counter = %d; want %d", got, want)
	}
}
