// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package ulua

import "context"

// A Guarded owns a state value together with the lock that guards it,
// so the state is only reachable through an acquisition.
// It is the composition-based alternative to a [Registry]:
// instead of associating a lock with an opaque handle in a side table,
// the wrapper holds both, and [Guarded.Do] converts the manual
// lock/unlock pairing of the hook contract into a scoped acquisition
// that cannot leak the lock.
//
// The zero value is an unlocked Guarded around the zero value of S.
// A Guarded must not be copied after first use.
type Guarded[S any] struct {
	lk    stateLock
	state S
}

// NewGuarded returns a Guarded that owns state.
func NewGuarded[S any](state S) *Guarded[S] {
	return &Guarded[S]{state: state}
}

// Do runs f on the guarded state while holding the lock,
// releasing the lock when f returns or panics.
// f must not retain its argument after returning.
func (g *Guarded[S]) Do(f func(*S)) {
	g.lk.lock()
	defer g.Unlock()
	f(&g.state)
}

// DoContext runs f on the guarded state while holding the lock,
// unless ctx.Done is closed before the lock is acquired.
// It returns ctx.Err() if the acquisition was abandoned and f's error
// otherwise.
// f must not retain its argument after returning.
func (g *Guarded[S]) DoContext(ctx context.Context, f func(*S) error) error {
	if err := g.lk.lockContext(ctx); err != nil {
		return err
	}
	defer g.Unlock()
	return f(&g.state)
}

// TryDo runs f on the guarded state if the lock can be acquired without
// blocking, reporting whether f ran.
// f must not retain its argument after returning.
func (g *Guarded[S]) TryDo(f func(*S)) bool {
	if !g.lk.tryLock() {
		return false
	}
	defer g.Unlock()
	f(&g.state)
	return true
}

// Lock blocks until the calling goroutine holds the lock,
// then returns the guarded state.
// Lock and [Guarded.Unlock] are the separate entry points a hook-style
// host requires; the returned pointer must not be used after the
// matching Unlock.
// Prefer [Guarded.Do], which cannot unbalance the pairing.
func (g *Guarded[S]) Lock() *S {
	g.lk.lock()
	return &g.state
}

// Unlock releases the lock acquired by [Guarded.Lock].
// Unlock panics if the lock is not held.
func (g *Guarded[S]) Unlock() {
	if !g.lk.unlock() {
		panic("unlock of unlocked state")
	}
}

// Held reports whether the lock is currently held by some goroutine.
// The answer may be stale by the time Held returns.
func (g *Guarded[S]) Held() bool {
	return g.lk.held()
}
