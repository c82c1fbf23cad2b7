// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

// Package ulua serializes access to embedded interpreter states shared by
// multiple goroutines.
//
// A host runtime invokes three hooks at fixed instrumentation points:
// [InitLock] exactly once when it opens a new interpreter state,
// then [Lock] and [Unlock] around every region that needs exclusive use of
// that state.
// The hooks correspond to the luai_userstateopen, lua_lock, and lua_unlock
// macros of a Lua interpreter's build configuration,
// but nothing in this package depends on the states being Lua states:
// a handle is any comparable value that identifies a state.
//
// The hooks have no error channel,
// because their call sites are macro expansions that cannot observe failure.
// Misuse (locking a handle that was never initialized, initializing a handle
// twice, or unlocking a handle that is not locked) panics rather than
// silently corrupting the shared state.
//
// Each state's lock is independent:
// holding one handle's lock never delays an acquisition of another's.
// Locks are not reentrant:
// a goroutine that calls [Lock] twice on the same handle without an
// intervening [Unlock] deadlocks.
// [Registry.LockContext] and [Registry.TryLock] are extensions layered
// beneath the hook contract for callers that need cancellation or
// non-blocking acquisition; the hooks themselves block unconditionally.
package ulua

import (
	"context"
	"sync"
)

// A Handle is an opaque reference to a single interpreter state, supplied
// by the host runtime to every hook call. Handles are compared only for
// identity: the dynamic type of a Handle must be comparable (typically a
// pointer type), or registry operations will panic.
type Handle any

// A Registry associates a mutual-exclusion lock with every interpreter
// state handle initialized in it.
// The zero value is an empty registry ready for use.
// A Registry must not be copied after first use.
//
// Locks live as long as the registry itself unless removed with
// [Registry.Forget]: the hook contract defines no teardown point, so a
// handle that is never forgotten keeps its lock for at least the state's
// lifetime and possibly the process's.
type Registry[H comparable] struct {
	mu     sync.Mutex
	states map[H]*stateLock
}

// InitLock associates a new unlocked lock with h.
// The host must call it exactly once per handle, after creating the state
// h refers to and before sharing h with other goroutines.
// After InitLock returns, [Registry.Lock] and [Registry.Unlock] are safe
// to call for h from any goroutine.
// InitLock panics if h has already been initialized.
func (r *Registry[H]) InitLock(h H) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[h]; ok {
		panic("state already initialized")
	}
	if r.states == nil {
		r.states = make(map[H]*stateLock)
	}
	r.states[h] = new(stateLock)
}

// get returns the lock for h, panicking if h was never initialized.
func (r *Registry[H]) get(h H) *stateLock {
	r.mu.Lock()
	st := r.states[h]
	r.mu.Unlock()
	if st == nil {
		panic("state not initialized")
	}
	return st
}

// Lock blocks the calling goroutine until it holds exclusive access to h.
// At most one goroutine holds a given handle's lock at any instant.
// No fairness or ordering among waiters is guaranteed.
// Lock panics if h was never initialized.
func (r *Registry[H]) Lock(h H) {
	r.get(h).lock()
}

// LockContext blocks like [Registry.Lock] until ctx.Done is closed,
// whichever happens first.
// It returns nil after acquiring the lock and ctx.Err() after abandoning
// the acquisition.
// LockContext panics if h was never initialized.
func (r *Registry[H]) LockContext(ctx context.Context, h H) error {
	return r.get(h).lockContext(ctx)
}

// TryLock acquires h's lock if no goroutine holds it,
// reporting whether it acquired.
// TryLock panics if h was never initialized.
func (r *Registry[H]) TryLock(h H) bool {
	return r.get(h).tryLock()
}

// Unlock releases exclusive access to h, waking at most one waiter.
// Unlock panics if h was never initialized or if h's lock is not held.
//
// The contract cannot detect a release performed by a goroutine other
// than the one that locked h; such a release is a logic error even when
// it does not panic.
func (r *Registry[H]) Unlock(h H) {
	if !r.get(h).unlock() {
		panic("unlock of unlocked state")
	}
}

// With runs f while holding h's lock,
// releasing the lock when f returns or panics.
// With panics if h was never initialized.
func (r *Registry[H]) With(h H, f func()) {
	r.Lock(h)
	defer r.Unlock(h)
	f()
}

// Held reports whether h's lock is currently held by some goroutine.
// The answer may be stale by the time Held returns; it is intended for
// diagnostics and tests.
// Held panics if h was never initialized.
func (r *Registry[H]) Held(h H) bool {
	return r.get(h).held()
}

// Forget removes the association between h and its lock so the lock can
// be collected. It is an extension for hosts that tear down interpreter
// states; nothing in the hook contract calls it.
// The caller must ensure no other goroutine uses h concurrently with or
// after Forget.
// Forget panics if h was never initialized or if h's lock is held.
func (r *Registry[H]) Forget(h H) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.states[h]
	if st == nil {
		panic("state not initialized")
	}
	if st.held() {
		panic("forget of locked state")
	}
	delete(r.states, h)
}

// Len returns the number of handles currently initialized in the registry.
func (r *Registry[H]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// DefaultRegistry is the registry used by the package-level hook functions.
var DefaultRegistry = new(Registry[Handle])

// InitLock associates a new unlocked lock with h in [DefaultRegistry].
// It is the hook a host invokes when it opens a new interpreter state.
func InitLock(h Handle) {
	DefaultRegistry.InitLock(h)
}

// Lock blocks the calling goroutine until it holds exclusive access to h.
// It is the hook a host invokes before any operation that requires
// exclusive use of the state.
func Lock(h Handle) {
	DefaultRegistry.Lock(h)
}

// Unlock releases exclusive access to h.
// It is the hook a host invokes after such an operation completes.
func Unlock(h Handle) {
	DefaultRegistry.Unlock(h)
}

// With runs f while holding h's lock in [DefaultRegistry],
// releasing the lock when f returns or panics.
func With(h Handle, f func()) {
	DefaultRegistry.With(h, f)
}
