// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package ulua

import (
	"context"
	"sync"
	"sync/atomic"
)

// lockIDs allocates the identity tokens reported to [Annotator]
// implementations. Token zero is never allocated.
var lockIDs atomic.Uintptr

// A stateLock is the mutual-exclusion lock for a single interpreter state.
// The lock is held while c is non-nil; c is closed on release, waking any
// waiters to race for a fresh acquisition. The zero value is an unlocked
// stateLock.
type stateLock struct {
	mu sync.Mutex
	c  chan struct{}
	id uintptr
}

// acquire marks st as held. The caller must hold st.mu and must have
// checked that st.c is nil. It returns st's identity token.
func (st *stateLock) acquire() uintptr {
	st.c = make(chan struct{})
	if st.id == 0 {
		st.id = lockIDs.Add(1)
	}
	return st.id
}

// lock blocks until the calling goroutine holds st exclusively.
func (st *stateLock) lock() {
	for {
		st.mu.Lock()
		if st.c == nil {
			id := st.acquire()
			st.mu.Unlock()
			raceAcquire(id)
			return
		}
		released := st.c
		st.mu.Unlock()
		<-released
	}
}

// lockContext blocks until the calling goroutine holds st exclusively
// or ctx.Done is closed, whichever happens first.
func (st *stateLock) lockContext(ctx context.Context) error {
	for {
		st.mu.Lock()
		if st.c == nil {
			id := st.acquire()
			st.mu.Unlock()
			raceAcquire(id)
			return nil
		}
		released := st.c
		st.mu.Unlock()
		select {
		case <-released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tryLock acquires st if no goroutine holds it,
// reporting whether it acquired.
func (st *stateLock) tryLock() bool {
	st.mu.Lock()
	if st.c != nil {
		st.mu.Unlock()
		return false
	}
	id := st.acquire()
	st.mu.Unlock()
	raceAcquire(id)
	return true
}

// unlock releases st, reporting whether it was held.
func (st *stateLock) unlock() bool {
	st.mu.Lock()
	if st.c == nil {
		st.mu.Unlock()
		return false
	}
	raceRelease(st.id)
	close(st.c)
	st.c = nil
	st.mu.Unlock()
	return true
}

// held reports whether some goroutine holds st.
func (st *stateLock) held() bool {
	st.mu.Lock()
	h := st.c != nil
	st.mu.Unlock()
	return h
}
