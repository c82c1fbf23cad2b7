// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package threads

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ulua.256lights.llc/pkg"
)

func TestSpawn(t *testing.T) {
	var ran atomic.Bool
	th := Spawn(func() { ran.Store(true) })
	th.Wait()
	if !ran.Load() {
		t.Error("thread function did not run before Wait returned")
	}

	// Wait is idempotent and Done stays closed.
	th.Wait()
	select {
	case <-th.Done():
	default:
		t.Error("Done() not closed after Wait")
	}
}

func TestJoin(t *testing.T) {
	var n atomic.Int32
	var threads []*Thread
	for range 5 {
		threads = append(threads, Spawn(func() { n.Add(1) }))
	}
	Join(threads...)
	if got := n.Load(); got != 5 {
		t.Errorf("%d thread functions ran; want 5", got)
	}
}

func TestEach(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sum := ulua.NewGuarded(0)
	err := Each(ctx, 100, 8, func(ctx context.Context, i int) error {
		sum.Do(func(n *int) { *n += i })
		return nil
	})
	if err != nil {
		t.Fatal("Each:", err)
	}
	var got int
	sum.Do(func(n *int) { got = *n })
	if want := 100 * 99 / 2; got != want {
		t.Errorf("sum = %d; want %d", got, want)
	}
}

func TestEachError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wantErr := errors.New("sentinel")
	var canceled atomic.Int32
	err := Each(ctx, 8, 0, func(ctx context.Context, i int) error {
		if i == 3 {
			return wantErr
		}
		select {
		case <-ctx.Done():
			canceled.Add(1)
		case <-time.After(5 * time.Second):
		}
		return nil
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Each error = %v; want %v", err, wantErr)
	}
	if canceled.Load() == 0 {
		t.Error("no invocation observed cancellation after the error")
	}
}

func TestEachLimit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const limit = 3
	var running, peak atomic.Int32
	err := Each(ctx, 20, limit, func(ctx context.Context, i int) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		YieldNow()
		running.Add(-1)
		return nil
	})
	if err != nil {
		t.Fatal("Each:", err)
	}
	if got := peak.Load(); got > limit {
		t.Errorf("observed %d concurrent invocations; want at most %d", got, limit)
	}
}

func TestSleep(t *testing.T) {
	start := time.Now()
	Sleep(10 * time.Millisecond)
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Sleep returned after %v; want at least 10ms", elapsed)
	}
}
