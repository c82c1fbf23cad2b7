// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package soakdb

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"ulua.256lights.llc/pkg/internal/stress"
	"ulua.256lights.llc/pkg/internal/testcontext"
	"zombiezen.com/go/log/testlog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := Open(filepath.Join(t.TempDir(), "history.db"))
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Error("close store:", err)
		}
	})
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)

	rep := &stress.Report{
		RunID:   uuid.MustParse("71a61281-0ed6-4b93-b76c-c86dcb0467f0"),
		Start:   time.Date(2025, time.March, 14, 9, 26, 53, 589793238, time.UTC),
		Elapsed: 1250 * time.Millisecond,
		Config: stress.Config{
			States:     2,
			Workers:    4,
			Iterations: 500,
			Hold:       10 * time.Microsecond,
		},
		Outcome:      stress.OutcomePassed,
		Acquisitions: 4000,
		MaxWait:      3 * time.Millisecond,
		TotalWait:    800 * time.Millisecond,
		Counters:     []int64{2000, 2000},
		Rusage: &stress.Rusage{
			MaxRSSKiB:  20480,
			UserTime:   900 * time.Millisecond,
			SystemTime: 120 * time.Millisecond,
		},
		Samples: []stress.WaitSample{
			{State: 0, Worker: 1, Seq: 7, Wait: 42 * time.Microsecond},
			{State: 1, Worker: 3, Seq: 9, Wait: 1500 * time.Microsecond},
		},
	}
	labels := []string{"nightly", "linux-amd64"}
	if err := store.RecordRun(ctx, rep, labels); err != nil {
		t.Fatal(err)
	}

	got, err := store.Run(ctx, rep.RunID)
	if err != nil {
		t.Fatal(err)
	}
	want := *rep
	want.Samples = nil
	if diff := cmp.Diff(&want, &got.Report); diff != "" {
		t.Errorf("report (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(labels, got.Labels); diff != "" {
		t.Errorf("labels (-want +got):\n%s", diff)
	}

	trace, err := store.Trace(ctx, rep.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rep.Samples, trace); diff != "" {
		t.Errorf("trace (-want +got):\n%s", diff)
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)

	id := uuid.MustParse("87a4fbde-adf3-44f4-a686-d20dfcc2062b")
	if _, err := store.Run(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Run(%v) error = %v; want %v", id, err, ErrNotFound)
	}
	if _, err := store.Trace(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Trace(%v) error = %v; want %v", id, err, ErrNotFound)
	}
}

func TestStoreTraceAbsent(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)

	rep := &stress.Report{
		RunID:   uuid.MustParse("c56cbb02-bbbb-4b02-a7cb-a47f62593a47"),
		Start:   time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC),
		Config:  stress.Config{States: 1, Workers: 1, Iterations: 1},
		Outcome: stress.OutcomePassed,
	}
	if err := store.RecordRun(ctx, rep, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Trace(ctx, rep.RunID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Trace(%v) error = %v; want %v", rep.RunID, err, ErrNotFound)
	}
}

func TestRecentRuns(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)

	base := time.Date(2025, time.July, 2, 8, 0, 0, 0, time.UTC)
	reports := []*stress.Report{
		{
			RunID:        uuid.MustParse("62127b01-3884-42b0-a428-b1626e1b6dd1"),
			Start:        base,
			Elapsed:      time.Second,
			Config:       stress.Config{States: 1, Workers: 8, Iterations: 1000},
			Outcome:      stress.OutcomePassed,
			Acquisitions: 8000,
		},
		{
			RunID:        uuid.MustParse("3de0568a-2b57-4d68-a24e-6adcbabe9217"),
			Start:        base.Add(time.Minute),
			Elapsed:      2 * time.Second,
			Config:       stress.Config{States: 1, Workers: 8, Iterations: 1000},
			Outcome:      stress.OutcomeFailed,
			Acquisitions: 8000,
			Violations:   2,
		},
		{
			RunID:        uuid.MustParse("f0becf08-f95c-4b6f-97a8-8b721e54c7c4"),
			Start:        base.Add(2 * time.Minute),
			Elapsed:      time.Second,
			Config:       stress.Config{States: 1, Workers: 8, Iterations: 1000},
			Outcome:      stress.OutcomePassed,
			Acquisitions: 8000,
		},
	}
	labels := [][]string{nil, {"ci"}, nil}
	for i, rep := range reports {
		if err := store.RecordRun(ctx, rep, labels[i]); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []RunSummary{
		{
			RunID:        reports[2].RunID,
			Start:        reports[2].Start,
			Elapsed:      reports[2].Elapsed,
			Outcome:      stress.OutcomePassed,
			Acquisitions: 8000,
		},
		{
			RunID:        reports[1].RunID,
			Start:        reports[1].Start,
			Elapsed:      reports[1].Elapsed,
			Outcome:      stress.OutcomeFailed,
			Acquisitions: 8000,
			Violations:   2,
			Labels:       []string{"ci"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("recent runs (-want +got):\n%s", diff)
	}
}

func TestStoreStressRun(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	store := newTestStore(t)

	rep, err := stress.Run(ctx, &stress.Config{States: 1, Workers: 2, Iterations: 200})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.RecordRun(ctx, rep, nil); err != nil {
		t.Fatal(err)
	}

	got, err := store.Run(ctx, rep.RunID)
	if err != nil {
		t.Fatal(err)
	}
	want := *rep
	want.Samples = nil
	if diff := cmp.Diff(&want, &got.Report); diff != "" {
		t.Errorf("report (-want +got):\n%s", diff)
	}
}

func TestMain(m *testing.M) {
	testlog.Main(nil)
	os.Exit(m.Run())
}
