// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package stress

import (
	"context"
	"os"
	"testing"
	"time"

	"ulua.256lights.llc/pkg/internal/testcontext"
	"zombiezen.com/go/log/testlog"
)

func TestRun(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "SingleWorker",
			cfg:  Config{States: 1, Workers: 1, Iterations: 100},
		},
		{
			name: "Contended",
			cfg:  Config{States: 1, Workers: 8, Iterations: 500, Spin: true},
		},
		{
			name: "MultipleStates",
			cfg:  Config{States: 4, Workers: 4, Iterations: 250},
		},
		{
			name: "Guarded",
			cfg:  Config{States: 2, Workers: 4, Iterations: 500, API: APIGuarded},
		},
		{
			name: "WithHold",
			cfg:  Config{States: 1, Workers: 4, Iterations: 5, Hold: time.Millisecond},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx, cancel := testcontext.New(t)
			defer cancel()

			rep, err := Run(ctx, &test.cfg)
			if err != nil {
				t.Fatal("Run:", err)
			}
			if rep.Outcome != OutcomePassed {
				t.Errorf("outcome = %q; want %q", rep.Outcome, OutcomePassed)
			}
			if rep.Violations != 0 {
				t.Errorf("violations = %d; want 0", rep.Violations)
			}
			if rep.LostUpdates != 0 {
				t.Errorf("lost updates = %d; want 0", rep.LostUpdates)
			}
			wantAcquisitions := int64(test.cfg.States) * int64(test.cfg.Workers) * int64(test.cfg.Iterations)
			if rep.Acquisitions != wantAcquisitions {
				t.Errorf("acquisitions = %d; want %d", rep.Acquisitions, wantAcquisitions)
			}
			if got, want := len(rep.Counters), test.cfg.States; got != want {
				t.Fatalf("len(counters) = %d; want %d", got, want)
			}
			perState := int64(test.cfg.Workers) * int64(test.cfg.Iterations)
			for i, n := range rep.Counters {
				if n != perState {
					t.Errorf("counters[%d] = %d; want %d", i, n, perState)
				}
			}
			if len(rep.Samples) == 0 {
				t.Error("no wait samples retained")
			}
			if rep.RunID.String() == "00000000-0000-0000-0000-000000000000" {
				t.Error("run ID is the zero UUID")
			}
		})
	}
}

func TestRunDuration(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	cfg := &Config{States: 1, Workers: 4, Duration: 100 * time.Millisecond}
	rep, err := Run(ctx, cfg)
	if err != nil {
		t.Fatal("Run:", err)
	}
	if rep.Outcome != OutcomePassed {
		t.Errorf("outcome = %q; want %q", rep.Outcome, OutcomePassed)
	}
	if rep.Acquisitions == 0 {
		t.Error("no acquisitions in a 100ms run")
	}
	if rep.Elapsed < 100*time.Millisecond {
		t.Errorf("run lasted %v; want at least 100ms", rep.Elapsed)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	ctx, cancelRun := context.WithCancel(ctx)
	cancelRun()

	rep, err := Run(ctx, &Config{States: 1, Workers: 2, Duration: time.Minute})
	if err != nil {
		t.Fatal("Run:", err)
	}
	if rep.Outcome != OutcomeCanceled {
		t.Errorf("outcome = %q; want %q", rep.Outcome, OutcomeCanceled)
	}
}

func TestRunSampleLimit(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	rep, err := Run(ctx, &Config{States: 1, Workers: 2, Iterations: 100, SampleLimit: 10})
	if err != nil {
		t.Fatal("Run:", err)
	}
	if got := len(rep.Samples); got != 10 {
		t.Errorf("retained %d samples; want 10", got)
	}

	rep, err = Run(ctx, &Config{States: 1, Workers: 1, Iterations: 10, SampleLimit: -1})
	if err != nil {
		t.Fatal("Run:", err)
	}
	if got := len(rep.Samples); got != 0 {
		t.Errorf("retained %d samples with sampling disabled; want 0", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"Iterations", Config{States: 1, Workers: 1, Iterations: 1}, false},
		{"Duration", Config{States: 1, Workers: 1, Duration: time.Second}, false},
		{"Both", Config{States: 1, Workers: 1, Iterations: 1, Duration: time.Second}, false},
		{"GuardedAPI", Config{States: 1, Workers: 1, Iterations: 1, API: APIGuarded}, false},
		{"Zero", Config{}, true},
		{"NoStates", Config{Workers: 1, Iterations: 1}, true},
		{"NoWorkers", Config{States: 1, Iterations: 1}, true},
		{"NoBound", Config{States: 1, Workers: 1}, true},
		{"NegativeIterations", Config{States: 1, Workers: 1, Iterations: -1}, true},
		{"NegativeHold", Config{States: 1, Workers: 1, Iterations: 1, Hold: -time.Second}, true},
		{"UnknownAPI", Config{States: 1, Workers: 1, Iterations: 1, API: "mystery"}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.cfg.Validate()
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Errorf("Validate() = %v; want error %t", err, test.wantErr)
			}
		})
	}
}

func TestMain(m *testing.M) {
	testlog.Main(nil)
	os.Exit(m.Run())
}
