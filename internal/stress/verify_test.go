// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package stress

import (
	"context"
	"testing"

	"ulua.256lights.llc/pkg/internal/testcontext"
)

func TestVerify(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping verification workloads in short mode")
	}
	ctx, cancel := testcontext.New(t)
	defer cancel()

	rep, err := Verify(ctx)
	if err != nil {
		t.Fatal("Verify:", err)
	}
	if !rep.Passed {
		t.Error("verification did not pass")
	}
	wantNames := []string{
		"uncontended lock/unlock",
		"mutual exclusion",
		"sequential pairs",
		"independent states",
		"no lost updates",
		"release then reacquire",
		"guarded wrapper",
	}
	if got, want := len(rep.Results), len(wantNames); got != want {
		t.Fatalf("got %d results; want %d", got, want)
	}
	for i, result := range rep.Results {
		if result.Name != wantNames[i] {
			t.Errorf("results[%d].Name = %q; want %q", i, result.Name, wantNames[i])
		}
		if !result.Passed {
			t.Errorf("property %q failed: %s", result.Name, result.Detail)
		}
		if result.Detail == "" {
			t.Errorf("property %q has no detail", result.Name)
		}
	}
}

func TestVerifyCanceled(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	ctx, cancelVerify := context.WithCancel(ctx)
	cancelVerify()

	if _, err := Verify(ctx); err == nil {
		t.Error("Verify on a canceled context did not return an error")
	}
}
