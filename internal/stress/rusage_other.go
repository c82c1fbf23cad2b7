// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

//go:build !unix

package stress

func collectRusage() *Rusage {
	return nil
}
