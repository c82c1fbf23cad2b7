// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

//go:build unix

package stress

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

func collectRusage() *Rusage {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return nil
	}
	maxRSS := int64(ru.Maxrss)
	if runtime.GOOS == "darwin" || runtime.GOOS == "ios" {
		// ru_maxrss is bytes on darwin and kilobytes elsewhere.
		maxRSS /= 1 << 10
	}
	return &Rusage{
		MaxRSSKiB:  maxRSS,
		UserTime:   time.Duration(ru.Utime.Nano()),
		SystemTime: time.Duration(ru.Stime.Nano()),
	}
}
