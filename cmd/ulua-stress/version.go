// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"ulua.256lights.llc/pkg/racecheck"
)

// cliVersion is the version string filled in by the linker (e.g. "1.2.3").
var cliVersion string

func newVersionCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "version",
		Short:                 "show version information",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runVersion(cmd.Context())
	}
	return c
}

func runVersion(ctx context.Context) error {
	firstLine := "ulua-stress"
	if cliVersion == "" {
		firstLine += " (version unknown)"
	} else {
		firstLine += " version " + cliVersion
	}

	fmt.Printf("%s\nSystem:       %s/%s\nCPUs:         %d\n", firstLine, runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	fmt.Printf("Race checker: %s (library version %s)\n", racecheck.Algorithm(), racecheck.Version())

	return nil
}

type versionFlag struct{}

func (vf versionFlag) String() string     { return "false" }
func (vf versionFlag) Type() string       { return "bool" }
func (vf versionFlag) IsBoolFlag() bool   { return true }
func (vf versionFlag) Set(v string) error { return errShowVersion }

var errShowVersion = errors.New("--version flag passed")
