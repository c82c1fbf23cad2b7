// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"ulua.256lights.llc/pkg/internal/stress"
	"ulua.256lights.llc/pkg/racecheck"
	"zombiezen.com/go/log"
)

type runOptions struct {
	config     stress.Config
	labels     []string
	race       bool
	noRecord   bool
	jsonFormat bool
}

func newRunCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "run [options]",
		Short:                 "run a lock stress scenario",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := &runOptions{
		config: stress.Config{
			States:     1,
			Workers:    8,
			Iterations: 10000,
		},
	}
	c.Flags().IntVar(&opts.config.States, "states", opts.config.States, "`number` of independent states")
	c.Flags().IntVar(&opts.config.Workers, "workers", opts.config.Workers, "`number` of workers contending for each state")
	c.Flags().IntVar(&opts.config.Iterations, "iterations", opts.config.Iterations, "`number` of critical sections per worker (0 to run until --duration)")
	c.Flags().DurationVar(&opts.config.Duration, "duration", 0, "wall-clock `time` limit for the run")
	c.Flags().DurationVar(&opts.config.Hold, "hold", 0, "`time` to hold each lock")
	c.Flags().DurationVar(&opts.config.Pause, "pause", 0, "`time` to sleep between critical sections")
	c.Flags().BoolVar(&opts.config.Spin, "spin", false, "yield the processor inside each critical section")
	c.Flags().Var((*apiFlag)(&opts.config.API), "api", "locking API to exercise (hooks or guarded)")
	c.Flags().IntVar(&opts.config.SampleLimit, "sample-limit", 0, "maximum `number` of wait samples to keep (-1 to disable sampling)")
	c.Flags().StringArrayVar(&opts.labels, "label", nil, "`label` to attach to the recorded run (can be passed multiple times)")
	c.Flags().BoolVar(&opts.race, "race", false, "report lock transitions to the race checker")
	c.Flags().BoolVar(&opts.noRecord, "no-record", false, "skip recording the run in the history database")
	c.Flags().BoolVar(&opts.jsonFormat, "json", false, "print the report as JSON")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runRun(cmd.Context(), g, opts)
	}
	return c
}

func runRun(ctx context.Context, g *globalConfig, opts *runOptions) error {
	if opts.race {
		checker := racecheck.Enable()
		defer func() {
			if err := checker.Close(); err != nil {
				log.Errorf(ctx, "%v", err)
			}
		}()
	}

	rep, err := stress.Run(ctx, &opts.config)
	if err != nil {
		return err
	}

	if !opts.noRecord {
		store, err := g.openStore()
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Errorf(ctx, "%v", err)
			}
		}()
		if err := store.RecordRun(ctx, rep, opts.labels); err != nil {
			return err
		}
		log.Debugf(ctx, "Recorded run %v", rep.RunID)
	}

	if opts.jsonFormat {
		if err := writeJSON(os.Stdout, rep); err != nil {
			return err
		}
	} else {
		printReport(rep, opts.labels)
	}

	switch rep.Outcome {
	case stress.OutcomeFailed:
		return fmt.Errorf("run %v failed: %d mutual exclusion violations, %d lost updates", rep.RunID, rep.Violations, rep.LostUpdates)
	case stress.OutcomeCanceled:
		return context.Cause(ctx)
	}
	return nil
}

func printReport(rep *stress.Report, labels []string) {
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "Run:          %v\n", rep.RunID)
	fmt.Fprintf(buf, "Started:      %s\n", rep.Start.Local().Format(time.DateTime))
	fmt.Fprintf(buf, "Outcome:      %s\n", rep.Outcome)
	fmt.Fprintf(buf, "Elapsed:      %v\n", rep.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(buf, "Acquisitions: %d\n", rep.Acquisitions)
	fmt.Fprintf(buf, "Violations:   %d\n", rep.Violations)
	fmt.Fprintf(buf, "Lost updates: %d\n", rep.LostUpdates)
	fmt.Fprintf(buf, "Max wait:     %v\n", rep.MaxWait)
	fmt.Fprintf(buf, "Mean wait:    %v\n", rep.MeanWait())
	if ru := rep.Rusage; ru != nil {
		fmt.Fprintf(buf, "Max RSS:      %d KiB\n", ru.MaxRSSKiB)
		fmt.Fprintf(buf, "CPU time:     %v user, %v system\n", ru.UserTime.Round(time.Millisecond), ru.SystemTime.Round(time.Millisecond))
	}
	if len(labels) > 0 {
		fmt.Fprintf(buf, "Labels:       %s\n", strings.Join(labels, ", "))
	}
	os.Stdout.Write(buf.Bytes())
}
