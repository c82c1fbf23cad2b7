// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"ulua.256lights.llc/pkg/internal/soakdb"
	"ulua.256lights.llc/pkg/internal/stress"
	"ulua.256lights.llc/pkg/internal/stressapi"
	"zombiezen.com/go/log"
)

type historyOptions struct {
	n          int
	remote     string
	jsonFormat bool
}

func newHistoryCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "history [options]",
		Short:                 "list recent stress runs",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(historyOptions)
	c.PersistentFlags().StringVar(&opts.remote, "remote", "", "`url` of a history server to query instead of the local database")
	c.Flags().IntVarP(&opts.n, "count", "n", 20, "maximum `number` of runs to list")
	c.Flags().BoolVar(&opts.jsonFormat, "json", false, "print the runs as JSON")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd.Context(), g, opts)
	}
	c.AddCommand(
		newHistoryShowCommand(g, opts),
		newHistoryTraceCommand(g, opts),
	)
	return c
}

func (opts *historyOptions) remoteClient() (*stressapi.Client, error) {
	u, err := url.Parse(opts.remote)
	if err != nil {
		return nil, fmt.Errorf("remote url: %v", err)
	}
	return &stressapi.Client{URL: u}, nil
}

func runHistory(ctx context.Context, g *globalConfig, opts *historyOptions) error {
	var summaries []soakdb.RunSummary
	if opts.remote != "" {
		client, err := opts.remoteClient()
		if err != nil {
			return err
		}
		summaries, err = client.RecentRuns(ctx, opts.n)
		if err != nil {
			return err
		}
	} else {
		store, err := g.openStore()
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Errorf(ctx, "%v", err)
			}
		}()
		summaries, err = store.RecentRuns(ctx, opts.n)
		if err != nil {
			return err
		}
	}

	if opts.jsonFormat {
		return writeJSON(os.Stdout, summaries)
	}
	buf := new(bytes.Buffer)
	for _, s := range summaries {
		fmt.Fprintf(buf, "%v  %s  %-8s  %v", s.RunID, s.Start.Local().Format(time.DateTime), s.Outcome, s.Elapsed.Round(time.Millisecond))
		if s.Violations > 0 || s.LostUpdates > 0 {
			fmt.Fprintf(buf, "  (%d violations, %d lost updates)", s.Violations, s.LostUpdates)
		}
		if len(s.Labels) > 0 {
			fmt.Fprintf(buf, "  [%s]", strings.Join(s.Labels, ", "))
		}
		buf.WriteByte('\n')
	}
	_, err := os.Stdout.Write(buf.Bytes())
	return err
}

func newHistoryShowCommand(g *globalConfig, hist *historyOptions) *cobra.Command {
	c := &cobra.Command{
		Use:                   "show [options] RUN",
		Short:                 "show a recorded run",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	jsonFormat := c.Flags().Bool("json", false, "print the run as JSON")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("run id %q: %v", args[0], err)
		}
		return runHistoryShow(cmd.Context(), g, hist, id, *jsonFormat)
	}
	return c
}

func runHistoryShow(ctx context.Context, g *globalConfig, hist *historyOptions, id uuid.UUID, jsonFormat bool) error {
	var record *soakdb.RunRecord
	if hist.remote != "" {
		client, err := hist.remoteClient()
		if err != nil {
			return err
		}
		record, err = client.Run(ctx, id)
		if err != nil {
			return err
		}
	} else {
		store, err := g.openStore()
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Errorf(ctx, "%v", err)
			}
		}()
		record, err = store.Run(ctx, id)
		if err != nil {
			return err
		}
	}

	if jsonFormat {
		return writeJSON(os.Stdout, record)
	}
	printReport(&record.Report, record.Labels)
	return nil
}

func newHistoryTraceCommand(g *globalConfig, hist *historyOptions) *cobra.Command {
	c := &cobra.Command{
		Use:                   "trace [options] RUN",
		Short:                 "dump the wait samples of a recorded run",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	outputPath := c.Flags().StringP("output", "o", "", "output `file` (defaults to stdout)")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("run id %q: %v", args[0], err)
		}

		var output io.WriteCloser
		if *outputPath == "" || *outputPath == "-" {
			output = nopWriteCloser{os.Stdout}
		} else {
			output, err = os.Create(*outputPath)
			if err != nil {
				return err
			}
		}
		return runHistoryTrace(cmd.Context(), g, hist, id, output)
	}
	return c
}

func runHistoryTrace(ctx context.Context, g *globalConfig, hist *historyOptions, id uuid.UUID, output io.WriteCloser) error {
	closeFunc := sync.OnceValue(output.Close)
	defer closeFunc()

	var samples []stress.WaitSample
	if hist.remote != "" {
		client, err := hist.remoteClient()
		if err != nil {
			return err
		}
		samples, err = client.Trace(ctx, id)
		if err != nil {
			return err
		}
	} else {
		store, err := g.openStore()
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Errorf(ctx, "%v", err)
			}
		}()
		samples, err = store.Trace(ctx, id)
		if err != nil {
			return err
		}
	}

	if err := writeJSON(output, samples); err != nil {
		return err
	}
	return closeFunc()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
