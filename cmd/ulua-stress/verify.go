// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"ulua.256lights.llc/pkg/internal/stress"
)

type verifyOptions struct {
	jsonFormat bool
}

func newVerifyCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "verify [options]",
		Short:                 "check the locking guarantees",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(verifyOptions)
	c.Flags().BoolVar(&opts.jsonFormat, "json", false, "print the results as JSON")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runVerify(cmd.Context(), opts)
	}
	return c
}

func runVerify(ctx context.Context, opts *verifyOptions) error {
	report, err := stress.Verify(ctx)
	if err != nil {
		return err
	}

	if opts.jsonFormat {
		if err := writeJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		buf := new(bytes.Buffer)
		for _, result := range report.Results {
			if result.Passed {
				fmt.Fprintf(buf, "ok   %s\n", result.Name)
			} else {
				fmt.Fprintf(buf, "FAIL %s: %s\n", result.Name, result.Detail)
			}
		}
		os.Stdout.Write(buf.Bytes())
	}

	if !report.Passed {
		return errors.New("verification failed")
	}
	return nil
}
