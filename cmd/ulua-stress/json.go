// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package main

import (
	"io"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"golang.org/x/term"
)

// writeJSON marshals v to w followed by a newline.
// Output going to a terminal is indented for reading.
func writeJSON(w io.Writer, v any) error {
	var opts []jsonv2.Options
	if f, ok := w.(interface{ Fd() uintptr }); ok && term.IsTerminal(int(f.Fd())) {
		opts = append(opts, jsontext.WithIndent("  "))
	}
	if err := jsonv2.MarshalWrite(w, v, opts...); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
