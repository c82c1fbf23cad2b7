// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"

	"ulua.256lights.llc/pkg/internal/stress"
)

// apiFlag is the implementation of [github.com/spf13/pflag.Value]
// for selecting a [stress.API].
type apiFlag stress.API

func (f *apiFlag) Type() string  { return "string" }
func (f apiFlag) String() string { return string(f) }
func (f apiFlag) Get() any       { return stress.API(f) }

func (f *apiFlag) Set(s string) error {
	switch api := stress.API(s); api {
	case stress.APIHooks, stress.APIGuarded:
		*f = apiFlag(api)
		return nil
	default:
		return fmt.Errorf("invalid api %q (must be %q or %q)", s, stress.APIHooks, stress.APIGuarded)
	}
}
