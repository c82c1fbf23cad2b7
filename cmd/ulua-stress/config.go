// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/tailscale/hujson"
	"ulua.256lights.llc/pkg/internal/soakdb"
)

type globalConfig struct {
	Debug     bool   `json:"debug"`
	HistoryDB string `json:"historyDB"`
}

func defaultGlobalConfig() *globalConfig {
	g := new(globalConfig)
	if dir := dataDir(); dir != "" {
		g.HistoryDB = filepath.Join(dir, "ulua-stress", "history.db")
	}
	return g
}

func (g *globalConfig) mergeEnvironment() error {
	if path := os.Getenv("ULUA_STRESS_HISTORY_DB"); path != "" {
		g.HistoryDB = path
	}
	return nil
}

func (g *globalConfig) mergeFiles(paths iter.Seq[string]) error {
	for path := range paths {
		huJSONData, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		jsonData, err := hujson.Standardize(huJSONData)
		if err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
		if err := jsonv2.Unmarshal(jsonData, g, jsonv2.RejectUnknownMembers(false)); err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
	}

	return nil
}

// UnmarshalJSONFrom unmarshals the configuration object from the JSON decoder,
// merging any fields in the JSON object with existing values.
func (g *globalConfig) UnmarshalJSONFrom(in *jsontext.Decoder) error {
	tok, err := in.ReadToken()
	if err != nil {
		return err
	}
	if got := tok.Kind(); got != '{' {
		return fmt.Errorf("config must be an object not a %v", got)
	}

	for {
		keyToken, err := in.ReadToken()
		if err != nil {
			return err
		}
		switch kind := keyToken.Kind(); kind {
		case '}':
			return nil
		case '"':
			// Keep going.
		default:
			return fmt.Errorf("unexpected non-string key (%v) in object", kind)
		}

		switch k := keyToken.String(); k {
		case "debug":
			if err := jsonv2.UnmarshalDecode(in, &g.Debug); err != nil {
				return fmt.Errorf("unmarshal config.debug: %w", err)
			}
		case "historyDB":
			if err := jsonv2.UnmarshalDecode(in, &g.HistoryDB); err != nil {
				return fmt.Errorf("unmarshal config.historyDB: %w", err)
			}
		default:
			if reject, _ := jsonv2.GetOption(in.Options(), jsonv2.RejectUnknownMembers); reject {
				return fmt.Errorf("unmarshal config: unknown field %q", k)
			}
			if err := in.SkipValue(); err != nil {
				return fmt.Errorf("unmarshal config: skip field %q: %w", k, err)
			}
		}
	}
}

func (g *globalConfig) validate() error {
	if g.HistoryDB == "" {
		return fmt.Errorf("history database not set (pass --history-db or set ULUA_STRESS_HISTORY_DB)")
	}

	return nil
}

// openStore opens the local run history database,
// creating its parent directory as needed.
func (g *globalConfig) openStore() (*soakdb.Store, error) {
	if err := os.MkdirAll(filepath.Dir(g.HistoryDB), 0o755); err != nil {
		return nil, err
	}
	return soakdb.Open(g.HistoryDB), nil
}

// configFiles returns the paths to search for configuration files
// in increasing order of preference.
func configFiles() iter.Seq[string] {
	return func(yield func(string) bool) {
		for dir := range systemConfigDirs() {
			if !yield(filepath.Join(dir, "ulua-stress", "config.jwcc")) {
				return
			}
		}
	}
}
