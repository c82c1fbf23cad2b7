// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

// Package soakdb stores the history of stress runs in a SQLite database.
package soakdb

import (
	"bytes"
	"compress/flate"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"ulua.256lights.llc/pkg/internal/stress"
	"zombiezen.com/go/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrNotFound is returned when a requested run is not in the store.
var ErrNotFound = errors.New("run not found")

// traceFormat names the encoding of trace blobs written by this version
// of the store.
const traceFormat = "json+deflate"

// A Store records and retrieves stress runs.
// It is safe for concurrent use.
type Store struct {
	pool *sqlitemigration.Pool
}

// Open returns a store backed by the SQLite database at path,
// creating and migrating the database as needed.
// The returned store must be closed with [Store.Close].
func Open(path string) *Store {
	return &Store{
		pool: sqlitemigration.NewPool(path, loadSchema(), sqlitemigration.Options{
			Flags:       sqlite.OpenCreate | sqlite.OpenReadWrite,
			PrepareConn: prepareConn,
			OnStartMigrate: func() {
				ctx := context.Background()
				log.Debugf(ctx, "Migrating run history database...")
			},
			OnReady: func() {
				ctx := context.Background()
				log.Debugf(ctx, "Run history database ready")
			},
			OnError: func(err error) {
				ctx := context.Background()
				log.Errorf(ctx, "Run history migration: %v", err)
			},
		}),
	}
}

// Close releases the store's database connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

// RecordRun inserts a run report and its wait samples into the store.
func (s *Store) RecordRun(ctx context.Context, rep *stress.Report, labels []string) (err error) {
	conn, err := s.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("record run %v: %w", rep.RunID, err)
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	configJSON, err := jsonv2.Marshal(&rep.Config)
	if err != nil {
		return fmt.Errorf("record run %v: config: %w", rep.RunID, err)
	}
	countersJSON, err := jsonv2.Marshal(rep.Counters)
	if err != nil {
		return fmt.Errorf("record run %v: counters: %w", rep.RunID, err)
	}
	var rusageValue any
	if rep.Rusage != nil {
		rusageJSON, err := jsonv2.Marshal(rep.Rusage)
		if err != nil {
			return fmt.Errorf("record run %v: rusage: %w", rep.RunID, err)
		}
		rusageValue = string(rusageJSON)
	}
	var labelsValue any
	if len(labels) > 0 {
		labelsJSON, err := jsonv2.Marshal(labels)
		if err != nil {
			return fmt.Errorf("record run %v: labels: %w", rep.RunID, err)
		}
		labelsValue = string(labelsJSON)
	}

	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "insert_run.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":id":            rep.RunID.String(),
			":started_at":    rep.Start.UnixNano(),
			":elapsed_ns":    int64(rep.Elapsed),
			":outcome":       string(rep.Outcome),
			":config":        string(configJSON),
			":acquisitions":  rep.Acquisitions,
			":violations":    rep.Violations,
			":lost_updates":  rep.LostUpdates,
			":max_wait_ns":   int64(rep.MaxWait),
			":total_wait_ns": int64(rep.TotalWait),
			":counters":      string(countersJSON),
			":rusage":        rusageValue,
			":labels":        labelsValue,
		},
	})
	if err != nil {
		return fmt.Errorf("record run %v: %w", rep.RunID, err)
	}

	if len(rep.Samples) > 0 {
		blob, err := encodeTrace(rep.Samples)
		if err != nil {
			return fmt.Errorf("record run %v: trace: %w", rep.RunID, err)
		}
		err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "insert_trace.sql", &sqlitex.ExecOptions{
			Named: map[string]any{
				":run_id": rep.RunID.String(),
				":format": traceFormat,
				":data":   blob,
			},
		})
		if err != nil {
			return fmt.Errorf("record run %v: trace: %w", rep.RunID, err)
		}
	}
	return nil
}

// A RunSummary is the abbreviated view of a run used in listings.
type RunSummary struct {
	RunID        uuid.UUID      `json:"runId"`
	Start        time.Time      `json:"start"`
	Elapsed      time.Duration  `json:"elapsed,format:nano"`
	Outcome      stress.Outcome `json:"outcome"`
	Acquisitions int64          `json:"acquisitions"`
	Violations   int64          `json:"violations"`
	LostUpdates  int64          `json:"lostUpdates"`
	Labels       []string       `json:"labels,omitzero"`
}

// RecentRuns returns up to limit run summaries, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	conn, err := s.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer s.pool.Put(conn)

	var result []RunSummary
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "recent_runs.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":n": limit,
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			summary := RunSummary{
				Start:        time.Unix(0, stmt.GetInt64("started_at")).UTC(),
				Elapsed:      time.Duration(stmt.GetInt64("elapsed_ns")),
				Outcome:      stress.Outcome(stmt.GetText("outcome")),
				Acquisitions: stmt.GetInt64("acquisitions"),
				Violations:   stmt.GetInt64("violations"),
				LostUpdates:  stmt.GetInt64("lost_updates"),
			}
			runID, err := uuid.Parse(stmt.GetText("id"))
			if err != nil {
				return fmt.Errorf("run id: %w", err)
			}
			summary.RunID = runID
			if rawLabels := stmt.GetText("labels"); rawLabels != "" {
				if err := jsonv2.Unmarshal([]byte(rawLabels), &summary.Labels); err != nil {
					return fmt.Errorf("run %v: labels: %w", summary.RunID, err)
				}
			}
			result = append(result, summary)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return result, nil
}

// A RunRecord is a stored run report together with its labels.
type RunRecord struct {
	Report stress.Report `json:"report"`
	Labels []string      `json:"labels,omitzero"`
}

// Run returns the stored record for the given run.
// It returns an error wrapping [ErrNotFound] if no such run was recorded.
func (s *Store) Run(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	conn, err := s.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("run %v: %w", id, err)
	}
	defer s.pool.Put(conn)

	var record *RunRecord
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "find_run.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":id": id.String(),
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record = &RunRecord{
				Report: stress.Report{
					RunID:        id,
					Start:        time.Unix(0, stmt.GetInt64("started_at")).UTC(),
					Elapsed:      time.Duration(stmt.GetInt64("elapsed_ns")),
					Outcome:      stress.Outcome(stmt.GetText("outcome")),
					Acquisitions: stmt.GetInt64("acquisitions"),
					Violations:   stmt.GetInt64("violations"),
					LostUpdates:  stmt.GetInt64("lost_updates"),
					MaxWait:      time.Duration(stmt.GetInt64("max_wait_ns")),
					TotalWait:    time.Duration(stmt.GetInt64("total_wait_ns")),
				},
			}
			if err := jsonv2.Unmarshal([]byte(stmt.GetText("config")), &record.Report.Config); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := jsonv2.Unmarshal([]byte(stmt.GetText("counters")), &record.Report.Counters); err != nil {
				return fmt.Errorf("counters: %w", err)
			}
			if rawRusage := stmt.GetText("rusage"); rawRusage != "" {
				record.Report.Rusage = new(stress.Rusage)
				if err := jsonv2.Unmarshal([]byte(rawRusage), record.Report.Rusage); err != nil {
					return fmt.Errorf("rusage: %w", err)
				}
			}
			if rawLabels := stmt.GetText("labels"); rawLabels != "" {
				if err := jsonv2.Unmarshal([]byte(rawLabels), &record.Labels); err != nil {
					return fmt.Errorf("labels: %w", err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("run %v: %w", id, err)
	}
	if record == nil {
		return nil, fmt.Errorf("run %v: %w", id, ErrNotFound)
	}
	return record, nil
}

// Trace returns the stored wait samples for the given run.
// It returns an error wrapping [ErrNotFound] if the run has no trace.
func (s *Store) Trace(ctx context.Context, id uuid.UUID) ([]stress.WaitSample, error) {
	conn, err := s.pool.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("trace for run %v: %w", id, err)
	}
	defer s.pool.Put(conn)

	var format string
	var blob []byte
	found := false
	err = sqlitex.ExecuteTransientFS(conn, sqlFiles(), "find_trace.sql", &sqlitex.ExecOptions{
		Named: map[string]any{
			":run_id": id.String(),
		},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			format = stmt.GetText("format")
			i := stmt.ColumnIndex("data")
			blob = make([]byte, stmt.ColumnLen(i))
			stmt.ColumnBytes(i, blob)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("trace for run %v: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("trace for run %v: %w", id, ErrNotFound)
	}
	samples, err := decodeTrace(format, blob)
	if err != nil {
		return nil, fmt.Errorf("trace for run %v: %w", id, err)
	}
	return samples, nil
}

func encodeTrace(samples []stress.WaitSample) ([]byte, error) {
	data, err := jsonv2.Marshal(samples)
	if err != nil {
		return nil, err
	}
	buf := new(bytes.Buffer)
	zw, err := flate.NewWriter(buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeTrace(format string, blob []byte) ([]stress.WaitSample, error) {
	if format != traceFormat {
		return nil, fmt.Errorf("unknown trace format %q", format)
	}
	zr := flate.NewReader(bytes.NewReader(blob))
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	var samples []stress.WaitSample
	if err := jsonv2.Unmarshal(data, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func prepareConn(conn *sqlite.Conn) error {
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA journal_mode = wal;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = on;", nil); err != nil {
		return err
	}
	return nil
}

//go:embed sql/*.sql
//go:embed sql/schema/*.sql
var rawSQLFiles embed.FS

func sqlFiles() fs.FS {
	sub, err := fs.Sub(rawSQLFiles, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

var schemaState struct {
	init   sync.Once
	schema sqlitemigration.Schema
	err    error
}

func loadSchema() sqlitemigration.Schema {
	schemaState.init.Do(func() {
		for i := 1; ; i++ {
			migration, err := fs.ReadFile(sqlFiles(), fmt.Sprintf("schema/%02d.sql", i))
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			if err != nil {
				schemaState.err = err
				return
			}
			schemaState.schema.Migrations = append(schemaState.schema.Migrations, string(migration))
		}
	})

	if schemaState.err != nil {
		panic(schemaState.err)
	}
	return schemaState.schema
}
