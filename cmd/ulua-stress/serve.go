// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	jsonv2 "github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/spf13/cobra"
	"ulua.256lights.llc/pkg/internal/soakdb"
	"ulua.256lights.llc/pkg/internal/stressapi"
	"ulua.256lights.llc/pkg/internal/xnet"
	"zombiezen.com/go/log"
	"zombiezen.com/go/xcontext"
)

type serveOptions struct {
	address     string
	allowRemote bool
}

func newServeCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "serve [options]",
		Short:                 "serve the run history over HTTP",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := &serveOptions{
		address: "localhost:8485",
	}
	c.Flags().StringVar(&opts.address, "address", opts.address, "`host:port` to listen on")
	c.Flags().BoolVar(&opts.allowRemote, "allow-remote", false, "permit connections from hosts other than localhost")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), g, opts)
	}
	return c
}

func runServe(ctx context.Context, g *globalConfig, opts *serveOptions) error {
	store, err := g.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Errorf(ctx, "%v", err)
		}
	}()

	api := &apiServer{
		store:   store,
		version: cliVersion,
	}
	var handler http.Handler = api.routes()
	if !opts.allowRemote {
		handler = localOnlyMiddleware{handler: handler}
	}
	handler = handlers.CompressHandler(handler)

	l, err := net.Listen("tcp", opts.address)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		<-ctx.Done()
		log.Infof(ctx, "Shutting down (signal received)...")
		if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
			log.Warnf(ctx, "systemd notify: %v", err)
		}

		shutdownCtx, cancel := context.WithTimeout(xcontext.Detach(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf(ctx, "Shutdown: %v", err)
		}
	}()
	defer wg.Wait()

	log.Infof(ctx, "Listening on http://%v", l.Addr())
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warnf(ctx, "systemd notify: %v", err)
	} else if ok {
		log.Debugf(ctx, "Notified systemd of readiness")
	}

	err = srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

// Bounds on the n parameter of the run list resource.
const (
	defaultRunListSize = 20
	maxRunListSize     = 500
)

// apiServer serves the run history HTTP API
// whose client is [stressapi.Client].
type apiServer struct {
	store   *soakdb.Store
	version string
}

func (srv *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/{$}", handlers.MethodHandler{
		http.MethodGet:  http.HandlerFunc(srv.discovery),
		http.MethodHead: http.HandlerFunc(srv.discovery),
	})
	mux.Handle("/api/runs", handlers.MethodHandler{
		http.MethodGet:  http.HandlerFunc(srv.listRuns),
		http.MethodHead: http.HandlerFunc(srv.listRuns),
	})
	mux.Handle("/api/runs/{id}", handlers.MethodHandler{
		http.MethodGet:  http.HandlerFunc(srv.showRun),
		http.MethodHead: http.HandlerFunc(srv.showRun),
	})
	mux.Handle("/api/runs/{id}/trace", handlers.MethodHandler{
		http.MethodGet:  http.HandlerFunc(srv.showTrace),
		http.MethodHead: http.HandlerFunc(srv.showTrace),
	})
	return mux
}

func (srv *apiServer) discovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", stressapi.MediaType)
	if err := jsonv2.MarshalWrite(w, stressapi.NewDiscovery(srv.version)); err != nil {
		log.Errorf(r.Context(), "Write discovery document: %v", err)
	}
}

func (srv *apiServer) listRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n := defaultRunListSize
	if s := r.FormValue("n"); s != "" {
		var err error
		n, err = strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = min(n, maxRunListSize)
	}

	summaries, err := srv.store.RecentRuns(ctx, n)
	if err != nil {
		log.Errorf(ctx, "%v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := jsonv2.MarshalWrite(w, summaries); err != nil {
		log.Errorf(ctx, "Write run list: %v", err)
	}
}

func (srv *apiServer) showRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	record, err := srv.store.Run(ctx, id)
	if errors.Is(err, soakdb.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Errorf(ctx, "%v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := jsonv2.MarshalWrite(w, record); err != nil {
		log.Errorf(ctx, "Write run %v: %v", id, err)
	}
}

func (srv *apiServer) showTrace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	samples, err := srv.store.Trace(ctx, id)
	if errors.Is(err, soakdb.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Errorf(ctx, "%v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := jsonv2.MarshalWrite(w, samples); err != nil {
		log.Errorf(ctx, "Write trace for run %v: %v", id, err)
	}
}

type localOnlyMiddleware struct {
	handler http.Handler
}

func (m localOnlyMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !xnet.IsLocalhost(r) {
		http.Error(w, "Only localhost connections permitted.", http.StatusForbidden)
		return
	}
	m.handler.ServeHTTP(w, r)
}
