// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitTrack Contributors

// Package observability serves Prometheus metrics and health checks on a
// separate listener from the API.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/fittrack/fittrack/pkg/errutil"
)

// readinessTimeout bounds a single readiness check.
const readinessTimeout = 2 * time.Second

// ReadinessChecker returns nil when the service can take traffic, for
// example after a successful database ping.
type ReadinessChecker func(ctx context.Context) error

// Server exposes /metrics, /healthz/liveness and /healthz/readiness.
type Server struct {
	addr     string
	gatherer prometheus.Gatherer
	ready    ReadinessChecker
	logger   *slog.Logger

	listener net.Listener
	srv      *http.Server
	running  atomic.Bool
}

// NewServer creates a server for gatherer on addr ("127.0.0.1:0" picks a
// free port). ready may be nil, meaning always ready.
func NewServer(addr string, gatherer prometheus.Gatherer, ready ReadinessChecker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, gatherer: gatherer, ready: ready, logger: logger}
}

// Handler returns the health and metrics routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	return mux
}

// Start listens and serves in the background. The returned channel reports a
// serve failure and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code(errutil.CodeInternal).Errorf("observability server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code(errutil.CodeInternal).With("addr", s.addr).Wrap(err)
	}
	s.listener = ln
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.srv = srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errutil.LogError(s.logger, "observability server failed", err)
			errCh <- err
		}
	}()

	s.logger.Info("observability server started", "addr", ln.Addr().String())
	return errCh, nil
}

// Stop shuts the server down gracefully. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.With("operation", "shutdown observability server").Wrap(err)
	}
	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, "ok")
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.ready == nil {
		writeHealth(w, http.StatusOK, "ok")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()
	if err := s.ready(ctx); err != nil {
		errutil.LogWarn(s.logger, "readiness check failed", err)
		writeHealth(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeHealth(w, http.StatusOK, "ok")
}

func writeHealth(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // health clients may disconnect
	w.Write([]byte(body + "\n"))
}
