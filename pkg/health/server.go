// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Server exposes agent status over HTTP: /health, /ready, /metrics and any
// extra handler mounted with Handle (the live event stream).
type Server struct {
	logger  *zap.Logger
	stats   *Stats
	version string
	addr    string
	ready   atomic.Bool
	mux     *http.ServeMux
	httpSrv *http.Server
}

// NewServer creates a status server bound to addr on Start.
func NewServer(addr, version string, stats *Stats, logger *zap.Logger) *Server {
	s := &Server{
		addr:    addr,
		version: version,
		stats:   stats,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
	return s
}

// Handle mounts h at path. Call it before Start.
func (s *Server) Handle(path string, h http.Handler) {
	s.mux.Handle(path, h)
}

// Addr is the configured address, or the bound one after Start.
func (s *Server) Addr() string {
	return s.addr
}

// SetReady flips /ready between 200 and 503.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start listens and serves in the background. Only header reads are bounded
// so that streaming handlers stay open.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health listen %s: %w", s.addr, err)
	}
	s.addr = ln.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := s.httpSrv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("status server listening", zap.String("addr", s.addr))
	return nil
}

// Stop shuts the server down, waiting up to five seconds for handlers.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Passes  int64  `json:"passes"`
	Hooks   int64  `json:"hooks"`
	Calls   int64  `json:"calls"`
	Dropped int64  `json:"dropped"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.stats.Snapshot()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Version: s.version,
		Uptime:  s.stats.Uptime().Truncate(time.Second).String(),
		Passes:  snap.Passes,
		Hooks:   snap.HooksInstalled,
		Calls:   snap.CallsObserved,
		Dropped: snap.Export.Dropped,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Write([]byte(s.stats.PrometheusMetrics()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
