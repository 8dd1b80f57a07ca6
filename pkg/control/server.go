// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const serverWorkers = 2

// Server answers control commands arriving on a Unix datagram socket.
// Each datagram is one JSON Request; the Response goes back to the
// sender's bound address.
type Server struct {
	socketPath string
	surface    *Surface
	logger     *zap.Logger

	conn     *net.UnixConn
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewServer creates a server for surface.
func NewServer(socketPath string, surface *Surface, logger *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		surface:    surface,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start binds the socket and begins serving. Commands run with ctx.
func (s *Server) Start(ctx context.Context) error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	// Remove stale socket
	os.Remove(s.socketPath)

	addr := &net.UnixAddr{Name: s.socketPath, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return fmt.Errorf("listen unix: %w", err)
	}
	s.conn = conn

	// Only the owner may steer hooking.
	os.Chmod(s.socketPath, 0600)

	s.logger.Info("control socket listening", zap.String("socket", s.socketPath))

	for i := 0; i < serverWorkers; i++ {
		s.wg.Add(1)
		go s.readLoop(ctx, i)
	}
	return nil
}

// Stop closes the socket and waits for in-flight commands.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.conn != nil {
			s.conn.Close()
		}
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
	return nil
}

func (s *Server) readLoop(ctx context.Context, workerID int) {
	defer s.wg.Done()

	buf := make([]byte, MaxDatagram)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		n, from, err := s.conn.ReadFromUnix(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Debug("control read error", zap.Int("worker", workerID), zap.Error(err))
				continue
			}
		}

		resp := s.handle(ctx, buf[:n])
		s.reply(from, resp)
	}
}

func (s *Server) handle(ctx context.Context, b []byte) *Response {
	req, err := ParseRequest(b)
	if err != nil {
		s.logger.Debug("bad control request", zap.Error(err))
		return &Response{Error: err.Error()}
	}
	return s.dispatch(ctx, req)
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	s.logger.Debug("control request", zap.String("op", req.Op), zap.String("pattern", req.Pattern), zap.Int("classes", len(req.Classes)))

	switch req.Op {
	case OpSetMethodFilter:
		if err := s.surface.SetInclusionFilter(req.Pattern); err != nil {
			return &Response{Error: err.Error()}
		}
		return s.filters()

	case OpSetMethodExclude:
		if err := s.surface.SetExclusionFilter(req.Pattern); err != nil {
			return &Response{Error: err.Error()}
		}
		return s.filters()

	case OpGetFilters:
		return s.filters()

	case OpEnumerateClasses:
		n, err := s.surface.EnumerateClasses(ctx)
		resp := &Response{OK: err == nil, Count: n}
		if err != nil {
			resp.Error = err.Error()
		}
		return resp

	case OpProvidedClassesHook:
		report, err := s.surface.HookClasses(ctx, req.Classes)
		resp := &Response{OK: err == nil}
		if report != nil {
			resp.Count = len(report.Classes)
			resp.Installed = report.Installed()
			resp.Failed = report.Failed()
			resp.Skipped = report.SkippedClasses()
		}
		if err != nil {
			resp.Error = err.Error()
		}
		return resp
	}
	return &Response{Error: fmt.Sprintf("unknown op %q", req.Op)}
}

func (s *Server) filters() *Response {
	inc, exc, active := s.surface.Filters()
	return &Response{OK: true, Include: inc, Exclude: exc, ExcludeActive: active}
}

func (s *Server) reply(to *net.UnixAddr, resp *Response) {
	if to == nil || to.Name == "" {
		s.logger.Debug("control request from unbound socket, dropping reply")
		return
	}
	b, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode control response", zap.Error(err))
		return
	}
	if _, err := s.conn.WriteToUnix(b, to); err != nil {
		s.logger.Debug("control reply failed", zap.String("to", to.Name), zap.Error(err))
	}
}
