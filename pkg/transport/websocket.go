// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package transport

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/postgor/android-trace/pkg/event"
	"go.uber.org/zap"
)

const (
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingEvery   = (wsPongWait * 9) / 10
	wsClientQueue = 256
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type wsClient struct {
	ch     chan event.Event
	types  map[event.Type]bool // nil accepts every type
	cancel context.CancelFunc
}

func (c *wsClient) wants(t event.Type) bool {
	return c.types == nil || c.types[t]
}

// WebSocketExporter streams events to connected observers, one JSON
// message per event. A client that cannot keep up loses events; it never
// slows down the batch loop.
type WebSocketExporter struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool

	dropped atomic.Int64
}

var (
	_ Exporter     = (*WebSocketExporter)(nil)
	_ http.Handler = (*WebSocketExporter)(nil)
)

// NewWebSocketExporter creates a stream exporter with no clients.
func NewWebSocketExporter(logger *zap.Logger) *WebSocketExporter {
	return &WebSocketExporter{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Name implements Exporter.
func (e *WebSocketExporter) Name() string { return "websocket" }

// Clients returns the number of connected observers.
func (e *WebSocketExporter) Clients() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clients)
}

// Dropped returns how many per-client deliveries were dropped.
func (e *WebSocketExporter) Dropped() int64 {
	return e.dropped.Load()
}

// ExportEvents fans the batch out to every client. It never fails.
func (e *WebSocketExporter) ExportEvents(ctx context.Context, events []event.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for c := range e.clients {
		for _, ev := range events {
			if !c.wants(ev.Type) {
				continue
			}
			select {
			case c.ch <- ev:
			default:
				e.dropped.Add(1)
			}
		}
	}
	return nil
}

// Shutdown disconnects every client and refuses new ones.
func (e *WebSocketExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	for c := range e.clients {
		c.cancel()
		delete(e.clients, c)
	}
	return nil
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. The optional "type" query parameter is a comma-separated list of
// event types to receive.
func (e *WebSocketExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	types := parseTypes(r.URL.Query().Get("type"))

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsClient{ch: make(chan event.Event, wsClientQueue), types: types, cancel: cancel}
	if !e.add(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteWait))
		return
	}
	defer e.remove(c)

	e.logger.Info("event stream client connected", zap.String("remote", r.RemoteAddr))
	defer e.logger.Info("event stream client disconnected", zap.String("remote", r.RemoteAddr))

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer conn.Close()
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteWait))
				return
			case ev := <-c.ch:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Observers only send control frames; reading drives the pong handler
	// and notices disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cancel()
	<-writerDone
}

func (e *WebSocketExporter) add(c *wsClient) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.clients[c] = struct{}{}
	return true
}

func (e *WebSocketExporter) remove(c *wsClient) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.clients, c)
}

func parseTypes(s string) map[event.Type]bool {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	types := make(map[event.Type]bool)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			types[event.Type(part)] = true
		}
	}
	return types
}
