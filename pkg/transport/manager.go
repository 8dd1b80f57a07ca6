// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package transport batches hook events and delivers them to exporters.
package transport

import (
	"context"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postgor/android-trace/pkg/config"
	"github.com/postgor/android-trace/pkg/event"
	"go.uber.org/zap"
)

// Exporter delivers event batches. Exporters must not retain the slice
// passed to ExportEvents.
type Exporter interface {
	Name() string
	ExportEvents(ctx context.Context, events []event.Event) error
	Shutdown(ctx context.Context) error
}

const (
	defaultBufferSize    = 10000
	defaultBatchSize     = 256
	defaultFlushInterval = time.Second

	defaultMaxRetries     = 3
	defaultInitialBackoff = 100 * time.Millisecond
	maxBackoff            = 5 * time.Second
	backoffFactor         = 2.0

	exportTimeout = 10 * time.Second
)

// Options tunes a Manager. Zero values select defaults.
type Options struct {
	BufferSize     int
	BatchSize      int
	FlushInterval  time.Duration
	// MaxRetries < 0 disables retries.
	MaxRetries     int
	InitialBackoff time.Duration

	// BreakerThreshold consecutive failures open an exporter's circuit for
	// BreakerCooldown.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (o *Options) applyDefaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
}

type sink struct {
	exp     Exporter
	breaker *Breaker
}

// Stats is a snapshot of Manager counters.
type Stats struct {
	Received int64
	Exported int64
	Dropped  int64
	Failed   int64
	Queued   int
}

// Manager is an event.Sink that queues events and flushes them in batches
// to every exporter. Emit never blocks: when the queue is full the event is
// dropped and counted.
type Manager struct {
	logger *zap.Logger
	opts   Options
	sinks  []sink

	ch chan event.Event

	received atomic.Int64
	exported atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64

	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
	stopCh   chan struct{}
}

var _ event.Sink = (*Manager)(nil)

// New creates a manager delivering to exporters.
func New(opts Options, logger *zap.Logger, exporters ...Exporter) *Manager {
	opts.applyDefaults()
	m := &Manager{
		logger: logger,
		opts:   opts,
		ch:     make(chan event.Event, opts.BufferSize),
		stopCh: make(chan struct{}),
	}
	for _, exp := range exporters {
		m.sinks = append(m.sinks, sink{exp: exp, breaker: NewBreaker(opts.BreakerThreshold, opts.BreakerCooldown)})
	}
	return m
}

// NewFromConfig builds the exporters enabled in cfg. An OTLP exporter that
// cannot be created is logged and skipped.
func NewFromConfig(cfg *config.TransportConfig, serviceName string, logger *zap.Logger) *Manager {
	var exporters []Exporter

	if cfg.Stdout.Enabled {
		exporters = append(exporters, NewStdoutExporter(cfg.Stdout.Format, nil))
	}

	if cfg.OTLP.Enabled {
		exp, err := NewOTLPExporter(&cfg.OTLP, serviceName, logger)
		if err != nil {
			logger.Warn("failed to create OTLP exporter", zap.Error(err))
		} else {
			exporters = append(exporters, exp)
		}
	}

	if cfg.WebSocket.Enabled {
		exporters = append(exporters, NewWebSocketExporter(logger))
	}

	return New(Options{
		BufferSize:    cfg.BufferSize,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, logger, exporters...)
}

// Handler returns the live stream handler when a WebSocket exporter is
// configured.
func (m *Manager) Handler() (http.Handler, bool) {
	for _, s := range m.sinks {
		if h, ok := s.exp.(http.Handler); ok {
			return h, true
		}
	}
	return nil, false
}

// Emit queues e for export.
func (m *Manager) Emit(e event.Event) {
	m.received.Add(1)
	if m.stopped.Load() {
		m.dropped.Add(1)
		return
	}
	select {
	case m.ch <- e:
	default:
		m.dropped.Add(1)
		m.logger.Debug("event queue full, dropping event", zap.String("type", string(e.Type)))
	}
}

// Start begins the batching goroutine. It keeps running after ctx is
// cancelled, until Stop, so that events emitted while the target winds down
// are still delivered.
func (m *Manager) Start(ctx context.Context) error {
	m.wg.Add(1)
	go m.process(context.WithoutCancel(ctx))

	names := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		names = append(names, s.exp.Name())
	}
	m.logger.Info("transport started",
		zap.Strings("exporters", names),
		zap.Int("batch_size", m.opts.BatchSize),
		zap.Duration("flush_interval", m.opts.FlushInterval),
	)
	return nil
}

// Stop flushes queued events and shuts down the exporters.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		m.stopped.Store(true)
		close(m.stopCh)
		m.wg.Wait()
		m.discardQueued()

		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		for _, s := range m.sinks {
			if err := s.exp.Shutdown(ctx); err != nil {
				m.logger.Error("exporter shutdown error", zap.String("exporter", s.exp.Name()), zap.Error(err))
			}
		}

		st := m.Stats()
		m.logger.Info("transport stopped",
			zap.Int64("received", st.Received),
			zap.Int64("exported", st.Exported),
			zap.Int64("dropped", st.Dropped),
			zap.Int64("failed", st.Failed),
		)
	})
	return nil
}

func (m *Manager) process(ctx context.Context) {
	defer m.wg.Done()

	batch := make([]event.Event, 0, m.opts.BatchSize)
	ticker := time.NewTicker(m.opts.FlushInterval)
	defer ticker.Stop()

	drain := func(ctx context.Context) {
		for {
			select {
			case e := <-m.ch:
				batch = append(batch, e)
				if len(batch) >= m.opts.BatchSize {
					m.flush(ctx, batch)
					batch = batch[:0]
				}
			default:
				if len(batch) > 0 {
					m.flush(ctx, batch)
				}
				return
			}
		}
	}

	for {
		select {
		case e := <-m.ch:
			batch = append(batch, e)
			if len(batch) >= m.opts.BatchSize {
				m.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				m.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-m.stopCh:
			drain(context.Background())
			return
		}
	}
}

// discardQueued counts events that raced Stop into the queue after the
// final drain as dropped.
func (m *Manager) discardQueued() {
	for {
		select {
		case <-m.ch:
			m.dropped.Add(1)
		default:
			return
		}
	}
}

// flush hands batch to every exporter. Exported counts events that reached
// at least one exporter; Failed counts per-exporter losses.
func (m *Manager) flush(ctx context.Context, batch []event.Event) {
	delivered := false
	for _, s := range m.sinks {
		if m.retryExport(ctx, s, batch) {
			delivered = true
		} else {
			m.failed.Add(int64(len(batch)))
		}
	}
	if delivered {
		m.exported.Add(int64(len(batch)))
	}
}

// retryExport delivers one batch to one exporter with exponential backoff,
// guarded by the exporter's breaker. It reports whether delivery succeeded.
func (m *Manager) retryExport(ctx context.Context, s sink, batch []event.Event) bool {
	name := s.exp.Name()
	if !s.breaker.Allow() {
		m.logger.Debug("circuit open, skipping exporter", zap.String("exporter", name), zap.Int("events", len(batch)))
		return false
	}

	backoff := m.opts.InitialBackoff
	for attempt := 0; attempt <= m.opts.MaxRetries; attempt++ {
		exportCtx, cancel := context.WithTimeout(ctx, exportTimeout)
		err := s.exp.ExportEvents(exportCtx, batch)
		cancel()

		if err == nil {
			s.breaker.Success()
			return true
		}
		s.breaker.Failure()

		if attempt == m.opts.MaxRetries || !s.breaker.Allow() {
			m.logger.Error("export failed",
				zap.String("exporter", name),
				zap.Int("attempts", attempt+1),
				zap.Int("events", len(batch)),
				zap.Error(err),
			)
			return false
		}

		m.logger.Warn("export failed, retrying",
			zap.String("exporter", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}

		backoff = time.Duration(math.Min(float64(backoff)*backoffFactor, float64(maxBackoff)))
	}
	return false
}

// Stats returns current counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Received: m.received.Load(),
		Exported: m.exported.Load(),
		Dropped:  m.dropped.Load(),
		Failed:   m.failed.Load(),
		Queued:   len(m.ch),
	}
}
