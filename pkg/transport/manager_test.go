// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/postgor/android-trace/pkg/config"
	"github.com/postgor/android-trace/pkg/event"
	"go.uber.org/zap"
)

type fakeExporter struct {
	name string

	mu        sync.Mutex
	batches   [][]event.Event
	calls     int
	failFirst int // fail this many calls, then succeed; -1 fails forever
	shutdowns int
}

func (f *fakeExporter) Name() string { return f.name }

func (f *fakeExporter) ExportEvents(ctx context.Context, events []event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFirst < 0 || f.calls <= f.failFirst {
		return errors.New("collector unavailable")
	}
	f.batches = append(f.batches, append([]event.Event(nil), events...))
	return nil
}

func (f *fakeExporter) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	return nil
}

func (f *fakeExporter) events() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Event
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func (f *fakeExporter) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.batches))
	for i, b := range f.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func (f *fakeExporter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func infoEvent(i int) event.Event {
	return event.Message(event.Info, "event %d", i)
}

func TestManagerBatchesAndDrainsOnStop(t *testing.T) {
	exp := &fakeExporter{name: "fake"}
	m := New(Options{BatchSize: 3, FlushInterval: time.Hour}, zap.NewNop(), exp)
	m.Start(context.Background())

	for i := 0; i < 7; i++ {
		m.Emit(infoEvent(i))
	}
	m.Stop()

	got := exp.events()
	if len(got) != 7 {
		t.Fatalf("expected 7 exported events, got %d", len(got))
	}
	for i, e := range got {
		if want := fmt.Sprintf("event %d", i); e.Data.Message != want {
			t.Errorf("event %d: got %q, want %q", i, e.Data.Message, want)
		}
	}
	sizes := exp.batchSizes()
	if len(sizes) != 3 || sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Errorf("expected batches [3 3 1], got %v", sizes)
	}

	st := m.Stats()
	if st.Received != 7 || st.Exported != 7 || st.Dropped != 0 || st.Failed != 0 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if exp.shutdowns != 1 {
		t.Errorf("expected 1 shutdown, got %d", exp.shutdowns)
	}
}

func TestManagerDeliversAfterContextCancel(t *testing.T) {
	exp := &fakeExporter{name: "fake"}
	m := New(Options{BatchSize: 100, FlushInterval: time.Hour}, zap.NewNop(), exp)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	m.Emit(infoEvent(1))
	cancel()
	time.Sleep(50 * time.Millisecond)
	m.Emit(infoEvent(2))
	m.Stop()

	if got := exp.events(); len(got) != 2 {
		t.Fatalf("expected 2 exported events, got %d", len(got))
	}
	st := m.Stats()
	if st.Received != 2 || st.Exported != 2 || st.Dropped != 0 || st.Queued != 0 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestManagerFlushesOnInterval(t *testing.T) {
	exp := &fakeExporter{name: "fake"}
	m := New(Options{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, zap.NewNop(), exp)
	m.Start(context.Background())
	defer m.Stop()

	m.Emit(infoEvent(1))

	deadline := time.Now().Add(2 * time.Second)
	for len(exp.events()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event was not flushed by the ticker")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManagerDropsWhenQueueFull(t *testing.T) {
	m := New(Options{BufferSize: 2}, zap.NewNop())

	for i := 0; i < 5; i++ {
		m.Emit(infoEvent(i))
	}

	st := m.Stats()
	if st.Received != 5 {
		t.Errorf("expected 5 received, got %d", st.Received)
	}
	if st.Dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", st.Dropped)
	}
	if st.Queued != 2 {
		t.Errorf("expected 2 queued, got %d", st.Queued)
	}
}

func TestManagerDropsAfterStop(t *testing.T) {
	exp := &fakeExporter{name: "fake"}
	m := New(Options{}, zap.NewNop(), exp)
	m.Start(context.Background())
	m.Stop()
	m.Stop()

	m.Emit(infoEvent(1))
	if st := m.Stats(); st.Dropped != 1 {
		t.Errorf("expected emit after stop to be dropped, got %+v", st)
	}
	if exp.shutdowns != 1 {
		t.Errorf("expected Stop to shut exporters down once, got %d", exp.shutdowns)
	}
}

func TestManagerRetriesFailedExport(t *testing.T) {
	exp := &fakeExporter{name: "flaky", failFirst: 2}
	m := New(Options{
		BatchSize:      10,
		FlushInterval:  time.Hour,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
	}, zap.NewNop(), exp)
	m.Start(context.Background())

	m.Emit(infoEvent(1))
	m.Emit(infoEvent(2))
	m.Stop()

	if exp.callCount() != 3 {
		t.Errorf("expected 3 export attempts, got %d", exp.callCount())
	}
	if len(exp.events()) != 2 {
		t.Errorf("expected the batch to be delivered after retries, got %d events", len(exp.events()))
	}
	if st := m.Stats(); st.Failed != 0 || st.Exported != 2 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestManagerBreakerSkipsDeadExporter(t *testing.T) {
	dead := &fakeExporter{name: "dead", failFirst: -1}
	m := New(Options{
		BatchSize:        1,
		FlushInterval:    time.Hour,
		MaxRetries:       -1,
		BreakerThreshold: 1,
		BreakerCooldown:  time.Hour,
	}, zap.NewNop(), dead)
	m.Start(context.Background())

	for i := 0; i < 3; i++ {
		m.Emit(infoEvent(i))
	}
	m.Stop()

	if dead.callCount() != 1 {
		t.Errorf("expected the open circuit to skip later batches, got %d calls", dead.callCount())
	}
	st := m.Stats()
	if st.Failed != 3 {
		t.Errorf("expected 3 failed, got %d", st.Failed)
	}
	if st.Exported != 0 {
		t.Errorf("expected 0 exported, got %d", st.Exported)
	}
}

func TestManagerIsolatesExporters(t *testing.T) {
	dead := &fakeExporter{name: "dead", failFirst: -1}
	good := &fakeExporter{name: "good"}
	m := New(Options{BatchSize: 2, FlushInterval: time.Hour, MaxRetries: -1}, zap.NewNop(), dead, good)
	m.Start(context.Background())

	for i := 0; i < 4; i++ {
		m.Emit(infoEvent(i))
	}
	m.Stop()

	if len(good.events()) != 4 {
		t.Errorf("expected healthy exporter to get 4 events, got %d", len(good.events()))
	}
	if st := m.Stats(); st.Exported != 4 || st.Failed != 4 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	m := NewFromConfig(&cfg.Transport, cfg.ServiceName, zap.NewNop())
	if len(m.sinks) != 2 {
		t.Fatalf("expected stdout and websocket exporters, got %d", len(m.sinks))
	}
	if _, ok := m.Handler(); !ok {
		t.Error("expected a stream handler with websocket enabled")
	}
	if m.opts.BatchSize != cfg.Transport.BatchSize {
		t.Errorf("expected batch size %d, got %d", cfg.Transport.BatchSize, m.opts.BatchSize)
	}

	cfg.Transport.WebSocket.Enabled = false
	m = NewFromConfig(&cfg.Transport, cfg.ServiceName, zap.NewNop())
	if _, ok := m.Handler(); ok {
		t.Error("expected no stream handler with websocket disabled")
	}
}
