// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/postgor/android-trace/pkg/event"
)

// StdoutExporter writes events as JSON lines in the {"type","data"} wire
// shape, or as one human-readable line per event.
type StdoutExporter struct {
	format string // "text" or "json"

	mu sync.Mutex
	w  io.Writer
}

// NewStdoutExporter creates a writer exporter. A nil w writes to os.Stdout.
func NewStdoutExporter(format string, w io.Writer) *StdoutExporter {
	if format == "" {
		format = "text"
	}
	if w == nil {
		w = os.Stdout
	}
	return &StdoutExporter{format: format, w: w}
}

// Name implements Exporter.
func (e *StdoutExporter) Name() string { return "stdout" }

// ExportEvents implements Exporter.
func (e *StdoutExporter) ExportEvents(ctx context.Context, events []event.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	bw := bufio.NewWriter(e.w)
	for _, ev := range events {
		if e.format == "json" {
			b, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("encode %s event: %w", ev.Type, err)
			}
			bw.Write(b)
			bw.WriteByte('\n')
			continue
		}
		fmt.Fprintf(bw, "[%s] %-18s %s\n", textTime(ev.Time), ev.Type, ev.Summary())
	}
	return bw.Flush()
}

// Shutdown is a no-op for stdout.
func (e *StdoutExporter) Shutdown(ctx context.Context) error {
	return nil
}

func textTime(t time.Time) string {
	if t.IsZero() {
		return "--:--:--.---"
	}
	return t.Format("15:04:05.000")
}
