// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package health

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postgor/android-trace/pkg/event"
	"github.com/postgor/android-trace/pkg/hook"
	"github.com/shirou/gopsutil/v3/process"
)

// ExportCounters are the delivery counters of the event transport.
type ExportCounters struct {
	Exported int64
	Dropped  int64
	Failed   int64
	Queued   int
}

// Stats tracks self-monitoring counters for the agent.
type Stats struct {
	startTime time.Time

	EventsEmitted     atomic.Int64
	CallsObserved     atomic.Int64
	ClassesDiscovered atomic.Int64
	HookErrors        atomic.Int64

	Passes         atomic.Int64
	HooksInstalled atomic.Int64
	HooksFailed    atomic.Int64
	ClassesHooked  atomic.Int64
	ClassesFailed  atomic.Int64

	mu     sync.Mutex
	export func() ExportCounters
	proc   *process.Process
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	s := &Stats{startTime: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	}
	return s
}

// Uptime returns agent uptime.
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// SetExportSource sets where transport counters are read from.
func (s *Stats) SetExportSource(fn func() ExportCounters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.export = fn
}

// Observe counts one emitted event.
func (s *Stats) Observe(e event.Event) {
	s.EventsEmitted.Add(1)
	switch {
	case e.Type.IsCalled():
		s.CallsObserved.Add(1)
	case e.Type == event.ClassDiscovered:
		s.ClassesDiscovered.Add(1)
	case e.Type == event.ErrorHook:
		s.HookErrors.Add(1)
	}
}

// RecordPass adds the outcome of one hooking pass.
func (s *Stats) RecordPass(r *hook.BatchReport) {
	s.Passes.Add(1)
	s.HooksInstalled.Add(int64(r.Installed()))
	s.HooksFailed.Add(int64(r.Failed()))
	skipped := r.SkippedClasses()
	s.ClassesFailed.Add(int64(skipped))
	s.ClassesHooked.Add(int64(len(r.Classes) - skipped))
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds  float64
	Goroutines     int
	MemoryRSSBytes uint64
	CPUPercent     float64

	EventsEmitted     int64
	CallsObserved     int64
	ClassesDiscovered int64
	HookErrors        int64

	Passes         int64
	HooksInstalled int64
	HooksFailed    int64
	ClassesHooked  int64
	ClassesFailed  int64

	Export ExportCounters
}

// Snapshot returns current stats. RSS and CPU come from the process table
// and fall back to the Go runtime's view when it is unreadable.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		UptimeSeconds:     s.Uptime().Seconds(),
		Goroutines:        runtime.NumGoroutine(),
		EventsEmitted:     s.EventsEmitted.Load(),
		CallsObserved:     s.CallsObserved.Load(),
		ClassesDiscovered: s.ClassesDiscovered.Load(),
		HookErrors:        s.HookErrors.Load(),
		Passes:            s.Passes.Load(),
		HooksInstalled:    s.HooksInstalled.Load(),
		HooksFailed:       s.HooksFailed.Load(),
		ClassesHooked:     s.ClassesHooked.Load(),
		ClassesFailed:     s.ClassesFailed.Load(),
	}

	s.mu.Lock()
	export, proc := s.export, s.proc
	s.mu.Unlock()

	if export != nil {
		snap.Export = export()
	}

	if proc != nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			snap.MemoryRSSBytes = mem.RSS
		}
		if cpu, err := proc.Percent(0); err == nil {
			snap.CPUPercent = cpu
		}
	}
	if snap.MemoryRSSBytes == 0 {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		snap.MemoryRSSBytes = memStats.Sys
	}
	return snap
}

// PrometheusMetrics returns stats in Prometheus text exposition format.
func (s *Stats) PrometheusMetrics() string {
	return prometheusFormat(s.Snapshot())
}

func prometheusFormat(snap Snapshot) string {
	var b []byte
	b = appendMetric(b, "atrace_agent_uptime_seconds", "gauge", "Agent uptime in seconds", snap.UptimeSeconds)
	b = appendMetric(b, "atrace_agent_goroutines", "gauge", "Number of goroutines", float64(snap.Goroutines))
	b = appendMetric(b, "atrace_agent_memory_rss_bytes", "gauge", "Resident memory in bytes", float64(snap.MemoryRSSBytes))
	b = appendMetric(b, "atrace_agent_cpu_percent", "gauge", "Agent CPU usage in percent", snap.CPUPercent)
	b = appendMetric(b, "atrace_events_emitted_total", "counter", "Total events emitted by the engine", float64(snap.EventsEmitted))
	b = appendMetric(b, "atrace_events_exported_total", "counter", "Total events delivered to an exporter", float64(snap.Export.Exported))
	b = appendMetric(b, "atrace_events_dropped_total", "counter", "Total events dropped by the transport queue", float64(snap.Export.Dropped))
	b = appendMetric(b, "atrace_events_failed_total", "counter", "Total per-exporter delivery failures", float64(snap.Export.Failed))
	b = appendMetric(b, "atrace_events_queued", "gauge", "Events waiting in the transport queue", float64(snap.Export.Queued))
	b = appendMetric(b, "atrace_calls_observed_total", "counter", "Total intercepted calls", float64(snap.CallsObserved))
	b = appendMetric(b, "atrace_classes_discovered_total", "counter", "Total classes reported by enumeration", float64(snap.ClassesDiscovered))
	b = appendMetric(b, "atrace_hook_errors_total", "counter", "Total errorHook events", float64(snap.HookErrors))
	b = appendMetric(b, "atrace_hook_passes_total", "counter", "Total hooking passes", float64(snap.Passes))
	b = appendMetric(b, "atrace_hooks_installed_total", "counter", "Total hooks installed", float64(snap.HooksInstalled))
	b = appendMetric(b, "atrace_hooks_failed_total", "counter", "Total hook installs and member introspections that failed", float64(snap.HooksFailed))
	b = appendMetric(b, "atrace_classes_hooked_total", "counter", "Total classes processed by hooking passes", float64(snap.ClassesHooked))
	b = appendMetric(b, "atrace_classes_failed_total", "counter", "Total classes skipped by hooking passes", float64(snap.ClassesFailed))
	return string(b)
}

func appendMetric(b []byte, name, typ, help string, value float64) []byte {
	b = append(b, "# HELP "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, help...)
	b = append(b, "\n# TYPE "...)
	b = append(b, name...)
	b = append(b, ' ')
	b = append(b, typ...)
	b = append(b, '\n')
	b = append(b, name...)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, value, 'f', -1, 64)
	b = append(b, '\n')
	return b
}
