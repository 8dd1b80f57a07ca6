// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package agent wires the runtime bridge, hooking engine, transport and
// operator surfaces into one process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/postgor/android-trace/pkg/bridge/luart"
	"github.com/postgor/android-trace/pkg/config"
	"github.com/postgor/android-trace/pkg/control"
	"github.com/postgor/android-trace/pkg/event"
	"github.com/postgor/android-trace/pkg/health"
	"github.com/postgor/android-trace/pkg/hook"
	"github.com/postgor/android-trace/pkg/redact"
	"github.com/postgor/android-trace/pkg/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Agent is the main orchestrator that wires all subsystems together.
// Config is stored as an atomic pointer; only the filters are reloadable.
type Agent struct {
	cfg    atomic.Pointer[config.Config]
	logger *zap.Logger

	runtime       *luart.Runtime
	transport     *transport.Manager
	stats         *health.Stats
	healthServer  *health.Server
	engine        *hook.Engine
	surface       *control.Surface
	controlServer *control.Server

	mu      sync.Mutex
	cancel  context.CancelFunc
	run     *errgroup.Group
	done    chan struct{}
	stopped bool
}

// New builds every subsystem from cfg without starting anything.
func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	a := &Agent{
		logger: logger,
		done:   make(chan struct{}),
	}
	a.cfg.Store(cfg)

	a.stats = health.NewStats()

	specs := make([]redact.RuleSpec, 0, len(cfg.Redaction.Rules))
	for _, r := range cfg.Redaction.Rules {
		specs = append(specs, redact.RuleSpec{Name: r.Name, Pattern: r.Pattern, Replacement: r.Replacement})
	}
	rules, err := redact.Compile(specs)
	if err != nil {
		logger.Warn("skipping invalid redaction rules", zap.Error(err))
	}
	redactor := redact.New(cfg.Redaction.Enabled, rules)

	a.runtime, err = luart.New(luart.Options{
		LoadTimeout:    cfg.Runtime.LoadTimeout,
		ClassCacheSize: cfg.Runtime.ClassCacheSize,
	}, logger.Named("luart"))
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}

	a.transport = transport.NewFromConfig(&cfg.Transport, cfg.ServiceName, logger.Named("transport"))
	a.stats.SetExportSource(func() health.ExportCounters {
		st := a.transport.Stats()
		return health.ExportCounters{
			Exported: st.Exported,
			Dropped:  st.Dropped,
			Failed:   st.Failed,
			Queued:   st.Queued,
		}
	})

	discovery, err := hook.ParseDiscovery(cfg.Hook.MemberDiscovery)
	if err != nil {
		a.runtime.Close()
		return nil, err
	}
	a.engine = hook.NewEngine(a.runtime, event.SinkFunc(a.emit), hook.Options{
		Discovery: discovery,
		Formatter: hook.NewFormatter(redactor, cfg.Hook.MaxValueLength),
	}, logger.Named("hook"))

	a.surface = control.NewSurface(a.engine, a.stats, logger.Named("control"))
	if err := a.applyFilters(cfg); err != nil {
		a.runtime.Close()
		return nil, err
	}

	if cfg.Health.Enabled {
		a.healthServer = health.NewServer(cfg.Health.Port, Version, a.stats, logger.Named("health"))
		if h, ok := a.transport.Handler(); ok {
			a.healthServer.Handle(cfg.Transport.WebSocket.Path, h)
		}
	}

	if cfg.Control.Enabled {
		a.controlServer = control.NewServer(cfg.Control.SocketPath, a.surface, logger.Named("control"))
	}

	return a, nil
}

// emit is the engine's sink: count, then queue for export.
func (a *Agent) emit(e event.Event) {
	a.stats.Observe(e)
	a.transport.Emit(e)
}

// Surface returns the control surface.
func (a *Agent) Surface() *control.Surface {
	return a.surface
}

// HealthAddr returns the health server's bound address, or "" when it is
// disabled.
func (a *Agent) HealthAddr() string {
	if a.healthServer == nil {
		return ""
	}
	return a.healthServer.Addr()
}

// Stats returns the self-monitoring counters.
func (a *Agent) Stats() *health.Stats {
	return a.stats
}

// Start brings up the transport and operator endpoints, loads the target
// scripts, runs the initial hooking pass and then starts the target's
// entrypoint in the background.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := a.cfg.Load()
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.transport.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.healthServer != nil {
		g.Go(func() error {
			if err := a.healthServer.Start(gctx); err != nil {
				return fmt.Errorf("start health server: %w", err)
			}
			return nil
		})
	}
	if a.controlServer != nil {
		g.Go(func() error {
			if err := a.controlServer.Start(ctx); err != nil {
				return fmt.Errorf("start control server: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, path := range cfg.Runtime.Scripts {
		if err := a.runtime.LoadFile(ctx, path); err != nil {
			return fmt.Errorf("load script %s: %w", path, err)
		}
		a.logger.Info("script loaded", zap.String("path", path))
	}

	a.initialPass(ctx, cfg)

	if a.healthServer != nil {
		a.healthServer.SetReady(true)
	}

	a.run, ctx = errgroup.WithContext(ctx)
	a.run.Go(func() error {
		defer close(a.done)
		return a.runEntrypoint(ctx, cfg.Runtime.Entrypoint)
	})

	a.logger.Info("agent started",
		zap.Int("scripts", len(cfg.Runtime.Scripts)),
		zap.String("entrypoint", cfg.Runtime.Entrypoint),
		zap.Bool("control", a.controlServer != nil),
		zap.Bool("health", a.healthServer != nil),
	)
	return nil
}

func (a *Agent) initialPass(ctx context.Context, cfg *config.Config) {
	if cfg.Hook.EnumerateOnStart {
		if _, err := a.surface.EnumerateClasses(ctx); err != nil {
			a.logger.Warn("initial class enumeration failed", zap.Error(err))
		}
	}
	if len(cfg.Hook.Classes) == 0 {
		return
	}
	report, err := a.surface.HookClasses(ctx, cfg.Hook.Classes)
	if err != nil {
		a.logger.Warn("initial hooking pass failed", zap.Error(err))
		return
	}
	a.logger.Info("initial hooking pass done",
		zap.Int("classes", len(report.Classes)),
		zap.Int("installed", report.Installed()),
		zap.Int("failed", report.Failed()),
	)
}

func (a *Agent) runEntrypoint(ctx context.Context, entrypoint string) error {
	if entrypoint == "" {
		return nil
	}
	err := a.runtime.Run(ctx, entrypoint)
	switch {
	case err == nil:
		a.logger.Info("entrypoint returned", zap.String("entrypoint", entrypoint))
		return nil
	case errors.Is(err, luart.ErrEntrypointNotFound):
		a.logger.Info("no entrypoint defined, serving loaded classes only", zap.String("entrypoint", entrypoint))
		return nil
	case ctx.Err() != nil:
		return nil
	default:
		a.logger.Error("entrypoint failed", zap.String("entrypoint", entrypoint), zap.Error(err))
		return err
	}
}

// Done is closed when the entrypoint has returned.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the entrypoint returns and reports its error.
func (a *Agent) Wait() error {
	a.mu.Lock()
	run := a.run
	a.mu.Unlock()
	if run == nil {
		return nil
	}
	return run.Wait()
}

// Stop cancels the entrypoint, drains the transport and shuts everything
// down. It is safe to call more than once.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return nil
	}
	a.stopped = true

	if a.cancel != nil {
		a.cancel()
	}
	if a.healthServer != nil {
		a.healthServer.SetReady(false)
	}
	if a.controlServer != nil {
		a.controlServer.Stop()
	}

	var runErr error
	if a.run != nil {
		runErr = a.run.Wait()
	}

	a.transport.Stop()
	if a.healthServer != nil {
		a.healthServer.Stop()
	}
	a.runtime.Close()

	snap := a.stats.Snapshot()
	a.logger.Info("agent stopped",
		zap.Int64("events", snap.EventsEmitted),
		zap.Int64("calls", snap.CallsObserved),
		zap.Int64("hooks_installed", snap.HooksInstalled),
		zap.Int64("hooks_failed", snap.HooksFailed),
		zap.Int64("events_dropped", snap.Export.Dropped),
	)
	return runErr
}

// Reload applies new filters to subsequent hooking passes. Other settings
// need a restart; classes already hooked are not re-scanned.
func (a *Agent) Reload(cfg *config.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	old := a.cfg.Load()
	if err := a.applyFilters(cfg); err != nil {
		return err
	}
	a.cfg.Store(cfg)

	if old.Runtime.Entrypoint != cfg.Runtime.Entrypoint || len(old.Runtime.Scripts) != len(cfg.Runtime.Scripts) {
		a.logger.Warn("runtime settings changed; restart to apply")
	}
	a.logger.Info("configuration reloaded",
		zap.String("include", cfg.Hook.Include),
		zap.String("exclude", cfg.Hook.Exclude),
	)
	return nil
}

// applyFilters checks both patterns, then pushes them to the surface. An
// empty include leaves the current inclusion filter in place.
func (a *Agent) applyFilters(cfg *config.Config) error {
	if _, err := hook.NewFilterSpec(cfg.Hook.Include, cfg.Hook.Exclude); err != nil {
		return err
	}
	if cfg.Hook.Include != "" {
		if err := a.surface.SetInclusionFilter(cfg.Hook.Include); err != nil {
			return err
		}
	}
	return a.surface.SetExclusionFilter(cfg.Hook.Exclude)
}
