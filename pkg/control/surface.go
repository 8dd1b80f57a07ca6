// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package control exposes the hooking engine to operators: filter updates,
// class enumeration and hooking passes, locally and over a Unix socket.
package control

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/postgor/android-trace/pkg/hook"
	"go.uber.org/zap"
)

// PassRecorder is told about every finished hooking pass.
type PassRecorder interface {
	RecordPass(report *hook.BatchReport)
}

// Surface holds the current filter and runs passes against an engine.
// Filter updates apply to passes started afterwards; a running pass keeps
// the snapshot it started with.
type Surface struct {
	engine   *hook.Engine
	recorder PassRecorder
	logger   *zap.Logger

	filter atomic.Pointer[hook.FilterSpec]
	setMu  sync.Mutex // serializes filter read-modify-write
	passMu sync.Mutex // one pass at a time
}

// NewSurface creates a surface with no inclusion filter. recorder may be nil.
func NewSurface(engine *hook.Engine, recorder PassRecorder, logger *zap.Logger) *Surface {
	s := &Surface{engine: engine, recorder: recorder, logger: logger}
	s.filter.Store(&hook.FilterSpec{})
	return s
}

// Filter returns the current filter snapshot.
func (s *Surface) Filter() hook.FilterSpec {
	return *s.filter.Load()
}

// Filters reads back the current patterns.
func (s *Surface) Filters() (include, exclude string, excludeActive bool) {
	f := s.Filter()
	return f.Include(), f.Exclude(), f.ExcludeActive()
}

// SetInclusionFilter replaces the inclusion pattern. A malformed pattern
// returns a *hook.ConfigError and keeps the previous filter.
func (s *Surface) SetInclusionFilter(pattern string) error {
	return s.update("include", pattern, hook.FilterSpec.WithInclude)
}

// SetExclusionFilter replaces the exclusion pattern. An empty pattern
// deactivates exclusion.
func (s *Surface) SetExclusionFilter(pattern string) error {
	return s.update("exclude", pattern, hook.FilterSpec.WithExclude)
}

func (s *Surface) update(field, pattern string, with func(hook.FilterSpec, string) (hook.FilterSpec, error)) error {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	next, err := with(s.Filter(), pattern)
	if err != nil {
		s.logger.Warn("filter rejected", zap.String("field", field), zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	s.filter.Store(&next)
	s.logger.Info("filter updated", zap.String("field", field), zap.String("pattern", pattern))
	return nil
}

// EnumerateClasses reports every loaded class without hooking anything.
func (s *Surface) EnumerateClasses(ctx context.Context) (int, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	return s.engine.EnumerateClasses(ctx)
}

// HookClasses runs a hooking pass over names with the current filter.
func (s *Surface) HookClasses(ctx context.Context, names []string) (*hook.BatchReport, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	spec := s.Filter()
	report, err := s.engine.HookClasses(ctx, spec, names)
	if report != nil && s.recorder != nil {
		s.recorder.RecordPass(report)
	}
	return report, err
}
