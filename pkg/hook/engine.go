// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/postgor/android-trace/pkg/bridge"
	"github.com/postgor/android-trace/pkg/event"
	"go.uber.org/zap"
)

// ClassReport is the outcome of hooking one class.
type ClassReport struct {
	Name string

	// Err is set when the whole class was skipped.
	Err error

	Installs []InstallResult

	// Skipped lists callable members rejected by the filter.
	Skipped []string

	// MemberErrors holds per-member introspection failures.
	MemberErrors []error

	// Diagnostics holds non-fatal findings such as ErrMarkersMissing.
	Diagnostics []error
}

// Installed counts successful installs.
func (r *ClassReport) Installed() int {
	n := 0
	for _, in := range r.Installs {
		if in.State == StateInstalled {
			n++
		}
	}
	return n
}

// Failed counts failed installs and member errors.
func (r *ClassReport) Failed() int {
	n := len(r.MemberErrors)
	for _, in := range r.Installs {
		if in.State == StateFailed {
			n++
		}
	}
	return n
}

// BatchReport aggregates one hooking pass.
type BatchReport struct {
	Classes []ClassReport
}

// Installed counts successful installs across all classes.
func (b *BatchReport) Installed() int {
	n := 0
	for i := range b.Classes {
		n += b.Classes[i].Installed()
	}
	return n
}

// Failed counts failed installs and member errors across all classes.
func (b *BatchReport) Failed() int {
	n := 0
	for i := range b.Classes {
		n += b.Classes[i].Failed()
	}
	return n
}

// SkippedClasses counts classes that could not be processed at all.
func (b *BatchReport) SkippedClasses() int {
	n := 0
	for i := range b.Classes {
		if b.Classes[i].Err != nil {
			n++
		}
	}
	return n
}

// Options tunes an Engine.
type Options struct {
	Discovery Discovery
	Formatter *Formatter
}

// Engine drives class discovery, filtering and hook installation against a
// bridge. It keeps no per-pass state: the filter and class handles are
// passed explicitly through each pass.
type Engine struct {
	bridge    bridge.Bridge
	sink      event.Sink
	installer *Installer
	discovery Discovery
	logger    *zap.Logger
}

// NewEngine creates a hooking engine that reports to sink.
func NewEngine(b bridge.Bridge, sink event.Sink, opts Options, logger *zap.Logger) *Engine {
	return &Engine{
		bridge:    b,
		sink:      sink,
		installer: NewInstaller(sink, opts.Formatter, logger),
		discovery: opts.Discovery,
		logger:    logger,
	}
}

// HookClasses hooks every class in names, in order, with spec. Failures of
// single classes or members are reported as events and collected in the
// report; they never stop the batch. The returned error is non-nil only for
// a missing filter, an unavailable bridge, or ctx cancellation between
// classes.
func (e *Engine) HookClasses(ctx context.Context, spec FilterSpec, names []string) (*BatchReport, error) {
	if !spec.Configured() {
		return nil, ErrFilterNotConfigured
	}
	if !e.bridge.Available() {
		e.sink.Emit(event.Message(event.ErrorGeneric, "instrumentation bridge unavailable - hooking aborted"))
		e.logger.Error("bridge unavailable, hooking aborted", zap.Int("classes", len(names)))
		return nil, ErrBridgeUnavailable
	}

	report := &BatchReport{Classes: make([]ClassReport, 0, len(names))}
	err := e.bridge.Perform(func() error {
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			report.Classes = append(report.Classes, e.hookClass(spec, name))
		}
		return nil
	})

	e.logger.Info("hooking pass finished",
		zap.Int("classes", len(report.Classes)),
		zap.Int("skipped_classes", report.SkippedClasses()),
		zap.Int("installed", report.Installed()),
		zap.Int("failed", report.Failed()),
		zap.String("include", spec.Include()),
		zap.String("exclude", spec.Exclude()),
	)
	return report, err
}

func (e *Engine) hookClass(spec FilterSpec, name string) (cr ClassReport) {
	cr.Name = name
	defer func() {
		if r := recover(); r != nil {
			cr.Err = fmt.Errorf("panic while hooking class %s: %v", name, r)
			e.sink.Emit(event.Message(event.ErrorGeneric, "Hooking aborted in class: %s - %v", name, r))
			e.logger.Error("class hooking panicked", zap.String("class", name), zap.Any("panic", r))
		}
	}()

	h, err := e.bridge.ClassHandle(name)
	if err != nil {
		cr.Err = &ClassResolutionError{Class: name, Err: err}
		e.sink.Emit(event.Message(event.ErrorGeneric, "Class resolution error in class: %s - skipping class (%v)", name, err))
		e.logger.Warn("class resolution failed", zap.String("class", name), zap.Error(err))
		return cr
	}

	e.hookConstructors(h, &cr)

	members, err := ClassifyMembers(h, PropertyNames(h), e.discovery)
	if err != nil {
		cr.Diagnostics = append(cr.Diagnostics, err)
		e.sink.Emit(event.Message(event.Info, "No methods discovered in class: %s (%v)", name, err))
		e.logger.Warn("member classification failed", zap.String("class", name), zap.Error(err))
	}

	for _, member := range members {
		if !spec.Hookable(member) {
			cr.Skipped = append(cr.Skipped, member)
			continue
		}
		e.hookMember(h, member, &cr)
	}
	return cr
}

func (e *Engine) hookConstructors(h bridge.Handle, cr *ClassReport) {
	sigs, err := h.Constructors()
	if err != nil {
		e.memberError(h, "", event.Constructor, err, cr)
		return
	}
	if len(sigs) == 0 {
		e.sink.Emit(event.Message(event.Info, "No constructor to hook in class: %s", h.ClassName()))
		return
	}
	for _, sig := range sigs {
		cr.Installs = append(cr.Installs, e.installer.Install(h, ConstructorTarget(sig)))
	}
}

// hookMember resolves and installs one member. A panic in the bridge is
// contained to this member.
func (e *Engine) hookMember(h bridge.Handle, member string, cr *ClassReport) {
	defer func() {
		if r := recover(); r != nil {
			e.memberError(h, member, event.Method, fmt.Errorf("bridge panic: %v", r), cr)
		}
	}()

	res, err := ResolveOverloads(h, member)
	if err != nil {
		e.memberError(h, member, event.Method, err, cr)
		return
	}
	for _, sig := range res.Signatures {
		cr.Installs = append(cr.Installs, e.installer.Install(h, Target{
			Member:     member,
			MethodType: res.Strategy.MethodType(),
			Signature:  sig,
		}))
	}
}

func (e *Engine) memberError(h bridge.Handle, member string, mt event.MethodType, err error, cr *ClassReport) {
	var mie *MemberIntrospectionError
	if !errors.As(err, &mie) {
		err = &MemberIntrospectionError{Class: h.ClassName(), Member: member, Err: err}
	}
	cr.MemberErrors = append(cr.MemberErrors, err)
	e.sink.Emit(event.Event{
		Type: event.ErrorHook,
		Data: event.Payload{
			MethodType: mt,
			ClassName:  h.ClassName(),
			MethodName: member,
			Error:      err.Error(),
		},
		Time: time.Now(),
	})
	e.logger.Warn("member introspection failed",
		zap.String("class", h.ClassName()),
		zap.String("member", member),
		zap.Error(err),
	)
}

// EnumerateClasses reports every loaded class as a classDiscovered event.
// It never installs hooks. On failure it emits exactly one errorGeneric
// event and returns an *EnumerationError.
func (e *Engine) EnumerateClasses(ctx context.Context) (int, error) {
	if !e.bridge.Available() {
		e.sink.Emit(event.Message(event.ErrorGeneric, "instrumentation bridge unavailable - enumeration aborted"))
		return 0, &EnumerationError{Err: ErrBridgeUnavailable}
	}

	count := 0
	err := e.bridge.Perform(func() error {
		for name, err := range e.bridge.EnumerateLoadedClasses() {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			e.sink.Emit(event.Message(event.ClassDiscovered, "%s", name))
			count++
		}
		return nil
	})
	if err != nil {
		e.sink.Emit(event.Message(event.ErrorGeneric, "Class enumeration error: %v", err))
		e.logger.Warn("class enumeration failed", zap.Int("discovered", count), zap.Error(err))
		return count, &EnumerationError{Err: err}
	}

	e.logger.Info("class enumeration finished", zap.Int("classes", count))
	return count, nil
}
