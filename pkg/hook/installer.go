// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"fmt"
	"time"

	"github.com/postgor/android-trace/pkg/bridge"
	"github.com/postgor/android-trace/pkg/event"
	"go.uber.org/zap"
)

// State is the lifecycle state of one hook target.
type State int

const (
	StateUnhooked State = iota
	StateInstalling
	StateInstalled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnhooked:
		return "unhooked"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Target is one (member, signature) pair to hook. Constructors have an
// empty Member and MethodType event.Constructor.
type Target struct {
	Member     string
	MethodType event.MethodType
	Signature  bridge.Signature
}

// ConstructorTarget returns the target for one constructor signature.
func ConstructorTarget(sig bridge.Signature) Target {
	return Target{MethodType: event.Constructor, Signature: sig}
}

func (t Target) bridgeMember() string {
	if t.MethodType == event.Constructor {
		return bridge.ConstructorMember
	}
	return t.Member
}

func (t Target) hookedType() event.Type {
	if t.MethodType == event.Constructor {
		return event.ConstructorHooked
	}
	return event.MethodHooked
}

func (t Target) calledType() event.Type {
	if t.MethodType == event.Constructor {
		return event.ConstructorCalled
	}
	return event.MethodCalled
}

// InstallResult is the outcome of one install attempt.
type InstallResult struct {
	Class  string
	Target Target
	State  State
	Err    error
}

// Installer installs observation wrappers and reports them to a sink.
type Installer struct {
	sink   event.Sink
	format *Formatter
	logger *zap.Logger
}

// NewInstaller creates an installer. A nil formatter uses DefaultFormatter.
func NewInstaller(sink event.Sink, format *Formatter, logger *zap.Logger) *Installer {
	if format == nil {
		format = DefaultFormatter()
	}
	return &Installer{sink: sink, format: format, logger: logger}
}

// Install moves t from Unhooked through Installing to Installed or Failed.
// The hooked event is always emitted before the implementation is replaced,
// so it precedes every called event for the signature. Install never panics.
func (in *Installer) Install(h bridge.Handle, t Target) (res InstallResult) {
	className := h.ClassName()
	res = InstallResult{Class: className, Target: t, State: StateInstalling}
	argTypes := append([]string(nil), t.Signature...)

	in.sink.Emit(event.Event{
		Type: t.hookedType(),
		Data: event.Payload{
			MethodType: t.MethodType,
			ClassName:  className,
			MethodName: t.Member,
			Args:       argTypes,
		},
		Time: time.Now(),
	})

	err := replaceSafely(h, t.bridgeMember(), t.Signature, in.wrapper(h, className, t, argTypes))
	if err != nil {
		res.State = StateFailed
		res.Err = &HookInstallError{Class: className, Member: t.Member, Signature: t.Signature, Err: err}
		in.sink.Emit(event.Event{
			Type: event.ErrorHook,
			Data: event.Payload{
				MethodType: t.MethodType,
				ClassName:  className,
				MethodName: t.Member,
				Args:       argTypes,
				Error:      err.Error(),
			},
			Time: time.Now(),
		})
		in.logger.Warn("hook install failed",
			zap.String("class", className),
			zap.String("member", t.bridgeMember()),
			zap.Stringer("signature", t.Signature),
			zap.Error(err),
		)
		return res
	}

	res.State = StateInstalled
	in.logger.Debug("hook installed",
		zap.String("class", className),
		zap.String("member", t.bridgeMember()),
		zap.String("method_type", string(t.MethodType)),
		zap.Stringer("signature", t.Signature),
	)
	return res
}

func replaceSafely(h bridge.Handle, member string, sig bridge.Signature, w bridge.Wrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bridge panic: %v", r)
		}
	}()
	return h.Replace(member, sig, w)
}

// wrapper builds the call-time body. It only reads values captured here,
// so concurrent invocations are safe.
func (in *Installer) wrapper(h bridge.Handle, className string, t Target, argTypes []string) bridge.Wrapper {
	member := t.bridgeMember()
	sig := append(bridge.Signature(nil), t.Signature...)
	calledType := t.calledType()

	return func(call bridge.Call) (any, error) {
		args := in.format.Values(call.Args)

		ret, callErr := h.InvokeOriginal(call.Receiver, member, sig, call.Args)

		in.emitCalled(event.Event{
			Type: calledType,
			Data: event.Payload{
				MethodType: t.MethodType,
				ClassName:  className,
				MethodName: t.Member,
				ArgTypes:   argTypes,
				Args:       args,
			},
			Time: time.Now(),
		}, ret, callErr)

		return ret, callErr
	}
}

// emitCalled finishes and emits a called event. It swallows every panic so
// that observation never disturbs the target's call.
func (in *Installer) emitCalled(e event.Event, ret any, callErr error) {
	defer func() {
		if r := recover(); r != nil {
			in.logger.Debug("called event dropped", zap.Any("panic", r))
		}
	}()
	switch {
	case callErr != nil:
		e.Data.Error = in.format.Value(callErr.Error())
	case e.Type == event.MethodCalled:
		s := in.format.Value(ret)
		e.Data.Ret = &s
	}
	in.sink.Emit(e)
}
