// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"testing"

	"github.com/postgor/android-trace/pkg/bridge"
	"github.com/postgor/android-trace/pkg/bridge/bridgetest"
	"github.com/postgor/android-trace/pkg/event"
	"go.uber.org/zap"
)

func TestInstallLifecycle(t *testing.T) {
	cls := bridgetest.NewClass("a.Greeter", nil).
		Method("greet", bridge.Signature{"java.lang.String"}, func(recv any, args []any) (any, error) {
			return "hi " + args[0].(string), nil
		})
	b := bridgetest.New().Add(cls)
	h := handleFor(t, b, cls.Name)
	rec := &recorder{}
	in := NewInstaller(rec, nil, zap.NewNop())

	res := in.Install(h, Target{Member: "greet", MethodType: event.Method, Signature: bridge.Signature{"java.lang.String"}})
	if res.State != StateInstalled || res.Err != nil {
		t.Fatalf("Install = %v, %v", res.State, res.Err)
	}
	hooked := rec.ofType(event.MethodHooked)
	if len(hooked) != 1 || hooked[0].Data.Args[0] != "java.lang.String" {
		t.Fatalf("hooked events = %+v", hooked)
	}

	got, err := cls.Call(nil, "greet", "bob")
	if err != nil || got != "hi bob" {
		t.Fatalf("greet = %v, %v", got, err)
	}
	called := rec.ofType(event.MethodCalled)
	if len(called) != 1 {
		t.Fatalf("called events = %d, want 1", len(called))
	}
	d := called[0].Data
	if d.ClassName != "a.Greeter" || d.MethodName != "greet" || d.Args[0] != "bob" || *d.Ret != "hi bob" {
		t.Errorf("called payload = %+v", d)
	}
}

func TestInstallUnknownSignature(t *testing.T) {
	cls := bridgetest.NewClass("a.Greeter", nil).Method("greet", nil, nil)
	h := handleFor(t, bridgetest.New().Add(cls), cls.Name)
	rec := &recorder{}
	in := NewInstaller(rec, nil, zap.NewNop())

	res := in.Install(h, Target{Member: "greet", MethodType: event.Method, Signature: bridge.Signature{"long"}})
	if res.State != StateFailed {
		t.Fatalf("State = %v, want failed", res.State)
	}
	if len(rec.ofType(event.ErrorHook)) != 1 {
		t.Error("expected one errorHook event")
	}
}

func TestWrapperSurvivesUnprintableArguments(t *testing.T) {
	cls := bridgetest.NewClass("a.Sink", nil).
		Method("accept", bridge.Signature{"java.lang.Object"}, func(recv any, args []any) (any, error) {
			return 1, nil
		})
	h := handleFor(t, bridgetest.New().Add(cls), cls.Name)
	rec := &recorder{}
	in := NewInstaller(rec, nil, zap.NewNop())
	in.Install(h, Target{Member: "accept", MethodType: event.Method, Signature: bridge.Signature{"java.lang.Object"}})

	got, err := cls.Call(nil, "accept", panicStringer{})
	if err != nil || got != 1 {
		t.Fatalf("accept = %v, %v", got, err)
	}
	called := rec.ofType(event.MethodCalled)
	if len(called) != 1 || called[0].Data.Args[0] != "<unprintable: hook.panicStringer>" {
		t.Errorf("called = %+v", called)
	}
}

type panickingSink struct{}

func (panickingSink) Emit(e event.Event) {
	if e.Type.IsCalled() {
		panic("sink failure")
	}
}

func TestWrapperSurvivesSinkPanic(t *testing.T) {
	cls := bridgetest.NewClass("a.Calc", nil).
		Method("inc", bridge.Signature{"int"}, func(recv any, args []any) (any, error) {
			return args[0].(int) + 1, nil
		})
	h := handleFor(t, bridgetest.New().Add(cls), cls.Name)
	in := NewInstaller(panickingSink{}, nil, zap.NewNop())
	in.Install(h, Target{Member: "inc", MethodType: event.Method, Signature: bridge.Signature{"int"}})

	got, err := cls.Call(nil, "inc", 1)
	if err != nil || got != 2 {
		t.Errorf("inc = %v, %v; want 2", got, err)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateUnhooked:   "unhooked",
		StateInstalling: "installing",
		StateInstalled:  "installed",
		StateFailed:     "failed",
		State(9):        "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
