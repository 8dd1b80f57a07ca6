// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package event

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMarshalMessageEvent(t *testing.T) {
	e := Message(ErrorGeneric, "class resolution failed for %s", "com.example.Missing")

	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"type":"errorGeneric","data":"class resolution failed for com.example.Missing"}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestMarshalHookEvent(t *testing.T) {
	ret := "42"
	e := Event{
		Type: MethodCalled,
		Data: Payload{
			MethodType: OverloadedMethod,
			ClassName:  "com.example.Account",
			MethodName: "deposit",
			Args:       []string{"5"},
			ArgTypes:   []string{"int"},
			Ret:        &ret,
		},
	}

	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	for _, frag := range []string{
		`"type":"methodCalled"`,
		`"methodType":"OVERLOADED_METHOD"`,
		`"className":"com.example.Account"`,
		`"methodName":"deposit"`,
		`"args":["5"]`,
		`"argTypes":["int"]`,
		`"ret":"42"`,
	} {
		if !strings.Contains(s, frag) {
			t.Errorf("encoded event %s missing %s", s, frag)
		}
	}
	if strings.Contains(s, "Message") || strings.Contains(s, `"error"`) {
		t.Errorf("unexpected field in %s", s)
	}
}

func TestUnmarshalWireShape(t *testing.T) {
	in := []byte(`{"type":"classDiscovered","data":"com.example.Foo"}`)
	var e Event
	if err := json.Unmarshal(in, &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Type != ClassDiscovered || e.Data.Message != "com.example.Foo" {
		t.Errorf("got %+v", e)
	}

	in = []byte(`{"type":"constructorHooked","data":{"methodType":"CONSTRUCTOR","className":"a.B","args":["int"]}}`)
	if err := json.Unmarshal(in, &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Data.ClassName != "a.B" || len(e.Data.Args) != 1 || e.Data.Message != "" {
		t.Errorf("got %+v", e)
	}
}

func TestTypePredicates(t *testing.T) {
	if !ConstructorHooked.IsHooked() || !MethodHooked.IsHooked() || MethodCalled.IsHooked() {
		t.Error("IsHooked mismatch")
	}
	if !ConstructorCalled.IsCalled() || !MethodCalled.IsCalled() || ErrorHook.IsCalled() {
		t.Error("IsCalled mismatch")
	}
	if ErrorHook.IsMessage() || !Info.IsMessage() {
		t.Error("IsMessage mismatch")
	}
}

func TestSummary(t *testing.T) {
	e := Event{Type: MethodHooked, Data: Payload{
		MethodType: Method, ClassName: "a.B", MethodName: "getX", Args: []string{"int"},
	}}
	if got := e.Summary(); got != "METHOD a.B.getX[int]" {
		t.Errorf("Summary() = %q", got)
	}
}
