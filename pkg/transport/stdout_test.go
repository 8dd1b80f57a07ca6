// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package transport

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/postgor/android-trace/pkg/event"
)

func calledEvent() event.Event {
	ret := "11"
	return event.Event{
		Type: event.MethodCalled,
		Data: event.Payload{
			MethodType: event.OverloadedMethod,
			ClassName:  "com.example.Account",
			MethodName: "deposit",
			ArgTypes:   []string{"int"},
			Args:       []string{"10"},
			Ret:        &ret,
		},
		Time: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
	}
}

func TestStdoutExporterJSON(t *testing.T) {
	var buf bytes.Buffer
	exp := NewStdoutExporter("json", &buf)

	events := []event.Event{
		event.Message(event.ClassDiscovered, "com.example.Account"),
		calledEvent(),
	}
	if err := exp.ExportEvents(context.Background(), events); err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if want := `{"type":"classDiscovered","data":"com.example.Account"}`; lines[0] != want {
		t.Errorf("line 0 = %s, want %s", lines[0], want)
	}
	want := `{"type":"methodCalled","data":{"methodType":"OVERLOADED_METHOD","className":"com.example.Account","methodName":"deposit","args":["10"],"argTypes":["int"],"ret":"11"}}`
	if lines[1] != want {
		t.Errorf("line 1 = %s, want %s", lines[1], want)
	}
}

func TestStdoutExporterText(t *testing.T) {
	var buf bytes.Buffer
	exp := NewStdoutExporter("", &buf)

	if err := exp.ExportEvents(context.Background(), []event.Event{calledEvent()}); err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "[15:04:05.000] methodCalled") {
		t.Errorf("unexpected prefix: %q", out)
	}
	if !strings.Contains(out, "OVERLOADED_METHOD com.example.Account.deposit args=[10] ret=11") {
		t.Errorf("missing summary: %q", out)
	}
	if exp.Name() != "stdout" {
		t.Errorf("expected name stdout, got %s", exp.Name())
	}
}
