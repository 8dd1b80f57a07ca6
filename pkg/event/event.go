// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package event defines the structured events reported by the hooking engine
// and the sink they are delivered to.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type tags an event.
type Type string

const (
	ClassDiscovered   Type = "classDiscovered"
	Info              Type = "info"
	ConstructorHooked Type = "constructorHooked"
	ConstructorCalled Type = "constructorCalled"
	MethodHooked      Type = "methodHooked"
	MethodCalled      Type = "methodCalled"
	ErrorGeneric      Type = "errorGeneric"
	ErrorHook         Type = "errorHook"
)

// MethodType identifies which kind of member an event describes.
type MethodType string

const (
	Constructor      MethodType = "CONSTRUCTOR"
	Method           MethodType = "METHOD"
	OverloadedMethod MethodType = "OVERLOADED_METHOD"
)

// Payload carries the data of an event. Which fields are set depends on the
// event type: classDiscovered, info and errorGeneric only use Message.
type Payload struct {
	MethodType MethodType `json:"methodType,omitempty"`
	ClassName  string     `json:"className,omitempty"`
	MethodName string     `json:"methodName,omitempty"`
	Args       []string   `json:"args,omitempty"`
	ArgTypes   []string   `json:"argTypes,omitempty"`
	Ret        *string    `json:"ret,omitempty"`
	Error      string     `json:"error,omitempty"`
	Message    string     `json:"-"`
}

// Event is a single immutable report emitted to the observer.
type Event struct {
	Type Type
	Data Payload
	Time time.Time
}

// Sink receives events. Emit must be safe for concurrent use and must not block.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// IsMessage reports whether the event carries a plain message instead of a
// structured hook payload.
func (t Type) IsMessage() bool {
	switch t {
	case ClassDiscovered, Info, ErrorGeneric:
		return true
	}
	return false
}

// IsHooked reports whether the type records a hook installation.
func (t Type) IsHooked() bool {
	return t == ConstructorHooked || t == MethodHooked
}

// IsCalled reports whether the type records an intercepted call.
func (t Type) IsCalled() bool {
	return t == ConstructorCalled || t == MethodCalled
}

type wireEvent struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the event as {"type": ..., "data": ...}. Message events
// carry their message as a bare string in data.
func (e Event) MarshalJSON() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if e.Type.IsMessage() {
		data, err = json.Marshal(e.Data.Message)
	} else {
		data, err = json.Marshal(e.Data)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Type: e.Type, Data: data})
}

// UnmarshalJSON decodes the wire shape produced by MarshalJSON.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Type = w.Type
	e.Data = Payload{}
	if len(w.Data) == 0 {
		return nil
	}
	if w.Type.IsMessage() {
		if err := json.Unmarshal(w.Data, &e.Data.Message); err != nil {
			return fmt.Errorf("decode %s message: %w", w.Type, err)
		}
		return nil
	}
	if err := json.Unmarshal(w.Data, &e.Data); err != nil {
		return fmt.Errorf("decode %s payload: %w", w.Type, err)
	}
	return nil
}

// Summary renders a one-line human-readable form of the event.
func (e Event) Summary() string {
	if e.Type.IsMessage() {
		return e.Data.Message
	}
	d := e.Data
	name := d.ClassName
	if d.MethodName != "" {
		name += "." + d.MethodName
	}
	switch e.Type {
	case ConstructorCalled, MethodCalled:
		s := fmt.Sprintf("%s %s args=%v", d.MethodType, name, d.Args)
		if d.Ret != nil {
			s += " ret=" + *d.Ret
		}
		if d.Error != "" {
			s += " error=" + d.Error
		}
		return s
	default:
		return fmt.Sprintf("%s %s%v", d.MethodType, name, d.Args)
	}
}

// Message builds a message-style event.
func Message(t Type, format string, args ...interface{}) Event {
	return Event{
		Type: t,
		Data: Payload{Message: fmt.Sprintf(format, args...)},
		Time: time.Now(),
	}
}
