// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package bridge defines the reflection and interception primitives the
// hooking engine needs from a managed runtime.
package bridge

import (
	"errors"
	"iter"
	"strings"
)

// Sentinel entries of the member-lookup chain.
const (
	// ClassNameMarker precedes a class's own members in the chain.
	ClassNameMarker = "$className"
	// ConstructorMarker follows a class's own members in the chain.
	ConstructorMarker = "constructor"
	// ConstructorMember names constructors in Replace and InvokeOriginal.
	ConstructorMember = "$init"
)

var (
	// ErrClassNotFound is returned by ClassHandle for unknown classes.
	ErrClassNotFound = errors.New("class not found")
	// ErrNoSuchSignature is returned when a member has no overload matching
	// the requested signature.
	ErrNoSuchSignature = errors.New("no overload with signature")
	// ErrNotCallable is returned when a member exists but is not a method.
	ErrNotCallable = errors.New("member is not callable")
)

// Signature is the ordered list of parameter type names of one overload.
type Signature []string

// String renders the signature as "(a, b)".
func (s Signature) String() string {
	return "(" + strings.Join(s, ", ") + ")"
}

// Equal reports whether two signatures have the same parameter types.
func (s Signature) Equal(o Signature) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// MemberKind classifies a member of a class.
type MemberKind int

const (
	KindOther MemberKind = iota
	KindCallable
	KindField
)

func (k MemberKind) String() string {
	switch k {
	case KindCallable:
		return "callable"
	case KindField:
		return "field"
	default:
		return "other"
	}
}

// Member describes one declared member of a class.
type Member struct {
	Name string
	Kind MemberKind
}

// Call is a single intercepted invocation.
type Call struct {
	Receiver any
	Args     []any
}

// Wrapper replaces a member implementation. It receives every call the
// target makes to the hooked overload and returns what the caller sees.
type Wrapper func(call Call) (any, error)

// PropertyLevel is one level of a member-lookup chain.
type PropertyLevel interface {
	// OwnPropertyNames returns the names defined directly on this level.
	OwnPropertyNames() []string

	// Prototype returns the next level of the chain, if any.
	Prototype() (PropertyLevel, bool)
}

// Handle is an opaque reference to a loaded class.
type Handle interface {
	PropertyLevel

	// ClassName returns the fully-qualified class name.
	ClassName() string

	// MemberKind looks name up on the class (including inherited members).
	MemberKind(name string) MemberKind

	// Constructors returns the constructor signatures declared by the class.
	Constructors() ([]Signature, error)

	// Signatures returns every overload of a callable member.
	Signatures(member string) ([]Signature, error)

	// Replace installs w as the implementation of the overload of member
	// matching sig. Use ConstructorMember for constructors.
	Replace(member string, sig Signature, w Wrapper) error

	// InvokeOriginal calls the unhooked implementation of the overload.
	// It must only be called from inside a Wrapper.
	InvokeOriginal(receiver any, member string, sig Signature, args []any) (any, error)
}

// DeclaredMemberLister is an optional Handle capability: a bridge that can
// list a class's own declared members directly, without walking the
// lookup chain.
//
//	if dl, ok := h.(DeclaredMemberLister); ok {
//	    members := dl.DeclaredMembers()
//	}
type DeclaredMemberLister interface {
	DeclaredMembers() []Member
}

// Bridge gives access to a managed runtime.
type Bridge interface {
	// Available reports whether the runtime can be instrumented at all.
	Available() bool

	// Perform runs fn on the runtime's instrumentation thread and returns
	// fn's error.
	Perform(fn func() error) error

	// EnumerateLoadedClasses lazily yields the names of all loaded classes.
	// The sequence is finite and restarts only when called again.
	EnumerateLoadedClasses() iter.Seq2[string, error]

	// ClassHandle resolves a loaded class by name.
	ClassHandle(name string) (Handle, error)
}
