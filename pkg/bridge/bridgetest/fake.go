// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package bridgetest provides an in-memory bridge.Bridge for tests.
package bridgetest

import (
	"fmt"
	"iter"
	"sync"

	"github.com/postgor/android-trace/pkg/bridge"
)

// Impl is the body of a fake overload.
type Impl func(receiver any, args []any) (any, error)

// Overload is one signature of a fake member.
type Overload struct {
	Sig  bridge.Signature
	Impl Impl

	hook bridge.Wrapper
}

// Class is a fake loaded class.
type Class struct {
	Name   string
	Parent *Class

	// Chain, when set, replaces the own-level property names reported for
	// this class (used to simulate malformed lookup chains).
	Chain []string

	// Declared exposes the bridge.DeclaredMemberLister capability.
	Declared bool

	// ReplaceErr fails Replace for the given member ("$init" for constructors).
	ReplaceErr map[string]error
	// SignaturesErr fails Signatures for the given member.
	SignaturesErr map[string]error

	ctors   []*Overload
	order   []string
	methods map[string][]*Overload
	fields  map[string]any

	mu sync.Mutex
}

// NewClass creates a fake class.
func NewClass(name string, parent *Class) *Class {
	return &Class{
		Name:    name,
		Parent:  parent,
		methods: make(map[string][]*Overload),
		fields:  make(map[string]any),
	}
}

// Constructor declares a constructor overload.
func (c *Class) Constructor(sig bridge.Signature, impl Impl) *Class {
	c.ctors = append(c.ctors, &Overload{Sig: sig, Impl: impl})
	return c
}

// Method declares a method overload.
func (c *Class) Method(name string, sig bridge.Signature, impl Impl) *Class {
	if _, ok := c.methods[name]; !ok {
		if _, isField := c.fields[name]; !isField {
			c.order = append(c.order, name)
		}
	}
	c.methods[name] = append(c.methods[name], &Overload{Sig: sig, Impl: impl})
	return c
}

// Field declares a non-callable member.
func (c *Class) Field(name string, value any) *Class {
	if _, ok := c.fields[name]; !ok {
		c.order = append(c.order, name)
	}
	c.fields[name] = value
	return c
}

// Hooked reports whether a wrapper is installed on the given overload.
func (c *Class) Hooked(member string, sig bridge.Signature) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ov, err := c.overload(member, sig)
	return err == nil && ov.hook != nil
}

// Call invokes a method the way the target would: through the installed
// wrapper when one exists. The overload is picked by argument count.
func (c *Class) Call(receiver any, member string, args ...any) (any, error) {
	return c.dispatch(receiver, member, args)
}

// New constructs an instance through the matching constructor overload.
func (c *Class) New(args ...any) (any, error) {
	receiver := &Instance{Class: c}
	if _, err := c.dispatch(receiver, bridge.ConstructorMember, args); err != nil {
		return nil, err
	}
	return receiver, nil
}

// Instance is a receiver created by Class.New.
type Instance struct {
	Class *Class
	State map[string]any
}

func (c *Class) dispatch(receiver any, member string, args []any) (any, error) {
	c.mu.Lock()
	var candidates []*Overload
	if member == bridge.ConstructorMember {
		candidates = c.ctors
	} else {
		candidates = c.lookupMethod(member)
	}
	var ov *Overload
	for _, o := range candidates {
		if len(o.Sig) == len(args) {
			ov = o
			break
		}
	}
	var hook bridge.Wrapper
	if ov != nil {
		hook = ov.hook
	}
	c.mu.Unlock()

	if ov == nil {
		return nil, fmt.Errorf("%s.%s: no overload takes %d arguments", c.Name, member, len(args))
	}
	if hook != nil {
		return hook(bridge.Call{Receiver: receiver, Args: args})
	}
	return invoke(ov, receiver, args)
}

func invoke(ov *Overload, receiver any, args []any) (any, error) {
	if ov.Impl == nil {
		return nil, nil
	}
	return ov.Impl(receiver, args)
}

func (c *Class) lookupMethod(name string) []*Overload {
	for k := c; k != nil; k = k.Parent {
		if ovs, ok := k.methods[name]; ok {
			return ovs
		}
	}
	return nil
}

func (c *Class) overload(member string, sig bridge.Signature) (*Overload, error) {
	var candidates []*Overload
	if member == bridge.ConstructorMember {
		candidates = c.ctors
	} else {
		candidates = c.lookupMethod(member)
	}
	for _, o := range candidates {
		if o.Sig.Equal(sig) {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%s.%s%s: %w", c.Name, member, sig, bridge.ErrNoSuchSignature)
}

// Bridge is an in-memory bridge.Bridge.
type Bridge struct {
	// Unavailable makes Available report false.
	Unavailable bool
	// EnumerateErr is yielded after the first class during enumeration.
	EnumerateErr error
	// ResolveErr fails ClassHandle for the named classes.
	ResolveErr map[string]error

	mu       sync.Mutex
	classes  map[string]*Class
	order    []string
	performs int
}

// New creates an empty fake bridge.
func New() *Bridge {
	return &Bridge{classes: make(map[string]*Class)}
}

// Add registers classes.
func (b *Bridge) Add(classes ...*Class) *Bridge {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range classes {
		if _, ok := b.classes[c.Name]; !ok {
			b.order = append(b.order, c.Name)
		}
		b.classes[c.Name] = c
	}
	return b
}

// Performs returns how many times Perform was entered.
func (b *Bridge) Performs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.performs
}

// Available implements bridge.Bridge.
func (b *Bridge) Available() bool { return !b.Unavailable }

// Perform implements bridge.Bridge.
func (b *Bridge) Perform(fn func() error) error {
	b.mu.Lock()
	b.performs++
	b.mu.Unlock()
	return fn()
}

// EnumerateLoadedClasses implements bridge.Bridge.
func (b *Bridge) EnumerateLoadedClasses() iter.Seq2[string, error] {
	b.mu.Lock()
	names := append([]string(nil), b.order...)
	b.mu.Unlock()
	return func(yield func(string, error) bool) {
		for i, name := range names {
			if !yield(name, nil) {
				return
			}
			if i == 0 && b.EnumerateErr != nil {
				yield("", b.EnumerateErr)
				return
			}
		}
	}
}

// ClassHandle implements bridge.Bridge.
func (b *Bridge) ClassHandle(name string) (bridge.Handle, error) {
	if err, ok := b.ResolveErr[name]; ok {
		return nil, err
	}
	b.mu.Lock()
	c, ok := b.classes[name]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, bridge.ErrClassNotFound)
	}
	h := &handle{class: c}
	if c.Declared {
		return &declaredHandle{handle: h}, nil
	}
	return h, nil
}

type level struct {
	class *Class
}

func (l level) OwnPropertyNames() []string {
	if l.class.Chain != nil {
		return l.class.Chain
	}
	names := make([]string, 0, len(l.class.order)+2)
	names = append(names, bridge.ClassNameMarker)
	names = append(names, l.class.order...)
	return append(names, bridge.ConstructorMarker)
}

func (l level) Prototype() (bridge.PropertyLevel, bool) {
	if l.class.Parent == nil {
		return nil, false
	}
	return level{class: l.class.Parent}, true
}

type handle struct {
	class *Class
}

func (h *handle) OwnPropertyNames() []string { return level{h.class}.OwnPropertyNames() }

func (h *handle) Prototype() (bridge.PropertyLevel, bool) { return level{h.class}.Prototype() }

func (h *handle) ClassName() string { return h.class.Name }

func (h *handle) MemberKind(name string) bridge.MemberKind {
	for k := h.class; k != nil; k = k.Parent {
		if _, ok := k.methods[name]; ok {
			return bridge.KindCallable
		}
		if _, ok := k.fields[name]; ok {
			return bridge.KindField
		}
	}
	return bridge.KindOther
}

func (h *handle) Constructors() ([]bridge.Signature, error) {
	sigs := make([]bridge.Signature, 0, len(h.class.ctors))
	for _, o := range h.class.ctors {
		sigs = append(sigs, o.Sig)
	}
	return sigs, nil
}

func (h *handle) Signatures(member string) ([]bridge.Signature, error) {
	if err, ok := h.class.SignaturesErr[member]; ok {
		return nil, err
	}
	ovs := h.class.lookupMethod(member)
	if ovs == nil {
		return nil, fmt.Errorf("%s.%s: %w", h.class.Name, member, bridge.ErrNotCallable)
	}
	sigs := make([]bridge.Signature, 0, len(ovs))
	for _, o := range ovs {
		sigs = append(sigs, o.Sig)
	}
	return sigs, nil
}

func (h *handle) Replace(member string, sig bridge.Signature, w bridge.Wrapper) error {
	if err, ok := h.class.ReplaceErr[member]; ok {
		return err
	}
	h.class.mu.Lock()
	defer h.class.mu.Unlock()
	ov, err := h.class.overload(member, sig)
	if err != nil {
		return err
	}
	ov.hook = w
	return nil
}

func (h *handle) InvokeOriginal(receiver any, member string, sig bridge.Signature, args []any) (any, error) {
	h.class.mu.Lock()
	ov, err := h.class.overload(member, sig)
	h.class.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return invoke(ov, receiver, args)
}

type declaredHandle struct {
	*handle
}

func (h *declaredHandle) DeclaredMembers() []bridge.Member {
	members := make([]bridge.Member, 0, len(h.class.order))
	for _, name := range h.class.order {
		kind := bridge.KindCallable
		if _, ok := h.class.fields[name]; ok {
			kind = bridge.KindField
		}
		members = append(members, bridge.Member{Name: name, Kind: kind})
	}
	return members
}
