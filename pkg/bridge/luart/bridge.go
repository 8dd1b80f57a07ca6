// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package luart

import (
	"errors"
	"fmt"
	"iter"

	lua "github.com/yuin/gopher-lua"

	"github.com/postgor/android-trace/pkg/bridge"
)

// ErrOutsideCall is returned by InvokeOriginal when no hooked call is in
// progress.
var ErrOutsideCall = errors.New("InvokeOriginal called outside a hooked call")

var _ bridge.Bridge = (*Runtime)(nil)

// Available implements bridge.Bridge.
func (r *Runtime) Available() bool {
	return !r.closed.Load()
}

// Perform serializes hooking passes. It does not take the Lua state, so a
// pass can install hooks while the target script is running.
func (r *Runtime) Perform(fn func() error) error {
	r.performMu.Lock()
	defer r.performMu.Unlock()
	return fn()
}

// EnumerateLoadedClasses yields classes in definition order.
func (r *Runtime) EnumerateLoadedClasses() iter.Seq2[string, error] {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	r.mu.RUnlock()
	return func(yield func(string, error) bool) {
		for _, name := range names {
			if !yield(name, nil) {
				return
			}
		}
	}
}

// ClassHandle implements bridge.Bridge.
func (r *Runtime) ClassHandle(name string) (bridge.Handle, error) {
	r.mu.RLock()
	c, ok := r.classes[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, bridge.ErrClassNotFound)
	}
	return &handle{r: r, c: c}, nil
}

type handle struct {
	r *Runtime
	c *class
}

var (
	_ bridge.Handle               = (*handle)(nil)
	_ bridge.DeclaredMemberLister = (*handle)(nil)
)

type level struct {
	r *Runtime
	c *class
}

func (l level) OwnPropertyNames() []string {
	l.r.mu.RLock()
	defer l.r.mu.RUnlock()
	names := make([]string, 0, len(l.c.order)+2)
	names = append(names, bridge.ClassNameMarker)
	names = append(names, l.c.order...)
	return append(names, bridge.ConstructorMarker)
}

func (l level) Prototype() (bridge.PropertyLevel, bool) {
	if l.c.parent == nil {
		return nil, false
	}
	return level{r: l.r, c: l.c.parent}, true
}

func (h *handle) OwnPropertyNames() []string { return level{h.r, h.c}.OwnPropertyNames() }

func (h *handle) Prototype() (bridge.PropertyLevel, bool) { return level{h.r, h.c}.Prototype() }

func (h *handle) ClassName() string { return h.c.name }

func (h *handle) MemberKind(name string) bridge.MemberKind {
	h.r.mu.RLock()
	defer h.r.mu.RUnlock()
	for k := h.c; k != nil; k = k.parent {
		if _, ok := k.methods[name]; ok {
			return bridge.KindCallable
		}
		if _, ok := k.fields[name]; ok {
			return bridge.KindField
		}
	}
	return bridge.KindOther
}

func (h *handle) DeclaredMembers() []bridge.Member {
	h.r.mu.RLock()
	defer h.r.mu.RUnlock()
	members := make([]bridge.Member, 0, len(h.c.order))
	for _, name := range h.c.order {
		kind := bridge.KindCallable
		if _, ok := h.c.fields[name]; ok {
			kind = bridge.KindField
		}
		members = append(members, bridge.Member{Name: name, Kind: kind})
	}
	return members
}

func signatures(ovs []*overload) []bridge.Signature {
	sigs := make([]bridge.Signature, 0, len(ovs))
	for _, o := range ovs {
		sigs = append(sigs, append(bridge.Signature{}, o.sig...))
	}
	return sigs
}

func (h *handle) Constructors() ([]bridge.Signature, error) {
	h.r.mu.RLock()
	defer h.r.mu.RUnlock()
	return signatures(h.c.ctors), nil
}

func (h *handle) Signatures(member string) ([]bridge.Signature, error) {
	h.r.mu.RLock()
	defer h.r.mu.RUnlock()
	ovs := h.c.lookupMethod(member)
	if ovs == nil {
		return nil, fmt.Errorf("%s.%s: %w", h.c.name, member, bridge.ErrNotCallable)
	}
	return signatures(ovs), nil
}

func (h *handle) find(member string, sig bridge.Signature) (*overload, error) {
	for _, o := range h.c.overloads(member) {
		if o.sig.Equal(sig) {
			return o, nil
		}
	}
	return nil, fmt.Errorf("%s.%s%s: %w", h.c.name, member, sig, bridge.ErrNoSuchSignature)
}

// Replace sets the hook slot of the overload. The original implementation
// is kept, so replacing twice leaves a single wrapper in place.
func (h *handle) Replace(member string, sig bridge.Signature, w bridge.Wrapper) error {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	o, err := h.find(member, sig)
	if err != nil {
		return err
	}
	o.hook = w
	return nil
}

// InvokeOriginal runs the Lua implementation on the state executing the
// current hooked call.
func (h *handle) InvokeOriginal(receiver any, member string, sig bridge.Signature, args []any) (any, error) {
	L := h.r.active
	if L == nil {
		return nil, ErrOutsideCall
	}
	h.r.mu.RLock()
	o, err := h.find(member, sig)
	h.r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = toLValue(L, a)
	}
	return invoke(L, o.fn, toLValue(L, receiver), largs)
}
