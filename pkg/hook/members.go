// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"fmt"

	"github.com/postgor/android-trace/pkg/bridge"
	"github.com/postgor/android-trace/pkg/event"
)

// Discovery selects how the classifier finds a class's own members.
type Discovery int

const (
	// DiscoveryDeclared asks the bridge for declared members when the handle
	// supports it and falls back to the lookup chain otherwise.
	DiscoveryDeclared Discovery = iota
	// DiscoveryChain always slices the lookup chain between its markers.
	DiscoveryChain
)

// ParseDiscovery maps a config value to a Discovery mode.
func ParseDiscovery(s string) (Discovery, error) {
	switch s {
	case "", "declared":
		return DiscoveryDeclared, nil
	case "chain":
		return DiscoveryChain, nil
	default:
		return DiscoveryDeclared, fmt.Errorf("unknown member discovery mode %q", s)
	}
}

// PropertyNames walks a member-lookup chain and returns every name in
// discovery order: the level's own names, then each prototype's. Duplicates
// are kept.
func PropertyNames(level bridge.PropertyLevel) []string {
	var names []string
	for level != nil {
		names = append(names, level.OwnPropertyNames()...)
		next, ok := level.Prototype()
		if !ok {
			break
		}
		level = next
	}
	return names
}

// ClassifyMembers returns the names of callable members declared by the
// class itself. With DiscoveryDeclared and a handle implementing
// bridge.DeclaredMemberLister the chain is not consulted. Otherwise names is
// sliced strictly between the first class-identity marker and the first
// constructor marker after it; when either is missing the result is empty
// and the error is ErrMarkersMissing.
func ClassifyMembers(h bridge.Handle, names []string, mode Discovery) ([]string, error) {
	if dl, ok := h.(bridge.DeclaredMemberLister); ok && mode == DiscoveryDeclared {
		var out []string
		seen := make(map[string]bool)
		for _, m := range dl.DeclaredMembers() {
			if m.Kind != bridge.KindCallable || seen[m.Name] {
				continue
			}
			seen[m.Name] = true
			out = append(out, m.Name)
		}
		return out, nil
	}

	begin := indexOf(names, bridge.ClassNameMarker, 0)
	if begin < 0 {
		return nil, ErrMarkersMissing
	}
	end := indexOf(names, bridge.ConstructorMarker, begin+1)
	if end < 0 {
		return nil, ErrMarkersMissing
	}

	var out []string
	seen := make(map[string]bool)
	for _, name := range names[begin+1 : end] {
		if seen[name] || name == bridge.ClassNameMarker {
			continue
		}
		seen[name] = true
		if h.MemberKind(name) == bridge.KindCallable {
			out = append(out, name)
		}
	}
	return out, nil
}

func indexOf(names []string, want string, from int) int {
	for i := from; i < len(names); i++ {
		if names[i] == want {
			return i
		}
	}
	return -1
}

// Strategy is the hook strategy chosen for a member.
type Strategy int

const (
	StrategySingle Strategy = iota
	StrategyOverloaded
)

// MethodType maps the strategy to the event method type.
func (s Strategy) MethodType() event.MethodType {
	if s == StrategyOverloaded {
		return event.OverloadedMethod
	}
	return event.Method
}

// Resolution lists the signatures to hook for one member.
type Resolution struct {
	Member     string
	Strategy   Strategy
	Signatures []bridge.Signature
}

// ResolveOverloads fetches member's signatures and picks a strategy: one
// signature is hooked directly, several are hooked one by one.
func ResolveOverloads(h bridge.Handle, member string) (Resolution, error) {
	sigs, err := h.Signatures(member)
	if err != nil {
		return Resolution{}, &MemberIntrospectionError{Class: h.ClassName(), Member: member, Err: err}
	}
	if len(sigs) == 0 {
		return Resolution{}, &MemberIntrospectionError{
			Class:  h.ClassName(),
			Member: member,
			Err:    fmt.Errorf("no signatures declared"),
		}
	}
	res := Resolution{Member: member, Signatures: sigs, Strategy: StrategySingle}
	if len(sigs) > 1 {
		res.Strategy = StrategyOverloaded
	}
	return res, nil
}
