// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"
	"fmt"

	"github.com/postgor/android-trace/pkg/bridge"
)

var (
	// ErrBridgeUnavailable is fatal to the session: no bridge call can succeed.
	ErrBridgeUnavailable = errors.New("instrumentation bridge unavailable")

	// ErrFilterNotConfigured is returned when a hooking pass is requested
	// before an inclusion filter was set.
	ErrFilterNotConfigured = errors.New("inclusion filter not configured")

	// ErrMarkersMissing is the classifier diagnostic for a lookup chain whose
	// class-identity or constructor marker is absent or out of order.
	ErrMarkersMissing = errors.New("member-lookup chain markers missing or out of order")
)

// ConfigError reports a malformed filter pattern.
type ConfigError struct {
	Field   string
	Pattern string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s pattern %q: %v", e.Field, e.Pattern, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ClassResolutionError means a class handle could not be obtained; the
// class is skipped.
type ClassResolutionError struct {
	Class string
	Err   error
}

func (e *ClassResolutionError) Error() string {
	return fmt.Sprintf("resolve class %s: %v", e.Class, e.Err)
}

func (e *ClassResolutionError) Unwrap() error { return e.Err }

// EnumerationError aborts a class enumeration.
type EnumerationError struct {
	Err error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumerate loaded classes: %v", e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// MemberIntrospectionError means a member's signatures could not be read;
// the member is skipped.
type MemberIntrospectionError struct {
	Class  string
	Member string
	Err    error
}

func (e *MemberIntrospectionError) Error() string {
	return fmt.Sprintf("introspect %s.%s: %v", e.Class, e.Member, e.Err)
}

func (e *MemberIntrospectionError) Unwrap() error { return e.Err }

// HookInstallError means one signature could not be replaced.
type HookInstallError struct {
	Class     string
	Member    string
	Signature bridge.Signature
	Err       error
}

func (e *HookInstallError) Error() string {
	member := e.Member
	if member == "" {
		member = bridge.ConstructorMember
	}
	return fmt.Sprintf("install hook %s.%s%s: %v", e.Class, member, e.Signature, e.Err)
}

func (e *HookInstallError) Unwrap() error { return e.Err }
