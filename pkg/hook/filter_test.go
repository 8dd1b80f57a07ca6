// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"
	"testing"
)

func TestHookableIncludeOnly(t *testing.T) {
	spec, err := NewFilterSpec("^get", "")
	if err != nil {
		t.Fatalf("NewFilterSpec: %v", err)
	}
	if spec.ExcludeActive() {
		t.Fatal("empty exclusion must leave exclusion inactive")
	}
	tests := []struct {
		name string
		want bool
	}{
		{"getValue", true},
		{"setValue", false},
		{"get", true},
		{"forget", false},
	}
	for _, tt := range tests {
		if got := spec.Hookable(tt.name); got != tt.want {
			t.Errorf("Hookable(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestHookableWithExclusion(t *testing.T) {
	spec, err := NewFilterSpec(".*", "^(toString|hashCode)$")
	if err != nil {
		t.Fatalf("NewFilterSpec: %v", err)
	}
	if !spec.ExcludeActive() {
		t.Fatal("non-empty exclusion must be active")
	}
	for name, want := range map[string]bool{
		"toString":   false,
		"hashCode":   false,
		"deposit":    true,
		"toStringer": true,
	} {
		if got := spec.Hookable(name); got != want {
			t.Errorf("Hookable(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestExclusionDeactivatedByEmptyPattern(t *testing.T) {
	spec, _ := NewFilterSpec(".*", "Value")
	if spec.Hookable("getValue") {
		t.Fatal("getValue should be excluded")
	}
	spec, err := spec.WithExclude("")
	if err != nil {
		t.Fatalf("WithExclude: %v", err)
	}
	if !spec.Hookable("getValue") {
		t.Error("inactive exclusion must never be evaluated")
	}
	if spec.Exclude() != "" {
		t.Errorf("Exclude() = %q, want empty", spec.Exclude())
	}
}

func TestUnconfiguredSpecMatchesNothing(t *testing.T) {
	var spec FilterSpec
	if spec.Configured() {
		t.Fatal("zero FilterSpec must not be configured")
	}
	if spec.Hookable("anything") {
		t.Error("unconfigured spec must not match")
	}
}

func TestMalformedPatternIsConfigError(t *testing.T) {
	spec, _ := NewFilterSpec("^get", "")

	next, err := spec.WithInclude("(")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "include" {
		t.Fatalf("WithInclude error = %v, want include ConfigError", err)
	}
	if next.Include() != "^get" {
		t.Errorf("failed WithInclude must keep previous pattern, got %q", next.Include())
	}

	if _, err := spec.WithExclude("[z-a]"); !errors.As(err, &cfgErr) || cfgErr.Field != "exclude" {
		t.Errorf("WithExclude error = %v, want exclude ConfigError", err)
	}
}

func TestFilterSpecIsAValue(t *testing.T) {
	a, _ := NewFilterSpec("^get", "")
	b, _ := a.WithInclude("^set")
	if a.Include() != "^get" || b.Include() != "^set" {
		t.Errorf("WithInclude mutated the receiver: a=%q b=%q", a.Include(), b.Include())
	}
}
