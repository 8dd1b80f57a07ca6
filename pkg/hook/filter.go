// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import "regexp"

// FilterSpec selects which methods get hooked. It is an immutable value:
// the With* methods return modified copies.
type FilterSpec struct {
	include       *regexp.Regexp
	exclude       *regexp.Regexp
	excludeActive bool
}

// NewFilterSpec compiles an inclusion pattern and an optional exclusion
// pattern. An empty exclusion leaves exclusion inactive.
func NewFilterSpec(include, exclude string) (FilterSpec, error) {
	spec, err := FilterSpec{}.WithInclude(include)
	if err != nil {
		return FilterSpec{}, err
	}
	return spec.WithExclude(exclude)
}

// WithInclude returns a copy with a new inclusion pattern.
func (f FilterSpec) WithInclude(pattern string) (FilterSpec, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return f, &ConfigError{Field: "include", Pattern: pattern, Err: err}
	}
	f.include = re
	return f, nil
}

// WithExclude returns a copy with a new exclusion pattern. An empty pattern
// deactivates exclusion; the exclusion regexp is then never evaluated.
func (f FilterSpec) WithExclude(pattern string) (FilterSpec, error) {
	if pattern == "" {
		f.exclude = nil
		f.excludeActive = false
		return f, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return f, &ConfigError{Field: "exclude", Pattern: pattern, Err: err}
	}
	f.exclude = re
	f.excludeActive = true
	return f, nil
}

// Configured reports whether an inclusion pattern is set.
func (f FilterSpec) Configured() bool {
	return f.include != nil
}

// ExcludeActive reports whether exclusion is enabled.
func (f FilterSpec) ExcludeActive() bool {
	return f.excludeActive
}

// Include returns the inclusion pattern source, or "" when unset.
func (f FilterSpec) Include() string {
	if f.include == nil {
		return ""
	}
	return f.include.String()
}

// Exclude returns the exclusion pattern source, or "" when inactive.
func (f FilterSpec) Exclude() string {
	if !f.excludeActive {
		return ""
	}
	return f.exclude.String()
}

// Hookable reports whether a method named name should be hooked. An
// unconfigured spec matches nothing; callers check Configured first.
func (f FilterSpec) Hookable(name string) bool {
	if f.include == nil || !f.include.MatchString(name) {
		return false
	}
	if f.excludeActive && f.exclude.MatchString(name) {
		return false
	}
	return true
}
