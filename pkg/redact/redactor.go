// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package redact scrubs sensitive data from captured argument and return
// values before they leave the process.
package redact

import (
	"fmt"
	"regexp"
)

// Rule defines a single redaction pattern.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// RuleSpec is an uncompiled user-defined rule.
type RuleSpec struct {
	Name        string
	Pattern     string
	Replacement string
}

// Redactor applies a set of redaction rules to captured values.
type Redactor struct {
	rules   []Rule
	enabled bool
}

// New creates a Redactor with built-in rules. If enabled is false, Redact() is a no-op.
func New(enabled bool, extraRules []Rule) *Redactor {
	r := &Redactor{enabled: enabled}
	if !enabled {
		return r
	}
	r.rules = builtinRules()
	r.rules = append(r.rules, extraRules...)
	return r
}

// Compile turns user rule specs into rules. Every spec is tried; the error
// lists the ones whose pattern did not compile.
func Compile(specs []RuleSpec) ([]Rule, error) {
	var (
		rules []Rule
		bad   []string
	)
	for _, s := range specs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", s.Name, err))
			continue
		}
		replacement := s.Replacement
		if replacement == "" {
			replacement = "[REDACTED]"
		}
		rules = append(rules, Rule{Name: s.Name, Pattern: re, Replacement: replacement})
	}
	if len(bad) > 0 {
		return rules, fmt.Errorf("invalid redaction rules: %v", bad)
	}
	return rules, nil
}

// Enabled reports whether redaction is active.
func (r *Redactor) Enabled() bool {
	return r != nil && r.enabled
}

// Redact applies all rules to the input string and returns the redacted result.
func (r *Redactor) Redact(input string) string {
	if !r.Enabled() || len(r.rules) == 0 {
		return input
	}
	result := input
	for _, rule := range r.rules {
		result = rule.Pattern.ReplaceAllString(result, rule.Replacement)
	}
	return result
}

// RedactAll redacts every value in place and returns the slice.
func (r *Redactor) RedactAll(values []string) []string {
	if !r.Enabled() {
		return values
	}
	for i, v := range values {
		values[i] = r.Redact(v)
	}
	return values
}

func builtinRules() []Rule {
	return []Rule{
		{
			Name:        "jwt",
			Pattern:     regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
			Replacement: "[REDACTED_JWT]",
		},
		{
			Name:        "credit_card",
			Pattern:     regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`),
			Replacement: "[REDACTED_CC]",
		},
		{
			Name:        "ssn",
			Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Replacement: "[REDACTED_SSN]",
		},
		{
			Name:        "bearer",
			Pattern:     regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9._~+/=-]+`),
			Replacement: "${1} [REDACTED]",
		},
		{
			Name:        "password_param",
			Pattern:     regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|api_key|apikey)\s*[=:]\s*['"]?[^\s&,;'"]+`),
			Replacement: "${1}=[REDACTED]",
		},
	}
}
