// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/postgor/android-trace/pkg/redact"
)

// DefaultMaxValueLength bounds a single formatted value, in runes.
const DefaultMaxValueLength = 1024

// Formatter converts captured values into display-safe strings.
type Formatter struct {
	redactor *redact.Redactor
	maxLen   int
}

// NewFormatter creates a formatter. maxLen <= 0 disables truncation.
func NewFormatter(redactor *redact.Redactor, maxLen int) *Formatter {
	return &Formatter{redactor: redactor, maxLen: maxLen}
}

// DefaultFormatter formats without redaction, truncating at DefaultMaxValueLength.
func DefaultFormatter() *Formatter {
	return NewFormatter(nil, DefaultMaxValueLength)
}

// Value formats one value. It never panics: a value whose String method
// panics is rendered as "<unprintable: T>".
func (f *Formatter) Value(v any) string {
	return f.truncate(f.redactor.Redact(render(v)))
}

// Values formats each value.
func (f *Formatter) Values(vs []any) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = render(v)
	}
	out = f.redactor.RedactAll(out)
	for i := range out {
		out[i] = f.truncate(out[i])
	}
	return out
}

func render(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("<unprintable: %T>", v)
		}
	}()
	switch val := v.(type) {
	case nil:
		s = "null"
	case string:
		s = val
	case []byte:
		s = string(val)
	case error:
		s = val.Error()
	case fmt.Stringer:
		s = val.String()
	default:
		s = fmt.Sprint(val)
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return s
}

func (f *Formatter) truncate(s string) string {
	if f.maxLen <= 0 || utf8.RuneCountInString(s) <= f.maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:f.maxLen]) + "..."
}
