// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package headers normalizes the raw name/value header list of a provider
// message into a case-insensitive lookup structure, and defines the
// splitting rules for multi-valued headers.
package headers

import (
	"strings"

	"github.com/bcem/importer/internal/models"
)

// Multi-valued headers and how their values split into tokens:
// recipient lists split on commas, message-id lists split on whitespace
// with angle brackets stripped.
var (
	recipientListHeaders = map[string]bool{
		"to":  true,
		"cc":  true,
		"bcc": true,
	}
	idListHeaders = map[string]bool{
		"in-reply-to": true,
		"references":  true,
		"return-path": true,
		"message-id":  true,
	}
)

// Map is a normalized view over a message's raw headers. Header names are
// matched case-insensitively; repeated headers accumulate all values.
type Map struct {
	names  []string            // canonical (first-seen) names in order
	values map[string][]string // lowercase name -> values
	canon  map[string]string   // lowercase name -> canonical name
}

// Parse builds a Map from the provider's raw header list.
func Parse(raw []models.Header) *Map {
	m := &Map{
		values: make(map[string][]string, len(raw)),
		canon:  make(map[string]string, len(raw)),
	}
	for _, h := range raw {
		name := strings.TrimSpace(h.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, seen := m.values[key]; !seen {
			m.names = append(m.names, name)
			m.canon[key] = name
		}
		m.values[key] = append(m.values[key], h.Value)
	}
	return m
}

// Get returns the first value for a header name, or "" if absent.
func (m *Map) Get(name string) string {
	vs := m.values[strings.ToLower(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values recorded for a header name.
func (m *Map) Values(name string) []string {
	return m.values[strings.ToLower(name)]
}

// Has reports whether the header is present.
func (m *Map) Has(name string) bool {
	_, ok := m.values[strings.ToLower(name)]
	return ok
}

// Names returns the canonical header names in first-seen order.
func (m *Map) Names() []string {
	return m.names
}

// IsMultiValued reports whether a header's value should be split into
// multiple property rows.
func IsMultiValued(name string) bool {
	key := strings.ToLower(name)
	return recipientListHeaders[key] || idListHeaders[key]
}

// SplitValue tokenizes a multi-valued header value using the header's
// splitting rule and value transform. A value that trims to nothing yields
// zero tokens. For single-valued headers the trimmed value is returned as
// the only token.
func SplitValue(name, value string) []string {
	key := strings.ToLower(name)

	switch {
	case recipientListHeaders[key]:
		var tokens []string
		for _, t := range strings.Split(value, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
		return tokens

	case idListHeaders[key]:
		var tokens []string
		for _, t := range strings.Fields(value) {
			if t = StripAngleBrackets(t); t != "" {
				tokens = append(tokens, t)
			}
		}
		return tokens

	default:
		if v := strings.TrimSpace(value); v != "" {
			return []string{v}
		}
		return nil
	}
}

// StripAngleBrackets removes a single enclosing <...> from a message id
// token.
func StripAngleBrackets(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	return strings.TrimSpace(s)
}
