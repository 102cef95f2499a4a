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

// Package contacts maps raw From/To/Cc/Bcc header text to structured
// contact records and deduplicates them against the contact store.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bcem/importer/internal/headers"
	"github.com/bcem/importer/internal/models"
)

// addressHeaders are the headers contacts are extracted from.
var addressHeaders = []string{"From", "To", "Cc", "Bcc"}

// Store is the subset of the contact store the resolver needs.
type Store interface {
	FindContactsByEmail(ctx context.Context, emails []string) (map[string]models.Contact, error)
	CreateContact(ctx context.Context, name, email string) (int64, error)
}

// Resolver deduplicates header-derived contacts against the contact store.
type Resolver struct {
	store       Store
	concurrency int
}

// NewResolver creates a contact resolver. concurrency bounds the fan-out
// of contact creation.
func NewResolver(store Store, concurrency int) *Resolver {
	if concurrency < 1 {
		concurrency = 4
	}
	return &Resolver{store: store, concurrency: concurrency}
}

// ParseHeaderContacts extracts every contact referenced in the message's
// address headers, deduplicated by normalized email address.
func ParseHeaderContacts(h *headers.Map) []models.Contact {
	seen := make(map[string]bool)
	var out []models.Contact
	for _, name := range addressHeaders {
		for _, value := range h.Values(name) {
			for _, c := range ParseAddressList(value) {
				if seen[c.Email] {
					continue
				}
				seen[c.Email] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// ParseAddressList parses one address-list header value. Malformed entries
// that still look like bare addresses are kept; anything else is dropped.
func ParseAddressList(value string) []models.Contact {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if addrs, err := mail.ParseAddressList(value); err == nil {
		out := make([]models.Contact, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, models.Contact{
				Name:  strings.TrimSpace(a.Name),
				Email: NormalizeEmail(a.Address),
			})
		}
		return out
	}

	// Permissive fallback: comma-split and keep tokens containing "@".
	var out []models.Contact
	for _, tok := range strings.Split(value, ",") {
		tok = headers.StripAngleBrackets(tok)
		if strings.Contains(tok, "@") {
			out = append(out, models.Contact{Email: NormalizeEmail(tok)})
		}
	}
	return out
}

// NormalizeEmail lowercases and trims an address for dedup matching.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// EnsureContacts creates every contact not already present in the store.
// Creation is awaited and failure-aggregated: all missing contacts are
// attempted, and a single joined error reports every failure.
func (r *Resolver) EnsureContacts(ctx context.Context, cs []models.Contact) error {
	if len(cs) == 0 {
		return nil
	}

	emails := make([]string, 0, len(cs))
	for _, c := range cs {
		emails = append(emails, c.Email)
	}

	existing, err := r.store.FindContactsByEmail(ctx, emails)
	if err != nil {
		return fmt.Errorf("look up existing contacts: %w", err)
	}

	var mu sync.Mutex
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, c := range cs {
		if _, ok := existing[c.Email]; ok {
			continue
		}
		g.Go(func() error {
			if _, err := r.store.CreateContact(gctx, c.Name, c.Email); err != nil {
				slog.Error("contact creation failed",
					"source", "contacts",
					"email", c.Email,
					"error", err,
				)
				mu.Lock()
				failures = append(failures, fmt.Errorf("create contact %s: %w", c.Email, err))
				mu.Unlock()
			}
			return nil // collect, don't fail fast
		})
	}

	_ = g.Wait()

	if len(failures) > 0 {
		return errors.Join(failures...)
	}
	return nil
}
