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

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bcem/importer/internal/store"
)

// headerCategory is the property-type category for normalized headers.
const headerCategory = "Email Header"

// PropertyTypeStore is the subset of the store the header-type cache needs.
type PropertyTypeStore interface {
	ListPropertyTypes(ctx context.Context) ([]store.PropertyType, error)
	CreatePropertyType(ctx context.Context, name, category string) (int64, error)
}

// HeaderTypeCache maps header names to persisted property-type ids. It is
// explicitly owned: constructed with the orchestrator, loaded once, passed
// by reference to the header stage, never evicted. A type id is created at
// most once per header name per process lifetime; the store-side upsert
// makes first sight race-safe across processes.
type HeaderTypeCache struct {
	store PropertyTypeStore

	mu     sync.Mutex
	types  map[string]int64 // lowercase header name -> type id
	loaded bool
}

// NewHeaderTypeCache creates an empty cache over the given store.
func NewHeaderTypeCache(s PropertyTypeStore) *HeaderTypeCache {
	return &HeaderTypeCache{
		store: s,
		types: make(map[string]int64),
	}
}

// Load populates the cache from the property-type store. Only the first
// call hits the store; later calls are no-ops.
func (c *HeaderTypeCache) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}

	types, err := c.store.ListPropertyTypes(ctx)
	if err != nil {
		return fmt.Errorf("load property types: %w", err)
	}
	for _, t := range types {
		c.types[strings.ToLower(t.Name)] = t.ID
	}
	c.loaded = true

	slog.Info("header type cache loaded", "types", len(types))
	return nil
}

// TypeID returns the property-type id for a header name, creating the type
// row on first sight.
func (c *HeaderTypeCache) TypeID(ctx context.Context, name string) (int64, error) {
	key := strings.ToLower(name)

	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.types[key]; ok {
		return id, nil
	}

	id, err := c.store.CreatePropertyType(ctx, name, headerCategory)
	if err != nil {
		return 0, fmt.Errorf("create property type %q: %w", name, err)
	}
	c.types[key] = id

	slog.Debug("header type created", "name", name, "type_id", id)
	return id, nil
}

// Len returns the number of cached header types.
func (c *HeaderTypeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.types)
}
