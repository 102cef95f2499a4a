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
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bcem/importer/internal/headers"
	"github.com/bcem/importer/internal/telemetry"
)

// PropertyStore persists normalized header property rows. Implemented by
// store.Store.
type PropertyStore interface {
	InsertProperty(ctx context.Context, documentID string, typeID int64, value string) error
	ClearDocumentProperties(ctx context.Context, documentID string) error
}

// HeaderStage normalizes every raw header into one or more property rows.
// Property writes fan out concurrently under a bound; failures accumulate
// and the stage fails only after every header has been attempted.
type HeaderStage struct {
	cache       *HeaderTypeCache
	props       PropertyStore
	telemetry   telemetry.Recorder
	concurrency int
}

func (s *HeaderStage) Stage() ImportStage { return StageHeaders }

// Begin warms the header-type cache. Only the first invocation per process
// actually loads from the store.
func (s *HeaderStage) Begin(ctx context.Context, sc *StageContext) error {
	return s.cache.Load(ctx)
}

func (s *HeaderStage) Run(ctx context.Context, sc *StageContext) error {
	sc.Headers = headers.Parse(sc.Raw.Payload.Headers)

	// Parent backfill in the body stage needs this message's global ids.
	sc.MessageIDs = nil
	for _, v := range sc.Headers.Values("Message-ID") {
		sc.MessageIDs = append(sc.MessageIDs, headers.SplitValue("Message-ID", v)...)
	}

	type propertyWrite struct {
		name  string
		value string
	}
	var writes []propertyWrite
	for _, h := range sc.Raw.Payload.Headers {
		if headers.IsMultiValued(h.Name) {
			for _, token := range headers.SplitValue(h.Name, h.Value) {
				writes = append(writes, propertyWrite{name: h.Name, value: token})
			}
		} else {
			writes = append(writes, propertyWrite{name: h.Name, value: h.Value})
		}
	}

	// A retried import starts from a clean slate; otherwise the rewrite
	// below would double every property row.
	if err := s.props.ClearDocumentProperties(ctx, sc.Staging.DocumentID); err != nil {
		return fmt.Errorf("clear properties for document %s: %w", sc.Staging.DocumentID, err)
	}

	var mu sync.Mutex
	var failures []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, w := range writes {
		g.Go(func() error {
			typeID, err := s.cache.TypeID(gctx, w.name)
			if err == nil {
				err = s.props.InsertProperty(gctx, sc.Staging.DocumentID, typeID, w.value)
			}
			if err != nil {
				slog.Error("header property write failed",
					"source", "pipeline",
					"document_id", sc.Staging.DocumentID,
					"header", w.name,
					"error", err,
				)
				mu.Lock()
				failures = append(failures, fmt.Errorf("header %s: %w", w.name, err))
				mu.Unlock()
				return nil // keep attempting the remaining headers
			}
			s.telemetry.Increment(gctx, "import.header_property_persisted")
			return nil
		})
	}

	_ = g.Wait()

	if len(failures) > 0 {
		return fmt.Errorf("persist header properties for message %s: %w",
			sc.Raw.ID, errors.Join(failures...))
	}

	slog.Info("headers persisted",
		"source", "pipeline",
		"provider_message_id", sc.Raw.ID,
		"properties", len(writes),
	)
	return nil
}
