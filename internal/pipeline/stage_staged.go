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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bcem/importer/internal/store"
)

// StagingStore is the subset of the store the staged stage needs.
type StagingStore interface {
	UpsertStagingMessage(ctx context.Context, providerMessageID, providerThreadID, documentID string, rawPayload []byte) (*store.StagingMessage, error)
	InsertStagedAttachment(ctx context.Context, a store.StagedAttachment) error
}

// StagedStage persists the staging record, the durability checkpoint that
// allows resuming an import without re-fetching from the provider, and
// queues each attachment part for download.
type StagedStage struct {
	staging StagingStore
}

func (s *StagedStage) Stage() ImportStage { return StageStaged }

func (s *StagedStage) Begin(ctx context.Context, sc *StageContext) error { return nil }

func (s *StagedStage) Run(ctx context.Context, sc *StageContext) error {
	raw, err := json.Marshal(sc.Raw)
	if err != nil {
		return fmt.Errorf("marshal raw message: %w", err)
	}

	rec, err := s.staging.UpsertStagingMessage(ctx, sc.Raw.ID, sc.Raw.ThreadID, uuid.New().String(), raw)
	if err != nil {
		return fmt.Errorf("persist staging record: %w", err)
	}
	if rec == nil {
		// Every later stage depends on the staging id and document id.
		return fmt.Errorf("staging write for message %s returned no record", sc.Raw.ID)
	}
	sc.Staging = rec

	parts := sc.Raw.AttachmentParts()
	for _, p := range parts {
		err := s.staging.InsertStagedAttachment(ctx, store.StagedAttachment{
			StagingMessageID: rec.ID,
			PartID:           p.PartID,
			Filename:         p.Filename,
			MimeType:         p.MimeType,
			Size:             int64(p.Body.Size),
		})
		if err != nil {
			return fmt.Errorf("stage attachment part %s: %w", p.PartID, err)
		}
	}

	slog.Info("message staged",
		"source", "pipeline",
		"provider_message_id", sc.Raw.ID,
		"staging_id", rec.ID,
		"document_id", rec.DocumentID,
		"attachments", len(parts),
	)
	return nil
}
