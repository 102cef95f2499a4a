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

	"github.com/bcem/importer/internal/limiter"
	"github.com/bcem/importer/internal/models"
	"github.com/bcem/importer/internal/store"
	"github.com/bcem/importer/internal/telemetry"
)

// AttachmentStore is the subset of the store the attachment stage needs.
type AttachmentStore interface {
	ListStagedAttachments(ctx context.Context, stagingMessageID int64) ([]store.StagedAttachment, error)
	MarkAttachmentStored(ctx context.Context, id int64, storageID, extractedText string) error
	InsertEmailAttachment(ctx context.Context, emailID, stagedAttachmentID int64, storageID, extractedText string) error
}

// ResultsGetter reads completed download-job results. Implemented by
// downloads.Results.
type ResultsGetter interface {
	Get(ctx context.Context, stagedMessageID int64, partID string) (*models.DownloadResult, error)
}

// DownloadRunner executes a download job inline when no completed result
// exists. Implemented by downloads.Downloader.
type DownloadRunner interface {
	Run(ctx context.Context, providerMessageID string, stagedMessageID int64, part models.MessagePart) (*models.DownloadResult, error)
}

// AttachmentStage stores every staged attachment, bounded by the
// concurrency limiter. All items are attempted regardless of earlier
// failures; the stage fails once, after every item has completed.
type AttachmentStage struct {
	atts       AttachmentStore
	results    ResultsGetter
	downloader DownloadRunner
	lim        *limiter.Limiter
	telemetry  telemetry.Recorder
}

// itemOutcome is the per-attachment result collected by the join-all.
type itemOutcome struct {
	partID string
	err    error
}

func (s *AttachmentStage) Stage() ImportStage { return StageAttachments }

func (s *AttachmentStage) Begin(ctx context.Context, sc *StageContext) error { return nil }

func (s *AttachmentStage) Run(ctx context.Context, sc *StageContext) error {
	staged, err := s.atts.ListStagedAttachments(ctx, sc.Staging.ID)
	if err != nil {
		return fmt.Errorf("list staged attachments: %w", err)
	}
	if len(staged) == 0 {
		return nil
	}

	// Index MIME parts by part id for the inline-download fallback.
	parts := make(map[string]models.MessagePart)
	for _, p := range sc.Raw.AttachmentParts() {
		parts[p.PartID] = p
	}

	outcomes := make([]itemOutcome, len(staged))
	var wg sync.WaitGroup

	for i, att := range staged {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = itemOutcome{
				partID: att.PartID,
				err:    s.processOne(ctx, sc, att, parts[att.PartID]),
			}
		}()
	}
	wg.Wait()

	var failures []error
	stored := 0
	for _, o := range outcomes {
		if o.err != nil {
			slog.Error("attachment import failed",
				"source", "pipeline",
				"provider_message_id", sc.Raw.ID,
				"part_id", o.partID,
				"error", o.err,
			)
			failures = append(failures, fmt.Errorf("part %s: %w", o.partID, o.err))
			continue
		}
		stored++
	}

	if len(failures) > 0 {
		return fmt.Errorf("import attachments for message %s (%d of %d failed): %w",
			sc.Raw.ID, len(failures), len(staged), errors.Join(failures...))
	}

	slog.Info("attachments stored",
		"source", "pipeline",
		"provider_message_id", sc.Raw.ID,
		"count", stored,
	)
	return nil
}

// processOne stores a single attachment under a limiter slot.
func (s *AttachmentStage) processOne(ctx context.Context, sc *StageContext, att store.StagedAttachment, part models.MessagePart) error {
	if err := s.lim.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire download slot: %w", err)
	}
	defer s.lim.Release()

	// A previously stored part just needs its email link.
	if att.Imported && att.StorageID != nil {
		return s.atts.InsertEmailAttachment(ctx, sc.EmailID, att.ID, *att.StorageID, deref(att.ExtractedText))
	}

	result, err := s.results.Get(ctx, sc.Staging.ID, att.PartID)
	if err != nil {
		return fmt.Errorf("look up download job: %w", err)
	}
	if result == nil {
		if s.downloader == nil || part.PartID == "" {
			return fmt.Errorf("download job %d:%s not found", sc.Staging.ID, att.PartID)
		}
		result, err = s.downloader.Run(ctx, sc.Raw.ID, sc.Staging.ID, part)
		if err != nil {
			return err
		}
	}

	if err := s.atts.MarkAttachmentStored(ctx, att.ID, result.StorageID, result.ExtractedText); err != nil {
		return fmt.Errorf("mark attachment stored: %w", err)
	}
	if err := s.atts.InsertEmailAttachment(ctx, sc.EmailID, att.ID, result.StorageID, result.ExtractedText); err != nil {
		return fmt.Errorf("link attachment to email: %w", err)
	}

	s.telemetry.Increment(ctx, "import.attachment_stored")
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
