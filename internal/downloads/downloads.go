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

// Package downloads handles attachment download jobs. Completed job
// results live in Redis keyed "stagedMessageId:partId" so an interrupted
// import resumes without re-downloading; the Downloader performs the
// actual fetch, text extraction, and blob upload for parts without a
// cached result.
package downloads

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/importer/internal/models"
	"github.com/bcem/importer/internal/provider"
)

const (
	// resultTTL is how long a completed job result stays cached. Failed
	// imports retried within this window skip completed downloads.
	resultTTL = 7 * 24 * time.Hour

	keyPrefix = "importer:download:"
)

// Results reads and writes completed download-job results in Redis.
type Results struct {
	rdb *redis.Client
}

// NewResults creates a job-result client backed by Redis.
func NewResults(rdb *redis.Client) *Results {
	return &Results{rdb: rdb}
}

func jobKey(stagedMessageID int64, partID string) string {
	return fmt.Sprintf("%s%d:%s", keyPrefix, stagedMessageID, partID)
}

// Get returns the completed result for a job, or nil, nil when the job has
// not completed.
func (r *Results) Get(ctx context.Context, stagedMessageID int64, partID string) (*models.DownloadResult, error) {
	data, err := r.rdb.Get(ctx, jobKey(stagedMessageID, partID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("download result GET: %w", err)
	}

	var result models.DownloadResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode download result: %w", err)
	}
	return &result, nil
}

// Put records a completed job result.
func (r *Results) Put(ctx context.Context, result *models.DownloadResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal download result: %w", err)
	}
	if err := r.rdb.Set(ctx, jobKey(result.StagedMessageID, result.PartID), data, resultTTL).Err(); err != nil {
		return fmt.Errorf("download result SET: %w", err)
	}
	return nil
}

// AttachmentSource fetches raw attachment bytes from the provider.
// Implemented by provider.Client.
type AttachmentSource interface {
	DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// Uploader stores attachment bytes durably. Implemented by blob.Client.
type Uploader interface {
	Upload(ctx context.Context, data []byte, container, fileName, mimeType string) (string, error)
}

// Downloader executes one attachment download job end to end: fetch,
// extract text, upload, cache the result.
type Downloader struct {
	source    AttachmentSource
	uploader  Uploader
	results   *Results
	container string
}

// NewDownloader creates a downloader writing into the given blob container.
func NewDownloader(source AttachmentSource, uploader Uploader, results *Results, container string) *Downloader {
	return &Downloader{
		source:    source,
		uploader:  uploader,
		results:   results,
		container: container,
	}
}

// Run downloads one attachment part for a staged message and returns the
// completed job result. Small parts with inline body data skip the
// provider round-trip.
func (d *Downloader) Run(ctx context.Context, providerMessageID string, stagedMessageID int64, part models.MessagePart) (*models.DownloadResult, error) {
	var data []byte
	var err error

	if part.Body.Data != "" {
		data, err = provider.DecodeBase64URL(part.Body.Data)
		if err != nil {
			return nil, fmt.Errorf("decode inline part %s: %w", part.PartID, err)
		}
	} else {
		if part.Body.AttachmentID == "" {
			return nil, fmt.Errorf("part %s has neither inline data nor attachment id", part.PartID)
		}
		data, err = d.source.DownloadAttachment(ctx, providerMessageID, part.Body.AttachmentID)
		if err != nil {
			return nil, fmt.Errorf("download part %s: %w", part.PartID, err)
		}
	}

	fileName := fmt.Sprintf("%d-%s-%s", stagedMessageID, part.PartID, part.Filename)
	storageID, err := d.uploader.Upload(ctx, data, d.container, fileName, part.MimeType)
	if err != nil {
		return nil, fmt.Errorf("upload part %s: %w", part.PartID, err)
	}

	result := &models.DownloadResult{
		StagedMessageID: stagedMessageID,
		PartID:          part.PartID,
		StorageID:       storageID,
		ExtractedText:   extractText(part.MimeType, data),
	}

	if d.results != nil {
		if err := d.results.Put(ctx, result); err != nil {
			// The attachment is stored; losing the cache entry only costs
			// a re-download on retry.
			slog.Warn("failed to cache download result",
				"source", "downloads",
				"staged_message_id", stagedMessageID,
				"part_id", part.PartID,
				"error", err,
			)
		}
	}

	return result, nil
}

// extractText pulls searchable text out of text-like attachments. Binary
// content yields no text; extraction never fails the job.
func extractText(mimeType string, data []byte) string {
	mt := strings.ToLower(mimeType)
	if !strings.HasPrefix(mt, "text/") && mt != "application/json" && mt != "application/xml" {
		return ""
	}
	return strings.TrimSpace(string(data))
}
