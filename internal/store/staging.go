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

package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// StagingMessage is the durability checkpoint created after fetching a raw
// provider message. It lets an import resume without re-fetching.
type StagingMessage struct {
	ID                int64
	ProviderMessageID string
	ProviderThreadID  string
	DocumentID        string
	RawPayload        []byte
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// StagedAttachment is one MIME part queued for download. StorageID and
// ExtractedText are set once the download job completes; Imported flips
// only after the email_attachment row exists.
type StagedAttachment struct {
	ID               int64
	StagingMessageID int64
	PartID           string
	Filename         string
	MimeType         string
	Size             int64
	StorageID        *string
	ExtractedText    *string
	Imported         bool
}

// UpsertStagingMessage persists the staging record for a provider message,
// keyed on the provider message id. Re-staging the same message refreshes
// the payload but keeps the original staging id and document id.
func (s *Store) UpsertStagingMessage(ctx context.Context, providerMessageID, providerThreadID, documentID string, rawPayload []byte) (*StagingMessage, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO staging_message (provider_message_id, provider_thread_id, document_id, raw_payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_message_id) DO UPDATE SET
			provider_thread_id = EXCLUDED.provider_thread_id,
			raw_payload        = EXCLUDED.raw_payload,
			updated_at         = NOW()
		RETURNING id, provider_message_id, provider_thread_id, document_id, raw_payload, created_at, updated_at
	`, providerMessageID, providerThreadID, documentID, rawPayload)
	return scanStagingMessage(row)
}

// GetStagingMessage retrieves a staging record by provider message id.
// Returns nil, nil when no record exists.
func (s *Store) GetStagingMessage(ctx context.Context, providerMessageID string) (*StagingMessage, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, provider_message_id, provider_thread_id, document_id, raw_payload, created_at, updated_at
		FROM staging_message
		WHERE provider_message_id = $1
	`, providerMessageID)
	return scanStagingMessage(row)
}

// InsertStagedAttachment records one MIME part as queued for download.
// Re-staging the same part is a no-op that preserves download progress.
func (s *Store) InsertStagedAttachment(ctx context.Context, a StagedAttachment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO staging_attachment (staging_message_id, part_id, filename, mime_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (staging_message_id, part_id) DO NOTHING
	`, a.StagingMessageID, a.PartID, a.Filename, a.MimeType, a.Size)
	return err
}

// ListStagedAttachments returns all staged attachment rows for a staging
// message.
func (s *Store) ListStagedAttachments(ctx context.Context, stagingMessageID int64) ([]StagedAttachment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, staging_message_id, part_id, filename, mime_type, size_bytes,
		       storage_id, extracted_text, imported
		FROM staging_attachment
		WHERE staging_message_id = $1
		ORDER BY part_id
	`, stagingMessageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var atts []StagedAttachment
	for rows.Next() {
		var a StagedAttachment
		if err := rows.Scan(
			&a.ID, &a.StagingMessageID, &a.PartID, &a.Filename, &a.MimeType,
			&a.Size, &a.StorageID, &a.ExtractedText, &a.Imported,
		); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// MarkAttachmentStored records the storage location and extracted text of
// a downloaded attachment. The row transitions to stored only here.
func (s *Store) MarkAttachmentStored(ctx context.Context, id int64, storageID, extractedText string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE staging_attachment
		SET storage_id = $1, extracted_text = $2, imported = TRUE
		WHERE id = $3
	`, storageID, extractedText, id)
	return err
}

// InsertEmailAttachment links a stored attachment to its email row.
// Re-linking on a retried import is a no-op.
func (s *Store) InsertEmailAttachment(ctx context.Context, emailID, stagedAttachmentID int64, storageID, extractedText string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_attachment (email_id, staging_attachment_id, storage_id, extracted_text)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email_id, staging_attachment_id) DO NOTHING
	`, emailID, stagedAttachmentID, storageID, extractedText)
	return err
}

func scanStagingMessage(row pgx.Row) (*StagingMessage, error) {
	var m StagingMessage
	err := row.Scan(
		&m.ID, &m.ProviderMessageID, &m.ProviderThreadID, &m.DocumentID,
		&m.RawPayload, &m.CreatedAt, &m.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
