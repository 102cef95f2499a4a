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
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// EmailRecord is the persisted email row.
type EmailRecord struct {
	ID                int64
	DocumentID        string
	ProviderMessageID string
	SenderContactID   int64
	ThreadID          int64
	ParentEmailID     *int64
	Subject           string
	SentAt            *time.Time
	BodyText          string
}

// EmailImportTx scopes email insertion, recipient attachment, and parent
// backfill in one transaction. An email row is never visible without its
// recipients: a failure anywhere before Commit rolls the whole set back.
type EmailImportTx struct {
	tx pgx.Tx
}

// BeginEmailImport opens the transaction covering email persistence and
// its follow-up linkage steps.
func (s *Store) BeginEmailImport(ctx context.Context) (*EmailImportTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin email import tx: %w", err)
	}
	return &EmailImportTx{tx: tx}, nil
}

// InsertEmail persists the email row and returns its id. The staging
// record keeps one document id per provider message across re-stagings,
// so a retried import updates the existing row in place instead of
// failing on the document_id uniqueness.
func (t *EmailImportTx) InsertEmail(ctx context.Context, rec EmailRecord) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO emails
			(document_id, provider_message_id, sender_contact_id, thread_id, parent_email_id, subject, sent_at, body_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (document_id) DO UPDATE SET
			provider_message_id = EXCLUDED.provider_message_id,
			sender_contact_id   = EXCLUDED.sender_contact_id,
			thread_id           = EXCLUDED.thread_id,
			parent_email_id     = EXCLUDED.parent_email_id,
			subject             = EXCLUDED.subject,
			sent_at             = EXCLUDED.sent_at,
			body_text           = EXCLUDED.body_text
		RETURNING id
	`, rec.DocumentID, rec.ProviderMessageID, rec.SenderContactID, rec.ThreadID,
		rec.ParentEmailID, rec.Subject, rec.SentAt, rec.BodyText).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert email: %w", err)
	}
	return id, nil
}

// AttachRecipient links one resolved recipient contact to the email.
// Kind is "to", "cc", or "bcc".
func (t *EmailImportTx) AttachRecipient(ctx context.Context, emailID, contactID int64, kind string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO email_recipient (email_id, contact_id, kind)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, emailID, contactID, kind)
	return err
}

// BackfillParent sets the new email as parent of previously-orphaned
// children whose In-Reply-To or References headers name any of the given
// message ids. Returns the number of children adopted.
func (t *EmailImportTx) BackfillParent(ctx context.Context, parentEmailID int64, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE emails e
		SET parent_email_id = $1
		WHERE e.parent_email_id IS NULL
		  AND e.id <> $1
		  AND EXISTS (
			SELECT 1
			FROM document_property dp
			JOIN property_type pt ON pt.id = dp.type_id
			WHERE dp.document_id = e.document_id
			  AND lower(pt.name) IN ('in-reply-to', 'references')
			  AND dp.value = ANY($2)
		  )
	`, parentEmailID, messageIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Commit finalises the email import.
func (t *EmailImportTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback discards the email row and all linkage. Safe to call after
// Commit (no-op).
func (t *EmailImportTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == pgx.ErrTxClosed {
		return nil
	}
	return err
}

// FindEmailByMessageID resolves a parent email id by matching any of the
// given global Message-ID values against stored Message-ID properties.
// Property-type names keep the provider's casing, so the match is on the
// lowercased name. Returns nil, nil when no parent is known.
func (s *Store) FindEmailByMessageID(ctx context.Context, messageIDs []string) (*int64, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT e.id
		FROM emails e
		JOIN document_property dp ON dp.document_id = e.document_id
		JOIN property_type pt ON pt.id = dp.type_id
		WHERE lower(pt.name) = 'message-id' AND dp.value = ANY($1)
		ORDER BY e.id
		LIMIT 1
	`, messageIDs).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}
