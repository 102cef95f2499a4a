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

// Package store provides the Postgres persistence layer for the import
// pipeline: staging records, header properties, emails, attachments,
// contacts, and threads.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides CRUD operations for all import pipeline tables.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given Postgres pool. It ensures the
// schema exists on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure import schema: %w", err)
	}
	slog.Info("import store initialised")
	return s, nil
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS staging_message (
			id                  BIGSERIAL PRIMARY KEY,
			provider_message_id TEXT NOT NULL UNIQUE,
			provider_thread_id  TEXT DEFAULT '',
			document_id         UUID NOT NULL,
			raw_payload         JSONB NOT NULL,
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS staging_attachment (
			id                 BIGSERIAL PRIMARY KEY,
			staging_message_id BIGINT NOT NULL REFERENCES staging_message(id) ON DELETE CASCADE,
			part_id            TEXT NOT NULL,
			filename           TEXT NOT NULL,
			mime_type          TEXT DEFAULT '',
			size_bytes         BIGINT DEFAULT 0,
			storage_id         TEXT,
			extracted_text     TEXT,
			imported           BOOLEAN DEFAULT FALSE,
			UNIQUE(staging_message_id, part_id)
		);
		CREATE TABLE IF NOT EXISTS contacts (
			id         BIGSERIAL PRIMARY KEY,
			name       TEXT DEFAULT '',
			email      TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS threads (
			id          BIGSERIAL PRIMARY KEY,
			external_id TEXT NOT NULL UNIQUE,
			subject     TEXT DEFAULT '',
			created_on  TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS emails (
			id                  BIGSERIAL PRIMARY KEY,
			document_id         UUID NOT NULL UNIQUE,
			provider_message_id TEXT NOT NULL,
			sender_contact_id   BIGINT NOT NULL REFERENCES contacts(id),
			thread_id           BIGINT NOT NULL REFERENCES threads(id),
			parent_email_id     BIGINT REFERENCES emails(id),
			subject             TEXT DEFAULT '',
			sent_at             TIMESTAMPTZ,
			body_text           TEXT NOT NULL,
			created_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS email_recipient (
			email_id   BIGINT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
			contact_id BIGINT NOT NULL REFERENCES contacts(id),
			kind       TEXT NOT NULL DEFAULT 'to',
			PRIMARY KEY (email_id, contact_id, kind)
		);
		CREATE TABLE IF NOT EXISTS property_type (
			id       BIGSERIAL PRIMARY KEY,
			name     TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL DEFAULT 'Email Header'
		);
		CREATE TABLE IF NOT EXISTS document_property (
			id          BIGSERIAL PRIMARY KEY,
			document_id UUID NOT NULL,
			type_id     BIGINT NOT NULL REFERENCES property_type(id),
			value       TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS email_attachment (
			id                    BIGSERIAL PRIMARY KEY,
			email_id              BIGINT NOT NULL REFERENCES emails(id) ON DELETE CASCADE,
			staging_attachment_id BIGINT REFERENCES staging_attachment(id),
			storage_id            TEXT NOT NULL,
			extracted_text        TEXT DEFAULT '',
			created_at            TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(email_id, staging_attachment_id)
		);
		CREATE INDEX IF NOT EXISTS idx_staging_att_msg ON staging_attachment(staging_message_id);
		CREATE INDEX IF NOT EXISTS idx_emails_thread ON emails(thread_id);
		CREATE INDEX IF NOT EXISTS idx_emails_parent ON emails(parent_email_id);
		CREATE INDEX IF NOT EXISTS idx_props_document ON document_property(document_id);
		CREATE INDEX IF NOT EXISTS idx_props_type_value ON document_property(type_id, value);
	`)
	return err
}
