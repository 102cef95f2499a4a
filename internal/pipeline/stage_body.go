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
	"net/mail"
	"time"

	"github.com/bcem/importer/internal/bodytext"
	"github.com/bcem/importer/internal/contacts"
	"github.com/bcem/importer/internal/headers"
	"github.com/bcem/importer/internal/models"
	"github.com/bcem/importer/internal/store"
	"github.com/bcem/importer/internal/telemetry"
)

// ContactFinder looks up known contacts by email. Implemented by
// store.Store.
type ContactFinder interface {
	FindContactsByEmail(ctx context.Context, emails []string) (map[string]models.Contact, error)
}

// ThreadStore resolves provider thread ids to thread rows. Implemented by
// store.Store.
type ThreadStore interface {
	GetOrCreateThread(ctx context.Context, externalID, subject string) (*store.Thread, error)
}

// ParentResolver matches a parent email by stored Message-ID property.
// Implemented by store.Store.
type ParentResolver interface {
	FindEmailByMessageID(ctx context.Context, messageIDs []string) (*int64, error)
}

// EmailTx is the transaction scope covering email insertion and its
// linkage steps. Implemented by store.EmailImportTx.
type EmailTx interface {
	InsertEmail(ctx context.Context, rec store.EmailRecord) (int64, error)
	AttachRecipient(ctx context.Context, emailID, contactID int64, kind string) error
	BackfillParent(ctx context.Context, parentEmailID int64, messageIDs []string) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// EmailStore opens email import transactions.
type EmailStore interface {
	BeginEmailImport(ctx context.Context) (EmailTx, error)
}

// BodyStage extracts the plain body text and persists the email row with
// its recipients, thread, and parent linkage in one transaction. The email
// row is never visible without its recipients: any failure before commit
// rolls the whole set back.
type BodyStage struct {
	contacts  ContactFinder
	threads   ThreadStore
	parents   ParentResolver
	emails    EmailStore
	telemetry telemetry.Recorder
}

func (s *BodyStage) Stage() ImportStage { return StageBody }

func (s *BodyStage) Begin(ctx context.Context, sc *StageContext) error { return nil }

func (s *BodyStage) Run(ctx context.Context, sc *StageContext) error {
	stop := s.telemetry.StartTimer("import.body_stage")
	defer stop()

	sc.BodyText = bodytext.Extract(sc.Raw)

	sender, recipients, err := s.resolveParticipants(ctx, sc)
	if err != nil {
		return err
	}

	subject := sc.Headers.Get("Subject")

	// Threads are created lazily, keyed by the provider thread id.
	threadKey := sc.Raw.ThreadID
	if threadKey == "" {
		threadKey = sc.Raw.ID
	}
	thread, err := s.threads.GetOrCreateThread(ctx, threadKey, subject)
	if err != nil {
		return fmt.Errorf("resolve thread %s: %w", threadKey, err)
	}
	sc.ThreadID = thread.ID

	parentID, err := s.resolveParent(ctx, sc)
	if err != nil {
		return fmt.Errorf("resolve parent email: %w", err)
	}

	rec := store.EmailRecord{
		DocumentID:        sc.Staging.DocumentID,
		ProviderMessageID: sc.Raw.ID,
		SenderContactID:   sender.ContactID,
		ThreadID:          thread.ID,
		ParentEmailID:     parentID,
		Subject:           subject,
		SentAt:            sentAt(sc.Headers),
		BodyText:          sc.BodyText,
	}

	tx, err := s.emails.BeginEmailImport(ctx)
	if err != nil {
		return err
	}

	emailID, err := s.persistEmail(ctx, tx, rec, recipients, sc.MessageIDs)
	if err != nil {
		// Roll back so no email row outlives its failed linkage. A
		// rollback failure is logged but never masks the original error.
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			slog.Error("email import rollback failed",
				"source", "pipeline",
				"provider_message_id", sc.Raw.ID,
				"error", rbErr,
			)
		}
		return err
	}

	sc.EmailID = emailID
	s.telemetry.Increment(ctx, "import.email_persisted")

	slog.Info("email persisted",
		"source", "pipeline",
		"provider_message_id", sc.Raw.ID,
		"email_id", emailID,
		"document_id", rec.DocumentID,
		"thread_id", thread.ID,
		"recipients", len(recipients),
	)
	return nil
}

// resolvedRecipient pairs a contact with the header it came from.
type resolvedRecipient struct {
	contact models.Contact
	kind    string // "to", "cc", "bcc"
}

// resolveParticipants parses the address headers and resolves every
// participant against the contact store. Exactly one sender match is
// required; a missing sender or recipient is a data-integrity error.
func (s *BodyStage) resolveParticipants(ctx context.Context, sc *StageContext) (models.Contact, []resolvedRecipient, error) {
	senders := contacts.ParseAddressList(sc.Headers.Get("From"))
	if len(senders) != 1 {
		return models.Contact{}, nil, fmt.Errorf("message %s: expected exactly one sender, got %d",
			sc.Raw.ID, len(senders))
	}
	senderEmail := senders[0].Email

	type pending struct {
		email string
		kind  string
	}
	var pendings []pending
	emails := []string{senderEmail}
	for _, kind := range []string{"to", "cc", "bcc"} {
		for _, value := range sc.Headers.Values(kind) {
			for _, c := range contacts.ParseAddressList(value) {
				pendings = append(pendings, pending{email: c.Email, kind: kind})
				emails = append(emails, c.Email)
			}
		}
	}

	known, err := s.contacts.FindContactsByEmail(ctx, emails)
	if err != nil {
		return models.Contact{}, nil, fmt.Errorf("look up contacts: %w", err)
	}

	sender, ok := known[senderEmail]
	if !ok {
		return models.Contact{}, nil, &DataIntegrityError{Entity: "sender", Key: senderEmail}
	}

	var recipients []resolvedRecipient
	seen := make(map[string]bool)
	for _, p := range pendings {
		c, ok := known[p.email]
		if !ok {
			return models.Contact{}, nil, &DataIntegrityError{Entity: "recipient", Key: p.email}
		}
		if seen[p.kind+":"+p.email] {
			continue
		}
		seen[p.kind+":"+p.email] = true
		recipients = append(recipients, resolvedRecipient{contact: c, kind: p.kind})
	}

	return sender, recipients, nil
}

// resolveParent matches this message's In-Reply-To / References ids
// against stored Message-ID properties.
func (s *BodyStage) resolveParent(ctx context.Context, sc *StageContext) (*int64, error) {
	var refs []string
	for _, name := range []string{"In-Reply-To", "References"} {
		for _, v := range sc.Headers.Values(name) {
			refs = append(refs, headers.SplitValue(name, v)...)
		}
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return s.parents.FindEmailByMessageID(ctx, refs)
}

// persistEmail inserts the email row, attaches recipients, and adopts any
// previously-orphaned children, all within the given transaction.
func (s *BodyStage) persistEmail(ctx context.Context, tx EmailTx, rec store.EmailRecord, recipients []resolvedRecipient, messageIDs []string) (int64, error) {
	emailID, err := tx.InsertEmail(ctx, rec)
	if err != nil {
		return 0, err
	}

	for _, r := range recipients {
		if err := tx.AttachRecipient(ctx, emailID, r.contact.ContactID, r.kind); err != nil {
			return 0, fmt.Errorf("attach recipient %s: %w", r.contact.Email, err)
		}
	}

	adopted, err := tx.BackfillParent(ctx, emailID, messageIDs)
	if err != nil {
		return 0, fmt.Errorf("backfill parent ids: %w", err)
	}
	if adopted > 0 {
		slog.Info("adopted orphaned child emails",
			"source", "pipeline",
			"email_id", emailID,
			"children", adopted,
		)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit email import: %w", err)
	}
	return emailID, nil
}

// sentAt parses the Date header; an unparseable date is stored as NULL.
func sentAt(h *headers.Map) *time.Time {
	raw := h.Get("Date")
	if raw == "" {
		return nil
	}
	t, err := mail.ParseDate(raw)
	if err != nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
