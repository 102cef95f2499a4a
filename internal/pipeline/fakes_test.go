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
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bcem/importer/internal/contacts"
	"github.com/bcem/importer/internal/models"
	"github.com/bcem/importer/internal/store"
)

// fakeStore is an in-memory stand-in for store.Store covering every
// pipeline interface.
type fakeStore struct {
	mu sync.Mutex

	staging       map[string]*store.StagingMessage
	stagedAtts    map[int64][]store.StagedAttachment
	nextStagingID int64
	nextAttID     int64

	types       map[string]int64
	typeCreates map[string]int
	listCalls   int
	nextTypeID  int64
	props       []fakeProp

	contacts      map[string]models.Contact
	nextContactID int64

	threads       map[string]*store.Thread
	threadCreates int
	nextThreadID  int64

	emails      map[int64]store.EmailRecord
	recipients  map[int64][]fakeRecipient
	nextEmailID int64
	msgIDIndex  map[string]int64 // Message-ID value -> email id

	emailAtts []fakeEmailAtt

	failAttachRecipient bool
	failCreateType      map[string]bool
}

type fakeProp struct {
	documentID string
	typeID     int64
	value      string
}

type fakeRecipient struct {
	contactID int64
	kind      string
}

type fakeEmailAtt struct {
	emailID   int64
	stagedID  int64
	storageID string
	text      string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		staging:        make(map[string]*store.StagingMessage),
		stagedAtts:     make(map[int64][]store.StagedAttachment),
		types:          make(map[string]int64),
		typeCreates:    make(map[string]int),
		contacts:       make(map[string]models.Contact),
		threads:        make(map[string]*store.Thread),
		emails:         make(map[int64]store.EmailRecord),
		recipients:     make(map[int64][]fakeRecipient),
		msgIDIndex:     make(map[string]int64),
		failCreateType: make(map[string]bool),
	}
}

func (f *fakeStore) seedContact(name, email string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextContactID++
	f.contacts[email] = models.Contact{ContactID: f.nextContactID, Name: name, Email: email}
}

// --- StagingStore ---

func (f *fakeStore) UpsertStagingMessage(_ context.Context, pid, tid, docID string, raw []byte) (*store.StagingMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.staging[pid]; ok {
		existing.RawPayload = raw
		return existing, nil
	}
	f.nextStagingID++
	rec := &store.StagingMessage{
		ID:                f.nextStagingID,
		ProviderMessageID: pid,
		ProviderThreadID:  tid,
		DocumentID:        docID,
		RawPayload:        raw,
		CreatedAt:         time.Now(),
	}
	f.staging[pid] = rec
	return rec, nil
}

func (f *fakeStore) InsertStagedAttachment(_ context.Context, a store.StagedAttachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.stagedAtts[a.StagingMessageID] {
		if existing.PartID == a.PartID {
			return nil
		}
	}
	f.nextAttID++
	a.ID = f.nextAttID
	f.stagedAtts[a.StagingMessageID] = append(f.stagedAtts[a.StagingMessageID], a)
	return nil
}

// --- PropertyTypeStore / PropertyStore ---

func (f *fakeStore) ListPropertyTypes(context.Context) ([]store.PropertyType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []store.PropertyType
	for name, id := range f.types {
		out = append(out, store.PropertyType{ID: id, Name: name, Category: "Email Header"})
	}
	return out, nil
}

func (f *fakeStore) CreatePropertyType(_ context.Context, name, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typeCreates[name]++
	if f.failCreateType[name] {
		return 0, errors.New("type creation refused")
	}
	key := strings.ToLower(name)
	if id, ok := f.types[key]; ok {
		return id, nil
	}
	f.nextTypeID++
	f.types[key] = f.nextTypeID
	return f.nextTypeID, nil
}

func (f *fakeStore) InsertProperty(_ context.Context, documentID string, typeID int64, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props = append(f.props, fakeProp{documentID: documentID, typeID: typeID, value: value})
	return nil
}

func (f *fakeStore) ClearDocumentProperties(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.props[:0]
	for _, p := range f.props {
		if p.documentID != documentID {
			kept = append(kept, p)
		}
	}
	f.props = kept
	return nil
}

func (f *fakeStore) propsForType(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	typeID := f.types[strings.ToLower(name)]
	var out []string
	for _, p := range f.props {
		if p.typeID == typeID {
			out = append(out, p.value)
		}
	}
	return out
}

// --- ContactFinder ---

func (f *fakeStore) FindContactsByEmail(_ context.Context, emails []string) (map[string]models.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.Contact)
	for _, e := range emails {
		if c, ok := f.contacts[e]; ok {
			out[e] = c
		}
	}
	return out, nil
}

func (f *fakeStore) CreateContact(_ context.Context, name, email string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.contacts[email]; ok {
		return c.ContactID, nil
	}
	f.nextContactID++
	f.contacts[email] = models.Contact{ContactID: f.nextContactID, Name: name, Email: email}
	return f.nextContactID, nil
}

// --- ThreadStore ---

func (f *fakeStore) GetOrCreateThread(_ context.Context, externalID, subject string) (*store.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.threads[externalID]; ok {
		return t, nil
	}
	f.nextThreadID++
	f.threadCreates++
	t := &store.Thread{ID: f.nextThreadID, ExternalID: externalID, Subject: subject, CreatedOn: time.Now()}
	f.threads[externalID] = t
	return t, nil
}

// --- ParentResolver ---

func (f *fakeStore) FindEmailByMessageID(_ context.Context, messageIDs []string) (*int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range messageIDs {
		if emailID, ok := f.msgIDIndex[id]; ok {
			return &emailID, nil
		}
	}
	return nil, nil
}

// --- EmailStore / EmailTx ---

func (f *fakeStore) BeginEmailImport(context.Context) (EmailTx, error) {
	return &fakeTx{store: f}, nil
}

// fakeTx buffers writes and applies them on Commit, discarding on
// Rollback, mirroring the real transaction semantics.
type fakeTx struct {
	store      *fakeStore
	email      store.EmailRecord
	emailID    int64
	recipients []fakeRecipient
	committed  bool
	rolledBack bool
}

func (t *fakeTx) InsertEmail(_ context.Context, rec store.EmailRecord) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	// Upsert on document id, matching the real store: a retried import
	// converges on the existing row.
	for id, existing := range t.store.emails {
		if existing.DocumentID == rec.DocumentID {
			t.emailID = id
			t.email = rec
			return id, nil
		}
	}
	t.store.nextEmailID++
	t.emailID = t.store.nextEmailID
	t.email = rec
	return t.emailID, nil
}

func (t *fakeTx) AttachRecipient(_ context.Context, emailID, contactID int64, kind string) error {
	if t.store.failAttachRecipient {
		return errors.New("recipient table unavailable")
	}
	t.recipients = append(t.recipients, fakeRecipient{contactID: contactID, kind: kind})
	return nil
}

func (t *fakeTx) BackfillParent(context.Context, int64, []string) (int64, error) {
	return 0, nil
}

func (t *fakeTx) Commit(context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.committed = true
	rec := t.email
	rec.ID = t.emailID
	t.store.emails[t.emailID] = rec
	t.store.recipients[t.emailID] = t.recipients
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.committed {
		return nil
	}
	t.rolledBack = true
	return nil
}

// --- AttachmentStore ---

func (f *fakeStore) ListStagedAttachments(_ context.Context, stagingMessageID int64) ([]store.StagedAttachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.StagedAttachment(nil), f.stagedAtts[stagingMessageID]...), nil
}

func (f *fakeStore) MarkAttachmentStored(_ context.Context, id int64, storageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sid, atts := range f.stagedAtts {
		for i := range atts {
			if atts[i].ID == id {
				f.stagedAtts[sid][i].StorageID = &storageID
				f.stagedAtts[sid][i].ExtractedText = &text
				f.stagedAtts[sid][i].Imported = true
				return nil
			}
		}
	}
	return fmt.Errorf("staged attachment %d not found", id)
}

func (f *fakeStore) InsertEmailAttachment(_ context.Context, emailID, stagedID int64, storageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.emailAtts {
		if existing.emailID == emailID && existing.stagedID == stagedID {
			return nil
		}
	}
	f.emailAtts = append(f.emailAtts, fakeEmailAtt{
		emailID: emailID, stagedID: stagedID, storageID: storageID, text: text,
	})
	return nil
}

// --- provider / downloads fakes ---

type fakeFetcher struct {
	messages map[string]*models.RawMessage
}

func (f *fakeFetcher) FetchMessage(_ context.Context, id string) (*models.RawMessage, error) {
	return f.messages[id], nil // absent -> nil, nil, the benign case
}

type fakeResults struct {
	mu      sync.Mutex
	results map[string]*models.DownloadResult // keyed by partID
	delay   time.Duration
}

func (f *fakeResults) Get(ctx context.Context, _ int64, partID string) (*models.DownloadResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[partID], nil
}

// --- message builders ---

func b64(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

// testMessage builds a two-part message with one attachment from
// jane@x.test to bob@x.test and carol@x.test.
func testMessage(id string) *models.RawMessage {
	return &models.RawMessage{
		ID:       id,
		ThreadID: "thread-" + id,
		Payload: models.MessagePart{
			PartID:   "0",
			MimeType: "multipart/mixed",
			Headers: []models.Header{
				{Name: "From", Value: "Jane Doe <jane@x.test>"},
				{Name: "To", Value: "bob@x.test, carol@x.test"},
				{Name: "Subject", Value: "Import test " + id},
				{Name: "Date", Value: "Mon, 02 Jan 2006 15:04:05 -0700"},
				{Name: "Message-ID", Value: "<" + id + "@mail.x.test>"},
			},
			Parts: []models.MessagePart{
				{PartID: "1", MimeType: "text/plain", Body: models.PartBody{Data: b64("hello from " + id)}},
				{
					PartID:   "2",
					MimeType: "application/pdf",
					Filename: "report.pdf",
					Body:     models.PartBody{AttachmentID: "att-" + id, Size: 4},
				},
			},
		},
	}
}

// newTestOrchestrator wires an orchestrator over the fakes with contacts
// pre-seeded so the body stage resolves its participants.
func newTestOrchestrator(ctx context.Context, fs *fakeStore, fetcher *fakeFetcher, results *fakeResults) (*Orchestrator, error) {
	return New(ctx, Config{
		Fetcher:     fetcher,
		Staging:     fs,
		Types:       fs,
		Properties:  fs,
		Contacts:    fs,
		Threads:     fs,
		Parents:     fs,
		Emails:      fs,
		Attachments: fs,
		Results:     results,
		Resolver:    contacts.NewResolver(fs, 4),
	})
}
