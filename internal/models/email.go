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

// Package models defines the data structures shared across the import service.
package models

// Header is a single raw name/value pair from the provider payload.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PartBody carries the content of one MIME part. Data is base64url-encoded
// by the provider; large parts carry an AttachmentID instead of inline data.
type PartBody struct {
	AttachmentID string `json:"attachmentId,omitempty"`
	Size         int    `json:"size"`
	Data         string `json:"data,omitempty"`
}

// MessagePart is one node of the provider's MIME tree. Multipart nodes
// nest arbitrarily deep via Parts.
type MessagePart struct {
	PartID   string        `json:"partId"`
	MimeType string        `json:"mimeType"`
	Filename string        `json:"filename,omitempty"`
	Headers  []Header      `json:"headers,omitempty"`
	Body     PartBody      `json:"body"`
	Parts    []MessagePart `json:"parts,omitempty"`
}

// RawMessage is a provider message as fetched, MIME-tree shaped.
type RawMessage struct {
	ID       string      `json:"id"`
	ThreadID string      `json:"threadId"`
	Snippet  string      `json:"snippet,omitempty"`
	Payload  MessagePart `json:"payload"`
}

// Contact is a sender or recipient resolved from header text.
type Contact struct {
	ContactID int64  `json:"contact_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email"`
}

// DownloadResult is the completed output of an attachment download job,
// keyed in Redis by "stagedMessageId:partId".
type DownloadResult struct {
	StagedMessageID int64  `json:"staged_message_id"`
	PartID          string `json:"part_id"`
	StorageID       string `json:"storage_id"`
	ExtractedText   string `json:"extracted_text,omitempty"`
}

// AttachmentParts returns the parts of the MIME tree that carry a filename,
// i.e. the attachments to stage. Inline body parts have no filename and are
// skipped.
func (m *RawMessage) AttachmentParts() []MessagePart {
	var out []MessagePart
	collectAttachmentParts(m.Payload, &out)
	return out
}

func collectAttachmentParts(p MessagePart, out *[]MessagePart) {
	if p.Filename != "" {
		*out = append(*out, p)
	}
	for _, child := range p.Parts {
		collectAttachmentParts(child, out)
	}
}
