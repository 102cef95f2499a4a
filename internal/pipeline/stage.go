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

// Package pipeline implements the staged email import pipeline: a sequence
// of transactional stage processors that take one provider message through
// fetch, staging, header normalization, body extraction, attachment
// storage, and contact resolution.
package pipeline

import (
	"context"
	"fmt"

	"github.com/bcem/importer/internal/headers"
	"github.com/bcem/importer/internal/models"
	"github.com/bcem/importer/internal/store"
)

// ImportStage enumerates the pipeline stages in their fixed execution
// order.
type ImportStage int

const (
	StageNew ImportStage = iota
	StageStaged
	StageHeaders
	StageBody
	StageAttachments
	StageContacts
	StageCompleted
)

// stageNames indexes by ImportStage.
var stageNames = [...]string{
	"new", "staged", "headers", "body", "attachments", "contacts", "completed",
}

func (s ImportStage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Stages returns the pipeline order.
func Stages() []ImportStage {
	return []ImportStage{
		StageNew, StageStaged, StageHeaders, StageBody,
		StageAttachments, StageContacts, StageCompleted,
	}
}

// StageContext carries the mutable state of one import run. It is owned by
// the orchestrator for the duration of the run and mutated in place by
// each stage; it must not be shared across runs.
type StageContext struct {
	CurrentStage      ImportStage
	ProviderMessageID string

	// Raw is the fetched provider message; nil after StageNew means the
	// message no longer exists and there is nothing to import.
	Raw *models.RawMessage

	// Staging is the durability checkpoint written by StageStaged. Every
	// later stage requires it.
	Staging *store.StagingMessage

	// Headers is the normalized header view, populated by StageHeaders.
	Headers *headers.Map

	// MessageIDs are this message's global Message-ID tokens, used for
	// parent backfill.
	MessageIDs []string

	// EmailID and ThreadID are set once StageBody persists the email row.
	EmailID  int64
	ThreadID int64

	// BodyText is the extracted plain body.
	BodyText string
}

// Processor is the common contract every stage implements. Begin performs
// optional setup (cache warming, telemetry timers); Run does the work. A
// returned error aborts the whole import run; there is no per-stage retry.
type Processor interface {
	Stage() ImportStage
	Begin(ctx context.Context, sc *StageContext) error
	Run(ctx context.Context, sc *StageContext) error
}

// DataIntegrityError reports a referenced entity missing from the store,
// e.g. an email whose sender has no contact record. Always fatal to the
// stage that detects it.
type DataIntegrityError struct {
	Entity string // "sender", "recipient"
	Key    string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity: %s %q not found in contact store", e.Entity, e.Key)
}
