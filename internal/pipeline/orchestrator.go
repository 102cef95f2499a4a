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
	"time"

	"github.com/bcem/importer/internal/contacts"
	"github.com/bcem/importer/internal/limiter"
	"github.com/bcem/importer/internal/store"
	"github.com/bcem/importer/internal/telemetry"
)

// Config holds the collaborators and tuning knobs for the orchestrator.
// Most store-facing fields are satisfied by *store.Store.
type Config struct {
	Fetcher     MessageFetcher
	Staging     StagingStore
	Types       PropertyTypeStore
	Properties  PropertyStore
	Contacts    ContactFinder
	Threads     ThreadStore
	Parents     ParentResolver
	Emails      EmailStore
	Attachments AttachmentStore
	Results     ResultsGetter
	Downloader  DownloadRunner
	Resolver    *contacts.Resolver
	Telemetry   telemetry.Recorder

	// StageTimeout is the per-stage deadline. Zero means 2 minutes.
	StageTimeout time.Duration
	// AttachmentConcurrency caps simultaneous attachment jobs. Zero means 5.
	AttachmentConcurrency int
	// HeaderConcurrency bounds the header property write fan-out. Zero
	// means 16.
	HeaderConcurrency int
}

// Orchestrator sequences the stage processors for one provider message,
// carrying a mutable StageContext forward and surfacing the first stage
// failure. Independent messages may be imported concurrently; each run
// owns its own context.
type Orchestrator struct {
	registry     map[ImportStage]Processor
	cache        *HeaderTypeCache
	lim          *limiter.Limiter
	stageTimeout time.Duration
	telemetry    telemetry.Recorder
}

// New builds the orchestrator and its stage registry, and loads the
// header-type cache. It is a pure factory: stage processors carry no
// state between runs beyond the caches injected here.
func New(ctx context.Context, cfg Config) (*Orchestrator, error) {
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Noop{}
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 2 * time.Minute
	}
	if cfg.AttachmentConcurrency <= 0 {
		cfg.AttachmentConcurrency = 5
	}
	if cfg.HeaderConcurrency <= 0 {
		cfg.HeaderConcurrency = 16
	}

	cache := NewHeaderTypeCache(cfg.Types)
	if err := cache.Load(ctx); err != nil {
		return nil, fmt.Errorf("warm header type cache: %w", err)
	}

	lim := limiter.New(cfg.AttachmentConcurrency)

	registry := map[ImportStage]Processor{
		StageNew:    &NewStage{fetcher: cfg.Fetcher, telemetry: cfg.Telemetry},
		StageStaged: &StagedStage{staging: cfg.Staging},
		StageHeaders: &HeaderStage{
			cache:       cache,
			props:       cfg.Properties,
			telemetry:   cfg.Telemetry,
			concurrency: cfg.HeaderConcurrency,
		},
		StageBody: &BodyStage{
			contacts:  cfg.Contacts,
			threads:   cfg.Threads,
			parents:   cfg.Parents,
			emails:    cfg.Emails,
			telemetry: cfg.Telemetry,
		},
		StageAttachments: &AttachmentStage{
			atts:       cfg.Attachments,
			results:    cfg.Results,
			downloader: cfg.Downloader,
			lim:        lim,
			telemetry:  cfg.Telemetry,
		},
		StageContacts:  &ContactStage{resolver: cfg.Resolver, telemetry: cfg.Telemetry},
		StageCompleted: &CompletedStage{telemetry: cfg.Telemetry},
	}

	return &Orchestrator{
		registry:     registry,
		cache:        cache,
		lim:          lim,
		stageTimeout: cfg.StageTimeout,
		telemetry:    cfg.Telemetry,
	}, nil
}

// Import runs the full pipeline for one provider message id. A nil error
// with a nil Raw on the returned context means the message no longer
// exists on the provider side and nothing was imported.
func (o *Orchestrator) Import(ctx context.Context, providerMessageID string) (*StageContext, error) {
	sc := &StageContext{
		CurrentStage:      StageNew,
		ProviderMessageID: providerMessageID,
	}

	for _, stage := range Stages() {
		proc := o.registry[stage]
		sc.CurrentStage = stage

		if err := o.runStage(ctx, proc, sc); err != nil {
			slog.Error("import aborted",
				"source", "pipeline",
				"provider_message_id", providerMessageID,
				"stage", stage.String(),
				"error", err,
			)
			o.telemetry.Increment(ctx, "import.failed")
			return sc, fmt.Errorf("stage %s: %w", stage, err)
		}

		// A benign not-found leaves no target; stop without failing.
		if stage == StageNew && sc.Raw == nil {
			return sc, nil
		}
	}

	return sc, nil
}

// runStage executes one stage under its deadline.
func (o *Orchestrator) runStage(ctx context.Context, proc Processor, sc *StageContext) error {
	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	stop := o.telemetry.StartTimer("import.stage." + proc.Stage().String())
	defer stop()

	if err := proc.Begin(stageCtx, sc); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	return proc.Run(stageCtx, sc)
}

// LimiterSnapshot exposes the attachment limiter state for observability.
func (o *Orchestrator) LimiterSnapshot() limiter.Snapshot {
	return o.lim.Snapshot()
}

// EmailStoreFor adapts *store.Store, whose transaction type is concrete,
// to the EmailStore interface the body stage consumes.
func EmailStoreFor(s *store.Store) EmailStore {
	return pgEmailStore{s: s}
}

type pgEmailStore struct {
	s *store.Store
}

func (p pgEmailStore) BeginEmailImport(ctx context.Context) (EmailTx, error) {
	tx, err := p.s.BeginEmailImport(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
