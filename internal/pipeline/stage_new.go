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

	"github.com/bcem/importer/internal/models"
	"github.com/bcem/importer/internal/telemetry"
)

// MessageFetcher retrieves a raw message from the provider. A nil, nil
// return means the message no longer exists. Implemented by
// provider.Client.
type MessageFetcher interface {
	FetchMessage(ctx context.Context, messageID string) (*models.RawMessage, error)
}

// NewStage fetches the raw provider message. Benign provider not-found
// errors leave the context without a target, which stops the pipeline
// without failing it.
type NewStage struct {
	fetcher   MessageFetcher
	telemetry telemetry.Recorder
}

func (s *NewStage) Stage() ImportStage { return StageNew }

func (s *NewStage) Begin(ctx context.Context, sc *StageContext) error { return nil }

func (s *NewStage) Run(ctx context.Context, sc *StageContext) error {
	msg, err := s.fetcher.FetchMessage(ctx, sc.ProviderMessageID)
	if err != nil {
		return fmt.Errorf("fetch provider message %s: %w", sc.ProviderMessageID, err)
	}

	if msg == nil {
		slog.Info("nothing to import, provider message gone",
			"source", "pipeline",
			"provider_message_id", sc.ProviderMessageID,
		)
		return nil
	}

	sc.Raw = msg
	s.telemetry.Increment(ctx, "import.message_fetched")

	slog.Info("provider message fetched",
		"source", "pipeline",
		"provider_message_id", msg.ID,
		"provider_thread_id", msg.ThreadID,
		"headers", len(msg.Payload.Headers),
	)
	return nil
}
