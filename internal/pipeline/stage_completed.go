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
	"log/slog"

	"github.com/bcem/importer/internal/telemetry"
)

// CompletedStage is the success sentinel. Reaching it means the message,
// its headers, body, attachments, and contacts are all persisted.
type CompletedStage struct {
	telemetry telemetry.Recorder
}

func (s *CompletedStage) Stage() ImportStage { return StageCompleted }

func (s *CompletedStage) Begin(ctx context.Context, sc *StageContext) error { return nil }

func (s *CompletedStage) Run(ctx context.Context, sc *StageContext) error {
	s.telemetry.Increment(ctx, "import.completed")

	slog.Info("import completed",
		"source", "pipeline",
		"provider_message_id", sc.ProviderMessageID,
		"email_id", sc.EmailID,
		"thread_id", sc.ThreadID,
	)
	return nil
}
