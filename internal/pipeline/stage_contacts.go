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

	"github.com/bcem/importer/internal/contacts"
	"github.com/bcem/importer/internal/telemetry"
)

// ContactStage ensures every contact referenced in the message's headers
// exists in the contact store, so imports of later messages in the
// conversation resolve their participants. Creation is awaited and
// failure-aggregated.
type ContactStage struct {
	resolver  *contacts.Resolver
	telemetry telemetry.Recorder
}

func (s *ContactStage) Stage() ImportStage { return StageContacts }

func (s *ContactStage) Begin(ctx context.Context, sc *StageContext) error { return nil }

func (s *ContactStage) Run(ctx context.Context, sc *StageContext) error {
	cs := contacts.ParseHeaderContacts(sc.Headers)
	if len(cs) == 0 {
		return nil
	}

	if err := s.resolver.EnsureContacts(ctx, cs); err != nil {
		return fmt.Errorf("ensure contacts for message %s: %w", sc.Raw.ID, err)
	}

	s.telemetry.Increment(ctx, "import.contacts_resolved")
	slog.Info("contacts resolved",
		"source", "pipeline",
		"provider_message_id", sc.Raw.ID,
		"contacts", len(cs),
	)
	return nil
}
