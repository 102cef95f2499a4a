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
	"time"
)

// Thread is the provider-level conversation grouping related messages.
type Thread struct {
	ID         int64
	ExternalID string
	Subject    string
	CreatedOn  time.Time
}

// GetOrCreateThread returns the thread for a provider thread id, creating
// it lazily with the given subject. Re-importing a message from a known
// thread reuses the existing row; the stored subject is the first one seen.
func (s *Store) GetOrCreateThread(ctx context.Context, externalID, subject string) (*Thread, error) {
	var t Thread
	err := s.pool.QueryRow(ctx, `
		INSERT INTO threads (external_id, subject)
		VALUES ($1, $2)
		ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING id, external_id, subject, created_on
	`, externalID, subject).Scan(&t.ID, &t.ExternalID, &t.Subject, &t.CreatedOn)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
