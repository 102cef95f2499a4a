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

	"github.com/bcem/importer/internal/models"
)

// FindContactsByEmail returns the known contacts among the given email
// addresses, keyed by address. Addresses not found are simply absent from
// the result.
func (s *Store) FindContactsByEmail(ctx context.Context, emails []string) (map[string]models.Contact, error) {
	out := make(map[string]models.Contact, len(emails))
	if len(emails) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, email FROM contacts WHERE email = ANY($1)
	`, emails)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ContactID, &c.Name, &c.Email); err != nil {
			return nil, err
		}
		out[c.Email] = c
	}
	return out, rows.Err()
}

// CreateContact inserts a contact, deduplicated on email address. An
// existing contact keeps its id; a non-empty name fills in a previously
// blank one.
func (s *Store) CreateContact(ctx context.Context, name, email string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (name, email)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET
			name = CASE WHEN contacts.name = '' THEN EXCLUDED.name ELSE contacts.name END
		RETURNING id
	`, name, email).Scan(&id)
	return id, err
}
