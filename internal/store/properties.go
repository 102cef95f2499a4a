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
)

// PropertyType identifies one header name in the property store.
type PropertyType struct {
	ID       int64
	Name     string
	Category string
}

// ListPropertyTypes returns all known header name -> type id mappings,
// used to warm the header-type cache once per process.
func (s *Store) ListPropertyTypes(ctx context.Context) ([]PropertyType, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, category FROM property_type ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []PropertyType
	for rows.Next() {
		var t PropertyType
		if err := rows.Scan(&t.ID, &t.Name, &t.Category); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// CreatePropertyType registers a header name and returns its type id.
// Concurrent imports racing on a new header name converge on one row; the
// upsert makes first-sight creation safe across processes.
func (s *Store) CreatePropertyType(ctx context.Context, name, category string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO property_type (name, category)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET category = EXCLUDED.category
		RETURNING id
	`, name, category).Scan(&id)
	return id, err
}

// InsertProperty persists one normalized header value for a document.
func (s *Store) InsertProperty(ctx context.Context, documentID string, typeID int64, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_property (document_id, type_id, value)
		VALUES ($1, $2, $3)
	`, documentID, typeID, value)
	return err
}

// ClearDocumentProperties removes all header properties for a document.
// A retried import rewrites the full set rather than appending to it.
func (s *Store) ClearDocumentProperties(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM document_property WHERE document_id = $1
	`, documentID)
	return err
}
