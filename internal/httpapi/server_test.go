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

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bcem/importer/internal/limiter"
	"github.com/bcem/importer/internal/pipeline"
)

// fakeImporter records import calls and signals when each completes.
type fakeImporter struct {
	mu       sync.Mutex
	imported []string
	failFor  map[string]bool
	done     chan string
}

func newFakeImporter() *fakeImporter {
	return &fakeImporter{
		failFor: make(map[string]bool),
		done:    make(chan string, 16),
	}
}

func (f *fakeImporter) Import(_ context.Context, id string) (*pipeline.StageContext, error) {
	f.mu.Lock()
	f.imported = append(f.imported, id)
	f.mu.Unlock()
	defer func() { f.done <- id }()
	if f.failFor[id] {
		return nil, errors.New("stage body: boom")
	}
	return &pipeline.StageContext{ProviderMessageID: id}, nil
}

func (f *fakeImporter) LimiterSnapshot() limiter.Snapshot {
	return limiter.Snapshot{Active: 2, Queued: 1, MaxConcurrent: 5, Available: 3}
}

// fakeFilter is an in-memory dedup filter.
type fakeFilter struct {
	mu      sync.Mutex
	seen    map[string]bool
	forgets []string
}

func newFakeFilter() *fakeFilter {
	return &fakeFilter{seen: make(map[string]bool)}
}

func (f *fakeFilter) IsNew(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

func (f *fakeFilter) Forget(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, id)
	f.forgets = append(f.forgets, id)
	return nil
}

func awaitImports(t *testing.T, imp *fakeImporter, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-imp.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for import %d of %d", i+1, n)
		}
	}
}

func TestServeImports_AcceptsAndRunsInBackground(t *testing.T) {
	imp := newFakeImporter()
	h := NewHandler(imp, newFakeFilter(), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/imports",
		strings.NewReader(`{"message_ids": ["msg-1", "msg-2"]}`))
	rr := httptest.NewRecorder()

	h.ServeImports(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}

	var resp importResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Accepted) != 2 {
		t.Errorf("accepted = %v, want 2 ids", resp.Accepted)
	}

	awaitImports(t, imp, 2)
	imp.mu.Lock()
	defer imp.mu.Unlock()
	if len(imp.imported) != 2 {
		t.Errorf("imported = %v", imp.imported)
	}
}

func TestServeImports_DuplicateSkipped(t *testing.T) {
	imp := newFakeImporter()
	filter := newFakeFilter()
	h := NewHandler(imp, filter, nil, nil)

	body := `{"message_ids": ["msg-1"]}`
	first := httptest.NewRecorder()
	h.ServeImports(first, httptest.NewRequest(http.MethodPost, "/imports", strings.NewReader(body)))
	awaitImports(t, imp, 1)

	second := httptest.NewRecorder()
	h.ServeImports(second, httptest.NewRequest(http.MethodPost, "/imports", strings.NewReader(body)))

	var resp importResponse
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Accepted) != 0 || len(resp.Skipped) != 1 {
		t.Errorf("resubmission: accepted=%v skipped=%v", resp.Accepted, resp.Skipped)
	}

	imp.mu.Lock()
	defer imp.mu.Unlock()
	if len(imp.imported) != 1 {
		t.Errorf("duplicate submission reached the pipeline: %v", imp.imported)
	}
}

func TestServeImports_FailedImportClearsDedupMarker(t *testing.T) {
	imp := newFakeImporter()
	imp.failFor["msg-bad"] = true
	filter := newFakeFilter()
	h := NewHandler(imp, filter, nil, nil)

	rr := httptest.NewRecorder()
	h.ServeImports(rr, httptest.NewRequest(http.MethodPost, "/imports",
		strings.NewReader(`{"message_ids": ["msg-bad"]}`)))
	awaitImports(t, imp, 1)

	// The marker is cleared asynchronously after the import fails.
	deadline := time.Now().Add(2 * time.Second)
	for {
		filter.mu.Lock()
		forgot := len(filter.forgets) == 1 && filter.forgets[0] == "msg-bad"
		filter.mu.Unlock()
		if forgot {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("dedup marker never cleared for a failed import")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServeImports_RejectsBadRequests(t *testing.T) {
	h := NewHandler(newFakeImporter(), nil, nil, nil)

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"invalid json", http.MethodPost, "{", http.StatusBadRequest},
		{"empty ids", http.MethodPost, `{"message_ids": []}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeImports(rr, httptest.NewRequest(tt.method, "/imports", strings.NewReader(tt.body)))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestServeLimiter(t *testing.T) {
	h := NewHandler(newFakeImporter(), nil, nil, nil)

	rr := httptest.NewRecorder()
	h.ServeLimiter(rr, httptest.NewRequest(http.MethodGet, "/limiter", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var snap limiter.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.MaxConcurrent != 5 || snap.Active != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestServeHealth(t *testing.T) {
	healthy := PingerFunc(func(context.Context) error { return nil })
	sick := PingerFunc(func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name  string
		db    Pinger
		redis Pinger
		want  int
	}{
		{"all healthy", healthy, healthy, http.StatusOK},
		{"postgres down", sick, healthy, http.StatusServiceUnavailable},
		{"redis down", healthy, sick, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(newFakeImporter(), nil, tt.db, tt.redis)
			rr := httptest.NewRecorder()
			h.ServeHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}
