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

// Package httpapi exposes the import trigger endpoint plus health and
// limiter observability. Import requests are acknowledged immediately
// and processed in the background; callers poll the store for outcomes.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/bcem/importer/internal/limiter"
	"github.com/bcem/importer/internal/pipeline"
)

// Importer runs the pipeline for one provider message. Implemented by
// pipeline.Orchestrator.
type Importer interface {
	Import(ctx context.Context, providerMessageID string) (*pipeline.StageContext, error)
	LimiterSnapshot() limiter.Snapshot
}

// DedupFilter drops repeat submissions of in-flight messages. Implemented
// by dedup.Filter.
type DedupFilter interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
	Forget(ctx context.Context, messageID string) error
}

// Pinger is a backend liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// pingFunc adapts a plain ping function to Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// PingerFunc wraps a ping function as a Pinger.
func PingerFunc(f func(ctx context.Context) error) Pinger { return pingFunc(f) }

// Handler serves the import API.
type Handler struct {
	importer Importer
	filter   DedupFilter
	db       Pinger
	redis    Pinger
}

// NewHandler creates the import API handler. filter may be nil, in which
// case every submission enters the pipeline.
func NewHandler(importer Importer, filter DedupFilter, db, redis Pinger) *Handler {
	return &Handler{
		importer: importer,
		filter:   filter,
		db:       db,
		redis:    redis,
	}
}

// importRequest is the POST /imports body.
type importRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// importResponse acknowledges which submissions were accepted.
type importResponse struct {
	Accepted []string `json:"accepted"`
	Skipped  []string `json:"skipped,omitempty"`
}

// ServeImports handles import trigger requests.
//
//   - The caller POSTs a JSON array of provider message ids
//   - We respond 202 Accepted immediately
//   - Each accepted message runs through the pipeline in the background
func (h *Handler) ServeImports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(req.MessageIDs) == 0 {
		http.Error(w, "message_ids is required", http.StatusBadRequest)
		return
	}

	resp := importResponse{}
	for _, id := range req.MessageIDs {
		if id == "" {
			continue
		}
		if h.filter != nil {
			isNew, err := h.filter.IsNew(r.Context(), id)
			if err != nil {
				slog.Warn("dedup check failed, proceeding", "message_id", id, "error", err)
			} else if !isNew {
				slog.Debug("skipping duplicate import request", "message_id", id)
				resp.Skipped = append(resp.Skipped, id)
				continue
			}
		}
		resp.Accepted = append(resp.Accepted, id)
	}

	// Respond before the pipeline runs; imports can take a while.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(resp)

	go h.runImports(context.Background(), resp.Accepted)
}

// runImports processes accepted submissions sequentially. A failed import
// clears its dedup marker so the caller can retry immediately.
func (h *Handler) runImports(ctx context.Context, messageIDs []string) {
	for _, id := range messageIDs {
		if _, err := h.importer.Import(ctx, id); err != nil {
			slog.Error("background import failed",
				"message_id", id,
				"error", err,
			)
			if h.filter != nil {
				if err := h.filter.Forget(ctx, id); err != nil {
					slog.Warn("failed to clear dedup marker", "message_id", id, "error", err)
				}
			}
		}
	}
}

// ServeLimiter reports the attachment limiter state.
func (h *Handler) ServeLimiter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.importer.LimiterSnapshot())
}

// ServeHealth reports backend liveness.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	if h.redis != nil {
		if err := h.redis.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "healthy"}`))
}

// Mux returns the route table for the handler.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/imports", h.ServeImports)
	mux.HandleFunc("/limiter", h.ServeLimiter)
	mux.HandleFunc("/health", h.ServeHealth)
	return mux
}

// Serve starts the import API server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler: handler.Mux(),
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind API port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("import API shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("import API listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("import API server error", "error", err)
		}
	}()

	return ready, nil
}
