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

// BlackChamber ICES — Re-import Command
//
// Standalone CLI tool that runs the import pipeline for specific provider
// messages. Intended for re-processing messages after failed imports or
// schema changes; staging upserts make re-running a completed import
// harmless.
//
// Usage:
//
//	go run ./cmd/reimport/ --messages id1,id2 [--continue-on-error]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/importer/internal/blob"
	"github.com/bcem/importer/internal/config"
	"github.com/bcem/importer/internal/contacts"
	"github.com/bcem/importer/internal/downloads"
	"github.com/bcem/importer/internal/pipeline"
	"github.com/bcem/importer/internal/provider"
	"github.com/bcem/importer/internal/store"
	"github.com/bcem/importer/internal/telemetry"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	messagesFlag := flag.String("messages", "", "Comma-separated provider message ids (required)")
	continueFlag := flag.Bool("continue-on-error", false, "Keep going when one message fails")
	flag.Parse()

	var messageIDs []string
	for _, id := range strings.Split(*messagesFlag, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			messageIDs = append(messageIDs, id)
		}
	}
	if len(messageIDs) == 0 {
		fmt.Fprintf(os.Stderr, "Error: --messages is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	slog.Info("starting re-import", "messages", len(messageIDs))

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	db, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// --- Build OAuth2 client for the provider ---
	creds := &clientcredentials.Config{
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		TokenURL:     cfg.Provider.TokenURL,
		Scopes:       []string{cfg.Provider.Scope},
	}
	httpClient := creds.Client(ctx)

	providerClient := provider.NewClient(httpClient, cfg.Provider.BaseURL, cfg.Provider.UserID)
	blobClient := blob.NewClient(httpClient, cfg.Blob.BaseURL)
	results := downloads.NewResults(rdb)

	// --- Pipeline ---
	orch, err := pipeline.New(ctx, pipeline.Config{
		Fetcher:               providerClient,
		Staging:               db,
		Types:                 db,
		Properties:            db,
		Contacts:              db,
		Threads:               db,
		Parents:               db,
		Emails:                pipeline.EmailStoreFor(db),
		Attachments:           db,
		Results:               results,
		Downloader:            downloads.NewDownloader(providerClient, blobClient, results, cfg.Blob.Container),
		Resolver:              contacts.NewResolver(db, cfg.HeaderConcurrency),
		Telemetry:             telemetry.NewRedisRecorder(rdb),
		StageTimeout:          cfg.StageTimeout,
		AttachmentConcurrency: cfg.AttachmentConcurrency,
		HeaderConcurrency:     cfg.HeaderConcurrency,
	})
	if err != nil {
		slog.Error("failed to build import pipeline", "error", err)
		os.Exit(1)
	}

	// --- Run ---
	failed := 0
	for _, id := range messageIDs {
		sc, err := orch.Import(ctx, id)
		if err != nil {
			failed++
			slog.Error("re-import failed", "message_id", id, "error", err)
			if !*continueFlag {
				os.Exit(1)
			}
			continue
		}
		if sc.Raw == nil {
			slog.Warn("message no longer exists on provider", "message_id", id)
			continue
		}
		slog.Info("re-import completed",
			"message_id", id,
			"email_id", sc.EmailID,
			"thread_id", sc.ThreadID,
		)
	}

	slog.Info("re-import finished",
		"total", len(messageIDs),
		"failed", failed,
	)
	if failed > 0 {
		os.Exit(1)
	}
}
