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

// BlackChamber ICES — Email Import Service
//
// Entry point for the Go import service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Builds an OAuth2 client for the mail provider API
//  4. Constructs the staged import pipeline
//  5. Serves the import trigger API with health and limiter endpoints
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/importer/internal/blob"
	"github.com/bcem/importer/internal/config"
	"github.com/bcem/importer/internal/contacts"
	"github.com/bcem/importer/internal/dedup"
	"github.com/bcem/importer/internal/downloads"
	"github.com/bcem/importer/internal/httpapi"
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

	slog.Info("starting BlackChamber ICES import service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"provider_base_url", cfg.Provider.BaseURL,
		"stage_timeout", cfg.StageTimeout,
		"attachment_concurrency", cfg.AttachmentConcurrency,
	)

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
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- OAuth2 client for the provider API ---
	creds := &clientcredentials.Config{
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		TokenURL:     cfg.Provider.TokenURL,
		Scopes:       []string{cfg.Provider.Scope},
	}
	httpClient := creds.Client(ctx)

	providerClient := provider.NewClient(httpClient, cfg.Provider.BaseURL, cfg.Provider.UserID)
	blobClient := blob.NewClient(httpClient, cfg.Blob.BaseURL)

	// --- Download jobs + telemetry ---
	results := downloads.NewResults(rdb)
	downloader := downloads.NewDownloader(providerClient, blobClient, results, cfg.Blob.Container)
	recorder := telemetry.NewRedisRecorder(rdb)

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
		Downloader:            downloader,
		Resolver:              contacts.NewResolver(db, cfg.HeaderConcurrency),
		Telemetry:             recorder,
		StageTimeout:          cfg.StageTimeout,
		AttachmentConcurrency: cfg.AttachmentConcurrency,
		HeaderConcurrency:     cfg.HeaderConcurrency,
	})
	if err != nil {
		slog.Error("failed to build import pipeline", "error", err)
		os.Exit(1)
	}

	// --- Import API ---
	filter := dedup.NewFilter(rdb)
	handler := httpapi.NewHandler(orch, filter,
		httpapi.PingerFunc(db.Ping),
		httpapi.PingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	)

	ready, err := httpapi.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start import API", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("import service ready", "port", cfg.Port)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel() // Stop the API server and background imports

	// Give in-flight imports a moment to reach a stage boundary.
	time.Sleep(2 * time.Second)

	rdb.Close()
	pgPool.Close()

	slog.Info("import service stopped")
}
