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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds credentials for the mail provider API.
type ProviderConfig struct {
	BaseURL      string `yaml:"base_url"`
	UserID       string `yaml:"user_id"` // mailbox under import, "me" for delegated access
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TokenURL     string `yaml:"token_url"`
	Scope        string `yaml:"scope"`
}

// BlobConfig holds settings for the blob storage collaborator.
type BlobConfig struct {
	BaseURL   string `yaml:"base_url"`
	Container string `yaml:"container"`
}

// Config holds all configuration for the import service.
type Config struct {
	Provider ProviderConfig
	Blob     BlobConfig

	// Postgres
	DatabaseURL string

	// Redis
	RedisURL string

	// Pipeline
	StageTimeout          time.Duration // per-stage deadline
	AttachmentConcurrency int           // limiter capacity for attachment jobs
	HeaderConcurrency     int           // fan-out bound for header property writes

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Provider ProviderConfig `yaml:"provider"`
	Blob     BlobConfig     `yaml:"blob"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Pipeline struct {
		StageTimeout          string `yaml:"stage_timeout"`
		AttachmentConcurrency int    `yaml:"attachment_concurrency"`
		HeaderConcurrency     int    `yaml:"header_concurrency"`
	} `yaml:"pipeline"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Provider:              raw.Provider,
		Blob:                  raw.Blob,
		DatabaseURL:           firstNonEmpty(raw.Postgres.URL, envOrDefault("DATABASE_URL", "")),
		RedisURL:              firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		StageTimeout:          envOrDefaultDuration("STAGE_TIMEOUT", 2*time.Minute),
		AttachmentConcurrency: envOrDefaultInt("ATTACHMENT_CONCURRENCY", 5),
		HeaderConcurrency:     envOrDefaultInt("HEADER_CONCURRENCY", 16),
		Port:                  envOrDefaultInt("PORT", 8080),
	}

	if raw.Pipeline.StageTimeout != "" {
		if d, err := time.ParseDuration(raw.Pipeline.StageTimeout); err == nil {
			cfg.StageTimeout = d
		}
	}
	if raw.Pipeline.AttachmentConcurrency > 0 {
		cfg.AttachmentConcurrency = raw.Pipeline.AttachmentConcurrency
	}
	if raw.Pipeline.HeaderConcurrency > 0 {
		cfg.HeaderConcurrency = raw.Pipeline.HeaderConcurrency
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("no database URL configured — set postgres.url or DATABASE_URL")
	}
	if cfg.Provider.BaseURL == "" {
		return nil, fmt.Errorf("no provider base URL configured")
	}
	if cfg.Provider.ClientID == "" || cfg.Provider.ClientSecret == "" || cfg.Provider.TokenURL == "" {
		return nil, fmt.Errorf("incomplete provider credentials — check config.yaml and environment variables")
	}
	if cfg.Provider.UserID == "" {
		cfg.Provider.UserID = "me"
	}
	if cfg.Blob.Container == "" {
		cfg.Blob.Container = "attachments"
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
