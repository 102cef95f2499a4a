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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
}

func TestLoad(t *testing.T) {
	t.Setenv("PROVIDER_SECRET", "s3cret")
	writeConfig(t, `
provider:
  base_url: https://mail.example.com/api/v1
  user_id: compliance@example.com
  client_id: client-1
  client_secret: ${PROVIDER_SECRET}
  token_url: https://auth.example.com/token
  scope: mail.read
blob:
  base_url: https://blobs.example.com
  container: mail-attachments
postgres:
  url: postgres://import:pw@db:5432/import
redis:
  url: redis://cache:6379/1
pipeline:
  stage_timeout: 90s
  attachment_concurrency: 3
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Provider.ClientSecret != "s3cret" {
		t.Errorf("env expansion failed: client_secret = %q", cfg.Provider.ClientSecret)
	}
	if cfg.Provider.UserID != "compliance@example.com" {
		t.Errorf("user_id = %q", cfg.Provider.UserID)
	}
	if cfg.DatabaseURL != "postgres://import:pw@db:5432/import" {
		t.Errorf("database url = %q", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://cache:6379/1" {
		t.Errorf("redis url = %q", cfg.RedisURL)
	}
	if cfg.StageTimeout != 90*time.Second {
		t.Errorf("stage timeout = %v", cfg.StageTimeout)
	}
	if cfg.AttachmentConcurrency != 3 {
		t.Errorf("attachment concurrency = %d", cfg.AttachmentConcurrency)
	}
	if cfg.HeaderConcurrency != 16 {
		t.Errorf("header concurrency default = %d, want 16", cfg.HeaderConcurrency)
	}
	if cfg.Blob.Container != "mail-attachments" {
		t.Errorf("blob container = %q", cfg.Blob.Container)
	}
}

func TestLoad_Defaults(t *testing.T) {
	writeConfig(t, `
provider:
  base_url: https://mail.example.com/api/v1
  client_id: client-1
  client_secret: secret
  token_url: https://auth.example.com/token
postgres:
  url: postgres://localhost/import
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.UserID != "me" {
		t.Errorf("user_id default = %q, want me", cfg.Provider.UserID)
	}
	if cfg.Blob.Container != "attachments" {
		t.Errorf("blob container default = %q", cfg.Blob.Container)
	}
	if cfg.AttachmentConcurrency != 5 {
		t.Errorf("attachment concurrency default = %d", cfg.AttachmentConcurrency)
	}
	if cfg.StageTimeout != 2*time.Minute {
		t.Errorf("stage timeout default = %v", cfg.StageTimeout)
	}
	if cfg.Port != 8080 {
		t.Errorf("port default = %d", cfg.Port)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			"missing database url",
			`
provider:
  base_url: https://mail.example.com
  client_id: c
  client_secret: s
  token_url: https://auth.example.com/token
`,
		},
		{
			"missing provider base url",
			`
provider:
  client_id: c
  client_secret: s
  token_url: https://auth.example.com/token
postgres:
  url: postgres://localhost/import
`,
		},
		{
			"incomplete credentials",
			`
provider:
  base_url: https://mail.example.com
  client_id: c
postgres:
  url: postgres://localhost/import
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			writeConfig(t, tt.yaml)
			if _, err := Load(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
