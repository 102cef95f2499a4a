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

// Package provider retrieves raw messages and attachment content from the
// mail provider's REST API. The HTTP client is expected to carry OAuth2
// credentials (clientcredentials.Config.Client); token acquisition is not
// this package's concern.
package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bcem/importer/internal/models"
)

// Benign error codes the provider returns when a message or its source
// mailbox no longer exists. These signal "nothing to import", not failure.
const (
	codeEmailNotFound  = "email-not-found"
	codeSourceNotFound = "source-not-found"
)

// Client retrieves messages from the provider API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userID     string
}

// NewClient creates a provider API client for a single mailbox.
func NewClient(httpClient *http.Client, baseURL, userID string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		userID:     userID,
	}
}

// apiError is the provider's JSON error envelope.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchMessage retrieves the full MIME tree for a message. A nil, nil
// return means the message (or its source mailbox) no longer exists on the
// provider side and there is nothing to import.
func (c *Client) FetchMessage(ctx context.Context, messageID string) (*models.RawMessage, error) {
	url := fmt.Sprintf("%s/users/%s/messages/%s?format=full", c.baseURL, c.userID, messageID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		body, _ := io.ReadAll(resp.Body)
		if benign(resp.StatusCode, body) {
			slog.Warn("message not found on provider (may have been deleted)",
				"user_id", c.userID,
				"message_id", messageID,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("provider API returned HTTP %d for message %s", resp.StatusCode, messageID)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider API returned HTTP %d for message %s", resp.StatusCode, messageID)
	}

	var msg models.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	return &msg, nil
}

// attachmentResponse is the body of the attachment content endpoint.
type attachmentResponse struct {
	Size int    `json:"size"`
	Data string `json:"data"` // base64url, usually unpadded
}

// DownloadAttachment retrieves the raw bytes of one attachment part.
func (c *Client) DownloadAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	url := fmt.Sprintf("%s/users/%s/messages/%s/attachments/%s", c.baseURL, c.userID, messageID, attachmentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("attachment download error",
			"status", resp.StatusCode,
			"attachment_id", attachmentID,
			"body", string(body),
		)
		return nil, fmt.Errorf("attachment download returned HTTP %d", resp.StatusCode)
	}

	var att attachmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		return nil, fmt.Errorf("decode attachment response: %w", err)
	}

	data, err := DecodeBase64URL(att.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment data: %w", err)
	}

	return data, nil
}

// benign reports whether an error response means the message is simply gone.
// The provider uses "email-not-found" / "source-not-found" codes; a bare 404
// without a parseable body is treated the same way.
func benign(status int, body []byte) bool {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err != nil {
		return status == http.StatusNotFound
	}
	switch ae.Error.Code {
	case codeEmailNotFound, codeSourceNotFound, "":
		return true
	}
	return false
}

// DecodeBase64URL decodes provider part data. The provider uses URL-safe
// base64, usually without padding; older gateways pad it.
func DecodeBase64URL(data string) ([]byte, error) {
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(data)
}
