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

// Package blob uploads attachment content to the blob storage service.
// The contract is overwrite-on-conflict: an existing object under the same
// name is deleted before the upload.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// Client talks to the blob storage HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a blob storage client.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, baseURL: baseURL}
}

// Upload stores data under container/fileName and returns the object URL.
// A previous object under the same name is removed first.
func (c *Client) Upload(ctx context.Context, data []byte, container, fileName, mimeType string) (string, error) {
	objectURL := fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(container), url.PathEscape(fileName))

	if err := c.deleteIfExists(ctx, objectURL); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, objectURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("blob upload error",
			"status", resp.StatusCode,
			"object", objectURL,
			"body", string(body),
		)
		return "", fmt.Errorf("blob upload returned HTTP %d", resp.StatusCode)
	}

	return objectURL, nil
}

// deleteIfExists removes a conflicting object; 404 means nothing to do.
func (c *Client) deleteIfExists(ctx context.Context, objectURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, objectURL, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete existing blob: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return fmt.Errorf("blob delete returned HTTP %d", resp.StatusCode)
}
