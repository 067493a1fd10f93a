// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"sentryvolt/sidecar/analyzer"
	"sentryvolt/sidecar/settings"
	"sentryvolt/sidecar/shared/logger"
)

// cloudTimeout bounds every cloud call; a slow cloud must never stall
// local analysis beyond this.
const cloudTimeout = 3 * time.Second

// DefaultCloudURL is the hosted analysis service.
const DefaultCloudURL = "https://api.sentryvolt.io"

// CloudClient talks to the hosted analysis service when cloud mode is
// on. The API key lives in the environment (loaded from the env file),
// never in the database.
type CloudClient struct {
	baseURL  string
	client   *http.Client
	settings *settings.Repository
	log      *logger.Logger
}

// NewCloudClient builds a client against SV_CLOUD_URL or the default.
func NewCloudClient(settingsRepo *settings.Repository) *CloudClient {
	base := os.Getenv("SV_CLOUD_URL")
	if base == "" {
		base = DefaultCloudURL
	}
	return &CloudClient{
		baseURL:  base,
		client:   &http.Client{Timeout: cloudTimeout},
		settings: settingsRepo,
		log:      logger.New("cloud-client"),
	}
}

func (c *CloudClient) apiKey() string {
	return os.Getenv("SV_CLOUD_API_KEY")
}

// Analyze sends the text to the cloud analyzer and maps the response
// onto the local analysis shape.
func (c *CloudClient) Analyze(ctx context.Context, text string) (*analyzer.Analysis, error) {
	key := c.apiKey()
	if key == "" {
		return nil, fmt.Errorf("cloud mode is enabled but SV_CLOUD_API_KEY is not set")
	}

	payload, err := json.Marshal(map[string]string{"content": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloud analyze request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cloud analyze returned %d", resp.StatusCode)
	}

	var res analyzer.Analysis
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("cloud analyze response is not valid JSON: %w", err)
	}
	return &res, nil
}

// Validate checks an API key against the cloud service. A definitive
// rejection returns valid=false with a message and no error; transport
// failures return an error.
func (c *CloudClient) Validate(ctx context.Context, apiKey string) (bool, string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/auth/validate", nil)
	if err != nil {
		return false, "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, "", "", fmt.Errorf("cloud validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false, "", "API key was rejected by the cloud service", nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, "", "", fmt.Errorf("cloud validation returned %d", resp.StatusCode)
	}

	var body struct {
		Email string `json:"user_email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, "", "", fmt.Errorf("cloud validation response is not valid JSON: %w", err)
	}
	return true, body.Email, "", nil
}
