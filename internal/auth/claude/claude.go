// Package claude refreshes Anthropic OAuth access tokens. The token endpoint
// takes a JSON body and answers with a short-lived bearer token; refreshed
// tokens are cached by the caller, never persisted.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relay-for-me/AccountRelayAPI/internal/config"
	"github.com/relay-for-me/AccountRelayAPI/internal/util"
)

const (
	anthropicTokenURL = "https://console.anthropic.com/v1/oauth/token"
	anthropicClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	userAgent         = "claude-cli/1.0.56 (external, cli)"

	refreshTimeout = 30 * time.Second
)

// TokenData is a freshly issued access token with its lifetime in seconds.
type TokenData struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Refresher exchanges refresh tokens for access tokens, routed through the
// owning account's proxy.
type Refresher struct {
	httpClient *http.Client
	tokenURL   string
}

// NewRefresher builds a refresher for one account's proxy settings.
func NewRefresher(p *config.Proxy) (*Refresher, error) {
	client, err := util.HTTPClient(p, refreshTimeout)
	if err != nil {
		return nil, err
	}
	return &Refresher{httpClient: client, tokenURL: anthropicTokenURL}, nil
}

// Refresh exchanges the refresh token for a new access token.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*TokenData, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	reqBody := map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     anthropicClientID,
		"refresh_token": refreshToken,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var token TokenData
	if err = json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	return &token, nil
}
