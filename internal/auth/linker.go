package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// TokenClient fetches provider access tokens from the auth service that
// owns the OAuth linkage. The auth service handles storage and refresh;
// the sync pipeline only consumes the resulting bearer token.
type TokenClient struct {
	baseURL string
	client  *http.Client
}

// NewTokenClient creates a client for the auth service at baseURL.
func NewTokenClient(baseURL string) *TokenClient {
	return &TokenClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Token fetches the current provider token for a linked account.
func (c *TokenClient) Token(ctx context.Context, accountID string) (*oauth2.Token, error) {
	url := fmt.Sprintf("%s/accounts/%s/token", c.baseURL, accountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no linked account %s", accountID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &oauth2.Token{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Expiry:       time.Unix(result.ExpiresAt, 0),
	}, nil
}

// RefreshAccessToken implements the sync manager's TokenRefresher.
func (c *TokenClient) RefreshAccessToken(ctx context.Context, accountID string) (string, error) {
	tok, err := c.Token(ctx, accountID)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
