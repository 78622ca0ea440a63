package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ErrSyncTimeout is returned when the provider never reports the sync
// job ready within the configured deadline.
var ErrSyncTimeout = errors.New("sync readiness poll timed out")

// ProviderError is a non-2xx response from the remote API. The client
// never retries on its own; the orchestrator aborts the sync attempt
// without advancing the cursor.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Client drives the remote provider's delta sync API. It holds no local
// state beyond configuration; the access token comes in per call.
type Client struct {
	baseURL      string
	daysWithin   int
	pollInterval time.Duration
	pollTimeout  time.Duration
	client       *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithPollInterval overrides the delay between readiness checks.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithPollTimeout overrides the total readiness poll deadline.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Client) { c.pollTimeout = d }
}

// WithDaysWithin overrides how far back an initial sync reaches.
func WithDaysWithin(days int) Option {
	return func(c *Client) { c.daysWithin = days }
}

// NewClient creates a delta sync client for the given API base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		daysWithin:   1,
		pollInterval: time.Second,
		pollTimeout:  2 * time.Minute,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartSync starts (or re-checks) a provider-side sync job. Idempotent;
// may be called repeatedly until the job reports ready.
func (c *Client) StartSync(ctx context.Context, accessToken string) (*SyncResponse, error) {
	url := fmt.Sprintf("%s/email/sync?daysWithin=%d&bodyType=html", c.baseURL, c.daysWithin)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var resp SyncResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PollUntilReady loops StartSync with a fixed backoff until the provider
// reports the sync job ready, or the poll deadline expires.
func (c *Client) PollUntilReady(ctx context.Context, accessToken string) (*SyncResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	for {
		resp, err := c.StartSync(ctx, accessToken)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrSyncTimeout, err)
			}
			return nil, err
		}
		if resp.Ready {
			return resp, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrSyncTimeout
		case <-time.After(c.pollInterval):
		}
	}
}

// FetchDelta fetches one page of changed messages. deltaToken and
// pageToken are mutually exclusive cursor kinds: the former starts a new
// cursor-based scan, the latter continues a paginated one.
func (c *Client) FetchDelta(ctx context.Context, accessToken, deltaToken, pageToken string) (*SyncUpdatedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/email/sync/updated", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	q := req.URL.Query()
	if deltaToken != "" {
		q.Set("deltaToken", deltaToken)
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	req.URL.RawQuery = q.Encode()

	var resp SyncUpdatedResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchAllDelta drives FetchDelta following nextPageToken to exhaustion,
// concatenating records and returning the final delta token observed.
// Any page failure aborts the whole attempt so the caller never persists
// a cursor for a partially fetched window.
func (c *Client) FetchAllDelta(ctx context.Context, accessToken, deltaToken string) ([]EmailMessage, string, error) {
	page, err := c.FetchDelta(ctx, accessToken, deltaToken, "")
	if err != nil {
		return nil, "", err
	}

	records := page.Records
	storedDeltaToken := page.NextDeltaToken

	for page.NextPageToken != "" {
		page, err = c.FetchDelta(ctx, accessToken, "", page.NextPageToken)
		if err != nil {
			return nil, "", err
		}
		if page.NextDeltaToken != "" {
			storedDeltaToken = page.NextDeltaToken
		}
		records = append(records, page.Records...)
	}

	return records, storedDeltaToken, nil
}

// SendMessage submits an outgoing message through the provider.
func (c *Client) SendMessage(ctx context.Context, accessToken string, msg *SendMessageRequest) (*SendMessageResponse, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	url := c.baseURL + "/email/messages?bodyType=html&returnIds=" + strconv.FormatBool(true)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	var resp SendMessageResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
