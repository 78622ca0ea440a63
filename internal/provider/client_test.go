package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollUntilReady(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/email/sync", r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		calls++
		resp := SyncResponse{Ready: calls >= 3, SyncUpdatedToken: "delta-0"}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewClient(server.URL, WithPollInterval(5*time.Millisecond))
	resp, err := c.PollUntilReady(context.Background(), "token-1")
	require.NoError(t, err)
	assert.True(t, resp.Ready)
	assert.Equal(t, "delta-0", resp.SyncUpdatedToken)
	assert.Equal(t, 3, calls)
}

func TestPollUntilReadyTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SyncResponse{Ready: false})
	}))
	defer server.Close()

	c := NewClient(server.URL,
		WithPollInterval(5*time.Millisecond),
		WithPollTimeout(30*time.Millisecond))

	_, err := c.PollUntilReady(context.Background(), "token-1")
	require.ErrorIs(t, err, ErrSyncTimeout)
}

func TestFetchAllDeltaFollowsPages(t *testing.T) {
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/email/sync/updated", r.URL.Path)
		requests = append(requests, r.URL.RawQuery)

		switch {
		case r.URL.Query().Get("deltaToken") == "delta-1":
			json.NewEncoder(w).Encode(SyncUpdatedResponse{
				NextPageToken: "page-2",
				Records:       []EmailMessage{{ID: "m1"}, {ID: "m2"}},
			})
		case r.URL.Query().Get("pageToken") == "page-2":
			json.NewEncoder(w).Encode(SyncUpdatedResponse{
				NextDeltaToken: "delta-2",
				Records:       []EmailMessage{{ID: "m3"}},
			})
		default:
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	records, deltaToken, err := c.FetchAllDelta(context.Background(), "token-1", "delta-1")
	require.NoError(t, err)

	assert.Equal(t, "delta-2", deltaToken)
	require.Len(t, records, 3)
	assert.Equal(t, "m1", records[0].ID)
	assert.Equal(t, "m2", records[1].ID)
	assert.Equal(t, "m3", records[2].ID)

	// The continuation request carries only the page token.
	require.Len(t, requests, 2)
	assert.NotContains(t, requests[1], "deltaToken")
}

func TestFetchAllDeltaKeepsLastDeltaToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Query().Get("deltaToken") != "":
			json.NewEncoder(w).Encode(SyncUpdatedResponse{
				NextDeltaToken: "delta-early",
				NextPageToken:  "page-2",
				Records:        []EmailMessage{{ID: "m1"}},
			})
		default:
			// Final page with no fresh delta token keeps the earlier one.
			json.NewEncoder(w).Encode(SyncUpdatedResponse{
				Records: []EmailMessage{{ID: "m2"}},
			})
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	records, deltaToken, err := c.FetchAllDelta(context.Background(), "token-1", "delta-1")
	require.NoError(t, err)
	assert.Equal(t, "delta-early", deltaToken)
	assert.Len(t, records, 2)
}

func TestFetchAllDeltaAbortsOnPageFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("deltaToken") != "" {
			json.NewEncoder(w).Encode(SyncUpdatedResponse{
				NextDeltaToken: "delta-2",
				NextPageToken:  "page-2",
				Records:        []EmailMessage{{ID: "m1"}},
			})
			return
		}
		http.Error(w, "upstream failure", http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	records, deltaToken, err := c.FetchAllDelta(context.Background(), "token-1", "delta-1")

	// A mid-pagination failure surfaces no records and no token, so the
	// caller never advances the cursor over a partial window.
	require.Error(t, err)
	assert.Nil(t, records)
	assert.Empty(t, deltaToken)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusBadGateway, perr.StatusCode)
}

func TestSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/email/messages", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("returnIds"))

		var req SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Subject)

		json.NewEncoder(w).Encode(SendMessageResponse{ID: "m9", ThreadID: "t9"})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	resp, err := c.SendMessage(context.Background(), "token-1", &SendMessageRequest{
		Subject: "hello",
		Body:    "<p>hi</p>",
		From:    Address{Address: "me@example.com"},
		To:      []Address{{Address: "you@example.com"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "m9", resp.ID)
	assert.Equal(t, "t9", resp.ThreadID)
}
