package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusmail/mailsync/internal/embeddings"
	"github.com/nimbusmail/mailsync/internal/provider"
)

// fakeSource scripts the provider's delta feed for the runner.
type fakeSource struct {
	pollCalls  int
	fetchCalls []string

	records    []provider.EmailMessage
	deltaToken string
	fetchErr   error
}

func (f *fakeSource) PollUntilReady(_ context.Context, _ string) (*provider.SyncResponse, error) {
	f.pollCalls++
	return &provider.SyncResponse{Ready: true, SyncUpdatedToken: "initial-token"}, nil
}

func (f *fakeSource) FetchAllDelta(_ context.Context, _, deltaToken string) ([]provider.EmailMessage, string, error) {
	f.fetchCalls = append(f.fetchCalls, deltaToken)
	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}
	return f.records, f.deltaToken, nil
}

func newTestRunner(t *testing.T, source *fakeSource) *Runner {
	t.Helper()
	s := newTestStore(t)
	newTestAccount(t, s)
	return &Runner{
		Store:      s,
		Source:     source,
		Reconciler: NewReconciler(s, 4),
		Embedder:   embeddings.None{},
	}
}

func TestSyncAccountInitialSync(t *testing.T) {
	ctx := context.Background()
	sentAt := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{
		records:    []provider.EmailMessage{makeEmail("m1", "t1", []string{"inbox"}, sentAt)},
		deltaToken: "delta-1",
	}
	r := newTestRunner(t, source)

	count, err := r.SyncAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// No cursor yet means the readiness poll runs and the initial token
	// seeds the fetch.
	assert.Equal(t, 1, source.pollCalls)
	assert.Equal(t, []string{"initial-token"}, source.fetchCalls)

	acct, err := r.Store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, acct.NextDeltaToken)
	assert.Equal(t, "delta-1", *acct.NextDeltaToken)

	_, err = r.Store.GetThread(ctx, "t1")
	assert.NoError(t, err)

	// Records were indexed into the account's search blob.
	blob, err := r.Store.GetSearchIndex(ctx, "acct-1")
	require.NoError(t, err)
	assert.Contains(t, string(blob), "m1")
}

func TestSyncAccountDeltaSync(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{deltaToken: "delta-2"}
	r := newTestRunner(t, source)
	require.NoError(t, r.Store.UpdateDeltaToken(ctx, "acct-1", "delta-1"))

	count, err := r.SyncAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	// A stored cursor skips the readiness poll entirely.
	assert.Zero(t, source.pollCalls)
	assert.Equal(t, []string{"delta-1"}, source.fetchCalls)

	acct, err := r.Store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, acct.NextDeltaToken)
	assert.Equal(t, "delta-2", *acct.NextDeltaToken)
}

func TestSyncAccountFetchFailureKeepsCursor(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{fetchErr: errors.New("provider down")}
	r := newTestRunner(t, source)
	require.NoError(t, r.Store.UpdateDeltaToken(ctx, "acct-1", "delta-1"))

	_, err := r.SyncAccount(ctx, "acct-1")
	require.Error(t, err)

	acct, err := r.Store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, acct.NextDeltaToken)
	assert.Equal(t, "delta-1", *acct.NextDeltaToken)
}

func TestSyncAccountEmptyTokenKeepsCursor(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{deltaToken: ""}
	r := newTestRunner(t, source)
	require.NoError(t, r.Store.UpdateDeltaToken(ctx, "acct-1", "delta-1"))

	_, err := r.SyncAccount(ctx, "acct-1")
	require.NoError(t, err)

	acct, err := r.Store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, acct.NextDeltaToken)
	assert.Equal(t, "delta-1", *acct.NextDeltaToken)
}

func TestSyncAccountUnknownAccount(t *testing.T) {
	source := &fakeSource{}
	r := newTestRunner(t, source)

	_, err := r.SyncAccount(context.Background(), "missing")
	assert.Error(t, err)
	assert.Zero(t, source.pollCalls)
}
