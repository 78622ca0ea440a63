package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerStartStop(t *testing.T) {
	source := &fakeSource{deltaToken: "delta-1"}
	r := newTestRunner(t, source)
	m := NewManager(r, time.Hour, nil)

	require.NoError(t, m.StartSync(context.Background(), "acct-1"))
	assert.True(t, m.IsRunning("acct-1"))

	// Starting twice is an error.
	assert.Error(t, m.StartSync(context.Background(), "acct-1"))

	require.NoError(t, m.StopSync("acct-1"))
	assert.Error(t, m.StopSync("acct-1"))
}

func TestManagerStopAll(t *testing.T) {
	source := &fakeSource{deltaToken: "delta-1"}
	r := newTestRunner(t, source)
	m := NewManager(r, time.Hour, nil)

	require.NoError(t, m.StartSync(context.Background(), "acct-1"))
	m.StopAll()
	assert.False(t, m.IsRunning("acct-1"))
}

// fakePublisher records published messages and can fail selectively.
type fakePublisher struct {
	mu        sync.Mutex
	published []string
	failMsgID string
}

func (f *fakePublisher) EnsureStream(context.Context) error { return nil }

func (f *fakePublisher) Publish(_ string, _ []byte, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msgID == f.failMsgID {
		return errors.New("publish failed")
	}
	f.published = append(f.published, msgID)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakePublisher) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.published...)
}

func TestDispatchOutboxPublishesAndMarks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{}
	r := newTestRunner(t, source)
	m := NewManager(r, time.Hour, nil)

	require.NoError(t, r.Store.AppendOutbox(ctx, "account.acct-1.email.received", "email.received", []byte(`{}`), "msg-1"))
	require.NoError(t, r.Store.AppendOutbox(ctx, "account.acct-1.email.received", "email.received", []byte(`{}`), "msg-2"))

	pub := &fakePublisher{}
	go m.DispatchOutbox(ctx, pub)

	require.Eventually(t, func() bool { return pub.count() == 2 }, 5*time.Second, 10*time.Millisecond)

	pending, err := r.Store.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatchOutboxRetriesFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{}
	r := newTestRunner(t, source)
	m := NewManager(r, time.Hour, nil)

	require.NoError(t, r.Store.AppendOutbox(ctx, "account.acct-1.email.received", "email.received", []byte(`{}`), "msg-bad"))
	require.NoError(t, r.Store.AppendOutbox(ctx, "account.acct-1.email.received", "email.received", []byte(`{}`), "msg-ok"))

	pub := &fakePublisher{failMsgID: "msg-bad"}
	go m.DispatchOutbox(ctx, pub)

	require.Eventually(t, func() bool { return pub.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"msg-ok"}, pub.snapshot())

	// The failed message sits behind its retry backoff rather than
	// being redelivered immediately.
	pending, err := r.Store.DequeueOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
