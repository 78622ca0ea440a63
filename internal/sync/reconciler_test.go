package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusmail/mailsync/internal/models"
	"github.com/nimbusmail/mailsync/internal/provider"
	"github.com/nimbusmail/mailsync/internal/search"
	"github.com/nimbusmail/mailsync/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestAccount(t *testing.T, s *store.Store) *models.Account {
	t.Helper()
	acct := &models.Account{
		ID:           "acct-1",
		UserID:       "user-1",
		AccessToken:  "tok",
		EmailAddress: "me@example.com",
		Name:         "Me",
	}
	require.NoError(t, s.CreateAccount(context.Background(), acct))
	return acct
}

func makeEmail(id, threadID string, sysLabels []string, sentAt time.Time) provider.EmailMessage {
	return provider.EmailMessage{
		ID:          id,
		ThreadID:    threadID,
		CreatedTime: sentAt,
		SentAt:      sentAt,
		ReceivedAt:  sentAt,
		Subject:     "subject " + id,
		SysLabels:   sysLabels,
		From:        provider.Address{Name: "Jo", Address: "jo@example.com"},
		To:          []provider.Address{{Name: "Me", Address: "me@example.com"}},
		BodySnippet: "snippet " + id,
	}
}

// recordingIndexer captures the documents handed to the index.
type recordingIndexer struct {
	docs []search.Document
}

func (r *recordingIndexer) Insert(_ context.Context, doc search.Document) error {
	r.docs = append(r.docs, doc)
	return nil
}

func TestReconcileCreatesThreadEmailAndAddresses(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	newTestAccount(t, s)
	r := NewReconciler(s, 4)

	sentAt := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	idx := &recordingIndexer{}
	batch := []provider.EmailMessage{makeEmail("m1", "t1", []string{"inbox", "unread"}, sentAt)}
	require.NoError(t, r.SyncToStore(ctx, "acct-1", batch, idx))

	thread, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "subject m1", thread.Subject)
	assert.True(t, thread.Inbox)
	assert.False(t, thread.Trash)
	assert.False(t, thread.Done)
	assert.Len(t, thread.ParticipantIDs, 2)

	email, err := s.GetEmail(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.LabelInbox, email.EmailLabel)
	assert.Len(t, email.ToIDs, 1)

	addrs, err := s.ListEmailAddresses(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, addrs, 2)

	require.Len(t, idx.docs, 1)
	assert.Equal(t, "m1", idx.docs[0].ID)
	assert.Equal(t, "t1", idx.docs[0].ThreadID)
	assert.Equal(t, "Jo <jo@example.com>", idx.docs[0].From)
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	newTestAccount(t, s)
	r := NewReconciler(s, 4)

	sentAt := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	batch := []provider.EmailMessage{
		makeEmail("m1", "t1", []string{"inbox"}, sentAt),
		makeEmail("m2", "t1", []string{"inbox"}, sentAt.Add(time.Minute)),
	}

	require.NoError(t, r.SyncToStore(ctx, "acct-1", batch, nil))
	first, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)

	require.NoError(t, r.SyncToStore(ctx, "acct-1", batch, nil))
	second, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, first.ThreadStatus, second.ThreadStatus)
	assert.Equal(t, first.ParticipantIDs, second.ParticipantIDs)

	emails, err := s.ListThreadEmails(ctx, "t1", "received_at")
	require.NoError(t, err)
	assert.Len(t, emails, 2)

	addrs, err := s.ListEmailAddresses(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, addrs, 2)

	// The outbox dedupes re-reconciled emails by message id.
	pending, err := s.DequeueOutbox(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestReconcileTrashDominates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	newTestAccount(t, s)
	r := NewReconciler(s, 1)

	sentAt := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, r.SyncToStore(ctx, "acct-1",
		[]provider.EmailMessage{makeEmail("m1", "t1", []string{"trash"}, sentAt)}, nil))

	thread, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	require.True(t, thread.Trash)

	// A later inbox email on a trashed thread leaves it trash-only.
	require.NoError(t, r.SyncToStore(ctx, "acct-1",
		[]provider.EmailMessage{makeEmail("m2", "t1", []string{"inbox"}, sentAt.Add(time.Hour))}, nil))

	thread, err = s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.ThreadStatus{Trash: true}, thread.ThreadStatus)
}

func TestReconcileJunkClearedByInboxFollowup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	newTestAccount(t, s)
	r := NewReconciler(s, 1)

	sentAt := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, r.SyncToStore(ctx, "acct-1",
		[]provider.EmailMessage{makeEmail("m1", "t1", []string{"junk"}, sentAt)}, nil))

	require.NoError(t, r.SyncToStore(ctx, "acct-1",
		[]provider.EmailMessage{makeEmail("m2", "t1", []string{"inbox"}, sentAt.Add(time.Hour))}, nil))

	thread, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, thread.Inbox)
	assert.False(t, thread.Junk)
}

func TestReconcileParticipantsGrowMonotonically(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	newTestAccount(t, s)
	r := NewReconciler(s, 1)

	sentAt := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	first := makeEmail("m1", "t1", []string{"inbox"}, sentAt)
	require.NoError(t, r.SyncToStore(ctx, "acct-1", []provider.EmailMessage{first}, nil))

	thread, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	initial := thread.ParticipantIDs
	require.Len(t, initial, 2)

	second := makeEmail("m2", "t1", []string{"inbox"}, sentAt.Add(time.Hour))
	second.Cc = []provider.Address{{Name: "Dee", Address: "dee@example.com"}}
	require.NoError(t, r.SyncToStore(ctx, "acct-1", []provider.EmailMessage{second}, nil))

	thread, err = s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, thread.ParticipantIDs, 3)
	assert.Subset(t, thread.ParticipantIDs, initial)
}

func TestReconcilePreservesDoneFlag(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	newTestAccount(t, s)
	r := NewReconciler(s, 1)

	sentAt := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, r.SyncToStore(ctx, "acct-1",
		[]provider.EmailMessage{makeEmail("m1", "t1", []string{"inbox"}, sentAt)}, nil))
	require.NoError(t, s.SetThreadDone(ctx, "t1", true))

	require.NoError(t, r.SyncToStore(ctx, "acct-1",
		[]provider.EmailMessage{makeEmail("m2", "t1", []string{"inbox"}, sentAt.Add(time.Hour))}, nil))

	thread, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, thread.Done)
}

func TestReconcileSkipsEmailWithoutSender(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	newTestAccount(t, s)
	r := NewReconciler(s, 4)

	sentAt := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	broken := makeEmail("m-broken", "t1", []string{"inbox"}, sentAt)
	broken.From = provider.Address{}
	good := makeEmail("m-good", "t2", []string{"inbox"}, sentAt)

	idx := &recordingIndexer{}
	require.NoError(t, r.SyncToStore(ctx, "acct-1", []provider.EmailMessage{broken, good}, idx))

	// The broken email is contained: not stored, not indexed.
	_, err := s.GetEmail(ctx, "m-broken")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetThread(ctx, "t2")
	assert.NoError(t, err)

	require.Len(t, idx.docs, 1)
	assert.Equal(t, "m-good", idx.docs[0].ID)
}

func TestReconcileAttachments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	newTestAccount(t, s)
	r := NewReconciler(s, 1)

	sentAt := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	email := makeEmail("m1", "t1", []string{"inbox"}, sentAt)
	email.HasAttachments = true
	email.Attachments = []provider.Attachment{
		{ID: "a1", Name: "report.pdf", MimeType: "application/pdf", Size: 2048},
	}
	require.NoError(t, r.SyncToStore(ctx, "acct-1", []provider.EmailMessage{email}, nil))

	atts, err := s.ListAttachments(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "report.pdf", atts[0].Name)
}

func TestReconcileConcurrentBatchOneThread(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	newTestAccount(t, s)
	r := NewReconciler(s, 8)

	// Many emails on one thread exercise the per-thread serialization.
	sentAt := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	var batch []provider.EmailMessage
	for i := 0; i < 20; i++ {
		batch = append(batch, makeEmail("m"+string(rune('a'+i)), "t1", []string{"inbox"},
			sentAt.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, r.SyncToStore(ctx, "acct-1", batch, nil))

	emails, err := s.ListThreadEmails(ctx, "t1", "received_at")
	require.NoError(t, err)
	assert.Len(t, emails, 20)

	thread, err := s.GetThread(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, thread.Inbox)
}

func TestRecomputeStatus(t *testing.T) {
	tests := []struct {
		name      string
		prior     models.ThreadStatus
		lastLabel models.EmailLabel
		want      models.ThreadStatus
	}{
		{
			name:      "trash dominates regardless of last label",
			prior:     models.ThreadStatus{Trash: true, Inbox: true, Sent: true},
			lastLabel: models.LabelInbox,
			want:      models.ThreadStatus{Trash: true},
		},
		{
			name:      "junk thread stays junk when last email is junk",
			prior:     models.ThreadStatus{Junk: true, Inbox: true},
			lastLabel: models.LabelJunk,
			want:      models.ThreadStatus{Junk: true},
		},
		{
			name:      "inbox last email clears junk",
			prior:     models.ThreadStatus{Junk: true},
			lastLabel: models.LabelInbox,
			want:      models.ThreadStatus{Inbox: true},
		},
		{
			name:      "sent last email clears junk, keeps other flags",
			prior:     models.ThreadStatus{Inbox: true, Junk: true},
			lastLabel: models.LabelSent,
			want:      models.ThreadStatus{Inbox: true, Sent: true},
		},
		{
			name:      "draft last email sets draft",
			prior:     models.ThreadStatus{},
			lastLabel: models.LabelDraft,
			want:      models.ThreadStatus{Draft: true},
		},
		{
			// Junk last email on a non-junk thread hits no branch and
			// leaves the flags as they were.
			name:      "junk last email on non-junk thread leaves flags unchanged",
			prior:     models.ThreadStatus{Inbox: true},
			lastLabel: models.LabelJunk,
			want:      models.ThreadStatus{Inbox: true},
		},
		{
			name:      "trash last email on non-trash thread leaves flags unchanged",
			prior:     models.ThreadStatus{Inbox: true},
			lastLabel: models.LabelTrash,
			want:      models.ThreadStatus{Inbox: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RecomputeStatus(tt.prior, tt.lastLabel))
		})
	}
}

func TestBuildDocumentPrefersSnippet(t *testing.T) {
	sentAt := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	email := makeEmail("m1", "t1", []string{"inbox"}, sentAt)
	body := "<p>full <b>html</b> body</p>"
	email.Body = &body

	doc := buildDocument(&email)
	assert.Equal(t, "snippet m1", doc.Body)

	email.BodySnippet = ""
	doc = buildDocument(&email)
	assert.Equal(t, "full html body", doc.Body)
	assert.Equal(t, sentAt.Format(time.RFC3339), doc.SentAt)
}
