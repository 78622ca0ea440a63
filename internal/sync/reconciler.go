package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nimbusmail/mailsync/internal/models"
	"github.com/nimbusmail/mailsync/internal/provider"
	"github.com/nimbusmail/mailsync/internal/search"
	"github.com/nimbusmail/mailsync/internal/store"
)

// Indexer receives one derived search document per reconciled email.
type Indexer interface {
	Insert(ctx context.Context, doc search.Document) error
}

// Reconciler merges batches of remote email records into the relational
// store: address upserts, thread create/merge, full-overwrite email
// upserts and the two-phase thread status recompute.
type Reconciler struct {
	store       *store.Store
	concurrency int
	locks       *threadLocks
}

// NewReconciler creates a reconciler with the given concurrency bound
// for in-flight per-email tasks.
func NewReconciler(st *store.Store, concurrency int) *Reconciler {
	if concurrency < 1 {
		concurrency = 20
	}
	return &Reconciler{
		store:       st,
		concurrency: concurrency,
		locks:       newThreadLocks(),
	}
}

// SyncToStore reconciles a batch of records for one account. Emails are
// processed concurrently up to the configured bound, serialized per
// thread id. Per-email failures are logged and contained; the rest of
// the batch proceeds. Each successfully reconciled email is also fed to
// the indexer and recorded in the event outbox.
func (r *Reconciler) SyncToStore(ctx context.Context, accountID string, emails []provider.EmailMessage, idx Indexer) error {
	log.Printf("reconciler: syncing %d emails for account %s", len(emails), accountID)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i := range emails {
		email := &emails[i]
		g.Go(func() error {
			if err := r.reconcileEmail(ctx, accountID, email); err != nil {
				log.Printf("reconciler: skipping email %s: %v", email.ID, err)
				return nil
			}
			if idx != nil {
				if err := idx.Insert(ctx, buildDocument(email)); err != nil {
					log.Printf("reconciler: indexing email %s: %v", email.ID, err)
				}
			}
			if err := r.appendReceivedEvent(ctx, accountID, email); err != nil {
				log.Printf("reconciler: outbox for email %s: %v", email.ID, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// reconcileEmail merges one remote record. Steps within one email are
// strictly sequential; the thread lock covers the read-modify-write on
// thread state.
func (r *Reconciler) reconcileEmail(ctx context.Context, accountID string, email *provider.EmailMessage) error {
	label := models.ClassifyLabel(email.SysLabels)

	addressMap, err := r.upsertAddresses(ctx, accountID, email)
	if err != nil {
		return err
	}

	from, ok := addressMap[email.From.Address]
	if !ok {
		// An email with no resolvable sender cannot be filed.
		return fmt.Errorf("unresolvable from address %q", email.From.Address)
	}

	toIDs := resolveIDs(addressMap, email.To)
	ccIDs := resolveIDs(addressMap, email.Cc)
	bccIDs := resolveIDs(addressMap, email.Bcc)
	replyToIDs := resolveIDs(addressMap, email.ReplyTo)

	participants := dedupe(append(append(append([]string{from.ID}, toIDs...), ccIDs...), bccIDs...))

	unlock := r.locks.lock(email.ThreadID)
	defer unlock()

	prior, err := r.store.GetThread(ctx, email.ThreadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("reading thread: %w", err)
	}

	thread := buildThread(prior, accountID, email, label, participants)
	if err := r.store.SaveThread(ctx, thread); err != nil {
		return fmt.Errorf("upserting thread: %w", err)
	}

	row := buildEmail(email, from.ID, toIDs, ccIDs, bccIDs, replyToIDs, label)
	if err := r.store.UpsertEmail(ctx, row); err != nil {
		return fmt.Errorf("upserting email: %w", err)
	}

	if prior != nil {
		threadEmails, err := r.store.ListThreadEmails(ctx, email.ThreadID, "received_at")
		if err != nil {
			return fmt.Errorf("listing thread emails: %w", err)
		}
		if len(threadEmails) > 0 {
			last := threadEmails[len(threadEmails)-1]
			status := RecomputeStatus(prior.ThreadStatus, last.EmailLabel)
			if err := r.store.UpdateThreadStatus(ctx, email.ThreadID, status); err != nil {
				return fmt.Errorf("updating thread status: %w", err)
			}
		}
	}

	for _, att := range email.Attachments {
		if err := r.upsertAttachment(ctx, email.ID, att); err != nil {
			log.Printf("reconciler: attachment %s for email %s: %v", att.ID, email.ID, err)
		}
	}

	return nil
}

// upsertAddresses resolves every distinct address on the record. A
// failed upsert is logged and left out of the map; only an unresolvable
// sender aborts the email.
func (r *Reconciler) upsertAddresses(ctx context.Context, accountID string, email *provider.EmailMessage) (map[string]*models.EmailAddress, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	seen := make(map[string]provider.Address)
	all := append([]provider.Address{email.From}, email.To...)
	all = append(all, email.Cc...)
	all = append(all, email.Bcc...)
	all = append(all, email.ReplyTo...)
	for _, a := range all {
		if a.Address == "" {
			continue
		}
		seen[a.Address] = a
	}

	resolved := make(map[string]*models.EmailAddress, len(seen))
	for addr, a := range seen {
		row, err := r.store.UpsertEmailAddress(ctx, accountID, a.Address, a.Name, a.Raw)
		if err != nil {
			log.Printf("reconciler: failed to upsert address %s: %v", addr, err)
			continue
		}
		resolved[addr] = row
	}
	return resolved, nil
}

// buildThread computes the desired thread row. Creation initializes all
// five flags from this email's label; update overwrites the inbox,
// draft and sent flags from the label only, keeps prior trash and junk,
// grows the participant set and never touches the user-controlled done
// flag.
func buildThread(prior *models.Thread, accountID string, email *provider.EmailMessage, label models.EmailLabel, participants []string) *models.Thread {
	fromLabel := models.StatusFromLabel(label)

	if prior == nil {
		return &models.Thread{
			ID:              email.ThreadID,
			AccountID:       accountID,
			Subject:         email.Subject,
			LastMessageDate: email.SentAt,
			Done:            false,
			ThreadStatus:    fromLabel,
			ParticipantIDs:  participants,
		}
	}

	updated := *prior
	updated.Subject = email.Subject
	updated.AccountID = accountID
	updated.LastMessageDate = email.SentAt
	updated.Inbox = fromLabel.Inbox
	updated.Draft = fromLabel.Draft
	updated.Sent = fromLabel.Sent
	updated.ParticipantIDs = dedupe(append(append([]string{}, prior.ParticipantIDs...), participants...))
	return &updated
}

// RecomputeStatus derives thread flags from the prior flag set and the
// label of the chronologically last email in the thread. Trash
// dominates everything. Combinations not covered by the explicit
// branches leave the prior flags unchanged.
func RecomputeStatus(prior models.ThreadStatus, lastLabel models.EmailLabel) models.ThreadStatus {
	if prior.Trash {
		return models.ThreadStatus{Trash: true}
	}

	status := prior
	switch {
	case lastLabel == models.LabelJunk && prior.Junk:
		status.Junk = true
		status.Draft = false
		status.Inbox = false
		status.Sent = false
	case lastLabel == models.LabelInbox:
		status.Inbox = true
		status.Junk = false
	case lastLabel == models.LabelSent:
		status.Sent = true
		status.Junk = false
	case lastLabel == models.LabelDraft:
		status.Draft = true
		status.Junk = false
	}
	return status
}

func buildEmail(email *provider.EmailMessage, fromID string, toIDs, ccIDs, bccIDs, replyToIDs []string, label models.EmailLabel) *models.Email {
	return &models.Email{
		ID:                   email.ID,
		ThreadID:             email.ThreadID,
		CreatedTime:          email.CreatedTime,
		LastModifiedTime:     time.Now().UTC(),
		SentAt:               email.SentAt,
		ReceivedAt:           email.ReceivedAt,
		InternetMessageID:    email.InternetMessageID,
		Subject:              email.Subject,
		SysLabels:            email.SysLabels,
		Keywords:             email.Keywords,
		SysClassifications:   email.SysClassifications,
		Sensitivity:          email.Sensitivity,
		MeetingMessageMethod: email.MeetingMessageMethod,
		FromID:               fromID,
		ToIDs:                toIDs,
		CcIDs:                ccIDs,
		BccIDs:               bccIDs,
		ReplyToIDs:           replyToIDs,
		HasAttachments:       email.HasAttachments,
		Body:                 email.Body,
		BodySnippet:          email.BodySnippet,
		InReplyTo:            email.InReplyTo,
		References:           email.References,
		ThreadIndex:          email.ThreadIndex,
		NativeProperties:     email.NativeProperties,
		FolderID:             email.FolderID,
		Omitted:              email.Omitted,
		EmailLabel:           label,
	}
}

func (r *Reconciler) upsertAttachment(ctx context.Context, emailID string, att provider.Attachment) error {
	return r.store.UpsertAttachment(ctx, &models.EmailAttachment{
		ID:              att.ID,
		EmailID:         emailID,
		Name:            att.Name,
		MimeType:        att.MimeType,
		Size:            att.Size,
		Inline:          att.Inline,
		ContentID:       att.ContentID,
		Content:         att.Content,
		ContentLocation: att.ContentLocation,
	})
}

// buildDocument derives the search projection of an email: subject,
// plain-text body, formatted from/to, sentAt and thread id.
func buildDocument(email *provider.EmailMessage) search.Document {
	body := email.BodySnippet
	if body == "" && email.Body != nil {
		body = search.PlainText(*email.Body)
	}

	to := make([]string, 0, len(email.To))
	for _, a := range email.To {
		to = append(to, formatAddress(a))
	}

	return search.Document{
		ID:       email.ID,
		Subject:  email.Subject,
		Body:     body,
		From:     formatAddress(email.From),
		To:       to,
		SentAt:   email.SentAt.Format(time.RFC3339),
		ThreadID: email.ThreadID,
	}
}

func formatAddress(a provider.Address) string {
	return a.Name + " <" + a.Address + ">"
}

// appendReceivedEvent records an email.received event for the outbox
// dispatcher. The msg id dedupes re-reconciliations of the same email.
func (r *Reconciler) appendReceivedEvent(ctx context.Context, accountID string, email *provider.EmailMessage) error {
	event := map[string]interface{}{
		"ts":         time.Now().Unix(),
		"account_id": accountID,
		"message_id": email.ID,
		"thread_id":  email.ThreadID,
		"subject":    email.Subject,
		"from":       email.From.Address,
		"sent_at":    email.SentAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("account.%s.email.received", accountID)
	msgID := fmt.Sprintf("email.received|%s|%s", accountID, email.ID)
	return r.store.AppendOutbox(ctx, subject, "email.received", payload, msgID)
}

func resolveIDs(addressMap map[string]*models.EmailAddress, addrs []provider.Address) []string {
	ids := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if row, ok := addressMap[a.Address]; ok {
			ids = append(ids, row.ID)
		}
	}
	return ids
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
