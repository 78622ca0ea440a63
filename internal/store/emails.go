package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nimbusmail/mailsync/internal/models"
)

type emailRow struct {
	ID                   string         `db:"id"`
	ThreadID             string         `db:"thread_id"`
	CreatedTime          time.Time      `db:"created_time"`
	LastModifiedTime     time.Time      `db:"last_modified_time"`
	SentAt               time.Time      `db:"sent_at"`
	ReceivedAt           time.Time      `db:"received_at"`
	InternetMessageID    string         `db:"internet_message_id"`
	Subject              string         `db:"subject"`
	SysLabels            string         `db:"sys_labels"`
	Keywords             string         `db:"keywords"`
	SysClassifications   string         `db:"sys_classifications"`
	Sensitivity          string         `db:"sensitivity"`
	MeetingMessageMethod string         `db:"meeting_message_method"`
	FromID               string         `db:"from_id"`
	ToIDs                string         `db:"to_ids"`
	CcIDs                string         `db:"cc_ids"`
	BccIDs               string         `db:"bcc_ids"`
	ReplyToIDs           string         `db:"reply_to_ids"`
	HasAttachments       bool           `db:"has_attachments"`
	Body                 sql.NullString `db:"body"`
	BodySnippet          string         `db:"body_snippet"`
	InReplyTo            string         `db:"in_reply_to"`
	References           string         `db:"refs"`
	ThreadIndex          string         `db:"thread_index"`
	NativeProperties     []byte         `db:"native_properties"`
	FolderID             string         `db:"folder_id"`
	Omitted              string         `db:"omitted"`
	EmailLabel           string         `db:"email_label"`
}

func (r emailRow) toModel() models.Email {
	e := models.Email{
		ID:                   r.ID,
		ThreadID:             r.ThreadID,
		CreatedTime:          r.CreatedTime,
		LastModifiedTime:     r.LastModifiedTime,
		SentAt:               r.SentAt,
		ReceivedAt:           r.ReceivedAt,
		InternetMessageID:    r.InternetMessageID,
		Subject:              r.Subject,
		SysLabels:            decodeList(r.SysLabels),
		Keywords:             decodeList(r.Keywords),
		SysClassifications:   decodeList(r.SysClassifications),
		Sensitivity:          r.Sensitivity,
		MeetingMessageMethod: r.MeetingMessageMethod,
		FromID:               r.FromID,
		ToIDs:                decodeList(r.ToIDs),
		CcIDs:                decodeList(r.CcIDs),
		BccIDs:               decodeList(r.BccIDs),
		ReplyToIDs:           decodeList(r.ReplyToIDs),
		HasAttachments:       r.HasAttachments,
		BodySnippet:          r.BodySnippet,
		InReplyTo:            r.InReplyTo,
		References:           r.References,
		ThreadIndex:          r.ThreadIndex,
		NativeProperties:     r.NativeProperties,
		FolderID:             r.FolderID,
		Omitted:              decodeList(r.Omitted),
		EmailLabel:           models.EmailLabel(r.EmailLabel),
	}
	if r.Body.Valid {
		body := r.Body.String
		e.Body = &body
	}
	return e
}

const emailColumns = `id, thread_id, created_time, last_modified_time, sent_at, received_at,
	internet_message_id, subject, sys_labels, keywords, sys_classifications,
	sensitivity, meeting_message_method, from_id, to_ids, cc_ids, bcc_ids, reply_to_ids,
	has_attachments, body, body_snippet, in_reply_to, refs, thread_index,
	native_properties, folder_id, omitted, email_label`

// UpsertEmail fully overwrites the email row keyed by the provider's
// message id. Reconciliation is idempotent because the row is a pure
// function of the latest input.
func (s *Store) UpsertEmail(ctx context.Context, e *models.Email) error {
	var body interface{}
	if e.Body != nil {
		body = *e.Body
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO emails (`+emailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ThreadID, e.CreatedTime, e.LastModifiedTime, e.SentAt, e.ReceivedAt,
		e.InternetMessageID, e.Subject, encodeList(e.SysLabels), encodeList(e.Keywords),
		encodeList(e.SysClassifications), e.Sensitivity, e.MeetingMessageMethod,
		e.FromID, encodeList(e.ToIDs), encodeList(e.CcIDs), encodeList(e.BccIDs),
		encodeList(e.ReplyToIDs), e.HasAttachments, body, e.BodySnippet,
		e.InReplyTo, e.References, e.ThreadIndex, e.NativeProperties,
		e.FolderID, encodeList(e.Omitted), string(e.EmailLabel),
	)
	if err != nil {
		return fmt.Errorf("upserting email %s: %w", e.ID, err)
	}
	return nil
}

// GetEmail loads one email by provider message id.
func (s *Store) GetEmail(ctx context.Context, id string) (*models.Email, error) {
	var row emailRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+emailColumns+" FROM emails WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading email %s: %w", id, err)
	}
	e := row.toModel()
	return &e, nil
}

// ListThreadEmails returns a thread's emails ordered ascending by the
// given timestamp column ("received_at" or "sent_at").
func (s *Store) ListThreadEmails(ctx context.Context, threadID, orderBy string) ([]models.Email, error) {
	if orderBy != "sent_at" {
		orderBy = "received_at"
	}
	var rows []emailRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+emailColumns+" FROM emails WHERE thread_id = ? ORDER BY "+orderBy+" ASC", threadID)
	if err != nil {
		return nil, fmt.Errorf("listing emails for thread %s: %w", threadID, err)
	}
	emails := make([]models.Email, 0, len(rows))
	for _, row := range rows {
		emails = append(emails, row.toModel())
	}
	return emails, nil
}

// UpsertAttachment fully overwrites an attachment row by provider id.
func (s *Store) UpsertAttachment(ctx context.Context, a *models.EmailAttachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO email_attachments
			(id, email_id, name, mime_type, size, inline, content_id, content, content_location)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EmailID, a.Name, a.MimeType, a.Size, a.Inline,
		a.ContentID, a.Content, a.ContentLocation,
	)
	if err != nil {
		return fmt.Errorf("upserting attachment %s: %w", a.ID, err)
	}
	return nil
}

// ListAttachments returns an email's attachments.
func (s *Store) ListAttachments(ctx context.Context, emailID string) ([]models.EmailAttachment, error) {
	var attachments []models.EmailAttachment
	err := s.db.SelectContext(ctx, &attachments, `
		SELECT id, email_id, name, mime_type, size, inline, content_id, content, content_location
		FROM email_attachments WHERE email_id = ? ORDER BY id`, emailID)
	if err != nil {
		return nil, fmt.Errorf("listing attachments for email %s: %w", emailID, err)
	}
	return attachments, nil
}
