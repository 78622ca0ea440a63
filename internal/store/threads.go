package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nimbusmail/mailsync/internal/models"
)

type threadRow struct {
	ID              string    `db:"id"`
	AccountID       string    `db:"account_id"`
	Subject         string    `db:"subject"`
	LastMessageDate time.Time `db:"last_message_date"`
	Done            bool      `db:"done"`
	Inbox           bool      `db:"inbox_status"`
	Draft           bool      `db:"draft_status"`
	Sent            bool      `db:"sent_status"`
	Trash           bool      `db:"trash_status"`
	Junk            bool      `db:"junk_status"`
	ParticipantIDs  string    `db:"participant_ids"`
}

func (r threadRow) toModel() models.Thread {
	return models.Thread{
		ID:              r.ID,
		AccountID:       r.AccountID,
		Subject:         r.Subject,
		LastMessageDate: r.LastMessageDate,
		Done:            r.Done,
		ThreadStatus: models.ThreadStatus{
			Inbox: r.Inbox,
			Draft: r.Draft,
			Sent:  r.Sent,
			Trash: r.Trash,
			Junk:  r.Junk,
		},
		ParticipantIDs: decodeList(r.ParticipantIDs),
	}
}

const threadColumns = `id, account_id, subject, last_message_date, done,
	inbox_status, draft_status, sent_status, trash_status, junk_status, participant_ids`

// GetThread loads a thread by its remote conversation id.
func (s *Store) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	var row threadRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+threadColumns+" FROM threads WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading thread %s: %w", id, err)
	}
	t := row.toModel()
	return &t, nil
}

// SaveThread writes the full thread row, replacing any prior state.
// Callers compute the desired state first; the reconciler holds the
// per-thread lock across that read-modify-write.
func (s *Store) SaveThread(ctx context.Context, t *models.Thread) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO threads (`+threadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.Subject, t.LastMessageDate, t.Done,
		t.Inbox, t.Draft, t.Sent, t.Trash, t.Junk,
		encodeList(t.ParticipantIDs),
	)
	if err != nil {
		return fmt.Errorf("saving thread %s: %w", t.ID, err)
	}
	return nil
}

// UpdateThreadStatus persists recomputed status flags only.
func (s *Store) UpdateThreadStatus(ctx context.Context, id string, st models.ThreadStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE threads SET
			inbox_status = ?, draft_status = ?, sent_status = ?,
			trash_status = ?, junk_status = ?
		WHERE id = ?`,
		st.Inbox, st.Draft, st.Sent, st.Trash, st.Junk, id)
	if err != nil {
		return fmt.Errorf("updating thread status %s: %w", id, err)
	}
	return nil
}

// SetThreadDone flips the user-controlled done flag. The sync pipeline
// never calls this.
func (s *Store) SetThreadDone(ctx context.Context, id string, done bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE threads SET done = ? WHERE id = ?", done, id)
	if err != nil {
		return fmt.Errorf("setting thread done %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ThreadsPage returns one page of threads for a mailbox tab, newest
// conversation first, with their emails loaded in sentAt order.
func (s *Store) ThreadsPage(ctx context.Context, accountID, tab string, done bool, page, pageSize int) ([]models.Thread, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 15
	}

	where := `account_id = ? AND done = ?
		AND inbox_status = ? AND draft_status = ? AND sent_status = ?
		AND junk_status = ? AND trash_status = ?`
	args := []interface{}{
		accountID, done,
		tab == "inbox", tab == "draft", tab == "sent",
		tab == "junk", tab == "trash",
	}

	var total int
	err := s.db.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM threads WHERE "+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("counting threads: %w", err)
	}

	var rows []threadRow
	err = s.db.SelectContext(ctx, &rows,
		"SELECT "+threadColumns+" FROM threads WHERE "+where+
			" ORDER BY last_message_date DESC LIMIT ? OFFSET ?",
		append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying threads: %w", err)
	}

	threads := make([]models.Thread, 0, len(rows))
	for _, row := range rows {
		t := row.toModel()
		t.Emails, err = s.ListThreadEmails(ctx, t.ID, "sent_at")
		if err != nil {
			return nil, 0, err
		}
		threads = append(threads, t)
	}

	totalPages := (total + pageSize - 1) / pageSize
	return threads, totalPages, nil
}

// GetThreadsByIDs loads threads preserving the order of ids, which the
// search surface uses to keep hybrid-score ranking intact.
func (s *Store) GetThreadsByIDs(ctx context.Context, accountID string, ids []string) ([]models.Thread, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, accountID)
	for _, id := range ids {
		args = append(args, id)
	}

	var rows []threadRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+threadColumns+" FROM threads WHERE account_id = ? AND id IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying threads by ids: %w", err)
	}

	byID := make(map[string]models.Thread, len(rows))
	for _, row := range rows {
		byID[row.ID] = row.toModel()
	}

	threads := make([]models.Thread, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			threads = append(threads, t)
		}
	}
	return threads, nil
}

// ThreadCounts aggregates thread status flags for an account.
func (s *Store) ThreadCounts(ctx context.Context, accountID string) (*models.ThreadCounts, error) {
	var counts models.ThreadCounts
	err := s.db.GetContext(ctx, &counts, `
		SELECT
			COALESCE(SUM(CASE WHEN inbox_status THEN 1 ELSE 0 END), 0) AS inbox_count,
			COALESCE(SUM(CASE WHEN draft_status THEN 1 ELSE 0 END), 0) AS draft_count,
			COALESCE(SUM(CASE WHEN sent_status THEN 1 ELSE 0 END), 0) AS sent_count,
			COALESCE(SUM(CASE WHEN trash_status THEN 1 ELSE 0 END), 0) AS trash_count,
			COALESCE(SUM(CASE WHEN junk_status THEN 1 ELSE 0 END), 0) AS junk_count
		FROM threads WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("counting thread statuses: %w", err)
	}
	return &counts, nil
}
