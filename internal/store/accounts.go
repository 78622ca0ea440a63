package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nimbusmail/mailsync/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// CreateAccount inserts a new linked mailbox, or refreshes the token and
// display metadata in place when the account id already exists.
func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, access_token, email_address, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			email_address = excluded.email_address,
			name = excluded.name`,
		a.ID, a.UserID, a.AccessToken, a.EmailAddress, a.Name, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetAccount loads an account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var a models.Account
	err := s.db.GetContext(ctx, &a, `
		SELECT id, user_id, access_token, email_address, name, next_delta_token, search_index, created_at
		FROM accounts WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading account %s: %w", id, err)
	}
	return &a, nil
}

// GetAccountForUser loads an account only if it belongs to userID.
func (s *Store) GetAccountForUser(ctx context.Context, id, userID string) (*models.Account, error) {
	a, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, ErrNotFound
	}
	return a, nil
}

// ListAccounts returns all accounts linked by a user.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.SelectContext(ctx, &accounts, `
		SELECT id, user_id, access_token, email_address, name, next_delta_token, search_index, created_at
		FROM accounts WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts for user %s: %w", userID, err)
	}
	return accounts, nil
}

// AllAccounts returns every linked account, used at startup to resume
// continuous sync loops.
func (s *Store) AllAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.SelectContext(ctx, &accounts, `
		SELECT id, user_id, access_token, email_address, name, next_delta_token, search_index, created_at
		FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	return accounts, nil
}

// UpdateDeltaToken persists the sync cursor. Called only after a full
// record batch has been reconciled, never incrementally.
func (s *Store) UpdateDeltaToken(ctx context.Context, accountID, deltaToken string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET next_delta_token = ? WHERE id = ?", deltaToken, accountID)
	if err != nil {
		return fmt.Errorf("updating delta token for account %s: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAccessToken refreshes the provider token in place.
func (s *Store) UpdateAccessToken(ctx context.Context, accountID, token string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET access_token = ? WHERE id = ?", token, accountID)
	if err != nil {
		return fmt.Errorf("updating access token for account %s: %w", accountID, err)
	}
	return nil
}

// GetSearchIndex loads the serialized search index blob. Returns a nil
// blob (not an error) when the account has no index yet.
func (s *Store) GetSearchIndex(ctx context.Context, accountID string) ([]byte, error) {
	var blob []byte
	err := s.db.GetContext(ctx, &blob,
		"SELECT search_index FROM accounts WHERE id = ?", accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading search index for account %s: %w", accountID, err)
	}
	return blob, nil
}

// SaveSearchIndex overwrites the serialized search index blob.
func (s *Store) SaveSearchIndex(ctx context.Context, accountID string, blob []byte) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET search_index = ? WHERE id = ?", blob, accountID)
	if err != nil {
		return fmt.Errorf("saving search index for account %s: %w", accountID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
