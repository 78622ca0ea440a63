package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nimbusmail/mailsync/internal/models"
)

// UpsertEmailAddress resolves an address scoped to an account. An
// existing row keeps its id and gets its display name and raw header
// text overwritten; a missing row is created.
func (s *Store) UpsertEmailAddress(ctx context.Context, accountID, address, name, raw string) (*models.EmailAddress, error) {
	var existing models.EmailAddress
	err := s.db.GetContext(ctx, &existing, `
		SELECT id, account_id, address, name, raw
		FROM email_addresses WHERE account_id = ? AND address = ?`, accountID, address)

	switch {
	case err == nil:
		existing.Name = name
		existing.Raw = raw
		_, err = s.db.ExecContext(ctx,
			"UPDATE email_addresses SET name = ?, raw = ? WHERE id = ?",
			name, raw, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("updating email address %s: %w", address, err)
		}
		return &existing, nil

	case errors.Is(err, sql.ErrNoRows):
		row := models.EmailAddress{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Address:   address,
			Name:      name,
			Raw:       raw,
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO email_addresses (id, account_id, address, name, raw)
			VALUES (?, ?, ?, ?, ?)`,
			row.ID, row.AccountID, row.Address, row.Name, row.Raw)
		if err != nil {
			return nil, fmt.Errorf("creating email address %s: %w", address, err)
		}
		return &row, nil

	default:
		return nil, fmt.Errorf("looking up email address %s: %w", address, err)
	}
}

// GetEmailAddress loads an address row by id.
func (s *Store) GetEmailAddress(ctx context.Context, id string) (*models.EmailAddress, error) {
	var a models.EmailAddress
	err := s.db.GetContext(ctx, &a,
		"SELECT id, account_id, address, name, raw FROM email_addresses WHERE id = ?", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading email address %s: %w", id, err)
	}
	return &a, nil
}

// ListEmailAddresses returns every address known for an account, used
// for compose autocomplete suggestions.
func (s *Store) ListEmailAddresses(ctx context.Context, accountID string) ([]models.EmailAddress, error) {
	var addrs []models.EmailAddress
	err := s.db.SelectContext(ctx, &addrs, `
		SELECT id, account_id, address, name, raw
		FROM email_addresses WHERE account_id = ? ORDER BY address`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing email addresses for account %s: %w", accountID, err)
	}
	return addrs, nil
}
