package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Store wraps the relational database. It is the single source of truth;
// the search index is derived state rebuilt from the same inputs.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the SQLite database at dbPath, enables WAL mode
// and applies any pending schema migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			access_token TEXT NOT NULL,
			email_address TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			next_delta_token TEXT,
			search_index BLOB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts(user_id);

		CREATE TABLE IF NOT EXISTS email_addresses (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			address TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			raw TEXT NOT NULL DEFAULT '',
			UNIQUE(account_id, address)
		);

		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			subject TEXT NOT NULL DEFAULT '',
			last_message_date TIMESTAMP NOT NULL,
			done INTEGER NOT NULL DEFAULT 0,
			inbox_status INTEGER NOT NULL DEFAULT 0,
			draft_status INTEGER NOT NULL DEFAULT 0,
			sent_status INTEGER NOT NULL DEFAULT 0,
			trash_status INTEGER NOT NULL DEFAULT 0,
			junk_status INTEGER NOT NULL DEFAULT 0,
			participant_ids TEXT NOT NULL DEFAULT '[]'
		);
		CREATE INDEX IF NOT EXISTS idx_threads_account_id ON threads(account_id);
		CREATE INDEX IF NOT EXISTS idx_threads_last_message_date ON threads(last_message_date);

		CREATE TABLE IF NOT EXISTS emails (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id),
			created_time TIMESTAMP NOT NULL,
			last_modified_time TIMESTAMP NOT NULL,
			sent_at TIMESTAMP NOT NULL,
			received_at TIMESTAMP NOT NULL,
			internet_message_id TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			sys_labels TEXT NOT NULL DEFAULT '[]',
			keywords TEXT NOT NULL DEFAULT '[]',
			sys_classifications TEXT NOT NULL DEFAULT '[]',
			sensitivity TEXT NOT NULL DEFAULT '',
			meeting_message_method TEXT NOT NULL DEFAULT '',
			from_id TEXT NOT NULL REFERENCES email_addresses(id),
			to_ids TEXT NOT NULL DEFAULT '[]',
			cc_ids TEXT NOT NULL DEFAULT '[]',
			bcc_ids TEXT NOT NULL DEFAULT '[]',
			reply_to_ids TEXT NOT NULL DEFAULT '[]',
			has_attachments INTEGER NOT NULL DEFAULT 0,
			body TEXT,
			body_snippet TEXT NOT NULL DEFAULT '',
			in_reply_to TEXT NOT NULL DEFAULT '',
			refs TEXT NOT NULL DEFAULT '',
			thread_index TEXT NOT NULL DEFAULT '',
			native_properties TEXT,
			folder_id TEXT NOT NULL DEFAULT '',
			omitted TEXT NOT NULL DEFAULT '[]',
			email_label TEXT NOT NULL DEFAULT 'inbox'
		);
		CREATE INDEX IF NOT EXISTS idx_emails_thread_id ON emails(thread_id);
		CREATE INDEX IF NOT EXISTS idx_emails_received_at ON emails(received_at);

		CREATE TABLE IF NOT EXISTS email_attachments (
			id TEXT PRIMARY KEY,
			email_id TEXT NOT NULL REFERENCES emails(id),
			name TEXT NOT NULL DEFAULT '',
			mime_type TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			inline INTEGER NOT NULL DEFAULT 0,
			content_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			content_location TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_attachments_email_id ON email_attachments(email_id);

		CREATE TABLE IF NOT EXISTS outbox (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			subject TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload BLOB NOT NULL,
			msg_id TEXT NOT NULL UNIQUE,
			retries INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL,
			published_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox(published_at, next_attempt_at);

		INSERT INTO schema_version (version) VALUES (1);
		`,
	},
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *Store) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}
