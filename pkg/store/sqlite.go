// Package store provides SQLite-backed persistence for user credentials and
// message history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chatroom/pkg/auth"
	"chatroom/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQLiteStore provides database access for users and messages.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	ctx := context.Background()

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" under concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: enable foreign_keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		username      TEXT PRIMARY KEY CHECK(length(username) > 0 AND length(username) <= 32),
		password_salt TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		username   TEXT    NOT NULL,
		content    TEXT    NOT NULL,
		created_at TEXT    NOT NULL
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("store: migrate to v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("store: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("store: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLiteStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("store: update schema version: %w", err)
	}
	return nil
}

// CreateUser hashes the secret and inserts a new account. Returns ErrUserExists
// if the username is already taken.
func (s *SQLiteStore) CreateUser(username, secret string) error {
	if err := model.ValidateUsername(username); err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	salt, hash, err := auth.HashPassword(secret)
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}

	ctx := context.Background()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_salt, password_hash) VALUES (?, ?, ?)",
		username, salt, hash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
			strings.Contains(err.Error(), "PRIMARY KEY constraint failed") {
			return ErrUserExists
		}
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// VerifyUser checks a username/secret pair against the stored hash. Unknown
// users and wrong secrets both return (false, nil); errors mean the store is
// unavailable.
func (s *SQLiteStore) VerifyUser(username, secret string) (bool, error) {
	ctx := context.Background()
	var salt, hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT password_salt, password_hash FROM users WHERE username = ?",
		username).Scan(&salt, &hash)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: verify user: %w", err)
	}
	return auth.VerifyPassword(secret, salt, hash), nil
}

// UserExists reports whether an account with the given username exists.
func (s *SQLiteStore) UserExists(username string) (bool, error) {
	ctx := context.Background()
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: user exists: %w", err)
	}
	return n > 0, nil
}

// SaveMessage appends one message to the history table.
func (s *SQLiteStore) SaveMessage(sender, body string, sentAt time.Time) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (username, content, created_at) VALUES (?, ?, ?)",
		sender, body, sentAt.UTC().Format(dbTimeLayout))
	if err != nil {
		return fmt.Errorf("store: save message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (s *SQLiteStore) RecentMessages(limit int) ([]model.StoredMessage, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username, content, created_at FROM messages ORDER BY id DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.StoredMessage
	for rows.Next() {
		var m model.StoredMessage
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		t, err := time.Parse(dbTimeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("store: parse message time: %w", err)
		}
		m.SentAt = t.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent messages: %w", err)
	}

	// Rows arrive newest-first; reverse to oldest-first for replay.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
