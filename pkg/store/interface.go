package store

import (
	"errors"
	"time"

	"chatroom/pkg/model"
)

var ErrUserExists = errors.New("store: username already exists")

// CredentialStore validates and records user credentials. The server core never
// touches storage directly; it only calls this interface from the
// authenticating session's own goroutine.
//
// VerifyUser returns (false, nil) for unknown users or wrong secrets. A non-nil
// error means the store itself is unavailable, which the auth gate surfaces as
// a retryable condition.
type CredentialStore interface {
	VerifyUser(username, secret string) (bool, error)
	CreateUser(username, secret string) error
	UserExists(username string) (bool, error)
}

// MessageStore persists chat history.
type MessageStore interface {
	SaveMessage(sender, body string, sentAt time.Time) error
	// RecentMessages returns up to limit most recent messages, oldest first.
	RecentMessages(limit int) ([]model.StoredMessage, error)
}

// Store combines the persistence concerns behind one handle.
type Store interface {
	CredentialStore
	MessageStore
	Close() error
}

// Compile-time checks.
var _ Store = (*SQLiteStore)(nil)
var _ Store = (*MemoryStore)(nil)
