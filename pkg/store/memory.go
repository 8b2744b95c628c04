package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"chatroom/pkg/auth"
	"chatroom/pkg/model"
)

// ErrUnavailable is returned by a MemoryStore whose failure toggle is set. It
// simulates a credential store that cannot be reached.
var ErrUnavailable = errors.New("store: unavailable")

// MemoryStore provides an in-memory Store implementation for tests. It mirrors
// SQLite behavior for validation and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	users       map[string]memoryUser
	messages    []model.StoredMessage
	nextMsgID   int64
	unavailable bool
}

type memoryUser struct {
	salt      string
	hash      string
	createdAt time.Time
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:       now,
		users:     make(map[string]memoryUser),
		nextMsgID: 1,
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// SetUnavailable toggles simulated store failure: while set, every operation
// returns ErrUnavailable.
func (s *MemoryStore) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

func (s *MemoryStore) checkAvailable() error {
	if s.unavailable {
		return ErrUnavailable
	}
	return nil
}

// CreateUser hashes the secret and records a new account.
func (s *MemoryStore) CreateUser(username, secret string) error {
	if err := model.ValidateUsername(username); err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	salt, hash, err := auth.HashPassword(secret)
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return err
	}
	if _, exists := s.users[username]; exists {
		return ErrUserExists
	}
	s.users[username] = memoryUser{salt: salt, hash: hash, createdAt: s.now()}
	return nil
}

// VerifyUser checks a username/secret pair.
func (s *MemoryStore) VerifyUser(username, secret string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkAvailable(); err != nil {
		return false, err
	}
	u, ok := s.users[username]
	if !ok {
		return false, nil
	}
	return auth.VerifyPassword(secret, u.salt, u.hash), nil
}

// UserExists reports whether an account exists.
func (s *MemoryStore) UserExists(username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkAvailable(); err != nil {
		return false, err
	}
	_, ok := s.users[username]
	return ok, nil
}

// SaveMessage appends one message to the in-memory history.
func (s *MemoryStore) SaveMessage(sender, body string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable(); err != nil {
		return err
	}
	s.messages = append(s.messages, model.StoredMessage{
		ID:     s.nextMsgID,
		Sender: sender,
		Body:   body,
		SentAt: sentAt.UTC(),
	})
	s.nextMsgID++
	return nil
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (s *MemoryStore) RecentMessages(limit int) ([]model.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	start := len(s.messages) - limit
	if limit <= 0 || start < 0 {
		start = 0
	}
	out := make([]model.StoredMessage, len(s.messages)-start)
	copy(out, s.messages[start:])
	return out, nil
}
