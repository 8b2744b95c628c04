package server

import (
	"errors"
	"sort"
	"sync"
)

// ErrDuplicateUsername is returned by Register when the username already maps
// to a live session.
var ErrDuplicateUsername = errors.New("server: username already has an active session")

// ErrSessionClosed is returned by Register when the session closed before
// registration could complete.
var ErrSessionClosed = errors.New("server: session is closed")

// Registry is the shared, concurrency-safe index of sessions. Every accepted
// connection is tracked by its numeric identity; a username entry exists only
// while that session is authenticated. A username maps to at most one live
// session at any time.
//
// The Registry holds non-owning references: entries are inserted and removed
// by each session's own lifecycle, never by the router.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uint64]*Session
	byName map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uint64]*Session),
		byName: make(map[string]*Session),
	}
}

// Track records a freshly accepted session under its connection identity so
// shutdown can reach sessions that never authenticate.
func (r *Registry) Track(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID()] = s
}

// Register inserts the username entry for a session that passed credential
// verification. The check-and-insert is atomic: a concurrent Register of the
// same name cannot race past it, and a session that closed in the meantime is
// refused so its entry cannot outlive it.
func (r *Registry) Register(username string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	if _, exists := r.byName[username]; exists {
		return ErrDuplicateUsername
	}
	r.byName[username] = s
	r.byID[s.ID()] = s
	return nil
}

// Unregister removes a session by its connection identity. It is a no-op when
// the session was never tracked or registered, so it is safe to call from a
// session that failed authentication.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, s.ID())
	// Only drop the username entry if it still points at this session; a
	// reconnect may have claimed the name between our close and this call.
	if name := s.Username(); name != "" {
		if cur, ok := r.byName[name]; ok && cur.ID() == s.ID() {
			delete(r.byName, name)
		}
	}
}

// Lookup returns the authenticated session for a username.
func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[username]
	return s, ok
}

// Snapshot returns a consistent point-in-time view of all authenticated
// sessions, ordered by join time then identity.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	result := make([]*Session, 0, len(r.byName))
	for _, s := range r.byName {
		result = append(result, s)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.JoinedAt().Equal(b.JoinedAt()) {
			return a.JoinedAt().Before(b.JoinedAt())
		}
		return a.ID() < b.ID()
	})
	return result
}

// Names returns the sorted usernames of all authenticated sessions.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the number of authenticated sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Tracked returns every live session, authenticated or not. Used for shutdown.
func (r *Registry) Tracked() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		result = append(result, s)
	}
	return result
}
