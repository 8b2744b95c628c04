package server

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"chatroom/pkg/protocol"
)

// State is a session's position in its lifecycle. The only transitions are
// Unauthenticated -> Authenticated -> Closed and Unauthenticated -> Closed;
// Closed is terminal.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (st State) String() string {
	switch st {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session owns one client's transport. The write loop is the single owner of
// "may write to this socket": everything else enqueues frames through Send,
// which never blocks on network I/O.
type Session struct {
	id       uint64
	conn     net.Conn
	scanner  *bufio.Scanner
	registry *Registry
	metrics  *Metrics

	writeTimeout time.Duration

	outbound chan string
	done     chan struct{}

	closeOnce sync.Once

	mu       sync.Mutex
	state    State
	username string
	joinedAt time.Time
}

func newSession(id uint64, conn net.Conn, registry *Registry, metrics *Metrics, queueDepth int, writeTimeout time.Duration) *Session {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 1024), protocol.MaxLineBytes)
	return &Session{
		id:           id,
		conn:         conn,
		scanner:      scanner,
		registry:     registry,
		metrics:      metrics,
		writeTimeout: writeTimeout,
		outbound:     make(chan string, queueDepth),
		done:         make(chan struct{}),
		state:        StateUnauthenticated,
		joinedAt:     time.Now().UTC(),
	}
}

// ID returns the connection identity assigned at accept time.
func (s *Session) ID() uint64 { return s.id }

// RemoteAddr returns the peer address for logging.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username returns the authenticated name, or "" before authentication.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// JoinedAt returns when the session entered the Authenticated state (accept
// time before that).
func (s *Session) JoinedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinedAt
}

// setUsername pre-claims a username on a still-unauthenticated session so the
// registry can always resolve the name entry to remove on Close. Returns false
// once the session has left the Unauthenticated state.
func (s *Session) setUsername(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnauthenticated {
		return false
	}
	s.username = username
	return true
}

// clearUsername undoes a pre-claim after a rejected registration attempt.
func (s *Session) clearUsername() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUnauthenticated {
		s.username = ""
	}
}

// markAuthenticated transitions Unauthenticated -> Authenticated and stamps
// the join time. Closed sessions stay closed.
func (s *Session) markAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnauthenticated {
		return false
	}
	s.state = StateAuthenticated
	s.joinedAt = time.Now().UTC()
	return true
}

// Send enqueues one encoded frame for delivery. It never blocks: a closed
// session or a saturated queue drops the frame and returns false. A drop is a
// slow-consumer fault for this recipient only, not a router error.
func (s *Session) Send(frame string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.outbound <- frame:
		return true
	case <-s.done:
		return false
	default:
		s.metrics.MessagesDropped.Add(1)
		slog.Warn("outbound queue full, dropping frame", "session", s.id, "user", s.Username())
		return false
	}
}

// writeLoop drains the outbound queue onto the socket and finally releases
// the transport. A write error closes the session. On Close it flushes frames
// that are already queued, bounded by a single write deadline, so final
// responses still reach the client.
func (s *Session) writeLoop() {
	defer func() { _ = s.conn.Close() }()
	for {
		select {
		case frame := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if _, err := io.WriteString(s.conn, frame); err != nil {
				slog.Debug("write failed", "session", s.id, "user", s.Username(), "err", err)
				s.Close()
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			for {
				select {
				case frame := <-s.outbound:
					if _, err := io.WriteString(s.conn, frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// readLine reads the next frame line. The deadline bounds the whole wait; a
// zero deadline waits forever. Transport errors (including deadline expiry)
// are returned as-is and are terminal for the session.
func (s *Session) readLine(deadline time.Time) (string, error) {
	_ = s.conn.SetReadDeadline(deadline)
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.scanner.Text(), nil
}

// Close transitions the session to Closed and removes it from the registry.
// Idempotent: safe to call from the read loop, the write loop, and shutdown
// concurrently, and safe when registration never completed. The write loop
// owns the transport and closes it after flushing; Close only kicks a blocked
// reader by expiring its deadline.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.SetReadDeadline(time.Now())
		s.registry.Unregister(s)
	})
}
