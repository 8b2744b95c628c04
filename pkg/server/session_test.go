package server

import (
	"bufio"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

var testSessionID atomic.Uint64

// nopConn is a connection whose reads report EOF and whose writes succeed.
type nopConn struct{}

func (c *nopConn) Read(_ []byte) (int, error)         { return 0, io.EOF }
func (c *nopConn) Write(p []byte) (int, error)        { return len(p), nil }
func (c *nopConn) Close() error                       { return nil }
func (c *nopConn) LocalAddr() net.Addr                { return &net.IPAddr{} }
func (c *nopConn) RemoteAddr() net.Addr               { return &net.IPAddr{} }
func (c *nopConn) SetDeadline(_ time.Time) error      { return nil }
func (c *nopConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *nopConn) SetWriteDeadline(_ time.Time) error { return nil }

// newNopSession builds a session over a nopConn with a small queue. The write
// loop is not started; frames stay queued.
func newNopSession(reg *Registry) *Session {
	return newSession(testSessionID.Add(1), &nopConn{}, reg, NewMetrics(), 4, time.Second)
}

// newPipeSession builds a session over one end of a net.Pipe and starts its
// write loop. The returned conn is the client end.
func newPipeSession(t *testing.T, reg *Registry, metrics *Metrics, queueDepth int) (*Session, net.Conn) {
	t.Helper()
	serverEnd, clientEnd := net.Pipe()
	s := newSession(testSessionID.Add(1), serverEnd, reg, metrics, queueDepth, time.Second)
	go s.writeLoop()
	t.Cleanup(func() {
		s.Close()
		_ = clientEnd.Close()
	})
	return s, clientEnd
}

func readFrame(t *testing.T, br *bufio.Reader, conn net.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return line
}

func TestSessionSendDelivers(t *testing.T) {
	reg := NewRegistry()
	s, client := newPipeSession(t, reg, NewMetrics(), 4)
	br := bufio.NewReader(client)

	if !s.Send("sys|hello\n") {
		t.Fatalf("Send: want true")
	}
	if got := readFrame(t, br, client); got != "sys|hello\n" {
		t.Fatalf("frame: want %q, got %q", "sys|hello\n", got)
	}
}

func TestSessionSendDropsWhenQueueFull(t *testing.T) {
	reg := NewRegistry()
	metrics := NewMetrics()
	// No write loop: the queue fills and stays full.
	s := newSession(testSessionID.Add(1), &nopConn{}, reg, metrics, 2, time.Second)

	if !s.Send("msg|a|1\n") || !s.Send("msg|a|2\n") {
		t.Fatalf("Send: first two frames must be accepted")
	}
	if s.Send("msg|a|3\n") {
		t.Fatalf("Send: want drop on full queue")
	}
	if got := metrics.MessagesDropped.Load(); got != 1 {
		t.Fatalf("MessagesDropped: want 1, got %d", got)
	}
}

func TestSessionSendAfterClose(t *testing.T) {
	reg := NewRegistry()
	s := newNopSession(reg)
	s.Close()
	s.Close() // idempotent

	if s.Send("sys|late\n") {
		t.Fatalf("Send: want false after close")
	}
	if got := s.State(); got != StateClosed {
		t.Fatalf("State: want closed, got %v", got)
	}
}

func TestSessionCloseRemovesRegistryEntry(t *testing.T) {
	reg := NewRegistry()
	s := newNopSession(reg)
	reg.Track(s)
	s.setUsername("alice")
	if err := reg.Register("alice", s); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.Close()

	if _, ok := reg.Lookup("alice"); ok {
		t.Fatalf("Lookup: entry must not outlive the session")
	}
	if n := len(reg.Tracked()); n != 0 {
		t.Fatalf("Tracked: want 0, got %d", n)
	}
}

func TestSessionCloseFlushesQueuedFrames(t *testing.T) {
	reg := NewRegistry()
	s, client := newPipeSession(t, reg, NewMetrics(), 4)
	br := bufio.NewReader(client)

	if !s.Send("ok|goodbye\n") {
		t.Fatalf("Send: want true")
	}
	s.Close()

	if got := readFrame(t, br, client); got != "ok|goodbye\n" {
		t.Fatalf("frame: want %q, got %q", "ok|goodbye\n", got)
	}
	// The write loop owns the conn and closes it after the flush.
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := br.ReadString('\n'); err != io.EOF {
		t.Fatalf("read after close: want EOF, got %v", err)
	}
}

func TestSessionAuthTransitions(t *testing.T) {
	reg := NewRegistry()
	s := newNopSession(reg)

	if got := s.State(); got != StateUnauthenticated {
		t.Fatalf("State: want unauthenticated, got %v", got)
	}
	if !s.setUsername("alice") {
		t.Fatalf("setUsername: want true on unauthenticated session")
	}
	if !s.markAuthenticated() {
		t.Fatalf("markAuthenticated: want true")
	}
	if s.markAuthenticated() {
		t.Fatalf("markAuthenticated: want false on second call")
	}
	if got := s.Username(); got != "alice" {
		t.Fatalf("Username: want alice, got %q", got)
	}

	s.Close()
	if s.setUsername("bob") {
		t.Fatalf("setUsername: want false on closed session")
	}
}
