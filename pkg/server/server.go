// Package server implements the chat server core: the TCP listener, per-client
// sessions, the authentication gate, the shared session registry, and the
// message router. One goroutine per connection reads frames; a second per
// connection owns all writes to that socket.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"chatroom/pkg/model"
	"chatroom/pkg/protocol"
	"chatroom/pkg/store"
)

// maxProtocolViolations is how many malformed frames an authenticated client
// may send before the server closes the connection.
const maxProtocolViolations = 10

// Dependencies are the external collaborators the server core needs.
type Dependencies struct {
	Store store.Store
}

// Server ties the listener, registry, auth gate and router together.
type Server struct {
	cfg      Config
	deps     Dependencies
	registry *Registry
	router   *Router
	gate     *AuthGate
	metrics  *Metrics

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	nextID atomic.Uint64
}

// New creates a server from config and dependencies. Start or Run brings it up.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	registry := NewRegistry()
	metrics := NewMetrics()
	return &Server{
		cfg:      cfg,
		deps:     deps,
		registry: registry,
		metrics:  metrics,
		router:   NewRouter(registry, deps.Store, metrics, cfg.IncludeSenderInBroadcast),
		gate:     NewAuthGate(deps.Store, registry, metrics, cfg.MaxAuthAttempts, cfg.AuthTimeout.Std()),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry exposes the session registry, mainly for tests and diagnostics.
func (s *Server) Registry() *Registry { return s.registry }

// Metrics exposes the server's runtime counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Addr returns the bound listener address. Only valid after Start.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Start binds the listener and launches the accept loop. It returns once the
// server is accepting; use Shutdown to stop it.
func (s *Server) Start() error {
	if s.deps.Store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.ln = ln
	slog.Info("chat server listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.cancel()
				return
			}
			slog.Error("accept failed", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn owns one client connection from accept to cleanup.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	id := s.nextID.Add(1)
	sess := newSession(id, conn, s.registry, s.metrics, s.cfg.OutboundQueueDepth, s.cfg.WriteTimeout.Std())
	s.registry.Track(sess)
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)
	slog.Debug("connection accepted", "session", id, "remote", sess.RemoteAddr())

	var writerDone sync.WaitGroup
	writerDone.Add(1)
	go func() {
		defer writerDone.Done()
		sess.writeLoop()
	}()

	defer func() {
		sess.Close()
		writerDone.Wait()
		s.metrics.ActiveConnections.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
	}()

	username, err := s.gate.Authenticate(sess)
	if err != nil {
		switch {
		case errors.Is(err, ErrClientQuit):
			slog.Debug("client quit before authenticating", "session", id)
		case errors.Is(err, ErrTooManyAttempts):
			slog.Info("closing connection after failed handshake", "session", id, "remote", sess.RemoteAddr())
		default:
			slog.Debug("handshake ended", "session", id, "err", err)
		}
		return
	}

	slog.Info("client authenticated", "user", username, "session", id, "remote", sess.RemoteAddr())
	s.replayHistory(sess)
	_ = s.router.Route(nil, model.NewSystem(username+" has joined the chat"))

	s.chatLoop(sess, username)

	// Close first so the departed session never receives its own leave notice.
	sess.Close()
	_ = s.router.Route(nil, model.NewSystem(username+" has left the chat"))
	slog.Info("client disconnected", "user", username, "session", id)
}

// chatLoop services an authenticated session until it disconnects.
func (s *Server) chatLoop(sess *Session, username string) {
	violations := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		line, err := sess.readLine(time.Time{})
		if err != nil {
			if !isDisconnect(err) {
				slog.Debug("read failed", "user", username, "err", err)
			}
			return
		}

		frame, err := protocol.ParseClient(line)
		if err != nil {
			s.metrics.ProtocolErrors.Add(1)
			sess.Send(protocol.Err(protocol.CodeBadFrame, "malformed frame"))
			violations++
			if violations >= maxProtocolViolations {
				slog.Info("closing session after repeated malformed frames", "user", username)
				return
			}
			continue
		}

		switch frame.Verb {
		case protocol.VerbMsg:
			msg := model.NewBroadcast(username, frame.Field(0))
			if err := s.router.Route(sess, msg); err != nil {
				s.metrics.ProtocolErrors.Add(1)
				sess.Send(protocol.Err(protocol.CodeBadFrame, "message rejected: "+err.Error()))
			}

		case protocol.VerbDM:
			msg := model.NewDirect(username, frame.Field(0), frame.Field(1))
			if err := s.router.Route(sess, msg); err != nil && !errors.Is(err, ErrRecipientNotFound) {
				// Recipient misses were already reported to the sender.
				s.metrics.ProtocolErrors.Add(1)
				sess.Send(protocol.Err(protocol.CodeBadFrame, "message rejected: "+err.Error()))
			}

		case protocol.VerbWho:
			sess.Send(protocol.WhoList(s.registry.Names()))

		case protocol.VerbQuit:
			sess.Send(protocol.OK("goodbye"))
			return

		case protocol.VerbLogin, protocol.VerbRegister:
			s.metrics.ProtocolErrors.Add(1)
			sess.Send(protocol.Err(protocol.CodeBadFrame, "already authenticated"))
		}
	}
}

// replayHistory sends the recent-message backlog to a freshly authenticated
// session. Best-effort: a storage fault skips the replay, never the session.
func (s *Server) replayHistory(sess *Session) {
	if s.deps.Store == nil || s.cfg.HistoryLimit <= 0 {
		return
	}
	msgs, err := s.deps.Store.RecentMessages(s.cfg.HistoryLimit)
	if err != nil {
		slog.Error("failed to load message history", "err", err)
		return
	}
	for _, m := range msgs {
		sess.Send(protocol.Hist(m.SentAt, m.Sender, m.Body))
	}
}

// Shutdown stops accepting, notifies and closes every live session, and waits
// up to the configured grace period for connection goroutines to finish.
func (s *Server) Shutdown() {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}

	for _, sess := range s.registry.Tracked() {
		sess.Send(protocol.Sys("server shutting down"))
		sess.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("all sessions drained")
	case <-time.After(s.cfg.ShutdownGrace.Std()):
		slog.Warn("shutdown grace period expired with sessions still open")
	}
}

// isDisconnect reports whether a read error means the session is simply gone:
// EOF, a closed socket, or the deadline kick Close uses to unblock the reader.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}
