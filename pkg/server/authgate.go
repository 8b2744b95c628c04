package server

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatroom/pkg/model"
	"chatroom/pkg/protocol"
	"chatroom/pkg/store"
)

// ErrTooManyAttempts terminates a handshake that burned through its attempt
// budget.
var ErrTooManyAttempts = errors.New("server: too many failed authentication attempts")

// ErrClientQuit reports a clean client disconnect during the handshake.
var ErrClientQuit = errors.New("server: client quit")

// AuthGate drives the login handshake for a freshly accepted session. No chat
// frame passes it: everything a client sends before authenticating is either a
// handshake verb or a protocol violation.
//
// The whole handshake shares one deadline (authTimeout) and one failure budget
// (maxAuthAttempts). Invalid credentials, a name already in use, and frames
// that are not handshake verbs all consume the budget; a store outage does
// not, because it is the server's fault, not the client's.
type AuthGate struct {
	creds       store.CredentialStore
	registry    *Registry
	metrics     *Metrics
	maxAttempts int
	timeout     time.Duration
}

// NewAuthGate creates an auth gate backed by the given credential store.
func NewAuthGate(creds store.CredentialStore, registry *Registry, metrics *Metrics, maxAttempts int, timeout time.Duration) *AuthGate {
	return &AuthGate{
		creds:       creds,
		registry:    registry,
		metrics:     metrics,
		maxAttempts: maxAttempts,
		timeout:     timeout,
	}
}

// Authenticate runs the handshake to completion. On success the session is
// registered and in the Authenticated state, and the username is returned.
// Any returned error is terminal for the connection.
func (g *AuthGate) Authenticate(s *Session) (string, error) {
	deadline := time.Now().Add(g.timeout)
	attempts := 0

	s.Send(protocol.Sys("welcome: register|<name>|<password> to create an account, login|<name>|<password> to sign in"))

	for {
		line, err := s.readLine(deadline)
		if err != nil {
			return "", fmt.Errorf("server: auth read: %w", err)
		}

		frame, err := protocol.ParseClient(line)
		if err != nil {
			g.metrics.ProtocolErrors.Add(1)
			s.Send(protocol.Err(protocol.CodeBadFrame, "malformed frame"))
			if g.spend(s, &attempts) {
				return "", ErrTooManyAttempts
			}
			continue
		}

		switch frame.Verb {
		case protocol.VerbQuit:
			return "", ErrClientQuit

		case protocol.VerbRegister:
			g.handleRegister(s, frame, &attempts)
			if attempts >= g.maxAttempts {
				return "", ErrTooManyAttempts
			}

		case protocol.VerbLogin:
			username, done, err := g.handleLogin(s, frame, &attempts)
			if err != nil {
				return "", err
			}
			if done {
				return username, nil
			}

		default:
			// Chat frames before authentication are discarded, not queued.
			g.metrics.ProtocolErrors.Add(1)
			s.Send(protocol.Err(protocol.CodeNotAuthenticated, "log in before chatting"))
			if g.spend(s, &attempts) {
				return "", ErrTooManyAttempts
			}
		}
	}
}

// spend consumes one unit of the failure budget and reports whether it is
// exhausted.
func (g *AuthGate) spend(s *Session, attempts *int) bool {
	*attempts++
	g.metrics.FailedAuths.Add(1)
	if *attempts >= g.maxAttempts {
		s.Send(protocol.Err(protocol.CodeTooManyAttempts, "too many failed attempts"))
		return true
	}
	return false
}

func (g *AuthGate) handleRegister(s *Session, frame protocol.Frame, attempts *int) {
	username, secret := frame.Field(0), frame.Field(1)
	if err := model.ValidateUsername(username); err != nil {
		s.Send(protocol.Err(protocol.CodeBadUsername, err.Error()))
		g.spend(s, attempts)
		return
	}
	if secret == "" {
		s.Send(protocol.Err(protocol.CodeBadFrame, "password must not be empty"))
		g.spend(s, attempts)
		return
	}

	err := g.creds.CreateUser(username, secret)
	switch {
	case err == nil:
		slog.Info("account created", "user", username, "remote", s.RemoteAddr())
		s.Send(protocol.OK("account created, log in to continue"))
	case errors.Is(err, store.ErrUserExists):
		s.Send(protocol.Err(protocol.CodeUserExists, "username already taken"))
		g.spend(s, attempts)
	default:
		// Store outage: retryable, does not consume the budget.
		slog.Error("credential store unavailable", "op", "register", "err", err)
		s.Send(protocol.Err(protocol.CodeAuthUnavailable, "try again shortly"))
	}
}

// handleLogin returns (username, true, nil) on success, (_, false, nil) when
// the client may retry, and a non-nil error when the handshake must end.
func (g *AuthGate) handleLogin(s *Session, frame protocol.Frame, attempts *int) (string, bool, error) {
	username, secret := frame.Field(0), frame.Field(1)
	if err := model.ValidateUsername(username); err != nil {
		s.Send(protocol.Err(protocol.CodeBadUsername, err.Error()))
		if g.spend(s, attempts) {
			return "", false, ErrTooManyAttempts
		}
		return "", false, nil
	}

	ok, err := g.creds.VerifyUser(username, secret)
	if err != nil {
		slog.Error("credential store unavailable", "op", "login", "err", err)
		s.Send(protocol.Err(protocol.CodeAuthUnavailable, "try again shortly"))
		return "", false, nil
	}
	if !ok {
		s.Send(protocol.Err(protocol.CodeInvalidCredentials, "invalid username or password"))
		if g.spend(s, attempts) {
			return "", false, ErrTooManyAttempts
		}
		return "", false, nil
	}

	// Credentials are good; now claim the name. The registry's atomic
	// check-and-insert is what enforces "at most one session per username".
	if !s.setUsername(username) {
		return "", false, ErrSessionClosed
	}
	if err := g.registry.Register(username, s); err != nil {
		s.clearUsername()
		if errors.Is(err, ErrDuplicateUsername) {
			s.Send(protocol.Err(protocol.CodeAlreadyLoggedIn, "this account is already connected"))
			if g.spend(s, attempts) {
				return "", false, ErrTooManyAttempts
			}
			return "", false, nil
		}
		return "", false, err
	}
	if !s.markAuthenticated() {
		// Closed while registering; the registry refuses closed sessions, so
		// the only way here is a Close between Register and this point, and
		// that Close already removed the entry.
		return "", false, ErrSessionClosed
	}

	g.metrics.SuccessfulAuths.Add(1)
	s.Send(protocol.OK("welcome, " + username))
	return username, true, nil
}
