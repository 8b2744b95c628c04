// Package protocol defines the line-oriented wire framing between chat clients
// and the server.
//
// One frame is one UTF-8 line terminated by '\n'. Fields are separated by '|'
// and the message body, where present, is always the final field — it may
// therefore contain '|' itself. Usernames are validated to never contain the
// separator.
//
// Client to server:
//
//	register|<username>|<password>
//	login|<username>|<password>
//	msg|<body>
//	dm|<recipient>|<body>
//	who
//	quit
//
// Server to client:
//
//	ok|<detail>
//	err|<code>|<detail>
//	msg|<sender>|<body>
//	dm|<sender>|<body>
//	sys|<body>
//	hist|<time>|<sender>|<body>
//	who|<name>,<name>,...
package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxLineBytes bounds one frame including the trailing newline.
const MaxLineBytes = 4096

// TimeLayout is the timestamp format used in hist frames.
const TimeLayout = "2006-01-02 15:04:05"

var (
	ErrEmptyFrame    = errors.New("protocol: empty frame")
	ErrUnknownVerb   = errors.New("protocol: unknown verb")
	ErrBadFieldCount = errors.New("protocol: wrong number of fields")
	ErrLineTooLong   = errors.New("protocol: line exceeds maximum length")
)

// Client-to-server verbs.
const (
	VerbRegister = "register"
	VerbLogin    = "login"
	VerbMsg      = "msg"
	VerbDM       = "dm"
	VerbWho      = "who"
	VerbQuit     = "quit"
)

// Server-to-client verbs.
const (
	VerbOK   = "ok"
	VerbErr  = "err"
	VerbSys  = "sys"
	VerbHist = "hist"
)

// Error codes carried in err frames.
const (
	CodeBadFrame           = "bad_frame"
	CodeNotAuthenticated   = "not_authenticated"
	CodeInvalidCredentials = "invalid_credentials"
	CodeAlreadyLoggedIn    = "already_logged_in"
	CodeAuthUnavailable    = "auth_unavailable"
	CodeTooManyAttempts    = "too_many_attempts"
	CodeUserExists         = "user_exists"
	CodeBadUsername        = "bad_username"
	CodeRecipientNotFound  = "recipient_not_found"
)

// clientArity maps each client verb to its field count after the verb. The
// final field is the free-form one, so parsing uses SplitN with arity+1.
var clientArity = map[string]int{
	VerbRegister: 2,
	VerbLogin:    2,
	VerbMsg:      1,
	VerbDM:       2,
	VerbWho:      0,
	VerbQuit:     0,
}

// Frame is one parsed client frame.
type Frame struct {
	Verb   string
	Fields []string
}

// Field returns the i-th field or "" when absent.
func (f Frame) Field(i int) string {
	if i < 0 || i >= len(f.Fields) {
		return ""
	}
	return f.Fields[i]
}

// ParseClient parses one client line (without the trailing newline) into a
// Frame, enforcing the verb's field count.
func ParseClient(line string) (Frame, error) {
	line = strings.TrimSuffix(line, "\r")
	if len(line) > MaxLineBytes {
		return Frame{}, ErrLineTooLong
	}
	if line == "" {
		return Frame{}, ErrEmptyFrame
	}

	verb, rest, hasRest := strings.Cut(line, "|")
	arity, ok := clientArity[verb]
	if !ok {
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}

	if arity == 0 {
		if hasRest {
			return Frame{}, fmt.Errorf("%w: %s takes no fields", ErrBadFieldCount, verb)
		}
		return Frame{Verb: verb}, nil
	}
	if !hasRest {
		return Frame{}, fmt.Errorf("%w: %s requires %d fields", ErrBadFieldCount, verb, arity)
	}

	fields := strings.SplitN(rest, "|", arity)
	if len(fields) != arity {
		return Frame{}, fmt.Errorf("%w: %s requires %d fields", ErrBadFieldCount, verb, arity)
	}
	return Frame{Verb: verb, Fields: fields}, nil
}

func encode(fields ...string) string {
	return strings.Join(fields, "|") + "\n"
}

// OK encodes an ok frame.
func OK(detail string) string {
	return encode(VerbOK, detail)
}

// Err encodes an err frame with a machine-readable code and a human detail.
func Err(code, detail string) string {
	return encode(VerbErr, code, detail)
}

// ChatMsg encodes a broadcast chat frame as seen by a recipient.
func ChatMsg(sender, body string) string {
	return encode(VerbMsg, sender, body)
}

// DirectMsg encodes a direct chat frame as seen by the recipient.
func DirectMsg(sender, body string) string {
	return encode(VerbDM, sender, body)
}

// Sys encodes a system notice frame.
func Sys(body string) string {
	return encode(VerbSys, body)
}

// Hist encodes one history replay frame.
func Hist(at time.Time, sender, body string) string {
	return encode(VerbHist, at.UTC().Format(TimeLayout), sender, body)
}

// WhoList encodes the online-user listing.
func WhoList(names []string) string {
	return encode(VerbWho, strings.Join(names, ","))
}
