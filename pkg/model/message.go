package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MessageMaxBodyLength = 2000

var ErrMessageBodyTooLong = fmt.Errorf("message body exceeds %d characters", MessageMaxBodyLength)
var ErrMessageBodyEmpty = errors.New("message body cannot be empty")
var ErrMessageNoRecipient = errors.New("direct message requires a recipient")

// Kind discriminates how a message is routed. It is a closed set: the router
// handles every kind exhaustively.
type Kind int

const (
	KindBroadcast Kind = iota // deliver to every registered session
	KindDirect                // deliver to a single named recipient
	KindSystem                // server-generated notice, broadcast to everyone
)

func (k Kind) String() string {
	switch k {
	case KindBroadcast:
		return "broadcast"
	case KindDirect:
		return "direct"
	case KindSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Message is an immutable chat message value. Recipient is only meaningful for
// KindDirect. Messages are never mutated after creation; every recipient sees
// the same value.
type Message struct {
	Sender    string
	Kind      Kind
	Recipient string
	Body      string
	Timestamp time.Time
}

// NewBroadcast builds a broadcast message stamped with the current time.
func NewBroadcast(sender, body string) Message {
	return Message{Sender: sender, Kind: KindBroadcast, Body: body, Timestamp: time.Now().UTC()}
}

// NewDirect builds a direct message to a single recipient.
func NewDirect(sender, recipient, body string) Message {
	return Message{Sender: sender, Kind: KindDirect, Recipient: recipient, Body: body, Timestamp: time.Now().UTC()}
}

// NewSystem builds a server notice attributed to the reserved SYSTEM sender.
func NewSystem(body string) Message {
	return Message{Sender: SystemSender, Kind: KindSystem, Body: body, Timestamp: time.Now().UTC()}
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.Body) == "" {
		return ErrMessageBodyEmpty
	}
	if utf8.RuneCountInString(m.Body) > MessageMaxBodyLength {
		return ErrMessageBodyTooLong
	}
	if m.Kind == KindDirect && m.Recipient == "" {
		return ErrMessageNoRecipient
	}
	return nil
}

// StoredMessage is a persisted history row.
type StoredMessage struct {
	ID     int64     `json:"id"`
	Sender string    `json:"sender"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}
