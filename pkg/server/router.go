package server

import (
	"errors"
	"fmt"
	"log/slog"

	"chatroom/pkg/model"
	"chatroom/pkg/protocol"
	"chatroom/pkg/store"
)

// ErrRecipientNotFound reports a direct message to a username with no active
// session. It has already been reported to the sender when Route returns it.
var ErrRecipientNotFound = errors.New("server: recipient not found")

// Router resolves recipients for one message and hands it to each recipient's
// outbound queue. Delivery to each recipient is independent: a full queue or a
// concurrently closing session drops that one copy and never blocks or fails
// the others. The router itself performs no network I/O.
//
// Per-sender ordering holds because each session routes from its own read
// loop, one message at a time, and enqueueing is synchronous.
type Router struct {
	registry      *Registry
	history       store.MessageStore
	metrics       *Metrics
	includeSender bool
}

// NewRouter creates a router over the given registry. history may be nil to
// disable persistence.
func NewRouter(registry *Registry, history store.MessageStore, metrics *Metrics, includeSender bool) *Router {
	return &Router{
		registry:      registry,
		history:       history,
		metrics:       metrics,
		includeSender: includeSender,
	}
}

// Route validates and delivers one message from sender. sender is nil for
// server-generated notices. The message kinds form a closed set; an unknown
// kind is a programming error.
func (r *Router) Route(sender *Session, msg model.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("server: route: %w", err)
	}

	switch msg.Kind {
	case model.KindBroadcast:
		r.persist(msg)
		r.metrics.MessagesBroadcast.Add(1)
		r.fanOut(sender, protocol.ChatMsg(msg.Sender, msg.Body), r.includeSender)
		return nil

	case model.KindSystem:
		r.persist(msg)
		r.metrics.SystemNotices.Add(1)
		// Notices go to everyone, including the session that caused them.
		r.fanOut(sender, protocol.Sys(msg.Body), true)
		return nil

	case model.KindDirect:
		recipient, ok := r.registry.Lookup(msg.Recipient)
		if !ok {
			if sender != nil {
				sender.Send(protocol.Err(protocol.CodeRecipientNotFound, "no such user: "+msg.Recipient))
			}
			return ErrRecipientNotFound
		}
		r.metrics.MessagesDirect.Add(1)
		recipient.Send(protocol.DirectMsg(msg.Sender, msg.Body))
		return nil

	default:
		return fmt.Errorf("server: route: unhandled message kind %v", msg.Kind)
	}
}

// fanOut enqueues an encoded frame to every session in a registry snapshot.
// Drops are logged by Send; they are per-recipient faults, never propagated.
func (r *Router) fanOut(sender *Session, frame string, includeSender bool) {
	for _, s := range r.registry.Snapshot() {
		if !includeSender && sender != nil && s.ID() == sender.ID() {
			continue
		}
		s.Send(frame)
	}
}

func (r *Router) persist(msg model.Message) {
	if r.history == nil {
		return
	}
	if err := r.history.SaveMessage(msg.Sender, msg.Body, msg.Timestamp); err != nil {
		// History is best-effort; a storage fault must not break delivery.
		slog.Error("failed to persist message", "sender", msg.Sender, "err", err)
	}
}
