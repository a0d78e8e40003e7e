// Package event defines the domain events flowing between the write
// path, the fan-out worker, and the delivery channels.
package event

import (
	"time"

	"github.com/google/uuid"

	"chat-relay/domain"
)

// DomainEvent is anything the fan-out pipeline can route. Name is the
// wire-level event type pushed to clients.
type DomainEvent interface {
	Name() string
	Conversation() domain.ConversationKey
}

// MessageCreated is emitted after a message has been persisted. It is
// pushed to every live channel of both participants as "message:new".
type MessageCreated struct {
	Message domain.Message
	// Origin distinguishes locally produced events from events relayed
	// by the pub/sub bridge, so a bridged event is not republished.
	Origin string
}

func (e MessageCreated) Name() string { return "message:new" }

func (e MessageCreated) Conversation() domain.ConversationKey {
	return e.Message.Conversation()
}

// MessageDeleted is emitted after a message has been removed from the
// store. It is pushed to both participants' live channels as
// "message:deleted" and feeds the internal sinks (search index).
type MessageDeleted struct {
	MessageID uuid.UUID
	Key       domain.ConversationKey
	At        time.Time
}

func (e MessageDeleted) Name() string { return "message:deleted" }

func (e MessageDeleted) Conversation() domain.ConversationKey { return e.Key }

// MessageHistory carries a catch-up batch replayed on a channel that
// reconnected with a since watermark, pushed as "messages".
type MessageHistory struct {
	Messages []domain.Message
	Key      domain.ConversationKey
}

func (e MessageHistory) Name() string { return "messages" }

func (e MessageHistory) Conversation() domain.ConversationKey { return e.Key }
