// Package domain contains core concepts of the messaging system.
// This file defines Message entities and related rules.
// Messages are immutable once created and validated by the domain.
package domain

import (
	"time"

	"github.com/google/uuid"

	"chat-relay/errors"
)

// Message represents an immutable direct message between two users.
// Either Text or Image (a blob URL) must be present.
type Message struct {
	ID         uuid.UUID `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate enforces the message content invariant: a message carries
// text, an image, or both, but never neither.
func (m Message) Validate() error {
	if m.SenderID == "" || m.ReceiverID == "" {
		return errors.ErrMissingParticipant
	}
	if m.Text == "" && m.Image == "" {
		return errors.ErrEmptyMessage
	}
	return nil
}

// Conversation returns the canonical key of the conversation this
// message belongs to.
func (m Message) Conversation() ConversationKey {
	return NewConversationKey(m.SenderID, m.ReceiverID)
}
