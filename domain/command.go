package domain

import (
	"time"

	"github.com/google/uuid"
)

// PostMessageCommand carries a message creation intent from a transport
// handler into the service layer. SenderID comes from the authenticated
// caller, never from the request body.
type PostMessageCommand struct {
	SenderID   string
	ReceiverID string
	Text       string
	// Image is the raw upload (a data URL or base64 payload), stored
	// through the blob store before the message is persisted.
	Image string
}

// GetMessagesCommand requests conversation history between the caller
// and another user. A nil Since means full history; otherwise only
// messages strictly newer than the watermark are returned.
type GetMessagesCommand struct {
	UserID      string
	OtherUserID string
	Since       *time.Time
}

func (c GetMessagesCommand) Conversation() ConversationKey {
	return NewConversationKey(c.UserID, c.OtherUserID)
}

// DeleteMessageCommand requests removal of a single message. Only the
// original sender may delete.
type DeleteMessageCommand struct {
	UserID    string
	MessageID uuid.UUID
}
