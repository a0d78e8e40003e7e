package search

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

func openTestIndex(t *testing.T) *MessageIndex {
	t.Helper()
	req := require.New(t)

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	req.NoError(err)
	t.Cleanup(func() { _ = writer.Close() })

	return NewMessageIndex(writer, logs.GetLoggerFromLevel(slog.LevelDebug), 20)
}

func storedMessage(senderID, receiverID, text string) domain.Message {
	return domain.Message{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestMessageIndex_Search_Finds_Indexed_Message(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	index := openTestIndex(t)

	alice := uuid.NewString()
	bob := uuid.NewString()
	msg := storedMessage(alice, bob, "We decided to migrate to PostgreSQL")

	// Given an indexed creation
	req.NoError(index.Consume(ctx, event.MessageCreated{Message: msg}))

	// When searching the conversation
	ids, err := index.Search(ctx, msg.Conversation(), "postgresql")

	// Then the message is found by its id
	req.NoError(err)
	req.Len(ids, 1)
	req.Equal(msg.ID, ids[0])
}

func TestMessageIndex_Search_Is_Scoped_To_The_Conversation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	index := openTestIndex(t)

	alice := uuid.NewString()
	bob := uuid.NewString()
	carol := uuid.NewString()

	mine := storedMessage(alice, bob, "deployment schedule for friday")
	other := storedMessage(alice, carol, "deployment schedule for monday")

	req.NoError(index.Consume(ctx, event.MessageCreated{Message: mine}))
	req.NoError(index.Consume(ctx, event.MessageCreated{Message: other}))

	// When searching one conversation
	ids, err := index.Search(ctx, mine.Conversation(), "deployment")

	// Then the other conversation's hit is excluded
	req.NoError(err)
	req.Len(ids, 1)
	req.Equal(mine.ID, ids[0])
}

func TestMessageIndex_Deletion_Removes_The_Document(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	index := openTestIndex(t)

	alice := uuid.NewString()
	bob := uuid.NewString()
	msg := storedMessage(alice, bob, "ephemeral remark")

	req.NoError(index.Consume(ctx, event.MessageCreated{Message: msg}))

	// When the message is deleted
	req.NoError(index.Consume(ctx, event.MessageDeleted{
		MessageID: msg.ID,
		Key:       msg.Conversation(),
		At:        time.Now(),
	}))

	// Then it no longer matches
	ids, err := index.Search(ctx, msg.Conversation(), "ephemeral")
	req.NoError(err)
	req.Empty(ids)
}

func TestMessageIndex_No_Match_Returns_Empty(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	index := openTestIndex(t)

	key := domain.NewConversationKey(uuid.NewString(), uuid.NewString())

	ids, err := index.Search(ctx, key, "nothing indexed at all")
	req.NoError(err)
	req.Empty(ids)
}
