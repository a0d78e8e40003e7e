package services_test

import (
	"context"
	"encoding/base64"
	"log/slog"
	"testing"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/mocks"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/search"
	"chat-relay/services"
	"chat-relay/storage"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

type chatFixture struct {
	service    *services.ChatService
	repo       *mocks.MockIMessageRepository
	events     chan event.DomainEvent
	monitoring *observability.MonitoringManager
}

func newChatFixture(t *testing.T, repo *mocks.MockIMessageRepository) chatFixture {
	t.Helper()
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	blobs, err := storage.NewBlobStore(t.TempDir(), "/media", 1<<20, log)
	req.NoError(err)

	moderator, err := moderation.NewModerator([]string{"badger"}, '*', log)
	req.NoError(err)

	writer, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	req.NoError(err)
	t.Cleanup(func() { _ = writer.Close() })
	index := search.NewMessageIndex(writer, log, 20)

	events := make(chan event.DomainEvent, 8)
	monitoring := observability.NewMonitoringManager(log)

	service := services.NewChatService(repo, blobs, &moderator, index, events, log,
		monitoring, "instance-1", 10*time.Millisecond, 50*time.Millisecond)

	return chatFixture{service: service, repo: repo, events: events, monitoring: monitoring}
}

func TestChatService_CreateMessage_Persists_Then_Emits(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	senderID := uuid.NewString()
	receiverID := uuid.NewString()

	var stored repositories.DiskMessage
	repo.EXPECT().StoreMessage(gomock.Any()).
		Do(func(m repositories.DiskMessage) { stored = m }).
		Return(nil).Times(1)

	// When a text message is created
	msg, err := f.service.CreateMessage(context.Background(), domain.PostMessageCommand{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       "hello there",
	})

	// Then the persisted record matches what the caller got back
	req.NoError(err)
	req.Equal(msg.ID, stored.ID)
	req.Equal("hello there", stored.Text)
	req.False(msg.CreatedAt.IsZero())

	// And the fan-out received the creation
	select {
	case evt := <-f.events:
		created, ok := evt.(event.MessageCreated)
		req.True(ok)
		req.Equal(msg.ID, created.Message.ID)
		req.Equal("instance-1", created.Origin)
	default:
		req.Fail("No event emitted")
	}
	req.Equal(uint64(1), f.monitoring.Snapshot().MessagesCreated)
}

func TestChatService_CreateMessage_Censors_Before_Persisting(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	var stored repositories.DiskMessage
	repo.EXPECT().StoreMessage(gomock.Any()).
		Do(func(m repositories.DiskMessage) { stored = m }).
		Return(nil).Times(1)

	msg, err := f.service.CreateMessage(context.Background(), domain.PostMessageCommand{
		SenderID:   uuid.NewString(),
		ReceiverID: uuid.NewString(),
		Text:       "the badger strikes",
	})

	// Then the stored and returned text are both censored
	req.NoError(err)
	req.Equal("the ****** strikes", stored.Text)
	req.Equal("the ****** strikes", msg.Text)
}

func TestChatService_CreateMessage_Image_Only(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	var stored repositories.DiskMessage
	repo.EXPECT().StoreMessage(gomock.Any()).
		Do(func(m repositories.DiskMessage) { stored = m }).
		Return(nil).Times(1)

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)

	// When a message with no text but an image is created
	msg, err := f.service.CreateMessage(context.Background(), domain.PostMessageCommand{
		SenderID:   uuid.NewString(),
		ReceiverID: uuid.NewString(),
		Image:      dataURL,
	})

	// Then the stored image is the public URL, not the raw payload
	req.NoError(err)
	req.NotEmpty(msg.Image)
	req.NotEqual(dataURL, msg.Image)
	req.Equal(msg.Image, stored.Image)
}

func TestChatService_CreateMessage_Rejects_Empty_Content(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	// No StoreMessage expectation: the write never reaches the store
	_, err := f.service.CreateMessage(context.Background(), domain.PostMessageCommand{
		SenderID:   uuid.NewString(),
		ReceiverID: uuid.NewString(),
	})
	req.ErrorIs(err, errors.ErrEmptyMessage)
}

func TestChatService_CreateMessage_Full_Queue_Drops_Event_Not_The_Write(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	repo.EXPECT().StoreMessage(gomock.Any()).Return(nil).Times(cap(f.events) + 1)

	// Given the event queue is filled to capacity
	for i := 0; i < cap(f.events); i++ {
		_, err := f.service.CreateMessage(context.Background(), domain.PostMessageCommand{
			SenderID:   uuid.NewString(),
			ReceiverID: uuid.NewString(),
			Text:       "filler",
		})
		req.NoError(err)
	}

	// When one more message is created with nobody draining the queue
	_, err := f.service.CreateMessage(context.Background(), domain.PostMessageCommand{
		SenderID:   uuid.NewString(),
		ReceiverID: uuid.NewString(),
		Text:       "overflow",
	})

	// Then the write still succeeded and only the notification dropped
	req.NoError(err)
	req.Equal(uint64(1), f.monitoring.Snapshot().DroppedEvents)
}

func TestChatService_DeleteMessage_Only_The_Sender_May_Delete(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	messageID := uuid.New()
	senderID := uuid.NewString()
	receiverID := uuid.NewString()

	repo.EXPECT().GetMessage(messageID).Return(repositories.DiskMessage{
		ID:         messageID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       "mine",
		At:         time.Now(),
	}, nil).Times(1)

	// When the receiver tries to delete the sender's message
	err := f.service.DeleteMessage(context.Background(), domain.DeleteMessageCommand{
		UserID:    receiverID,
		MessageID: messageID,
	})

	// Then the attempt is refused and nothing was removed
	req.ErrorIs(err, errors.ErrNotSender)
}

func TestChatService_DeleteMessage_Removes_And_Emits(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	messageID := uuid.New()
	senderID := uuid.NewString()
	receiverID := uuid.NewString()

	repo.EXPECT().GetMessage(messageID).Return(repositories.DiskMessage{
		ID:         messageID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       "gone soon",
		At:         time.Now(),
	}, nil).Times(1)
	repo.EXPECT().DeleteMessage(messageID).Return(nil).Times(1)

	err := f.service.DeleteMessage(context.Background(), domain.DeleteMessageCommand{
		UserID:    senderID,
		MessageID: messageID,
	})
	req.NoError(err)
	req.Equal(uint64(1), f.monitoring.Snapshot().MessagesDeleted)

	select {
	case evt := <-f.events:
		deleted, ok := evt.(event.MessageDeleted)
		req.True(ok)
		req.Equal(messageID, deleted.MessageID)
		req.Equal(domain.NewConversationKey(senderID, receiverID), deleted.Key)
	default:
		req.Fail("No deletion event emitted")
	}
}

func TestChatService_DeleteMessage_Unknown_Id(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	messageID := uuid.New()
	repo.EXPECT().GetMessage(messageID).
		Return(repositories.DiskMessage{}, errors.ErrMessageNotFound).Times(1)

	err := f.service.DeleteMessage(context.Background(), domain.DeleteMessageCommand{
		UserID:    uuid.NewString(),
		MessageID: messageID,
	})
	req.ErrorIs(err, errors.ErrMessageNotFound)
}

func TestChatService_ListMessages_Routes_On_The_Watermark(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	userID := uuid.NewString()
	otherID := uuid.NewString()
	key := domain.NewConversationKey(userID, otherID)
	since := time.Now().Add(-time.Minute)

	repo.EXPECT().GetConversation(key).Return(nil, nil).Times(1)
	repo.EXPECT().GetConversationSince(key, since).Return(nil, nil).Times(1)

	// Without a watermark the full history path runs
	_, err := f.service.ListMessages(context.Background(), domain.GetMessagesCommand{
		UserID: userID, OtherUserID: otherID,
	})
	req.NoError(err)

	// With one, only the incremental path runs
	_, err = f.service.ListMessages(context.Background(), domain.GetMessagesCommand{
		UserID: userID, OtherUserID: otherID, Since: &since,
	})
	req.NoError(err)
}

func TestChatService_Poll_Returns_Immediately_When_Fresh(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	userID := uuid.NewString()
	otherID := uuid.NewString()
	since := time.Now().Add(-time.Minute)

	fresh := repositories.DiskMessage{
		ID: uuid.New(), SenderID: otherID, ReceiverID: userID,
		Text: "new", At: time.Now(),
	}
	repo.EXPECT().GetConversationSince(gomock.Any(), since).
		Return([]repositories.DiskMessage{fresh}, nil).Times(1)

	result, err := f.service.Poll(context.Background(), domain.GetMessagesCommand{
		UserID: userID, OtherUserID: otherID, Since: &since,
	})
	req.NoError(err)
	req.True(result.HasNewMessages)
	req.Len(result.Messages, 1)
	req.Equal(fresh.ID, result.Messages[0].ID)
}

func TestChatService_Poll_Picks_Up_A_Late_Arrival(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	userID := uuid.NewString()
	otherID := uuid.NewString()
	since := time.Now().Add(-time.Minute)

	late := repositories.DiskMessage{
		ID: uuid.New(), SenderID: otherID, ReceiverID: userID,
		Text: "finally", At: time.Now(),
	}
	gomock.InOrder(
		repo.EXPECT().GetConversationSince(gomock.Any(), since).Return(nil, nil).Times(1),
		repo.EXPECT().GetConversationSince(gomock.Any(), since).
			Return([]repositories.DiskMessage{late}, nil).Times(1),
	)

	result, err := f.service.Poll(context.Background(), domain.GetMessagesCommand{
		UserID: userID, OtherUserID: otherID, Since: &since,
	})
	req.NoError(err)
	req.True(result.HasNewMessages)
	req.Len(result.Messages, 1)
}

func TestChatService_Poll_Times_Out_Empty(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	userID := uuid.NewString()
	otherID := uuid.NewString()
	since := time.Now()

	repo.EXPECT().GetConversationSince(gomock.Any(), since).Return(nil, nil).AnyTimes()

	start := time.Now()
	result, err := f.service.Poll(context.Background(), domain.GetMessagesCommand{
		UserID: userID, OtherUserID: otherID, Since: &since,
	})

	// Then the expiry is a success with an empty payload and a usable
	// watermark
	req.NoError(err)
	req.False(result.HasNewMessages)
	req.Empty(result.Messages)
	req.NotNil(result.Messages)
	req.False(result.Timestamp.IsZero())
	req.GreaterOrEqual(time.Since(start), 50*time.Millisecond)
}

func TestChatService_Poll_Client_Disconnect_Cancels_The_Wait(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	since := time.Now()
	repo.EXPECT().GetConversationSince(gomock.Any(), since).Return(nil, nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.Poll(ctx, domain.GetMessagesCommand{
		UserID: uuid.NewString(), OtherUserID: uuid.NewString(), Since: &since,
	})
	req.ErrorIs(err, context.Canceled)
}

func TestChatService_Poll_Without_Watermark_Returns_Full_History(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	repo := mocks.NewMockIMessageRepository(ctrl)
	f := newChatFixture(t, repo)

	userID := uuid.NewString()
	otherID := uuid.NewString()

	history := []repositories.DiskMessage{
		{ID: uuid.New(), SenderID: userID, ReceiverID: otherID, Text: "old", At: time.Now().Add(-time.Hour)},
	}
	repo.EXPECT().GetConversation(gomock.Any()).Return(history, nil).Times(1)

	result, err := f.service.Poll(context.Background(), domain.GetMessagesCommand{
		UserID: userID, OtherUserID: otherID,
	})
	req.NoError(err)
	req.True(result.HasNewMessages)
	req.Len(result.Messages, 1)
}
