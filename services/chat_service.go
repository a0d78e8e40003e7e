//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/search"
	"chat-relay/storage"
)

type IChatService interface {
	CreateMessage(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error)
	ListMessages(ctx context.Context, cmd domain.GetMessagesCommand) ([]domain.Message, error)
	Poll(ctx context.Context, cmd domain.GetMessagesCommand) (PollResult, error)
	DeleteMessage(ctx context.Context, cmd domain.DeleteMessageCommand) error
	MissedMessages(userID string, since time.Time) ([]domain.Message, error)
	SearchMessages(ctx context.Context, cmd domain.GetMessagesCommand, query string) ([]domain.Message, error)
}

// PollResult is the long-poll payload: whatever arrived while waiting
// (possibly nothing) plus the server time the client should use as its
// next watermark.
type PollResult struct {
	Messages       []domain.Message `json:"messages"`
	Timestamp      time.Time        `json:"timestamp"`
	HasNewMessages bool             `json:"hasNewMessages"`
}

type ChatService struct {
	messages     repositories.IMessageRepository
	blobs        *storage.BlobStore
	moderator    *moderation.Moderator
	index        *search.MessageIndex
	events       chan<- event.DomainEvent
	log          *slog.Logger
	monitoring   *observability.MonitoringManager
	origin       string
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewChatService(messages repositories.IMessageRepository, blobs *storage.BlobStore,
	moderator *moderation.Moderator, index *search.MessageIndex,
	events chan<- event.DomainEvent, log *slog.Logger,
	monitoring *observability.MonitoringManager, origin string,
	pollInterval, pollTimeout time.Duration) *ChatService {
	return &ChatService{
		messages:     messages,
		blobs:        blobs,
		moderator:    moderator,
		index:        index,
		events:       events,
		log:          log,
		monitoring:   monitoring,
		origin:       origin,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

// CreateMessage is the whole write path: validate, censor, store the
// image blob, persist, then hand the event to the fan-out. The emit is
// non-blocking: once the message is durable the write has succeeded,
// and a full event queue drops the live notification rather than stall
// the HTTP response. Clients converge through sync either way.
func (s *ChatService) CreateMessage(ctx context.Context, cmd domain.PostMessageCommand) (domain.Message, error) {
	message := domain.Message{
		ID:         uuid.New(),
		SenderID:   cmd.SenderID,
		ReceiverID: cmd.ReceiverID,
		Text:       cmd.Text,
		// The raw upload stands in for the blob URL during validation:
		// the content invariant is about the command, not the storage.
		Image:     cmd.Image,
		CreatedAt: time.Now().UTC(),
	}
	if err := message.Validate(); err != nil {
		return domain.Message{}, err
	}
	message.Image = ""

	message.Text = s.moderator.Censor(message.Text)
	if lang := s.moderator.DetectLanguage(message.Text); lang != "" {
		s.log.Debug("Detected message language", "message_id", message.ID, "lang", lang)
	}

	if cmd.Image != "" {
		url, err := s.blobs.SaveDataURL(cmd.Image, message.ID)
		if err != nil {
			return domain.Message{}, err
		}
		message.Image = url
	}

	if err := s.messages.StoreMessage(toDiskMessage(message)); err != nil {
		// The blob must not outlive a failed write.
		if message.Image != "" {
			if cleanupErr := s.blobs.Delete(message.Image); cleanupErr != nil {
				s.log.Warn("Failed to clean up orphaned blob",
					"message_id", message.ID, "error", cleanupErr)
			}
		}
		return domain.Message{}, err
	}
	s.monitoring.IncrMessagesCreated()

	s.emit(event.MessageCreated{Message: message, Origin: s.origin})
	return message, nil
}

// ListMessages returns the conversation ascending by creation time,
// restricted to strictly-newer messages when the command carries a
// watermark.
func (s *ChatService) ListMessages(_ context.Context, cmd domain.GetMessagesCommand) ([]domain.Message, error) {
	var (
		stored []repositories.DiskMessage
		err    error
	)
	if cmd.Since != nil {
		stored, err = s.messages.GetConversationSince(cmd.Conversation(), *cmd.Since)
	} else {
		stored, err = s.messages.GetConversation(cmd.Conversation())
	}
	if err != nil {
		return nil, err
	}
	return lo.Map(stored, func(m repositories.DiskMessage, _ int) domain.Message {
		return toDomainMessage(m)
	}), nil
}

// Poll is the long-poll variant of ListMessages: when nothing is newer
// than the watermark it holds the request, re-checking the store at a
// fixed interval, until something arrives or the bounded timeout
// expires. An empty expiry is still a success. Client disconnects
// cancel the wait through ctx.
func (s *ChatService) Poll(ctx context.Context, cmd domain.GetMessagesCommand) (PollResult, error) {
	s.monitoring.PollStarted()
	defer s.monitoring.PollFinished()

	// No watermark means the caller has no state yet: return the full
	// history immediately instead of waiting.
	if cmd.Since == nil {
		history, err := s.ListMessages(ctx, cmd)
		if err != nil {
			return PollResult{}, err
		}
		return PollResult{
			Messages:       history,
			Timestamp:      time.Now().UTC(),
			HasNewMessages: len(history) > 0,
		}, nil
	}

	deadline := time.NewTimer(s.pollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		fresh, err := s.ListMessages(ctx, cmd)
		if err != nil {
			return PollResult{}, err
		}
		if len(fresh) > 0 {
			return PollResult{
				Messages:       fresh,
				Timestamp:      time.Now().UTC(),
				HasNewMessages: true,
			}, nil
		}

		select {
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		case <-deadline.C:
			return PollResult{
				Messages:       []domain.Message{},
				Timestamp:      time.Now().UTC(),
				HasNewMessages: false,
			}, nil
		case <-ticker.C:
		}
	}
}

// DeleteMessage removes a message its author no longer wants, together
// with its image blob. Only the sender may delete; the receiver owns
// their copy of the conversation view, not the record.
func (s *ChatService) DeleteMessage(_ context.Context, cmd domain.DeleteMessageCommand) error {
	stored, err := s.messages.GetMessage(cmd.MessageID)
	if err != nil {
		return err
	}
	if stored.SenderID != cmd.UserID {
		return errors.ErrNotSender
	}

	if err := s.messages.DeleteMessage(cmd.MessageID); err != nil {
		return err
	}
	s.monitoring.IncrMessagesDeleted()

	if stored.Image != "" {
		if err := s.blobs.Delete(stored.Image); err != nil {
			// The record is gone, the orphaned blob is only disk space.
			s.log.Warn("Failed to delete message blob",
				"message_id", cmd.MessageID, "error", err)
		}
	}

	s.emit(event.MessageDeleted{
		MessageID: cmd.MessageID,
		Key:       domain.NewConversationKey(stored.SenderID, stored.ReceiverID),
		At:        time.Now().UTC(),
	})
	return nil
}

// MissedMessages returns everything addressed to or sent by the user
// strictly after the watermark, across all conversations. Used by the
// WebSocket handshake to replay what a reconnecting client missed.
func (s *ChatService) MissedMessages(userID string, since time.Time) ([]domain.Message, error) {
	stored, err := s.messages.GetUserMessagesSince(userID, since)
	if err != nil {
		return nil, err
	}
	return lo.Map(stored, func(m repositories.DiskMessage, _ int) domain.Message {
		return toDomainMessage(m)
	}), nil
}

// SearchMessages runs a full-text query over one conversation and
// resolves the hits against the store. A hit deleted since it was
// indexed is silently skipped.
func (s *ChatService) SearchMessages(ctx context.Context, cmd domain.GetMessagesCommand, query string) ([]domain.Message, error) {
	ids, err := s.index.Search(ctx, cmd.Conversation(), query)
	if err != nil {
		return nil, err
	}

	results := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		stored, err := s.messages.GetMessage(id)
		if err != nil {
			if err == errors.ErrMessageNotFound {
				continue
			}
			return nil, err
		}
		results = append(results, toDomainMessage(stored))
	}
	return results, nil
}

func (s *ChatService) emit(e event.DomainEvent) {
	select {
	case s.events <- e:
	default:
		s.monitoring.IncrDroppedEvents()
		s.log.Warn("Event queue full, dropping live notification", "event", e.Name())
	}
}

func toDiskMessage(m domain.Message) repositories.DiskMessage {
	return repositories.DiskMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Image:      m.Image,
		At:         m.CreatedAt,
	}
}

func toDomainMessage(m repositories.DiskMessage) domain.Message {
	return domain.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Image:      m.Image,
		CreatedAt:  m.At,
	}
}
