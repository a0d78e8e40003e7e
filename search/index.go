// Package search maintains a full-text index over message text. It
// hangs off the fan-out path as an event sink: creations are indexed,
// deletions remove the document. The index is derived data and can be
// rebuilt from the store, so indexing failures are logged by the
// fan-out and never fail a write.
package search

import (
	"context"
	"log/slog"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/domain/event"
)

const (
	fieldText         = "text"
	fieldConversation = "conversation"
	fieldCreatedAt    = "created_at"
)

type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
	limit  int
}

// NewMessageIndex wraps an open bluge writer. Limit bounds how many
// hits a single search returns.
func NewMessageIndex(writer *bluge.Writer, log *slog.Logger, limit int) *MessageIndex {
	return &MessageIndex{writer: writer, log: log, limit: limit}
}

// Consume implements contract.EventSink.
func (x *MessageIndex) Consume(_ context.Context, e event.DomainEvent) error {
	switch evt := e.(type) {
	case event.MessageCreated:
		return x.index(evt.Message)
	case event.MessageDeleted:
		return x.writer.Delete(bluge.Identifier(evt.MessageID.String()))
	default:
		return nil
	}
}

func (x *MessageIndex) index(msg domain.Message) error {
	doc := bluge.NewDocument(msg.ID.String()).
		AddField(bluge.NewTextField(fieldText, msg.Text)).
		AddField(bluge.NewKeywordField(fieldConversation, msg.Conversation().String())).
		AddField(bluge.NewDateTimeField(fieldCreatedAt, msg.CreatedAt))

	return x.writer.Update(doc.ID(), doc)
}

// Search returns the IDs of messages in the conversation matching the
// query, best score first. The caller resolves IDs against the store,
// the index never serves message content.
func (x *MessageIndex) Search(ctx context.Context, key domain.ConversationKey, query string) ([]uuid.UUID, error) {
	reader, err := x.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			x.log.Warn("Failed to close index reader", "error", err)
		}
	}()

	matchText := bluge.NewMatchQuery(query).SetField(fieldText)
	inConversation := bluge.NewTermQuery(key.String()).SetField(fieldConversation)
	request := bluge.NewTopNSearch(x.limit,
		bluge.NewBooleanQuery().AddMust(matchText, inConversation))

	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			return ids, nil
		}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field != "_id" {
				return true
			}
			id, parseErr := uuid.Parse(string(value))
			if parseErr != nil {
				x.log.Warn("Skipping hit with malformed id", "id", string(value))
				return false
			}
			ids = append(ids, id)
			return false
		})
		if err != nil {
			return nil, err
		}
	}
}
