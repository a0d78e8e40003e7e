//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/errors"
)

type IMessageRepository interface {
	StoreMessage(message DiskMessage) error
	GetConversation(key domain.ConversationKey) ([]DiskMessage, error)
	GetConversationSince(key domain.ConversationKey, since time.Time) ([]DiskMessage, error)
	GetMessage(id uuid.UUID) (DiskMessage, error)
	DeleteMessage(id uuid.UUID) error
	GetUserMessagesSince(userID string, since time.Time) ([]DiskMessage, error)
}

// cborEnc writes time.Time as RFC3339 with nanoseconds. The default
// mode truncates to whole Unix seconds and decodes into time.Local,
// which would corrupt the strictly-greater watermark comparisons.
var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) MessageRepository {
	return MessageRepository{db: db, log: log}
}

// DiskMessage is the storage representation of a message, CBOR-encoded
// in BadgerDB.
type DiskMessage struct {
	ID         uuid.UUID
	SenderID   string
	ReceiverID string
	Text       string
	Image      string
	At         time.Time
}

func (m DiskMessage) conversation() domain.ConversationKey {
	return domain.NewConversationKey(m.SenderID, m.ReceiverID)
}

// primaryKey is formatted as "msg:{conversation}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order equals time order).
//  2. Prevent data loss by using the UUID as a collision disconnector
//     if two messages arrive at the same nanosecond.
func (m DiskMessage) primaryKey() []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", m.conversation(), m.At.UnixNano(), m.ID))
}

// userIndexKey mirrors the primary key under "idx:user:{id}:" so that a
// reconnecting channel can replay everything a user missed without
// knowing which conversations were active.
func userIndexKey(userID string, at time.Time, id uuid.UUID) []byte {
	return []byte(fmt.Sprintf("idx:user:%s:%019d:%s", userID, at.UnixNano(), id))
}

// idKey maps a message id to its primary key for by-id lookups.
func idKey(id uuid.UUID) []byte {
	return []byte("msgid:" + id.String())
}

// StoreMessage persists a message in BadgerDB together with its id and
// per-user index entries, all in a single transaction.
func (m MessageRepository) StoreMessage(message DiskMessage) error {
	value, err := cborEnc.Marshal(message)
	if err != nil {
		return err
	}

	primary := message.primaryKey()
	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(primary, value); err != nil {
			return err
		}
		if err := txn.Set(idKey(message.ID), primary); err != nil {
			return err
		}
		for _, uid := range participants(message) {
			if err := txn.Set(userIndexKey(uid, message.At, message.ID), primary); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetConversation retrieves the full history of a conversation in
// ascending creation order. Thanks to the padded timestamp in the key,
// messages are naturally sorted by time.
func (m MessageRepository) GetConversation(key domain.ConversationKey) ([]DiskMessage, error) {
	prefix := []byte(fmt.Sprintf("msg:%s:", key))
	return m.scan(prefix, prefix)
}

// GetConversationSince retrieves only the messages created strictly
// after the given watermark, ascending. The seek position lands one
// nanosecond past the watermark so equality is excluded.
func (m MessageRepository) GetConversationSince(key domain.ConversationKey, since time.Time) ([]DiskMessage, error) {
	prefix := []byte(fmt.Sprintf("msg:%s:", key))
	seek := []byte(fmt.Sprintf("msg:%s:%019d", key, since.UnixNano()+1))
	return m.scan(prefix, seek)
}

// GetUserMessagesSince replays every message involving a user created
// strictly after the watermark, across all of their conversations.
func (m MessageRepository) GetUserMessagesSince(userID string, since time.Time) ([]DiskMessage, error) {
	prefix := []byte(fmt.Sprintf("idx:user:%s:", userID))
	seek := []byte(fmt.Sprintf("idx:user:%s:%019d", userID, since.UnixNano()+1))

	var primaryKeys [][]byte
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			key, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			primaryKeys = append(primaryKeys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var messages []DiskMessage
	err = m.db.View(func(txn *badger.Txn) error {
		for _, key := range primaryKeys {
			item, err := txn.Get(key)
			if err == badger.ErrKeyNotFound {
				// Index entry outlived its message, skip it.
				m.log.Debug("Dangling user index entry", "key", string(key))
				continue
			}
			if err != nil {
				return err
			}
			var message DiskMessage
			if err := item.Value(func(val []byte) error {
				return cbor.Unmarshal(val, &message)
			}); err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	return messages, err
}

// GetMessage resolves a message by id through the "msgid:" index.
func (m MessageRepository) GetMessage(id uuid.UUID) (DiskMessage, error) {
	var message DiskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		primary, err := resolvePrimary(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(primary)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &message)
		})
	})
	if err == badger.ErrKeyNotFound {
		return DiskMessage{}, errors.ErrMessageNotFound
	}
	return message, err
}

// DeleteMessage removes a message and all of its index entries in one
// transaction. Deleting an absent id returns ErrMessageNotFound so the
// operation stays idempotent for callers that retry.
func (m MessageRepository) DeleteMessage(id uuid.UUID) error {
	err := m.db.Update(func(txn *badger.Txn) error {
		primary, err := resolvePrimary(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(primary)
		if err != nil {
			return err
		}
		var message DiskMessage
		if err := item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &message)
		}); err != nil {
			return err
		}

		if err := txn.Delete(primary); err != nil {
			return err
		}
		if err := txn.Delete(idKey(id)); err != nil {
			return err
		}
		for _, uid := range participants(message) {
			if err := txn.Delete(userIndexKey(uid, message.At, message.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err == badger.ErrKeyNotFound {
		return errors.ErrMessageNotFound
	}
	return err
}

// scan iterates a chronological prefix starting at seek, decoding every
// value in key order.
func (m MessageRepository) scan(prefix, seek []byte) ([]DiskMessage, error) {
	var messages []DiskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var message DiskMessage
			if err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &message)
			}); err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	return messages, err
}

func resolvePrimary(txn *badger.Txn, id uuid.UUID) ([]byte, error) {
	item, err := txn.Get(idKey(id))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func participants(message DiskMessage) []string {
	if message.SenderID == message.ReceiverID {
		return []string{message.SenderID}
	}
	return []string{message.SenderID, message.ReceiverID}
}
