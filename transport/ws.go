// Package transport exposes the application over HTTP and WebSocket
// with Fiber. REST handlers translate between wire payloads and
// service commands; the WebSocket side adapts a connection into a
// contract.Channel the registry and dispatcher can push to.
package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
)

const (
	channelQueueSize = 64
	// pingPeriod must stay under the read deadline on the peer side.
	pingPeriod = 45 * time.Second
)

// wsConn is the slice of a WebSocket connection the channel needs.
// Narrowed to an interface so channel behavior is testable without a
// real socket.
type wsConn interface {
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// wsEnvelope is the wire frame pushed to clients: the event name plus
// an event-specific payload.
type wsEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func toEnvelope(e event.DomainEvent) wsEnvelope {
	switch evt := e.(type) {
	case event.MessageCreated:
		return wsEnvelope{Type: evt.Name(), Payload: evt.Message}
	case event.MessageHistory:
		return wsEnvelope{Type: evt.Name(), Payload: evt.Messages}
	case event.MessageDeleted:
		return wsEnvelope{Type: evt.Name(), Payload: map[string]string{
			"messageId": evt.MessageID.String(),
		}}
	default:
		return wsEnvelope{Type: e.Name(), Payload: e}
	}
}

// wsChannel adapts one WebSocket connection into a contract.Channel.
// Send only enqueues; a single writer goroutine drains the queue in
// FIFO order, which is what keeps per-channel delivery ordered.
var _ contract.Channel = (*wsChannel)(nil)

type wsChannel struct {
	userID string
	conn   wsConn
	queue  chan event.DomainEvent
	closed chan struct{}
	once   sync.Once
	log    *slog.Logger
}

func newWSChannel(userID string, conn wsConn, log *slog.Logger) *wsChannel {
	return &wsChannel{
		userID: userID,
		conn:   conn,
		queue:  make(chan event.DomainEvent, channelQueueSize),
		closed: make(chan struct{}),
		log:    log,
	}
}

func (c *wsChannel) UserID() string { return c.userID }

// Send enqueues the event for the writer goroutine. A closed channel
// or a full queue fails fast: the dispatcher treats either as an
// unreachable channel and moves on.
func (c *wsChannel) Send(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-c.closed:
		return errors.ErrChannelClosed
	default:
	}

	select {
	case c.queue <- e:
		return nil
	case <-c.closed:
		return errors.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the channel down. Idempotent: only the first call closes
// the socket, later calls are no-ops.
func (c *wsChannel) Close() error {
	c.once.Do(func() {
		close(c.closed)
		if err := c.conn.Close(); err != nil {
			c.log.Debug("Closing socket", "user_id", c.userID, "error", err)
		}
	})
	return nil
}

func (c *wsChannel) Closed() <-chan struct{} { return c.closed }

// writePump drains the queue onto the socket until the channel closes,
// pinging on an interval so the peer's read deadline keeps sliding. A
// write failure means the peer is gone: the channel closes itself and
// pending sends are abandoned.
func (c *wsChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case e := <-c.queue:
			if err := c.conn.WriteJSON(toEnvelope(e)); err != nil {
				c.log.Debug("Write failed, closing channel",
					"user_id", c.userID, "error", err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// replay pushes the catch-up batch for a reconnecting client ahead of
// any live event. Runs before the channel is registered, so ordering
// with live delivery is guaranteed by construction.
func (c *wsChannel) replay(messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	return c.conn.WriteJSON(toEnvelope(event.MessageHistory{Messages: messages}))
}
