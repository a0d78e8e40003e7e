// Package client is the Go client for the chat relay: REST calls for
// the write path and history, a WebSocket listener for live delivery,
// and a local timeline that absorbs both. The listener reconnects with
// exponential backoff and resyncs from its watermark, so a dropped
// connection never loses messages.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"

	"chat-relay/domain"
	"chat-relay/projection"
)

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 30 * time.Second
)

type Client struct {
	httpClient  *http.Client
	baseURL     string
	wsURL       string
	token       string
	userID      string
	log         *slog.Logger
	timeline    *projection.Timeline
	backoffBase time.Duration
	backoffCap  time.Duration
}

// New builds a client against baseURL (e.g. "http://localhost:8080").
// The WebSocket endpoint is derived from it.
func New(baseURL string, log *slog.Logger) *Client {
	trimmed := strings.TrimSuffix(baseURL, "/")
	wsURL := strings.Replace(strings.Replace(trimmed, "https://", "wss://", 1),
		"http://", "ws://", 1) + "/ws"

	return &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     trimmed,
		wsURL:       wsURL,
		log:         log,
		timeline:    projection.NewTimeline(),
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
	}
}

// Timeline exposes the local conversation cache.
func (c *Client) Timeline() *projection.Timeline { return c.timeline }

// UserID returns the authenticated account id, empty before login.
func (c *Client) UserID() string { return c.userID }

// User identifies an account in the sidebar listing.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type sessionPayload struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Signup registers an account and keeps the session token for later
// calls.
func (c *Client) Signup(ctx context.Context, email, name, password string) error {
	var session sessionPayload
	err := c.post(ctx, "/api/v1/auth/signup", map[string]string{
		"email": email, "name": name, "password": password,
	}, &session)
	if err != nil {
		return err
	}
	c.token = session.Token
	c.userID = session.User.ID
	return nil
}

// Login authenticates and keeps the session token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var session sessionPayload
	err := c.post(ctx, "/api/v1/auth/login", map[string]string{
		"email": email, "password": password,
	}, &session)
	if err != nil {
		return err
	}
	c.token = session.Token
	c.userID = session.User.ID
	return nil
}

// Users lists every other account, for picking a conversation partner.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.get(ctx, "/api/v1/messages/users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Send posts a message to the given user. The result is merged into
// the timeline immediately, the live echo deduplicates against it.
func (c *Client) Send(ctx context.Context, receiverID, text string) (domain.Message, error) {
	var msg domain.Message
	err := c.post(ctx, "/api/v1/messages/send/"+receiverID, map[string]string{
		"text": text,
	}, &msg)
	if err != nil {
		return domain.Message{}, err
	}
	c.timeline.Merge(msg)
	return msg, nil
}

// History fetches the full conversation with the given user and merges
// it into the timeline.
func (c *Client) History(ctx context.Context, otherID string) ([]domain.Message, error) {
	var messages []domain.Message
	if err := c.get(ctx, "/api/v1/messages/"+otherID, &messages); err != nil {
		return nil, err
	}
	c.timeline.Merge(messages...)
	return messages, nil
}

// Delete removes one of the caller's own messages and drops it from
// the timeline.
func (c *Client) Delete(ctx context.Context, messageID uuid.UUID) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/api/v1/messages/"+messageID.String(), nil)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return err
	}
	c.timeline.Drop(messageID)
	return nil
}

// wsEnvelope mirrors the server's channel frame.
type wsEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Listen keeps a live channel open until ctx is cancelled. Every
// received message is merged into the timeline and passed to onMessage
// if it was new. Connection loss triggers a reconnect with exponential
// backoff, doubling from the base up to the cap, and each reconnect
// carries the current watermark so the gap is replayed by the server.
func (c *Client) Listen(ctx context.Context, onMessage func(domain.Message)) error {
	backoff := c.backoffBase

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn("Connection failed, backing off",
				"backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.backoffCap)
			continue
		}

		// A successful connect resets the backoff.
		backoff = c.backoffBase
		c.log.Info("Channel connected", "url", c.wsURL)

		err = c.readLoop(ctx, conn, onMessage)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("Channel lost, reconnecting", "error", err)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	url := c.wsURL + "?token=" + c.token
	if watermark := c.timeline.Watermark(); !watermark.IsZero() {
		url += "&since=" + strconv.FormatInt(watermark.UnixMilli(), 10)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, onMessage func(domain.Message)) error {
	// Unblock the read when the context goes away.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		var envelope wsEnvelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return err
		}
		c.handleFrame(envelope, onMessage)
	}
}

// handleFrame applies one channel frame to the timeline: live messages
// merge (and surface through onMessage when new), catch-up batches
// merge silently, deletions drop.
func (c *Client) handleFrame(envelope wsEnvelope, onMessage func(domain.Message)) {
	switch envelope.Type {
	case "message:new":
		var msg domain.Message
		if err := json.Unmarshal(envelope.Payload, &msg); err != nil {
			c.log.Warn("Malformed message frame", "error", err)
			return
		}
		if c.timeline.Merge(msg) > 0 && onMessage != nil {
			onMessage(msg)
		}
	case "messages":
		var batch []domain.Message
		if err := json.Unmarshal(envelope.Payload, &batch); err != nil {
			c.log.Warn("Malformed history frame", "error", err)
			return
		}
		c.timeline.Merge(batch...)
	case "message:deleted":
		var deleted struct {
			MessageID uuid.UUID `json:"messageId"`
		}
		if err := json.Unmarshal(envelope.Payload, &deleted); err != nil {
			c.log.Warn("Malformed deletion frame", "error", err)
			return
		}
		c.timeline.Drop(deleted.MessageID)
	default:
		c.log.Debug("Ignoring frame", "type", envelope.Type)
	}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
