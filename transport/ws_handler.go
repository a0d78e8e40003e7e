package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/observability"
	"chat-relay/services"
)

// ChannelGate owns the WebSocket endpoint: it authenticates the
// upgrade, replays missed messages, registers the channel, and keeps
// it registered until the peer goes away.
type ChannelGate struct {
	registry   contract.IRegistry
	tokens     *auth.TokenManager
	chat       services.IChatService
	monitoring *observability.MonitoringManager
	log        *slog.Logger
}

func NewChannelGate(registry contract.IRegistry, tokens *auth.TokenManager,
	chat services.IChatService, monitoring *observability.MonitoringManager,
	log *slog.Logger) *ChannelGate {
	return &ChannelGate{
		registry:   registry,
		tokens:     tokens,
		chat:       chat,
		monitoring: monitoring,
		log:        log,
	}
}

// Upgrade gates the route to genuine WebSocket upgrade requests.
func (g *ChannelGate) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handle runs for the lifetime of one connection. The token comes from
// the `token` query parameter (minted via the ws-token endpoint) or
// the session cookie; anything else closes the socket before the
// channel ever reaches the registry. Token expiry is checked at the
// handshake only, an open channel is not re-validated mid-session.
func (g *ChannelGate) Handle(conn *websocket.Conn) {
	token := conn.Query("token")
	if token == "" {
		token = conn.Cookies(auth.CookieName)
	}

	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		g.log.Debug("Rejecting unauthenticated channel", "error", err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
		_ = conn.Close()
		return
	}
	userID := claims.UserID

	ch := newWSChannel(userID, conn, g.log)

	// Catch-up runs before registration, so replayed history can never
	// interleave with live events.
	var since time.Time
	catchUp := false
	if raw := conn.Query("since"); raw != "" {
		parsed, err := parseSince(raw)
		if err != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "malformed since"))
			_ = conn.Close()
			return
		}
		since, catchUp = parsed, true
		missed, err := g.chat.MissedMessages(userID, since)
		if err != nil {
			g.log.Warn("Failed to load missed messages", "user_id", userID, "error", err)
		} else if err := ch.replay(missed); err != nil {
			_ = ch.Close()
			return
		}
	}

	g.registry.Register(userID, ch)
	g.monitoring.ChannelOpened()
	g.log.Info("Channel opened", "user_id", userID)
	go ch.writePump()

	if catchUp {
		g.closeReplayGap(ch, userID, since)
	}

	defer func() {
		g.registry.Unregister(userID, ch)
		g.monitoring.ChannelClosed()
		_ = ch.Close()
		g.log.Info("Channel closed", "user_id", userID)
	}()

	// Clients never send application frames; reading services control
	// frames and detects the disconnect.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

const pongWait = 60 * time.Second

// closeReplayGap re-runs the since-query once after registration. A
// message created between the pre-registration replay and Register is
// in neither the replayed batch nor the live stream, so it would only
// surface on the next reconnect. The second batch goes through the
// channel queue, and the client deduplicates by id, so overlap with
// the first replay or with live pushes is harmless.
func (g *ChannelGate) closeReplayGap(ch contract.Channel, userID string, since time.Time) {
	missed, err := g.chat.MissedMessages(userID, since)
	if err != nil {
		g.log.Warn("Failed to re-check missed messages", "user_id", userID, "error", err)
		return
	}
	if len(missed) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = ch.Send(ctx, event.MessageHistory{Messages: missed})
}
