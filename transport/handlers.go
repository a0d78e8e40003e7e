package transport

import (
	"context"
	goerrors "errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/services"
)

type Handler struct {
	chat       services.IChatService
	accounts   services.IAuthService
	monitoring *observability.MonitoringManager
	log        *slog.Logger
	// cookieMaxAge matches the session token lifetime so the cookie and
	// the JWT inside it expire together.
	cookieMaxAge time.Duration
}

func NewHandler(chat services.IChatService, accounts services.IAuthService,
	monitoring *observability.MonitoringManager, log *slog.Logger,
	cookieMaxAge time.Duration) *Handler {
	return &Handler{
		chat:         chat,
		accounts:     accounts,
		monitoring:   monitoring,
		log:          log,
		cookieMaxAge: cookieMaxAge,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type sessionResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (h *Handler) Signup(c *fiber.Ctx) error {
	var body credentialsRequest
	if err := c.BodyParser(&body); err != nil {
		return fail(c, fiber.NewError(fiber.StatusBadRequest, "malformed body"))
	}

	session, err := h.accounts.Register(body.Email, body.Name, body.Password)
	if err != nil {
		return fail(c, err)
	}

	h.setSessionCookie(c, session.Token)
	return c.Status(fiber.StatusCreated).JSON(toSessionResponse(session))
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var body credentialsRequest
	if err := c.BodyParser(&body); err != nil {
		return fail(c, fiber.NewError(fiber.StatusBadRequest, "malformed body"))
	}

	session, err := h.accounts.Login(body.Email, body.Password)
	if err != nil {
		return fail(c, err)
	}

	h.setSessionCookie(c, session.Token)
	return c.JSON(toSessionResponse(session))
}

// ChannelToken hands out a short-lived token for WebSocket upgrades
// that cannot carry the session cookie.
func (h *Handler) ChannelToken(c *fiber.Ctx) error {
	token, err := h.accounts.IssueChannelToken(auth.UserID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"token": token})
}

// Users lists everyone except the caller, for the conversation sidebar.
func (h *Handler) Users(c *fiber.Ctx) error {
	users, err := h.accounts.ListUsers(auth.UserID(c))
	if err != nil {
		return fail(c, err)
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return c.JSON(out)
}

// History returns the full conversation with the user in :id, oldest
// first.
func (h *Handler) History(c *fiber.Ctx) error {
	messages, err := h.chat.ListMessages(c.UserContext(), domain.GetMessagesCommand{
		UserID:      auth.UserID(c),
		OtherUserID: c.Params("id"),
	})
	if err != nil {
		return fail(c, err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return c.JSON(messages)
}

// Poll is the long-poll sync endpoint. Without a since watermark it
// degenerates into History; with one it holds the request until
// something newer than the watermark exists or the timeout expires.
func (h *Handler) Poll(c *fiber.Ctx) error {
	cmd := domain.GetMessagesCommand{
		UserID:      auth.UserID(c),
		OtherUserID: c.Params("id"),
	}
	if raw := c.Query("since"); raw != "" {
		since, err := parseSince(raw)
		if err != nil {
			return fail(c, err)
		}
		cmd.Since = &since
	}

	result, err := h.chat.Poll(c.UserContext(), cmd)
	if err != nil {
		if err == context.Canceled {
			// The client hung up; there is nobody left to answer.
			return nil
		}
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"messages":       result.Messages,
		"timestamp":      result.Timestamp.UnixMilli(),
		"hasNewMessages": result.HasNewMessages,
	})
}

// Search runs a full-text query over the conversation with :id.
func (h *Handler) Search(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return fail(c, fiber.NewError(fiber.StatusBadRequest, "missing query"))
	}

	messages, err := h.chat.SearchMessages(c.UserContext(), domain.GetMessagesCommand{
		UserID:      auth.UserID(c),
		OtherUserID: c.Params("id"),
	}, query)
	if err != nil {
		return fail(c, err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return c.JSON(messages)
}

type sendRequest struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// Send creates a message addressed to the user in :id. The sender is
// always the authenticated caller, whatever the body claims.
func (h *Handler) Send(c *fiber.Ctx) error {
	var body sendRequest
	if err := c.BodyParser(&body); err != nil {
		return fail(c, fiber.NewError(fiber.StatusBadRequest, "malformed body"))
	}

	message, err := h.chat.CreateMessage(c.UserContext(), domain.PostMessageCommand{
		SenderID:   auth.UserID(c),
		ReceiverID: c.Params("id"),
		Text:       body.Text,
		Image:      body.Image,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(message)
}

// Delete removes a single message. 403 when the caller is not the
// sender, 404 when the id is unknown.
func (h *Handler) Delete(c *fiber.Ctx) error {
	messageID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fail(c, fiber.NewError(fiber.StatusBadRequest, "malformed message id"))
	}

	if err := h.chat.DeleteMessage(c.UserContext(), domain.DeleteMessageCommand{
		UserID:    auth.UserID(c),
		MessageID: messageID,
	}); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"deleted": messageID.String()})
}

// Health exposes the latest monitoring snapshot.
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(h.monitoring.Snapshot())
}

func (h *Handler) setSessionCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteStrictMode,
		MaxAge:   int(h.cookieMaxAge.Seconds()),
	})
}

// parseSince interprets the watermark query parameter as unix
// milliseconds, the format clients receive in poll responses.
func parseSince(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, errors.ErrInvalidSince
	}
	return time.UnixMilli(ms), nil
}

func fail(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if goerrors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
	}
	return c.Status(errors.MapToHTTPStatus(err)).JSON(fiber.Map{"error": err.Error()})
}

func toUserResponse(u repositories.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name}
}

func toSessionResponse(s services.Session) sessionResponse {
	return sessionResponse{Token: s.Token, User: toUserResponse(s.User)}
}
