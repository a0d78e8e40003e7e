package transport

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"chat-relay/auth"
)

// NewApp wires every route onto a fresh Fiber app. mediaDir is the
// blob store directory, served statically under /media.
func NewApp(h *Handler, gate *ChannelGate, tokens *auth.TokenManager, mediaDir string) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	app.Get("/healthz", h.Health)
	if mediaDir != "" {
		app.Static("/media", mediaDir)
	}

	api := app.Group("/api/v1")

	authed := auth.Middleware(tokens)

	authGroup := api.Group("/auth")
	authGroup.Post("/signup", h.Signup)
	authGroup.Post("/login", h.Login)
	authGroup.Get("/ws-token", authed, h.ChannelToken)

	messages := api.Group("/messages", authed)
	// /users before /:id, Fiber matches in registration order.
	messages.Get("/users", h.Users)
	messages.Get("/:id", h.History)
	messages.Get("/:id/poll", h.Poll)
	messages.Get("/:id/search", h.Search)
	messages.Post("/send/:id", h.Send)
	messages.Delete("/:id", h.Delete)

	app.Use("/ws", gate.Upgrade)
	app.Get("/ws", websocket.New(gate.Handle))

	return app
}
