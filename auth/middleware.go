package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"chat-relay/errors"
)

// userIDLocal is the fiber locals key the middleware stores the
// authenticated user id under.
const userIDLocal = "userID"

// CookieName is the session cookie carrying the JWT, mirrored by the
// Authorization header for clients that cannot use cookies.
const CookieName = "jwt"

// Middleware resolves the caller identity from a Bearer header or the
// session cookie and rejects the request otherwise. Handlers behind it
// can rely on UserID(c) being non-empty.
func Middleware(tokens *TokenManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			token = c.Cookies(CookieName)
		}
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing token")
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			return fiber.NewError(errors.MapToHTTPStatus(err), err.Error())
		}

		c.Locals(userIDLocal, claims.UserID)
		return c.Next()
	}
}

// UserID returns the authenticated user id set by Middleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDLocal).(string)
	return id
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}
