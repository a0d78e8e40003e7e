// Package errors holds the sentinel errors shared across layers and
// their mapping to transport status codes. All write-path failures
// surface to the caller through one of these categories; fan-out
// failures never do.
package errors

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

var (
	// Validation errors: rejected synchronously, no side effect.
	ErrEmptyMessage       = fmt.Errorf("message requires text or image")
	ErrMissingParticipant = fmt.Errorf("message requires sender and receiver")
	ErrInvalidImage       = fmt.Errorf("image payload is not a supported image")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity rules")
	ErrInvalidSince       = fmt.Errorf("since must be a unix millisecond timestamp")

	// Authorization errors: rejected, no partial mutation.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidToken       = fmt.Errorf("invalid or expired token")
	ErrNotSender          = fmt.Errorf("only the sender may delete a message")

	// Not-found errors: idempotent on retry.
	ErrMessageNotFound = fmt.Errorf("message not found")
	ErrUserNotFound    = fmt.Errorf("user not found")

	// Conflicts.
	ErrUserAlreadyExists = fmt.Errorf("user already exists")

	// Infrastructure.
	ErrTokenGeneration = fmt.Errorf("token generation failed")
	ErrChannelClosed   = fmt.Errorf("channel is closed")
	ErrWorkerPanic     = fmt.Errorf("worker panic")
)

// MapToHTTPStatus translates a service error into the HTTP status the
// transport layer should answer with. Unknown errors are a 500: the
// taxonomy is closed on purpose, anything else is a server bug.
func MapToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrMissingParticipant),
		errors.Is(err, ErrInvalidImage),
		errors.Is(err, ErrInvalidPassword),
		errors.Is(err, ErrInvalidSince):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidToken):
		return fiber.StatusUnauthorized
	case errors.Is(err, ErrNotSender):
		return fiber.StatusForbidden
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrUserNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrUserAlreadyExists):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
