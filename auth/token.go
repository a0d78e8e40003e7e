package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chat-relay/errors"
)

// TokenKind separates long-lived session tokens from the short-lived
// ones handed out for channel handshakes that cannot carry cookies
// (cross-origin WebSocket upgrades).
type TokenKind string

const (
	SessionToken TokenKind = "session"
	ChannelToken TokenKind = "channel"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string    `json:"user_id"`
	Kind   TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// TokenManager signs and validates the JWTs used for API calls and
// channel handshakes. The secret comes from configuration, never from
// source.
type TokenManager struct {
	secret          []byte
	sessionDuration time.Duration
	channelDuration time.Duration
}

func NewTokenManager(secret string, sessionDuration, channelDuration time.Duration) *TokenManager {
	return &TokenManager{
		secret:          []byte(secret),
		sessionDuration: sessionDuration,
		channelDuration: channelDuration,
	}
}

// GenerateToken creates a signed JWT for a specific user. Channel
// tokens expire quickly; they exist only to bridge one handshake.
func (m *TokenManager) GenerateToken(userID string, kind TokenKind) (string, error) {
	duration := m.sessionDuration
	if kind == ChannelToken {
		duration = m.channelDuration
	}

	claims := &CustomClaims{
		UserID: userID,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "chat-relay",
		},
	}

	// HS256, HMAC with SHA256.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", errors.ErrTokenGeneration
	}
	return signed, nil
}

// ValidateToken parses and validates the signature and expiration of a
// JWT string. Both token kinds are accepted on the channel handshake; a
// session cookie is as good a proof of identity as a channel token.
func (m *TokenManager) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, errors.ErrInvalidToken
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.ErrInvalidToken
}
