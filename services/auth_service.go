//go:generate go run go.uber.org/mock/mockgen -source=auth_service.go -destination=../mocks/mock_auth_service.go -package=mocks
package services

import (
	"fmt"

	"chat-relay/auth"
	"chat-relay/errors"
	"chat-relay/repositories"
)

type IAuthService interface {
	Register(email, name, password string) (Session, error)
	Login(email, password string) (Session, error)
	IssueChannelToken(userID string) (string, error)
	ListUsers(excludeID string) ([]repositories.User, error)
}

// Session pairs a fresh JWT with the account it authenticates.
type Session struct {
	Token string
	User  repositories.User
}

type AuthService struct {
	userRepository repositories.IUserRepository
	tokens         *auth.TokenManager
}

func NewAuthService(repo repositories.IUserRepository, tokens *auth.TokenManager) IAuthService {
	return &AuthService{userRepository: repo, tokens: tokens}
}

func (s *AuthService) Register(email, name, password string) (Session, error) {
	valReq := auth.RegisterRequest{
		Email:    email,
		Password: password,
	}

	// Business rules first (email format, password complexity), before
	// any expensive cryptographic operation.
	if err := auth.ValidateRegister(valReq); err != nil {
		return Session{}, fmt.Errorf("%w: %v", errors.ErrInvalidPassword, err)
	}

	// Hashing happens here so the repository never sees a plain password.
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return Session{}, fmt.Errorf("hashing failed: %w", err)
	}

	userID, err := s.userRepository.CreateUser(email, name, hashedPassword)
	if err != nil {
		return Session{}, err // Propagates ErrUserAlreadyExists if the email is taken
	}

	return s.openSession(userID)
}

func (s *AuthService) Login(email, password string) (Session, error) {
	user, err := s.userRepository.GetUserByEmail(email)
	if err != nil {
		// Generic error to prevent user enumeration attacks
		return Session{}, errors.ErrInvalidCredentials
	}

	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return Session{}, errors.ErrInvalidCredentials
	}

	return s.openSession(user.ID)
}

// IssueChannelToken mints a short-lived token for WebSocket upgrades
// that cannot carry the session cookie (cross-origin clients pass it
// as a query parameter instead).
func (s *AuthService) IssueChannelToken(userID string) (string, error) {
	token, err := s.tokens.GenerateToken(userID, auth.ChannelToken)
	if err != nil {
		return "", errors.ErrTokenGeneration
	}
	return token, nil
}

// ListUsers returns everyone except the caller, for the conversation
// sidebar. Hashes are stripped before the result leaves the service.
func (s *AuthService) ListUsers(excludeID string) ([]repositories.User, error) {
	users, err := s.userRepository.ListUsers(excludeID)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}

func (s *AuthService) openSession(userID string) (Session, error) {
	user, err := s.userRepository.GetUserByID(userID)
	if err != nil {
		return Session{}, err
	}
	user.PasswordHash = ""

	token, err := s.tokens.GenerateToken(userID, auth.SessionToken)
	if err != nil {
		return Session{}, errors.ErrTokenGeneration
	}
	return Session{Token: token, User: user}, nil
}
