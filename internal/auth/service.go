package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/expenseflow/internal/directory"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// UserLookup resolves accounts by email.
type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (directory.User, error)
}

// Service wraps authentication business rules.
type Service struct {
	users UserLookup
	repo  Repository
}

// NewService constructs a new Service.
func NewService(users UserLookup, repo Repository) *Service {
	return &Service{users: users, repo: repo}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (directory.User, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return directory.User{}, shared.ErrInvalidCredentials
		}
		return directory.User{}, err
	}
	if !user.IsActive {
		return directory.User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return directory.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, session LoginSession) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.CreateSession(ctx, session)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.DeleteSession(ctx, id)
}
