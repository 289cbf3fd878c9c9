package rbac

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/odyssey-erp/expenseflow/internal/directory"
	"github.com/odyssey-erp/expenseflow/internal/shared"
)

// UserSource resolves session owners.
type UserSource interface {
	GetUser(ctx context.Context, id uuid.UUID) (directory.User, error)
}

// Service resolves authenticated principals and their permissions.
type Service struct {
	users UserSource
}

// NewService constructs Service.
func NewService(users UserSource) *Service {
	return &Service{users: users}
}

// ResolveActor loads the session user and projects it into an actor.
func (s *Service) ResolveActor(ctx context.Context, rawUserID string) (shared.Actor, error) {
	if rawUserID == "" {
		return shared.Actor{}, shared.ErrUnauthenticated
	}
	id, err := uuid.Parse(rawUserID)
	if err != nil {
		return shared.Actor{}, shared.ErrUnauthenticated
	}
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) || shared.IsKind(err, shared.KindNotFound) {
			return shared.Actor{}, shared.ErrUnauthenticated
		}
		return shared.Actor{}, err
	}
	if !user.IsActive {
		return shared.Actor{}, ErrInactive
	}
	return user.Actor(), nil
}

// Principal returns the actor with its effective permissions.
func (s *Service) Principal(actor shared.Actor) Principal {
	return Principal{
		ID:          actor.ID.String(),
		CompanyID:   actor.CompanyID.String(),
		Name:        actor.Name,
		Email:       actor.Email,
		Role:        actor.Role,
		Permissions: PermissionsFor(actor.Role),
	}
}
