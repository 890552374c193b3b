package repository

import (
	"context"

	"authplane/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// UpdatePasswordHash replaces the user's credential hash.
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}
