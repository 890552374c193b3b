package repository

import (
	"context"
	"errors"
	"time"

	"authplane/internal/session/domain"
)

// ErrStaleOrRevoked is returned by Rotate when the session is missing,
// revoked, expired, or its current generation does not match the one
// presented. The caller cannot tell which from the error alone; reuse
// detection inspects the session afterwards.
var ErrStaleOrRevoked = errors.New("session stale or revoked")

// Repository defines persistence for sessions. Rotate and Revoke must be
// atomic: under concurrent rotations of the same generation exactly one
// caller wins and every other caller gets ErrStaleOrRevoked.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// IsCurrent reports whether the session exists, is live at now, and its
	// stored generation equals generation. Read-only; Rotate is the operation
	// that consumes a generation.
	IsCurrent(ctx context.Context, id string, generation int64, now time.Time) (bool, error)
	// Rotate advances the session's generation by one iff the stored
	// generation equals generation and the session is live at now. The
	// session's expiry is extended to expiresAt. Returns the new generation.
	Rotate(ctx context.Context, id string, generation int64, now, expiresAt time.Time) (int64, error)
	// Revoke marks the session revoked at the given time. Revoking an
	// already-revoked or missing session is a no-op.
	Revoke(ctx context.Context, id string, at time.Time) error
	// RevokeAllByUser revokes every live session of the user and returns how
	// many were revoked.
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error)
	// DeleteExpired removes sessions whose expiry is at or before the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
