package domain

import "time"

// Session represents one refresh-token lineage for a user. Generation counts
// rotations: a refresh token is honored only while its embedded generation
// matches the session's current one, so a rotated-away token can never be
// replayed.
type Session struct {
	ID              string
	UserID          string
	Generation      int64
	ExpiresAt       time.Time
	RevokedAt       *time.Time // nil when not revoked
	LastRefreshedAt *time.Time
	CreatedAt       time.Time
}

// Live reports whether the session is neither revoked nor expired at t.
func (s *Session) Live(t time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(t)
}
