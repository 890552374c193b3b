package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authplane/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db
// for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, refresh_generation, expires_at, revoked_at, last_refreshed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, s.Generation, s.ExpiresAt, timeToNullTime(s.RevokedAt), timeToNullTime(s.LastRefreshedAt), s.CreatedAt,
	)
	return err
}

// GetByID returns the session for id, or nil if not found. It returns an
// error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, refresh_generation, expires_at, revoked_at, last_refreshed_at, created_at
		FROM sessions WHERE id = $1`, id,
	)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListByUser returns all sessions for the user, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, refresh_generation, expires_at, revoked_at, last_refreshed_at, created_at
		FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// IsCurrent reports whether the session exists, is live at now, and holds the
// given generation.
func (r *PostgresRepository) IsCurrent(ctx context.Context, id string, generation int64, now time.Time) (bool, error) {
	var current bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sessions
			WHERE id = $1 AND refresh_generation = $2 AND revoked_at IS NULL AND expires_at > $3
		)`, id, generation, now,
	).Scan(&current)
	return current, err
}

// Rotate advances the generation in a single conditional UPDATE, so under
// concurrent rotations the database serializes them and exactly one matches
// the old generation.
func (r *PostgresRepository) Rotate(ctx context.Context, id string, generation int64, now, expiresAt time.Time) (int64, error) {
	var newGen int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET refresh_generation = refresh_generation + 1,
		    last_refreshed_at = $3,
		    expires_at = $4
		WHERE id = $1 AND refresh_generation = $2 AND revoked_at IS NULL AND expires_at > $3
		RETURNING refresh_generation`,
		id, generation, now, expiresAt,
	).Scan(&newGen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrStaleOrRevoked
	}
	if err != nil {
		return 0, err
	}
	return newGen, nil
}

// Revoke marks the session revoked. Already-revoked and missing sessions are
// left untouched.
func (r *PostgresRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, at,
	)
	return err
}

// RevokeAllByUser revokes every live session of the user.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`, userID, at,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes sessions whose expiry is at or before the cutoff.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var revokedAt, lastRefreshedAt sql.NullTime
	err := row.Scan(&s.ID, &s.UserID, &s.Generation, &s.ExpiresAt, &revokedAt, &lastRefreshedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.RevokedAt = nullTimeToPtr(revokedAt)
	s.LastRefreshedAt = nullTimeToPtr(lastRefreshedAt)
	return &s, nil
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
