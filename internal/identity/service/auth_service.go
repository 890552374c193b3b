package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"authplane/internal/clock"
	"authplane/internal/security"
	sessiondomain "authplane/internal/session/domain"
	sessionrepo "authplane/internal/session/repository"
)

// Sentinel errors for the auth service; the handler maps them to HTTP codes.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("missing or unreadable refresh token")
	ErrSessionRevoked      = errors.New("session revoked or expired")
	ErrRefreshTokenReuse   = errors.New("refresh token reuse detected")
)

// AuthResult holds the outcome of Login or Refresh.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserID       string
	SessionID    string
}

// SessionRepo is the minimal session repository needed by the auth service.
type SessionRepo interface {
	Create(ctx context.Context, s *sessiondomain.Session) error
	GetByID(ctx context.Context, id string) (*sessiondomain.Session, error)
	ListByUser(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
	Rotate(ctx context.Context, id string, generation int64, now, expiresAt time.Time) (int64, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int64, error)
}

// AuthService implements password login, refresh-token rotation, and logout.
type AuthService struct {
	sessions      SessionRepo
	verifier      *CredentialVerifier
	tokens        *security.TokenProvider
	clock         clock.Clock
	refreshTTL    time.Duration
	revokeOnReuse bool
}

// NewAuthService returns an AuthService with the given dependencies. When
// revokeOnReuse is set, presenting a rotated-away refresh token for a session
// that is still live revokes every session of that user.
func NewAuthService(
	sessions SessionRepo,
	verifier *CredentialVerifier,
	tokens *security.TokenProvider,
	clk clock.Clock,
	refreshTTL time.Duration,
	revokeOnReuse bool,
) *AuthService {
	if clk == nil {
		clk = clock.System{}
	}
	return &AuthService{
		sessions:      sessions,
		verifier:      verifier,
		tokens:        tokens,
		clock:         clk,
		refreshTTL:    refreshTTL,
		revokeOnReuse: revokeOnReuse,
	}
}

// Login authenticates the credentials, creates a session at generation zero,
// and returns a fresh token pair.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	user, err := s.verifier.Verify(ctx, username, password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sess := &sessiondomain.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return s.issuePair(sess.ID, user.ID, sess.Generation)
}

// Refresh validates the refresh token and rotates the session's generation.
// Exactly one of any set of concurrent refreshes carrying the same token wins;
// the rest observe a stale generation. A stale token against a still-live
// session is treated as reuse: the user's sessions are revoked when the
// service is configured to escalate, and ErrRefreshTokenReuse is returned so
// the caller can record the event.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefreshToken
	}
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	newGen, err := s.sessions.Rotate(ctx, claims.SessionID, claims.Generation, now, now.Add(s.refreshTTL))
	if err == nil {
		return s.issuePair(claims.SessionID, claims.Subject, newGen)
	}
	if !errors.Is(err, sessionrepo.ErrStaleOrRevoked) {
		return nil, err
	}

	sess, getErr := s.sessions.GetByID(ctx, claims.SessionID)
	if getErr != nil {
		return nil, getErr
	}
	if sess != nil && sess.Live(now) {
		// The session is fine but this token's generation was already
		// consumed: someone replayed a rotated-away token.
		if s.revokeOnReuse {
			if _, revErr := s.sessions.RevokeAllByUser(ctx, sess.UserID, now); revErr != nil {
				return nil, revErr
			}
		}
		return nil, ErrRefreshTokenReuse
	}
	return nil, ErrSessionRevoked
}

// Logout revokes the session named by the refresh token. Revoking an
// already-revoked session succeeds, so logout is safe to retry.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return ErrInvalidRefreshToken
	}
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return ErrInvalidRefreshToken
	}
	return s.sessions.Revoke(ctx, claims.SessionID, s.clock.Now())
}

// ListSessions returns all sessions of the user, revoked ones included.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.Session, error) {
	return s.sessions.ListByUser(ctx, userID)
}

func (s *AuthService) issuePair(sessionID, userID string, generation int64) (*AuthResult, error) {
	accessToken, accessExp, err := s.tokens.IssueAccess(sessionID, userID, generation)
	if err != nil {
		return nil, err
	}
	refreshToken, _, err := s.tokens.IssueRefresh(sessionID, userID, generation)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    accessExp,
		UserID:       userID,
		SessionID:    sessionID,
	}, nil
}
