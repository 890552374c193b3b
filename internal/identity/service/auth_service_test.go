package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"authplane/internal/clock"
	"authplane/internal/security"
	sessionrepo "authplane/internal/session/repository"
	userdomain "authplane/internal/user/domain"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*userdomain.User
}

func (f *fakeUserRepo) GetByUsername(_ context.Context, username string) (*userdomain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

type testEnv struct {
	svc      *AuthService
	sessions *sessionrepo.MemoryRepository
	clk      *clock.Fixed
	users    *fakeUserRepo
}

func newTestEnv(t *testing.T, revokeOnReuse bool) *testEnv {
	t.Helper()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tokens, err := security.NewTestTokenProvider(clk)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	disabledHash, err := hasher.Hash([]byte("disabled password"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	users := &fakeUserRepo{users: map[string]*userdomain.User{
		"alice": {ID: "user-alice", Username: "alice", PasswordHash: hash, Status: userdomain.UserStatusActive},
		"mallory": {
			ID: "user-mallory", Username: "mallory", PasswordHash: disabledHash, Status: userdomain.UserStatusDisabled,
		},
	}}
	verifier, err := NewCredentialVerifier(users, hasher)
	if err != nil {
		t.Fatalf("NewCredentialVerifier: %v", err)
	}
	sessions := sessionrepo.NewMemoryRepository()
	svc := NewAuthService(sessions, verifier, tokens, clk, 24*time.Hour, revokeOnReuse)
	return &testEnv{svc: svc, sessions: sessions, clk: clk, users: users}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	res, err := env.svc.Login(ctx, "alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.UserID != "user-alice" {
		t.Errorf("UserID = %q, want user-alice", res.UserID)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Error("expected both tokens to be issued")
	}
	if res.AccessToken == res.RefreshToken {
		t.Error("access and refresh tokens are identical")
	}

	sess, err := env.sessions.GetByID(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if sess == nil {
		t.Fatal("session was not created")
	}
	if sess.Generation != 0 {
		t.Errorf("new session generation = %d, want 0", sess.Generation)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	cases := []struct {
		name               string
		username, password string
	}{
		{"wrong password", "alice", "wrong"},
		{"unknown user", "nobody", "correct horse battery staple"},
		{"disabled user", "mallory", "disabled password"},
		{"empty password", "alice", ""},
		{"empty username", "", "correct horse battery staple"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.svc.Login(ctx, tc.username, tc.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("Login: err = %v, want ErrInvalidCredentials", err)
			}
		})
	}

	// No session may be left behind by a failed login.
	for _, userID := range []string{"user-alice", "user-mallory"} {
		list, err := env.svc.ListSessions(ctx, userID)
		if err != nil {
			t.Fatalf("ListSessions: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("failed logins created %d sessions for %s", len(list), userID)
		}
	}
}

func TestRefreshRotates(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	login, err := env.svc.Login(ctx, "alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	env.clk.Advance(time.Minute)
	refreshed, err := env.svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.RefreshToken == login.RefreshToken {
		t.Error("refresh returned the same refresh token")
	}
	if refreshed.SessionID != login.SessionID {
		t.Errorf("refresh changed session id: %q -> %q", login.SessionID, refreshed.SessionID)
	}

	// The rotated-away token is dead; the replacement still works.
	if _, err := env.svc.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrRefreshTokenReuse) {
		t.Errorf("old token: err = %v, want ErrRefreshTokenReuse", err)
	}
	if _, err := env.svc.Refresh(ctx, refreshed.RefreshToken); err != nil {
		t.Errorf("current token: err = %v", err)
	}
}

func TestRefreshConcurrent(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	login, err := env.svc.Login(ctx, "alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.svc.Refresh(ctx, login.RefreshToken)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrRefreshTokenReuse), errors.Is(err, ErrSessionRevoked):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("%d concurrent refreshes succeeded, want exactly 1", wins)
	}
}

func TestRefreshReuseRevokesUserSessions(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	first, err := env.svc.Login(ctx, "alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, err := env.svc.Login(ctx, "alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	rotated, err := env.svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Replaying the consumed token burns every session of the user.
	if _, err := env.svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrRefreshTokenReuse) {
		t.Fatalf("replayed token: err = %v, want ErrRefreshTokenReuse", err)
	}

	list, err := env.svc.ListSessions(ctx, "user-alice")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d sessions, want 2", len(list))
	}
	for _, s := range list {
		if s.RevokedAt == nil {
			t.Errorf("session %s not revoked after reuse", s.ID)
		}
	}

	if _, err := env.svc.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("rotated token after escalation: err = %v, want ErrSessionRevoked", err)
	}
	if _, err := env.svc.Refresh(ctx, second.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("sibling session token after escalation: err = %v, want ErrSessionRevoked", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	login, err := env.svc.Login(ctx, "alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	env.clk.Advance(25 * time.Hour)
	if _, err := env.svc.Refresh(ctx, login.RefreshToken); !errors.Is(err, security.ErrTokenExpired) {
		t.Errorf("expired token: err = %v, want ErrTokenExpired", err)
	}
}

func TestRefreshInvalidToken(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	if _, err := env.svc.Refresh(ctx, ""); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("empty token: err = %v, want ErrInvalidRefreshToken", err)
	}
	if _, err := env.svc.Refresh(ctx, "not.a.token"); !errors.Is(err, security.ErrInvalidToken) {
		t.Errorf("garbage token: err = %v, want ErrInvalidToken", err)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	login, err := env.svc.Login(ctx, "alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := env.svc.Logout(ctx, login.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	// Logout is safe to retry.
	if err := env.svc.Logout(ctx, login.RefreshToken); err != nil {
		t.Fatalf("second Logout: %v", err)
	}

	if _, err := env.svc.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("refresh after logout: err = %v, want ErrSessionRevoked", err)
	}

	if err := env.svc.Logout(ctx, ""); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("logout without token: err = %v, want ErrInvalidRefreshToken", err)
	}
	if err := env.svc.Logout(ctx, "garbage"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Errorf("logout with garbage token: err = %v, want ErrInvalidRefreshToken", err)
	}
}

// The full lifecycle: login, rotate, replay the dead token, logout, and
// confirm the lineage is unusable afterwards.
func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	login, err := env.svc.Login(ctx, "alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	env.clk.Advance(10 * time.Minute)
	refreshed, err := env.svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, err := env.svc.Refresh(ctx, login.RefreshToken); err == nil {
		t.Error("rotated-away token was accepted")
	}

	if err := env.svc.Logout(ctx, refreshed.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := env.svc.Refresh(ctx, refreshed.RefreshToken); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("refresh after logout: err = %v, want ErrSessionRevoked", err)
	}
}
