package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"authplane/internal/clock"
	"authplane/internal/identity/handler"
	"authplane/internal/identity/service"
	"authplane/internal/security"
	sessionrepo "authplane/internal/session/repository"
	userdomain "authplane/internal/user/domain"
)

type fakeUserRepo struct{}

func (fakeUserRepo) GetByUsername(context.Context, string) (*userdomain.User, error) {
	return nil, nil
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func newRouter(t *testing.T, db Pinger) http.Handler {
	t.Helper()
	clk := clock.NewFixed(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tokens, err := security.NewTestTokenProvider(clk)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	hasher := security.NewHasher(4)
	verifier, err := service.NewCredentialVerifier(fakeUserRepo{}, hasher)
	if err != nil {
		t.Fatalf("NewCredentialVerifier: %v", err)
	}
	svc := service.NewAuthService(sessionrepo.NewMemoryRepository(), verifier, tokens, clk, 24*time.Hour, true)
	return NewRouter(Deps{
		Auth:   handler.NewAuthHandler(svc, nil, nil),
		Tokens: tokens,
		DB:     db,
	})
}

func TestHealthz(t *testing.T) {
	router := newRouter(t, fakePinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
}

func TestHealthzDatabaseDown(t *testing.T) {
	router := newRouter(t, fakePinger{err: errors.New("connection refused")})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz status = %d, want 503", rec.Code)
	}
}

func TestHealthzNoDatabase(t *testing.T) {
	router := newRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
}

func TestRoutesMounted(t *testing.T) {
	router := newRouter(t, nil)

	// The protected route rejects anonymous callers rather than 404ing.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/sessions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("/auth/sessions status = %d, want 401", rec.Code)
	}

	// Wrong method on a mounted route is 405.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /auth/login status = %d, want 405", rec.Code)
	}
}
