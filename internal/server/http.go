// Package server assembles the HTTP router and server for the auth service.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"authplane/internal/identity/handler"
	"authplane/internal/security"
	"authplane/internal/server/middleware"
)

// Pinger reports backend liveness; *sql.DB satisfies it. May be nil when the
// session backend has no database.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps holds everything the router needs.
type Deps struct {
	Auth   *handler.AuthHandler
	Tokens *security.TokenProvider
	DB     Pinger
}

// NewRouter mounts the auth routes, the Bearer-protected session listing, and
// the health endpoint.
func NewRouter(deps Deps) http.Handler {
	mux := http.NewServeMux()
	deps.Auth.Register(mux)
	mux.Handle("GET /auth/sessions",
		middleware.RequireAccessToken(deps.Tokens)(http.HandlerFunc(deps.Auth.Sessions)))
	mux.HandleFunc("GET /healthz", healthz(deps.DB))
	return middleware.ClientIP(mux)
}

// NewHTTPServer returns an http.Server with sane timeouts for a small JSON
// API.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
