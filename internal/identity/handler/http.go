// Package handler exposes the auth service over HTTP/JSON.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"authplane/internal/audit"
	"authplane/internal/identity/service"
	"authplane/internal/security"
	"authplane/internal/server/middleware"
	sessiondomain "authplane/internal/session/domain"
	"authplane/internal/telemetry"
)

// AuthHandler handles login, refresh, logout, and session listing. Audit and
// telemetry hooks are optional; pass nil to disable them.
type AuthHandler struct {
	svc    *service.AuthService
	audit  audit.AuditLogger
	events telemetry.EventEmitter
}

func NewAuthHandler(svc *service.AuthService, auditLogger audit.AuditLogger, events telemetry.EventEmitter) *AuthHandler {
	return &AuthHandler{svc: svc, audit: auditLogger, events: events}
}

// Register adds the public auth routes to mux.
func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", h.Login)
	mux.HandleFunc("POST /auth/refresh", h.Refresh)
	mux.HandleFunc("POST /auth/logout", h.Logout)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
}

// Login authenticates a username/password pair and starts a session. Responds
// 201 with a fresh token pair.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.record(r, "", "", audit.ActionLoginFailure, telemetry.EventLoginFailure,
				fmt.Sprintf(`{"username":%q}`, req.Username))
		}
		writeError(w, err)
		return
	}

	h.record(r, res.UserID, res.SessionID, audit.ActionLogin, telemetry.EventLogin, "")
	writeJSON(w, http.StatusCreated, toTokenResponse(res))
}

// Refresh rotates the presented refresh token and responds 200 with the
// replacement pair. A replayed token answers 401 and is recorded as reuse.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshTokenFrom(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrRefreshTokenReuse) {
			h.record(r, "", "", audit.ActionReuseDetected, telemetry.EventReuseDetected, "")
		}
		writeError(w, err)
		return
	}

	h.record(r, res.UserID, res.SessionID, audit.ActionRefresh, telemetry.EventRefresh, "")
	writeJSON(w, http.StatusOK, toTokenResponse(res))
}

// Logout revokes the session behind the refresh token. Responds 204; retrying
// a logout is harmless.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := h.refreshTokenFrom(w, r)
	if !ok {
		return
	}

	if err := h.svc.Logout(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}

	h.record(r, "", "", audit.ActionLogout, telemetry.EventLogout, "")
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	ID              string     `json:"id"`
	Generation      int64      `json:"generation"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
}

// Sessions lists the calling user's sessions, revoked ones included. Must be
// mounted behind the access-token middleware.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}
	list, err := h.svc.ListSessions(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string][]sessionResponse{"sessions": out})
}

// refreshTokenFrom reads the refresh token from the JSON body, falling back
// to the X-Refresh-Token header. Writes a 400 and returns false when the body
// is unreadable.
func (h *AuthHandler) refreshTokenFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refreshRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return "", false
		}
	}
	if req.RefreshToken == "" {
		req.RefreshToken = r.Header.Get("X-Refresh-Token")
	}
	return req.RefreshToken, true
}

func (h *AuthHandler) record(r *http.Request, userID, sessionID, action, eventType, metadata string) {
	if h.audit != nil {
		h.audit.LogEvent(r.Context(), userID, action, audit.ResourceSession, metadata)
	}
	var meta json.RawMessage
	if metadata != "" {
		meta = json.RawMessage(metadata)
	}
	telemetry.EmitAsync(h.events, r.Context(), &telemetry.Event{
		UserID:    userID,
		SessionID: sessionID,
		EventType: eventType,
		Source:    "authplane",
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	})
}

func toTokenResponse(res *service.AuthResult) tokenResponse {
	return tokenResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    res.ExpiresAt,
		UserID:       res.UserID,
		SessionID:    res.SessionID,
	}
}

func toSessionResponse(s *sessiondomain.Session) sessionResponse {
	return sessionResponse{
		ID:              s.ID,
		Generation:      s.Generation,
		CreatedAt:       s.CreatedAt,
		ExpiresAt:       s.ExpiresAt,
		LastRefreshedAt: s.LastRefreshedAt,
		RevokedAt:       s.RevokedAt,
	}
}

// writeError maps service and token errors to HTTP status codes. Every
// credential or token failure answers 401 with the same body so callers
// cannot probe which check failed.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrSessionRevoked),
		errors.Is(err, service.ErrRefreshTokenReuse),
		errors.Is(err, security.ErrInvalidToken),
		errors.Is(err, security.ErrTokenExpired):
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials or token")
	case errors.Is(err, service.ErrInvalidRefreshToken):
		writeJSONError(w, http.StatusBadRequest, "missing or unreadable refresh token")
	default:
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
