// Package telemetry defines the auth event stream: a small JSON event shape
// plus emitters that forward events to OTel logs and Kafka, best-effort.
package telemetry

import (
	"context"
	"encoding/json"
	"time"
)

// Event types emitted by the auth code paths.
const (
	EventLogin         = "auth.login"
	EventLoginFailure  = "auth.login_failure"
	EventRefresh       = "auth.refresh"
	EventReuseDetected = "auth.reuse_detected"
	EventLogout        = "auth.logout"
)

// Event is one auth telemetry event. UserID and SessionID may be empty (e.g.
// login failures for unknown users). Metadata is arbitrary JSON.
type Event struct {
	UserID    string          `json:"user_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	EventType string          `json:"event_type"`
	Source    string          `json:"source,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventEmitter emits telemetry events (e.g. to OTel Logs or Kafka).
// Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// MultiEmitter fans one event out to several emitters. The first failure is
// returned but every emitter is attempted.
type MultiEmitter []EventEmitter

func (m MultiEmitter) Emit(ctx context.Context, event *Event) error {
	var firstErr error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
