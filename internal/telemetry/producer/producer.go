// Package producer emits telemetry events to Kafka.
package producer

import (
	"context"

	"authplane/internal/telemetry"
)

// Producer emits telemetry events. Callers use it best-effort: log and ignore
// errors.
type Producer interface {
	// Emit sends a single telemetry event. Implementations may block briefly;
	// call from a goroutine if needed.
	Emit(ctx context.Context, event *telemetry.Event) error
	// Close releases resources (e.g. the Kafka writer). Safe to call if
	// already closed.
	Close() error
}
