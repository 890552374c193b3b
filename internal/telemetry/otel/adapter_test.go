package otel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"authplane/internal/telemetry"
)

type captureProcessor struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (p *captureProcessor) OnEmit(_ context.Context, rec *sdklog.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, *rec)
	return nil
}

func (p *captureProcessor) Enabled(context.Context, sdklog.EnabledParameters) bool { return true }

func (p *captureProcessor) Shutdown(context.Context) error   { return nil }
func (p *captureProcessor) ForceFlush(context.Context) error { return nil }

func TestNewEventEmitterNilProvider(t *testing.T) {
	emitter := NewEventEmitter(nil)
	if err := emitter.Emit(context.Background(), &telemetry.Event{EventType: telemetry.EventLogin}); err != nil {
		t.Fatalf("no-op Emit: %v", err)
	}
}

func TestEmitRecord(t *testing.T) {
	capture := &captureProcessor{}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(capture))
	emitter := NewEventEmitter(provider)

	event := &telemetry.Event{
		UserID:    "user-1",
		SessionID: "sess-1",
		EventType: telemetry.EventRefresh,
		Source:    "authplane",
		Metadata:  json.RawMessage(`{"generation":2}`),
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := emitter.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	capture.mu.Lock()
	defer capture.mu.Unlock()
	if len(capture.records) != 1 {
		t.Fatalf("got %d records, want 1", len(capture.records))
	}
	rec := capture.records[0]
	if !rec.Timestamp().Equal(event.CreatedAt) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), event.CreatedAt)
	}
	attrs := map[string]string{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	if attrs["user_id"] != "user-1" || attrs["session_id"] != "sess-1" {
		t.Errorf("attributes = %v", attrs)
	}
	if attrs["event_type"] != telemetry.EventRefresh || attrs["source"] != "authplane" {
		t.Errorf("attributes = %v", attrs)
	}
}
