package audit

import (
	"context"
	"sync"
	"testing"

	"authplane/internal/audit/domain"
)

type fakeRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditLog
}

func (f *fakeRepo) GetByID(context.Context, string) (*domain.AuditLog, error) { return nil, nil }

func (f *fakeRepo) ListByUser(context.Context, string, int32, int32) ([]*domain.AuditLog, error) {
	return nil, nil
}

func (f *fakeRepo) Create(_ context.Context, a *domain.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, a)
	return nil
}

func TestLogEvent(t *testing.T) {
	repo := &fakeRepo{}
	logger := NewLogger(repo, func(context.Context) string { return "10.0.0.7" })

	logger.LogEvent(context.Background(), "user-1", ActionLogin, ResourceSession, `{"session_id":"s1"}`)

	if len(repo.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(repo.entries))
	}
	e := repo.entries[0]
	if e.ID == "" {
		t.Error("entry ID not set")
	}
	if e.UserID != "user-1" || e.Action != ActionLogin || e.Resource != ResourceSession {
		t.Errorf("entry = %+v", e)
	}
	if e.IP != "10.0.0.7" {
		t.Errorf("IP = %q, want 10.0.0.7", e.IP)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestLogEventNoExtractor(t *testing.T) {
	repo := &fakeRepo{}
	logger := NewLogger(repo, nil)

	logger.LogEvent(context.Background(), "user-1", ActionLogout, ResourceSession, "")

	if len(repo.entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(repo.entries))
	}
	if repo.entries[0].IP != "unknown" {
		t.Errorf("IP = %q, want unknown", repo.entries[0].IP)
	}
}

func TestLogEventNilRepo(t *testing.T) {
	logger := NewLogger(nil, nil)
	// Must not panic.
	logger.LogEvent(context.Background(), "user-1", ActionRefresh, ResourceSession, "")
}
