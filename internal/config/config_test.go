package config

import (
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SESSION_BACKEND", "memory")
	t.Setenv("APP_ENV", "development")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.JWTIssuer != "authplane" || cfg.JWTAudience != "authplane-api" {
		t.Errorf("issuer/audience = %q/%q", cfg.JWTIssuer, cfg.JWTAudience)
	}
	if cfg.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 168*time.Hour {
		t.Errorf("RefreshTTL = %v, want 168h", cfg.RefreshTTL())
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if !cfg.RevokeSessionOnReuse {
		t.Error("RevokeSessionOnReuse should default to true")
	}
}

func TestLoadTTLOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("JWT_REFRESH_TTL", "72h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessTTL() != 5*time.Minute {
		t.Errorf("AccessTTL = %v, want 5m", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 72*time.Hour {
		t.Errorf("RefreshTTL = %v, want 72h", cfg.RefreshTTL())
	}
}

func TestLoadInvalidTTLFallsBack(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("JWT_ACCESS_TTL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessTTL() != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m fallback", cfg.AccessTTL())
	}
}

func TestLoadBackendValidation(t *testing.T) {
	setBaseEnv(t)

	t.Setenv("SESSION_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Error("postgres backend without DATABASE_URL should fail")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/authplane?sslmode=disable")
	if _, err := Load(); err != nil {
		t.Errorf("postgres backend with DATABASE_URL: %v", err)
	}

	t.Setenv("SESSION_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")
	if _, err := Load(); err == nil {
		t.Error("redis backend without REDIS_ADDR should fail")
	}

	t.Setenv("REDIS_ADDR", "localhost:6379")
	if _, err := Load(); err != nil {
		t.Errorf("redis backend with REDIS_ADDR: %v", err)
	}

	t.Setenv("SESSION_BACKEND", "bogus")
	if _, err := Load(); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestLoadMemoryBackendInProduction(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("APP_ENV", "production")

	if _, err := Load(); err == nil {
		t.Error("memory backend in production should fail")
	}
}

func TestLoadBcryptCostBounds(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("BCRYPT_COST", "99")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "BCRYPT_COST") {
		t.Errorf("expected BCRYPT_COST error, got %v", err)
	}
}

func TestKafkaBrokersList(t *testing.T) {
	cfg := &Config{KafkaBrokers: "localhost:9092, broker2:9092 ,"}
	got := cfg.KafkaBrokersList()
	if len(got) != 2 || got[0] != "localhost:9092" || got[1] != "broker2:9092" {
		t.Errorf("KafkaBrokersList = %v", got)
	}

	cfg = &Config{}
	if got := cfg.KafkaBrokersList(); got != nil {
		t.Errorf("empty brokers should give nil, got %v", got)
	}
}
