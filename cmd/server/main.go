package main

import (
	"context"
	"crypto"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"authplane/internal/audit"
	auditrepo "authplane/internal/audit/repository"
	"authplane/internal/clock"
	"authplane/internal/config"
	"authplane/internal/db"
	"authplane/internal/identity/handler"
	"authplane/internal/identity/service"
	"authplane/internal/security"
	"authplane/internal/server"
	"authplane/internal/server/middleware"
	sessionrepo "authplane/internal/session/repository"
	"authplane/internal/telemetry"
	"authplane/internal/telemetry/otel"
	"authplane/internal/telemetry/producer"
	userrepo "authplane/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required: users and audit logs live in Postgres for every session backend")
	}
	if cfg.JWTPrivateKey == "" {
		log.Fatal("JWT_PRIVATE_KEY is required (PEM or path to PEM)")
	}

	signer, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("jwt private key: %v", err)
	}
	verifyKeys := []crypto.PublicKey{signer.Public()}
	if cfg.JWTPublicKeys != "" {
		verifyKeys, err = security.ParsePublicKeys(cfg.JWTPublicKeys)
		if err != nil {
			log.Fatalf("jwt public keys: %v", err)
		}
	}

	clk := clock.System{}
	tokens := security.NewTokenProvider(signer, verifyKeys,
		cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), cfg.RefreshTTL(), clk)

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	var sessions service.SessionRepo
	switch cfg.SessionBackend {
	case config.BackendPostgres:
		sessions = sessionrepo.NewPostgresRepository(conn)
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		sessions = sessionrepo.NewRedisRepository(rdb)
	case config.BackendMemory:
		sessions = sessionrepo.NewMemoryRepository()
	}
	log.Printf("session backend: %s", cfg.SessionBackend)

	users := userrepo.NewPostgresRepository(conn)
	hasher := security.NewHasher(cfg.BcryptCost)
	verifier, err := service.NewCredentialVerifier(users, hasher)
	if err != nil {
		log.Fatalf("credential verifier: %v", err)
	}
	svc := service.NewAuthService(sessions, verifier, tokens, clk,
		cfg.RefreshTTL(), cfg.RevokeSessionOnReuse)

	ctx := context.Background()
	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "authplane", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry providers: %v", err)
	}
	providers.SetGlobal()

	emitters := telemetry.MultiEmitter{otel.NewEventEmitter(providers.LoggerProvider)}
	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.KafkaTopic)
	if err != nil {
		log.Fatalf("kafka producer: %v", err)
	}
	if kafkaProducer != nil {
		emitters = append(emitters, kafkaProducer)
		log.Printf("kafka events enabled: topic %s", cfg.KafkaTopic)
	}

	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn), func(ctx context.Context) string {
		if ip, ok := middleware.GetClientIP(ctx); ok {
			return ip
		}
		return "unknown"
	})

	authHandler := handler.NewAuthHandler(svc, auditLogger, emitters)
	router := server.NewRouter(server.Deps{
		Auth:   authHandler,
		Tokens: tokens,
		DB:     conn,
	})
	srv := server.NewHTTPServer(cfg.HTTPAddr, router)

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// Let in-flight async event emits finish before tearing down exporters.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Printf("kafka close: %v", err)
		}
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
