package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-verify-handoff/internal/application/session"
	"github.com/go-verify-handoff/internal/application/verification"
	"github.com/go-verify-handoff/internal/config"
	"github.com/go-verify-handoff/internal/infrastructure/auditlog"
	jwtinfra "github.com/go-verify-handoff/internal/infrastructure/jwt"
	"github.com/go-verify-handoff/internal/infrastructure/profile"
	"github.com/go-verify-handoff/internal/pkg/worker"
	transporthttp "github.com/go-verify-handoff/internal/transport/http"
	"github.com/go-verify-handoff/internal/transport/http/handler"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Correlation store (memory, Redis or DynamoDB).
	store, storeCheck, closeStore, err := newStore(cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	// Audit trail: in-memory ring, plus an S3 archive when a bucket is configured.
	ring := auditlog.NewRing(cfg.AuditLogSize)
	audit := newAuditSink(cfg, ring)

	// Outcome events, disabled without a topic.
	outcomes := newOutcomePublisher(cfg)

	dispatcher := worker.NewDispatcher(cfg.FetchWorkers, cfg.FetchQueueSize)
	fetcher := profile.NewFetcher(profile.Options{
		Timeout:      cfg.FetchTimeout,
		RequirePhone: cfg.RequirePhone,
		AllowedHosts: cfg.ProfileAllowedHosts,
	})

	verifySvc := verification.NewService(verification.ServiceDeps{
		Store:      store,
		Fetcher:    fetcher,
		Dispatcher: dispatcher,
		Audit:      audit,
		Outcomes:   outcomes,
		Options: verification.Options{
			RecordTTL:       cfg.RecordTTL,
			FetchTimeout:    cfg.FetchTimeout,
			SingleUseStatus: cfg.StatusReadMode == config.ReadSingleUse,
			IgnoreDuplicate: cfg.DuplicatePolicy == config.DuplicateIgnore,
			Partner: verification.Partner{
				Key:          cfg.PartnerKey,
				Name:         cfg.PartnerName,
				Lang:         cfg.PartnerLang,
				PublicURL:    cfg.PublicBaseURL,
				PollInterval: cfg.PollInterval,
				PollTimeout:  cfg.PollTimeout,
			},
		},
	})

	deps := &transporthttp.Deps{
		Verifications: verifySvc,
		AuditLog:      ring,
		Checks:        map[string]handler.Check{"store": storeCheck},
	}

	// JWT provider; session exchange is disabled without keys.
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		deps.JWTProvider = p
		deps.Sessions = session.NewService(session.ServiceDeps{
			Verifications: verifySvc,
			JWTProvider:   p,
			Audit:         audit,
		})
	} else {
		log.Printf("WARN: JWT provider not available, session exchange disabled: %v", err)
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go verifySvc.RunSweeper(sweepCtx, cfg.SweepInterval)

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s, store=%s)", cfg.AppPort, cfg.AppEnv, cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	stopSweeper()

	// No new callbacks can arrive now; let queued fetches finish.
	if err := dispatcher.Shutdown(ctx); err != nil {
		log.Printf("fetch queue not drained: %v", err)
	}
	log.Println("Server stopped")
}
