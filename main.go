package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ablylabs/termbridge/internal/config"
	"github.com/ablylabs/termbridge/internal/database"
	"github.com/ablylabs/termbridge/internal/guard"
	"github.com/ablylabs/termbridge/internal/handlers"
	"github.com/ablylabs/termbridge/internal/logging"
	"github.com/ablylabs/termbridge/internal/runner"
	"github.com/ablylabs/termbridge/internal/session"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func main() {
	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	policy := guard.DefaultPolicy()
	if config.Cfg.PolicyPath != "" {
		p, err := guard.LoadPolicy(config.Cfg.PolicyPath)
		if err != nil {
			log.Fatalf("Policy init: %v", err)
		}
		policy = p
	}

	g := guard.New(config.Cfg.ControlAPIURL, config.Cfg.AuthDisabled, policy, guard.Credentials{
		APIKey:      config.Cfg.AblyAPIKey,
		AccessToken: config.Cfg.AblyAccessToken,
	})
	if config.Cfg.AuthDisabled {
		log.Printf("WARNING: credential validation disabled")
	}

	ctx := context.Background()

	var factory runner.Factory
	switch config.Cfg.RunnerBackend {
	case "local":
		factory = runner.NewLocalFactory()
	case "docker":
		f, err := runner.NewDockerFactory(ctx, config.Cfg.DockerHost, config.Cfg.ContainerImage,
			config.Cfg.CPULimit, config.Cfg.MemoryLimit)
		if err != nil {
			log.Fatalf("Docker runner init: %v", err)
		}
		factory = f
	default:
		log.Fatalf("Unknown runner backend %q (want docker or local)", config.Cfg.RunnerBackend)
	}

	slots := runner.NewSlots(config.Cfg.MaxShells, config.Cfg.CapacityWait)
	registry := session.NewRegistry(session.Config{
		Capacity:    config.Cfg.MaxSessions,
		BufferBytes: config.Cfg.OutputBufferBytes,
		Timeouts: session.Timeouts{
			Idle:        config.Cfg.IdleTimeout,
			MaxDuration: config.Cfg.MaxSessionDuration,
			Grace:       config.Cfg.GracePeriod,
		},
	}, factory, slots, database.Auditor{})

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry.StartSweeper(sigCtx, 10*time.Minute)

	handlers.Registry = registry
	handlers.Guard = g
	handlers.RunnerBackend = factory.BackendName()
	handlers.TokenTTL = config.Cfg.MaxSessionDuration + config.Cfg.GracePeriod
	if config.Cfg.MaxSessionDuration <= 0 {
		// No absolute session cap, so resume tokens must not expire either.
		handlers.TokenTTL = 0
	}

	log.Printf("Session bridge initialized (backend=%s, capacity=%d, idle=%s, max=%s, grace=%s)",
		factory.BackendName(), config.Cfg.MaxSessions, config.Cfg.IdleTimeout,
		config.Cfg.MaxSessionDuration, config.Cfg.GracePeriod)

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", handlers.HealthCheck)

	// Terminal WebSocket; credentials travel in the handshake frame
	r.Get("/terminal", handlers.TerminalWS)

	// Session management
	r.Get("/sessions", handlers.ListSessions)
	r.Get("/sessions/history", handlers.SessionHistory)
	r.Delete("/sessions/{id}", handlers.EvictSession)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Cfg.Port),
		Handler: r,
	}

	go func() {
		log.Printf("Server starting on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	registry.Drain()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
