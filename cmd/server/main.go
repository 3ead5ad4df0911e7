/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rewards ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment
  2. Open the configured store (sqlite, postgres or memory)
  3. Build the ledger engine and its collaborators
  4. Configure HTTP router
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

ENVIRONMENT:
  See config.Load for the full variable list. SESSION_SECRET is the
  only required variable; everything else has a development default.

EXAMPLES:
  # Local development against SQLite
  SESSION_SECRET=dev-secret ./server

  # Postgres
  SESSION_SECRET=... DATABASE_DRIVER=postgres DATABASE_URL=postgres://... ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - config/config.go: Environment parsing
*/
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/warp/rewards-ledger/api"
	"github.com/warp/rewards-ledger/auth"
	"github.com/warp/rewards-ledger/config"
	"github.com/warp/rewards-ledger/ledger"
	memstore "github.com/warp/rewards-ledger/ledger/store"
	"github.com/warp/rewards-ledger/notify"
	"github.com/warp/rewards-ledger/store/postgres"
	"github.com/warp/rewards-ledger/store/sqlite"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	// Initialize store
	store, closer, err := openStore(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize store")
	}
	if closer != nil {
		defer closer.Close()
	}

	// Ledger engine
	engine := ledger.NewEngine(store)
	engine.Locks = ledger.NewLockTable(cfg.LockWait)
	engine.CardBonus = cfg.CardBonus

	if cfg.TelegramBotToken != "" {
		notifier, err := notify.New(cfg.TelegramBotToken)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize notifier")
		}
		engine.Notifier = notifier
	}

	// Auth
	gate := auth.NewGate(store, cfg.AdminIDs)
	sessions, err := auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize sessions")
	}

	// HTTP surface
	handler := api.NewHandler(engine, gate, sessions, cfg.TelegramBotToken)
	handler.Resolver.Bonus = cfg.ReferralBonus
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(log.Fields{
			"port":   cfg.Port,
			"driver": cfg.DatabaseDriver,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}

// openStore builds the TxStore named by the configuration. The closer
// is nil for the in-memory store.
func openStore(cfg *config.Config) (ledger.TxStore, io.Closer, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "postgres":
		s, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "memory":
		return memstore.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}
