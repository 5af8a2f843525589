// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/ostrander/medvault/internal/api"
	"github.com/ostrander/medvault/internal/chain"
	"github.com/ostrander/medvault/internal/intake"
	"github.com/ostrander/medvault/internal/ledger"
	"github.com/ostrander/medvault/internal/mcpserver"
	"github.com/ostrander/medvault/internal/pinning"
	"github.com/ostrander/medvault/internal/recordservice"
	"github.com/ostrander/medvault/internal/sse"
	"github.com/ostrander/medvault/internal/wallet"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger. In MCP mode stdout carries the
	// protocol, so logs go to stderr.
	logOut := os.Stdout
	if app.mcpMode {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("pinning_api", cfg.Pinning.APIURL),
		slog.Bool("chain_mirror", cfg.Chain.Enabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Initialize SQLite ledger.
	db, err := ledger.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	defer db.Close()

	// Pinning client.
	pin := pinning.New(cfg.Pinning.APIURL, cfg.Pinning.GatewayURL, cfg.Pinning.JWT, logger)
	if cfg.Pinning.JWT == "" {
		logger.Warn("pinning JWT not configured, uploads will fail until it is set")
	}

	// Wallet session; settings live in the ledger so a prior connection
	// can be resumed.
	session, err := wallet.Dial(ctx, cfg.Wallet.RPCURL, db, logger)
	if err != nil {
		return fmt.Errorf("init wallet: %w", err)
	}
	session.Resume(ctx)

	// Optional on-chain mirror.
	var mirror recordservice.Mirror
	if cfg.Chain.Enabled() {
		registry, regErr := chain.NewRegistry(ctx, cfg.Chain.RPCURL, cfg.Chain.ContractAddress,
			cfg.Chain.PrivateKey, big.NewInt(cfg.Chain.ChainID))
		if regErr != nil {
			return fmt.Errorf("init chain mirror: %w", regErr)
		}
		mirror = registry
		logger.Info("chain mirror enabled", slog.String("contract", cfg.Chain.ContractAddress))
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Record service.
	svc := recordservice.NewService(db, pin, mirror, broker, logger)

	// MCP mode: serve tools on stdio and skip the HTTP stack.
	if app.mcpMode {
		logger.Info("Starting MCP server on stdio")
		return mcpserver.New(svc, session).ServeStdio()
	}

	apiRouter := api.NewRouter(svc, session, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start the intake watcher when a drop directory is configured.
	if cfg.Intake.Enabled() {
		g.Go(func() error {
			return intake.Watch(gCtx, cfg.Intake.Path, svc, session, 0, logger)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
