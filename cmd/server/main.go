// Package main is the entrypoint for the FHE marketplace API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cipherworks/fhemarket/internal/api"
	"github.com/cipherworks/fhemarket/internal/api/handler"
	mw "github.com/cipherworks/fhemarket/internal/api/middleware"
	"github.com/cipherworks/fhemarket/internal/api/response"
	"github.com/cipherworks/fhemarket/internal/bridge"
	"github.com/cipherworks/fhemarket/internal/cache"
	"github.com/cipherworks/fhemarket/internal/config"
	"github.com/cipherworks/fhemarket/internal/events"
	"github.com/cipherworks/fhemarket/internal/market"
	"github.com/cipherworks/fhemarket/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"min_stake", cfg.Market.MinStake,
		"dispute_period", cfg.Market.DisputePeriod)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create event publisher
	publisher, err := events.NewRedisPublisher(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer publisher.Close()

	// 6. Create store and domain services
	pgStore := store.NewPostgresStore(pool)

	engine := market.NewEngine(pgStore, publisher, market.Params{
		MinStake:      cfg.Market.MinStake,
		DisputePeriod: cfg.Market.DisputePeriod,
		Arbiter:       cfg.Market.Arbiter,
	})
	dataBridge := bridge.New(pgStore, publisher)

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache),

		DepositHandler:  handler.NewDepositHandler(engine),
		WithdrawHandler: handler.NewWithdrawHandler(engine),
		BalanceHandler:  handler.NewBalanceHandler(engine),

		StakeHandler:        handler.NewStakeHandler(engine),
		UnstakeHandler:      handler.NewUnstakeHandler(engine),
		ProviderInfoHandler: handler.NewProviderInfoHandler(engine),

		RegisterProviderHandler: handler.NewRegisterProviderHandler(engine),
		UpdateProviderHandler:   handler.NewUpdateProviderHandler(engine),
		ListProvidersHandler:    handler.NewListProvidersHandler(engine),
		GetProviderHandler:      handler.NewGetProviderHandler(engine),

		PostJobHandler:      handler.NewPostJobHandler(engine, redisCache),
		ListJobsHandler:     handler.NewListJobsHandler(engine),
		GetJobHandler:       handler.NewGetJobHandler(engine),
		JobStatusHandler:    handler.NewJobStatusHandler(engine, redisCache),
		AcceptJobHandler:    handler.NewAcceptJobHandler(engine, redisCache),
		SubmitResultHandler: handler.NewSubmitResultHandler(engine, redisCache),
		SettleJobHandler:    handler.NewSettleJobHandler(engine, redisCache),
		DisputeJobHandler:   handler.NewDisputeJobHandler(engine, redisCache),
		CancelJobHandler:    handler.NewCancelJobHandler(engine, redisCache),
		RefundJobHandler:    handler.NewRefundJobHandler(engine, redisCache),
		ResolveHandler:      handler.NewResolveDisputeHandler(engine, redisCache),

		SubmitInputHandler:       handler.NewSubmitInputHandler(dataBridge),
		GrantAccessHandler:       handler.NewGrantAccessHandler(dataBridge),
		RevokeAccessHandler:      handler.NewRevokeAccessHandler(dataBridge),
		SubmitResultDataHandler:  handler.NewSubmitResultBridgeHandler(dataBridge),
		RequestDecryptionHandler: handler.NewRequestDecryptionHandler(dataBridge),
		FulfillDecryptionHandler: handler.NewFulfillDecryptionHandler(dataBridge),
		GetBridgeRecordHandler:   handler.NewGetBridgeRecordHandler(dataBridge),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
