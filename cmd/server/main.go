// Package main is the entrypoint for the segmenta API server.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmenta/segmenta/internal/api"
	"github.com/segmenta/segmenta/internal/api/handler"
	mw "github.com/segmenta/segmenta/internal/api/middleware"
	"github.com/segmenta/segmenta/internal/api/response"
	"github.com/segmenta/segmenta/internal/cache"
	"github.com/segmenta/segmenta/internal/config"
	"github.com/segmenta/segmenta/internal/metrics"
	"github.com/segmenta/segmenta/internal/segmentation"
	"github.com/segmenta/segmenta/internal/store"
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
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "workers", cfg.Analysis.Workers)

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

	// 5. Load the pre-trained segmentation model. A missing artifact is not
	// fatal: the dynamic pipeline still works, static analysis and live
	// prediction report MODEL_UNAVAILABLE.
	model, err := segmentation.LoadModel(cfg.Analysis.ModelPath)
	if err != nil {
		slog.Warn("segmentation model not loaded; static analysis disabled",
			"error", err, "path", cfg.Analysis.ModelPath)
	} else {
		slog.Info("segmentation model loaded",
			"clusters", model.Clusters(), "features", model.Features())
	}

	// 6. Create store and analysis service, start background workers
	pgStore := store.NewPostgresStore(pool)
	svc := segmentation.NewService(pgStore, redisCache, model, cfg.Analysis)
	svc.Start(ctx)

	metrics.MustRegister()

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:        healthHandler(pgStore, redisCache, svc),
		MetricsHandler:       promhttp.Handler(),
		UploadDatasetHandler: handler.NewUploadDatasetHandler(pgStore),
		RunAnalysisHandler:   handler.NewRunAnalysisHandler(svc),
		PollJobHandler:       handler.NewPollJobHandler(svc),
		PredictHandler:       handler.NewPredictHandler(svc),
		CreateKeyHandler:     handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:      handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler:     handler.NewRevokeKeyHandler(pgStore),
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

	// Graceful shutdown with timeout; in-flight analysis jobs run to
	// completion before the workers exit.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	svc.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity and reports whether
// the fixed model is loaded.
func healthHandler(s store.Store, c cache.Cache, svc *segmentation.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"model":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if !svc.ModelAvailable() {
			checks["model"] = "unavailable"
		}

		// An unloaded model degrades static analysis only; the service
		// itself stays healthy.
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
