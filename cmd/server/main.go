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

	"github.com/joho/godotenv"

	"github.com/tendant/course-materials/pkg/materials"
	"github.com/tendant/course-materials/pkg/materials/api"
	"github.com/tendant/course-materials/pkg/materials/config"
)

func main() {
	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	cfg, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := cfg.Build(ctx, materials.WithLogger(logger))
	if err != nil {
		logger.Error("Failed to build material store", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	opts := []api.HandlerOption{api.WithHandlerLogger(logger)}
	if cfg.LegacyRoot != "" {
		job, err := cfg.NewMigrationJob(store, logger)
		if err != nil {
			logger.Error("Failed to create migration job", "err", err)
			os.Exit(1)
		}
		opts = append(opts, api.WithMigrationJob(job))
	}

	router, err := newRouter(api.NewMaterialHandler(store, opts...), cfg.APIKeySHA256)
	if err != nil {
		logger.Error("Failed to initialize API key middleware", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Course material server starting",
			"port", cfg.Port,
			"env", cfg.Environment,
			"content_backend", cfg.ContentBackend,
			"postgres", cfg.UsesPostgres())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	logger.Info("Server exiting")
}
