package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"registrar/internal/app"
	"registrar/internal/config"
	"registrar/internal/handler"
	"registrar/internal/logging"
	"registrar/internal/router"
	"registrar/internal/service"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open result store: %w", err)
	}
	defer func() { _ = store.Close() }()

	storage, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return err
	}

	// Initialize services
	extractionSvc := service.NewExtractionService(components.Pipeline, store.Repo, storage, components.Model, logger)

	// Initialize handlers
	extractionH := handler.NewExtractionHandler(extractionSvc)
	registryH := handler.NewRegistryHandler(components.Registry, components.Catalog)
	healthH := handler.NewHealthHandler(nil)
	if store.DB != nil {
		healthH = handler.NewHealthHandler(store.DB)
	}

	// Setup router
	r := router.Setup(cfg, logger, extractionH, registryH, healthH)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.start", "addr", cfg.Server.Port, "model", components.Model, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
