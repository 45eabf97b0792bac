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

	"github.com/AnTengye/cerfaflow/config"
	"github.com/AnTengye/cerfaflow/handler"
	"github.com/AnTengye/cerfaflow/pkg/logger"
	"github.com/AnTengye/cerfaflow/pkg/metrics"
	"github.com/AnTengye/cerfaflow/service"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Optional .env for local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	configPath := os.Getenv("CERFA_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully", "path", configPath)

	ctx := context.Background()

	repo, closeRepo, err := service.NewContractRepository(ctx, &cfg.Store)
	if err != nil {
		slog.Error("failed to open contract store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeRepo()
	slog.Info("contract store ready", "driver", cfg.Store.Driver)

	var objects service.ObjectStore
	if cfg.Minio.Enabled {
		minioSvc, err := service.NewMinioService(&cfg.Minio)
		if err != nil {
			slog.Error("failed to initialize MINIO service", "error", err)
			os.Exit(1)
		}
		if err := minioSvc.EnsureBucket(ctx); err != nil {
			slog.Error("failed to ensure MINIO bucket", "error", err)
			os.Exit(1)
		}
		objects = minioSvc
	}

	assets, err := service.LoadAssets(ctx, &cfg.Template, objects)
	if err != nil {
		slog.Error("failed to load template assets", "error", err)
		os.Exit(1)
	}

	var archive service.ObjectStore
	if cfg.Minio.Archive {
		archive = objects
	}

	gin.SetMode(gin.ReleaseMode)

	m := metrics.New()
	router := handler.NewRouter(cfg, handler.Services{
		Contracts: service.NewContractService(repo),
		Cerfa:     service.NewCerfaService(assets, nil, archive, m),
		Metrics:   m,
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		return
	}

	slog.Info("server exited gracefully")
}
