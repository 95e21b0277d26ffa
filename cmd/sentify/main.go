// Sentify - churn risk scoring behind a single HTTP endpoint.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/sentify/internal/api"
	"github.com/opensource-finance/sentify/internal/artifact"
	"github.com/opensource-finance/sentify/internal/bus"
	"github.com/opensource-finance/sentify/internal/cache"
	"github.com/opensource-finance/sentify/internal/domain"
	"github.com/opensource-finance/sentify/internal/model"
	"github.com/opensource-finance/sentify/internal/monitor"
	"github.com/opensource-finance/sentify/internal/schema"
	"github.com/opensource-finance/sentify/internal/scoring"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg, err := domain.Load(os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting sentify",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"artifacts", cfg.Artifacts.Source,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"inference_timeout_ms", cfg.Scoring.InferenceTimeoutMs,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize Artifact Store
	store, err := artifact.New(cfg.Artifacts)
	if err != nil {
		slog.Error("failed to initialize artifact store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// The schema is required: without it no request can be aligned
	features, err := schema.Load(ctx, store, cfg.Artifacts.SchemaName)
	if err != nil {
		slog.Error("failed to load feature schema", "name", cfg.Artifacts.SchemaName, "error", err)
		os.Exit(1)
	}
	schemaStore := schema.NewStore(features)
	slog.Info("feature schema loaded", "features", schemaStore.Len())

	// A missing or broken model degrades to fallback scoring
	adapter, err := model.Load(ctx, store, cfg.Artifacts.ModelName, schemaStore.Schema())
	if err != nil {
		slog.Warn("model not loaded, every prediction will use the fallback", "error", err)
	} else {
		info := adapter.Info()
		slog.Info("model loaded", "type", info.Type, "version", info.Version)
	}
	adapter.Timeout = cfg.Scoring.InferenceTimeout()

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	opts := []scoring.Option{
		scoring.WithDefaultValue(cfg.Scoring.DefaultValue),
		scoring.WithEnvelope(cfg.Scoring.UnwrapEnvelope),
		scoring.WithEventBus(busImpl),
	}

	deps := api.Deps{
		Model:   adapter,
		Cache:   cacheImpl,
		Bus:     busImpl,
		Version: Version,
	}

	// Initialize fallback monitor
	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		mon = monitor.New(busImpl, cacheImpl, cfg.Monitor.Window())
		if err := mon.Start(); err != nil {
			slog.Error("failed to start fallback monitor", "error", err)
			mon = nil
		} else {
			opts = append(opts, scoring.WithRecorder(mon))
			deps.Stats = mon
		}
	}

	deps.Scoring = scoring.NewService(schemaStore.Schema(), adapter, opts...)

	srv := api.NewServer(cfg.Server, deps)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("sentify is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"model_loaded", adapter.Loaded(),
	)

	printBanner(cfg, Version, adapter.Loaded())

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop the monitor after the server so in-flight fallbacks are counted
	if mon != nil {
		if err := mon.Stop(); err != nil {
			slog.Error("failed to stop fallback monitor", "error", err)
		}
	}

	slog.Info("sentify shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string, modelLoaded bool) {
	status := "loaded"
	if !modelLoaded {
		status = "NOT LOADED (fallback scoring)"
	}

	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 SENTIFY                   |")
	fmt.Println("  |          Customer Risk Scoring            |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Model:    %s\n", status)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict  - Score a customer record")
	fmt.Println("    GET  /health   - Health check")
	fmt.Println("    GET  /ready    - Readiness of cache and event bus")
	fmt.Println("    GET  /schema   - Expected feature names")
	fmt.Println("    GET  /model    - Loaded model metadata")
	fmt.Println("    GET  /stats    - Prediction and fallback counters")
	fmt.Println()
}
