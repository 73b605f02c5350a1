// Kestrel - Deterministic risk scoring for SAR case workflows.
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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/telemetry"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load(config.Options{File: os.Getenv(config.EnvPrefix + "_CONFIG")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		os.Exit(1)
	}

	logger, syncLogs, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("kestrel stopped with error", "error", err)
		_ = syncLogs()
		os.Exit(1)
	}
	_ = syncLogs()
}

func run(cfg *domain.Config) error {
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"profiles_dir", cfg.Profiles.Dir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	processor := policy.NewProcessor(cfg.Policy.SARThreshold)
	processor.RepeatEscalation = cfg.Policy.RepeatEscalation
	if cfg.Policy.MinThreshold > 0 {
		processor.MinThreshold = cfg.Policy.MinThreshold
	}
	slog.Info("policy initialized",
		"sar_threshold", processor.SARThreshold,
		"repeat_escalation", processor.RepeatEscalation,
		"min_threshold", processor.MinThreshold,
	)

	svc, err := pipeline.New(pipeline.Deps{
		Registry:   profile.NewRegistry(cfg.Profiles.Default),
		Policy:     processor,
		Velocity:   velocity.NewService(repo, cacheImpl, cfg.Policy.VelocityWindow),
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Metrics:    metrics,
		ProfileDir: cfg.Profiles.Dir,
	}, pipeline.Options{Concurrency: cfg.Worker.Concurrency})
	if err != nil {
		return err
	}

	// A bad profile file or stored profile stops startup rather than
	// serving with a partial set.
	names, err := svc.ReloadProfiles(ctx, domain.GlobalTenantID)
	if err != nil {
		return fmt.Errorf("failed to load risk profiles: %w", err)
	}
	if _, err := svc.Registry().Get(cfg.Profiles.Default); err != nil {
		return fmt.Errorf("default profile: %w", err)
	}
	slog.Info("risk profiles ready", "profiles", names, "default", cfg.Profiles.Default)

	var asyncWorker *worker.Worker
	if cfg.Worker.Async {
		asyncWorker = worker.NewWorker(busImpl, svc)
		workerCfg := worker.Config{
			TenantIDs:   cfg.Worker.Tenants,
			Concurrency: cfg.Worker.Concurrency,
			Timeout:     cfg.Worker.Timeout,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, svc, metrics, reg, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version, len(names))

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}
	slog.Info("shutting down...")

	// Stop consuming before the backends close.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return serveErr
}

func printBanner(cfg *domain.Config, version string, profiles int) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 KESTREL                   ║")
	fmt.Println("  ║      Case Risk Scoring for SAR Teams      ║")
	fmt.Println("  ║      Same case, same score. Always.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Profiles: %d (default %s)\n", profiles, cfg.Profiles.Default)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /cases/evaluate    - Assess one case")
	fmt.Println("    POST   /cases/batch       - Assess a customer upload")
	fmt.Println("    GET    /cases             - List cases")
	fmt.Println("    GET    /cases/{id}        - Get case by ID")
	fmt.Println("    PATCH  /cases/{id}/status - Move a case through review")
	fmt.Println("    DELETE /cases/{id}        - Delete a case")
	fmt.Println("    GET    /assessments/{id}  - Get assessment by ID")
	fmt.Println("    GET    /profiles          - List loaded risk profiles")
	fmt.Println("    POST   /profiles          - Store a risk profile")
	fmt.Println("    POST   /profiles/reload   - Hot-reload risk profiles")
	fmt.Println("    DELETE /profiles/{name}   - Disable a stored profile")
	fmt.Println("    GET    /health            - Health check")
	fmt.Println("    GET    /metrics           - Prometheus metrics")
	fmt.Println()
}
