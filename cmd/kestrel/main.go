// Kestrel - Fraud scoring for instant payments.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/gates"
	"github.com/opensource-finance/kestrel/internal/intel"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
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
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

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

	// Initialize threat-intel client (optional)
	var intelClient *intel.Client
	if cfg.Intel.Enabled {
		intelClient = intel.NewClient(cfg.Intel, cacheImpl)
		intelClient.Start(ctx)
		slog.Info("threat intel client started", "feed_hosts", intelClient.FeedSize())
	}

	// Initialize Velocity Service
	velocitySvc := velocity.NewService(repo, cacheImpl)
	slog.Info("velocity service initialized")

	// Initialize Detectors. A missing model artifact degrades the
	// detector to rule-only mode, it never blocks startup.
	detectors := buildDetectors(cfg.ModelDir, intelClient)

	// Initialize custom gate engine and load rules from database
	// (no hardcoded defaults - configure via POST /rules API)
	customGates, err := gates.NewCustomEngine()
	if err != nil {
		slog.Error("failed to initialize custom gate engine", "error", err)
		os.Exit(1)
	}
	if err := loadGateRulesFromDatabase(ctx, repo, customGates); err != nil {
		slog.Error("failed to load gate rules", "error", err)
		os.Exit(1)
	}
	slog.Info("custom gate engine initialized", "rules_count", customGates.RuleCount())

	// Initialize Orchestrator
	orchestrator := scoring.New(detectors, cfg.Policy,
		scoring.WithRepository(repo),
		scoring.WithEventBus(busImpl),
		scoring.WithCustomGates(customGates),
		scoring.WithVelocity(velocitySvc.Getter()),
	)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, orchestrator)
		if err := asyncWorker.Start(worker.Config{Concurrency: 8}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, orchestrator, customGates, detectors, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_MODEL_DIR"); v != "" {
		cfg.ModelDir = v
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_INTEL_URL"); v != "" {
		cfg.Intel.Enabled = true
		cfg.Intel.LookupURL = v
		cfg.Intel.APIKey = os.Getenv("KESTREL_INTEL_API_KEY")
	}
	if v := os.Getenv("KESTREL_PHISH_FEED_URL"); v != "" {
		cfg.Intel.Enabled = true
		cfg.Intel.PhishFeedURL = v
	}
}

// buildDetectors loads each detector's classifier artifact from modelDir.
func buildDetectors(modelDir string, intelClient *intel.Client) []domain.Detector {
	load := func(signal string) *detector.Model {
		path := filepath.Join(modelDir, signal+".json")
		model, err := detector.LoadModel(path)
		if err != nil {
			slog.Warn("model artifact unavailable, detector runs rule-only",
				"detector", signal,
				"path", path,
				"error", err,
			)
			return nil
		}
		slog.Info("model artifact loaded", "detector", signal, "path", path)
		return model
	}

	var urlChecker detector.URLChecker
	if intelClient != nil {
		urlChecker = intelClient
	}

	return []domain.Detector{
		detector.NewPhishing(load(domain.SignalPhishing), urlChecker),
		detector.NewQuishing(load(domain.SignalQuishing)),
		detector.NewCollect(load(domain.SignalCollect)),
		detector.NewMalware(load(domain.SignalMalware)),
	}
}

// loadGateRulesFromDatabase loads custom gate rules into the engine.
// All rules must be configured via POST /rules API - no hardcoded defaults.
func loadGateRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *gates.CustomEngine) error {
	dbRules, err := repo.ListGateRules(ctx)
	if err != nil {
		slog.Warn("failed to list gate rules from database", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading gate rules from database", "count", len(dbRules))
		return engine.ReloadRules(dbRules)
	}

	slog.Info("no gate rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║       Payment Fraud Scoring Engine        ║")
	fmt.Println("  ║      Every payment earns its trust.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/score             - Score a transaction")
	fmt.Println("    GET  /api/v1/evaluations/{id}  - Get evaluation by ID")
	fmt.Println("    GET  /api/v1/transactions/{id} - Get transaction by ID")
	fmt.Println("    GET  /api/v1/review/queue      - List pending reviews")
	fmt.Println("    POST /api/v1/review            - Submit analyst decision")
	fmt.Println("    GET  /api/v1/rules             - List custom gate rules")
	fmt.Println("    POST /api/v1/rules             - Create a custom gate rule")
	fmt.Println("    POST /api/v1/rules/reload      - Hot-reload rules from database")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
