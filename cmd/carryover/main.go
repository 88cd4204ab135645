package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aevon-lab/project-carryover/internal/auth"
	corecfg "github.com/aevon-lab/project-carryover/internal/core/config"
	"github.com/aevon-lab/project-carryover/internal/core/storage"
	"github.com/aevon-lab/project-carryover/internal/core/storage/memory"
	"github.com/aevon-lab/project-carryover/internal/core/storage/postgres"
	"github.com/aevon-lab/project-carryover/internal/migrations"
	"github.com/aevon-lab/project-carryover/internal/plans"
	plansapi "github.com/aevon-lab/project-carryover/internal/plans/api"
	"github.com/aevon-lab/project-carryover/internal/reliable"
	"github.com/aevon-lab/project-carryover/internal/renewal"
	"github.com/aevon-lab/project-carryover/internal/server"
)

const shutdownTimeout = 30 * time.Second

// store is what the service needs from a storage backend.
type store interface {
	storage.CarryOverStore
	storage.DocumentStore
}

func main() {
	configPath := flag.String("config", "carryover.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"database", cfg.Database.Type,
		"renewal_enabled", cfg.Renewal.Enabled,
		"security_enabled", cfg.Security.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize Storage
	var (
		st     store
		health server.HealthChecker
	)
	switch cfg.Database.Type {
	case "postgres":
		db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		// 2.1. Run Database Migrations
		if err := migrations.RunMigrations(db, cfg.Database.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}

		adapter, err := postgres.NewAdapter(db)
		if err != nil {
			slog.Error("Failed to initialize database adapter", "error", err)
			os.Exit(1)
		}
		defer adapter.Close()

		st = adapter
		health = server.HealthCheckerFunc(db.PingContext)
	default:
		slog.Warn("Using in-memory store; data is lost on restart")
		st = memory.NewStore()
	}

	// 3. Initialize Plan Resolution
	registry, err := plans.NewRegistry(st, plans.CacheOptions{
		Capacity: cfg.Cache.Capacity,
		TTL:      cfg.Cache.TTLDuration(),
	})
	if err != nil {
		slog.Error("Failed to initialize plan registry", "error", err)
		os.Exit(1)
	}
	if err := registry.SeedDefaultMappings(ctx); err != nil {
		slog.Error("Failed to seed default mappings", "error", err)
		os.Exit(1)
	}

	// 4. Initialize Token Provider and Reliable Client
	var tokens reliable.TokenSource
	if cfg.Security.Enabled {
		provider := auth.NewProvider(auth.Credentials{
			TokenURL:     cfg.Security.TokenURL,
			ClientID:     cfg.Security.ClientID,
			ClientSecret: cfg.Security.ClientSecret,
			Scopes:       cfg.Security.Scopes,
		})
		provider.Start(ctx)
		tokens = provider
	}

	client := reliable.NewClient(reliable.Options{
		Throttle:         cfg.Client.Throttle,
		BatchSize:        cfg.Client.BatchSize,
		RatePerSecond:    cfg.Client.RatePerSecond,
		MaxRetries:       cfg.Client.MaxRetries,
		BreakerThreshold: cfg.Client.BreakerThreshold,
		BreakerTimeout:   cfg.Client.BreakerTimeoutDuration(),
		Timeout:          cfg.Client.TimeoutDuration(),
	}, tokens)

	// 5. Initialize Renewal Engine
	engine := renewal.NewEngine(st, renewal.NewHTTPCollector(cfg.Renewal.CollectorURL, client), tokens, renewal.Options{
		RetryInterval:   cfg.Renewal.RetryIntervalDuration(),
		PageSize:        cfg.EffectivePageSize(),
		Slack:           cfg.Renewal.Slack(),
		SecurityEnabled: cfg.Security.Enabled,
	})

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), health, cfg.Server.Mode, cfg.Server.MaxBodySizeMB)
	plansapi.NewService(registry).RegisterRoutes(srv.Engine)
	renewal.NewStatusService(engine, client.BreakerState).RegisterRoutes(srv.Engine)

	// 7. Start Services
	// The engine gets its own context so a signal does not cut a running cycle short.
	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()
	if cfg.Renewal.Enabled {
		engine.Start(engineCtx)
	} else {
		slog.Info("Usage renewal disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Renewal cycle did not finish before shutdown", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
