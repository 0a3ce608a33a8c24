package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/plume-agent/plume/internal/config"
	"github.com/plume-agent/plume/internal/coordinator"
	"github.com/plume-agent/plume/internal/database"
	"github.com/plume-agent/plume/internal/events"
	"github.com/plume-agent/plume/internal/ledger"
	"github.com/plume-agent/plume/internal/memory"
	"github.com/plume-agent/plume/internal/metrics"
	"github.com/plume-agent/plume/internal/planner"
	"github.com/plume-agent/plume/internal/quota"
	iredis "github.com/plume-agent/plume/internal/redis"
	"github.com/plume-agent/plume/internal/retention"
	"github.com/plume-agent/plume/internal/upstream"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return 1
	}

	setupLogger(cfg.Log)

	loc, err := time.LoadLocation(cfg.Agent.Timezone)
	if err != nil {
		slog.Error("loading timezone", "error", err)
		return 1
	}

	ctx := context.Background()

	// PostgreSQL
	if cfg.DB.AutoMigrate {
		if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
			slog.Error("running migrations", "error", err)
			return 1
		}
	}
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		return 1
	}
	defer pool.Close()

	// Redis: the cross-invocation poll guard. Optional; the ledger
	// timestamp remains authoritative without it.
	var guard coordinator.PollGuard
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, poll guard disabled", "error", err)
	} else {
		defer redisClient.Close()
		guard = quota.NewMentionWindow(redisClient)
	}

	// NATS events. Optional; an empty URL disables publishing.
	var publisher *events.Publisher
	if cfg.NATS.URL != "" {
		natsClient, err := events.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Warn("NATS unavailable, event publishing disabled", "error", err)
		} else {
			defer natsClient.Close()
			if !natsClient.Healthy() {
				slog.Warn("NATS connection not yet established, events may be dropped")
			}
			publisher = events.NewPublisher(natsClient.JetStream())
		}
	}

	// Stores and services
	ledgerRepo := ledger.NewRepository(pool)
	memoryRepo := memory.NewPostgresRepository(pool, cfg.Limits.EmbeddingDim)
	clients := upstream.NewClients(cfg.Upstream)
	dedup := memory.NewDedup(clients.Embedder, memoryRepo)
	engine := quota.NewEngine(cfg.Limits)

	retention.NewRunner(cfg.Retention, ledgerRepo, memoryRepo, slog.Default()).Run(ctx)

	graph := planner.NewGraph(cfg.Agent, cfg.Limits, engine,
		clients.Trends,
		coordinator.NewDedupChecker(dedup, cfg.Limits),
		slog.Default())

	coord := coordinator.New(cfg, loc, coordinator.Deps{
		Store:    ledgerRepo,
		Engine:   engine,
		Guard:    guard,
		Planner:  graph,
		Producer: clients.Producer,
		Platform: clients.Platform,
		Dedup:    dedup,
		Memories: memoryRepo,
		Events:   publisher,
		Logger:   slog.Default(),
	})

	out, err := coord.Run(ctx)
	metrics.Push(cfg.Metrics)
	if err != nil {
		slog.Error("invocation aborted", "error", err)
		return 1
	}
	if out.Status == coordinator.StatusFailed {
		return 1
	}
	return 0
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
