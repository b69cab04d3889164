// Command matchflow is the main entrypoint for the debate match orchestrator.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Wires the room provider and judge clients, the confirmation coordinator,
//     the attendance guard, the result finalizer and the pending-result sweep.
//   - Recovers armed timers for open slots after a restart.
//   - Exposes an HTTP server with health, status, metrics, admin scheduling
//     and confirmation event endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/debatehub/matchflow/chat"
	"github.com/debatehub/matchflow/config"
	"github.com/debatehub/matchflow/db"
	"github.com/debatehub/matchflow/judgeapi"
	"github.com/debatehub/matchflow/match"
	"github.com/debatehub/matchflow/meetapi"
	"github.com/debatehub/matchflow/notify"
	"github.com/debatehub/matchflow/server"
	"github.com/debatehub/matchflow/telemetry"
	"github.com/debatehub/matchflow/timer"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config validation failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("matchflow", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations using dual-system approach:
	// 1. Primary: versioned migrations (golang-migrate) from db/migrations/
	// 2. Fallback: embedded SQL (db.Migrate) for fresh or pre-migration databases
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed", slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// External adapters. The room provider and judge are core dependencies;
	// missing credentials are fatal.
	if err := cfg.ValidateMeetReady(); err != nil {
		slog.Error("room provider not configured", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateJudgeReady(); err != nil {
		slog.Error("judge not configured", slog.Any("err", err))
		os.Exit(1)
	}
	provider := meetapi.NewClient(cfg)
	judge := judgeapi.NewClient(cfg)

	// Notification sink: Twitch chat when credentials are present, otherwise
	// the structured log.
	var sink notify.Sink
	if err := cfg.ValidateChatReady(); err == nil {
		twitchSink := chat.NewTwitchSink(cfg)
		go func() {
			if err := twitchSink.Start(ctx); err != nil {
				slog.Error("twitch sink exited", slog.Any("err", err))
			}
		}()
		sink = twitchSink
		slog.Info("twitch notification sink enabled", slog.String("channel", cfg.TwitchChannel))
	} else {
		sink = notify.LogSink{}
		slog.Info("twitch sink disabled, notifications go to the log", slog.Any("reason", err))
	}

	// Core lifecycle components
	store := db.New(database)
	timers := timer.NewRegistry()
	coord := match.NewCoordinator(ctx, store, judge, sink, timers, cfg)
	guard := match.NewGuard(ctx, store, provider, sink, timers, cfg)
	finalizer := match.NewFinalizer(store, provider, judge, sink, timers, cfg)
	coord.Bind(guard, finalizer)
	scheduler := match.NewScheduler(store, provider, coord, cfg)

	// Re-arm timers for slots that were open when the previous process died.
	if err := coord.Recover(ctx); err != nil {
		slog.Error("timer recovery failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Pending-result sweep catches slots whose finalize timer was lost.
	finalizer.StartSweepJob(ctx)

	// HTTP server (health/status/metrics/admin/events)
	handlers := server.NewHandlers(database, store, scheduler, coord, timers)
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
