// Command stream-herald keeps Discord schedule channels in sync with Twitch
// broadcast calendars. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the scheduler clock that fires per-guild reconciliations.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics and
//     admin endpoints to force, preview, or test a sync.
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
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/stream-herald/config"
	"github.com/onnwee/stream-herald/db"
	"github.com/onnwee/stream-herald/discord"
	"github.com/onnwee/stream-herald/schedule"
	"github.com/onnwee/stream-herald/server"
	"github.com/onnwee/stream-herald/telemetry"
	"github.com/onnwee/stream-herald/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

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

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateSyncReady(); err != nil {
		slog.Error("missing required configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("stream-herald", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.ConnectDSN(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	defaultLoc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		slog.Error("invalid default timezone", slog.String("tz", cfg.DefaultTimezone), slog.Any("err", err))
		os.Exit(1)
	}

	tokens := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
	}
	twitch := &twitchapi.Client{Tokens: tokens, ClientID: cfg.TwitchClientID}
	chat := &discord.Client{BotToken: cfg.DiscordBotToken}

	// Best-effort startup checks so misconfiguration shows up in logs early.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 8*time.Second)
	if _, err := tokens.Get(startupCtx); err != nil {
		slog.Warn("twitch app token fetch failed", slog.Any("err", err))
	}
	if me, err := chat.Me(startupCtx); err != nil {
		slog.Warn("discord identity check failed", slog.Any("err", err))
	} else {
		slog.Info("discord connected", slog.String("bot_user_id", me))
	}
	cancelStartup()

	engine := &schedule.Engine{
		DB:                 database,
		Chat:               chat,
		Twitch:             twitch,
		DataDir:            cfg.DataDir,
		DefaultFontURL:     cfg.DefaultFontURL,
		DefaultTemplateURL: cfg.DefaultTemplateURL,
		DefaultLocation:    defaultLoc,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := &schedule.Clock{
		DB:              database,
		Engine:          engine,
		Interval:        cfg.TickInterval,
		DefaultLocation: defaultLoc,
	}
	go clock.RunLoop(ctx)

	go func() {
		if err := server.Start(ctx, database, engine, cfg.ListenAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}
