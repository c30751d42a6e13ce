// Command live-herald announces Twitch go-live events to Discord guilds.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the state store and restores followed channels.
//   - Connects to Discord and routes chat commands to the notifier engine.
//   - Serves the hub callback plus /healthz, /readyz, /status and /metrics.
//   - Renews hub subscriptions on an interval.
//
// Shutdown is graceful on SIGINT/SIGTERM; state is saved before exit.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/live-herald/commands"
	"github.com/onnwee/live-herald/config"
	"github.com/onnwee/live-herald/discord"
	"github.com/onnwee/live-herald/notifier"
	"github.com/onnwee/live-herald/server"
	"github.com/onnwee/live-herald/store"
	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/twitchapi"
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

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateTwitch(); err != nil {
		slog.Error("twitch config invalid", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateDiscord(); err != nil {
		slog.Error("discord config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Tracing is a no-op unless OTEL_EXPORTER_OTLP_ENDPOINT is set.
	shutdownTracing, err := telemetry.InitTracing("live-herald", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(ctx, 30*time.Second)
	st, err := store.Open(openCtx, store.Config{
		DSN:           cfg.StateDSN,
		EncryptionKey: cfg.StateEncryptionKey,
		GCSEndpoint:   cfg.GCSEndpoint,
	})
	cancelOpen()
	if err != nil {
		slog.Error("failed to open state store", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close state store", slog.Any("err", err))
		}
	}()

	httpClient := &http.Client{Timeout: twitchapi.DefaultHTTPTimeout}
	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret, HTTPClient: httpClient},
		ClientID:       cfg.TwitchClientID,
		HTTPClient:     httpClient,
	}
	hub := &twitchapi.Hub{Client: helix, Callback: cfg.CallbackURL, LeaseSeconds: cfg.LeaseSeconds}

	clock := clockwork.NewRealClock()
	var dedup notifier.DedupWindow
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", slog.Any("err", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		dedup = notifier.NewRedisDedup(rdb, cfg.DedupWindow, "")
		slog.Info("dedup window backed by redis", slog.String("addr", opts.Addr))
	} else {
		mem := notifier.NewMemoryDedup(clock, cfg.DedupWindow)
		defer mem.Stop()
		dedup = mem
	}

	bot, err := discord.New(cfg.DiscordToken)
	if err != nil {
		slog.Error("discord init failed", slog.Any("err", err))
		os.Exit(1)
	}

	engine := notifier.New(notifier.Options{
		Hub:           hub,
		Directory:     helix,
		Streams:       helix,
		Poster:        bot.Poster(),
		Store:         st,
		Dedup:         dedup,
		Clock:         clock,
		RenewInterval: cfg.RenewInterval,
		RenewWithin:   cfg.RenewWithin,
		DedupWindow:   cfg.DedupWindow,
	})
	if err := engine.Load(ctx); err != nil {
		slog.Error("failed to load state", slog.Any("err", err))
		os.Exit(1)
	}

	if err := bot.Start(commands.NewRouter(engine, cfg.CommandPrefix)); err != nil {
		slog.Error("discord start failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := bot.Close(); err != nil {
			slog.Warn("discord close failed", slog.Any("err", err))
		}
	}()

	// Seed live state so streams already running are not announced again.
	if err := engine.Resync(ctx); err != nil {
		slog.Warn("initial resync failed", slog.Any("err", err))
	}

	go engine.RunRenewer(ctx)

	go func() {
		deps := server.Deps{Engine: engine, Store: st, ChatReady: bot.Ready}
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelSave()
	if err := engine.Save(saveCtx); err != nil {
		slog.Error("final state save failed", slog.Any("err", err))
	}
}
