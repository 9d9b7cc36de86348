// Command livebot is the main entrypoint for the live notification service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Wires the Twitch Helix client, the Discord delivery platform, the
//     notification fan-out, and the stream/VOD resolvers.
//   - Exposes the EventSub webhook plus /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/thedrkness/livebot/chat"
	"github.com/thedrkness/livebot/config"
	"github.com/thedrkness/livebot/db"
	"github.com/thedrkness/livebot/discordapi"
	"github.com/thedrkness/livebot/notify"
	"github.com/thedrkness/livebot/resolver"
	"github.com/thedrkness/livebot/server"
	"github.com/thedrkness/livebot/telemetry"
	"github.com/thedrkness/livebot/twitchapi"
)

// deliveryPipeline fans out to Discord and mirrors the result into Twitch chat.
type deliveryPipeline struct {
	fanout    *notify.Fanout
	announcer *chat.Announcer
}

func (p *deliveryPipeline) DeliverOnline(ctx context.Context, info notify.OnlineInfo) []notify.DeliveryResult {
	results := p.fanout.DeliverOnline(ctx, info)
	p.announcer.AnnounceOnline(info)
	return results
}

func (p *deliveryPipeline) DeliverOffline(ctx context.Context, info notify.OfflineInfo) []notify.DeliveryResult {
	results := p.fanout.DeliverOffline(ctx, info)
	p.announcer.AnnounceOffline(info)
	return results
}

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
	if err := cfg.ValidateNotifyReady(); err != nil {
		slog.Error("configuration incomplete", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("livebot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Best-effort: prime the Twitch app access token so startup surfaces bad
	// credentials immediately instead of on the first live signal.
	tokenSource := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	{
		ctx2, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		if tok, err := tokenSource.Get(ctx2); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok) > 6 {
			masked := "***" + tok[len(tok)-6:]
			slog.Info("twitch app token acquired", slog.String("tail", masked))
		}
		cancel()
	}

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

	// Versioned migrations first; embedded SQL as fallback for deployments
	// that predate the schema_migrations table.
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
		slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Delivery side: Discord platform, permission guard, message tracker, fan-out.
	discord := &discordapi.Client{Token: cfg.DiscordBotToken, BotUserID: cfg.DiscordBotID}
	tracker := notify.NewTracker(cfg.MessageFreshnessWindow)
	fanout := notify.NewFanout(discord, tracker, func(fctx context.Context) ([]db.Subscription, error) {
		return db.ListSubscriptions(fctx, database)
	})
	if err := notify.StartSweep(ctx, tracker); err != nil {
		slog.Error("tracker sweep job failed to start", slog.Any("err", err))
		os.Exit(1)
	}

	announcer := chat.StartAnnouncer(ctx, *cfg)
	pipeline := &deliveryPipeline{fanout: fanout, announcer: announcer}

	// Resolution side: Helix probes racing timeouts.
	helix := &twitchapi.HelixClient{AppTokenSource: tokenSource, ClientID: cfg.TwitchClientID}
	svc := resolver.New(db.StateStore{DB: database}, helix, pipeline, resolver.Config{
		ChannelID:           cfg.TwitchChannelID,
		ChannelLogin:        cfg.TwitchChannelLogin,
		ChannelDisplay:      cfg.TwitchChannelDisplay,
		OnlinePollInterval:  cfg.OnlinePollInterval,
		OnlinePollTimeout:   cfg.OnlinePollTimeout,
		OfflinePollInterval: cfg.OfflinePollInterval,
		OfflinePollTimeout:  cfg.OfflinePollTimeout,
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (webhook ingress + health/status/metrics + subscription admin)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		if err := server.Start(ctx, database, svc, server.Options{
			ChannelID:      cfg.TwitchChannelID,
			EventSubSecret: cfg.EventSubSecret,
		}, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	slog.Info("livebot started",
		slog.String("channel_id", cfg.TwitchChannelID),
		slog.String("channel_login", cfg.TwitchChannelLogin),
		slog.String("http_addr", addr))

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
