// Command stream-herald watches a fixed set of Twitch and YouTube broadcasters
// and maintains exactly one Discord notification message per live session.
// It:
//   - Receives Twitch EventSub webhooks and YouTube WebSub feed pushes.
//   - Snipes announced start times with an adaptive polling ladder.
//   - Health-checks live sessions and closes notifications on silent offline.
//   - Persists the pending-check table (file or Postgres) across restarts and
//     reconciles from Discord channel history when the snapshot is gone.
//
// Shutdown is graceful on SIGINT/SIGTERM with a final snapshot save.
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
	"github.com/onnwee/stream-herald/discord"
	"github.com/onnwee/stream-herald/notify"
	"github.com/onnwee/stream-herald/sched"
	"github.com/onnwee/stream-herald/server"
	"github.com/onnwee/stream-herald/state"
	"github.com/onnwee/stream-herald/telemetry"
	"github.com/onnwee/stream-herald/twitchapi"
	"github.com/onnwee/stream-herald/youtubeapi"
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

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("stream-herald", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Discord is the one connection this process cannot run without.
	disc := &discord.Client{Token: cfg.DiscordToken, ChannelID: cfg.DiscordChannelID}
	if err := disc.Connect(ctx); err != nil {
		slog.Error("discord connection failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Snapshot store: file by default, Postgres when configured.
	var store state.Store
	switch cfg.StateBackend {
	case "postgres":
		db, err := state.Connect(cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := db.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		store, err = state.NewPostgresStore(ctx, db)
		if err != nil {
			slog.Error("failed to prepare state table", slog.Any("err", err))
			os.Exit(1)
		}
	default:
		store = state.NewFileStore(cfg.StatePath)
	}

	// Scheduler: every table mutation writes the snapshot. Save failures are
	// logged and retried by the next mutation or the periodic safety net.
	sch := sched.New(func(snap state.Snapshot) {
		saveSnapshot(ctx, store, snap)
	})

	// Tracked entities and platform sources.
	entities := notify.NewSet(cfg.TwitchStreamers, cfg.YouTubeChannels)
	sources := make(map[notify.Platform]notify.Source)

	var helix *twitchapi.HelixClient
	if err := cfg.ValidateTwitchReady(); err == nil {
		helix = &twitchapi.HelixClient{
			TokenSource: twitchapi.NewAppTokenSource(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret),
			ClientID:    cfg.TwitchClientID,
		}
		sources[notify.PlatformTwitch] = &notify.TwitchSource{Helix: helix}
		indexTwitchLogins(ctx, helix, cfg, entities)
	} else if len(cfg.TwitchStreamers) > 0 {
		slog.Warn("twitch streamers configured but twitch is not ready", slog.Any("err", err))
	}

	var ytSvc *youtubeapi.Service
	if err := cfg.ValidateYouTubeReady(); err == nil {
		ytSvc, err = youtubeapi.New(ctx, cfg.YouTubeAPIKey)
		if err != nil {
			slog.Error("youtube service init failed", slog.Any("err", err))
			os.Exit(1)
		}
		sources[notify.PlatformYouTube] = &notify.YouTubeSource{Svc: ytSvc}
	} else if len(cfg.YouTubeChannels) > 0 {
		slog.Warn("youtube channels configured but youtube is not ready", slog.Any("err", err))
	}

	resolver := notify.NewResolver(entities, disc, sources, sch, cfg.HealthCheckInterval)
	go resolver.Run(ctx)

	// Load the persisted check table. Missing or corrupt data degrades to an
	// empty table, never a failed startup.
	snap, err := store.Load(ctx)
	if err != nil {
		slog.Warn("snapshot load failed, starting with empty table",
			slog.String("class", string(notify.ClassPersistence)), slog.Any("err", err))
	}
	sch.Restore(snap)

	// Rebuild live sessions from channel history before any timer or
	// subscription can produce new events. Restored checks stay held until
	// Start runs, so none can fire mid-reconciliation.
	if err := resolver.Reconcile(ctx); err != nil {
		slog.Warn("reconciliation failed", slog.Any("err", err))
	}
	sch.Start(ctx, resolver.OnCheck)

	// (Re)create EventSub subscriptions from scratch for every tracked
	// broadcaster, then keep WebSub leases fresh.
	if helix != nil && cfg.PublicURL != "" {
		setupEventSub(ctx, helix, cfg)
	}
	var websub *youtubeapi.Subscriber
	if ytSvc != nil && cfg.PublicURL != "" {
		websub = youtubeapi.NewSubscriber(cfg.PublicURL + "/webhooks/youtube")
		go maintainWebSubLeases(ctx, websub, cfg)
	}

	// Sweep recent uploads for streams missed while the process was down.
	if ytSvc != nil {
		go resolver.BackfillYouTube(ctx, ytSvc, cfg.YouTubeBackfillCheck)
	}

	// Periodic snapshot safety net.
	go func() {
		ticker := time.NewTicker(cfg.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				saveSnapshot(ctx, store, sch.Snapshot())
			}
		}
	}()

	// HTTP server (webhooks/health/status/metrics)
	handlers := &server.Handlers{
		Resolver:       resolver,
		Checks:         sch,
		EventSubSecret: cfg.TwitchEventSubSecret,
	}
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal, then persist the table one last time.
	<-ctx.Done()
	slog.Info("shutting down")
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	saveSnapshot(saveCtx, store, sch.Snapshot())
}

func saveSnapshot(ctx context.Context, store state.Store, snap state.Snapshot) {
	if telemetry.SnapshotSaves != nil {
		telemetry.SnapshotSaves.Inc()
	}
	if err := store.Save(ctx, snap); err != nil {
		slog.Warn("snapshot save failed",
			slog.String("class", string(notify.ClassPersistence)), slog.Any("err", err))
		if telemetry.SnapshotSaveFails != nil {
			telemetry.SnapshotSaveFails.Inc()
		}
	}
}

// indexTwitchLogins resolves tracked broadcaster ids to logins so channel
// history URLs can be reverse-mapped during reconciliation.
func indexTwitchLogins(ctx context.Context, helix *twitchapi.HelixClient, cfg *config.Config, entities *notify.Set) {
	ids := make([]string, 0, len(cfg.TwitchStreamers))
	for _, st := range cfg.TwitchStreamers {
		ids = append(ids, st.ID)
	}
	users, err := helix.GetUsers(ctx, ids)
	if err != nil {
		slog.Warn("twitch login lookup failed, reconciliation limited to youtube", slog.Any("err", err))
		return
	}
	for _, u := range users {
		entities.SetTwitchLogin(u.ID, u.Login)
	}
}

// setupEventSub deletes all existing subscriptions and registers fresh
// online/offline pairs for every tracked broadcaster. Starting clean avoids
// stale callbacks pointing at old deployments.
func setupEventSub(ctx context.Context, helix *twitchapi.HelixClient, cfg *config.Config) {
	if err := helix.DeleteAllSubscriptions(ctx); err != nil {
		slog.Warn("deleting old eventsub subscriptions failed", slog.Any("err", err))
	}
	callback := cfg.PublicURL + "/webhooks/twitch"
	for _, st := range cfg.TwitchStreamers {
		for _, subType := range []string{twitchapi.SubStreamOnline, twitchapi.SubStreamOffline} {
			if err := helix.CreateSubscription(ctx, subType, st.ID, callback, cfg.TwitchEventSubSecret); err != nil {
				slog.Warn("eventsub subscription failed",
					slog.String("class", string(notify.ClassHandshake)),
					slog.String("broadcaster", st.ID), slog.String("type", subType), slog.Any("err", err))
			}
		}
	}
}

// maintainWebSubLeases subscribes every tracked channel immediately and renews
// well inside the hub lease window. Failures are logged and retried on the
// next tick; they never stop steady-state processing.
func maintainWebSubLeases(ctx context.Context, sub *youtubeapi.Subscriber, cfg *config.Config) {
	renew := func() {
		for _, ch := range cfg.YouTubeChannels {
			if err := sub.Subscribe(ctx, ch.ID); err != nil {
				slog.Warn("websub lease request failed",
					slog.String("class", string(notify.ClassHandshake)),
					slog.String("channel", ch.ID), slog.Any("err", err))
			}
		}
	}
	renew()
	ticker := time.NewTicker(cfg.SubscriptionRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renew()
		}
	}
}
