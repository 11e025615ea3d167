package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"crypto-signal-bot-go/internal/alarms"
	"crypto-signal-bot-go/internal/api"
	"crypto-signal-bot-go/internal/coinmarketcap"
	"crypto-signal-bot-go/internal/config"
	"crypto-signal-bot-go/internal/database"
	"crypto-signal-bot-go/internal/history"
	"crypto-signal-bot-go/internal/logger"
	"crypto-signal-bot-go/internal/metrics"
	"crypto-signal-bot-go/internal/notify"
	"crypto-signal-bot-go/internal/scheduler"
	sig "crypto-signal-bot-go/internal/signal"
	"crypto-signal-bot-go/internal/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const configPath = "./configs"

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.Int("symbols", len(cfg.Symbols)))

	source, err := config.NewSource(configPath, log)
	if err != nil {
		log.Fatal("Failed to open config source", zap.Error(err))
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	repo, closeRepo, err := database.NewSignalRepository(ctx, cfg.Database, db, log)
	if err != nil {
		log.Fatal("Failed to open signal repository", zap.Error(err))
	}
	defer closeRepo()

	// Initialize CoinMarketCap REST client
	client, err := coinmarketcap.NewRestClient(&cfg.CoinMarketCap, log)
	if errors.Is(err, config.ErrMissingAPIKey) {
		log.Fatal("CoinMarketCap API key is not configured", zap.Error(err))
	}
	if err != nil {
		log.Fatal("Failed to create CoinMarketCap client", zap.Error(err))
	}
	if _, err := client.GetListings(ctx, 1); err != nil {
		log.Warn("CoinMarketCap API is not reachable yet", zap.Error(err))
	} else {
		log.Info("Successfully connected to CoinMarketCap API.")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(reg)

	notifier := newNotifier(cfg.Telegram, log)
	store := history.NewStore(db, cfg.History.Retention)

	var alarmService *alarms.Service
	if cfg.Alarms.Enabled {
		alarmService = alarms.NewService(db, cfg.Alarms.Tolerance, log)
	}

	generator := sig.NewGenerator(client, store, alarmService, repo, notifier, recorder, log).
		WithWindow(cfg.History.Window)
	supervisor := scheduler.NewSupervisor(source, generator, cfg.Defaults.MaxConcurrentCoins, recorder, log)
	source.OnChange(func(config.Config) { supervisor.Reconcile(ctx) })
	source.Watch()

	outcomes := tracker.NewTracker(client, repo, alarmService, notifier, recorder,
		cfg.Tracker.Interval, cfg.Tracker.Expiry, log)

	var apiServer *api.APIServer
	if cfg.Server.Enabled {
		apiServer = api.NewAPIServer(cfg.Server.Port, api.Deps{
			Repo:     repo,
			Tasks:    supervisor,
			Client:   client,
			Source:   source,
			History:  store,
			Gatherer: reg,
		}, log)
		apiServer.Start()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outcomes.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		purgeHistory(ctx, store, cfg.History.Retention, log)
	}()

	supervisor.StartAll(ctx)
	log.Info("Signal bot started", zap.Strings("running", supervisor.Running()))

	<-ctx.Done()
	supervisor.StopAll()
	wg.Wait()

	if apiServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop API server", zap.Error(err))
		}
		stop()
	}

	log.Info("Bot has been shut down.")
}

// newNotifier returns the Telegram notifier when it is configured and the
// log notifier otherwise.
func newNotifier(cfg config.Telegram, log *zap.Logger) notify.Notifier {
	if !cfg.Enabled {
		return notify.NewLogNotifier(log)
	}
	tg, err := notify.NewTelegram(cfg.Token, cfg.ChatID, log)
	if err != nil {
		log.Warn("Telegram unavailable, falling back to log notifications", zap.Error(err))
		return notify.NewLogNotifier(log)
	}
	log.Info("Telegram notifications enabled", zap.Int64("chat_id", cfg.ChatID))
	return tg
}

// purgeHistory drops expired points of every symbol, including symbols that
// are no longer polled and so never prune on append.
func purgeHistory(ctx context.Context, store *history.Store, retention time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Purge(ctx, retention)
			if err != nil {
				log.Warn("Failed to purge price history", zap.String("stage", "history"), zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("Purged price history", zap.Int64("points", n))
			}
		}
	}
}
