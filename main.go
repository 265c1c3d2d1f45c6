package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"klinewatch.magictradebot.com/config"
	"klinewatch.magictradebot.com/pkg/alert"
	"klinewatch.magictradebot.com/pkg/db"
	"klinewatch.magictradebot.com/pkg/detection"
	"klinewatch.magictradebot.com/pkg/exchanges"
	"klinewatch.magictradebot.com/pkg/global"
	"klinewatch.magictradebot.com/pkg/market"
	"klinewatch.magictradebot.com/pkg/orchestrator"
	"klinewatch.magictradebot.com/pkg/ratelimit"
	"klinewatch.magictradebot.com/pkg/scheduler"
	"klinewatch.magictradebot.com/pkg/server"
)

func main() {

	// 🔒 Panic protection
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("🔥 Panic recovered: %v\n", r)
			os.Exit(1)
		}
	}()

	// .env is optional
	_ = godotenv.Load()

	// ⚙️ Load configuration
	configPath := os.Getenv("APPSETTINGS_PATH")
	if configPath == "" {
		configPath = "appsettings.yaml"
	}
	settings, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 🧾 Initialize logger
	loggerResult, err := config.InitLogger(settings.Logging, settings.Debug)
	if err != nil {
		fmt.Printf("❌ Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer loggerResult.Close()
	log := loggerResult.Logger

	log.Info("📈 App started")
	log.WithField("path", configPath).Info("⚙️ Configuration loaded")

	// 🛑 Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 🗃️ Initialize DB
	gdb, err := db.Open(settings.Database, log)
	if err != nil {
		log.Fatalf("❌ Database init failed: %v", err)
	}
	defer db.Close(gdb)

	// 🧱 Run DB migrations
	if err := db.AutoMigrate(gdb); err != nil {
		log.Fatalf("❌ AutoMigrate failed: %v", err)
	}
	log.Info("✅ Auto-migration complete")

	klineStore := db.NewKlineStore(gdb)
	symbolStore := db.NewSymbolStore(gdb)
	configStore := db.NewConfigStore(gdb)
	alertStore := db.NewAlertStore(gdb)

	// 🔌 Exchange + rate-limited market client
	ex, err := exchanges.CoreFutures(settings, log)
	if err != nil {
		log.Fatal(err)
	}
	limiter := ratelimit.NewLimiter(settings.RateLimit.SoftLimit, settings.RateLimit.HardLimit)
	rl := ratelimit.NewClient(limiter, ratelimit.Settings{
		MaxRetries: settings.RateLimit.MaxRetries,
		BaseDelay:  settings.RateLimit.BaseDelay,
		MinSpacing: settings.RateLimit.MinSpacing,
		Timeout:    settings.Binance.RequestTimeout,
	}, ex.Retryable, log)
	mkt := market.NewClient(ex.API, klineStore, rl, market.Options{
		Throttle:         settings.Sync.Throttle,
		IncrementalLimit: settings.Sync.IncrementalLimit,
		PageSize:         settings.Sync.PageSize,
		InitialDays:      settings.Sync.InitialDays,
	}, log)

	defaults := detectionDefaults(settings.Detection.Defaults)
	if n, err := configStore.SeedDefaults(ctx, defaults.Values()); err != nil {
		log.Fatalf("❌ Config seeding failed: %v", err)
	} else if n > 0 {
		log.Infof("🌱 Seeded %d global config values", n)
	}

	if err := registerSymbols(ctx, settings, symbolStore, mkt, log); err != nil {
		log.Fatalf("❌ Symbol registration failed: %v", err)
	}

	// ✅ Validate and initialize streaming
	streaming, err := global.InitStreamingClients(ctx, settings.Streaming)
	if err != nil {
		log.Fatal(err)
	}
	defer streaming.Shutdown()

	notifier := buildNotifier(settings, streaming, log)
	gate := alert.NewGate(alertStore, alertStore, notifier, log)

	provider := detection.NewConfigProvider(configStore, defaults, settings.Detection.ConfigCacheTTL, log)
	engine := detection.NewEngine(klineStore, provider, gate, detection.Options{
		Concurrency:  settings.Detection.Concurrency,
		LookbackDays: settings.Detection.LookbackDays,
		Timeframes:   settings.Detection.Timeframes,
	}, log)

	orch := orchestrator.New(symbolStore, mkt, engine, ex, orchestrator.Options{
		SteadyConcurrency: settings.Sync.SteadyConcurrency,
		InitConcurrency:   settings.Sync.InitConcurrency,
		InitBatchSize:     settings.Sync.InitBatchSize,
		InitialDays:       settings.Sync.InitialDays,
		Intervals:         market.AllIntervals,
	}, log)

	loc, err := time.LoadLocation(settings.Scheduler.Timezone)
	if err != nil {
		log.Fatal(err)
	}
	cleanupHour, cleanupMinute, err := settings.Scheduler.CleanupClock()
	if err != nil {
		log.Fatal(err)
	}
	sched := scheduler.New(orch, mkt, scheduler.Options{
		Location:      loc,
		CleanupHour:   cleanupHour,
		CleanupMinute: cleanupMinute,
	}, log)

	var wg sync.WaitGroup
	if settings.Server.Enabled {
		srv := server.New(settings.Server, sched, alertStore, provider, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				log.Errorf("❌ Admin API stopped: %v", err)
			}
		}()
	}

	log.WithField("exchange", ex.Name).Info("⏳ Starting minute scheduler")
	sched.Run(ctx)
	wg.Wait()

	log.Info("👋 App shutdown complete")
}

func detectionDefaults(d config.DetectionDefaults) detection.EffectiveConfig {
	return detection.EffectiveConfig{
		VolumePercent:    d.VolumePercent,
		VolumeReminder:   d.VolumeReminderMinutes,
		RisePercent:      d.RisePercent,
		RiseReminder:     d.RiseReminderMinutes,
		PriceError:       d.PriceError,
		MiddleKlineCount: d.MiddleKlineCount,
		FakeKlineCount:   d.FakeKlineCount,
		DedupEnabled:     d.DedupEnabled,
	}
}

// registerSymbols adds configured symbols, or every tradable symbol when
// auto-discovery is on or nothing is configured.
func registerSymbols(ctx context.Context, settings *config.AppSettings, store *db.SymbolStore, mkt *market.Client, log *logrus.Logger) error {
	symbols := settings.Symbols
	if settings.AutoDiscoverSymbols || len(symbols) == 0 {
		discovered, err := mkt.FetchAllActiveSymbols(ctx)
		if err != nil {
			if len(symbols) == 0 {
				return err
			}
			log.Warnf("⚠️ Symbol discovery failed, using configured list: %v", err)
		} else {
			log.Infof("🔎 Discovered %d tradable symbols", len(discovered))
			symbols = append(symbols, discovered...)
		}
	}

	added, err := store.AddSymbols(ctx, symbols)
	if err != nil {
		return err
	}
	if added > 0 {
		log.Infof("➕ Registered %d new symbols", added)
	}
	return nil
}

func buildNotifier(settings *config.AppSettings, streaming *global.StreamingClients, log *logrus.Logger) alert.Notifier {
	var notifiers alert.MultiNotifier

	if settings.Notify.WebhookURL != "" {
		webhook := alert.NewWebhookNotifier(settings.Notify.WebhookURL, settings.Notify.Timeout)
		notifiers = append(notifiers, alert.NewPacedNotifier(webhook, settings.Notify.MaxPerMinute))
	}
	if tg := settings.Notify.Telegram; tg.Token != "" && tg.ChatID != 0 {
		n, err := alert.NewTelegramNotifier(tg.Token, tg.ChatID, "")
		if err != nil {
			log.Warnf("⚠️ Telegram notifier disabled: %v", err)
		} else {
			notifiers = append(notifiers, alert.NewPacedNotifier(n, settings.Notify.MaxPerMinute))
		}
	}
	if settings.Streaming.Enabled {
		notifiers = append(notifiers, alert.NewStreamNotifier(settings.Streaming, streaming))
	}

	if len(notifiers) == 0 {
		log.Warn("⚠️ No alert channel configured, alerts go to the log only")
		return alert.LogNotifier{Log: log}
	}
	return notifiers
}
