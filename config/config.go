package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AppSettings struct {
	Exchange            string            `yaml:"exchange"`
	Symbols             []string          `yaml:"symbols"`
	AutoDiscoverSymbols bool              `yaml:"autoDiscoverSymbols"`
	Debug               bool              `yaml:"debug"`
	Database            DatabaseSettings  `yaml:"database"`
	Binance             BinanceSettings   `yaml:"binance"`
	RateLimit           RateLimitSettings `yaml:"rateLimit"`
	Sync                SyncSettings      `yaml:"sync"`
	Detection           DetectionSettings `yaml:"detection"`
	Notify              NotifySettings    `yaml:"notify"`
	Streaming           StreamingConfig   `yaml:"Streaming"`
	Server              ServerSettings    `yaml:"server"`
	Scheduler           SchedulerSettings `yaml:"scheduler"`
	Logging             LoggingSettings   `yaml:"logging"`
}

type DatabaseSettings struct {
	Provider         string `yaml:"provider"` // "sqlite", "postgresql"
	ConnectionString string `yaml:"connectionString"`
}

type BinanceSettings struct {
	BaseURL        string        `yaml:"baseURL"`
	ApiKey         string        `yaml:"apiKey"`
	SecretKey      string        `yaml:"secretKey"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

type RateLimitSettings struct {
	SoftLimit  int           `yaml:"softLimit"`
	HardLimit  int           `yaml:"hardLimit"`
	MinSpacing time.Duration `yaml:"minSpacing"`
	MaxRetries int           `yaml:"maxRetries"`
	BaseDelay  time.Duration `yaml:"baseDelay"`
}

type SyncSettings struct {
	Throttle          time.Duration `yaml:"throttle"`
	IncrementalLimit  int           `yaml:"incrementalLimit"`
	PageSize          int           `yaml:"pageSize"`
	InitialDays       int           `yaml:"initialDays"`
	SteadyConcurrency int           `yaml:"steadyConcurrency"`
	InitConcurrency   int           `yaml:"initConcurrency"`
	InitBatchSize     int           `yaml:"initBatchSize"`
}

type DetectionSettings struct {
	Concurrency    int               `yaml:"concurrency"`
	ConfigCacheTTL time.Duration     `yaml:"configCacheTTL"`
	LookbackDays   int               `yaml:"lookbackDays"`
	Timeframes     []string          `yaml:"timeframes"`
	Defaults       DetectionDefaults `yaml:"defaults"`
}

// DetectionDefaults seed the global config table on first start.
type DetectionDefaults struct {
	VolumePercent         float64 `yaml:"volumePercent"`
	VolumeReminderMinutes int     `yaml:"volumeReminderMinutes"`
	RisePercent           float64 `yaml:"risePercent"`
	RiseReminderMinutes   int     `yaml:"riseReminderMinutes"`
	PriceError            float64 `yaml:"priceError"`
	MiddleKlineCount      int     `yaml:"middleKlineCount"`
	FakeKlineCount        int     `yaml:"fakeKlineCount"`
	DedupEnabled          bool    `yaml:"dedupEnabled"`
}

type NotifySettings struct {
	WebhookURL   string        `yaml:"webhookURL"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxPerMinute int           `yaml:"maxPerMinute"` // per chat channel, 0 disables pacing
	Telegram     struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chatID"`
	} `yaml:"telegram"`
}

type StreamingConfig struct {
	Enabled  bool   `yaml:"Enabled"`
	Provider string `yaml:"Provider"` // "redis", "kafka"

	Redis struct {
		Address  string `yaml:"Address"`
		Password string `yaml:"Password"`
		DB       int    `yaml:"DB"`
		Stream   string `yaml:"Stream"`
	} `yaml:"Redis"`

	Kafka struct {
		Brokers []string `yaml:"Brokers"`
		Topic   string   `yaml:"Topic"`
	} `yaml:"Kafka"`
}

type ServerSettings struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type SchedulerSettings struct {
	Timezone  string `yaml:"timezone"`
	CleanupAt string `yaml:"cleanupAt"` // HH:MM
}

type LoggingSettings struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"` // "text", "json"
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"maxSizeMB"`
	MaxAge    int    `yaml:"maxAge"`
	MaxBackup int    `yaml:"maxBackup"`
}

// LoadConfig reads the YAML file at path, fills defaults and applies env overrides.
func LoadConfig(path string) (*AppSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	settings := Default()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	settings.applyEnv()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Default returns settings matching the production defaults.
func Default() *AppSettings {
	s := &AppSettings{
		Exchange: "binance",
		Database: DatabaseSettings{
			Provider:         "sqlite",
			ConnectionString: "klinewatch.db",
		},
		Binance: BinanceSettings{
			BaseURL:        "https://fapi.binance.com",
			RequestTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitSettings{
			SoftLimit:  1150,
			HardLimit:  1200,
			MinSpacing: 100 * time.Millisecond,
			MaxRetries: 5,
			BaseDelay:  500 * time.Millisecond,
		},
		Sync: SyncSettings{
			Throttle:          30 * time.Second,
			IncrementalLimit:  5,
			PageSize:          1500,
			InitialDays:       30,
			SteadyConcurrency: 600,
			InitConcurrency:   20,
			InitBatchSize:     5,
		},
		Detection: DetectionSettings{
			Concurrency:    200,
			ConfigCacheTTL: 60 * time.Second,
			LookbackDays:   30,
			Timeframes:     []string{"15m", "30m", "1h", "4h", "1d", "3d"},
			Defaults: DetectionDefaults{
				VolumePercent:         12.5,
				VolumeReminderMinutes: 60,
				RisePercent:           10,
				RiseReminderMinutes:   60,
				PriceError:            1.0,
				MiddleKlineCount:      3,
				FakeKlineCount:        5,
				DedupEnabled:          true,
			},
		},
		Notify: NotifySettings{
			Timeout:      10 * time.Second,
			MaxPerMinute: 20,
		},
		Server: ServerSettings{
			Addr: ":8080",
		},
		Scheduler: SchedulerSettings{
			Timezone:  "UTC",
			CleanupAt: "01:10",
		},
		Logging: LoggingSettings{
			Level:     "info",
			Format:    "text",
			File:      "application.log",
			MaxSizeMB: 100,
			MaxAge:    7,
			MaxBackup: 5,
		},
	}
	return s
}

func (s *AppSettings) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		s.Database.ConnectionString = v
		if strings.HasPrefix(v, "postgres") {
			s.Database.Provider = "postgresql"
		}
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		s.Binance.ApiKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		s.Binance.SecretKey = v
	}
	if v := os.Getenv("WECHAT_WEBHOOK_URL"); v != "" {
		s.Notify.WebhookURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		s.Notify.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.Notify.Telegram.ChatID = id
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		s.Logging.Level = v
	}
}

// Validate rejects settings the service cannot run with.
func (s *AppSettings) Validate() error {
	switch s.Database.Provider {
	case "sqlite", "postgresql":
	default:
		return fmt.Errorf("unknown DB provider: %s", s.Database.Provider)
	}
	if s.RateLimit.HardLimit <= 0 || s.RateLimit.SoftLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if s.RateLimit.SoftLimit > s.RateLimit.HardLimit {
		return fmt.Errorf("soft limit %d exceeds hard limit %d", s.RateLimit.SoftLimit, s.RateLimit.HardLimit)
	}
	if s.Sync.PageSize <= 0 || s.Sync.PageSize > 1500 {
		return fmt.Errorf("sync page size must be within 1..1500, got %d", s.Sync.PageSize)
	}
	if s.Sync.SteadyConcurrency <= 0 || s.Sync.InitConcurrency <= 0 || s.Detection.Concurrency <= 0 {
		return fmt.Errorf("concurrency limits must be positive")
	}
	if s.Notify.MaxPerMinute < 0 {
		return fmt.Errorf("notify maxPerMinute must not be negative")
	}
	if _, _, err := s.Scheduler.CleanupClock(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(s.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler timezone %q: %w", s.Scheduler.Timezone, err)
	}
	return ValidateStreamingConfig(s.Streaming)
}

// CleanupClock parses CleanupAt into hour and minute.
func (s SchedulerSettings) CleanupClock() (int, int, error) {
	t, err := time.Parse("15:04", s.CleanupAt)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid cleanupAt %q: %w", s.CleanupAt, err)
	}
	return t.Hour(), t.Minute(), nil
}

func ValidateStreamingConfig(cfg StreamingConfig) error {
	if !cfg.Enabled {
		return nil
	}

	switch cfg.Provider {
	case "redis":
		if cfg.Redis.Address == "" || cfg.Redis.Stream == "" {
			return fmt.Errorf("redis streaming configuration is incomplete")
		}
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return fmt.Errorf("kafka streaming configuration is incomplete")
		}
	default:
		return fmt.Errorf("unknown streaming provider: %s", cfg.Provider)
	}
	return nil
}
