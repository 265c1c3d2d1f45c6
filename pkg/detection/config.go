package detection

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"klinewatch.magictradebot.com/models"
)

// EffectiveConfig is the set of thresholds one check runs with.
type EffectiveConfig struct {
	VolumePercent    float64
	VolumeReminder   int // minutes, 0 disables suppression
	RisePercent      float64
	RiseReminder     int
	PriceError       float64 // percent
	MiddleKlineCount int
	FakeKlineCount   int
	DedupEnabled     bool
}

func DefaultConfig() EffectiveConfig {
	return EffectiveConfig{
		VolumePercent:    12.5,
		VolumeReminder:   60,
		RisePercent:      10,
		RiseReminder:     60,
		PriceError:       1.0,
		MiddleKlineCount: 3,
		FakeKlineCount:   5,
		DedupEnabled:     true,
	}
}

// Values renders the config as global config key/value pairs.
func (c EffectiveConfig) Values() map[string]string {
	return map[string]string{
		models.KeyVolumePercent:    strconv.FormatFloat(c.VolumePercent, 'f', -1, 64),
		models.KeyVolumeReminder:   strconv.Itoa(c.VolumeReminder),
		models.KeyRisePercent:      strconv.FormatFloat(c.RisePercent, 'f', -1, 64),
		models.KeyRiseReminder:     strconv.Itoa(c.RiseReminder),
		models.KeyPriceError:       strconv.FormatFloat(c.PriceError, 'f', -1, 64),
		models.KeyMiddleKlineCount: strconv.Itoa(c.MiddleKlineCount),
		models.KeyFakeKlineCount:   strconv.Itoa(c.FakeKlineCount),
		models.KeyDedupEnabled:     strconv.FormatBool(c.DedupEnabled),
	}
}

// ParseGlobal reads stored values over defaults. Malformed values keep the
// default and are reported in the returned error list.
func ParseGlobal(values map[string]string, defaults EffectiveConfig) (EffectiveConfig, []error) {
	cfg := defaults
	var errs []error

	number := func(key string) (float64, bool) {
		raw, ok := values[key]
		if !ok {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			err = fmt.Errorf("not a finite number")
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("config %s=%q: %w", key, raw, err))
			return 0, false
		}
		return v, true
	}
	floatKey := func(key string, dst *float64) {
		if v, ok := number(key); ok {
			*dst = v
		}
	}
	// counts and minutes may be stored as decimals ("3.0"); the fraction is dropped
	intKey := func(key string, dst *int) {
		if v, ok := number(key); ok {
			*dst = int(v)
		}
	}

	floatKey(models.KeyVolumePercent, &cfg.VolumePercent)
	intKey(models.KeyVolumeReminder, &cfg.VolumeReminder)
	floatKey(models.KeyRisePercent, &cfg.RisePercent)
	intKey(models.KeyRiseReminder, &cfg.RiseReminder)
	floatKey(models.KeyPriceError, &cfg.PriceError)
	intKey(models.KeyMiddleKlineCount, &cfg.MiddleKlineCount)
	intKey(models.KeyFakeKlineCount, &cfg.FakeKlineCount)

	if raw, ok := values[models.KeyDedupEnabled]; ok {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "1", "true", "yes", "on":
			cfg.DedupEnabled = true
		case "0", "false", "no", "off":
			cfg.DedupEnabled = false
		default:
			errs = append(errs, fmt.Errorf("config %s=%q: not a boolean", models.KeyDedupEnabled, raw))
		}
	}
	return cfg, errs
}

// Resolve applies a per-(symbol, interval) override on top of the global config.
// Non-nil override fields win.
func Resolve(global EffectiveConfig, override *models.SymbolConfig) EffectiveConfig {
	cfg := global
	if override == nil {
		return cfg
	}
	if override.PriceError != nil {
		cfg.PriceError = *override.PriceError
	}
	if override.MiddleKlineCount != nil {
		cfg.MiddleKlineCount = *override.MiddleKlineCount
	}
	if override.FakeKlineCount != nil {
		cfg.FakeKlineCount = *override.FakeKlineCount
	}
	if override.VolumePercent != nil {
		cfg.VolumePercent = *override.VolumePercent
	}
	if override.RisePercent != nil {
		cfg.RisePercent = *override.RisePercent
	}
	return cfg
}

type ConfigStore interface {
	GlobalValues(ctx context.Context) (map[string]string, error)
	Overrides(ctx context.Context, symbols []string) ([]models.SymbolConfig, error)
}

// ConfigProvider caches the global config for a fixed TTL.
type ConfigProvider struct {
	store    ConfigStore
	defaults EffectiveConfig
	ttl      time.Duration
	now      func() time.Time
	log      *logrus.Entry

	lock     sync.Mutex
	cached   EffectiveConfig
	loadedAt time.Time
	loaded   bool
}

func NewConfigProvider(store ConfigStore, defaults EffectiveConfig, ttl time.Duration, log *logrus.Logger) *ConfigProvider {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &ConfigProvider{
		store:    store,
		defaults: defaults,
		ttl:      ttl,
		now:      time.Now,
		log:      log.WithField("component", "detection"),
	}
}

// Global returns the cached config, reloading once it is older than the TTL.
// A failed reload keeps serving the previous value.
func (p *ConfigProvider) Global(ctx context.Context) (EffectiveConfig, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	now := p.now()
	if p.loaded && now.Sub(p.loadedAt) < p.ttl {
		return p.cached, nil
	}

	values, err := p.store.GlobalValues(ctx)
	if err != nil {
		if p.loaded {
			p.log.Warnf("⚠️ Global config reload failed, using cached values: %v", err)
			return p.cached, nil
		}
		return EffectiveConfig{}, err
	}

	cfg, errs := ParseGlobal(values, p.defaults)
	for _, e := range errs {
		p.log.Warnf("⚠️ %v", e)
	}
	p.cached = cfg
	p.loadedAt = now
	p.loaded = true
	return cfg, nil
}

// Invalidate forces the next Global call to reload.
func (p *ConfigProvider) Invalidate() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.loaded = false
}

// Overrides loads overrides for symbols, indexed by symbol then interval.
func (p *ConfigProvider) Overrides(ctx context.Context, symbols []string) (map[string]map[string]*models.SymbolConfig, error) {
	rows, err := p.store.Overrides(ctx, symbols)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]*models.SymbolConfig)
	for i := range rows {
		r := &rows[i]
		bySymbol, ok := out[r.Symbol]
		if !ok {
			bySymbol = make(map[string]*models.SymbolConfig)
			out[r.Symbol] = bySymbol
		}
		bySymbol[r.Interval] = r
	}
	return out, nil
}
