package detection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinewatch.magictradebot.com/config"
	"klinewatch.magictradebot.com/models"
	"klinewatch.magictradebot.com/pkg/alert"
	"klinewatch.magictradebot.com/pkg/db"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type countingNotifier struct {
	count atomic.Int32
}

func (n *countingNotifier) Deliver(ctx context.Context, m alert.Message) error {
	n.count.Add(1)
	return nil
}

type engineFixture struct {
	engine   *Engine
	klines   *db.KlineStore
	configs  *db.ConfigStore
	alerts   *db.AlertStore
	notifier *countingNotifier
	now      time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	log := quietLogger()
	gdb, err := db.Open(config.DatabaseSettings{Provider: "sqlite", ConnectionString: ":memory:"}, log)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))
	t.Cleanup(func() { _ = db.Close(gdb) })

	f := &engineFixture{
		klines:   db.NewKlineStore(gdb),
		configs:  db.NewConfigStore(gdb),
		alerts:   db.NewAlertStore(gdb),
		notifier: &countingNotifier{},
		now:      t0.Add(30 * time.Second),
	}
	clock := func() time.Time { return f.now }
	gate := alert.NewGate(f.alerts, f.alerts, f.notifier, log).WithClock(clock)
	provider := NewConfigProvider(f.configs, DefaultConfig(), time.Minute, log)
	f.engine = NewEngine(f.klines, provider, gate, Options{Concurrency: 4, Timeframes: []string{"1h"}}, log).
		WithClock(clock)
	return f
}

// seedSymbol stores a volume spike, a 12% rise over the last 15 minutes and an
// open-price pattern on 1h for symbol.
func (f *engineFixture) seedSymbol(t *testing.T, symbol string) {
	t.Helper()
	minute := minuteCandles(f.now, volumes(7800, 1200))
	minute[465].Open = 100
	minute[479].Close = 112

	hours := []models.Kline{
		bullishHour(1, 100),
		bullishHour(2, 105),
		bullishHour(3, 106),
		bullishHour(5, 100.8),
	}

	all := append(minute, hours...)
	for i := range all {
		all[i].Symbol = symbol
	}
	_, err := f.klines.BulkUpsert(context.Background(), all)
	require.NoError(t, err)
}

func (f *engineFixture) count(t *testing.T, symbol string, typ models.AlertType) int64 {
	t.Helper()
	n, err := f.alerts.Count(context.Background(), symbol, typ)
	require.NoError(t, err)
	return n
}

func TestEngineRunFiresEveryCheck(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedSymbol(t, "BTCUSDT")

	summary, err := f.engine.Run(ctx, []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.VolumeTriggered)
	assert.Equal(t, 1, summary.RiseTriggered)
	assert.Equal(t, 1, summary.PatternTriggered["1h"])
	assert.Equal(t, 3, summary.AlertsSent)
	assert.Zero(t, summary.Errors)
	assert.EqualValues(t, 3, f.notifier.count.Load())

	assert.EqualValues(t, 1, f.count(t, "BTCUSDT", models.AlertVolume))
	assert.EqualValues(t, 1, f.count(t, "BTCUSDT", models.AlertRise))
	assert.EqualValues(t, 1, f.count(t, "BTCUSDT", models.AlertOpenPrice))

	exists, err := f.alerts.KeyExists(ctx, "BTCUSDT", models.AlertOpenPrice, "1h_202506010900_202506010500")
	require.NoError(t, err)
	assert.True(t, exists)

	recent, err := f.alerts.Recent(ctx, 10)
	require.NoError(t, err)
	var pattern map[string]any
	for _, a := range recent {
		if a.AlertType == models.AlertOpenPrice {
			require.NoError(t, json.Unmarshal(a.Data, &pattern))
		}
	}
	require.NotNil(t, pattern)
	assert.EqualValues(t, DefaultConfig().FakeKlineCount, pattern["middle_count_threshold"])
	assert.EqualValues(t, 4, pattern["middle_count"])
}

func TestEngineRunSuppressesRepeats(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedSymbol(t, "BTCUSDT")

	_, err := f.engine.Run(ctx, []string{"BTCUSDT"})
	require.NoError(t, err)

	f.now = f.now.Add(5 * time.Second)
	summary, err := f.engine.Run(ctx, []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.VolumeTriggered)
	assert.Equal(t, 1, summary.PatternTriggered["1h"])
	assert.Zero(t, summary.AlertsSent)
	assert.Equal(t, 3, summary.AlertsSuppressed)
	assert.EqualValues(t, 3, f.notifier.count.Load())
}

func TestEngineRunAppliesSymbolOverrides(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedSymbol(t, "BTCUSDT")
	f.seedSymbol(t, "ETHUSDT")

	high := 50.0
	require.NoError(t, f.configs.SetOverride(ctx, models.SymbolConfig{
		Symbol: "ETHUSDT", Interval: "1m", VolumePercent: &high, RisePercent: &high,
	}))
	tight := 0.1
	require.NoError(t, f.configs.SetOverride(ctx, models.SymbolConfig{
		Symbol: "ETHUSDT", Interval: "1h", PriceError: &tight,
	}))

	summary, err := f.engine.Run(ctx, []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Checked)
	assert.Equal(t, 1, summary.VolumeTriggered)
	assert.Equal(t, 1, summary.RiseTriggered)
	assert.Equal(t, 1, summary.PatternTriggered["1h"])

	assert.Zero(t, f.count(t, "ETHUSDT", models.AlertVolume))
	assert.Zero(t, f.count(t, "ETHUSDT", models.AlertOpenPrice))
	assert.EqualValues(t, 1, f.count(t, "BTCUSDT", models.AlertOpenPrice))
}

func TestEngineRunUsesGlobalConfig(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.seedSymbol(t, "BTCUSDT")
	require.NoError(t, f.configs.SetGlobal(ctx, models.KeyVolumePercent, "20"))

	summary, err := f.engine.Run(ctx, []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Zero(t, summary.VolumeTriggered)
	assert.Equal(t, 1, summary.RiseTriggered)
}

func TestEngineRunEmpty(t *testing.T) {
	f := newEngineFixture(t)
	summary, err := f.engine.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Checked)
}

type failingSubmitter struct{}

func (failingSubmitter) Submit(ctx context.Context, d alert.Detection, p alert.Policy) (*models.Alert, error) {
	return nil, errors.New("db locked")
}

func TestEngineRunRecordsSubmitErrors(t *testing.T) {
	f := newEngineFixture(t)
	f.seedSymbol(t, "BTCUSDT")
	f.engine.gate = failingSubmitter{}

	summary, err := f.engine.Run(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	require.Len(t, summary.ErrorList, 1)
	assert.Contains(t, summary.ErrorList[0], "db locked")
}

type staticConfigStore struct {
	values map[string]string
	err    error
	calls  int
}

func (s *staticConfigStore) GlobalValues(ctx context.Context) (map[string]string, error) {
	s.calls++
	return s.values, s.err
}

func (s *staticConfigStore) Overrides(ctx context.Context, symbols []string) ([]models.SymbolConfig, error) {
	return nil, nil
}

func TestConfigProviderCachesForTTL(t *testing.T) {
	store := &staticConfigStore{values: map[string]string{models.KeyRisePercent: "7"}}
	p := NewConfigProvider(store, DefaultConfig(), time.Minute, quietLogger())
	now := t0
	p.now = func() time.Time { return now }
	ctx := context.Background()

	cfg, err := p.Global(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, cfg.RisePercent)

	store.values = map[string]string{models.KeyRisePercent: "9"}
	now = now.Add(30 * time.Second)
	cfg, err = p.Global(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, cfg.RisePercent)
	assert.Equal(t, 1, store.calls)

	now = now.Add(31 * time.Second)
	cfg, err = p.Global(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9.0, cfg.RisePercent)

	store.err = errors.New("connection reset")
	now = now.Add(2 * time.Minute)
	cfg, err = p.Global(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9.0, cfg.RisePercent)

	p.Invalidate()
	_, err = p.Global(ctx)
	assert.Error(t, err)
}
