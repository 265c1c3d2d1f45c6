package detection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinewatch.magictradebot.com/models"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

// minuteCandles builds count closed ascending 1m candles ending just before now,
// plus one forming candle opened at now.
func minuteCandles(now time.Time, volumes []float64) []models.Kline {
	out := make([]models.Kline, 0, len(volumes)+1)
	start := now.Add(-time.Duration(len(volumes)) * time.Minute)
	for i, v := range volumes {
		open := start.Add(time.Duration(i) * time.Minute)
		out = append(out, models.Kline{
			Symbol: "BTCUSDT", Interval: "1m",
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(time.Minute).UnixMilli() - 1,
			Open:      100, Close: 100, Volume: v,
		})
	}
	out = append(out, models.Kline{
		Symbol: "BTCUSDT", Interval: "1m",
		OpenTime:  now.UnixMilli(),
		CloseTime: now.Add(time.Minute).UnixMilli() - 1,
		Open:      100, Close: 100, Volume: 1e9,
	})
	return out
}

func volumes(olderTotal, recentTotal float64) []float64 {
	v := make([]float64, 480)
	for i := 0; i < 465; i++ {
		v[i] = olderTotal / 465
	}
	for i := 465; i < 480; i++ {
		v[i] = recentTotal / 15
	}
	return v
}

func TestCheckVolumeThreshold(t *testing.T) {
	now := t0.Add(30 * time.Second)

	res := CheckVolume(minuteCandles(now, volumes(8000, 1000)), now.UnixMilli(), 12.5)
	assert.False(t, res.Triggered)
	assert.InDelta(t, 1000, res.Volume15m, 1e-6)
	assert.InDelta(t, 9000, res.Volume8h, 1e-6)

	res = CheckVolume(minuteCandles(now, volumes(7800, 1200)), now.UnixMilli(), 12.5)
	assert.True(t, res.Triggered)
	assert.InDelta(t, 9000, res.Volume8h, 1e-6)
	assert.InDelta(t, 13.333, res.Ratio, 1e-3)
}

func TestCheckVolumeNeedsFifteenClosedCandles(t *testing.T) {
	now := t0.Add(30 * time.Second)
	v := make([]float64, 14)
	for i := range v {
		v[i] = 100
	}
	assert.False(t, CheckVolume(minuteCandles(now, v), now.UnixMilli(), 1).Triggered)
}

func TestCheckVolumeZeroLongWindow(t *testing.T) {
	now := t0.Add(30 * time.Second)
	res := CheckVolume(minuteCandles(now, make([]float64, 480)), now.UnixMilli(), 12.5)
	assert.False(t, res.Triggered)
}

func riseCandles(now time.Time, firstOpen, lastClose float64) []models.Kline {
	out := minuteCandles(now, make([]float64, 15))
	out[0].Open = firstOpen
	out[14].Close = lastClose
	return out
}

func TestCheckRise(t *testing.T) {
	now := t0.Add(30 * time.Second)

	res := CheckRise(riseCandles(now, 100, 112), now.UnixMilli(), 10)
	assert.True(t, res.Triggered)
	assert.InDelta(t, 12, res.Percent, 1e-9)
	assert.Equal(t, 100.0, res.StartPrice)
	assert.Equal(t, 112.0, res.EndPrice)

	res = CheckRise(riseCandles(now, 100, 105), now.UnixMilli(), 10)
	assert.False(t, res.Triggered)

	res = CheckRise(riseCandles(now, 0, 105), now.UnixMilli(), 10)
	assert.False(t, res.Triggered)
}

func bullishHour(hoursAgo int, open float64) models.Kline {
	ot := t0.Add(-time.Duration(hoursAgo) * time.Hour)
	return models.Kline{
		Symbol: "BTCUSDT", Interval: "1h",
		OpenTime:  ot.UnixMilli(),
		CloseTime: ot.Add(time.Hour).UnixMilli() - 1,
		Open:      open, Close: open + 1,
	}
}

func TestMatchOpenPriceReportsSpannedPeriods(t *testing.T) {
	cfg := DefaultConfig()
	bullish := []models.Kline{
		bullishHour(0, 100),
		bullishHour(1, 105),
		bullishHour(2, 106),
		bullishHour(4, 100.8),
		bullishHour(9, 100.1),
	}

	m, ok := MatchOpenPrice(bullish, "1h", cfg)
	require.True(t, ok)
	assert.Equal(t, 100.0, m.PriceD)
	assert.Equal(t, 100.8, m.PriceE)
	assert.Equal(t, 4, m.MiddleCount)
	assert.Equal(t, 0, m.FakeCount)
	assert.InDelta(t, 0.8, m.PriceError, 1e-9)
	assert.Equal(t, "1h_202506011000_202506010600", m.DedupKey())
}

func TestMatchOpenPriceSkipsCloseNeighbours(t *testing.T) {
	cfg := DefaultConfig()
	bullish := []models.Kline{
		bullishHour(0, 100),
		bullishHour(1, 100), // within error but too close
		bullishHour(2, 100),
		bullishHour(3, 100.5),
	}

	m, ok := MatchOpenPrice(bullish, "1h", cfg)
	require.True(t, ok)
	assert.Equal(t, t0.Add(-3*time.Hour).UnixMilli(), m.TimeE)
	assert.Equal(t, 2, m.FakeCount)
}

func TestMatchOpenPriceFakeCandleLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MiddleKlineCount = 1
	cfg.FakeKlineCount = 0
	bullish := []models.Kline{
		bullishHour(0, 100),
		bullishHour(1, 110),
		bullishHour(2, 95), // below the midpoint, fake for anything older
		bullishHour(5, 100.2),
	}

	_, ok := MatchOpenPrice(bullish, "1h", cfg)
	assert.False(t, ok)

	cfg.FakeKlineCount = 1
	m, ok := MatchOpenPrice(bullish, "1h", cfg)
	require.True(t, ok)
	assert.Equal(t, 5, m.MiddleCount)
}

func TestMatchOpenPriceNoMatch(t *testing.T) {
	cfg := DefaultConfig()
	_, ok := MatchOpenPrice([]models.Kline{bullishHour(0, 100)}, "1h", cfg)
	assert.False(t, ok)

	_, ok = MatchOpenPrice([]models.Kline{
		bullishHour(0, 100), bullishHour(1, 120), bullishHour(2, 130), bullishHour(3, 140),
	}, "1h", cfg)
	assert.False(t, ok)

	_, ok = MatchOpenPrice([]models.Kline{bullishHour(0, 100), bullishHour(5, 100)}, "7m", cfg)
	assert.False(t, ok)
}

func TestResolvePrefersOverride(t *testing.T) {
	global := DefaultConfig()
	pe := 2.5
	fake := 0
	cfg := Resolve(global, &models.SymbolConfig{PriceError: &pe, FakeKlineCount: &fake})
	assert.Equal(t, 2.5, cfg.PriceError)
	assert.Equal(t, 0, cfg.FakeKlineCount)
	assert.Equal(t, global.MiddleKlineCount, cfg.MiddleKlineCount)
	assert.Equal(t, global.VolumePercent, cfg.VolumePercent)

	assert.Equal(t, global, Resolve(global, nil))
}

func TestParseGlobal(t *testing.T) {
	cfg, errs := ParseGlobal(map[string]string{
		models.KeyVolumePercent: "20",
		models.KeyRiseReminder:  "0",
		models.KeyDedupEnabled:  "false",
		models.KeyPriceError:    "abc",
	}, DefaultConfig())
	assert.Len(t, errs, 1)
	assert.Equal(t, 20.0, cfg.VolumePercent)
	assert.Equal(t, 0, cfg.RiseReminder)
	assert.False(t, cfg.DedupEnabled)
	assert.Equal(t, 1.0, cfg.PriceError)

	counts, errs := ParseGlobal(map[string]string{
		models.KeyMiddleKlineCount: "3.0",
		models.KeyVolumeReminder:   "30.5",
		models.KeyFakeKlineCount:   " 7 ",
		models.KeyRiseReminder:     "NaN",
	}, DefaultConfig())
	assert.Len(t, errs, 1)
	assert.Equal(t, 3, counts.MiddleKlineCount)
	assert.Equal(t, 30, counts.VolumeReminder)
	assert.Equal(t, 7, counts.FakeKlineCount)
	assert.Equal(t, DefaultConfig().RiseReminder, counts.RiseReminder)

	round, errs := ParseGlobal(DefaultConfig().Values(), EffectiveConfig{})
	assert.Empty(t, errs)
	assert.Equal(t, DefaultConfig(), round)
}
