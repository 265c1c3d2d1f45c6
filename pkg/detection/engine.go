package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"klinewatch.magictradebot.com/models"
	"klinewatch.magictradebot.com/pkg/alert"
	"klinewatch.magictradebot.com/pkg/market"
	"klinewatch.magictradebot.com/pkg/stats"
)

type KlineReader interface {
	Recent(ctx context.Context, symbol, interval string, n int) ([]models.Kline, error)
	Bullish(ctx context.Context, symbols, intervals []string, sinceMs, nowMs int64) ([]models.Kline, error)
}

type Submitter interface {
	Submit(ctx context.Context, d alert.Detection, p alert.Policy) (*models.Alert, error)
}

type Options struct {
	Concurrency  int
	LookbackDays int
	Timeframes   []string
}

// Engine runs the volume, rise and open-price checks over a batch of symbols.
type Engine struct {
	klines  KlineReader
	configs *ConfigProvider
	gate    Submitter
	opts    Options
	now     func() time.Time
	log     *logrus.Entry
}

func NewEngine(klines KlineReader, configs *ConfigProvider, gate Submitter, opts Options, log *logrus.Logger) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 200
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 30
	}
	if len(opts.Timeframes) == 0 {
		opts.Timeframes = market.PatternTimeframes
	}
	return &Engine{
		klines:  klines,
		configs: configs,
		gate:    gate,
		opts:    opts,
		now:     time.Now,
		log:     log.WithField("component", "detection"),
	}
}

// WithClock replaces the wall clock, mainly for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// batchData is loaded once per Run and shared read-only by every symbol task.
type batchData struct {
	global    EffectiveConfig
	overrides map[string]map[string]*models.SymbolConfig
	bullish   map[string]map[string][]models.Kline
	nowMs     int64
}

// Run checks every symbol with bounded concurrency. A failing symbol is recorded
// in the summary and never stops the others.
func (e *Engine) Run(ctx context.Context, symbols []string) (stats.MonitorSummary, error) {
	started := e.now()
	batch := stats.NewMonitorBatch(started)
	if len(symbols) == 0 {
		batch.Finish(e.now())
		return batch.Summary(), nil
	}

	data, err := e.preload(ctx, symbols, started)
	if err != nil {
		return batch.Summary(), fmt.Errorf("detection preload: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for _, symbol := range symbols {
		g.Go(func() error {
			batch.Add(e.checkSymbolSafe(gctx, symbol, data))
			return nil
		})
	}
	_ = g.Wait()

	batch.Finish(e.now())
	summary := batch.Summary()
	e.log.Info(summary.Format())
	return summary, nil
}

func (e *Engine) preload(ctx context.Context, symbols []string, now time.Time) (*batchData, error) {
	global, err := e.configs.Global(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := e.configs.Overrides(ctx, symbols)
	if err != nil {
		return nil, err
	}

	nowMs := now.UnixMilli()
	since := now.Add(-time.Duration(e.opts.LookbackDays) * 24 * time.Hour).UnixMilli()
	rows, err := e.klines.Bullish(ctx, symbols, e.opts.Timeframes, since, nowMs)
	if err != nil {
		return nil, err
	}

	bullish := make(map[string]map[string][]models.Kline)
	for _, k := range rows {
		bySymbol, ok := bullish[k.Symbol]
		if !ok {
			bySymbol = make(map[string][]models.Kline)
			bullish[k.Symbol] = bySymbol
		}
		bySymbol[k.Interval] = append(bySymbol[k.Interval], k)
	}

	return &batchData{global: global, overrides: overrides, bullish: bullish, nowMs: nowMs}, nil
}

func (e *Engine) checkSymbolSafe(ctx context.Context, symbol string, data *batchData) (res stats.MonitorResult) {
	defer func() {
		if r := recover(); r != nil {
			res = stats.MonitorResult{Symbol: symbol, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return e.checkSymbol(ctx, symbol, data)
}

// checkSymbol runs all checks for one symbol and submits positives to the gate.
func (e *Engine) checkSymbol(ctx context.Context, symbol string, data *batchData) stats.MonitorResult {
	res := stats.MonitorResult{Symbol: symbol}
	overrides := data.overrides[symbol]
	var errs []error

	submit := func(d alert.Detection, p alert.Policy) {
		a, err := e.gate.Submit(ctx, d, p)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if a != nil {
			res.Fired = append(res.Fired, d.Type.String())
		} else {
			res.Suppressed = append(res.Suppressed, d.Type.String())
		}
	}

	minuteCfg := Resolve(data.global, overrides["1m"])
	recent, err := e.klines.Recent(ctx, symbol, "1m", RecentMinuteCandles)
	if err != nil {
		errs = append(errs, err)
	} else {
		if v := CheckVolume(recent, data.nowMs, minuteCfg.VolumePercent); v.Triggered {
			res.VolumeTriggered = true
			submit(alert.Detection{
				Symbol: symbol,
				Type:   models.AlertVolume,
				Payload: map[string]any{
					"volume_15m":       v.Volume15m,
					"volume_8h":        v.Volume8h,
					"volume_ratio":     v.Ratio,
					"volume_threshold": v.Threshold,
				},
			}, alert.Policy{ReminderMinutes: minuteCfg.VolumeReminder})
		}

		if r := CheckRise(recent, data.nowMs, minuteCfg.RisePercent); r.Triggered {
			res.RiseTriggered = true
			submit(alert.Detection{
				Symbol: symbol,
				Type:   models.AlertRise,
				Payload: map[string]any{
					"rise_percent":     r.Percent,
					"rise_threshold":   r.Threshold,
					"rise_start_price": r.StartPrice,
					"rise_end_price":   r.EndPrice,
				},
			}, alert.Policy{ReminderMinutes: minuteCfg.RiseReminder})
		}
	}

	for _, tf := range e.opts.Timeframes {
		cfg := Resolve(data.global, overrides[tf])
		m, ok := MatchOpenPrice(data.bullish[symbol][tf], tf, cfg)
		if !ok {
			continue
		}
		res.PatternTriggered = append(res.PatternTriggered, tf)
		submit(alert.Detection{
			Symbol:   symbol,
			Type:     models.AlertOpenPrice,
			DedupKey: m.DedupKey(),
			Payload: map[string]any{
				"timeframe":              tf,
				"price_d":                m.PriceD,
				"price_e":                m.PriceE,
				"time_d":                 formatOpenTime(m.TimeD),
				"time_e":                 formatOpenTime(m.TimeE),
				"price_error":            m.PriceError,
				"price_error_threshold":  cfg.PriceError,
				"middle_count":           m.MiddleCount,
				"middle_count_threshold": cfg.FakeKlineCount,
				"fake_count":             m.FakeCount,
			},
		}, alert.Policy{Permanent: true, DedupEnabled: cfg.DedupEnabled})
	}

	res.Err = errors.Join(errs...)
	return res
}

func formatOpenTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
}
