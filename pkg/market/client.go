package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"klinewatch.magictradebot.com/models"
	"klinewatch.magictradebot.com/pkg/db"
	"klinewatch.magictradebot.com/pkg/ratelimit"
	"klinewatch.magictradebot.com/pkg/stats"
)

// API is the exchange surface the client needs.
type API interface {
	FetchKlines(ctx context.Context, symbol, interval string, limit int, start, end *time.Time) ([]RawKline, error)
	FetchSymbolList(ctx context.Context) ([]string, error)
}

type KlineStore interface {
	Latest(ctx context.Context, symbol, interval string) (*models.Kline, error)
	BulkUpsert(ctx context.Context, klines []models.Kline) (db.UpsertResult, error)
	DeleteOlderThan(ctx context.Context, interval string, cutoffMs int64) (int64, error)
}

type Options struct {
	Throttle         time.Duration // minimum gap between non-forced syncs of one key
	IncrementalLimit int           // gaps up to this many periods use a single small request
	PageSize         int           // exchange maximum per request
	InitialDays      int           // default backfill depth, clamped per interval
}

type SyncOptions struct {
	InitialDays int
	Force       bool
}

// Client keeps the local kline store in step with the exchange.
type Client struct {
	api   API
	store KlineStore
	rl    *ratelimit.Client
	opts  Options
	now   func() time.Time
	log   *logrus.Entry

	lock     sync.Mutex
	lastSync map[string]time.Time
}

func NewClient(api API, store KlineStore, rl *ratelimit.Client, opts Options, log *logrus.Logger) *Client {
	if opts.Throttle <= 0 {
		opts.Throttle = 30 * time.Second
	}
	if opts.IncrementalLimit <= 0 {
		opts.IncrementalLimit = 5
	}
	if opts.PageSize <= 0 || opts.PageSize > 1500 {
		opts.PageSize = 1500
	}
	if opts.InitialDays <= 0 {
		opts.InitialDays = 30
	}
	return &Client{
		api:      api,
		store:    store,
		rl:       rl,
		opts:     opts,
		now:      time.Now,
		log:      log.WithField("component", "market"),
		lastSync: make(map[string]time.Time),
	}
}

// WithClock replaces the wall clock, mainly for tests.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// SyncKlines fetches whatever the store is missing for (symbol, interval) and upserts it.
// Failures are reported in the result, never raised.
func (c *Client) SyncKlines(ctx context.Context, symbol, interval string, opts SyncOptions) stats.SyncResult {
	started := c.now()
	res := stats.SyncResult{Symbol: symbol, Interval: interval}
	defer func() { res.Duration = c.now().Sub(started) }()

	key := symbol + "|" + interval
	if !opts.Force && c.throttled(key, started) {
		res.Skipped = true
		return res
	}

	upserted, err := c.sync(ctx, symbol, interval, opts, started)
	if err != nil {
		res.Err = err
		c.log.WithFields(logrus.Fields{
			"symbol":   symbol,
			"interval": interval,
		}).Warnf("❌ Kline sync failed: %v", err)
		return res
	}

	c.lock.Lock()
	c.lastSync[key] = started
	c.lock.Unlock()

	res.Inserted = upserted.Inserted
	res.Updated = upserted.Updated
	return res
}

func (c *Client) throttled(key string, now time.Time) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	last, ok := c.lastSync[key]
	return ok && now.Sub(last) < c.opts.Throttle
}

func (c *Client) sync(ctx context.Context, symbol, interval string, opts SyncOptions, now time.Time) (db.UpsertResult, error) {
	period, err := IntervalDuration(interval)
	if err != nil {
		return db.UpsertResult{}, err
	}

	latest, err := c.store.Latest(ctx, symbol, interval)
	if err != nil {
		return db.UpsertResult{}, err
	}

	var raws []RawKline
	switch {
	case latest == nil:
		requested := opts.InitialDays
		if requested <= 0 {
			requested = c.opts.InitialDays
		}
		days := InitialDays(interval, requested)
		start := now.Add(-time.Duration(days) * 24 * time.Hour)
		raws, err = c.fetchRange(ctx, symbol, interval, period, start, now)

	default:
		lastOpen := time.UnixMilli(latest.OpenTime)
		periods := int(now.Sub(lastOpen) / period)
		if periods <= c.opts.IncrementalLimit {
			limit := periods + 2
			if periods <= 0 {
				limit = 2
			}
			raws, err = c.fetch(ctx, symbol, interval, limit, nil, nil)
		} else {
			raws, err = c.fetchRange(ctx, symbol, interval, period, lastOpen, now)
		}
	}
	if err != nil {
		return db.UpsertResult{}, err
	}
	if len(raws) == 0 {
		return db.UpsertResult{}, nil
	}

	klines := make([]models.Kline, 0, len(raws))
	for _, r := range raws {
		k, err := ParseKline(symbol, interval, r)
		if err != nil {
			return db.UpsertResult{}, err
		}
		klines = append(klines, k)
	}

	return c.store.BulkUpsert(ctx, klines)
}

// fetchRange pages forward from start until the exchange returns a short page.
func (c *Client) fetchRange(ctx context.Context, symbol, interval string, period time.Duration, start, end time.Time) ([]RawKline, error) {
	maxPages := int(end.Sub(start)/period)/c.opts.PageSize + 2

	var out []RawKline
	cursor := start
	for page := 0; page < maxPages; page++ {
		from, to := cursor, end
		batch, err := c.fetch(ctx, symbol, interval, c.opts.PageSize, &from, &to)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < c.opts.PageSize {
			break
		}
		next := time.UnixMilli(batch[len(batch)-1].OpenTime).Add(period)
		if !next.After(cursor) || next.After(end) {
			break
		}
		cursor = next
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, symbol, interval string, limit int, start, end *time.Time) ([]RawKline, error) {
	return ratelimit.Call(ctx, c.rl, "klines "+symbol+" "+interval, func(ctx context.Context) ([]RawKline, error) {
		return c.api.FetchKlines(ctx, symbol, interval, limit, start, end)
	})
}

// FetchAllActiveSymbols lists tradable USDT perpetual symbols, sorted.
func (c *Client) FetchAllActiveSymbols(ctx context.Context) ([]string, error) {
	symbols, err := ratelimit.Call(ctx, c.rl, "exchange info", c.api.FetchSymbolList)
	if err != nil {
		return nil, fmt.Errorf("fetch symbol list: %w", err)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// CleanupOldKlines deletes candles past each interval's retention window.
func (c *Client) CleanupOldKlines(ctx context.Context) (map[string]int64, error) {
	now := c.now()
	deleted := make(map[string]int64, len(Retention))
	var errs []error
	for interval, days := range Retention {
		cutoff := now.Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
		n, err := c.store.DeleteOlderThan(ctx, interval, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		deleted[interval] = n
		if n > 0 {
			c.log.WithFields(logrus.Fields{
				"interval": interval,
				"deleted":  n,
			}).Info("🧹 Old klines removed")
		}
	}
	return deleted, errors.Join(errs...)
}
