package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"klinewatch.magictradebot.com/models"
)

const (
	insertBatchSize = 100
	lookupChunkSize = 500
)

// UpsertResult splits an upsert into rows that were new and rows that replaced existing ones.
type UpsertResult struct {
	Inserted int
	Updated  int
}

type KlineStore struct {
	db *gorm.DB
}

func NewKlineStore(db *gorm.DB) *KlineStore {
	return &KlineStore{db: db}
}

// Latest returns the candle with the greatest open time, or nil when none is stored.
func (s *KlineStore) Latest(ctx context.Context, symbol, interval string) (*models.Kline, error) {
	var k models.Kline
	err := s.db.WithContext(ctx).
		Where(`symbol = ? AND "interval" = ?`, symbol, interval).
		Order("open_time DESC").
		Take(&k).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest kline %s %s: %w", symbol, interval, err)
	}
	return &k, nil
}

type klineKey struct {
	Symbol   string
	Interval string
}

// BulkUpsert writes klines keyed by (symbol, interval, open_time). Existing keys are
// looked up first so the result can report inserts and updates separately; both
// happen inside one transaction.
func (s *KlineStore) BulkUpsert(ctx context.Context, klines []models.Kline) (UpsertResult, error) {
	var res UpsertResult
	if len(klines) == 0 {
		return res, nil
	}

	// last write wins for duplicate keys within the input
	groups := make(map[klineKey]map[int64]models.Kline)
	order := make([]klineKey, 0, 1)
	for _, k := range klines {
		key := klineKey{Symbol: k.Symbol, Interval: k.Interval}
		g, ok := groups[key]
		if !ok {
			g = make(map[int64]models.Kline)
			groups[key] = g
			order = append(order, key)
		}
		k.ID = 0
		g[k.OpenTime] = k
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range order {
			g := groups[key]
			openTimes := make([]int64, 0, len(g))
			rows := make([]models.Kline, 0, len(g))
			for ot, k := range g {
				openTimes = append(openTimes, ot)
				rows = append(rows, k)
			}

			existing := 0
			for start := 0; start < len(openTimes); start += lookupChunkSize {
				end := min(start+lookupChunkSize, len(openTimes))
				var n int64
				if err := tx.Model(&models.Kline{}).
					Where(`symbol = ? AND "interval" = ? AND open_time IN ?`, key.Symbol, key.Interval, openTimes[start:end]).
					Count(&n).Error; err != nil {
					return fmt.Errorf("lookup existing klines: %w", err)
				}
				existing += int(n)
			}

			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "symbol"},
					{Name: "interval"},
					{Name: "open_time"},
				},
				DoUpdates: clause.AssignmentColumns([]string{
					"close_time", "open", "high", "low", "close", "volume",
					"quote_volume", "trade_count", "taker_buy_volume", "taker_buy_quote_volume",
				}),
			}).CreateInBatches(rows, insertBatchSize).Error
			if err != nil {
				return fmt.Errorf("upsert failed: %w", err)
			}

			res.Updated += existing
			res.Inserted += len(rows) - existing
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return res, nil
}

// Query returns candles with open_time in [startMs, endMs], oldest first. Zero bounds are open.
func (s *KlineStore) Query(ctx context.Context, symbol, interval string, startMs, endMs int64, limit int) ([]models.Kline, error) {
	q := s.db.WithContext(ctx).Where(`symbol = ? AND "interval" = ?`, symbol, interval)
	if startMs > 0 {
		q = q.Where("open_time >= ?", startMs)
	}
	if endMs > 0 {
		q = q.Where("open_time <= ?", endMs)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Kline
	if err := q.Order("open_time ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query klines %s %s: %w", symbol, interval, err)
	}
	return out, nil
}

// Recent returns the newest n candles in ascending open_time order.
func (s *KlineStore) Recent(ctx context.Context, symbol, interval string, n int) ([]models.Kline, error) {
	var out []models.Kline
	err := s.db.WithContext(ctx).
		Where(`symbol = ? AND "interval" = ?`, symbol, interval).
		Order("open_time DESC").
		Limit(n).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("recent klines %s %s: %w", symbol, interval, err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Bullish loads closed candles with close > open for every symbol and interval
// given, opened at or after sinceMs. Rows come back newest first per (symbol, interval).
func (s *KlineStore) Bullish(ctx context.Context, symbols, intervals []string, sinceMs, nowMs int64) ([]models.Kline, error) {
	if len(symbols) == 0 || len(intervals) == 0 {
		return nil, nil
	}
	var out []models.Kline
	err := s.db.WithContext(ctx).
		Where(`symbol IN ? AND "interval" IN ?`, symbols, intervals).
		Where("open_time >= ? AND close_time < ?", sinceMs, nowMs).
		Where("close > open").
		Order(`symbol ASC, "interval" ASC, open_time DESC`).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("bullish klines: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes candles of interval opened before cutoffMs.
func (s *KlineStore) DeleteOlderThan(ctx context.Context, interval string, cutoffMs int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Where(`"interval" = ? AND open_time < ?`, interval, cutoffMs).
		Delete(&models.Kline{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete %s klines: %w", interval, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *KlineStore) Count(ctx context.Context, symbol, interval string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Kline{}).
		Where(`symbol = ? AND "interval" = ?`, symbol, interval).
		Count(&n).Error
	return n, err
}
