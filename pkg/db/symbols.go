package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"klinewatch.magictradebot.com/models"
)

type SymbolStore struct {
	db *gorm.DB
}

func NewSymbolStore(db *gorm.DB) *SymbolStore {
	return &SymbolStore{db: db}
}

// ActiveSymbols splits active symbols by whether their initial backfill is done.
// Both lists keep creation order.
func (s *SymbolStore) ActiveSymbols(ctx context.Context) (synced, unsynced []string, err error) {
	var rows []models.Symbol
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("load active symbols: %w", err)
	}
	for _, r := range rows {
		if r.InitialSynced {
			synced = append(synced, r.Symbol)
		} else {
			unsynced = append(unsynced, r.Symbol)
		}
	}
	return synced, unsynced, nil
}

func (s *SymbolStore) MarkInitialSynced(ctx context.Context, symbol string) error {
	err := s.db.WithContext(ctx).Model(&models.Symbol{}).
		Where("symbol = ?", symbol).
		Update("initial_synced", true).Error
	if err != nil {
		return fmt.Errorf("mark %s synced: %w", symbol, err)
	}
	return nil
}

// AddSymbols registers symbols as active and not yet synced. Known symbols are left untouched.
func (s *SymbolStore) AddSymbols(ctx context.Context, symbols []string) (int64, error) {
	if len(symbols) == 0 {
		return 0, nil
	}
	rows := make([]models.Symbol, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		sym = cleanSymbol(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		rows = append(rows, models.Symbol{Symbol: sym, IsActive: true})
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoNothing: true,
	}).CreateInBatches(rows, insertBatchSize)
	if res.Error != nil {
		return 0, fmt.Errorf("add symbols: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SymbolStore) SetActive(ctx context.Context, symbol string, active bool) error {
	return s.db.WithContext(ctx).Model(&models.Symbol{}).
		Where("symbol = ?", cleanSymbol(symbol)).
		Update("is_active", active).Error
}
