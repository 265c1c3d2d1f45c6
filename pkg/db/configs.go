package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"klinewatch.magictradebot.com/models"
)

type ConfigStore struct {
	db *gorm.DB
}

func NewConfigStore(db *gorm.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// GlobalValues returns every global config key with its raw string value.
func (s *ConfigStore) GlobalValues(ctx context.Context) (map[string]string, error) {
	var rows []models.GlobalConfig
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load global config: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *ConfigStore) SetGlobal(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.GlobalConfig{Key: key, Value: value}).Error
}

// SeedDefaults inserts keys that are missing. Values already stored win.
func (s *ConfigStore) SeedDefaults(ctx context.Context, defaults map[string]string) (int64, error) {
	if len(defaults) == 0 {
		return 0, nil
	}
	rows := make([]models.GlobalConfig, 0, len(defaults))
	for k, v := range defaults {
		rows = append(rows, models.GlobalConfig{Key: k, Value: v})
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&rows)
	if res.Error != nil {
		return 0, fmt.Errorf("seed global config: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Overrides loads all per-(symbol, interval) overrides for the given symbols in one query.
func (s *ConfigStore) Overrides(ctx context.Context, symbols []string) ([]models.SymbolConfig, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	var rows []models.SymbolConfig
	if err := s.db.WithContext(ctx).Where("symbol IN ?", symbols).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load symbol overrides: %w", err)
	}
	return rows, nil
}

func (s *ConfigStore) SetOverride(ctx context.Context, cfg models.SymbolConfig) error {
	cfg.ID = 0
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "interval"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"price_error", "middle_kline_cnt", "fake_kline_cnt", "volume_percent", "rise_percent",
		}),
	}).Create(&cfg).Error
}
