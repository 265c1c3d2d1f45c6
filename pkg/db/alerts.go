package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"klinewatch.magictradebot.com/models"
)

// AlertStore persists alerts and their dedup records.
type AlertStore struct {
	db *gorm.DB
}

func NewAlertStore(db *gorm.DB) *AlertStore {
	return &AlertStore{db: db}
}

// Accept stores an alert together with its dedup record in one transaction, so a
// failed dedup write leaves no alert behind. Permanent keys are inserted once;
// time-window keys have their last-fired time moved to the alert's creation time.
func (s *AlertStore) Accept(ctx context.Context, a *models.Alert, key string, permanent bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return fmt.Errorf("save alert: %w", err)
		}
		if err := writeDedup(tx, a.Symbol, a.AlertType, key, a.CreatedAt, permanent); err != nil {
			return fmt.Errorf("write dedup %s/%d: %w", a.Symbol, a.AlertType, err)
		}
		return nil
	})
}

// Recent returns the newest alerts first.
func (s *AlertStore) Recent(ctx context.Context, limit int) ([]models.Alert, error) {
	var out []models.Alert
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (s *AlertStore) Count(ctx context.Context, symbol string, t models.AlertType) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("symbol = ? AND alert_type = ?", symbol, t).
		Count(&n).Error
	return n, err
}

// LastFired returns when the (symbol, type, key) alert last fired. ok is false if it never did.
func (s *AlertStore) LastFired(ctx context.Context, symbol string, t models.AlertType, key string) (time.Time, bool, error) {
	var d models.AlertDedup
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND alert_type = ? AND dedup_key = ?", symbol, t, key).
		Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load dedup %s/%d: %w", symbol, t, err)
	}
	return d.LastAlertTime, true, nil
}

func (s *AlertStore) KeyExists(ctx context.Context, symbol string, t models.AlertType, key string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.AlertDedup{}).
		Where("symbol = ? AND alert_type = ? AND dedup_key = ?", symbol, t, key).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check dedup key %s: %w", key, err)
	}
	return n > 0, nil
}

func writeDedup(tx *gorm.DB, symbol string, t models.AlertType, key string, at time.Time, permanent bool) error {
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "alert_type"}, {Name: "dedup_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_alert_time"}),
	}
	if permanent {
		conflict = clause.OnConflict{Columns: conflict.Columns, DoNothing: true}
	}
	return tx.Clauses(conflict).Create(&models.AlertDedup{
		Symbol:        symbol,
		AlertType:     t,
		DedupKey:      key,
		LastAlertTime: at.UTC(),
	}).Error
}
