package models

import "time"

// Global detection config keys.
const (
	KeyVolumePercent    = "1_volume_percent"
	KeyVolumeReminder   = "1_reminder_interval"
	KeyRisePercent      = "2_rise_percent"
	KeyRiseReminder     = "2_reminder_interval"
	KeyPriceError       = "3_price_error"
	KeyMiddleKlineCount = "3_middle_kline_cnt"
	KeyFakeKlineCount   = "3_fake_kline_cnt"
	KeyDedupEnabled     = "3_dedup_enabled"
)

func (GlobalConfig) TableName() string {
	return "configs"
}

type GlobalConfig struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Key         string    `gorm:"size:100;not null;uniqueIndex"`
	Value       string    `gorm:"size:255;not null"`
	Description string    `gorm:"size:255"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (SymbolConfig) TableName() string {
	return "symbol_configs"
}

// SymbolConfig overrides global thresholds for one (symbol, interval).
// Nil fields fall back to the global value.
type SymbolConfig struct {
	ID               int64    `gorm:"primaryKey;autoIncrement"`
	Symbol           string   `gorm:"size:50;not null;uniqueIndex:uniq_symbol_config,priority:1"`
	Interval         string   `gorm:"size:10;not null;uniqueIndex:uniq_symbol_config,priority:2"`
	PriceError       *float64 `gorm:"column:price_error"`
	MiddleKlineCount *int     `gorm:"column:middle_kline_cnt"`
	FakeKlineCount   *int     `gorm:"column:fake_kline_cnt"`
	VolumePercent    *float64 `gorm:"column:volume_percent"`
	RisePercent      *float64 `gorm:"column:rise_percent"`
}
