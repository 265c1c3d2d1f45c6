// models/kline.go
package models

func (Kline) TableName() string {
	return "price_klines"
}

// Kline is one exchange candle. Times are unix milliseconds.
type Kline struct {
	ID                  int64   `gorm:"primaryKey;autoIncrement"`
	Symbol              string  `gorm:"size:50;not null;uniqueIndex:uniq_symbol_interval_time,priority:1;index:idx_kline_bullish,priority:1"`
	Interval            string  `gorm:"size:10;not null;uniqueIndex:uniq_symbol_interval_time,priority:2;index:idx_kline_bullish,priority:2"`
	OpenTime            int64   `gorm:"not null;uniqueIndex:uniq_symbol_interval_time,priority:3;index:idx_kline_bullish,priority:3"`
	CloseTime           int64   `gorm:"not null"`
	Open                float64 `gorm:"type:decimal(30,12)"`
	High                float64 `gorm:"type:decimal(30,12)"`
	Low                 float64 `gorm:"type:decimal(30,12)"`
	Close               float64 `gorm:"type:decimal(30,12)"`
	Volume              float64 `gorm:"type:decimal(30,8)"`
	QuoteVolume         float64 `gorm:"type:decimal(30,8)"`
	TradeCount          int64
	TakerBuyVolume      float64 `gorm:"type:decimal(30,8)"`
	TakerBuyQuoteVolume float64 `gorm:"type:decimal(30,8)"`
}

// IsClosed reports whether the candle finished before nowMs.
func (k Kline) IsClosed(nowMs int64) bool {
	return k.CloseTime < nowMs
}

func (k Kline) IsBullish() bool {
	return k.Close > k.Open
}
