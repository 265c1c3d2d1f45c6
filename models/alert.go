package models

import (
	"time"

	"gorm.io/datatypes"
)

type AlertType int

const (
	AlertVolume    AlertType = 1
	AlertRise      AlertType = 2
	AlertOpenPrice AlertType = 3
)

func (t AlertType) String() string {
	switch t {
	case AlertVolume:
		return "volume"
	case AlertRise:
		return "rise"
	case AlertOpenPrice:
		return "open_price"
	default:
		return "unknown"
	}
}

func (Alert) TableName() string {
	return "alerts"
}

type Alert struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	Symbol    string         `gorm:"size:50;not null;index"`
	AlertType AlertType      `gorm:"not null;index"`
	Data      datatypes.JSON `gorm:"type:json"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index"`
}

func (AlertDedup) TableName() string {
	return "alert_dedups"
}

type AlertDedup struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	Symbol        string    `gorm:"size:50;not null;uniqueIndex:uniq_alert_dedup,priority:1"`
	AlertType     AlertType `gorm:"not null;uniqueIndex:uniq_alert_dedup,priority:2"`
	DedupKey      string    `gorm:"size:100;not null;uniqueIndex:uniq_alert_dedup,priority:3"`
	LastAlertTime time.Time `gorm:"not null"`
}
