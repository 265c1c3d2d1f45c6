package models

import "time"

func (Symbol) TableName() string {
	return "symbols"
}

// Symbol is a tracked instrument. InitialSynced flips to true exactly once,
// after every interval has been backfilled.
type Symbol struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	Symbol        string    `gorm:"size:50;not null;uniqueIndex"`
	IsActive      bool      `gorm:"not null;default:true;index"`
	InitialSynced bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}
