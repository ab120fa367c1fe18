package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PerformanceSnapshot is an append-only time series, one row per completed
// cycle plus periodic cron snapshots.
type PerformanceSnapshot struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	CouncilID uint64    `gorm:"not null;index"`
	TakenAt   time.Time `gorm:"type:timestamptz;not null;index"`

	TotalValue decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Cash       decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	PnL    decimal.Decimal `gorm:"column:pnl;type:numeric(30,10);not null"`
	PnLPct decimal.Decimal `gorm:"column:pnl_pct;type:numeric(10,4);not null"`

	WinRate       decimal.Decimal `gorm:"type:numeric(5,2);not null"`
	TradeCount    int             `gorm:"not null"`
	OpenPositions int             `gorm:"not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (PerformanceSnapshot) TableName() string {
	return "performance_snapshots"
}
