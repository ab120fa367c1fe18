package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a spot position. One row per (council, symbol); quantities grow
// on buys and shrink on sells, with weighted-average cost tracking.
type Holding struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CouncilID uint64 `gorm:"not null;uniqueIndex:idx_holding_council_symbol"`
	Symbol    string `gorm:"type:varchar(20);not null;uniqueIndex:idx_holding_council_symbol"`

	BaseAsset  string `gorm:"type:varchar(10);not null"`
	QuoteAsset string `gorm:"type:varchar(10);not null"`

	Quantity    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	AverageCost decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	TotalCost   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	CurrentPrice  decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`
	UnrealizedPnL decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10);not null;default:0"`

	Status   string     `gorm:"type:varchar(20);not null;default:'active';index"`
	OpenedAt time.Time  `gorm:"type:timestamptz;not null"`
	ClosedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Holding) TableName() string {
	return "holdings"
}
