package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type FuturesPosition struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CouncilID uint64 `gorm:"not null;index"`
	Symbol    string `gorm:"type:varchar(20);not null;index"`

	Side     string `gorm:"type:varchar(10);not null"`
	Leverage int    `gorm:"not null;default:1"`

	Quantity   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	EntryPrice decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	Margin     decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	MarkPrice        decimal.Decimal  `gorm:"type:numeric(20,10);not null;default:0"`
	LiquidationPrice *decimal.Decimal `gorm:"type:numeric(20,10)"`
	UnrealizedPnL    decimal.Decimal  `gorm:"column:unrealized_pnl;type:numeric(30,10);not null;default:0"`
	RealizedPnL      decimal.Decimal  `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`

	Status   string     `gorm:"type:varchar(20);not null;default:'open';index"`
	OpenedAt time.Time  `gorm:"type:timestamptz;not null"`
	ClosedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (FuturesPosition) TableName() string {
	return "futures_positions"
}
