package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses. closed, failed and simulated are terminal and immutable.
const (
	OrderOpen      = "open"
	OrderClosed    = "closed"
	OrderFailed    = "failed"
	OrderSimulated = "simulated"
)

type MarketOrder struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CouncilID uint64 `gorm:"not null;index"`
	RunID     uint64 `gorm:"not null;index"`

	ExchangeOrderID  string `gorm:"type:varchar(100);index"`
	IdempotencyToken string `gorm:"type:varchar(36);not null;uniqueIndex"`

	Symbol    string `gorm:"type:varchar(20);not null;index"`
	Side      string `gorm:"type:varchar(10);not null"`
	OrderType string `gorm:"type:varchar(20);not null;default:'market'"`

	RequestedQuantity decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	FilledQuantity    decimal.Decimal  `gorm:"type:numeric(30,10);not null;default:0"`
	EntryPrice        decimal.Decimal  `gorm:"type:numeric(20,10);not null;default:0"`
	ExitPrice         *decimal.Decimal `gorm:"type:numeric(20,10)"`
	Notional          decimal.Decimal  `gorm:"type:numeric(30,10);not null;default:0"`
	Fee               decimal.Decimal  `gorm:"type:numeric(30,10);not null;default:0"`

	Leverage         int              `gorm:"not null;default:1"`
	LiquidationPrice *decimal.Decimal `gorm:"type:numeric(20,10)"`

	Status        string `gorm:"type:varchar(20);not null;index"`
	FailureReason string `gorm:"type:text"`

	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`

	OpenedAt time.Time  `gorm:"type:timestamptz;not null"`
	ClosedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (MarketOrder) TableName() string {
	return "market_orders"
}

// Terminal reports whether the order may no longer change.
func (o MarketOrder) Terminal() bool {
	return o.Status == OrderClosed || o.Status == OrderFailed || o.Status == OrderSimulated
}
