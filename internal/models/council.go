package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Council is a named group of trading agents sharing capital and a strategy.
// Created and archived by the external CRUD layer; the engine only mutates
// capital, counters, and last_cycle_at after each cycle.
type Council struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"type:varchar(200);not null"`

	Strategy string `gorm:"type:varchar(100)"`

	// Agents is a JSON array of {"name": "...", "weight": 1.0} entries.
	Agents  datatypes.JSON `gorm:"type:jsonb;not null"`
	Symbols datatypes.JSON `gorm:"type:jsonb"`

	TradingMode string `gorm:"type:varchar(10);not null;default:'paper';index"`
	TradingType string `gorm:"type:varchar(10);not null;default:'spot'"`
	Status      string `gorm:"type:varchar(20);not null;default:'active';index"`

	InitialCapital   decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	CurrentCapital   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	AvailableBalance decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`

	RiskFraction       float64 `gorm:"not null;default:0.1"`
	Leverage           int     `gorm:"not null;default:1"`
	ConsensusThreshold float64 `gorm:"not null;default:0.5"`

	ScheduleIntervalSeconds int  `gorm:"not null;default:14400"`
	EventTriggers           bool `gorm:"not null;default:false"`

	TotalTrades   int             `gorm:"not null;default:0"`
	WinningTrades int             `gorm:"not null;default:0"`
	RealizedPnL   decimal.Decimal `gorm:"column:realized_pnl;type:numeric(20,2);not null;default:0"`
	TotalFees     decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	BiggestWin    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	BiggestLoss   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`

	LastCycleAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Council) TableName() string {
	return "councils"
}

// AgentConfig is one entry of Council.Agents.
type AgentConfig struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight,omitempty"`
}
