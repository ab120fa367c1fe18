package models

import (
	"time"

	"gorm.io/datatypes"
)

// Run statuses. A run is immutable once sealed in a terminal status.
const (
	RunInProgress = "in_progress"
	RunSuccess    = "success"
	RunPartial    = "partial"
	RunFailed     = "failed"
)

// CouncilRun is one invocation of the cycle coordinator for a council.
type CouncilRun struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	UID       string `gorm:"type:varchar(36);not null;uniqueIndex"`
	CouncilID uint64 `gorm:"not null;index"`

	TradingMode string         `gorm:"type:varchar(10);not null"`
	Symbols     datatypes.JSON `gorm:"type:jsonb"`
	Trigger     string         `gorm:"type:varchar(20);not null;default:'schedule'"`
	TestMode    bool           `gorm:"not null;default:false"`

	Status      string     `gorm:"type:varchar(20);not null;default:'in_progress';index"`
	StartedAt   time.Time  `gorm:"type:timestamptz;not null"`
	CompletedAt *time.Time `gorm:"type:timestamptz"`

	Results      datatypes.JSON `gorm:"type:jsonb"`
	ErrorMessage string         `gorm:"type:text"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CouncilRun) TableName() string {
	return "council_runs"
}

// CouncilRunCycle records the outcome of one symbol within a run.
type CouncilRunCycle struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	RunID  uint64 `gorm:"not null;index"`
	Symbol string `gorm:"type:varchar(20);not null;index"`

	ConsensusDecisionID *uint64 `gorm:"index"`
	OrderID             *uint64 `gorm:"index"`

	Outcome string `gorm:"type:varchar(20);not null"`
	Error   string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (CouncilRunCycle) TableName() string {
	return "council_run_cycles"
}
