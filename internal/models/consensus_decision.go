package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConsensusDecision is the aggregated decision for one (council, symbol,
// run). Derived data: recomputed each cycle, never edited after creation
// except for the execution outcome fields.
type ConsensusDecision struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CouncilID uint64 `gorm:"not null;index"`
	RunID     uint64 `gorm:"not null;index"`

	Symbol   string `gorm:"type:varchar(20);not null;index"`
	Decision string `gorm:"type:varchar(10);not null;index"`

	WinningWeight float64 `gorm:"not null"`
	TotalWeight   float64 `gorm:"not null"`
	Threshold     float64 `gorm:"not null"`

	// Tally maps signal -> {weight, votes}; AgentVotes maps agent -> signal.
	Tally      datatypes.JSON `gorm:"type:jsonb"`
	AgentVotes datatypes.JSON `gorm:"type:jsonb"`

	Executed        bool   `gorm:"not null;default:false"`
	ExecutionReason string `gorm:"type:varchar(50)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (ConsensusDecision) TableName() string {
	return "consensus_decisions"
}
