package models

import "time"

// Debate signals. SignalAbstain marks an agent that timed out or errored;
// it carries no vote weight but is persisted like any other message.
const (
	SignalBuy     = "buy"
	SignalSell    = "sell"
	SignalHold    = "hold"
	SignalClose   = "close"
	SignalAbstain = "abstain"
)

// AgentDebateMessage is append-only: one structured signal per agent per
// symbol per round, produced by the debate collector.
type AgentDebateMessage struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	CouncilID uint64 `gorm:"not null;index"`
	RunID     uint64 `gorm:"not null;index"`

	AgentName string `gorm:"type:varchar(100);not null"`
	Symbol    string `gorm:"type:varchar(20);not null;index"`

	Signal        string  `gorm:"type:varchar(10);not null"`
	Sentiment     string  `gorm:"type:varchar(10);not null;default:'neutral'"`
	Confidence    float64 `gorm:"not null;default:0"`
	Justification string  `gorm:"type:text"`

	Round int `gorm:"not null;default:1"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (AgentDebateMessage) TableName() string {
	return "agent_debate_messages"
}

// Abstained reports whether this message represents a non-response.
func (m AgentDebateMessage) Abstained() bool {
	return m.Signal == SignalAbstain
}
