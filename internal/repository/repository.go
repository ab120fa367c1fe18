package repository

import (
	"context"
	"time"

	"councild/internal/models"
)

type ListCouncilsParams struct {
	Status      *string
	TradingMode *string
	Limit       int
	Offset      int
}

type ListRunsParams struct {
	CouncilID *uint64
	Status    *string
	Limit     int
	Offset    int
}

type ListDebateMessagesParams struct {
	CouncilID *uint64
	RunID     *uint64
	Symbol    *string
	Limit     int
	Offset    int
}

type ListDecisionsParams struct {
	CouncilID *uint64
	RunID     *uint64
	Symbol    *string
	Limit     int
	Offset    int
}

type ListOrdersParams struct {
	CouncilID *uint64
	RunID     *uint64
	Symbol    *string
	Status    *string
	Limit     int
	Offset    int
}

type ListSnapshotsParams struct {
	CouncilID uint64
	Since     *time.Time
	Limit     int
}

// Repository is the unified persistence surface. Consumer packages declare
// their own narrow subsets of it; the gorm Store satisfies the whole thing.
type Repository interface {
	// Councils. The engine never creates councils, only reads and updates
	// the cycle-owned fields.
	GetCouncil(ctx context.Context, id uint64) (*models.Council, error)
	ListCouncils(ctx context.Context, params ListCouncilsParams) ([]models.Council, error)
	CountCouncils(ctx context.Context, params ListCouncilsParams) (int64, error)
	ListSchedulableCouncils(ctx context.Context) ([]models.Council, error)
	SaveCouncil(ctx context.Context, item *models.Council) error

	// Runs and per-symbol cycle outcomes.
	CreateRun(ctx context.Context, item *models.CouncilRun) error
	SealRun(ctx context.Context, item *models.CouncilRun) error
	GetRunByUID(ctx context.Context, uid string) (*models.CouncilRun, error)
	ListRuns(ctx context.Context, params ListRunsParams) ([]models.CouncilRun, error)
	CountRuns(ctx context.Context, params ListRunsParams) (int64, error)
	FailStaleRuns(ctx context.Context, before time.Time, reason string) (int64, error)
	CreateRunCycle(ctx context.Context, item *models.CouncilRunCycle) error
	ListRunCycles(ctx context.Context, runID uint64) ([]models.CouncilRunCycle, error)

	// Debate transcript.
	CreateDebateMessages(ctx context.Context, items []models.AgentDebateMessage) error
	ListDebateMessages(ctx context.Context, params ListDebateMessagesParams) ([]models.AgentDebateMessage, error)

	// Consensus decisions.
	CreateConsensusDecision(ctx context.Context, item *models.ConsensusDecision) error
	SetDecisionExecution(ctx context.Context, id uint64, executed bool, reason string) error
	ListDecisions(ctx context.Context, params ListDecisionsParams) ([]models.ConsensusDecision, error)

	// Orders.
	CreateOrder(ctx context.Context, item *models.MarketOrder) error
	SaveOrder(ctx context.Context, item *models.MarketOrder) error
	GetOrderByToken(ctx context.Context, token string) (*models.MarketOrder, error)
	ListOrders(ctx context.Context, params ListOrdersParams) ([]models.MarketOrder, error)
	CountOrders(ctx context.Context, params ListOrdersParams) (int64, error)

	// Spot holdings and futures positions.
	GetHolding(ctx context.Context, councilID uint64, symbol string) (*models.Holding, error)
	ListActiveHoldings(ctx context.Context, councilID uint64) ([]models.Holding, error)
	SaveHolding(ctx context.Context, item *models.Holding) error
	GetOpenPosition(ctx context.Context, councilID uint64, symbol string) (*models.FuturesPosition, error)
	ListOpenPositions(ctx context.Context, councilID uint64) ([]models.FuturesPosition, error)
	SavePosition(ctx context.Context, item *models.FuturesPosition) error

	// Performance time series.
	CreateSnapshot(ctx context.Context, item *models.PerformanceSnapshot) error
	ListSnapshots(ctx context.Context, params ListSnapshotsParams) ([]models.PerformanceSnapshot, error)

	// Daemon lifecycle marker.
	GetDaemonMarker(ctx context.Context) (*models.DaemonMarker, error)
	ReplaceDaemonMarker(ctx context.Context, item *models.DaemonMarker) error
	TouchDaemonMarker(ctx context.Context, instanceID string, at time.Time) error
	DeleteDaemonMarker(ctx context.Context, instanceID string) error
}
