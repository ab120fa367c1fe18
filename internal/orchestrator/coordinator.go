package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"councild/internal/agent"
	"councild/internal/broadcast"
	"councild/internal/consensus"
	"councild/internal/exchange"
	"councild/internal/models"
	"councild/internal/portfolio"
	"councild/internal/trading"
)

// ErrCycleInProgress signals that a fire was dropped because the council
// already has a cycle running. Informational, never queued.
var ErrCycleInProgress = errors.New("cycle already in progress")

// Symbol outcomes recorded on run cycles.
const (
	OutcomeTraded = "traded"
	OutcomeHeld   = "held"
	OutcomeFailed = "failed"
)

// Store is the persistence slice the coordinator needs.
type Store interface {
	GetCouncil(ctx context.Context, id uint64) (*models.Council, error)
	SaveCouncil(ctx context.Context, item *models.Council) error
	CreateRun(ctx context.Context, item *models.CouncilRun) error
	SealRun(ctx context.Context, item *models.CouncilRun) error
	CreateRunCycle(ctx context.Context, item *models.CouncilRunCycle) error
	CreateConsensusDecision(ctx context.Context, item *models.ConsensusDecision) error
	SetDecisionExecution(ctx context.Context, id uint64, executed bool, reason string) error
	GetHolding(ctx context.Context, councilID uint64, symbol string) (*models.Holding, error)
	GetOpenPosition(ctx context.Context, councilID uint64, symbol string) (*models.FuturesPosition, error)
}

// Coordinator drives one council through a full cycle: debate, consensus,
// trade, ledger, snapshot. The per-council lock makes cycles strictly
// sequential within a council.
type Coordinator struct {
	Repo      Store
	Collector *agent.Collector
	Executor  *trading.Executor
	Ledger    *portfolio.Ledger
	Hub       *broadcast.Hub
	Gateways  map[string]exchange.Gateway
	Logger    *zap.Logger

	DefaultThreshold float64

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

func (c *Coordinator) lockFor(councilID uint64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks == nil {
		c.locks = map[uint64]*sync.Mutex{}
	}
	l, ok := c.locks[councilID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[councilID] = l
	}
	return l
}

// RunCycle executes one cycle for the council. A second fire while a cycle
// is in flight returns ErrCycleInProgress with no run record.
func (c *Coordinator) RunCycle(ctx context.Context, councilID uint64, symbols []string, trigger string, testMode bool) (*models.CouncilRun, error) {
	lock := c.lockFor(councilID)
	if !lock.TryLock() {
		if c.Logger != nil {
			c.Logger.Info("cycle skipped, previous still running",
				zap.Uint64("council_id", councilID),
				zap.String("trigger", trigger))
		}
		return nil, ErrCycleInProgress
	}
	defer lock.Unlock()

	council, err := c.Repo.GetCouncil(ctx, councilID)
	if err != nil {
		return nil, err
	}
	if council == nil {
		return nil, fmt.Errorf("council %d not found", councilID)
	}
	if council.Status != "active" {
		return nil, fmt.Errorf("council %d is %s", councilID, council.Status)
	}

	if len(symbols) == 0 {
		symbols = councilSymbols(council)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("council %d has no symbols", councilID)
	}

	symbolsJSON, _ := json.Marshal(symbols)
	run := &models.CouncilRun{
		UID:         uuid.NewString(),
		CouncilID:   council.ID,
		TradingMode: council.TradingMode,
		Symbols:     datatypes.JSON(symbolsJSON),
		Trigger:     trigger,
		TestMode:    testMode,
		Status:      models.RunInProgress,
		StartedAt:   time.Now().UTC(),
	}
	if err := c.Repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	transcripts := c.debateAll(ctx, council, run.ID, symbols)

	outcomes := map[string]string{}
	failures := 0
	for _, symbol := range symbols {
		outcome, symErr := c.runSymbol(ctx, council, run, symbol, transcripts[symbol], testMode)
		outcomes[symbol] = outcome
		if symErr != nil {
			failures++
			if c.Logger != nil {
				c.Logger.Warn("symbol cycle failed",
					zap.Uint64("council_id", council.ID),
					zap.String("run", run.UID),
					zap.String("symbol", symbol),
					zap.Error(symErr))
			}
		}
	}

	run.Status = models.RunSuccess
	if failures == len(symbols) {
		run.Status = models.RunFailed
	} else if failures > 0 {
		run.Status = models.RunPartial
	}
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	if results, err := json.Marshal(outcomes); err == nil {
		run.Results = datatypes.JSON(results)
	}
	if err := c.Repo.SealRun(ctx, run); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	council.LastCycleAt = &now
	if err := c.Repo.SaveCouncil(ctx, council); err != nil {
		return nil, err
	}

	if !testMode && c.Ledger != nil {
		if snap, err := c.Ledger.Snapshot(ctx, council); err != nil {
			if c.Logger != nil {
				c.Logger.Warn("snapshot failed", zap.Uint64("council_id", council.ID), zap.Error(err))
			}
		} else if c.Hub != nil {
			c.Hub.Publish(broadcast.Event{
				Type:      broadcast.EventSnapshot,
				CouncilID: council.ID,
				Data: map[string]any{
					"total_value": snap.TotalValue.String(),
					"pnl":         snap.PnL.String(),
					"pnl_pct":     snap.PnLPct.String(),
				},
			})
		}
	}

	if c.Hub != nil {
		c.Hub.Publish(broadcast.Event{
			Type:      broadcast.EventCycle,
			CouncilID: council.ID,
			Data: map[string]any{
				"run":     run.UID,
				"status":  run.Status,
				"trigger": trigger,
				"results": outcomes,
			},
		})
	}
	return run, nil
}

// debateAll collects transcripts for all symbols concurrently. Per-agent
// concurrency lives inside the collector.
func (c *Coordinator) debateAll(ctx context.Context, council *models.Council, runID uint64, symbols []string) map[string][]models.AgentDebateMessage {
	transcripts := make(map[string][]models.AgentDebateMessage, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			mc, err := c.marketContext(ctx, council, symbol)
			if err != nil {
				if c.Logger != nil {
					c.Logger.Warn("market context failed",
						zap.Uint64("council_id", council.ID),
						zap.String("symbol", symbol),
						zap.Error(err))
				}
				return
			}
			msgs, err := c.Collector.Collect(ctx, council, runID, symbol, mc)
			if err != nil {
				if c.Logger != nil {
					c.Logger.Warn("debate collection failed",
						zap.Uint64("council_id", council.ID),
						zap.String("symbol", symbol),
						zap.Error(err))
				}
				return
			}
			mu.Lock()
			transcripts[symbol] = msgs
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return transcripts
}

func (c *Coordinator) runSymbol(ctx context.Context, council *models.Council, run *models.CouncilRun, symbol string, transcript []models.AgentDebateMessage, testMode bool) (string, error) {
	cycle := &models.CouncilRunCycle{RunID: run.ID, Symbol: symbol}
	fail := func(err error) (string, error) {
		cycle.Outcome = OutcomeFailed
		cycle.Error = err.Error()
		if createErr := c.Repo.CreateRunCycle(ctx, cycle); createErr != nil {
			return OutcomeFailed, createErr
		}
		return OutcomeFailed, err
	}

	if len(transcript) == 0 {
		return fail(fmt.Errorf("no debate transcript for %s", symbol))
	}

	threshold := council.ConsensusThreshold
	if threshold <= 0 {
		threshold = c.DefaultThreshold
	}
	decision := consensus.Resolve(transcript, threshold)

	record, err := c.persistDecision(ctx, council, run.ID, symbol, decision)
	if err != nil {
		return fail(err)
	}
	cycle.ConsensusDecisionID = &record.ID

	if c.Hub != nil {
		c.Hub.Publish(broadcast.Event{
			Type:      broadcast.EventConsensus,
			CouncilID: council.ID,
			Symbol:    symbol,
			Data: map[string]any{
				"decision":       decision.Signal,
				"passed":         decision.Passed,
				"winning_weight": decision.WinningWeight,
				"total_weight":   decision.TotalWeight,
			},
		})
	}

	if !decision.Passed || decision.Signal == models.SignalHold {
		_ = c.Repo.SetDecisionExecution(ctx, record.ID, false, "below_threshold_or_hold")
		cycle.Outcome = OutcomeHeld
		if err := c.Repo.CreateRunCycle(ctx, cycle); err != nil {
			return OutcomeHeld, err
		}
		return OutcomeHeld, nil
	}

	req := trading.Request{
		Council:  council,
		RunID:    run.ID,
		Symbol:   symbol,
		Decision: decision,
		TestMode: testMode,
	}
	if err := c.fillPositionState(ctx, council, symbol, &req); err != nil {
		return fail(err)
	}

	order, err := c.Executor.Execute(ctx, req)
	if err != nil {
		return fail(err)
	}
	if order == nil {
		_ = c.Repo.SetDecisionExecution(ctx, record.ID, false, "nothing_to_trade")
		cycle.Outcome = OutcomeHeld
		if err := c.Repo.CreateRunCycle(ctx, cycle); err != nil {
			return OutcomeHeld, err
		}
		return OutcomeHeld, nil
	}
	cycle.OrderID = &order.ID

	if order.Status == models.OrderFailed {
		_ = c.Repo.SetDecisionExecution(ctx, record.ID, false, order.FailureReason)
		return fail(fmt.Errorf("order failed: %s", order.FailureReason))
	}
	_ = c.Repo.SetDecisionExecution(ctx, record.ID, true, "executed")

	// Simulated orders never touch the book.
	if order.Status != models.OrderSimulated && c.Ledger != nil {
		if err := c.Ledger.ApplyFill(ctx, council, order); err != nil {
			return fail(err)
		}
	}

	if c.Hub != nil {
		c.Hub.Publish(broadcast.Event{
			Type:      broadcast.EventTrade,
			CouncilID: council.ID,
			Symbol:    symbol,
			Data: map[string]any{
				"side":     order.Side,
				"status":   order.Status,
				"quantity": order.FilledQuantity.String(),
				"price":    order.EntryPrice.String(),
			},
		})
	}

	cycle.Outcome = OutcomeTraded
	if err := c.Repo.CreateRunCycle(ctx, cycle); err != nil {
		return OutcomeTraded, err
	}
	return OutcomeTraded, nil
}

func (c *Coordinator) persistDecision(ctx context.Context, council *models.Council, runID uint64, symbol string, decision consensus.Decision) (*models.ConsensusDecision, error) {
	tally, _ := json.Marshal(decision.Tally)
	votes, _ := json.Marshal(decision.Votes)
	record := &models.ConsensusDecision{
		CouncilID:     council.ID,
		RunID:         runID,
		Symbol:        symbol,
		Decision:      decision.Signal,
		WinningWeight: decision.WinningWeight,
		TotalWeight:   decision.TotalWeight,
		Threshold:     decision.Threshold,
		Tally:         datatypes.JSON(tally),
		AgentVotes:    datatypes.JSON(votes),
	}
	if err := c.Repo.CreateConsensusDecision(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// marketContext assembles the snapshot handed to agents: current price plus
// the council's cash and exposure for the symbol.
func (c *Coordinator) marketContext(ctx context.Context, council *models.Council, symbol string) (agent.MarketContext, error) {
	gw, ok := c.Gateways[council.TradingMode]
	if !ok || gw == nil {
		return agent.MarketContext{}, fmt.Errorf("no gateway for trading mode %q", council.TradingMode)
	}
	quote, err := gw.GetPrice(ctx, symbol)
	if err != nil {
		return agent.MarketContext{}, err
	}

	mc := agent.MarketContext{
		Symbol:      symbol,
		Price:       quote.Price,
		TradingType: council.TradingType,
		Cash:        council.AvailableBalance,
		RecentPnL:   council.RealizedPnL,
	}
	if council.TotalTrades > 0 {
		mc.WinRate = float64(council.WinningTrades) / float64(council.TotalTrades)
	}

	if council.TradingType == "futures" {
		pos, err := c.Repo.GetOpenPosition(ctx, council.ID, symbol)
		if err != nil {
			return agent.MarketContext{}, err
		}
		if pos != nil {
			mc.PositionSide = pos.Side
			mc.HoldingQty = pos.Quantity
			mc.HoldingCost = pos.Margin
		}
		return mc, nil
	}

	holding, err := c.Repo.GetHolding(ctx, council.ID, symbol)
	if err != nil {
		return agent.MarketContext{}, err
	}
	if holding != nil && holding.Quantity.GreaterThan(decimal.Zero) {
		mc.HoldingQty = holding.Quantity
		mc.HoldingCost = holding.TotalCost
	}
	return mc, nil
}

func (c *Coordinator) fillPositionState(ctx context.Context, council *models.Council, symbol string, req *trading.Request) error {
	if council.TradingType == "futures" {
		pos, err := c.Repo.GetOpenPosition(ctx, council.ID, symbol)
		if err != nil {
			return err
		}
		if pos != nil {
			req.PositionSide = pos.Side
			req.PositionQty = pos.Quantity
		}
		return nil
	}
	holding, err := c.Repo.GetHolding(ctx, council.ID, symbol)
	if err != nil {
		return err
	}
	if holding != nil {
		req.HoldingQty = holding.Quantity
	}
	return nil
}

func councilSymbols(council *models.Council) []string {
	if len(council.Symbols) == 0 {
		return nil
	}
	var symbols []string
	if err := json.Unmarshal(council.Symbols, &symbols); err != nil {
		return nil
	}
	return symbols
}
