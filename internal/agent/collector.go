package agent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"councild/internal/models"
)

// Store is the persistence slice the collector needs.
type Store interface {
	CreateDebateMessages(ctx context.Context, items []models.AgentDebateMessage) error
}

// Collector fans one symbol out to every agent on the council and gathers
// the structured signals. An agent that errors or times out is recorded as
// an abstention, never as a default vote.
type Collector struct {
	Registry *Registry
	Repo     Store
	Logger   *zap.Logger

	AgentTimeout time.Duration
	Round        int
}

func (c *Collector) timeout() time.Duration {
	if c.AgentTimeout > 0 {
		return c.AgentTimeout
	}
	return 60 * time.Second
}

func (c *Collector) round() int {
	if c.Round > 0 {
		return c.Round
	}
	return 1
}

// Collect invokes all of the council's agents for one symbol concurrently,
// persists every message including abstentions, and returns the transcript.
func (c *Collector) Collect(ctx context.Context, council *models.Council, runID uint64, symbol string, mc MarketContext) ([]models.AgentDebateMessage, error) {
	agents, err := parseAgents(council)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, nil
	}

	messages := make([]models.AgentDebateMessage, len(agents))
	var wg sync.WaitGroup
	for i, ac := range agents {
		wg.Add(1)
		go func(i int, ac models.AgentConfig) {
			defer wg.Done()
			messages[i] = c.invokeOne(ctx, council, runID, symbol, mc, ac)
		}(i, ac)
	}
	wg.Wait()

	if c.Repo != nil {
		if err := c.Repo.CreateDebateMessages(ctx, messages); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (c *Collector) invokeOne(ctx context.Context, council *models.Council, runID uint64, symbol string, mc MarketContext, ac models.AgentConfig) models.AgentDebateMessage {
	msg := models.AgentDebateMessage{
		CouncilID: council.ID,
		RunID:     runID,
		AgentName: ac.Name,
		Symbol:    symbol,
		Round:     c.round(),
	}

	cap, ok := c.Registry.Lookup(ac.Name)
	if !ok {
		msg.Signal = models.SignalAbstain
		msg.Sentiment = "neutral"
		msg.Justification = "no capability registered"
		if c.Logger != nil {
			c.Logger.Warn("agent capability missing",
				zap.Uint64("council_id", council.ID),
				zap.String("agent", ac.Name))
		}
		return msg
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	sig, err := cap.Invoke(callCtx, symbol, mc)
	if err != nil {
		msg.Signal = models.SignalAbstain
		msg.Sentiment = "neutral"
		msg.Justification = err.Error()
		if c.Logger != nil {
			c.Logger.Warn("agent abstained",
				zap.Uint64("council_id", council.ID),
				zap.String("agent", ac.Name),
				zap.String("symbol", symbol),
				zap.Error(err))
		}
		return msg
	}

	msg.Signal = sig.Signal
	msg.Sentiment = sig.Sentiment
	msg.Confidence = sig.Confidence
	msg.Justification = sig.Justification
	return msg
}

func parseAgents(council *models.Council) ([]models.AgentConfig, error) {
	if council == nil || len(council.Agents) == 0 {
		return nil, nil
	}
	var agents []models.AgentConfig
	if err := json.Unmarshal(council.Agents, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}
