package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"councild/internal/models"
)

type stubCapability struct {
	name string
	sig  Signal
	err  error
	wait time.Duration
}

func (s *stubCapability) Name() string { return s.name }

func (s *stubCapability) Invoke(ctx context.Context, symbol string, mc MarketContext) (Signal, error) {
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return Signal{}, ctx.Err()
		}
	}
	if s.err != nil {
		return Signal{}, s.err
	}
	return s.sig, nil
}

type stubStore struct {
	saved []models.AgentDebateMessage
}

func (s *stubStore) CreateDebateMessages(ctx context.Context, items []models.AgentDebateMessage) error {
	s.saved = append(s.saved, items...)
	return nil
}

func testCouncil(t *testing.T, agents []models.AgentConfig) *models.Council {
	t.Helper()
	raw, err := json.Marshal(agents)
	if err != nil {
		t.Fatalf("marshal agents: %v", err)
	}
	return &models.Council{ID: 7, Agents: raw}
}

func TestCollect_AllAgentsRespond(t *testing.T) {
	reg := &Registry{}
	reg.Register(&stubCapability{name: "technical", sig: Signal{Signal: "buy", Sentiment: "bullish", Confidence: 0.8}})
	reg.Register(&stubCapability{name: "sentiment", sig: Signal{Signal: "hold", Sentiment: "neutral", Confidence: 0.4}})

	store := &stubStore{}
	c := &Collector{Registry: reg, Repo: store, AgentTimeout: time.Second}

	council := testCouncil(t, []models.AgentConfig{{Name: "technical"}, {Name: "sentiment"}})
	msgs, err := c.Collect(context.Background(), council, 11, "BTCUSDT", MarketContext{Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages=%d want=2", len(msgs))
	}
	if msgs[0].AgentName != "technical" || msgs[0].Signal != models.SignalBuy {
		t.Fatalf("msg[0]=%+v want technical buy", msgs[0])
	}
	if msgs[1].Signal != models.SignalHold {
		t.Fatalf("msg[1]=%+v want hold", msgs[1])
	}
	if len(store.saved) != 2 {
		t.Fatalf("persisted=%d want=2", len(store.saved))
	}
	for _, m := range msgs {
		if m.CouncilID != 7 || m.RunID != 11 {
			t.Fatalf("message missing run attribution: %+v", m)
		}
	}
}

func TestCollect_TimeoutBecomesAbstention(t *testing.T) {
	reg := &Registry{}
	reg.Register(&stubCapability{name: "slow", sig: Signal{Signal: "buy", Confidence: 0.9}, wait: 500 * time.Millisecond})
	reg.Register(&stubCapability{name: "fast", sig: Signal{Signal: "sell", Sentiment: "bearish", Confidence: 0.7}})

	store := &stubStore{}
	c := &Collector{Registry: reg, Repo: store, AgentTimeout: 20 * time.Millisecond}

	council := testCouncil(t, []models.AgentConfig{{Name: "slow"}, {Name: "fast"}})
	msgs, err := c.Collect(context.Background(), council, 1, "ETHUSDT", MarketContext{})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if !msgs[0].Abstained() {
		t.Fatalf("slow agent should abstain, got %+v", msgs[0])
	}
	if msgs[0].Confidence != 0 {
		t.Fatalf("abstention must carry zero confidence, got %f", msgs[0].Confidence)
	}
	if msgs[1].Signal != models.SignalSell {
		t.Fatalf("fast agent vote lost: %+v", msgs[1])
	}
	// Abstentions are persisted like any other message.
	if len(store.saved) != 2 {
		t.Fatalf("persisted=%d want=2", len(store.saved))
	}
}

func TestCollect_ErrorAndMissingCapabilityAbstain(t *testing.T) {
	reg := &Registry{}
	reg.Register(&stubCapability{name: "broken", err: errors.New("upstream 500")})

	store := &stubStore{}
	c := &Collector{Registry: reg, Repo: store, AgentTimeout: time.Second}

	council := testCouncil(t, []models.AgentConfig{{Name: "broken"}, {Name: "unknown"}})
	msgs, err := c.Collect(context.Background(), council, 2, "BTCUSDT", MarketContext{})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, m := range msgs {
		if !m.Abstained() {
			t.Fatalf("expected abstention, got %+v", m)
		}
	}
}

func TestNormalizeSignal(t *testing.T) {
	if _, err := normalizeSignal(Signal{Signal: "BUY", Confidence: 0.5}); err != nil {
		t.Fatalf("uppercase signal should normalize: %v", err)
	}
	if _, err := normalizeSignal(Signal{Signal: "moon", Confidence: 0.5}); err == nil {
		t.Fatal("invalid signal accepted")
	}
	if _, err := normalizeSignal(Signal{Signal: "buy", Confidence: 1.2}); err == nil {
		t.Fatal("out-of-range confidence accepted")
	}
}
