package consensus

import (
	"math/rand"
	"reflect"
	"testing"

	"councild/internal/models"
)

func msg(agent, signal string, confidence float64) models.AgentDebateMessage {
	return models.AgentDebateMessage{AgentName: agent, Signal: signal, Confidence: confidence}
}

func TestResolve_MajorityBuy(t *testing.T) {
	d := Resolve([]models.AgentDebateMessage{
		msg("a", models.SignalBuy, 0.8),
		msg("b", models.SignalBuy, 0.8),
		msg("c", models.SignalSell, 0.3),
	}, 0.5)
	if !d.Passed || d.Signal != models.SignalBuy {
		t.Fatalf("decision=%+v want passed buy", d)
	}
	if d.WinningWeight != 1.6 || d.TotalWeight != 3.0 {
		t.Fatalf("weights=%f/%f want 1.6/3.0", d.WinningWeight, d.TotalWeight)
	}
}

func TestResolve_ExactlyAtThresholdHolds(t *testing.T) {
	// Winning weight 1.5 equals 0.5*3.0; passing requires strictly more.
	d := Resolve([]models.AgentDebateMessage{
		msg("a", models.SignalBuy, 0.8),
		msg("b", models.SignalBuy, 0.7),
		msg("c", models.SignalSell, 0.3),
	}, 0.5)
	if d.Passed || d.Signal != models.SignalHold {
		t.Fatalf("decision=%+v want unpassed hold at exact threshold", d)
	}
}

func TestResolve_BelowThresholdHolds(t *testing.T) {
	d := Resolve([]models.AgentDebateMessage{
		msg("a", models.SignalBuy, 0.3),
		msg("b", models.SignalSell, 0.2),
		msg("c", models.SignalHold, 0.1),
	}, 0.5)
	if d.Passed || d.Signal != models.SignalHold {
		t.Fatalf("decision=%+v want unpassed hold", d)
	}
}

func TestResolve_DirectionalTieHolds(t *testing.T) {
	d := Resolve([]models.AgentDebateMessage{
		msg("a", models.SignalBuy, 0.4),
		msg("b", models.SignalSell, 0.4),
		msg("c", models.SignalHold, 0.2),
	}, 0.5)
	if d.Signal != models.SignalHold || d.Passed {
		t.Fatalf("decision=%+v want conservative hold on tie", d)
	}
}

func TestResolve_AbstentionExcludedFromDenominator(t *testing.T) {
	d := Resolve([]models.AgentDebateMessage{
		msg("a", models.SignalAbstain, 0),
		msg("b", models.SignalBuy, 0.6),
		msg("c", models.SignalBuy, 0.5),
	}, 0.5)
	if !d.Passed || d.Signal != models.SignalBuy {
		t.Fatalf("decision=%+v want passed buy", d)
	}
	// Denominator counts only the two responding agents: 1.1 > 0.5*2.0.
	if d.TotalWeight != 2.0 {
		t.Fatalf("total weight=%f want 2.0", d.TotalWeight)
	}
	if d.WinningWeight != 1.1 {
		t.Fatalf("winning weight=%f want 1.1", d.WinningWeight)
	}
	if d.Votes["a"] != models.SignalAbstain {
		t.Fatalf("abstention must still be recorded in votes: %+v", d.Votes)
	}
}

func TestResolve_AllAbstainHolds(t *testing.T) {
	d := Resolve([]models.AgentDebateMessage{
		msg("a", models.SignalAbstain, 0),
		msg("b", models.SignalAbstain, 0),
	}, 0.5)
	if d.Passed || d.Signal != models.SignalHold || d.TotalWeight != 0 {
		t.Fatalf("decision=%+v want hold with zero total weight", d)
	}
}

func TestResolve_EmptyHolds(t *testing.T) {
	d := Resolve(nil, 0.5)
	if d.Passed || d.Signal != models.SignalHold {
		t.Fatalf("decision=%+v want hold", d)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	signals := []string{models.SignalBuy, models.SignalSell, models.SignalHold, models.SignalClose, models.SignalAbstain}
	agents := []string{"a", "b", "c", "d", "e"}

	for i := 0; i < 200; i++ {
		msgs := make([]models.AgentDebateMessage, 0, len(agents))
		for _, name := range agents {
			s := signals[rng.Intn(len(signals))]
			conf := 0.0
			if s != models.SignalAbstain {
				conf = float64(rng.Intn(1000)) / 1000
			}
			msgs = append(msgs, msg(name, s, conf))
		}
		first := Resolve(msgs, 0.5)
		for j := 0; j < 3; j++ {
			again := Resolve(msgs, 0.5)
			if !reflect.DeepEqual(first, again) {
				t.Fatalf("resolve not deterministic: %+v vs %+v", first, again)
			}
		}
	}
}
