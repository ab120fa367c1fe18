package consensus

import (
	"sort"

	"councild/internal/models"
)

// Decision is the aggregate outcome for one symbol.
type Decision struct {
	Signal        string
	WinningWeight float64
	TotalWeight   float64
	Threshold     float64
	Passed        bool

	// Tally maps signal -> summed confidence of its voters.
	Tally map[string]float64
	// Votes maps agent name -> signal, abstentions included.
	Votes map[string]string
}

// Resolve aggregates debate messages into one decision. Non-abstaining
// votes are weighted by confidence; the winning signal must exceed
// threshold * (number of responding agents) or the decision falls back to
// hold. An exact tie between directional signals also resolves to hold.
// Pure function of its inputs.
func Resolve(messages []models.AgentDebateMessage, threshold float64) Decision {
	d := Decision{
		Signal:    models.SignalHold,
		Threshold: threshold,
		Tally:     map[string]float64{},
		Votes:     map[string]string{},
	}

	responding := 0
	for _, m := range messages {
		d.Votes[m.AgentName] = m.Signal
		if m.Abstained() {
			continue
		}
		responding++
		d.Tally[m.Signal] += m.Confidence
	}
	if responding == 0 {
		return d
	}

	// Max possible weight: each responding agent at confidence 1.0.
	d.TotalWeight = float64(responding)

	signals := make([]string, 0, len(d.Tally))
	for sig := range d.Tally {
		signals = append(signals, sig)
	}
	sort.Strings(signals)

	best := ""
	bestWeight := 0.0
	tied := false
	for _, sig := range signals {
		w := d.Tally[sig]
		switch {
		case w > bestWeight:
			best, bestWeight, tied = sig, w, false
		case w == bestWeight && best != "":
			tied = true
		}
	}

	d.WinningWeight = bestWeight
	if tied || best == "" {
		return d
	}
	if bestWeight <= threshold*d.TotalWeight {
		return d
	}

	d.Signal = best
	d.Passed = true
	return d
}
