package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"councild/internal/config"
)

// MarketContext is the snapshot handed to every agent for one symbol.
type MarketContext struct {
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	TradingType  string          `json:"trading_type"`
	Cash         decimal.Decimal `json:"cash"`
	HoldingQty   decimal.Decimal `json:"holding_qty"`
	HoldingCost  decimal.Decimal `json:"holding_cost"`
	PositionSide string          `json:"position_side,omitempty"`
	RecentPnL    decimal.Decimal `json:"recent_pnl"`
	WinRate      float64         `json:"win_rate"`
}

// Signal is the structured opinion contract every capability must produce.
type Signal struct {
	Signal        string  `json:"signal"`
	Sentiment     string  `json:"sentiment"`
	Confidence    float64 `json:"confidence"`
	Justification string  `json:"justification"`
}

// Capability is one agent's opinion source. Implementations are external
// black boxes; the engine only consumes the structured result.
type Capability interface {
	Name() string
	Invoke(ctx context.Context, symbol string, mc MarketContext) (Signal, error)
}

// HTTPCapability calls an external agent service over JSON POST.
type HTTPCapability struct {
	AgentName string
	URL       string
	HTTP      *http.Client
}

func NewHTTPCapability(ep config.AgentEndpoint) *HTTPCapability {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPCapability{
		AgentName: ep.Name,
		URL:       ep.URL,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

func (c *HTTPCapability) Name() string { return c.AgentName }

func (c *HTTPCapability) Invoke(ctx context.Context, symbol string, mc MarketContext) (Signal, error) {
	payload, err := json.Marshal(map[string]any{
		"agent":   c.AgentName,
		"symbol":  symbol,
		"context": mc,
	})
	if err != nil {
		return Signal{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return Signal{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Signal{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Signal{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Signal{}, fmt.Errorf("agent %s: status %d: %s", c.AgentName, resp.StatusCode, truncate(string(body), 200))
	}

	var sig Signal
	if err := json.Unmarshal(body, &sig); err != nil {
		return Signal{}, fmt.Errorf("agent %s: decode response: %w", c.AgentName, err)
	}
	return normalizeSignal(sig)
}

func normalizeSignal(sig Signal) (Signal, error) {
	sig.Signal = strings.ToLower(strings.TrimSpace(sig.Signal))
	switch sig.Signal {
	case "buy", "sell", "hold", "close":
	default:
		return Signal{}, fmt.Errorf("invalid signal %q", sig.Signal)
	}
	if sig.Confidence < 0 || sig.Confidence > 1 {
		return Signal{}, fmt.Errorf("confidence %0.3f out of range", sig.Confidence)
	}
	if strings.TrimSpace(sig.Sentiment) == "" {
		sig.Sentiment = "neutral"
	}
	return sig, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Registry maps agent names to capabilities.
type Registry struct {
	byName map[string]Capability
}

func NewRegistry(endpoints []config.AgentEndpoint) *Registry {
	r := &Registry{byName: map[string]Capability{}}
	for _, ep := range endpoints {
		if strings.TrimSpace(ep.Name) == "" || strings.TrimSpace(ep.URL) == "" {
			continue
		}
		r.byName[ep.Name] = NewHTTPCapability(ep)
	}
	return r
}

func (r *Registry) Register(c Capability) {
	if r == nil || c == nil {
		return
	}
	if r.byName == nil {
		r.byName = map[string]Capability{}
	}
	r.byName[c.Name()] = c
}

func (r *Registry) Lookup(name string) (Capability, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.byName[name]
	return c, ok
}
