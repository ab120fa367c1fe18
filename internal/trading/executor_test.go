package trading

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"councild/internal/consensus"
	"councild/internal/exchange"
	"councild/internal/models"
)

type stubGateway struct {
	price      decimal.Decimal
	placeErrs  []error
	placeCalls int
	tokens     []string
	ackOnly    bool
}

func (g *stubGateway) GetPrice(ctx context.Context, symbol string) (exchange.Quote, error) {
	return exchange.Quote{Symbol: symbol, Price: g.price, At: time.Now().UTC()}, nil
}

func (g *stubGateway) GetAccount(ctx context.Context) (exchange.Account, error) {
	return exchange.Account{}, nil
}

func (g *stubGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.placeCalls++
	g.tokens = append(g.tokens, req.IdempotencyToken)
	if len(g.placeErrs) > 0 {
		err := g.placeErrs[0]
		g.placeErrs = g.placeErrs[1:]
		if err != nil {
			return exchange.OrderResult{}, err
		}
	}
	if g.ackOnly {
		// Acknowledgement without fill details, as market orders often return.
		return exchange.OrderResult{
			OrderID: "x1",
			Symbol:  req.Symbol,
			Side:    req.Side,
			Status:  "NEW",
		}, nil
	}
	return exchange.OrderResult{
		OrderID:        "x1",
		Symbol:         req.Symbol,
		Side:           req.Side,
		Status:         "FILLED",
		FilledQuantity: req.Quantity,
		AvgPrice:       g.price,
	}, nil
}

type stubOrderStore struct {
	created []*models.MarketOrder
	saved   []*models.MarketOrder
}

func (s *stubOrderStore) CreateOrder(ctx context.Context, item *models.MarketOrder) error {
	s.created = append(s.created, item)
	return nil
}

func (s *stubOrderStore) SaveOrder(ctx context.Context, item *models.MarketOrder) error {
	s.saved = append(s.saved, item)
	return nil
}

func newTestExecutor(gw exchange.Gateway, store Store) *Executor {
	return &Executor{
		Gateways:           map[string]exchange.Gateway{"paper": gw, "live": gw},
		Repo:               store,
		MaxBalanceFraction: decimal.NewFromFloat(0.95),
		MinNotional:        decimal.NewFromInt(10),
		QuantityStep:       decimal.NewFromFloat(0.001),
		FeeRate:            decimal.NewFromFloat(0.001),
		RateLimitBackoff:   time.Millisecond,
		RateLimitAttempts:  3,
		NetworkRetries:     2,
		NetworkRetryDelay:  time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			return nil
		},
	}
}

func buyDecision(weight, total float64) consensus.Decision {
	return consensus.Decision{
		Signal:        models.SignalBuy,
		WinningWeight: weight,
		TotalWeight:   total,
		Threshold:     0.5,
		Passed:        true,
	}
}

func paperCouncil() *models.Council {
	return &models.Council{
		ID:               1,
		TradingMode:      "paper",
		TradingType:      "spot",
		CurrentCapital:   decimal.NewFromInt(10000),
		AvailableBalance: decimal.NewFromInt(10000),
		RiskFraction:     0.1,
		Leverage:         1,
	}
}

func TestExecute_BuyFills(t *testing.T) {
	gw := &stubGateway{price: decimal.NewFromInt(50000)}
	store := &stubOrderStore{}
	e := newTestExecutor(gw, store)

	order, err := e.Execute(context.Background(), Request{
		Council:  paperCouncil(),
		RunID:    3,
		Symbol:   "BTCUSDT",
		Decision: buyDecision(1.6, 2.0),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if order == nil || order.Status != models.OrderClosed {
		t.Fatalf("order=%+v want closed", order)
	}
	// 10000 * 0.1 * 0.8 = 800 notional at 50000 rounds down to 0.016.
	if order.FilledQuantity.Cmp(decimal.NewFromFloat(0.016)) != 0 {
		t.Fatalf("quantity=%s want 0.016", order.FilledQuantity)
	}
	if gw.placeCalls != 1 {
		t.Fatalf("gateway calls=%d want 1", gw.placeCalls)
	}
	if order.IdempotencyToken == "" {
		t.Fatal("order missing idempotency token")
	}
}

func TestExecute_RateLimitRetrySameToken(t *testing.T) {
	gw := &stubGateway{
		price: decimal.NewFromInt(50000),
		placeErrs: []error{
			&exchange.RateLimitError{Code: -1003, Message: "too many requests"},
			&exchange.RateLimitError{Code: -1003, Message: "too many requests"},
		},
	}
	store := &stubOrderStore{}
	e := newTestExecutor(gw, store)

	order, err := e.Execute(context.Background(), Request{
		Council:  paperCouncil(),
		Symbol:   "BTCUSDT",
		Decision: buyDecision(1.6, 2.0),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if order.Status != models.OrderClosed {
		t.Fatalf("status=%s want closed after retries", order.Status)
	}
	if gw.placeCalls != 3 {
		t.Fatalf("gateway calls=%d want 3", gw.placeCalls)
	}
	// Every retry reuses the same client token so the venue can dedupe.
	for _, tok := range gw.tokens {
		if tok != order.IdempotencyToken {
			t.Fatalf("token changed across retries: %v", gw.tokens)
		}
	}
	if len(store.created) != 1 {
		t.Fatalf("orders created=%d want 1", len(store.created))
	}
}

func TestExecute_RateLimitExhaustedFails(t *testing.T) {
	gw := &stubGateway{
		price: decimal.NewFromInt(50000),
		placeErrs: []error{
			&exchange.RateLimitError{Code: -1003},
			&exchange.RateLimitError{Code: -1003},
			&exchange.RateLimitError{Code: -1003},
		},
	}
	store := &stubOrderStore{}
	e := newTestExecutor(gw, store)

	order, err := e.Execute(context.Background(), Request{
		Council:  paperCouncil(),
		Symbol:   "BTCUSDT",
		Decision: buyDecision(1.6, 2.0),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if order.Status != models.OrderFailed || order.FailureReason != ReasonRateLimited {
		t.Fatalf("order=%+v want failed rate_limited", order)
	}
	if gw.placeCalls != 3 {
		t.Fatalf("gateway calls=%d want 3", gw.placeCalls)
	}
}

func TestExecute_AuthErrorNotRetried(t *testing.T) {
	gw := &stubGateway{
		price:     decimal.NewFromInt(50000),
		placeErrs: []error{&exchange.AuthError{Code: -2015, Message: "invalid key"}},
	}
	store := &stubOrderStore{}
	e := newTestExecutor(gw, store)

	order, err := e.Execute(context.Background(), Request{
		Council:  paperCouncil(),
		Symbol:   "BTCUSDT",
		Decision: buyDecision(1.6, 2.0),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if order.Status != models.OrderFailed || order.FailureReason != ReasonAuthFailed {
		t.Fatalf("order=%+v want failed auth_failed", order)
	}
	if gw.placeCalls != 1 {
		t.Fatalf("gateway calls=%d want 1, auth errors must not retry", gw.placeCalls)
	}
}

func TestExecute_NetworkErrorRetriesThenFills(t *testing.T) {
	gw := &stubGateway{
		price:     decimal.NewFromInt(50000),
		placeErrs: []error{&exchange.NetworkError{Message: "timeout"}},
	}
	store := &stubOrderStore{}
	e := newTestExecutor(gw, store)

	order, err := e.Execute(context.Background(), Request{
		Council:  paperCouncil(),
		Symbol:   "BTCUSDT",
		Decision: buyDecision(1.6, 2.0),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if order.Status != models.OrderClosed {
		t.Fatalf("status=%s want closed", order.Status)
	}
	if gw.placeCalls != 2 {
		t.Fatalf("gateway calls=%d want 2", gw.placeCalls)
	}
}

func TestExecute_AckResponseFallsBackToQuote(t *testing.T) {
	gw := &stubGateway{price: decimal.NewFromInt(50000), ackOnly: true}
	store := &stubOrderStore{}
	e := newTestExecutor(gw, store)

	order, err := e.Execute(context.Background(), Request{
		Council:  paperCouncil(),
		Symbol:   "BTCUSDT",
		Decision: buyDecision(1.6, 2.0),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if order.Status != models.OrderClosed {
		t.Fatalf("status=%s want closed", order.Status)
	}
	// Missing fill details fall back to the pre-submission quote; a closed
	// order must never carry a zero entry price or notional.
	if !order.EntryPrice.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("entry price=%s want 50000", order.EntryPrice)
	}
	if order.FilledQuantity.Cmp(decimal.NewFromFloat(0.016)) != 0 {
		t.Fatalf("quantity=%s want 0.016", order.FilledQuantity)
	}
	if order.Notional.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("notional=%s want positive", order.Notional)
	}
}

func TestExecute_CancelledBackoffRecordedAsCancelled(t *testing.T) {
	gw := &stubGateway{
		price:     decimal.NewFromInt(50000),
		placeErrs: []error{&exchange.RateLimitError{Code: -1003}},
	}
	store := &stubOrderStore{}
	e := newTestExecutor(gw, store)
	e.Sleep = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}

	order, err := e.Execute(context.Background(), Request{
		Council:  paperCouncil(),
		Symbol:   "BTCUSDT",
		Decision: buyDecision(1.6, 2.0),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if order.Status != models.OrderFailed || order.FailureReason != ReasonCancelled {
		t.Fatalf("order status=%s reason=%s want failed %s", order.Status, order.FailureReason, ReasonCancelled)
	}
}

func TestExecute_InsufficientBalanceRejectedBeforeGateway(t *testing.T) {
	gw := &stubGateway{price: decimal.NewFromInt(100)}
	store := &stubOrderStore{}
	e := newTestExecutor(gw, store)

	council := paperCouncil()
	council.CurrentCapital = decimal.NewFromInt(5000)
	council.AvailableBalance = decimal.NewFromInt(100)

	order, err := e.Execute(context.Background(), Request{
		Council:  council,
		Symbol:   "ETHUSDT",
		Decision: buyDecision(2.0, 2.0),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if order.Status != models.OrderFailed || order.FailureReason != ReasonInsufficientBalance {
		t.Fatalf("order=%+v want failed insufficient_balance", order)
	}
	if gw.placeCalls != 0 {
		t.Fatalf("gateway calls=%d want 0, rejection must happen pre-submission", gw.placeCalls)
	}
}

func TestExecute_BelowMinNotionalRejected(t *testing.T) {
	gw := &stubGateway{price: decimal.NewFromInt(50000)}
	store := &stubOrderStore{}
	e := newTestExecutor(gw, store)

	council := paperCouncil()
	council.CurrentCapital = decimal.NewFromInt(50)

	order, err := e.Execute(context.Background(), Request{
		Council:  council,
		Symbol:   "BTCUSDT",
		Decision: buyDecision(1.0, 2.0),
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if order.Status != models.OrderFailed || order.FailureReason != ReasonBelowMinNotional {
		t.Fatalf("order=%+v want failed below_min_notional", order)
	}
	if gw.placeCalls != 0 {
		t.Fatalf("gateway calls=%d want 0", gw.placeCalls)
	}
}

func TestExecute_TestModeSkipsGateway(t *testing.T) {
	gw := &stubGateway{price: decimal.NewFromInt(50000)}
	store := &stubOrderStore{}
	e := newTestExecutor(gw, store)

	order, err := e.Execute(context.Background(), Request{
		Council:  paperCouncil(),
		Symbol:   "BTCUSDT",
		Decision: buyDecision(1.6, 2.0),
		TestMode: true,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if order.Status != models.OrderSimulated {
		t.Fatalf("status=%s want simulated", order.Status)
	}
	if gw.placeCalls != 0 {
		t.Fatalf("gateway calls=%d want 0 in test mode", gw.placeCalls)
	}
}

func TestExecute_HoldDecisionNoOrder(t *testing.T) {
	gw := &stubGateway{price: decimal.NewFromInt(50000)}
	store := &stubOrderStore{}
	e := newTestExecutor(gw, store)

	order, err := e.Execute(context.Background(), Request{
		Council:  paperCouncil(),
		Symbol:   "BTCUSDT",
		Decision: consensus.Decision{Signal: models.SignalHold},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if order != nil {
		t.Fatalf("order=%+v want nil for hold", order)
	}
	if len(store.created) != 0 {
		t.Fatalf("orders created=%d want 0", len(store.created))
	}
}

func TestExecute_SellWithoutHoldingSkipped(t *testing.T) {
	gw := &stubGateway{price: decimal.NewFromInt(50000)}
	store := &stubOrderStore{}
	e := newTestExecutor(gw, store)

	dec := buyDecision(1.6, 2.0)
	dec.Signal = models.SignalSell
	order, err := e.Execute(context.Background(), Request{
		Council:  paperCouncil(),
		Symbol:   "BTCUSDT",
		Decision: dec,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if order != nil || gw.placeCalls != 0 {
		t.Fatalf("sell with no holding must be a no-op, order=%+v calls=%d", order, gw.placeCalls)
	}
}

func TestLeverageFor(t *testing.T) {
	cases := []struct {
		confidence float64
		max        int
		want       int
	}{
		{1.0, 10, 10},
		{0.5, 10, 5},
		{0.04, 10, 1},
		{0.9, 1, 1},
		{0.8, 5, 4},
	}
	for _, c := range cases {
		got := leverageFor(decimal.NewFromFloat(c.confidence), c.max)
		if got != c.want {
			t.Fatalf("leverageFor(%f,%d)=%d want %d", c.confidence, c.max, got, c.want)
		}
	}
}
