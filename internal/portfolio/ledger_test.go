package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"councild/internal/models"
)

type stubLedgerStore struct {
	councils  map[uint64]*models.Council
	holdings  map[string]*models.Holding
	positions map[string]*models.FuturesPosition
	snapshots []*models.PerformanceSnapshot
}

func newStubLedgerStore() *stubLedgerStore {
	return &stubLedgerStore{
		councils:  map[uint64]*models.Council{},
		holdings:  map[string]*models.Holding{},
		positions: map[string]*models.FuturesPosition{},
	}
}

func key(councilID uint64, symbol string) string {
	return string(rune(councilID)) + "/" + symbol
}

func (s *stubLedgerStore) SaveCouncil(ctx context.Context, item *models.Council) error {
	s.councils[item.ID] = item
	return nil
}

func (s *stubLedgerStore) GetHolding(ctx context.Context, councilID uint64, symbol string) (*models.Holding, error) {
	return s.holdings[key(councilID, symbol)], nil
}

func (s *stubLedgerStore) ListActiveHoldings(ctx context.Context, councilID uint64) ([]models.Holding, error) {
	var out []models.Holding
	for _, h := range s.holdings {
		if h.CouncilID == councilID && h.Status == "active" && h.Quantity.GreaterThan(decimal.Zero) {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (s *stubLedgerStore) SaveHolding(ctx context.Context, item *models.Holding) error {
	s.holdings[key(item.CouncilID, item.Symbol)] = item
	return nil
}

func (s *stubLedgerStore) GetOpenPosition(ctx context.Context, councilID uint64, symbol string) (*models.FuturesPosition, error) {
	p := s.positions[key(councilID, symbol)]
	if p == nil || p.Status != "open" {
		return nil, nil
	}
	return p, nil
}

func (s *stubLedgerStore) ListOpenPositions(ctx context.Context, councilID uint64) ([]models.FuturesPosition, error) {
	var out []models.FuturesPosition
	for _, p := range s.positions {
		if p.CouncilID == councilID && p.Status == "open" {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *stubLedgerStore) SavePosition(ctx context.Context, item *models.FuturesPosition) error {
	s.positions[key(item.CouncilID, item.Symbol)] = item
	return nil
}

func (s *stubLedgerStore) CreateSnapshot(ctx context.Context, item *models.PerformanceSnapshot) error {
	s.snapshots = append(s.snapshots, item)
	return nil
}

func spotCouncil(capital int64) *models.Council {
	c := decimal.NewFromInt(capital)
	return &models.Council{
		ID:               1,
		TradingType:      "spot",
		InitialCapital:   c,
		CurrentCapital:   c,
		AvailableBalance: c,
	}
}

func fill(side string, qty, price, fee float64) *models.MarketOrder {
	now := time.Now().UTC()
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price)
	return &models.MarketOrder{
		CouncilID:      1,
		Symbol:         "BTCUSDT",
		Side:           side,
		Status:         models.OrderClosed,
		FilledQuantity: q,
		EntryPrice:     p,
		Notional:       q.Mul(p),
		Fee:            decimal.NewFromFloat(fee),
		OpenedAt:       now,
	}
}

func TestApplyFill_BuyUpdatesWeightedAverage(t *testing.T) {
	store := newStubLedgerStore()
	l := &Ledger{Repo: store}
	council := spotCouncil(20000)

	if err := l.ApplyFill(context.Background(), council, fill("buy", 0.1, 50000, 5)); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if err := l.ApplyFill(context.Background(), council, fill("buy", 0.1, 60000, 6)); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	h := store.holdings[key(1, "BTCUSDT")]
	if h == nil {
		t.Fatal("holding not created")
	}
	if h.Quantity.Cmp(decimal.NewFromFloat(0.2)) != 0 {
		t.Fatalf("quantity=%s want 0.2", h.Quantity)
	}
	// (0.1*50000 + 0.1*60000) / 0.2 = 55000.
	if h.AverageCost.Cmp(decimal.NewFromInt(55000)) != 0 {
		t.Fatalf("average cost=%s want 55000", h.AverageCost)
	}
	// Cash: 20000 - (5000+5) - (6000+6).
	wantCash := decimal.NewFromInt(20000).
		Sub(decimal.NewFromInt(5005)).
		Sub(decimal.NewFromInt(6006))
	if council.AvailableBalance.Cmp(wantCash) != 0 {
		t.Fatalf("cash=%s want %s", council.AvailableBalance, wantCash)
	}
}

func TestApplyFill_SellRealizesPnL(t *testing.T) {
	store := newStubLedgerStore()
	l := &Ledger{Repo: store}
	council := spotCouncil(10000)

	if err := l.ApplyFill(context.Background(), council, fill("buy", 0.1, 50000, 0)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := l.ApplyFill(context.Background(), council, fill("sell", 0.1, 55000, 10)); err != nil {
		t.Fatalf("sell: %v", err)
	}

	// Realized: 5500 - 5000 - 10 = 490.
	if council.RealizedPnL.Cmp(decimal.NewFromInt(490)) != 0 {
		t.Fatalf("realized=%s want 490", council.RealizedPnL)
	}
	if council.TotalTrades != 1 || council.WinningTrades != 1 {
		t.Fatalf("trades=%d wins=%d want 1/1", council.TotalTrades, council.WinningTrades)
	}
	h := store.holdings[key(1, "BTCUSDT")]
	if h.Status != "closed" || !h.Quantity.IsZero() {
		t.Fatalf("holding=%+v want closed empty", h)
	}
	if council.CurrentCapital.Cmp(decimal.NewFromInt(10490)) != 0 {
		t.Fatalf("capital=%s want 10490", council.CurrentCapital)
	}
}

func TestApplyFill_FailedOrderHasNoEffect(t *testing.T) {
	store := newStubLedgerStore()
	l := &Ledger{Repo: store}
	council := spotCouncil(10000)

	failed := fill("buy", 0.1, 50000, 5)
	failed.Status = models.OrderFailed
	if err := l.ApplyFill(context.Background(), council, failed); err != nil {
		t.Fatalf("apply failed order: %v", err)
	}
	if len(store.holdings) != 0 {
		t.Fatalf("failed order created holdings: %+v", store.holdings)
	}
	if council.AvailableBalance.Cmp(decimal.NewFromInt(10000)) != 0 {
		t.Fatalf("cash=%s want untouched 10000", council.AvailableBalance)
	}
}

func TestApplyFill_ConservationAcrossMixedSequence(t *testing.T) {
	store := newStubLedgerStore()
	l := &Ledger{Repo: store}
	council := spotCouncil(20000)

	orders := []*models.MarketOrder{
		fill("buy", 0.1, 50000, 5),
		fill("buy", 0.05, 52000, 2.6),
		func() *models.MarketOrder {
			o := fill("buy", 1.0, 50000, 50)
			o.Status = models.OrderFailed
			return o
		}(),
		fill("sell", 0.08, 54000, 4.3),
		fill("buy", 0.02, 48000, 1),
		fill("sell", 0.09, 47000, 4.2),
	}
	for i, o := range orders {
		if err := l.ApplyFill(context.Background(), council, o); err != nil {
			t.Fatalf("order %d: %v", i, err)
		}
	}

	deployed := decimal.Zero
	for _, h := range store.holdings {
		deployed = deployed.Add(h.TotalCost)
	}
	drift := council.AvailableBalance.Add(deployed).Sub(council.CurrentCapital).Abs()
	if drift.GreaterThan(conservationEpsilon) {
		t.Fatalf("conservation violated: cash=%s deployed=%s capital=%s drift=%s",
			council.AvailableBalance, deployed, council.CurrentCapital, drift)
	}
}

func TestApplyFill_FuturesOpenAndClose(t *testing.T) {
	store := newStubLedgerStore()
	l := &Ledger{Repo: store}
	council := spotCouncil(10000)
	council.TradingType = "futures"

	open := fill("buy", 1.0, 3000, 3)
	open.Leverage = 5
	if err := l.ApplyFill(context.Background(), council, open); err != nil {
		t.Fatalf("open: %v", err)
	}
	p := store.positions[key(1, "BTCUSDT")]
	if p == nil || p.Side != "long" || p.Leverage != 5 {
		t.Fatalf("position=%+v want long 5x", p)
	}
	// Margin 3000/5 = 600.
	if p.Margin.Cmp(decimal.NewFromInt(600)) != 0 {
		t.Fatalf("margin=%s want 600", p.Margin)
	}

	closeOrder := fill("sell", 1.0, 3100, 3.1)
	closeOrder.Leverage = 5
	if err := l.ApplyFill(context.Background(), council, closeOrder); err != nil {
		t.Fatalf("close: %v", err)
	}
	p = store.positions[key(1, "BTCUSDT")]
	if p.Status != "closed" {
		t.Fatalf("position=%+v want closed", p)
	}
	// Realized: (3100-3000)*1.0 - 3.1 = 96.9; capital 10000 - 3 + 96.9.
	want := decimal.NewFromFloat(10093.9)
	if council.CurrentCapital.Cmp(want) != 0 {
		t.Fatalf("capital=%s want %s", council.CurrentCapital, want)
	}

	drift := council.AvailableBalance.Sub(council.CurrentCapital).Abs()
	if drift.GreaterThan(conservationEpsilon) {
		t.Fatalf("conservation violated after close: cash=%s capital=%s",
			council.AvailableBalance, council.CurrentCapital)
	}
}

func TestSnapshot(t *testing.T) {
	store := newStubLedgerStore()
	l := &Ledger{Repo: store}
	council := spotCouncil(10000)

	if err := l.ApplyFill(context.Background(), council, fill("buy", 0.1, 50000, 5)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	snap, err := l.Snapshot(context.Background(), council)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.OpenPositions != 1 {
		t.Fatalf("open positions=%d want 1", snap.OpenPositions)
	}
	// Value: cash 4995 + cost 5000 = 9995 (fee lost), PnL -5.
	if snap.TotalValue.Cmp(decimal.NewFromInt(9995)) != 0 {
		t.Fatalf("total value=%s want 9995", snap.TotalValue)
	}
	if snap.PnL.Cmp(decimal.NewFromInt(-5)) != 0 {
		t.Fatalf("pnl=%s want -5", snap.PnL)
	}
	if len(store.snapshots) != 1 {
		t.Fatalf("snapshots=%d want 1", len(store.snapshots))
	}
}
