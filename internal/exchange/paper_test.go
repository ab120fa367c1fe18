package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestPaperGateway_ReplaysIdempotencyToken(t *testing.T) {
	gw := NewPaperGateway(decimal.NewFromInt(100000), decimal.NewFromFloat(0.001))
	ctx := context.Background()

	req := OrderRequest{
		Symbol:           "BTCUSDT",
		Side:             SideBuy,
		Quantity:         decimal.NewFromFloat(0.01),
		IdempotencyToken: "tok-1",
	}
	first, err := gw.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("first place: %v", err)
	}
	second, err := gw.PlaceOrder(ctx, req)
	if err != nil {
		t.Fatalf("second place: %v", err)
	}
	if first.OrderID != second.OrderID {
		t.Fatalf("retry produced a new order: %s vs %s", first.OrderID, second.OrderID)
	}
	if !first.FilledQuantity.Equal(second.FilledQuantity) || !first.AvgPrice.Equal(second.AvgPrice) {
		t.Fatalf("replayed fill differs: %+v vs %+v", first, second)
	}
}

func TestPaperGateway_DistinctTokensDistinctOrders(t *testing.T) {
	gw := NewPaperGateway(decimal.NewFromInt(100000), decimal.Zero)
	ctx := context.Background()

	a, err := gw.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Quantity: decimal.NewFromFloat(0.01), IdempotencyToken: "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := gw.PlaceOrder(ctx, OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Quantity: decimal.NewFromFloat(0.01), IdempotencyToken: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if a.OrderID == b.OrderID {
		t.Fatalf("distinct tokens shared order id %s", a.OrderID)
	}
}

func TestPaperGateway_UnknownSymbolRejected(t *testing.T) {
	gw := NewPaperGateway(decimal.NewFromInt(100000), decimal.Zero)

	_, err := gw.GetPrice(context.Background(), "NOPEUSDT")
	var rejected *OrderRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected OrderRejectedError, got %v", err)
	}
}

func TestPaperGateway_FeeAppliedToFill(t *testing.T) {
	gw := NewPaperGateway(decimal.NewFromInt(100000), decimal.NewFromFloat(0.001))
	gw.SetPrice("BTCUSDT", decimal.NewFromInt(50000))

	res, err := gw.PlaceOrder(context.Background(), OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Quantity: decimal.NewFromFloat(0.1),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := decimal.NewFromInt(5) // 50000 * 0.1 * 0.001
	if !res.Fee.Equal(want) {
		t.Fatalf("fee = %s, want %s", res.Fee, want)
	}
}
