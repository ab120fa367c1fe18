package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

type Quote struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

type Account struct {
	AvailableBalance decimal.Decimal
}

type OrderRequest struct {
	Symbol   string
	Side     string
	Type     string
	Quantity decimal.Decimal
	Leverage int
	// ReduceOnly closes exposure without opening the opposite side.
	ReduceOnly bool
	// IdempotencyToken is forwarded as the client order id; resubmitting
	// with the same token must not create a second live order.
	IdempotencyToken string
}

type OrderResult struct {
	OrderID          string
	Symbol           string
	Side             string
	Status           string
	FilledQuantity   decimal.Decimal
	AvgPrice         decimal.Decimal
	Fee              decimal.Decimal
	LiquidationPrice *decimal.Decimal
}

// Gateway is the venue-facing surface consumed by the trade executor and
// price watcher. Implementations return the typed errors from errors.go for
// expected venue failures.
type Gateway interface {
	GetPrice(ctx context.Context, symbol string) (Quote, error)
	GetAccount(ctx context.Context) (Account, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}
