package exchange

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PaperGateway simulates fills in memory for paper-trading councils. Prices
// come from a quote source (normally the live client's GetPrice) with a
// static fallback book, and every order fills at the quoted price.
type PaperGateway struct {
	QuoteSource func(ctx context.Context, symbol string) (Quote, error)
	Balance     decimal.Decimal
	FeeRate     decimal.Decimal

	mu         sync.Mutex
	nextID     int64
	seenTokens map[string]OrderResult
	prices     map[string]decimal.Decimal
}

func NewPaperGateway(balance decimal.Decimal, feeRate decimal.Decimal) *PaperGateway {
	return &PaperGateway{
		Balance:    balance,
		FeeRate:    feeRate,
		seenTokens: map[string]OrderResult{},
		prices: map[string]decimal.Decimal{
			"BTCUSDT": decimal.NewFromInt(65000),
			"ETHUSDT": decimal.NewFromInt(3200),
		},
	}
}

// SetPrice overrides the fallback book; used by tests and the price watcher.
func (g *PaperGateway) SetPrice(symbol string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price
}

func (g *PaperGateway) GetPrice(ctx context.Context, symbol string) (Quote, error) {
	if g.QuoteSource != nil {
		q, err := g.QuoteSource(ctx, symbol)
		if err == nil {
			return q, nil
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	price, ok := g.prices[symbol]
	if !ok {
		return Quote{}, &OrderRejectedError{Code: -1121, Message: "unknown symbol " + symbol}
	}
	return Quote{Symbol: symbol, Price: price, At: time.Now().UTC()}, nil
}

func (g *PaperGateway) GetAccount(ctx context.Context) (Account, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Account{AvailableBalance: g.Balance}, nil
}

func (g *PaperGateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	quote, err := g.GetPrice(ctx, req.Symbol)
	if err != nil {
		return OrderResult{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Same token, same order: replay the original result.
	if req.IdempotencyToken != "" {
		if prev, ok := g.seenTokens[req.IdempotencyToken]; ok {
			return prev, nil
		}
	}

	g.nextID++
	fee := quote.Price.Mul(req.Quantity).Mul(g.FeeRate)
	result := OrderResult{
		OrderID:        "paper-" + strconv.FormatInt(g.nextID, 10),
		Symbol:         req.Symbol,
		Side:           req.Side,
		Status:         "FILLED",
		FilledQuantity: req.Quantity,
		AvgPrice:       quote.Price,
		Fee:            fee,
	}
	if req.IdempotencyToken != "" {
		g.seenTokens[req.IdempotencyToken] = result
	}
	return result, nil
}
