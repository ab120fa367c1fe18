package trading

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"councild/internal/consensus"
	"councild/internal/exchange"
	"councild/internal/models"
)

// Store is the persistence slice the executor needs.
type Store interface {
	CreateOrder(ctx context.Context, item *models.MarketOrder) error
	SaveOrder(ctx context.Context, item *models.MarketOrder) error
}

// Rejection reasons recorded on failed orders that never reach the venue.
const (
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonBelowMinNotional    = "below_min_notional"
	ReasonAuthFailed          = "auth_failed"
	ReasonRateLimited         = "rate_limited"
	ReasonNetworkError        = "network_error"
	ReasonVenueRejected       = "venue_rejected"
	ReasonCancelled           = "cancelled"
)

// Request is one decision to turn into an order. Position state is supplied
// by the coordinator so the executor never reads holdings itself.
type Request struct {
	Council  *models.Council
	RunID    uint64
	Symbol   string
	Decision consensus.Decision
	TestMode bool

	HoldingQty   decimal.Decimal
	PositionSide string
	PositionQty  decimal.Decimal
}

// Executor sizes and submits orders. Expected venue failures are recorded on
// the order, never returned as errors; the error return is reserved for
// persistence and programming faults.
type Executor struct {
	Gateways map[string]exchange.Gateway
	Repo     Store
	Logger   *zap.Logger

	MaxBalanceFraction decimal.Decimal
	MinNotional        decimal.Decimal
	QuantityStep       decimal.Decimal
	FeeRate            decimal.Decimal

	// DefaultRiskFraction applies to councils created without one.
	DefaultRiskFraction decimal.Decimal

	RateLimitBackoff  time.Duration
	RateLimitAttempts int
	NetworkRetries    int
	NetworkRetryDelay time.Duration

	// Sleep is replaced in tests to skip real backoff waits.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (e *Executor) gatewayFor(council *models.Council) (exchange.Gateway, error) {
	gw, ok := e.Gateways[council.TradingMode]
	if !ok || gw == nil {
		return nil, fmt.Errorf("no gateway for trading mode %q", council.TradingMode)
	}
	return gw, nil
}

// Execute turns one passed decision into at most one order. A hold decision
// or a sell with nothing to sell returns (nil, nil).
func (e *Executor) Execute(ctx context.Context, req Request) (*models.MarketOrder, error) {
	decision := req.Decision
	if !decision.Passed || decision.Signal == models.SignalHold {
		return nil, nil
	}
	council := req.Council
	gw, err := e.gatewayFor(council)
	if err != nil {
		return nil, err
	}

	quote, err := gw.GetPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", req.Symbol, err)
	}
	if quote.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("price %s: non-positive quote", req.Symbol)
	}

	plan, skip := e.plan(council, req, quote.Price)
	if skip {
		return nil, nil
	}

	now := time.Now().UTC()
	order := &models.MarketOrder{
		CouncilID:         council.ID,
		RunID:             req.RunID,
		IdempotencyToken:  uuid.NewString(),
		Symbol:            req.Symbol,
		Side:              lowerSide(plan.side),
		OrderType:         "market",
		RequestedQuantity: plan.quantity,
		EntryPrice:        quote.Price,
		Notional:          plan.quantity.Mul(quote.Price),
		Leverage:          plan.leverage,
		Status:            models.OrderOpen,
		OpenedAt:          now,
	}

	// Pre-submission rejections never reach the gateway.
	if reason := e.precheck(council, plan, quote.Price); reason != "" {
		order.Status = models.OrderFailed
		order.FailureReason = reason
		closedAt := time.Now().UTC()
		order.ClosedAt = &closedAt
		if err := e.Repo.CreateOrder(ctx, order); err != nil {
			return nil, err
		}
		e.logOrder(order, "order rejected before submission")
		return order, nil
	}

	if req.TestMode {
		order.Status = models.OrderSimulated
		order.FilledQuantity = plan.quantity
		order.Fee = order.Notional.Mul(e.FeeRate)
		closedAt := time.Now().UTC()
		order.ClosedAt = &closedAt
		if err := e.Repo.CreateOrder(ctx, order); err != nil {
			return nil, err
		}
		e.logOrder(order, "order simulated")
		return order, nil
	}

	if err := e.Repo.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	result, submitErr := e.placeWithRetry(ctx, gw, exchange.OrderRequest{
		Symbol:           req.Symbol,
		Side:             plan.side,
		Type:             "MARKET",
		Quantity:         plan.quantity,
		Leverage:         plan.leverage,
		ReduceOnly:       plan.reduceOnly,
		IdempotencyToken: order.IdempotencyToken,
	})
	closedAt := time.Now().UTC()
	order.ClosedAt = &closedAt
	if submitErr != nil {
		order.Status = models.OrderFailed
		order.FailureReason = failureReason(submitErr)
		if err := e.Repo.SaveOrder(ctx, order); err != nil {
			return nil, err
		}
		e.logOrder(order, "order failed")
		return order, nil
	}

	// An ACK-shaped response carries no fill details yet; fall back to the
	// pre-submission quote rather than booking a zero-priced fill.
	fillPrice := result.AvgPrice
	if fillPrice.LessThanOrEqual(decimal.Zero) {
		fillPrice = quote.Price
	}
	fillQty := result.FilledQuantity
	if fillQty.LessThanOrEqual(decimal.Zero) {
		fillQty = plan.quantity
	}

	order.Status = models.OrderClosed
	order.ExchangeOrderID = result.OrderID
	order.FilledQuantity = fillQty
	order.EntryPrice = fillPrice
	order.Notional = fillQty.Mul(fillPrice)
	order.Fee = result.Fee
	order.LiquidationPrice = result.LiquidationPrice
	if order.Fee.IsZero() {
		order.Fee = order.Notional.Mul(e.FeeRate)
	}
	if err := e.Repo.SaveOrder(ctx, order); err != nil {
		return nil, err
	}
	e.logOrder(order, "order filled")
	return order, nil
}

type orderPlan struct {
	side       string
	quantity   decimal.Decimal
	leverage   int
	reduceOnly bool
	// requiredCash is what the fill will take from available balance.
	requiredCash decimal.Decimal
	opening      bool
}

// plan sizes the order. Opening size comes from current capital scaled by
// the council's risk fraction and the decision confidence; exits size to the
// full held quantity.
func (e *Executor) plan(council *models.Council, req Request, price decimal.Decimal) (orderPlan, bool) {
	futures := council.TradingType == "futures"
	signal := req.Decision.Signal

	if signal == models.SignalClose || (!futures && signal == models.SignalSell) {
		if futures {
			if req.PositionSide == "" || req.PositionQty.LessThanOrEqual(decimal.Zero) {
				return orderPlan{}, true
			}
			side := exchange.SideSell
			if req.PositionSide == "short" {
				side = exchange.SideBuy
			}
			return orderPlan{side: side, quantity: req.PositionQty, leverage: council.Leverage, reduceOnly: true}, false
		}
		qty := e.roundToStep(req.HoldingQty)
		if qty.LessThanOrEqual(decimal.Zero) {
			return orderPlan{}, true
		}
		return orderPlan{side: exchange.SideSell, quantity: qty, leverage: 1}, false
	}

	confidence := decimal.NewFromFloat(req.Decision.WinningWeight / maxf(req.Decision.TotalWeight, 1))
	risk := decimal.NewFromFloat(council.RiskFraction)
	if risk.LessThanOrEqual(decimal.Zero) {
		risk = e.DefaultRiskFraction
	}
	notional := council.CurrentCapital.Mul(risk).Mul(confidence)
	qty := e.roundToStep(notional.Div(price))
	notional = qty.Mul(price)

	leverage := 1
	required := notional
	if futures {
		leverage = leverageFor(confidence, council.Leverage)
		required = notional.Div(decimal.NewFromInt(int64(leverage)))
	}

	side := exchange.SideBuy
	if signal == models.SignalSell {
		// Futures sell with no long opens a short.
		side = exchange.SideSell
	}
	return orderPlan{
		side:         side,
		quantity:     qty,
		leverage:     leverage,
		requiredCash: required,
		opening:      true,
	}, false
}

func (e *Executor) precheck(council *models.Council, plan orderPlan, price decimal.Decimal) string {
	notional := plan.quantity.Mul(price)
	if notional.LessThan(e.MinNotional) {
		return ReasonBelowMinNotional
	}
	if plan.opening {
		limit := council.AvailableBalance.Mul(e.MaxBalanceFraction)
		if plan.requiredCash.GreaterThan(limit) {
			return ReasonInsufficientBalance
		}
	}
	return ""
}

func (e *Executor) placeWithRetry(ctx context.Context, gw exchange.Gateway, req exchange.OrderRequest) (exchange.OrderResult, error) {
	rateLimitAttempts := 0
	networkAttempts := 0
	backoff := e.RateLimitBackoff
	if backoff <= 0 {
		backoff = 60 * time.Second
	}

	for {
		result, err := gw.PlaceOrder(ctx, req)
		if err == nil {
			return result, nil
		}

		var rateErr *exchange.RateLimitError
		var netErr *exchange.NetworkError
		switch {
		case errors.As(err, &rateErr):
			rateLimitAttempts++
			if rateLimitAttempts >= maxAttempts(e.RateLimitAttempts, 3) {
				return exchange.OrderResult{}, err
			}
			wait := backoff
			if rateErr.RetryAfter > wait {
				wait = rateErr.RetryAfter
			}
			backoff *= 2
			if e.Logger != nil {
				e.Logger.Warn("rate limited, backing off",
					zap.String("symbol", req.Symbol),
					zap.Duration("wait", wait),
					zap.Int("attempt", rateLimitAttempts))
			}
			if err := e.sleep(ctx, withJitter(wait)); err != nil {
				return exchange.OrderResult{}, err
			}
		case errors.As(err, &netErr):
			networkAttempts++
			if networkAttempts > maxAttempts(e.NetworkRetries, 2) {
				return exchange.OrderResult{}, err
			}
			delay := e.NetworkRetryDelay
			if delay <= 0 {
				delay = 2 * time.Second
			}
			if e.Logger != nil {
				e.Logger.Warn("network error, retrying",
					zap.String("symbol", req.Symbol),
					zap.Int("attempt", networkAttempts),
					zap.Error(err))
			}
			if err := e.sleep(ctx, withJitter(delay)); err != nil {
				return exchange.OrderResult{}, err
			}
		default:
			// Auth and venue rejections are not retryable.
			return exchange.OrderResult{}, err
		}
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) roundToStep(qty decimal.Decimal) decimal.Decimal {
	step := e.QuantityStep
	if step.LessThanOrEqual(decimal.Zero) {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

func (e *Executor) logOrder(order *models.MarketOrder, msg string) {
	if e.Logger == nil {
		return
	}
	e.Logger.Info(msg,
		zap.Uint64("council_id", order.CouncilID),
		zap.Uint64("run_id", order.RunID),
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.String("status", order.Status),
		zap.String("quantity", order.RequestedQuantity.String()),
		zap.String("reason", order.FailureReason))
}

// leverageFor scales leverage with decision confidence, capped by the
// council's configured maximum.
func leverageFor(confidence decimal.Decimal, maxLeverage int) int {
	if maxLeverage <= 1 {
		return 1
	}
	scaled := confidence.Mul(decimal.NewFromInt(int64(maxLeverage))).Round(0).IntPart()
	if scaled < 1 {
		return 1
	}
	if scaled > int64(maxLeverage) {
		return maxLeverage
	}
	return int(scaled)
}

func failureReason(err error) string {
	var rateErr *exchange.RateLimitError
	var authErr *exchange.AuthError
	var netErr *exchange.NetworkError
	switch {
	case errors.As(err, &rateErr):
		return ReasonRateLimited
	case errors.As(err, &authErr):
		return ReasonAuthFailed
	case errors.As(err, &netErr):
		return ReasonNetworkError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	default:
		return ReasonVenueRejected
	}
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/10+1))
}

func maxAttempts(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func lowerSide(side string) string {
	if side == exchange.SideBuy {
		return "buy"
	}
	return "sell"
}
