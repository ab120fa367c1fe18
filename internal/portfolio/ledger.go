package portfolio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"councild/internal/models"
)

// Store is the persistence slice the ledger needs.
type Store interface {
	SaveCouncil(ctx context.Context, item *models.Council) error
	GetHolding(ctx context.Context, councilID uint64, symbol string) (*models.Holding, error)
	ListActiveHoldings(ctx context.Context, councilID uint64) ([]models.Holding, error)
	SaveHolding(ctx context.Context, item *models.Holding) error
	GetOpenPosition(ctx context.Context, councilID uint64, symbol string) (*models.FuturesPosition, error)
	ListOpenPositions(ctx context.Context, councilID uint64) ([]models.FuturesPosition, error)
	SavePosition(ctx context.Context, item *models.FuturesPosition) error
	CreateSnapshot(ctx context.Context, item *models.PerformanceSnapshot) error
}

// conservationEpsilon bounds the drift allowed between available cash plus
// deployed cost and current capital after every fill.
var conservationEpsilon = decimal.NewFromFloat(1e-6)

// Ledger is the only writer of holdings, positions and council capital.
// Callers hold the per-council cycle lock, so there is never more than one
// writer per council.
type Ledger struct {
	Repo   Store
	Logger *zap.Logger
}

// ApplyFill applies a filled or simulated order to the council's book.
// Failed orders are a no-op. Returns an error when the fill would break the
// capital conservation invariant; the caller treats that as fatal for the
// council's schedule.
func (l *Ledger) ApplyFill(ctx context.Context, council *models.Council, order *models.MarketOrder) error {
	if council == nil || order == nil {
		return nil
	}
	if order.Status == models.OrderFailed {
		return nil
	}
	if order.FilledQuantity.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	var err error
	if council.TradingType == "futures" {
		err = l.applyFuturesFill(ctx, council, order)
	} else {
		err = l.applySpotFill(ctx, council, order)
	}
	if err != nil {
		return err
	}

	council.TotalFees = council.TotalFees.Add(order.Fee)
	if err := l.checkConservation(ctx, council); err != nil {
		return err
	}
	return l.Repo.SaveCouncil(ctx, council)
}

func (l *Ledger) applySpotFill(ctx context.Context, council *models.Council, order *models.MarketOrder) error {
	holding, err := l.Repo.GetHolding(ctx, council.ID, order.Symbol)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if holding == nil {
		base, quote := splitSymbol(order.Symbol)
		holding = &models.Holding{
			CouncilID:  council.ID,
			Symbol:     order.Symbol,
			BaseAsset:  base,
			QuoteAsset: quote,
			Status:     "active",
			OpenedAt:   now,
		}
	}

	qty := order.FilledQuantity
	price := order.EntryPrice
	notional := qty.Mul(price)

	switch order.Side {
	case "buy":
		newQty := holding.Quantity.Add(qty)
		newCost := holding.TotalCost.Add(notional)
		holding.Quantity = newQty
		holding.TotalCost = newCost
		if newQty.GreaterThan(decimal.Zero) {
			holding.AverageCost = newCost.Div(newQty)
		}
		holding.CurrentPrice = price
		holding.Status = "active"
		holding.ClosedAt = nil

		council.AvailableBalance = council.AvailableBalance.Sub(notional).Sub(order.Fee)
		council.CurrentCapital = council.CurrentCapital.Sub(order.Fee)

	case "sell":
		if qty.GreaterThan(holding.Quantity) {
			qty = holding.Quantity
			notional = qty.Mul(price)
		}
		costOut := holding.AverageCost.Mul(qty)
		realized := notional.Sub(costOut).Sub(order.Fee)

		holding.Quantity = holding.Quantity.Sub(qty)
		holding.TotalCost = holding.TotalCost.Sub(costOut)
		holding.CurrentPrice = price
		if holding.Quantity.LessThanOrEqual(decimal.Zero) {
			holding.Quantity = decimal.Zero
			holding.TotalCost = decimal.Zero
			holding.AverageCost = decimal.Zero
			holding.UnrealizedPnL = decimal.Zero
			holding.Status = "closed"
			holding.ClosedAt = &now
		}

		council.AvailableBalance = council.AvailableBalance.Add(notional).Sub(order.Fee)
		council.CurrentCapital = council.CurrentCapital.Add(realized)
		l.recordTradeOutcome(council, order, realized)

	default:
		return fmt.Errorf("unknown order side %q", order.Side)
	}

	return l.Repo.SaveHolding(ctx, holding)
}

func (l *Ledger) applyFuturesFill(ctx context.Context, council *models.Council, order *models.MarketOrder) error {
	position, err := l.Repo.GetOpenPosition(ctx, council.ID, order.Symbol)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	qty := order.FilledQuantity
	price := order.EntryPrice
	notional := qty.Mul(price)
	leverage := order.Leverage
	if leverage < 1 {
		leverage = 1
	}
	margin := notional.Div(decimal.NewFromInt(int64(leverage)))

	orderSide := "long"
	if order.Side == "sell" {
		orderSide = "short"
	}

	// No open position: the fill opens one.
	if position == nil {
		position = &models.FuturesPosition{
			CouncilID:  council.ID,
			Symbol:     order.Symbol,
			Side:       orderSide,
			Leverage:   leverage,
			Quantity:   qty,
			EntryPrice: price,
			Margin:     margin,
			MarkPrice:  price,
			Status:     "open",
			OpenedAt:   now,
		}
		position.LiquidationPrice = order.LiquidationPrice
		council.AvailableBalance = council.AvailableBalance.Sub(margin).Sub(order.Fee)
		council.CurrentCapital = council.CurrentCapital.Sub(order.Fee)
		if err := l.Repo.SavePosition(ctx, position); err != nil {
			return err
		}
		return nil
	}

	// Same direction: increase the position at weighted average entry.
	if position.Side == orderSide {
		newQty := position.Quantity.Add(qty)
		position.EntryPrice = position.EntryPrice.Mul(position.Quantity).Add(notional).Div(newQty)
		position.Quantity = newQty
		position.Margin = position.Margin.Add(margin)
		position.MarkPrice = price
		if order.LiquidationPrice != nil {
			position.LiquidationPrice = order.LiquidationPrice
		}

		council.AvailableBalance = council.AvailableBalance.Sub(margin).Sub(order.Fee)
		council.CurrentCapital = council.CurrentCapital.Sub(order.Fee)
		return l.Repo.SavePosition(ctx, position)
	}

	// Opposite direction: reduce or close.
	closeQty := qty
	if closeQty.GreaterThan(position.Quantity) {
		closeQty = position.Quantity
	}
	fraction := closeQty.Div(position.Quantity)
	marginOut := position.Margin.Mul(fraction)

	diff := price.Sub(position.EntryPrice)
	if position.Side == "short" {
		diff = diff.Neg()
	}
	realized := diff.Mul(closeQty).Sub(order.Fee)

	position.Quantity = position.Quantity.Sub(closeQty)
	position.Margin = position.Margin.Sub(marginOut)
	position.MarkPrice = price
	position.RealizedPnL = position.RealizedPnL.Add(realized)
	if position.Quantity.LessThanOrEqual(decimal.Zero) {
		position.Quantity = decimal.Zero
		position.Margin = decimal.Zero
		position.UnrealizedPnL = decimal.Zero
		position.Status = "closed"
		position.ClosedAt = &now
	}

	council.AvailableBalance = council.AvailableBalance.Add(marginOut).Add(realized)
	council.CurrentCapital = council.CurrentCapital.Add(realized)
	l.recordTradeOutcome(council, order, realized)

	order.RealizedPnL = realized
	return l.Repo.SavePosition(ctx, position)
}

func (l *Ledger) recordTradeOutcome(council *models.Council, order *models.MarketOrder, realized decimal.Decimal) {
	order.RealizedPnL = realized
	council.TotalTrades++
	council.RealizedPnL = council.RealizedPnL.Add(realized)
	if realized.GreaterThan(decimal.Zero) {
		council.WinningTrades++
		if realized.GreaterThan(council.BiggestWin) {
			council.BiggestWin = realized
		}
	} else if realized.LessThan(council.BiggestLoss) {
		council.BiggestLoss = realized
	}
}

// RefreshPrices recomputes unrealized PnL for all open exposure against the
// latest prices. priceOf returns the current mark for a symbol.
func (l *Ledger) RefreshPrices(ctx context.Context, council *models.Council, priceOf func(ctx context.Context, symbol string) (decimal.Decimal, error)) error {
	if council.TradingType == "futures" {
		positions, err := l.Repo.ListOpenPositions(ctx, council.ID)
		if err != nil {
			return err
		}
		for i := range positions {
			p := &positions[i]
			price, err := priceOf(ctx, p.Symbol)
			if err != nil {
				l.warnPrice(council.ID, p.Symbol, err)
				continue
			}
			diff := price.Sub(p.EntryPrice)
			if p.Side == "short" {
				diff = diff.Neg()
			}
			p.MarkPrice = price
			p.UnrealizedPnL = diff.Mul(p.Quantity)
			if err := l.Repo.SavePosition(ctx, p); err != nil {
				return err
			}
		}
		return nil
	}

	holdings, err := l.Repo.ListActiveHoldings(ctx, council.ID)
	if err != nil {
		return err
	}
	for i := range holdings {
		h := &holdings[i]
		price, err := priceOf(ctx, h.Symbol)
		if err != nil {
			l.warnPrice(council.ID, h.Symbol, err)
			continue
		}
		h.CurrentPrice = price
		h.UnrealizedPnL = price.Sub(h.AverageCost).Mul(h.Quantity)
		if err := l.Repo.SaveHolding(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot records the council's point-in-time performance. Read-only with
// respect to holdings.
func (l *Ledger) Snapshot(ctx context.Context, council *models.Council) (*models.PerformanceSnapshot, error) {
	deployed, unrealized, open, err := l.exposure(ctx, council)
	if err != nil {
		return nil, err
	}

	totalValue := council.AvailableBalance.Add(deployed).Add(unrealized)
	pnl := totalValue.Sub(council.InitialCapital)
	pnlPct := decimal.Zero
	if council.InitialCapital.GreaterThan(decimal.Zero) {
		pnlPct = pnl.Div(council.InitialCapital).Mul(decimal.NewFromInt(100)).Round(4)
	}
	winRate := decimal.Zero
	if council.TotalTrades > 0 {
		winRate = decimal.NewFromInt(int64(council.WinningTrades)).
			Div(decimal.NewFromInt(int64(council.TotalTrades))).
			Mul(decimal.NewFromInt(100)).Round(2)
	}

	snap := &models.PerformanceSnapshot{
		CouncilID:     council.ID,
		TakenAt:       time.Now().UTC(),
		TotalValue:    totalValue,
		Cash:          council.AvailableBalance,
		PnL:           pnl,
		PnLPct:        pnlPct,
		WinRate:       winRate,
		TradeCount:    council.TotalTrades,
		OpenPositions: open,
	}
	if err := l.Repo.CreateSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// exposure sums deployed capital (spot cost basis or futures margin) and
// unrealized PnL across the council's open book.
func (l *Ledger) exposure(ctx context.Context, council *models.Council) (deployed, unrealized decimal.Decimal, open int, err error) {
	deployed = decimal.Zero
	unrealized = decimal.Zero
	if council.TradingType == "futures" {
		positions, perr := l.Repo.ListOpenPositions(ctx, council.ID)
		if perr != nil {
			return deployed, unrealized, 0, perr
		}
		for _, p := range positions {
			deployed = deployed.Add(p.Margin)
			unrealized = unrealized.Add(p.UnrealizedPnL)
		}
		return deployed, unrealized, len(positions), nil
	}
	holdings, herr := l.Repo.ListActiveHoldings(ctx, council.ID)
	if herr != nil {
		return deployed, unrealized, 0, herr
	}
	for _, h := range holdings {
		deployed = deployed.Add(h.TotalCost)
		unrealized = unrealized.Add(h.UnrealizedPnL)
	}
	return deployed, unrealized, len(holdings), nil
}

// checkConservation verifies available cash plus deployed cost matches
// current capital. A violation means the book is corrupt and the council
// must stop trading.
func (l *Ledger) checkConservation(ctx context.Context, council *models.Council) error {
	deployed, _, _, err := l.exposure(ctx, council)
	if err != nil {
		return err
	}
	drift := council.AvailableBalance.Add(deployed).Sub(council.CurrentCapital).Abs()
	if drift.GreaterThan(conservationEpsilon) {
		return fmt.Errorf("capital conservation violated for council %d: available=%s deployed=%s capital=%s drift=%s",
			council.ID,
			council.AvailableBalance, deployed, council.CurrentCapital, drift)
	}
	return nil
}

func (l *Ledger) warnPrice(councilID uint64, symbol string, err error) {
	if l.Logger == nil {
		return
	}
	l.Logger.Warn("price refresh failed",
		zap.Uint64("council_id", councilID),
		zap.String("symbol", symbol),
		zap.Error(err))
}

var quoteAssets = []string{"USDT", "USDC", "BUSD", "BTC", "ETH"}

func splitSymbol(symbol string) (base, quote string) {
	for _, q := range quoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q), q
		}
	}
	return symbol, "USDT"
}
