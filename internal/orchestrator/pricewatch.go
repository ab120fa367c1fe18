package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"councild/internal/config"
	"councild/internal/exchange"
)

type pricePoint struct {
	at    time.Time
	price decimal.Decimal
}

// PriceWatcher polls symbol prices and fires event triggers on councils
// that opted in when a symbol moves more than the configured percentage
// within the lookback window.
type PriceWatcher struct {
	Gateway exchange.Gateway
	Repo    DaemonStore
	Daemon  *Daemon
	Logger  *zap.Logger
	Cfg     config.PriceWatchConfig

	history map[string][]pricePoint
}

func (w *PriceWatcher) pollInterval() time.Duration {
	if w.Cfg.PollInterval > 0 {
		return w.Cfg.PollInterval
	}
	return 15 * time.Second
}

func (w *PriceWatcher) window() time.Duration {
	if w.Cfg.Window > 0 {
		return w.Cfg.Window
	}
	return 5 * time.Minute
}

func (w *PriceWatcher) Run(ctx context.Context) error {
	if !w.Cfg.Enabled {
		return nil
	}
	if w.history == nil {
		w.history = map[string][]pricePoint{}
	}
	ticker := time.NewTicker(w.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.poll(ctx); err != nil && w.Logger != nil {
				w.Logger.Warn("price watch poll failed", zap.Error(err))
			}
		}
	}
}

func (w *PriceWatcher) poll(ctx context.Context) error {
	councils, err := w.Repo.ListSchedulableCouncils(ctx)
	if err != nil {
		return err
	}

	watched := map[string][]uint64{}
	for _, council := range councils {
		if !council.EventTriggers {
			continue
		}
		for _, symbol := range councilSymbols(&council) {
			watched[symbol] = append(watched[symbol], council.ID)
		}
	}

	now := time.Now().UTC()
	for symbol, councilIDs := range watched {
		quote, err := w.Gateway.GetPrice(ctx, symbol)
		if err != nil {
			if w.Logger != nil {
				w.Logger.Warn("price query failed", zap.String("symbol", symbol), zap.Error(err))
			}
			continue
		}

		points := append(w.history[symbol], pricePoint{at: now, price: quote.Price})
		cutoff := now.Add(-w.window())
		for len(points) > 0 && points[0].at.Before(cutoff) {
			points = points[1:]
		}
		w.history[symbol] = points

		if len(points) < 2 {
			continue
		}
		oldest := points[0].price
		if oldest.LessThanOrEqual(decimal.Zero) {
			continue
		}
		movePct, _ := quote.Price.Sub(oldest).Div(oldest).Mul(decimal.NewFromInt(100)).Abs().Float64()
		if movePct < w.Cfg.TriggerPct {
			continue
		}

		if w.Logger != nil {
			w.Logger.Info("price move detected",
				zap.String("symbol", symbol),
				zap.Float64("move_pct", movePct))
		}
		for _, id := range councilIDs {
			w.Daemon.TriggerEvent(ctx, id, "price_move:"+symbol)
		}
		// Reset the window so one move produces one trigger burst.
		w.history[symbol] = []pricePoint{{at: now, price: quote.Price}}
	}
	return nil
}
