package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"councild/internal/agent"
	"councild/internal/broadcast"
	"councild/internal/config"
	cronrunner "councild/internal/cron"
	"councild/internal/db"
	"councild/internal/exchange"
	"councild/internal/handler"
	"councild/internal/logger"
	"councild/internal/orchestrator"
	"councild/internal/portfolio"
	"councild/internal/repository"
	gormrepository "councild/internal/repository/gorm"
	"councild/internal/trading"
)

func main() {
	cfgPath := os.Getenv("COUNCIL_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("COUNCIL_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	liveGateway := exchange.NewClient(exchange.ClientOptions{
		BaseURL:           cfg.Exchange.BaseURL,
		APIKey:            os.Getenv(cfg.Exchange.APIKeyEnv),
		APISecret:         os.Getenv(cfg.Exchange.APISecretEnv),
		Timeout:           cfg.Exchange.Timeout,
		RequestsPerMinute: cfg.Exchange.RequestsPerMinute,
		Burst:             cfg.Exchange.Burst,
	})
	paperGateway := exchange.NewPaperGateway(
		decimal.NewFromInt(1_000_000),
		decimal.NewFromFloat(cfg.Trading.FeeRate),
	)
	// Paper fills still price off the live feed when it is reachable.
	paperGateway.QuoteSource = liveGateway.GetPrice
	gateways := map[string]exchange.Gateway{
		"paper": paperGateway,
		"live":  liveGateway,
	}

	hub := broadcast.NewHub(logger, cfg.Broadcast.SubscriberBuffer, cfg.Broadcast.MaxMisses)

	registry := agent.NewRegistry(cfg.Agents)
	collector := &agent.Collector{
		Registry:     registry,
		Repo:         store,
		Logger:       logger,
		AgentTimeout: cfg.Debate.AgentTimeout,
		Round:        cfg.Debate.Round,
	}

	quantityStep, err := decimal.NewFromString(cfg.Trading.QuantityStep)
	if err != nil {
		logger.Fatal("invalid quantity step", zap.String("value", cfg.Trading.QuantityStep))
	}
	executor := &trading.Executor{
		Gateways:            gateways,
		Repo:                store,
		Logger:              logger,
		MaxBalanceFraction:  decimal.NewFromFloat(cfg.Trading.MaxBalanceFraction),
		DefaultRiskFraction: decimal.NewFromFloat(cfg.Trading.RiskFraction),
		MinNotional:         decimal.NewFromFloat(cfg.Trading.MinNotional),
		QuantityStep:        quantityStep,
		FeeRate:             decimal.NewFromFloat(cfg.Trading.FeeRate),
		RateLimitBackoff:    cfg.Trading.RateLimitBackoff,
		RateLimitAttempts:   cfg.Trading.RateLimitAttempts,
		NetworkRetries:      cfg.Trading.NetworkRetries,
		NetworkRetryDelay:   cfg.Trading.NetworkRetryDelay,
	}

	ledger := &portfolio.Ledger{Repo: store, Logger: logger}

	coordinator := &orchestrator.Coordinator{
		Repo:             store,
		Collector:        collector,
		Executor:         executor,
		Ledger:           ledger,
		Hub:              hub,
		Gateways:         gateways,
		Logger:           logger,
		DefaultThreshold: cfg.Consensus.Threshold,
	}

	daemon := orchestrator.NewDaemon(store, coordinator, logger, cfg.Scheduler)

	priceWatcher := &orchestrator.PriceWatcher{
		Gateway: paperGateway,
		Repo:    store,
		Daemon:  daemon,
		Logger:  logger,
		Cfg:     cfg.PriceWatch,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	councilHandler := &handler.CouncilHandler{Repo: store}
	councilHandler.Register(engine)
	statusHandler := &handler.StatusHandler{
		Daemon:      daemon,
		Coordinator: coordinator,
		Hub:         hub,
	}
	statusHandler.Register(engine)

	wsHandler := &broadcast.WSHandler{
		Hub:          hub,
		Logger:       logger,
		PingInterval: cfg.Broadcast.PingInterval,
		PingTimeout:  cfg.Broadcast.PingTimeout,
	}
	engine.GET("/ws/events", wsHandler.Handle)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)

	_, err = cronRunner.Add("@every 30s", func(ctx context.Context) {
		if err := daemon.Heartbeat(ctx); err != nil {
			logger.Warn("marker heartbeat failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("cron register heartbeat failed", zap.Error(err))
	}

	_, err = cronRunner.Add("@every 30s", func(ctx context.Context) {
		refreshOpenExposure(ctx, store, ledger, gateways, logger)
	})
	if err != nil {
		logger.Warn("cron register price refresh failed", zap.Error(err))
	}

	_, err = cronRunner.Add("@every 1h", func(ctx context.Context) {
		snapshotAll(ctx, store, ledger, logger)
	})
	if err != nil {
		logger.Warn("cron register snapshots failed", zap.Error(err))
	}

	_, err = cronRunner.Add("@every 10m", func(ctx context.Context) {
		cutoff := time.Now().UTC().Add(-2 * time.Hour)
		n, err := store.FailStaleRuns(ctx, cutoff, "run exceeded maximum duration")
		if err != nil {
			logger.Warn("stale run reap failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Warn("failed stale runs", zap.Int64("count", n))
		}
	})
	if err != nil {
		logger.Warn("cron register stale run reaper failed", zap.Error(err))
	}

	_, err = cronRunner.Add("@every 1m", func(ctx context.Context) {
		hub.Prune()
	})
	if err != nil {
		logger.Warn("cron register subscriber prune failed", zap.Error(err))
	}

	cronRunner.Start()
	defer cronRunner.Stop()

	daemonDone := make(chan struct{})
	go func() {
		defer close(daemonDone)
		if err := daemon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("daemon stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := priceWatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("price watcher stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// The daemon drains in-flight cycles and removes its marker on the way out.
	select {
	case <-daemonDone:
	case <-time.After(cfg.Scheduler.GraceTimeout + 5*time.Second):
		logger.Warn("daemon did not drain before shutdown deadline")
	}
}

// refreshOpenExposure recomputes unrealized PnL for every active council
// against current prices.
func refreshOpenExposure(ctx context.Context, store repository.Repository, ledger *portfolio.Ledger, gateways map[string]exchange.Gateway, logger *zap.Logger) {
	status := "active"
	councils, err := store.ListCouncils(ctx, repository.ListCouncilsParams{Status: &status})
	if err != nil {
		logger.Warn("listing councils for price refresh failed", zap.Error(err))
		return
	}
	for i := range councils {
		council := &councils[i]
		gw, ok := gateways[council.TradingMode]
		if !ok {
			continue
		}
		priceOf := func(ctx context.Context, symbol string) (decimal.Decimal, error) {
			quote, err := gw.GetPrice(ctx, symbol)
			if err != nil {
				return decimal.Zero, err
			}
			return quote.Price, nil
		}
		if err := ledger.RefreshPrices(ctx, council, priceOf); err != nil {
			logger.Warn("price refresh failed",
				zap.Uint64("council_id", council.ID),
				zap.Error(err))
		}
	}
}

func snapshotAll(ctx context.Context, store repository.Repository, ledger *portfolio.Ledger, logger *zap.Logger) {
	status := "active"
	councils, err := store.ListCouncils(ctx, repository.ListCouncilsParams{Status: &status})
	if err != nil {
		logger.Warn("listing councils for snapshots failed", zap.Error(err))
		return
	}
	for i := range councils {
		if _, err := ledger.Snapshot(ctx, &councils[i]); err != nil {
			logger.Warn("periodic snapshot failed",
				zap.Uint64("council_id", councils[i].ID),
				zap.Error(err))
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
