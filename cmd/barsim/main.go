// barsim — a backtesting exchange driven by historical OHLCV bars.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires the backtest, runs it
//	exchange/exchange.go — the simulated exchange: facade + per-bar matching engine
//	orders/orders.go     — Market/Limit/Stop/StopLimit state machines
//	ledger/ledger.go     — per-symbol balances with per-order holds, transactional
//	liquidity/           — per-bar fill budgets and price impact
//	fees/                — fee strategies applied to fills
//	lending/             — loans: interest accrual, collateral, repayment
//	dispatch/            — chronological event dispatcher driving the run
//	feed/                — bar sources: CSV files or Binance klines
//	api/                 — optional read-only dashboard (HTTP + WebSocket)
//	strategy/            — bundled SMA-cross reference strategy
//
// The simulation is deterministic: bars are replayed in order, orders
// match in creation order, and every fill settles atomically against the
// ledger.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"barsim/internal/api"
	"barsim/internal/config"
	"barsim/internal/dispatch"
	"barsim/internal/exchange"
	"barsim/internal/feed"
	"barsim/internal/fees"
	"barsim/internal/lending"
	"barsim/internal/liquidity"
	"barsim/internal/strategy"
	"barsim/pkg/money"
	"barsim/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("BARSIM_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("backtest failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	dispatcher := dispatch.NewDispatcher()

	initial := money.ValueMap{}
	for symbol, amount := range cfg.DecimalBalances() {
		initial[symbol] = amount
	}

	opts := []exchange.Option{
		exchange.WithRegistry(cfg.BuildRegistry()),
		exchange.WithFeeStrategy(buildFeeStrategy(cfg)),
		exchange.WithLiquidityFactory(buildLiquidityFactory(cfg)),
		exchange.WithLendingStrategy(buildLendingStrategy(cfg)),
		exchange.WithLogger(logger),
	}
	if cfg.BidAskSpread != "" {
		// Validated earlier; cannot fail here.
		spread, _ := decimal.NewFromString(cfg.BidAskSpread)
		opts = append(opts, exchange.WithBidAskSpread(spread))
	}
	ex := exchange.New(dispatcher, initial, opts...)

	pair, err := cfg.ParsePair(cfg.Feed.Pair)
	if err != nil {
		return err
	}

	source, err := buildBarSource(ctx, cfg, logger, pair)
	if err != nil {
		return err
	}
	logger.Info("bars loaded", "pair", pair.String(), "count", source.Len())
	ex.AddBarSource(source)

	if cfg.Strategy.Enabled {
		orderSize, _ := decimal.NewFromString(cfg.Strategy.OrderSize)
		sma := strategy.NewSMACross(ex, pair, cfg.Strategy.FastWindow, cfg.Strategy.SlowWindow, orderSize, logger)
		ex.SubscribeToBarEvents(pair, sma.OnBarEvent)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		ex.EnableDashboardEvents()
		apiServer = api.NewServer(cfg.Dashboard, ex, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "port", cfg.Dashboard.Port)
		defer func() {
			if err := apiServer.Stop(); err != nil {
				logger.Error("failed to stop dashboard", "error", err)
			}
		}()
	}

	logger.Info("backtest starting", "pair", pair.String())
	if err := dispatcher.Run(ctx); err != nil {
		return err
	}

	for symbol, balance := range ex.Balances() {
		logger.Info("final balance",
			"symbol", symbol,
			"available", balance.Available,
			"hold", balance.Hold,
			"borrowed", balance.Borrowed,
			"total", balance.Total,
		)
	}
	logger.Info("backtest finished", "open_orders", len(ex.OpenOrders()))
	return nil
}

func buildFeeStrategy(cfg *config.Config) fees.Strategy {
	if cfg.Fees.Strategy == "percentage" {
		rate, _ := decimal.NewFromString(cfg.Fees.Rate)
		return fees.NewPercentage(rate)
	}
	return fees.NewNoFee()
}

func buildLiquidityFactory(cfg *config.Config) liquidity.Factory {
	if cfg.Liquidity.Strategy == "volume_share" {
		share, _ := decimal.NewFromString(cfg.Liquidity.VolumeShare)
		impact, _ := decimal.NewFromString(cfg.Liquidity.PriceImpact)
		return func() liquidity.Strategy { return liquidity.NewVolumeShareImpact(share, impact) }
	}
	return func() liquidity.Strategy { return liquidity.NewInfiniteLiquidity() }
}

func buildLendingStrategy(cfg *config.Config) lending.Strategy {
	if cfg.Lending.Strategy == "margin" {
		rate, _ := decimal.NewFromString(cfg.Lending.AnnualRate)
		collateral, _ := decimal.NewFromString(cfg.Lending.CollateralPct)
		return lending.NewMarginLoans(rate, collateral)
	}
	return lending.NewNoLoans()
}

func buildBarSource(ctx context.Context, cfg *config.Config, logger *slog.Logger, pair types.Pair) (*feed.BarSource, error) {
	if cfg.Feed.Type == "binance" {
		client := feed.NewKlineClient(feed.DefaultBinanceURL, logger)
		return client.BarSource(ctx, pair, cfg.Feed.Symbol, cfg.Feed.Interval, cfg.Feed.Limit)
	}
	return feed.LoadCSV(cfg.Feed.Path, pair)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
