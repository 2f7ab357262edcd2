// Package config defines all configuration for the backtest simulator.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via BARSIM_* environment variables, and it also
// provides the runtime Registry of pair and symbol precisions the
// exchange consults while matching.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	InitialBalances map[string]string `mapstructure:"initial_balances"`
	Pairs           []PairConfig      `mapstructure:"pairs"`
	Symbols         []SymbolConfig    `mapstructure:"symbols"`
	Fees            FeeConfig         `mapstructure:"fees"`
	Liquidity       LiquidityConfig   `mapstructure:"liquidity"`
	Lending         LendingConfig     `mapstructure:"lending"`
	BidAskSpread    string            `mapstructure:"bid_ask_spread"`
	Feed            FeedConfig        `mapstructure:"feed"`
	Strategy        StrategyConfig    `mapstructure:"strategy"`
	Dashboard       DashboardConfig   `mapstructure:"dashboard"`
	Logging         LoggingConfig     `mapstructure:"logging"`
}

// PairConfig declares a tradable pair and its rounding precisions.
type PairConfig struct {
	Base           string `mapstructure:"base"`
	Quote          string `mapstructure:"quote"`
	BasePrecision  int32  `mapstructure:"base_precision"`
	QuotePrecision int32  `mapstructure:"quote_precision"`
}

// SymbolConfig sets the precision used to truncate per-symbol amounts
// that are not tied to a pair, e.g. loan interest.
type SymbolConfig struct {
	Symbol    string `mapstructure:"symbol"`
	Precision int32  `mapstructure:"precision"`
}

// FeeConfig selects the fee strategy.
//
//   - Strategy: "none" or "percentage".
//   - Rate:     percentage charged per fill, e.g. "0.25" for 0.25%.
type FeeConfig struct {
	Strategy string `mapstructure:"strategy"`
	Rate     string `mapstructure:"rate"`
}

// LiquidityConfig selects the per-bar liquidity model.
//
//   - Strategy:    "infinite" or "volume_share".
//   - VolumeShare: fraction of a bar's volume fillable, e.g. "0.25".
//   - PriceImpact: impact coefficient applied to the squared consumed
//     share, e.g. "0.1".
type LiquidityConfig struct {
	Strategy    string `mapstructure:"strategy"`
	VolumeShare string `mapstructure:"volume_share"`
	PriceImpact string `mapstructure:"price_impact"`
}

// LendingConfig selects the lending strategy.
//
//   - Strategy:      "none" or "margin".
//   - AnnualRate:    yearly interest on borrowed amounts, e.g. "0.08".
//   - CollateralPct: fraction of the borrowed amount held as collateral.
type LendingConfig struct {
	Strategy      string `mapstructure:"strategy"`
	AnnualRate    string `mapstructure:"annual_rate"`
	CollateralPct string `mapstructure:"collateral_pct"`
}

// FeedConfig selects the bar source that drives the backtest.
//
//   - Type:     "csv" or "binance".
//   - Path:     CSV file with timestamp,open,high,low,close,volume rows.
//   - Symbol:   exchange symbol for the REST feed, e.g. "BTCUSDT".
//   - Interval: kline interval for the REST feed, e.g. "1d".
//   - Limit:    number of klines to fetch.
//   - Pair:     which configured pair the bars belong to, e.g. "BTC/USD".
type FeedConfig struct {
	Type     string `mapstructure:"type"`
	Path     string `mapstructure:"path"`
	Symbol   string `mapstructure:"symbol"`
	Interval string `mapstructure:"interval"`
	Limit    int    `mapstructure:"limit"`
	Pair     string `mapstructure:"pair"`
}

// StrategyConfig tunes the bundled SMA-cross demo strategy.
type StrategyConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	FastWindow int    `mapstructure:"fast_window"`
	SlowWindow int    `mapstructure:"slow_window"`
	OrderSize  string `mapstructure:"order_size"`
}

// DashboardConfig controls the web dashboard server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BARSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper lowercases map keys; give each balance the spelling its symbol
	// has in the pairs table.
	spelling := map[string]string{}
	for _, p := range cfg.Pairs {
		spelling[strings.ToLower(p.Base)] = p.Base
		spelling[strings.ToLower(p.Quote)] = p.Quote
	}
	balances := make(map[string]string, len(cfg.InitialBalances))
	for symbol, amount := range cfg.InitialBalances {
		if declared, ok := spelling[strings.ToLower(symbol)]; ok {
			symbol = declared
		}
		balances[symbol] = amount
	}
	cfg.InitialBalances = balances
	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("at least one pair is required")
	}
	for _, p := range c.Pairs {
		if p.Base == "" || p.Quote == "" {
			return fmt.Errorf("pair base and quote symbols are required")
		}
		if p.BasePrecision < 0 || p.QuotePrecision < 0 {
			return fmt.Errorf("pair %s/%s: precisions must be >= 0", p.Base, p.Quote)
		}
	}
	for symbol, amount := range c.InitialBalances {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return fmt.Errorf("initial balance for %s: %w", symbol, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("initial balance for %s must be >= 0", symbol)
		}
	}
	switch c.Fees.Strategy {
	case "", "none":
	case "percentage":
		if _, err := decimal.NewFromString(c.Fees.Rate); err != nil {
			return fmt.Errorf("fees.rate: %w", err)
		}
	default:
		return fmt.Errorf("fees.strategy must be one of: none, percentage")
	}
	switch c.Liquidity.Strategy {
	case "", "infinite":
	case "volume_share":
		if _, err := decimal.NewFromString(c.Liquidity.VolumeShare); err != nil {
			return fmt.Errorf("liquidity.volume_share: %w", err)
		}
		if _, err := decimal.NewFromString(c.Liquidity.PriceImpact); err != nil {
			return fmt.Errorf("liquidity.price_impact: %w", err)
		}
	default:
		return fmt.Errorf("liquidity.strategy must be one of: infinite, volume_share")
	}
	switch c.Lending.Strategy {
	case "", "none":
	case "margin":
		if _, err := decimal.NewFromString(c.Lending.AnnualRate); err != nil {
			return fmt.Errorf("lending.annual_rate: %w", err)
		}
		if _, err := decimal.NewFromString(c.Lending.CollateralPct); err != nil {
			return fmt.Errorf("lending.collateral_pct: %w", err)
		}
	default:
		return fmt.Errorf("lending.strategy must be one of: none, margin")
	}
	if c.BidAskSpread != "" {
		if _, err := decimal.NewFromString(c.BidAskSpread); err != nil {
			return fmt.Errorf("bid_ask_spread: %w", err)
		}
	}
	if c.Feed.Type != "" && c.Feed.Pair == "" {
		return fmt.Errorf("feed.pair is required")
	}
	switch c.Feed.Type {
	case "", "csv":
		if c.Feed.Type == "csv" && c.Feed.Path == "" {
			return fmt.Errorf("feed.path is required for the csv feed")
		}
	case "binance":
		if c.Feed.Symbol == "" || c.Feed.Interval == "" {
			return fmt.Errorf("feed.symbol and feed.interval are required for the binance feed")
		}
	default:
		return fmt.Errorf("feed.type must be one of: csv, binance")
	}
	if c.Strategy.Enabled {
		if c.Strategy.FastWindow <= 0 || c.Strategy.SlowWindow <= c.Strategy.FastWindow {
			return fmt.Errorf("strategy windows must satisfy 0 < fast < slow")
		}
		if _, err := decimal.NewFromString(c.Strategy.OrderSize); err != nil {
			return fmt.Errorf("strategy.order_size: %w", err)
		}
	}
	if c.Dashboard.Enabled && c.Dashboard.Port <= 0 {
		return fmt.Errorf("dashboard.port must be > 0")
	}
	return nil
}
