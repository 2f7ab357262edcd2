package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"barsim/pkg/types"
)

// DefaultBinanceURL is the production REST endpoint for historical
// klines.
const DefaultBinanceURL = "https://api.binance.com"

// KlineClient fetches historical klines from the Binance REST API.
// It wraps a resty HTTP client with timeout and retry on 5xx.
type KlineClient struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewKlineClient creates a client against baseURL.
func NewKlineClient(baseURL string, logger *slog.Logger) *KlineClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &KlineClient{
		http:   httpClient,
		logger: logger.With("component", "binance-feed"),
	}
}

// Klines fetches up to limit klines for symbol at the given interval and
// converts them into bars for pair.
//
// The API returns each kline as a JSON array:
// [openTime, open, high, low, close, volume, closeTime, ...], with the
// prices encoded as strings to preserve decimal precision.
func (c *KlineClient) Klines(ctx context.Context, pair types.Pair, symbol, interval string, limit int) ([]types.Bar, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("interval", interval).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		Get("/api/v3/klines")
	if err != nil {
		return nil, fmt.Errorf("get klines: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get klines: status %d: %s", resp.StatusCode(), resp.String())
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	bars := make([]types.Bar, 0, len(raw))
	for i, kline := range raw {
		bar, err := parseKline(kline, pair)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		bars = append(bars, bar)
	}
	c.logger.Info("fetched klines", "symbol", symbol, "interval", interval, "count", len(bars))
	return bars, nil
}

// BarSource fetches klines and wraps them as a dispatch source.
func (c *KlineClient) BarSource(ctx context.Context, pair types.Pair, symbol, interval string, limit int) (*BarSource, error) {
	bars, err := c.Klines(ctx, pair, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	return NewBarSource(bars)
}

func parseKline(kline []json.RawMessage, pair types.Pair) (types.Bar, error) {
	if len(kline) < 6 {
		return types.Bar{}, fmt.Errorf("expected at least 6 fields, got %d", len(kline))
	}

	var openTimeMillis int64
	if err := json.Unmarshal(kline[0], &openTimeMillis); err != nil {
		return types.Bar{}, fmt.Errorf("open time: %w", err)
	}
	bar := types.Bar{Pair: pair, When: time.UnixMilli(openTimeMillis).UTC()}

	for i, target := range []*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume} {
		var s string
		if err := json.Unmarshal(kline[i+1], &s); err != nil {
			return types.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		value, err := decimal.NewFromString(s)
		if err != nil {
			return types.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		*target = value
	}
	return bar, nil
}
