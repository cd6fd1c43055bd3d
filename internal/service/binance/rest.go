package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	xhttp "SignalLoop/pkg/http"
)

const (
	DefaultBaseURL = "https://api.binance.com"
	maxKlineLimit  = 1000
)

// REST fetches klines and ticker prices from the Binance public API.
type REST struct {
	baseURL  string
	symbol   string
	interval drepo.Interval
	client   *xhttp.Client
}

// NewREST creates a new REST instance. A nil client gets a default with retries.
func NewREST(baseURL, symbol string, interval drepo.Interval, client *xhttp.Client) *REST {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = xhttp.NewClient(xhttp.WithTimeout(10*time.Second), xhttp.WithRetry(15*time.Second), xhttp.WithRateLimit(10, 5))
	}
	return &REST{baseURL: baseURL, symbol: symbol, interval: interval, client: client}
}

var (
	_ drepo.BarSupplier = (*REST)(nil)
	_ drepo.PriceOracle = (*REST)(nil)
)

// RecentBars returns up to count closed and in-progress bars, oldest first.
func (r *REST) RecentBars(ctx context.Context, count int) ([]models.Bar, error) {
	if count <= 0 {
		return nil, nil
	}
	if count > maxKlineLimit {
		count = maxKlineLimit
	}
	var raw [][]any
	opts := &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    r.baseURL + "/api/v3/klines",
		QueryParams: map[string][]string{
			"symbol":   {r.symbol},
			"interval": {string(r.interval)},
			"limit":    {strconv.Itoa(count)},
		},
	}
	if err := r.client.SendAndParse(ctx, opts, &raw); err != nil {
		return nil, fmt.Errorf("binance klines: %w: %w", err, models.ErrUpstreamUnavailable)
	}
	bars, err := parseKlines(raw)
	if err != nil {
		return nil, fmt.Errorf("binance klines: %w: %w", err, models.ErrUpstreamUnavailable)
	}
	return bars, nil
}

// CurrentPrice returns the last traded price from the ticker endpoint.
func (r *REST) CurrentPrice(ctx context.Context) (float64, error) {
	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	opts := &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         r.baseURL + "/api/v3/ticker/price",
		QueryParams: map[string][]string{"symbol": {r.symbol}},
	}
	if err := r.client.SendAndParse(ctx, opts, &ticker); err != nil {
		return 0, fmt.Errorf("binance ticker: %w: %w", err, models.ErrUpstreamUnavailable)
	}
	price, err := strconv.ParseFloat(ticker.Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("binance ticker: bad price %q: %w", ticker.Price, models.ErrUpstreamUnavailable)
	}
	return price, nil
}

func parseKlines(raw [][]any) ([]models.Bar, error) {
	bars := make([]models.Bar, 0, len(raw))
	for i, entry := range raw {
		if len(entry) < 6 {
			return nil, fmt.Errorf("kline %d: %d fields", i, len(entry))
		}
		openMs, ok := entry[0].(float64)
		if !ok {
			return nil, fmt.Errorf("kline %d: open time %v", i, entry[0])
		}
		var vals [5]float64
		for j := range vals {
			v, err := strconv.ParseFloat(fmt.Sprint(entry[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			vals[j] = v
		}
		bars = append(bars, models.Bar{
			OpenTime: time.UnixMilli(int64(openMs)).UTC(),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return bars, nil
}
