package binance

import (
	"context"
	"fmt"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	applogger "SignalLoop/pkg/logger"
)

// Failover serves prices and bars from the live stream and falls back to REST.
type Failover struct {
	live     drepo.MarketStream
	fallback interface {
		drepo.BarSupplier
		drepo.PriceOracle
	}
	log *applogger.Logger
}

// NewFailover creates a new Failover instance.
func NewFailover(live drepo.MarketStream, fallback interface {
	drepo.BarSupplier
	drepo.PriceOracle
}, log *applogger.Logger) *Failover {
	if log == nil {
		log = applogger.Nop()
	}
	return &Failover{live: live, fallback: fallback, log: log}
}

var (
	_ drepo.BarSupplier = (*Failover)(nil)
	_ drepo.PriceOracle = (*Failover)(nil)
)

// CurrentPrice prefers the realtime price.
func (f *Failover) CurrentPrice(ctx context.Context) (float64, error) {
	if f.live != nil && f.live.IsConnected() {
		if p, err := f.live.CurrentPrice(ctx); err == nil {
			return p, nil
		}
	}
	p, err := f.fallback.CurrentPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("price failover: %w", err)
	}
	f.log.Debug("price served by rest fallback", applogger.Float64("price", p))
	return p, nil
}

// RecentBars uses the stream window when it already holds count bars.
func (f *Failover) RecentBars(ctx context.Context, count int) ([]models.Bar, error) {
	if f.live != nil && f.live.IsConnected() {
		bars, err := f.live.RecentBars(ctx, count)
		if err == nil && len(bars) >= count {
			return bars, nil
		}
	}
	bars, err := f.fallback.RecentBars(ctx, count)
	if err != nil {
		return nil, fmt.Errorf("bars failover: %w", err)
	}
	return bars, nil
}

// IsConnected reports whether the realtime feed is up.
func (f *Failover) IsConnected() bool { return f.live != nil && f.live.IsConnected() }
