package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	pkgkafka "SignalLoop/pkg/kafka"
	"SignalLoop/pkg/util"
)

// BarSink persists bars received from the feed.
type BarSink interface {
	StoreBars(ctx context.Context, bars []models.Bar) error
}

// BarFeed consumes bar messages from Kafka into a rolling window that serves as
// bar supplier and price oracle.
type BarFeed struct {
	topic   string
	symbol  string
	window  int
	sink    BarSink
	metrics drepo.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	bars   []models.Bar
	lastAt time.Time
}

// NewBarFeed creates a new BarFeed instance. sink may be nil.
func NewBarFeed(topic, symbol string, window int, sink BarSink, metrics drepo.Metrics) *BarFeed {
	if window <= 0 {
		window = 500
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &BarFeed{topic: topic, symbol: symbol, window: window, sink: sink, metrics: metrics, now: time.Now}
}

var (
	_ pkgkafka.MessageHandler = (*BarFeed)(nil)
	_ drepo.BarSupplier       = (*BarFeed)(nil)
	_ drepo.PriceOracle       = (*BarFeed)(nil)
)

func (f *BarFeed) Topic() string { return f.topic }

// barMessage is the wire format: {symbol, t (ms or s), o, h, l, c, v}.
type barMessage struct {
	Symbol string  `json:"symbol"`
	T      int64   `json:"t"`
	O      float64 `json:"o"`
	H      float64 `json:"h"`
	L      float64 `json:"l"`
	C      float64 `json:"c"`
	V      float64 `json:"v"`
}

// Handle decodes one bar. Bars for other symbols are ignored.
func (f *BarFeed) Handle(ctx context.Context, b []byte) error {
	var m barMessage
	if err := json.Unmarshal(b, &m); err != nil {
		f.metrics.RecordError("bar_feed_unmarshal")
		return fmt.Errorf("decode bar: %w", err)
	}
	if m.Symbol != f.symbol {
		return nil
	}
	if m.C <= 0 || m.T <= 0 {
		f.metrics.RecordError("bar_feed_invalid")
		return nil
	}
	bar := models.Bar{OpenTime: util.FromEpoch(m.T), Open: m.O, High: m.H, Low: m.L, Close: m.C, Volume: m.V}
	f.apply(bar)
	f.metrics.RecordLastPrice(f.symbol, bar.Close)

	if f.sink != nil {
		start := time.Now()
		err := f.sink.StoreBars(ctx, []models.Bar{bar})
		f.metrics.RecordLatency("bar_store", time.Since(start).Seconds())
		if err != nil {
			f.metrics.RecordError("bar_feed_store")
			return err
		}
	}
	return nil
}

func (f *BarFeed) apply(bar models.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAt = f.now()
	n := len(f.bars)
	switch {
	case n > 0 && f.bars[n-1].OpenTime.Equal(bar.OpenTime):
		f.bars[n-1] = bar
	case n > 0 && bar.OpenTime.Before(f.bars[n-1].OpenTime):
		return
	default:
		f.bars = append(f.bars, bar)
	}
	if over := len(f.bars) - f.window; over > 0 {
		f.bars = append(f.bars[:0:0], f.bars[over:]...)
	}
}

// RecentBars returns the last count bars of the window.
func (f *BarFeed) RecentBars(_ context.Context, count int) ([]models.Bar, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.bars) == 0 {
		return nil, fmt.Errorf("bar feed %s: empty: %w", f.topic, models.ErrUpstreamUnavailable)
	}
	start := 0
	if count > 0 && count < len(f.bars) {
		start = len(f.bars) - count
	}
	return append([]models.Bar(nil), f.bars[start:]...), nil
}

// CurrentPrice returns the newest close.
func (f *BarFeed) CurrentPrice(_ context.Context) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.bars) == 0 {
		return 0, fmt.Errorf("bar feed %s: empty: %w", f.topic, models.ErrUpstreamUnavailable)
	}
	return f.bars[len(f.bars)-1].Close, nil
}
