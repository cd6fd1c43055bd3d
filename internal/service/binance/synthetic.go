package binance

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
)

const maxSyntheticBars = 10000

// Synthetic is a seeded random-walk market for offline runs. A given seed and clock
// always produce the same bars.
type Synthetic struct {
	interval time.Duration
	vol      float64
	now      func() time.Time

	mu   sync.Mutex
	rng  *rand.Rand
	bars []models.Bar
}

// NewSynthetic creates a new Synthetic instance starting at price with window bars of history.
func NewSynthetic(seed int64, price float64, interval drepo.Interval, window int, now func() time.Time) *Synthetic {
	if now == nil {
		now = time.Now
	}
	if price <= 0 {
		price = 100
	}
	if window <= 0 {
		window = 500
	}
	s := &Synthetic{
		interval: interval.Duration(),
		vol:      0.002,
		now:      now,
		rng:      rand.New(rand.NewSource(seed)),
	}
	first := now().Truncate(s.interval).Add(-time.Duration(window-1) * s.interval)
	s.bars = make([]models.Bar, 0, window)
	s.step(first, price)
	for len(s.bars) < window {
		last := s.bars[len(s.bars)-1]
		s.step(last.OpenTime.Add(s.interval), last.Close)
	}
	return s
}

var (
	_ drepo.BarSupplier = (*Synthetic)(nil)
	_ drepo.PriceOracle = (*Synthetic)(nil)
)

func (s *Synthetic) step(at time.Time, open float64) {
	ret := s.rng.NormFloat64() * s.vol
	closePrice := open * math.Exp(ret)
	wick := math.Abs(s.rng.NormFloat64()) * s.vol * open / 2
	s.bars = append(s.bars, models.Bar{
		OpenTime: at,
		Open:     open,
		High:     math.Max(open, closePrice) + wick,
		Low:      math.Min(open, closePrice) - wick,
		Close:    closePrice,
		Volume:   100 + 50*math.Abs(s.rng.NormFloat64()),
	})
}

// advance appends bars up to the current interval.
func (s *Synthetic) advance() {
	target := s.now().Truncate(s.interval)
	for last := s.bars[len(s.bars)-1]; last.OpenTime.Before(target); last = s.bars[len(s.bars)-1] {
		s.step(last.OpenTime.Add(s.interval), last.Close)
	}
	if len(s.bars) > maxSyntheticBars {
		s.bars = append(s.bars[:0:0], s.bars[len(s.bars)-maxSyntheticBars:]...)
	}
}

// RecentBars returns the last count bars, oldest first.
func (s *Synthetic) RecentBars(_ context.Context, count int) ([]models.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	start := 0
	if count > 0 && count < len(s.bars) {
		start = len(s.bars) - count
	}
	return append([]models.Bar(nil), s.bars[start:]...), nil
}

// CurrentPrice returns the close of the newest bar.
func (s *Synthetic) CurrentPrice(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.bars[len(s.bars)-1].Close, nil
}
