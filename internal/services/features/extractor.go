package features

import (
	"fmt"
	"math"
	"time"

	"SignalLoop/internal/domain/models"
)

const (
	// MinBars is the smallest window Extract accepts.
	MinBars = 50
	// VectorSize is the fixed feature vector length.
	VectorSize = 20
)

// FeatureNames documents the vector layout, index by index.
var FeatureNames = [VectorSize]string{
	"rsi",
	"macd",
	"macd_signal",
	"macd_histogram",
	"bollinger_position",
	"ema_crossover",
	"ema_golden_cross",
	"ema_death_cross",
	"stochastic_k",
	"stochastic_d",
	"volume_strength",
	"volume_trend",
	"pattern_hammer",
	"pattern_doji",
	"pattern_engulfing",
	"resistance_distance",
	"support_distance",
	"ema_spread",
	"hour_of_day",
	"day_of_week",
}

// Option configures Extractor.
type Option func(*Extractor)

// WithClock overrides the time source used for time-of-day features.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// Extractor turns bar windows into indicator snapshots and feature vectors.
type Extractor struct {
	now func() time.Time
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract analyses bars (ascending, trailing data only). Windows shorter than MinBars fail
// with models.ErrInsufficientData and no partial output.
func (e *Extractor) Extract(bars []models.Bar) ([]float64, models.IndicatorSnapshot, error) {
	if len(bars) < MinBars {
		return nil, models.IndicatorSnapshot{}, fmt.Errorf("extract %d bars, need %d: %w", len(bars), MinBars, models.ErrInsufficientData)
	}
	snap := Analyze(bars)
	return Vectorize(snap, e.now()), snap, nil
}

// Analyze computes the snapshot for any window length; short windows get per-field defaults.
func Analyze(bars []models.Bar) models.IndicatorSnapshot {
	if len(bars) == 0 {
		return models.DefaultSnapshot(0)
	}
	closes := models.Closes(bars)
	return models.IndicatorSnapshot{
		Price:             closes[len(closes)-1],
		RSI:               RSI(closes),
		MACD:              ComputeMACD(closes),
		Bollinger:         ComputeBollinger(closes),
		EMA:               ComputeEMA(closes),
		Stochastic:        ComputeStochastic(bars),
		Volume:            ComputeVolume(bars),
		Patterns:          DetectPatterns(bars),
		SupportResistance: SupportResistance(bars),
	}
}

// Vectorize maps a snapshot and a timestamp to the fixed-length feature vector.
// Every slot is bounded; non-finite inputs become 0.
func Vectorize(snap models.IndicatorSnapshot, at time.Time) []float64 {
	v := make([]float64, VectorSize)
	rel := func(x float64) float64 {
		if snap.Price <= 0 {
			return 0
		}
		return math.Tanh(x / snap.Price * 1000)
	}

	v[0] = snap.RSI / 100
	v[1] = rel(snap.MACD.MACD)
	v[2] = rel(snap.MACD.Signal)
	v[3] = rel(snap.MACD.Histogram)
	v[4] = snap.Bollinger.Position
	v[5] = boolf(snap.EMA.Crossover)
	v[6] = boolf(snap.EMA.GoldenCross)
	v[7] = boolf(snap.EMA.DeathCross)
	v[8] = snap.Stochastic.K / 100
	v[9] = snap.Stochastic.D / 100
	v[10] = math.Tanh(snap.Volume.Strength / 3)
	v[11] = float64(snap.Volume.Trend+1) / 2
	v[12] = boolf(snap.Patterns.Hammer)
	v[13] = boolf(snap.Patterns.Doji)
	v[14] = boolf(snap.Patterns.Engulfing)
	v[15] = math.Tanh(snap.SupportResistance.ResistanceDistance * 10)
	v[16] = math.Tanh(snap.SupportResistance.SupportDistance * 10)
	v[17] = rel((snap.EMA.EMA20 - snap.EMA.EMA50) / 10)
	v[18] = float64(at.Hour()) / 24
	v[19] = float64(at.Weekday()) / 7

	for i := range v {
		v[i] = models.Finite(v[i], 0)
	}
	return v
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
