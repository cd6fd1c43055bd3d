package models

import "math"

// Default indicator values used when the window is too short or a computation is undefined.
const (
	DefaultRSI                = 50.0
	DefaultBollingerPosition  = 0.5
	DefaultStochastic         = 50.0
	DefaultVolumeTrend        = 1
	DefaultSupportResistPct   = 0.10
	DefaultSupportResistDist  = DefaultSupportResistPct
	SupportResistanceLookback = 50
)

// MACD holds the MACD line, its signal line and the histogram.
type MACD struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Bollinger holds the bands and the position of the price between them, in [0,1].
type Bollinger struct {
	Upper    float64 `json:"upper"`
	Middle   float64 `json:"middle"`
	Lower    float64 `json:"lower"`
	Position float64 `json:"position"`
}

// EMA holds the 20/50 exponential averages and their cross state.
// GoldenCross and DeathCross are true only on the bar where the relation flipped.
type EMA struct {
	EMA20       float64 `json:"ema_20"`
	EMA50       float64 `json:"ema_50"`
	Crossover   bool    `json:"crossover"`
	GoldenCross bool    `json:"golden_cross"`
	DeathCross  bool    `json:"death_cross"`
}

type Stochastic struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

// Volume holds the z-score of the last volume against its trailing mean and the direction (+1/-1).
type Volume struct {
	Strength float64 `json:"strength"`
	Trend    int     `json:"trend"`
}

type Patterns struct {
	Hammer    bool `json:"hammer"`
	Doji      bool `json:"doji"`
	Engulfing bool `json:"engulfing"`
}

// SupportResistance holds the nearest levels and their distance as a fraction of price.
type SupportResistance struct {
	Resistance         float64 `json:"resistance"`
	Support            float64 `json:"support"`
	ResistanceDistance float64 `json:"resistance_distance"`
	SupportDistance    float64 `json:"support_distance"`
}

// IndicatorSnapshot is the typed technical analysis of one bar window.
type IndicatorSnapshot struct {
	Price             float64           `json:"price"`
	RSI               float64           `json:"rsi"`
	MACD              MACD              `json:"macd"`
	Bollinger         Bollinger         `json:"bollinger"`
	EMA               EMA               `json:"emas"`
	Stochastic        Stochastic        `json:"stochastic"`
	Volume            Volume            `json:"volume"`
	Patterns          Patterns          `json:"patterns"`
	SupportResistance SupportResistance `json:"support_resistance"`
}

// DefaultSnapshot returns the neutral snapshot for a price.
func DefaultSnapshot(price float64) IndicatorSnapshot {
	return IndicatorSnapshot{
		Price:      price,
		RSI:        DefaultRSI,
		Bollinger:  Bollinger{Upper: price, Middle: price, Lower: price, Position: DefaultBollingerPosition},
		EMA:        EMA{EMA20: price, EMA50: price},
		Stochastic: Stochastic{K: DefaultStochastic, D: DefaultStochastic},
		Volume:     Volume{Trend: DefaultVolumeTrend},
		SupportResistance: SupportResistance{
			Resistance:         price * (1 + DefaultSupportResistPct),
			Support:            price * (1 - DefaultSupportResistPct),
			ResistanceDistance: DefaultSupportResistDist,
			SupportDistance:    DefaultSupportResistDist,
		},
	}
}

// Finite returns v, or def when v is NaN or infinite.
func Finite(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}
