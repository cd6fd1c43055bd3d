package signals

import (
	"math"

	"SignalLoop/internal/domain/models"
)

// Side is the list a rule label is appended to.
type Side int

const (
	Bullish Side = iota
	Bearish
)

// Rule is one heuristic threshold.
type Rule struct {
	Label string
	Delta int
	Side  Side
	When  func(s models.IndicatorSnapshot) bool
}

// Near-level threshold for support/resistance rules, as a fraction of price.
const nearLevel = 0.02

// Rules is evaluated in order by Score.
var Rules = []Rule{
	{"RSI oversold", 15, Bullish, func(s models.IndicatorSnapshot) bool { return s.RSI < 30 }},
	{"RSI overbought", -15, Bearish, func(s models.IndicatorSnapshot) bool { return s.RSI > 70 }},
	{"MACD bullish crossover", 10, Bullish, func(s models.IndicatorSnapshot) bool { return s.MACD.MACD > s.MACD.Signal }},
	{"MACD bearish crossover", -10, Bearish, func(s models.IndicatorSnapshot) bool { return s.MACD.MACD <= s.MACD.Signal }},
	{"Price near lower Bollinger band", 12, Bullish, func(s models.IndicatorSnapshot) bool { return s.Bollinger.Position < 0.2 }},
	{"Price near upper Bollinger band", -12, Bearish, func(s models.IndicatorSnapshot) bool { return s.Bollinger.Position > 0.8 }},
	{"EMA 20 > EMA 50", 8, Bullish, func(s models.IndicatorSnapshot) bool { return s.EMA.Crossover }},
	{"EMA 20 < EMA 50", -8, Bearish, func(s models.IndicatorSnapshot) bool { return !s.EMA.Crossover }},
	{"High volume support", 7, Bullish, func(s models.IndicatorSnapshot) bool { return s.Volume.Strength > 1 }},
	{"Low volume warning", -5, Bearish, func(s models.IndicatorSnapshot) bool { return s.Volume.Strength < -1 }},
	{"Hammer pattern detected", 10, Bullish, func(s models.IndicatorSnapshot) bool { return s.Patterns.Hammer }},
	{"Bullish engulfing pattern", 15, Bullish, func(s models.IndicatorSnapshot) bool { return s.Patterns.Engulfing }},
	{"Price near support level", 8, Bullish, func(s models.IndicatorSnapshot) bool {
		return s.SupportResistance.SupportDistance < nearLevel
	}},
	{"Price near resistance level", -8, Bearish, func(s models.IndicatorSnapshot) bool {
		return s.SupportResistance.ResistanceDistance < nearLevel
	}},
}

// Score evaluates Rules against snap. It is a pure function of its input.
func Score(snap models.IndicatorSnapshot) models.Signal {
	sig := models.Signal{Bullish: []string{}, Bearish: []string{}}
	strength, fired := 0, 0
	for _, r := range Rules {
		if !r.When(snap) {
			continue
		}
		fired++
		strength += r.Delta
		if r.Side == Bullish {
			sig.Bullish = append(sig.Bullish, r.Label)
		} else {
			sig.Bearish = append(sig.Bearish, r.Label)
		}
	}
	sig.Strength = clampStrength(strength)
	sig.Confidence = Confidence(fired, sig.Strength)
	return sig
}

// Confidence is min(max(0.5, 0.5 + 0.1·rules + 0.3·|strength|/100), 0.95).
func Confidence(rules, strength int) float64 {
	c := 0.5 + 0.1*float64(rules) + 0.3*math.Abs(float64(strength))/100
	return math.Min(math.Max(models.MinConfidence, c), models.MaxConfidence)
}

func clampStrength(s int) int {
	if s > models.MaxStrength {
		return models.MaxStrength
	}
	if s < models.MinStrength {
		return models.MinStrength
	}
	return s
}

// Scorer wraps Score for injection.
type Scorer struct{}

func NewScorer() *Scorer { return &Scorer{} }

func (Scorer) Score(snap models.IndicatorSnapshot) models.Signal { return Score(snap) }
