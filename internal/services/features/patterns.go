package features

import "SignalLoop/internal/domain/models"

// PatternWindow is the number of trailing bars inspected for candle patterns.
const PatternWindow = 3

// DetectPatterns inspects only the last PatternWindow bars. Hammer and doji are read from
// the last bar; engulfing compares the last bar with the one before it.
func DetectPatterns(bars []models.Bar) models.Patterns {
	var p models.Patterns
	if len(bars) == 0 {
		return p
	}
	if len(bars) > PatternWindow {
		bars = bars[len(bars)-PatternWindow:]
	}
	cur := bars[len(bars)-1]
	body := cur.Body()
	rng := cur.Range()

	upper := cur.High - max(cur.Open, cur.Close)
	lower := min(cur.Open, cur.Close) - cur.Low

	if body > 0 {
		p.Hammer = lower > 2*body && upper < body
	}
	if rng > 0 {
		p.Doji = body <= 0.1*rng
	}
	if len(bars) >= 2 {
		prev := bars[len(bars)-2]
		p.Engulfing = cur.Bullish() && prev.Bearish() &&
			cur.Close > prev.Open && cur.Open < prev.Close
	}
	return p
}

// SupportResistance finds the nearest swing high above and swing low below the last close
// over the trailing lookback. A bar is a swing high when its high exceeds the highs of
// SwingNeighbors bars on each side. Missing levels fall back to ±10% of price.
func SupportResistance(bars []models.Bar) models.SupportResistance {
	if len(bars) == 0 {
		return models.SupportResistance{}
	}
	price := bars[len(bars)-1].Close
	if len(bars) > models.SupportResistanceLookback {
		bars = bars[len(bars)-models.SupportResistanceLookback:]
	}

	resistance, support := 0.0, 0.0
	for i := SwingNeighbors; i < len(bars)-SwingNeighbors; i++ {
		if isSwingHigh(bars, i) && bars[i].High > price {
			if resistance == 0 || bars[i].High < resistance {
				resistance = bars[i].High
			}
		}
		if isSwingLow(bars, i) && bars[i].Low < price {
			if support == 0 || bars[i].Low > support {
				support = bars[i].Low
			}
		}
	}
	if resistance == 0 {
		resistance = price * (1 + models.DefaultSupportResistPct)
	}
	if support == 0 {
		support = price * (1 - models.DefaultSupportResistPct)
	}

	out := models.SupportResistance{
		Resistance:         resistance,
		Support:            support,
		ResistanceDistance: models.DefaultSupportResistDist,
		SupportDistance:    models.DefaultSupportResistDist,
	}
	if price > 0 {
		out.ResistanceDistance = (resistance - price) / price
		out.SupportDistance = (price - support) / price
	}
	return out
}

func isSwingHigh(bars []models.Bar, i int) bool {
	for j := i - SwingNeighbors; j <= i+SwingNeighbors; j++ {
		if j != i && bars[j].High >= bars[i].High {
			return false
		}
	}
	return true
}

func isSwingLow(bars []models.Bar, i int) bool {
	for j := i - SwingNeighbors; j <= i+SwingNeighbors; j++ {
		if j != i && bars[j].Low <= bars[i].Low {
			return false
		}
	}
	return true
}
