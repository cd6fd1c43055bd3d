package features

import (
	"math"

	"SignalLoop/internal/domain/models"

	"github.com/markcheno/go-talib"
)

// Indicator periods.
const (
	RSIPeriod        = 14
	MACDFast         = 12
	MACDSlow         = 26
	MACDSignal       = 9
	BollingerPeriod  = 20
	BollingerStdDev  = 2.0
	EMAFast          = 20
	EMASlow          = 50
	StochFastK       = 14
	StochSlowK       = 3
	StochSlowD       = 3
	VolumeWindow     = 20
	SwingNeighbors   = 2
	macdMinBars      = MACDSlow + MACDSignal - 1
	stochMinBars     = StochFastK + StochSlowK + StochSlowD - 2
	emaCrossMinBars  = EMASlow + 1
	rsiFlatThreshold = 1e-12
)

func last(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

// RSI returns the 14-period RSI of closes, or models.DefaultRSI when the window is too short
// or prices never moved.
func RSI(closes []float64) float64 {
	if len(closes) <= RSIPeriod {
		return models.DefaultRSI
	}
	moved := false
	for i := 1; i < len(closes); i++ {
		if math.Abs(closes[i]-closes[i-1]) > rsiFlatThreshold {
			moved = true
			break
		}
	}
	if !moved {
		return models.DefaultRSI
	}
	v := models.Finite(last(talib.Rsi(closes, RSIPeriod)), models.DefaultRSI)
	return math.Max(0, math.Min(100, v))
}

// ComputeMACD returns MACD(12,26,9), zero-valued when the window is too short.
func ComputeMACD(closes []float64) models.MACD {
	if len(closes) < macdMinBars {
		return models.MACD{}
	}
	m, s, h := talib.Macd(closes, MACDFast, MACDSlow, MACDSignal)
	return models.MACD{
		MACD:      models.Finite(last(m), 0),
		Signal:    models.Finite(last(s), 0),
		Histogram: models.Finite(last(h), 0),
	}
}

// ComputeBollinger returns 20-period 2σ bands. Position is (price-lower)/(upper-lower)
// clamped to [0,1], and models.DefaultBollingerPosition when the bands collapse.
func ComputeBollinger(closes []float64) models.Bollinger {
	price := last(closes)
	out := models.Bollinger{Upper: price, Middle: price, Lower: price, Position: models.DefaultBollingerPosition}
	if len(closes) < BollingerPeriod {
		return out
	}
	upper, middle, lower := talib.BBands(closes, BollingerPeriod, BollingerStdDev, BollingerStdDev, talib.SMA)
	out.Upper = models.Finite(last(upper), price)
	out.Middle = models.Finite(last(middle), price)
	out.Lower = models.Finite(last(lower), price)
	width := out.Upper - out.Lower
	if width <= 0 {
		out.Position = models.DefaultBollingerPosition
		return out
	}
	out.Position = math.Max(0, math.Min(1, (price-out.Lower)/width))
	return out
}

// ComputeEMA returns the 20/50 EMAs. Cross flags need one extra bar to compare against.
func ComputeEMA(closes []float64) models.EMA {
	price := last(closes)
	if len(closes) < EMASlow {
		return models.EMA{EMA20: price, EMA50: price}
	}
	fast := talib.Ema(closes, EMAFast)
	slow := talib.Ema(closes, EMASlow)
	out := models.EMA{
		EMA20: models.Finite(last(fast), price),
		EMA50: models.Finite(last(slow), price),
	}
	out.Crossover = out.EMA20 > out.EMA50
	if len(closes) >= emaCrossMinBars {
		n := len(closes)
		prevAbove := fast[n-2] > slow[n-2]
		out.GoldenCross = out.Crossover && !prevAbove
		out.DeathCross = !out.Crossover && prevAbove
	}
	return out
}

// ComputeStochastic returns slow stochastic %K/%D, or 50/50 when the window is too short.
func ComputeStochastic(bars []models.Bar) models.Stochastic {
	out := models.Stochastic{K: models.DefaultStochastic, D: models.DefaultStochastic}
	if len(bars) < stochMinBars {
		return out
	}
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i], lows[i], closes[i] = b.High, b.Low, b.Close
	}
	k, d := talib.Stoch(highs, lows, closes, StochFastK, StochSlowK, talib.SMA, StochSlowD, talib.SMA)
	out.K = math.Max(0, math.Min(100, models.Finite(last(k), models.DefaultStochastic)))
	out.D = math.Max(0, math.Min(100, models.Finite(last(d), models.DefaultStochastic)))
	return out
}

// ComputeVolume returns the z-score of the last volume against the trailing window.
// Trend is -1 when the last volume is below the window mean.
// Strength is 0 when the window has no variance.
func ComputeVolume(bars []models.Bar) models.Volume {
	out := models.Volume{Trend: models.DefaultVolumeTrend}
	if len(bars) == 0 {
		return out
	}
	start := len(bars) - VolumeWindow
	if start < 0 {
		start = 0
	}
	window := bars[start:]
	n := float64(len(window))
	sum := 0.0
	for _, b := range window {
		sum += b.Volume
	}
	mean := sum / n
	variance := 0.0
	for _, b := range window {
		d := b.Volume - mean
		variance += d * d
	}
	variance /= n
	cur := window[len(window)-1].Volume
	if cur < mean {
		out.Trend = -1
	}
	if variance <= 1e-18 {
		return out
	}
	out.Strength = models.Finite((cur-mean)/math.Sqrt(variance), 0)
	return out
}
