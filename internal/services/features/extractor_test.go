package features

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"SignalLoop/internal/domain/models"
)

var testStart = time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)

func risingBars(n int) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = models.Bar{
			OpenTime: testStart.Add(time.Duration(i) * time.Minute),
			Open:     c - 0.5,
			High:     c + 1,
			Low:      c - 1.5,
			Close:    c,
			Volume:   1000,
		}
	}
	return bars
}

func flatBars(n int, price float64) []models.Bar {
	bars := make([]models.Bar, n)
	for i := range bars {
		bars[i] = models.Bar{
			OpenTime: testStart.Add(time.Duration(i) * time.Minute),
			Open:     price, High: price, Low: price, Close: price, Volume: 500,
		}
	}
	return bars
}

func fixedClock() time.Time { return testStart }

func TestExtractRejectsShortWindow(t *testing.T) {
	e := NewExtractor(WithClock(fixedClock))
	vec, _, err := e.Extract(risingBars(MinBars - 1))
	if !errors.Is(err, models.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if vec != nil {
		t.Fatalf("expected no partial vector, got %d values", len(vec))
	}
}

func TestExtractVectorLength(t *testing.T) {
	e := NewExtractor(WithClock(fixedClock))
	for _, n := range []int{MinBars, 60, 200} {
		vec, _, err := e.Extract(risingBars(n))
		if err != nil {
			t.Fatalf("n=%d: unexpected error %v", n, err)
		}
		if len(vec) != VectorSize {
			t.Fatalf("n=%d: expected %d features, got %d", n, VectorSize, len(vec))
		}
		for i, v := range vec {
			if math.IsNaN(v) || v < -1 || v > 1 {
				t.Fatalf("n=%d: feature %s out of bounds: %v", n, FeatureNames[i], v)
			}
		}
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	e := NewExtractor(WithClock(fixedClock))
	bars := risingBars(80)
	v1, s1, _ := e.Extract(bars)
	v2, s2, _ := e.Extract(bars)
	if !reflect.DeepEqual(v1, v2) || !reflect.DeepEqual(s1, s2) {
		t.Fatalf("expected identical output for identical input")
	}
}

func TestRisingWindowIsOverbought(t *testing.T) {
	snap := Analyze(risingBars(60))
	if snap.RSI <= 70 {
		t.Fatalf("expected RSI > 70 on a rising window, got %v", snap.RSI)
	}
	if !snap.EMA.Crossover {
		t.Fatalf("expected EMA20 above EMA50 on a rising window")
	}
	if snap.MACD.MACD <= 0 {
		t.Fatalf("expected positive MACD, got %v", snap.MACD.MACD)
	}
}

func TestIndicatorDefaults(t *testing.T) {
	tests := []struct {
		name string
		bars []models.Bar
	}{
		{"short", risingBars(5)},
		{"flat", flatBars(60, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Analyze(tt.bars)
			if snap.RSI != models.DefaultRSI {
				t.Fatalf("expected default RSI, got %v", snap.RSI)
			}
			if snap.Bollinger.Position != models.DefaultBollingerPosition {
				t.Fatalf("expected default bollinger position, got %v", snap.Bollinger.Position)
			}
		})
	}
}

func TestDetectPatterns(t *testing.T) {
	tests := []struct {
		name string
		bars []models.Bar
		want models.Patterns
	}{
		{
			name: "hammer",
			bars: []models.Bar{{Open: 100, Close: 101, High: 101.2, Low: 96}},
			want: models.Patterns{Hammer: true},
		},
		{
			name: "doji",
			bars: []models.Bar{{Open: 100, Close: 100.05, High: 101, Low: 99}},
			want: models.Patterns{Doji: true},
		},
		{
			name: "bullish engulfing",
			bars: []models.Bar{
				{Open: 102, Close: 100, High: 102.5, Low: 99.8},
				{Open: 99.5, Close: 103, High: 103.2, Low: 99.4},
			},
			want: models.Patterns{Engulfing: true},
		},
		{
			name: "only last bars count",
			bars: append([]models.Bar{{Open: 102, Close: 100, High: 102.5, Low: 99.8}}, risingBars(3)...),
			want: models.Patterns{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectPatterns(tt.bars); got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestSupportResistanceFallback(t *testing.T) {
	sr := SupportResistance(risingBars(60))
	if math.Abs(sr.ResistanceDistance-0.10) > 1e-9 || math.Abs(sr.SupportDistance-0.10) > 1e-9 {
		t.Fatalf("expected 10%% fallback distances, got %+v", sr)
	}
}

func TestSupportResistanceSwing(t *testing.T) {
	bars := flatBars(30, 110)
	for i := range bars {
		bars[i].High = 111
		bars[i].Low = 109
	}
	bars[10].High = 120
	bars[20].Low = 100
	sr := SupportResistance(bars)
	if sr.Resistance != 120 || sr.Support != 100 {
		t.Fatalf("unexpected levels %+v", sr)
	}
	if math.Abs(sr.ResistanceDistance-10.0/110) > 1e-9 {
		t.Fatalf("unexpected resistance distance %v", sr.ResistanceDistance)
	}
}

func TestComputeVolume(t *testing.T) {
	bars := flatBars(30, 100)
	if v := ComputeVolume(bars); v.Strength != 0 || v.Trend != 1 {
		t.Fatalf("expected neutral volume, got %+v", v)
	}
	bars[len(bars)-1].Volume = 5000
	if v := ComputeVolume(bars); v.Strength <= 1 || v.Trend != 1 {
		t.Fatalf("expected strong rising volume, got %+v", v)
	}
}
