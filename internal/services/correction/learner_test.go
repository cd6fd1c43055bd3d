package correction

import (
	"math"
	"reflect"
	"testing"

	"SignalLoop/internal/domain/models"
)

// quiet matches no category for either direction.
func quiet() models.IndicatorSnapshot {
	s := models.DefaultSnapshot(100)
	s.MACD = models.MACD{MACD: 1, Signal: 0.5, Histogram: 0.5}
	return s
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.IndicatorSnapshot)
		dir    models.Direction
		want   []models.ErrorCategory
	}{
		{"none", func(*models.IndicatorSnapshot) {}, models.DirectionUp, []models.ErrorCategory{}},
		{"overbought up", func(s *models.IndicatorSnapshot) { s.RSI = 75 }, models.DirectionUp, []models.ErrorCategory{models.ErrRSIOverbought}},
		{"overbought down", func(s *models.IndicatorSnapshot) { s.RSI = 75 }, models.DirectionDown, []models.ErrorCategory{}},
		{"oversold down", func(s *models.IndicatorSnapshot) { s.RSI = 25 }, models.DirectionDown, []models.ErrorCategory{models.ErrRSIOversold}},
		{"macd noise", func(s *models.IndicatorSnapshot) { s.MACD.Histogram = 0.001 }, models.DirectionDown, []models.ErrorCategory{models.ErrMACDFalseSignal}},
		{"volume", func(s *models.IndicatorSnapshot) { s.Volume.Strength = -4 }, models.DirectionUp, []models.ErrorCategory{models.ErrVolumeAnomaly}},
		{"golden cross", func(s *models.IndicatorSnapshot) { s.EMA.GoldenCross = true }, models.DirectionUp, []models.ErrorCategory{models.ErrEMACrossoverFail}},
		{"upper breakout", func(s *models.IndicatorSnapshot) { s.Bollinger.Position = 0.95 }, models.DirectionUp, []models.ErrorCategory{models.ErrBollingerBreakoutFail}},
		{"hammer", func(s *models.IndicatorSnapshot) { s.Patterns.Hammer = true }, models.DirectionUp, []models.ErrorCategory{models.ErrPatternRecognitionFail}},
		{"support", func(s *models.IndicatorSnapshot) { s.SupportResistance.SupportDistance = 0.005 }, models.DirectionDown, []models.ErrorCategory{models.ErrSupportResistanceBreak}},
	}
	l := NewLearner()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := quiet()
			tt.mutate(&snap)
			if got := l.Match(snap, tt.dir); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestObserveFailureClampsWeight(t *testing.T) {
	l := NewLearner()
	snap := quiet()
	snap.RSI = 80
	for i := 0; i < 10; i++ {
		l.ObserveFailure(snap, models.DirectionUp)
	}
	w := l.Weights()[string(models.ErrRSIOverbought)]
	if w != MaxWeight {
		t.Fatalf("expected weight clamped at %v, got %v", MaxWeight, w)
	}
	if got := l.Insights().CategoryCounts[string(models.ErrRSIOverbought)]; got != 10 {
		t.Fatalf("expected count 10, got %d", got)
	}
}

func TestAdjustmentFor(t *testing.T) {
	l := NewLearner()
	snap := quiet()
	if adj := l.AdjustmentFor(snap, models.DirectionUp); adj != 0 {
		t.Fatalf("expected zero adjustment without matches, got %v", adj)
	}

	// RSI overbought after one failure: -0.15.
	snap.RSI = 75
	l.ObserveFailure(snap, models.DirectionUp)
	if adj := l.AdjustmentFor(snap, models.DirectionUp); math.Abs(adj+0.15) > 1e-9 {
		t.Fatalf("expected -0.15, got %v", adj)
	}
	if adj := l.AdjustmentFor(snap, models.DirectionDown); adj != 0 {
		t.Fatalf("expected no adjustment for the other direction, got %v", adj)
	}

	// Several saturated categories still floor at -0.3.
	snap.EMA.GoldenCross = true
	snap.Bollinger.Position = 0.95
	for i := 0; i < 5; i++ {
		l.ObserveFailure(snap, models.DirectionUp)
	}
	if adj := l.AdjustmentFor(snap, models.DirectionUp); adj != AdjustmentFloor {
		t.Fatalf("expected floor %v, got %v", AdjustmentFloor, adj)
	}
}

func TestOptimize(t *testing.T) {
	l := NewLearner()
	snap := quiet()
	snap.Patterns.Hammer = true
	for i := 0; i < 6; i++ {
		l.ObserveFailure(snap, models.DirectionUp)
	}
	// 6 x 0.12 = 0.72, then optimize brings it to min(0.82, 0.5).
	got := l.Optimize()
	if !reflect.DeepEqual(got, []models.ErrorCategory{models.ErrPatternRecognitionFail}) {
		t.Fatalf("unexpected optimized categories %v", got)
	}
	if w := l.Weights()[string(models.ErrPatternRecognitionFail)]; w != MaxOptimizedWeight {
		t.Fatalf("expected %v after optimize, got %v", MaxOptimizedWeight, w)
	}
	in := l.Insights()
	if in.Optimizations != 1 || len(in.RecentImprovements) != 1 {
		t.Fatalf("unexpected insights %+v", in)
	}
	if in.MostCommonError != string(models.ErrPatternRecognitionFail) {
		t.Fatalf("unexpected most common error %q", in.MostCommonError)
	}
}

func TestOptimizeSkipsRareCategories(t *testing.T) {
	l := NewLearner()
	snap := quiet()
	snap.RSI = 75
	for i := 0; i < 5; i++ {
		l.ObserveFailure(snap, models.DirectionUp)
	}
	if got := l.Optimize(); len(got) != 0 {
		t.Fatalf("expected nothing optimized at the threshold, got %v", got)
	}
	if in := l.Insights(); len(in.RecentImprovements) != 0 || in.Optimizations != 1 {
		t.Fatalf("unexpected insights %+v", in)
	}
}

func TestRecentRingIsBounded(t *testing.T) {
	l := NewLearner(WithRecentCapacity(3))
	for i := 0; i < 10; i++ {
		l.ObserveFailure(quiet(), models.DirectionUp)
	}
	if len(l.recent) != 3 {
		t.Fatalf("expected 3 retained failures, got %d", len(l.recent))
	}
	if l.Insights().TotalFailures != 10 {
		t.Fatalf("expected total 10")
	}
}

func TestStateRoundTripKeepsAdjustments(t *testing.T) {
	l := NewLearner()
	snap := quiet()
	snap.RSI = 75
	l.ObserveFailure(snap, models.DirectionUp)

	data, err := l.MarshalState()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := NewLearner()
	if err := restored.RestoreState(data); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if a, b := l.AdjustmentFor(snap, models.DirectionUp), restored.AdjustmentFor(snap, models.DirectionUp); a != b {
		t.Fatalf("expected equal adjustments, got %v and %v", a, b)
	}
}
