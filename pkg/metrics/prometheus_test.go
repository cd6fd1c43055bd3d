package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())
	r.RecordPrediction("ensemble", "UP", 0.7)
	r.RecordPrediction("ensemble", "UP", 0.8)
	r.RecordSimulationClosed(true, 0.5)
	r.RecordCorrectionWeight("rsi_overbought_failure", 0.3)
	r.RecordError("predict")

	if got := testutil.ToFloat64(r.predictions.WithLabelValues("ensemble", "UP")); got != 2 {
		t.Fatalf("expected 2 predictions, got %v", got)
	}
	if got := testutil.ToFloat64(r.confidence); got != 0.8 {
		t.Fatalf("expected last confidence 0.8, got %v", got)
	}
	if got := testutil.ToFloat64(r.simsClosed.WithLabelValues("true")); got != 1 {
		t.Fatalf("expected one winning close, got %v", got)
	}
	if got := testutil.ToFloat64(r.correctionWeight.WithLabelValues("rsi_overbought_failure")); got != 0.3 {
		t.Fatalf("unexpected weight %v", got)
	}
}
