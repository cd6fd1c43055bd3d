package usecase

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRetrainJobHandle(t *testing.T) {
	f := newEngineFixture(t, nil)
	job := NewRetrainJob(f.engine, nil)
	ctx := context.Background()

	if err := job.Handle(ctx, json.RawMessage(`{"symbol":"BTCUSDT","reason":"api"}`)); err != nil {
		t.Fatalf("insufficient data must not fail the job: %v", err)
	}
	if f.engine.predictor.Trained() {
		t.Fatalf("expected no training without labels")
	}

	seedLabels(t, f.ledger, 12)
	if err := job.Handle(ctx, nil); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !f.engine.predictor.Trained() {
		t.Fatalf("expected trained predictor")
	}
	if err := job.Handle(ctx, json.RawMessage(`{"symbol":"ETHUSDT"}`)); err == nil {
		t.Fatalf("expected symbol mismatch error")
	}
}
