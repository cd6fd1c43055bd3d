package service

import (
	"context"

	"SignalLoop/internal/domain/models"
)

// ConfidenceAdjuster returns an additive confidence adjustment in [-0.3, 0].
type ConfidenceAdjuster interface {
	AdjustmentFor(snap models.IndicatorSnapshot, dir models.Direction) float64
}

// FailureObserver learns from failed simulations.
type FailureObserver interface {
	ObserveFailure(snap models.IndicatorSnapshot, dir models.Direction) []models.ErrorCategory
}

// LabelSink is notified of every newly labeled simulation.
type LabelSink interface {
	NotifyLabel(sim models.Simulation)
}

// Retrainer is the command side of the ensemble used by jobs and schedulers.
type Retrainer interface {
	RetrainIfDue(ctx context.Context) (models.RetrainResult, error)
	ForceRetrain(ctx context.Context) (models.RetrainResult, error)
}
