package repository

import (
	"context"

	"SignalLoop/internal/domain/models"
)

// BarSupplier returns the most recent bars in ascending time order.
// Failures wrap models.ErrUpstreamUnavailable.
type BarSupplier interface {
	RecentBars(ctx context.Context, count int) ([]models.Bar, error)
}

// PriceOracle returns the current instrument price (> 0).
// Failures wrap models.ErrUpstreamUnavailable.
type PriceOracle interface {
	CurrentPrice(ctx context.Context) (float64, error)
}

// MarketStream is a live feed that also serves as a price oracle and bar supplier.
type MarketStream interface {
	BarSupplier
	PriceOracle
	Start(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// SimulationLedger persists simulations. CloseIfOpen is an atomic compare-and-set on the
// closed flag and returns models.ErrAlreadyClosed when the simulation was already closed.
type SimulationLedger interface {
	Append(ctx context.Context, sim models.Simulation) error
	Get(ctx context.Context, id string) (models.Simulation, error)
	ListOpen(ctx context.Context) ([]models.Simulation, error)
	ListClosed(ctx context.Context, limit int) ([]models.Simulation, error)
	CloseIfOpen(ctx context.Context, id string, outcome models.Outcome) (models.Simulation, error)
	MarkFeedback(ctx context.Context, id string, feedback bool) error
	Stats(ctx context.Context) (models.LedgerStats, error)
}

// StateStore is a set of overwritable named slots for trained state.
type StateStore interface {
	Save(ctx context.Context, slot string, data []byte) error
	Load(ctx context.Context, slot string) ([]byte, error)
}

// OutcomeArchive receives closed simulations for offline analysis.
type OutcomeArchive interface {
	Archive(ctx context.Context, sim models.Simulation) error
}

// EventPublisher fans engine events out to other systems.
type EventPublisher interface {
	PublishPrediction(ctx context.Context, res models.PredictionResult) error
	PublishSimulation(ctx context.Context, ev models.SimulationEvent) error
	Close() error
}

// Metrics is the engine metrics sink.
type Metrics interface {
	RecordPrediction(method string, direction string, confidence float64)
	RecordSimulationOpened()
	RecordSimulationClosed(success bool, resultPct float64)
	RecordRetrain(result string, samples int)
	RecordCorrectionWeight(category string, weight float64)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
