package models

import "time"

// Direction is the forecast side.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Valid reports whether d is UP or DOWN.
func (d Direction) Valid() bool { return d == DirectionUp || d == DirectionDown }

// Prediction methods recorded in ModelDetail.
const (
	MethodEnsemble          = "ensemble"
	MethodHeuristicFallback = "heuristic_fallback"
)

const MaxReasoning = 5

// Probability pair; Up + Down is 1.
type Probability struct {
	Up   float64 `json:"up"`
	Down float64 `json:"down"`
}

// ModelVote is one classifier's contribution to an ensemble prediction.
type ModelVote struct {
	Name   string  `json:"name"`
	Up     float64 `json:"up"`
	Weight float64 `json:"weight"`
}

// ModelDetail is the diagnostic record attached to every prediction.
type ModelDetail struct {
	Method         string      `json:"method"`
	Votes          []ModelVote `json:"votes,omitempty"`
	Consensus      bool        `json:"consensus"`
	BaseConfidence float64     `json:"base_confidence"`
	Adjustment     float64     `json:"adjustment"`
	SignalStrength int         `json:"signal_strength"`
	TrainedSamples int         `json:"trained_samples,omitempty"`
}

// Prediction is immutable once emitted.
type Prediction struct {
	Direction   Direction   `json:"direction"`
	Probability Probability `json:"probability"`
	Confidence  float64     `json:"confidence"`
	Reasoning   []string    `json:"reasoning"`
	ModelDetail ModelDetail `json:"model_detail"`
	Timestamp   time.Time   `json:"timestamp"`
}

// PredictionResult is what a single predict pass returns to callers.
type PredictionResult struct {
	Symbol     string            `json:"symbol"`
	Price      float64           `json:"price"`
	Prediction Prediction        `json:"prediction"`
	Signal     Signal            `json:"signal"`
	Snapshot   IndicatorSnapshot `json:"technical_analysis"`
}

// LabeledSample is one training row derived from a closed simulation.
// Label is 1 when price moved up between open and close.
type LabeledSample struct {
	ID       string    `json:"id"`
	Features []float64 `json:"features"`
	Label    int       `json:"label"`
	At       time.Time `json:"at"`
}
