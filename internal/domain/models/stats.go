package models

import "time"

// TargetAccuracy is the accuracy the progress metric is measured against.
const TargetAccuracy = 0.9

// MLStats describes the ensemble predictor.
type MLStats struct {
	Trained            bool               `json:"trained"`
	TotalPredictions   int64              `json:"total_predictions"`
	LabeledPredictions int64              `json:"labeled_predictions"`
	CorrectPredictions int64              `json:"correct_predictions"`
	RecentAccuracy     float64            `json:"recent_accuracy"`
	ModelUpdates       int64              `json:"model_updates"`
	TrainedSamples     int                `json:"trained_samples"`
	PendingLabels      int                `json:"pending_labels"`
	ModelAccuracy      map[string]float64 `json:"model_accuracy,omitempty"`
	LastTrainedAt      *time.Time         `json:"last_trained_at,omitempty"`
}

// ErrorInsights summarizes the correction learner.
type ErrorInsights struct {
	TotalFailures      int64            `json:"total_failures"`
	MostCommonError    string           `json:"most_common_error,omitempty"`
	CategoryCounts     map[string]int64 `json:"category_counts"`
	RecentImprovements []Improvement    `json:"recent_improvements,omitempty"`
	Optimizations      int64            `json:"optimizations_run"`
}

// Improvement records one optimize cycle.
type Improvement struct {
	At         time.Time `json:"at"`
	Categories []string  `json:"categories"`
}

// EngineStats is the reporting snapshot of the whole engine.
type EngineStats struct {
	Symbol            string             `json:"symbol"`
	Ledger            LedgerStats        `json:"ledger"`
	ML                MLStats            `json:"ml"`
	CorrectionWeights map[string]float64 `json:"correction_weights"`
	Insights          ErrorInsights      `json:"error_insights"`
	ProgressToTarget  float64            `json:"progress_to_90"`
	Realtime          bool               `json:"realtime_connected"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// Progress returns accuracy as a percentage of TargetAccuracy, capped at 100.
func Progress(accuracy float64) float64 {
	p := accuracy / TargetAccuracy * 100
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// RetrainResult reports one forced or scheduled retrain.
type RetrainResult struct {
	Trained       bool               `json:"trained"`
	Samples       int                `json:"samples"`
	ModelAccuracy map[string]float64 `json:"model_accuracy,omitempty"`
	Duration      time.Duration      `json:"duration"`
	Reason        string             `json:"reason,omitempty"`
}
