package ensemble

import (
	"context"
	"math"
)

// Classifier is a binary model returning P(label = 1).
type Classifier interface {
	Name() string
	Fit(ctx context.Context, X [][]float64, y []int) error
	ProbUp(x []float64) float64
}

const (
	NameLogistic   = "logistic_regression"
	NameNaiveBayes = "naive_bayes"
	NameForest     = "stump_forest"
)

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func clampProb(p float64) float64 {
	if math.IsNaN(p) {
		return 0.5
	}
	return math.Min(math.Max(p, 0), 1)
}
