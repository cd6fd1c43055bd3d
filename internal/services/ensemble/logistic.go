package ensemble

import (
	"context"
	"fmt"
)

// Logistic is L2-regularized logistic regression fit by batch gradient descent.
type Logistic struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`

	Epochs       int     `json:"-"`
	LearningRate float64 `json:"-"`
	L2           float64 `json:"-"`
}

func NewLogistic() *Logistic {
	return &Logistic{Epochs: 300, LearningRate: 0.1, L2: 0.01}
}

func (m *Logistic) Name() string { return NameLogistic }

func (m *Logistic) Fit(ctx context.Context, X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("logistic: empty dataset")
	}
	d := len(X[0])
	w := make([]float64, d)
	b := 0.0
	n := float64(len(X))
	grad := make([]float64, d)

	for epoch := 0; epoch < m.Epochs; epoch++ {
		if epoch%50 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for j := range grad {
			grad[j] = 0
		}
		gb := 0.0
		for i, row := range X {
			diff := sigmoid(dot(w, row)+b) - float64(y[i])
			for j, v := range row {
				grad[j] += diff * v
			}
			gb += diff
		}
		for j := range w {
			w[j] -= m.LearningRate * (grad[j]/n + m.L2*w[j])
		}
		b -= m.LearningRate * gb / n
	}
	m.Weights, m.Bias = w, b
	return nil
}

func (m *Logistic) ProbUp(x []float64) float64 {
	if len(m.Weights) == 0 {
		return 0.5
	}
	return clampProb(sigmoid(dot(m.Weights, x) + m.Bias))
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		if i < len(b) {
			s += a[i] * b[i]
		}
	}
	return s
}
