package ensemble

import (
	"context"
	"fmt"
	"math"
)

// NaiveBayes is a two-class Gaussian naive Bayes model.
type NaiveBayes struct {
	Prior [2]float64   `json:"prior"`
	Mean  [2][]float64 `json:"mean"`
	Var   [2][]float64 `json:"var"`
}

const varSmoothing = 1e-6

func NewNaiveBayes() *NaiveBayes { return &NaiveBayes{} }

func (m *NaiveBayes) Name() string { return NameNaiveBayes }

func (m *NaiveBayes) Fit(ctx context.Context, X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("naive bayes: empty dataset")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d := len(X[0])
	var counts [2]float64
	var mean, vr [2][]float64
	for c := 0; c < 2; c++ {
		mean[c] = make([]float64, d)
		vr[c] = make([]float64, d)
	}
	for i, row := range X {
		c := y[i]
		counts[c]++
		for j, v := range row {
			mean[c][j] += v
		}
	}
	if counts[0] == 0 || counts[1] == 0 {
		return fmt.Errorf("naive bayes: single class")
	}
	for c := 0; c < 2; c++ {
		for j := range mean[c] {
			mean[c][j] /= counts[c]
		}
	}
	for i, row := range X {
		c := y[i]
		for j, v := range row {
			dv := v - mean[c][j]
			vr[c][j] += dv * dv
		}
	}
	for c := 0; c < 2; c++ {
		for j := range vr[c] {
			vr[c][j] = vr[c][j]/counts[c] + varSmoothing
		}
	}
	total := counts[0] + counts[1]
	m.Prior = [2]float64{counts[0] / total, counts[1] / total}
	m.Mean, m.Var = mean, vr
	return nil
}

func (m *NaiveBayes) ProbUp(x []float64) float64 {
	if m.Mean[0] == nil {
		return 0.5
	}
	var ll [2]float64
	for c := 0; c < 2; c++ {
		ll[c] = math.Log(m.Prior[c])
		for j, v := range x {
			if j >= len(m.Mean[c]) {
				break
			}
			dv := v - m.Mean[c][j]
			ll[c] -= 0.5*math.Log(2*math.Pi*m.Var[c][j]) + dv*dv/(2*m.Var[c][j])
		}
	}
	// softmax over two classes
	return clampProb(sigmoid(ll[1] - ll[0]))
}
