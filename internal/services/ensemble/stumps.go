package ensemble

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Stump is a one-split decision tree with Laplace-smoothed leaf probabilities.
type Stump struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	LeftUp    float64 `json:"left_up"`
	RightUp   float64 `json:"right_up"`
}

func (s Stump) ProbUp(x []float64) float64 {
	if s.Feature >= len(x) || x[s.Feature] <= s.Threshold {
		return s.LeftUp
	}
	return s.RightUp
}

// Forest bags decision stumps over bootstrap samples and random feature subsets.
// A fixed seed makes fitting reproducible.
type Forest struct {
	Stumps []Stump `json:"stumps"`

	Size int   `json:"-"`
	Seed int64 `json:"-"`
}

const maxThresholds = 16

func NewForest(size int, seed int64) *Forest {
	if size <= 0 {
		size = 25
	}
	return &Forest{Size: size, Seed: seed}
}

func (f *Forest) Name() string { return NameForest }

func (f *Forest) Fit(ctx context.Context, X [][]float64, y []int) error {
	if len(X) == 0 {
		return fmt.Errorf("forest: empty dataset")
	}
	rng := rand.New(rand.NewSource(f.Seed))
	d := len(X[0])
	k := int(math.Max(1, math.Round(math.Sqrt(float64(d)))))

	stumps := make([]Stump, 0, f.Size)
	idx := make([]int, len(X))
	for t := 0; t < f.Size; t++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range idx {
			idx[i] = rng.Intn(len(X))
		}
		feats := rng.Perm(d)[:k]
		stumps = append(stumps, fitStump(X, y, idx, feats))
	}
	f.Stumps = stumps
	return nil
}

func (f *Forest) ProbUp(x []float64) float64 {
	if len(f.Stumps) == 0 {
		return 0.5
	}
	s := 0.0
	for _, st := range f.Stumps {
		s += st.ProbUp(x)
	}
	return clampProb(s / float64(len(f.Stumps)))
}

// fitStump picks the feature/threshold pair with the lowest weighted Gini impurity.
func fitStump(X [][]float64, y []int, idx []int, feats []int) Stump {
	best := Stump{Feature: feats[0], Threshold: math.Inf(1)}
	bestImp := math.Inf(1)
	ups := 0
	for _, i := range idx {
		ups += y[i]
	}
	leafAll := laplace(ups, len(idx))
	best.LeftUp, best.RightUp = leafAll, leafAll

	vals := make([]float64, len(idx))
	for _, j := range feats {
		for n, i := range idx {
			vals[n] = X[i][j]
		}
		for _, thr := range candidateThresholds(vals) {
			var ln, lu, rn, ru int
			for _, i := range idx {
				if X[i][j] <= thr {
					ln++
					lu += y[i]
				} else {
					rn++
					ru += y[i]
				}
			}
			if ln == 0 || rn == 0 {
				continue
			}
			imp := float64(ln)*gini(lu, ln) + float64(rn)*gini(ru, rn)
			if imp < bestImp {
				bestImp = imp
				best = Stump{Feature: j, Threshold: thr, LeftUp: laplace(lu, ln), RightUp: laplace(ru, rn)}
			}
		}
	}
	return best
}

func candidateThresholds(vals []float64) []float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	uniq := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != uniq[len(uniq)-1] {
			uniq = append(uniq, v)
		}
	}
	if len(uniq) < 2 {
		return nil
	}
	step := 1
	if len(uniq)-1 > maxThresholds {
		step = (len(uniq) - 1) / maxThresholds
	}
	out := make([]float64, 0, maxThresholds+1)
	for i := 0; i+1 < len(uniq); i += step {
		out = append(out, (uniq[i]+uniq[i+1])/2)
	}
	return out
}

func gini(ups, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(ups) / float64(n)
	return 2 * p * (1 - p)
}

func laplace(ups, n int) float64 {
	return (float64(ups) + 1) / (float64(n) + 2)
}
