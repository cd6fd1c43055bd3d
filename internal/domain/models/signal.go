package models

const (
	MinStrength = -100
	MaxStrength = 100

	MinConfidence = 0.5
	MaxConfidence = 0.95
)

// Signal is the heuristic score of an indicator snapshot.
type Signal struct {
	Strength   int      `json:"strength"`
	Confidence float64  `json:"confidence"`
	Bullish    []string `json:"bullish"`
	Bearish    []string `json:"bearish"`
}

// ClampConfidence bounds c to [MinConfidence, MaxConfidence].
func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}
