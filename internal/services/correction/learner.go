package correction

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"SignalLoop/internal/domain/models"
	domsvc "SignalLoop/internal/domain/service"
	applogger "SignalLoop/pkg/logger"
)

const (
	// MaxWeight bounds organic per-failure growth.
	MaxWeight = 0.8
	// MaxOptimizedWeight bounds the optimize path.
	MaxOptimizedWeight = 0.5
	// AdjustmentFloor is the largest total confidence penalty.
	AdjustmentFloor = -0.3

	DefaultRecentCapacity  = 200
	DefaultOptimizeWindow  = 50
	DefaultOptimizeTopN    = 5
	DefaultOptimizeMinFreq = 5
	DefaultOptimizeStep    = 0.1
	DefaultMACDNoiseFloor  = 0.01
	DefaultVolumeAnomalyZ  = 3.0
	DefaultLevelBreakDist  = 0.01
	maxImprovementHistory  = 20
)

// Increments applied by ObserveFailure, per category.
var Increments = map[models.ErrorCategory]float64{
	models.ErrRSIOverbought:          0.15,
	models.ErrRSIOversold:            0.15,
	models.ErrMACDFalseSignal:        0.20,
	models.ErrVolumeAnomaly:          0.10,
	models.ErrEMACrossoverFail:       0.25,
	models.ErrBollingerBreakoutFail:  0.18,
	models.ErrPatternRecognitionFail: 0.12,
	models.ErrSupportResistanceBreak: 0.22,
}

type check struct {
	category models.ErrorCategory
	match    func(c *Config, s models.IndicatorSnapshot, d models.Direction) bool
}

var checks = []check{
	{models.ErrRSIOverbought, func(_ *Config, s models.IndicatorSnapshot, d models.Direction) bool {
		return s.RSI > 70 && d == models.DirectionUp
	}},
	{models.ErrRSIOversold, func(_ *Config, s models.IndicatorSnapshot, d models.Direction) bool {
		return s.RSI < 30 && d == models.DirectionDown
	}},
	{models.ErrMACDFalseSignal, func(c *Config, s models.IndicatorSnapshot, _ models.Direction) bool {
		return math.Abs(s.MACD.Histogram) < c.MACDNoiseFloor
	}},
	{models.ErrVolumeAnomaly, func(c *Config, s models.IndicatorSnapshot, _ models.Direction) bool {
		return math.Abs(s.Volume.Strength) > c.VolumeAnomalyZ
	}},
	{models.ErrEMACrossoverFail, func(_ *Config, s models.IndicatorSnapshot, d models.Direction) bool {
		return (s.EMA.GoldenCross && d == models.DirectionUp) || (s.EMA.DeathCross && d == models.DirectionDown)
	}},
	{models.ErrBollingerBreakoutFail, func(_ *Config, s models.IndicatorSnapshot, d models.Direction) bool {
		return (s.Bollinger.Position > 0.9 && d == models.DirectionUp) || (s.Bollinger.Position < 0.1 && d == models.DirectionDown)
	}},
	{models.ErrPatternRecognitionFail, func(_ *Config, s models.IndicatorSnapshot, d models.Direction) bool {
		return (s.Patterns.Hammer || s.Patterns.Engulfing) && d == models.DirectionUp
	}},
	{models.ErrSupportResistanceBreak, func(c *Config, s models.IndicatorSnapshot, d models.Direction) bool {
		sr := s.SupportResistance
		return (sr.ResistanceDistance < c.LevelBreakDistance && d == models.DirectionUp) ||
			(sr.SupportDistance < c.LevelBreakDistance && d == models.DirectionDown)
	}},
}

// Config holds learner thresholds.
type Config struct {
	RecentCapacity  int
	OptimizeWindow  int
	OptimizeTopN    int
	OptimizeMinFreq int
	OptimizeStep    float64
	MACDNoiseFloor  float64
	VolumeAnomalyZ  float64
	// LevelBreakDistance is the fractional distance to a level treated as "at" the level.
	LevelBreakDistance float64
}

// Option configures Learner.
type Option func(*Config)

func WithRecentCapacity(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.RecentCapacity = n
		}
	}
}

// WithOptimize sets the trailing window, the number of categories promoted per cycle,
// the minimum count for promotion and the step.
func WithOptimize(window, topN, minFreq int, step float64) Option {
	return func(c *Config) {
		if window > 0 {
			c.OptimizeWindow = window
		}
		if topN > 0 {
			c.OptimizeTopN = topN
		}
		if minFreq >= 0 {
			c.OptimizeMinFreq = minFreq
		}
		if step > 0 {
			c.OptimizeStep = step
		}
	}
}

func WithThresholds(macdNoise, volumeZ, levelDist float64) Option {
	return func(c *Config) {
		if macdNoise > 0 {
			c.MACDNoiseFloor = macdNoise
		}
		if volumeZ > 0 {
			c.VolumeAnomalyZ = volumeZ
		}
		if levelDist > 0 {
			c.LevelBreakDistance = levelDist
		}
	}
}

type failure struct {
	At         time.Time              `json:"at"`
	Direction  models.Direction       `json:"direction"`
	Categories []models.ErrorCategory `json:"categories"`
}

// Learner keeps bounded per-category correction weights learned from failed simulations.
type Learner struct {
	cfg *Config
	l   *applogger.Logger
	now func() time.Time

	mu            sync.Mutex
	weights       map[models.ErrorCategory]float64
	counts        map[models.ErrorCategory]int64
	recent        []failure
	total         int64
	optimizations int64
	improvements  []models.Improvement
}

func NewLearner(opts ...Option) *Learner {
	cfg := &Config{
		RecentCapacity:     DefaultRecentCapacity,
		OptimizeWindow:     DefaultOptimizeWindow,
		OptimizeTopN:       DefaultOptimizeTopN,
		OptimizeMinFreq:    DefaultOptimizeMinFreq,
		OptimizeStep:       DefaultOptimizeStep,
		MACDNoiseFloor:     DefaultMACDNoiseFloor,
		VolumeAnomalyZ:     DefaultVolumeAnomalyZ,
		LevelBreakDistance: DefaultLevelBreakDist,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Learner{
		cfg:     cfg,
		now:     time.Now,
		weights: make(map[models.ErrorCategory]float64),
		counts:  make(map[models.ErrorCategory]int64),
	}
}

// SetLogger injects a structured logger.
func (l *Learner) SetLogger(lg *applogger.Logger) { l.l = lg }

// Match returns the categories whose pattern matches snap and dir, in check order.
func (l *Learner) Match(snap models.IndicatorSnapshot, dir models.Direction) []models.ErrorCategory {
	out := make([]models.ErrorCategory, 0, 2)
	for _, c := range checks {
		if c.match(l.cfg, snap, dir) {
			out = append(out, c.category)
		}
	}
	return out
}

// ObserveFailure records one failed prediction and grows the weight of every matched
// category by its increment, clamped at MaxWeight.
func (l *Learner) ObserveFailure(snap models.IndicatorSnapshot, dir models.Direction) []models.ErrorCategory {
	matched := l.Match(snap, dir)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	for _, c := range matched {
		l.weights[c] = math.Min(l.weights[c]+Increments[c], MaxWeight)
		l.counts[c]++
	}
	l.recent = append(l.recent, failure{At: l.now(), Direction: dir, Categories: matched})
	if over := len(l.recent) - l.cfg.RecentCapacity; over > 0 {
		l.recent = append([]failure(nil), l.recent[over:]...)
	}
	if l.l != nil && len(matched) > 0 {
		l.l.Debug("correction failure observed",
			applogger.String("direction", string(dir)),
			applogger.Strings("categories", categoryStrings(matched)),
		)
	}
	return matched
}

// AdjustmentFor is the negated sum of matched weights, floored at AdjustmentFloor.
func (l *Learner) AdjustmentFor(snap models.IndicatorSnapshot, dir models.Direction) float64 {
	matched := l.Match(snap, dir)
	if len(matched) == 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	adj := 0.0
	for _, c := range matched {
		adj -= l.weights[c]
	}
	return math.Max(adj, AdjustmentFloor)
}

// Optimize ranks categories over the trailing failure window and moves the most frequent
// ones (count above the threshold) to min(w+step, MaxOptimizedWeight). Returns the
// categories it touched.
func (l *Learner) Optimize() []models.ErrorCategory {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := len(l.recent) - l.cfg.OptimizeWindow
	if start < 0 {
		start = 0
	}
	freq := make(map[models.ErrorCategory]int)
	for _, f := range l.recent[start:] {
		for _, c := range f.Categories {
			freq[c]++
		}
	}

	ranked := make([]models.ErrorCategory, 0, len(freq))
	for c, n := range freq {
		if n > l.cfg.OptimizeMinFreq {
			ranked = append(ranked, c)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if freq[ranked[i]] != freq[ranked[j]] {
			return freq[ranked[i]] > freq[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > l.cfg.OptimizeTopN {
		ranked = ranked[:l.cfg.OptimizeTopN]
	}

	l.optimizations++
	if len(ranked) == 0 {
		return nil
	}
	for _, c := range ranked {
		l.weights[c] = math.Min(l.weights[c]+l.cfg.OptimizeStep, MaxOptimizedWeight)
	}
	l.improvements = append(l.improvements, models.Improvement{At: l.now(), Categories: categoryStrings(ranked)})
	if over := len(l.improvements) - maxImprovementHistory; over > 0 {
		l.improvements = append([]models.Improvement(nil), l.improvements[over:]...)
	}
	if l.l != nil {
		l.l.Info("correction weights optimized", applogger.Strings("categories", categoryStrings(ranked)))
	}
	return ranked
}

// Weights returns a copy of the weight table.
func (l *Learner) Weights() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64, len(l.weights))
	for c, w := range l.weights {
		out[string(c)] = w
	}
	return out
}

// Insights summarizes observed failures.
func (l *Learner) Insights() models.ErrorInsights {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := models.ErrorInsights{
		TotalFailures:      l.total,
		CategoryCounts:     make(map[string]int64, len(l.counts)),
		RecentImprovements: append([]models.Improvement(nil), l.improvements...),
		Optimizations:      l.optimizations,
	}
	var best int64
	for c, n := range l.counts {
		out.CategoryCounts[string(c)] = n
		if n > best || (n == best && string(c) < out.MostCommonError) {
			best = n
			out.MostCommonError = string(c)
		}
	}
	return out
}

type state struct {
	Weights       map[models.ErrorCategory]float64 `json:"weights"`
	Counts        map[models.ErrorCategory]int64   `json:"counts"`
	Recent        []failure                        `json:"recent"`
	Total         int64                            `json:"total"`
	Optimizations int64                            `json:"optimizations"`
	Improvements  []models.Improvement             `json:"improvements"`
}

// MarshalState serializes the learner for the state store.
func (l *Learner) MarshalState() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return json.Marshal(state{
		Weights:       l.weights,
		Counts:        l.counts,
		Recent:        l.recent,
		Total:         l.total,
		Optimizations: l.optimizations,
		Improvements:  l.improvements,
	})
}

// RestoreState replaces the learner state. Weights are re-clamped on load.
func (l *Learner) RestoreState(data []byte) error {
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("restore correction state: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.weights = make(map[models.ErrorCategory]float64, len(st.Weights))
	for c, w := range st.Weights {
		l.weights[c] = math.Max(0, math.Min(w, MaxWeight))
	}
	l.counts = st.Counts
	if l.counts == nil {
		l.counts = make(map[models.ErrorCategory]int64)
	}
	l.recent = st.Recent
	l.total = st.Total
	l.optimizations = st.Optimizations
	l.improvements = st.Improvements
	return nil
}

func categoryStrings(cs []models.ErrorCategory) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

var (
	_ domsvc.ConfidenceAdjuster = (*Learner)(nil)
	_ domsvc.FailureObserver    = (*Learner)(nil)
)
