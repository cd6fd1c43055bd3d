package ensemble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"SignalLoop/internal/domain/models"
	domsvc "SignalLoop/internal/domain/service"
	"SignalLoop/internal/services/features"
	applogger "SignalLoop/pkg/logger"
)

const (
	DefaultMinSamples      = 10
	DefaultRetrainMin      = 50
	DefaultRetrainAfter    = 50
	DefaultHoldoutEvery    = 5
	DefaultForestSize      = 25
	DefaultSeed            = 42
	DefaultMaxSamples      = 5000
	DefaultAccuracyWindow  = 100
	consensusMargin        = 0.2
	consensusBoost         = 1.1
	reasonNotDue           = "not due"
	reasonInsufficientData = "insufficient labeled data"
)

// ClosedSimulations is the label source for retraining.
type ClosedSimulations interface {
	ListClosed(ctx context.Context, limit int) ([]models.Simulation, error)
}

// Input is one prediction request.
type Input struct {
	Features []float64
	Snapshot models.IndicatorSnapshot
	Signal   models.Signal
}

// TrainedState is the complete fitted ensemble. It is replaced as a whole.
type TrainedState struct {
	Scaler     Scaler             `json:"scaler"`
	Logistic   *Logistic          `json:"logistic"`
	NaiveBayes *NaiveBayes        `json:"naive_bayes"`
	Forest     *Forest            `json:"forest"`
	Weights    map[string]float64 `json:"weights"`
	Accuracy   map[string]float64 `json:"accuracy"`
	Samples    int                `json:"samples"`
	TrainedAt  time.Time          `json:"trained_at"`

	// LabelsThrough is the newest close time among the labels used for the fit.
	LabelsThrough time.Time `json:"labels_through,omitempty"`
}

func (s *TrainedState) members() []Classifier {
	return []Classifier{s.Logistic, s.NaiveBayes, s.Forest}
}

type Config struct {
	MinSamples     int
	RetrainMin     int
	RetrainAfter   int
	HoldoutEvery   int
	ForestSize     int
	Seed           int64
	MaxSamples     int
	AccuracyWindow int
}

type Option func(*Predictor)

func WithAdjuster(a domsvc.ConfidenceAdjuster) Option {
	return func(p *Predictor) { p.adjuster = a }
}

func WithLabels(src ClosedSimulations) Option {
	return func(p *Predictor) { p.labels = src }
}

func WithLogger(l *applogger.Logger) Option {
	return func(p *Predictor) {
		if l != nil {
			p.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Predictor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithRetrainPolicy sets the minimum samples for a first fit and the
// label thresholds for refits.
func WithRetrainPolicy(minSamples, retrainMin, retrainAfter int) Option {
	return func(p *Predictor) {
		if minSamples > 0 {
			p.cfg.MinSamples = minSamples
		}
		if retrainMin > 0 {
			p.cfg.RetrainMin = retrainMin
		}
		if retrainAfter > 0 {
			p.cfg.RetrainAfter = retrainAfter
		}
	}
}

func WithForest(size int, seed int64) Option {
	return func(p *Predictor) {
		if size > 0 {
			p.cfg.ForestSize = size
		}
		p.cfg.Seed = seed
	}
}

func WithMaxSamples(n int) Option {
	return func(p *Predictor) {
		if n > 0 {
			p.cfg.MaxSamples = n
		}
	}
}

// Predictor combines the classifiers into a calibrated direction forecast.
type Predictor struct {
	cfg      Config
	adjuster domsvc.ConfidenceAdjuster
	labels   ClosedSimulations
	log      *applogger.Logger
	now      func() time.Time

	trainMu sync.Mutex

	mu               sync.RWMutex
	state            *TrainedState
	totalPredictions int64
	labeled          int64
	correct          int64
	recent           []bool
	modelUpdates     int64
	pendingLabels    int
}

func NewPredictor(opts ...Option) *Predictor {
	p := &Predictor{
		cfg: Config{
			MinSamples:     DefaultMinSamples,
			RetrainMin:     DefaultRetrainMin,
			RetrainAfter:   DefaultRetrainAfter,
			HoldoutEvery:   DefaultHoldoutEvery,
			ForestSize:     DefaultForestSize,
			Seed:           DefaultSeed,
			MaxSamples:     DefaultMaxSamples,
			AccuracyWindow: DefaultAccuracyWindow,
		},
		log: applogger.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Trained reports whether a fitted state is installed.
func (p *Predictor) Trained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state != nil
}

// Predict runs the fitted ensemble. It fails with models.ErrNotTrained before the first fit.
func (p *Predictor) Predict(in Input) (models.Prediction, error) {
	p.mu.Lock()
	st := p.state
	if st != nil {
		p.totalPredictions++
	}
	p.mu.Unlock()
	if st == nil {
		return models.Prediction{}, models.ErrNotTrained
	}

	x := st.Scaler.Transform(in.Features)
	votes := make([]models.ModelVote, 0, 3)
	up := 0.0
	for _, m := range st.members() {
		pu := m.ProbUp(x)
		w := st.Weights[m.Name()]
		votes = append(votes, models.ModelVote{Name: m.Name(), Up: pu, Weight: w})
		up += w * pu
	}
	up = clampProb(up)
	prob := models.Probability{Up: up, Down: 1 - up}
	dir := direction(prob)

	agree := 0
	for _, v := range votes {
		if direction(models.Probability{Up: v.Up, Down: 1 - v.Up}) == dir {
			agree++
		}
	}
	base := math.Max(prob.Up, prob.Down)
	consensus := float64(agree)/float64(len(votes))-0.5 > consensusMargin
	if consensus {
		base = math.Min(base*consensusBoost, models.MaxConfidence)
	}
	adj := p.adjustment(in.Snapshot, dir)

	return models.Prediction{
		Direction:   dir,
		Probability: prob,
		Confidence:  models.ClampConfidence(base + adj),
		Reasoning:   reasoning(dir, in.Signal, consensus),
		ModelDetail: models.ModelDetail{
			Method:         models.MethodEnsemble,
			Votes:          votes,
			Consensus:      consensus,
			BaseConfidence: base,
			Adjustment:     adj,
			SignalStrength: in.Signal.Strength,
			TrainedSamples: st.Samples,
		},
		Timestamp: p.now().UTC(),
	}, nil
}

// PredictOrFallback never fails: without a fitted state it derives the forecast from the signal.
func (p *Predictor) PredictOrFallback(in Input) models.Prediction {
	pred, err := p.Predict(in)
	if err == nil {
		return pred
	}
	p.mu.Lock()
	p.totalPredictions++
	p.mu.Unlock()
	return p.fallback(in)
}

func (p *Predictor) fallback(in Input) models.Prediction {
	up := clampProb(float64(in.Signal.Strength+100) / 200)
	prob := models.Probability{Up: up, Down: 1 - up}
	dir := direction(prob)
	adj := p.adjustment(in.Snapshot, dir)
	return models.Prediction{
		Direction:   dir,
		Probability: prob,
		Confidence:  models.ClampConfidence(in.Signal.Confidence + adj),
		Reasoning:   reasoning(dir, in.Signal, false),
		ModelDetail: models.ModelDetail{
			Method:         models.MethodHeuristicFallback,
			BaseConfidence: in.Signal.Confidence,
			Adjustment:     adj,
			SignalStrength: in.Signal.Strength,
		},
		Timestamp: p.now().UTC(),
	}
}

func (p *Predictor) adjustment(snap models.IndicatorSnapshot, dir models.Direction) float64 {
	if p.adjuster == nil {
		return 0
	}
	return p.adjuster.AdjustmentFor(snap, dir)
}

// direction resolves ties to DOWN.
func direction(prob models.Probability) models.Direction {
	if prob.Up > prob.Down {
		return models.DirectionUp
	}
	return models.DirectionDown
}

func reasoning(dir models.Direction, sig models.Signal, consensus bool) []string {
	support, against := sig.Bullish, sig.Bearish
	if dir == models.DirectionDown {
		support, against = sig.Bearish, sig.Bullish
	}
	out := make([]string, 0, models.MaxReasoning)
	if consensus {
		out = append(out, "Models agree on "+string(dir))
	}
	for _, r := range support {
		if len(out) == models.MaxReasoning {
			return out
		}
		out = append(out, r)
	}
	for _, r := range against {
		if len(out) == models.MaxReasoning {
			return out
		}
		out = append(out, "Despite: "+r)
	}
	return out
}

// Train fits a new state from samples and installs it only when every model fit succeeds.
func (p *Predictor) Train(ctx context.Context, samples []models.LabeledSample) (*TrainedState, error) {
	p.trainMu.Lock()
	defer p.trainMu.Unlock()
	return p.train(ctx, samples, time.Time{})
}

func (p *Predictor) train(ctx context.Context, samples []models.LabeledSample, through time.Time) (*TrainedState, error) {
	if len(samples) < p.cfg.MinSamples {
		return nil, fmt.Errorf("train on %d samples, need %d: %w", len(samples), p.cfg.MinSamples, models.ErrInsufficientData)
	}

	var trainX, holdX [][]float64
	var trainY, holdY []int
	for i, s := range samples {
		if len(s.Features) != features.VectorSize {
			return nil, fmt.Errorf("sample %s has %d features: %w", s.ID, len(s.Features), models.ErrTrainingFailed)
		}
		if s.Label != 0 && s.Label != 1 {
			return nil, fmt.Errorf("sample %s has label %d: %w", s.ID, s.Label, models.ErrTrainingFailed)
		}
		if (i+1)%p.cfg.HoldoutEvery == 0 {
			holdX, holdY = append(holdX, s.Features), append(holdY, s.Label)
			continue
		}
		trainX, trainY = append(trainX, s.Features), append(trainY, s.Label)
	}
	if singleClass(trainY) {
		return nil, fmt.Errorf("training split has one class: %w", models.ErrTrainingFailed)
	}

	scaler := FitScaler(trainX)
	sx := scaler.TransformAll(trainX)
	hx := scaler.TransformAll(holdX)

	st := &TrainedState{
		Scaler:     scaler,
		Logistic:   NewLogistic(),
		NaiveBayes: NewNaiveBayes(),
		Forest:     NewForest(p.cfg.ForestSize, p.cfg.Seed),
		Weights:    make(map[string]float64, 3),
		Accuracy:   make(map[string]float64, 3),
		Samples:    len(samples),
		TrainedAt:  p.now().UTC(),

		LabelsThrough: through,
	}

	sumSq := 0.0
	for _, m := range st.members() {
		if err := m.Fit(ctx, sx, trainY); err != nil {
			return nil, fmt.Errorf("fit %s: %w: %w", m.Name(), err, models.ErrTrainingFailed)
		}
		correct := 0
		for i, x := range hx {
			pu := m.ProbUp(x)
			if math.IsNaN(pu) || math.IsInf(pu, 0) {
				return nil, fmt.Errorf("%s produced non-finite output: %w", m.Name(), models.ErrTrainingFailed)
			}
			if (pu > 0.5) == (holdY[i] == 1) {
				correct++
			}
		}
		acc := 0.0
		if len(hx) > 0 {
			acc = float64(correct) / float64(len(hx))
		}
		st.Accuracy[m.Name()] = acc
		sumSq += acc * acc
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("train cancelled: %w: %w", err, models.ErrTrainingFailed)
	}
	for _, m := range st.members() {
		if sumSq == 0 {
			st.Weights[m.Name()] = 1.0 / 3
			continue
		}
		a := st.Accuracy[m.Name()]
		st.Weights[m.Name()] = a * a / sumSq
	}

	p.mu.Lock()
	p.state = st
	p.modelUpdates++
	p.pendingLabels = 0
	p.mu.Unlock()

	p.log.Info("ensemble trained",
		applogger.Int("samples", len(samples)),
		applogger.Any("accuracy", st.Accuracy),
	)
	return st, nil
}

func singleClass(y []int) bool {
	if len(y) == 0 {
		return true
	}
	for _, v := range y[1:] {
		if v != y[0] {
			return false
		}
	}
	return true
}

// RetrainIfDue refits from the label source when enough new labels have arrived.
func (p *Predictor) RetrainIfDue(ctx context.Context) (models.RetrainResult, error) {
	return p.retrain(ctx, false)
}

// ForceRetrain refits from scratch regardless of the label policy.
func (p *Predictor) ForceRetrain(ctx context.Context) (models.RetrainResult, error) {
	return p.retrain(ctx, true)
}

func (p *Predictor) retrain(ctx context.Context, force bool) (models.RetrainResult, error) {
	p.trainMu.Lock()
	defer p.trainMu.Unlock()

	if p.labels == nil {
		return models.RetrainResult{Reason: reasonInsufficientData}, fmt.Errorf("retrain without label source: %w", models.ErrInsufficientData)
	}
	start := p.now()
	sims, err := p.labels.ListClosed(ctx, p.cfg.MaxSamples)
	if err != nil {
		return models.RetrainResult{}, fmt.Errorf("list labels: %w", err)
	}
	samples := Samples(sims)

	if !force && !p.due(sims, len(samples)) {
		return models.RetrainResult{Samples: len(samples), Reason: reasonNotDue}, nil
	}

	st, err := p.train(ctx, samples, newestClose(sims))
	if err != nil {
		reason := "training failed"
		if errors.Is(err, models.ErrInsufficientData) {
			reason = reasonInsufficientData
		}
		return models.RetrainResult{Samples: len(samples), Reason: reason}, err
	}
	return models.RetrainResult{
		Trained:       true,
		Samples:       st.Samples,
		ModelAccuracy: copyMap(st.Accuracy),
		Duration:      p.now().Sub(start),
	}, nil
}

// due reports whether enough labels arrived since the last fit. The label
// window is capped at MaxSamples, so freshness is counted against the close
// watermark of the installed state and the labels notified since, never
// against the window size.
func (p *Predictor) due(sims []models.Simulation, labels int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == nil {
		return labels >= p.cfg.MinSamples
	}
	if labels < p.cfg.RetrainMin {
		return false
	}
	fresh := labels - p.state.Samples
	if !p.state.LabelsThrough.IsZero() {
		fresh = 0
		for _, s := range sims {
			if s.Closed && s.ClosedAt != nil && s.ClosedAt.After(p.state.LabelsThrough) {
				fresh++
			}
		}
	}
	fresh = max(fresh, p.pendingLabels)
	return fresh >= p.cfg.RetrainAfter
}

func newestClose(sims []models.Simulation) time.Time {
	var newest time.Time
	for _, s := range sims {
		if s.Closed && s.ClosedAt != nil && s.ClosedAt.After(newest) {
			newest = *s.ClosedAt
		}
	}
	return newest.UTC()
}

// Samples converts closed simulations into labeled rows ordered by open time then ID.
func Samples(sims []models.Simulation) []models.LabeledSample {
	closed := make([]models.Simulation, 0, len(sims))
	for _, s := range sims {
		if s.Closed {
			closed = append(closed, s)
		}
	}
	sort.Slice(closed, func(i, j int) bool {
		if !closed[i].OpenedAt.Equal(closed[j].OpenedAt) {
			return closed[i].OpenedAt.Before(closed[j].OpenedAt)
		}
		return closed[i].ID < closed[j].ID
	})
	out := make([]models.LabeledSample, len(closed))
	for i, s := range closed {
		label := 0
		if s.MovedUp() {
			label = 1
		}
		out[i] = models.LabeledSample{
			ID:       s.ID,
			Features: features.Vectorize(s.Snapshot, s.OpenedAt),
			Label:    label,
			At:       s.OpenedAt,
		}
	}
	return out
}

// NotifyLabel records the outcome of a closed simulation for accuracy tracking.
func (p *Predictor) NotifyLabel(sim models.Simulation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.labeled++
	p.pendingLabels++
	won := sim.Won()
	if won {
		p.correct++
	}
	p.recent = append(p.recent, won)
	if over := len(p.recent) - p.cfg.AccuracyWindow; over > 0 {
		p.recent = p.recent[over:]
	}
}

// Stats reports counters and the installed model's accuracy.
func (p *Predictor) Stats() models.MLStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := models.MLStats{
		Trained:            p.state != nil,
		TotalPredictions:   p.totalPredictions,
		LabeledPredictions: p.labeled,
		CorrectPredictions: p.correct,
		ModelUpdates:       p.modelUpdates,
		PendingLabels:      p.pendingLabels,
	}
	if len(p.recent) > 0 {
		wins := 0
		for _, w := range p.recent {
			if w {
				wins++
			}
		}
		out.RecentAccuracy = float64(wins) / float64(len(p.recent))
	}
	if p.state != nil {
		at := p.state.TrainedAt
		out.TrainedSamples = p.state.Samples
		out.ModelAccuracy = copyMap(p.state.Accuracy)
		out.LastTrainedAt = &at
	}
	return out
}

// MarshalState serializes the installed state. It returns models.ErrNotTrained when there is none.
func (p *Predictor) MarshalState() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == nil {
		return nil, models.ErrNotTrained
	}
	return json.Marshal(p.state)
}

// RestoreState installs a previously serialized state.
func (p *Predictor) RestoreState(data []byte) error {
	var st TrainedState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("restore ensemble state: %w", err)
	}
	if st.Logistic == nil || st.NaiveBayes == nil || st.Forest == nil || len(st.Weights) == 0 {
		return fmt.Errorf("restore ensemble state: incomplete model set")
	}
	p.mu.Lock()
	p.state = &st
	p.mu.Unlock()
	return nil
}

func copyMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var (
	_ domsvc.LabelSink = (*Predictor)(nil)
	_ domsvc.Retrainer = (*Predictor)(nil)
)
