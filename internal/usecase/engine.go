package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	"SignalLoop/internal/services/correction"
	"SignalLoop/internal/services/ensemble"
	"SignalLoop/internal/services/features"
	"SignalLoop/internal/services/signals"
	applogger "SignalLoop/pkg/logger"
)

// State slots in the StateStore.
const (
	SlotEnsemble    = "ensemble"
	SlotCorrections = "corrections"
)

const (
	DefaultBarCount    = 200
	retrainLockTTL     = 10 * time.Minute
	defaultListLimit   = 100
	retrainLockKeyBase = "lock:retrain:"
)

// Locker is a distributed mutex, satisfied by pkg/cache services.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// EngineOption configures Engine.
type EngineOption func(*Engine)

func WithStateStore(s drepo.StateStore) EngineOption {
	return func(e *Engine) { e.state = s }
}

func WithLocker(l Locker) EngineOption {
	return func(e *Engine) { e.locker = l }
}

func WithPredictionEvents(p drepo.EventPublisher) EngineOption {
	return func(e *Engine) { e.events = p }
}

func WithEngineMetrics(m drepo.Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithStream reports live connectivity in stats.
func WithStream(s drepo.MarketStream) EngineOption {
	return func(e *Engine) { e.stream = s }
}

func WithBarCount(n int) EngineOption {
	return func(e *Engine) {
		if n >= features.MinBars {
			e.barCount = n
		}
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine wires the forecasting pipeline for one instrument.
type Engine struct {
	symbol    string
	bars      drepo.BarSupplier
	oracle    drepo.PriceOracle
	ledger    drepo.SimulationLedger
	extractor *features.Extractor
	scorer    *signals.Scorer
	predictor *ensemble.Predictor
	learner   *correction.Learner
	sims      *SimulationManager

	stream   drepo.MarketStream
	state    drepo.StateStore
	locker   Locker
	events   drepo.EventPublisher
	metrics  drepo.Metrics
	log      *applogger.Logger
	barCount int
	now      func() time.Time

	retrainMu sync.Mutex
}

// NewEngine creates a new Engine instance.
func NewEngine(
	symbol string,
	bars drepo.BarSupplier,
	oracle drepo.PriceOracle,
	ledger drepo.SimulationLedger,
	extractor *features.Extractor,
	scorer *signals.Scorer,
	predictor *ensemble.Predictor,
	learner *correction.Learner,
	sims *SimulationManager,
	log *applogger.Logger,
	opts ...EngineOption,
) *Engine {
	if log == nil {
		log = applogger.Nop()
	}
	e := &Engine{
		symbol:    symbol,
		bars:      bars,
		oracle:    oracle,
		ledger:    ledger,
		extractor: extractor,
		scorer:    scorer,
		predictor: predictor,
		learner:   learner,
		sims:      sims,
		metrics:   NopMetrics{},
		log:       log,
		barCount:  DefaultBarCount,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Symbol() string { return e.symbol }

// PredictOnce runs extract, score and predict on the latest bars.
func (e *Engine) PredictOnce(ctx context.Context) (models.PredictionResult, error) {
	start := e.now()
	bars, err := e.bars.RecentBars(ctx, e.barCount)
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("recent bars: %w", err)
	}
	vec, snap, err := e.extractor.Extract(bars)
	if err != nil {
		return models.PredictionResult{}, err
	}
	sig := e.scorer.Score(snap)
	pred := e.predictor.PredictOrFallback(ensemble.Input{Features: vec, Snapshot: snap, Signal: sig})

	price := snap.Price
	if e.oracle != nil {
		if p, err := e.oracle.CurrentPrice(ctx); err == nil {
			price = p
		} else {
			e.log.Debug("live price unavailable, using last close", applogger.Error(err))
		}
	}

	res := models.PredictionResult{Symbol: e.symbol, Price: price, Prediction: pred, Signal: sig, Snapshot: snap}
	e.metrics.RecordPrediction(pred.ModelDetail.Method, string(pred.Direction), pred.Confidence)
	e.metrics.RecordLastPrice(e.symbol, price)
	e.metrics.RecordLatency("predict", e.now().Sub(start).Seconds())

	if e.events != nil {
		if err := e.events.PublishPrediction(ctx, res); err != nil {
			e.metrics.RecordError("publish_prediction")
			e.log.Warn("publish prediction failed", applogger.Error(err))
		}
	}
	return res, nil
}

// OpenFrom opens a simulation against a prediction result.
func (e *Engine) OpenFrom(ctx context.Context, res models.PredictionResult) (models.Simulation, error) {
	return e.sims.Open(ctx, res.Prediction, res.Snapshot, res.Price)
}

// CloseDue closes the next eligible simulation at the current price.
func (e *Engine) CloseDue(ctx context.Context) (*models.Simulation, error) {
	price, err := e.currentPrice(ctx)
	if err != nil {
		return nil, err
	}
	return e.sims.CloseNext(ctx, price)
}

// CloseSimulation closes id manually. A non-positive price uses the current price.
func (e *Engine) CloseSimulation(ctx context.Context, id string, price float64) (models.Simulation, error) {
	if price <= 0 {
		p, err := e.currentPrice(ctx)
		if err != nil {
			return models.Simulation{}, err
		}
		price = p
	}
	return e.sims.CloseByID(ctx, id, price)
}

func (e *Engine) currentPrice(ctx context.Context) (float64, error) {
	if e.oracle == nil {
		return 0, fmt.Errorf("no price oracle: %w", models.ErrUpstreamUnavailable)
	}
	p, err := e.oracle.CurrentPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("current price: %w", err)
	}
	return p, nil
}

// ListSimulations returns simulations by state: "open", "closed" or "all".
func (e *Engine) ListSimulations(ctx context.Context, state string, limit int) ([]models.Simulation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []models.Simulation
	if state != "closed" {
		open, err := e.ledger.ListOpen(ctx)
		if err != nil {
			return nil, fmt.Errorf("list open: %w", err)
		}
		out = append(out, open...)
	}
	if state != "open" {
		closed, err := e.ledger.ListClosed(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("list closed: %w", err)
		}
		out = append(out, closed...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Learn retrains when due and optimizes correction weights. The weights are
// optimized and persisted even when the retrain fails; the retrain error is
// returned afterwards.
func (e *Engine) Learn(ctx context.Context) error {
	res, err := e.retrain(ctx, false)
	if errors.Is(err, models.ErrInsufficientData) {
		err = nil
	}
	if cats := e.learner.Optimize(); len(cats) > 0 {
		e.persist(ctx, SlotCorrections, e.learner.MarshalState)
	}
	for k, w := range e.learner.Weights() {
		e.metrics.RecordCorrectionWeight(k, w)
	}
	if err != nil {
		return err
	}
	if res.Trained {
		e.log.Info("scheduled retrain complete", applogger.Int("samples", res.Samples))
	}
	return nil
}

// ForceRetrain refits the ensemble from all labeled simulations.
func (e *Engine) ForceRetrain(ctx context.Context) (models.RetrainResult, error) {
	return e.retrain(ctx, true)
}

func (e *Engine) retrain(ctx context.Context, force bool) (models.RetrainResult, error) {
	e.retrainMu.Lock()
	defer e.retrainMu.Unlock()

	if e.locker != nil {
		key := retrainLockKeyBase + e.symbol
		ok, err := e.locker.TryLock(ctx, key, retrainLockTTL)
		if err != nil {
			return models.RetrainResult{}, fmt.Errorf("acquire retrain lock: %w", err)
		}
		if !ok {
			return models.RetrainResult{Reason: "retrain already running"}, nil
		}
		defer func() {
			if err := e.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
				e.log.Warn("release retrain lock failed", applogger.Error(err))
			}
		}()
	}

	var (
		res models.RetrainResult
		err error
	)
	if force {
		res, err = e.predictor.ForceRetrain(ctx)
	} else {
		res, err = e.predictor.RetrainIfDue(ctx)
	}
	switch {
	case err != nil:
		e.metrics.RecordRetrain("failed", res.Samples)
		return res, err
	case res.Trained:
		e.metrics.RecordRetrain("trained", res.Samples)
		e.persist(ctx, SlotEnsemble, e.predictor.MarshalState)
	default:
		e.metrics.RecordRetrain("skipped", res.Samples)
	}
	return res, nil
}

func (e *Engine) persist(ctx context.Context, slot string, marshal func() ([]byte, error)) {
	if e.state == nil {
		return
	}
	data, err := marshal()
	if err != nil {
		e.log.Warn("marshal state failed", applogger.String("slot", slot), applogger.Error(err))
		return
	}
	if err := e.state.Save(ctx, e.slotKey(slot), data); err != nil {
		e.metrics.RecordError("state_save")
		e.log.Error("save state failed", applogger.String("slot", slot), applogger.Error(err))
	}
}

func (e *Engine) slotKey(slot string) string { return e.symbol + ":" + slot }

// Restore loads persisted ensemble and correction state. Missing slots are not an error.
func (e *Engine) Restore(ctx context.Context) error {
	if e.state == nil {
		return nil
	}
	slots := []struct {
		name    string
		restore func([]byte) error
	}{
		{SlotEnsemble, e.predictor.RestoreState},
		{SlotCorrections, e.learner.RestoreState},
	}
	for _, s := range slots {
		data, err := e.state.Load(ctx, e.slotKey(s.name))
		if errors.Is(err, models.ErrStateNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load %s state: %w", s.name, err)
		}
		if err := s.restore(data); err != nil {
			return fmt.Errorf("restore %s state: %w", s.name, err)
		}
		e.log.Info("state restored", applogger.String("slot", s.name), applogger.Int("bytes", len(data)))
	}
	return nil
}

// GetStats reports ledger, model and correction state.
func (e *Engine) GetStats(ctx context.Context) (models.EngineStats, error) {
	ledger, err := e.ledger.Stats(ctx)
	if err != nil {
		return models.EngineStats{}, fmt.Errorf("ledger stats: %w", err)
	}
	ml := e.predictor.Stats()
	acc := ml.RecentAccuracy
	if ml.LabeledPredictions == 0 && ledger.Closed > 0 {
		acc = ledger.WinRate / 100
	}
	return models.EngineStats{
		Symbol:            e.symbol,
		Ledger:            ledger,
		ML:                ml,
		CorrectionWeights: e.learner.Weights(),
		Insights:          e.learner.Insights(),
		ProgressToTarget:  models.Progress(acc),
		Realtime:          e.stream != nil && e.stream.IsConnected(),
		GeneratedAt:       e.now().UTC(),
	}, nil
}

// Corrections returns the learner's weights and failure insights.
func (e *Engine) Corrections() (map[string]float64, models.ErrorInsights) {
	return e.learner.Weights(), e.learner.Insights()
}

// LogStats writes a one-line summary of the engine state.
func (e *Engine) LogStats(ctx context.Context) {
	st, err := e.GetStats(ctx)
	if err != nil {
		e.log.Warn("stats unavailable", applogger.Error(err))
		return
	}
	e.log.Info("engine stats",
		applogger.String("symbol", st.Symbol),
		applogger.Int("simulations", st.Ledger.Total),
		applogger.Int("open", st.Ledger.Open),
		applogger.Float64("win_rate", st.Ledger.WinRate),
		applogger.Float64("avg_profit", st.Ledger.AvgProfit),
		applogger.Bool("trained", st.ML.Trained),
		applogger.Float64("progress_to_target", st.ProgressToTarget),
	)
}

var _ Steps = (*Engine)(nil)
