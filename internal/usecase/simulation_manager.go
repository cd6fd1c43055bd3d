package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	domsvc "SignalLoop/internal/domain/service"
	applogger "SignalLoop/pkg/logger"
)

const (
	DefaultMinDwell = 120 * time.Second
	DefaultEpsilon  = 0.1
	resultPlaces    = 4
)

var hundred = decimal.NewFromInt(100)

// SimulationOption configures SimulationManager.
type SimulationOption func(*SimulationManager)

func WithMinDwell(d time.Duration) SimulationOption {
	return func(m *SimulationManager) {
		if d >= 0 {
			m.minDwell = d
		}
	}
}

// WithEpsilon sets the minimum move, in percent, for a simulation to count as a success.
func WithEpsilon(pct float64) SimulationOption {
	return func(m *SimulationManager) {
		if pct >= 0 {
			m.epsilon = decimal.NewFromFloat(pct)
		}
	}
}

func WithSimulationClock(now func() time.Time) SimulationOption {
	return func(m *SimulationManager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIDGenerator(gen func() string) SimulationOption {
	return func(m *SimulationManager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

func WithEvents(pub drepo.EventPublisher) SimulationOption {
	return func(m *SimulationManager) { m.events = pub }
}

func WithArchive(a drepo.OutcomeArchive) SimulationOption {
	return func(m *SimulationManager) { m.archive = a }
}

func WithSimulationMetrics(rec drepo.Metrics) SimulationOption {
	return func(m *SimulationManager) {
		if rec != nil {
			m.metrics = rec
		}
	}
}

// SimulationManager opens paper positions against predictions and resolves them.
type SimulationManager struct {
	symbol   string
	ledger   drepo.SimulationLedger
	labels   domsvc.LabelSink
	failures domsvc.FailureObserver
	events   drepo.EventPublisher
	archive  drepo.OutcomeArchive
	metrics  drepo.Metrics
	log      *applogger.Logger

	minDwell time.Duration
	epsilon  decimal.Decimal
	now      func() time.Time
	newID    func() string
	halted   atomic.Bool
}

// NewSimulationManager creates a new SimulationManager instance.
func NewSimulationManager(
	symbol string,
	ledger drepo.SimulationLedger,
	labels domsvc.LabelSink,
	failures domsvc.FailureObserver,
	log *applogger.Logger,
	opts ...SimulationOption,
) *SimulationManager {
	if log == nil {
		log = applogger.Nop()
	}
	m := &SimulationManager{
		symbol:   symbol,
		ledger:   ledger,
		labels:   labels,
		failures: failures,
		metrics:  NopMetrics{},
		log:      log,
		minDwell: DefaultMinDwell,
		epsilon:  decimal.NewFromFloat(DefaultEpsilon),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Halted reports whether writes stopped after ledger corruption.
func (m *SimulationManager) Halted() bool { return m.halted.Load() }

// Open records a new OPEN simulation for pred at entryPrice.
func (m *SimulationManager) Open(ctx context.Context, pred models.Prediction, snap models.IndicatorSnapshot, entryPrice float64) (models.Simulation, error) {
	if m.halted.Load() {
		return models.Simulation{}, models.ErrLedgerHalted
	}
	if !validPrice(entryPrice) {
		return models.Simulation{}, fmt.Errorf("open at %v: %w", entryPrice, models.ErrInvalidPrice)
	}
	if !pred.Direction.Valid() {
		return models.Simulation{}, fmt.Errorf("open with invalid direction %q", pred.Direction)
	}

	sim := models.Simulation{
		ID:          m.newID(),
		Symbol:      m.symbol,
		OpenedAt:    m.now().UTC(),
		EntryPrice:  entryPrice,
		Trend:       pred.Direction,
		Probability: pred.Probability,
		Confidence:  pred.Confidence,
		Snapshot:    snap,
		Prediction:  pred,
	}
	if err := m.ledger.Append(ctx, sim); err != nil {
		m.haltOnCorruption(sim.ID, err)
		return models.Simulation{}, fmt.Errorf("append simulation: %w", err)
	}

	m.metrics.RecordSimulationOpened()
	m.publish(ctx, models.EventSimulationOpened, sim)
	m.log.Info("simulation opened",
		applogger.String("id", sim.ID),
		applogger.String("trend", string(sim.Trend)),
		applogger.Float64("entry_price", entryPrice),
		applogger.Float64("confidence", sim.Confidence),
	)
	return sim, nil
}

// haltOnCorruption stops all further writes once the ledger reports corruption.
func (m *SimulationManager) haltOnCorruption(id string, err error) {
	if !errors.Is(err, models.ErrLedgerCorrupted) {
		return
	}
	m.halted.Store(true)
	m.metrics.RecordError("ledger_corrupted")
	m.log.Error("ledger corrupted, simulation writes halted", applogger.String("id", id), applogger.Error(err))
}

// SelectForClose picks the oldest simulation that has been open at least the minimum dwell.
// Ties on OpenedAt are broken by ID. It returns nil when nothing is eligible.
func (m *SimulationManager) SelectForClose(open []models.Simulation, now time.Time) *models.Simulation {
	eligible := make([]models.Simulation, 0, len(open))
	for _, s := range open {
		if !s.Closed && now.Sub(s.OpenedAt) >= m.minDwell {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].OpenedAt.Equal(eligible[j].OpenedAt) {
			return eligible[i].OpenedAt.Before(eligible[j].OpenedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})
	sel := eligible[0]
	return &sel
}

// Evaluate returns the direction-adjusted result in percent, rounded to four places,
// and whether the move beat epsilon in the predicted direction.
func Evaluate(trend models.Direction, entry, exit float64, epsilonPct decimal.Decimal) (float64, bool) {
	e := decimal.NewFromFloat(entry)
	change := decimal.NewFromFloat(exit).Sub(e).Div(e).Mul(hundred)
	if trend == models.DirectionDown {
		return change.Neg().Round(resultPlaces).InexactFloat64(), change.LessThan(epsilonPct.Neg())
	}
	return change.Round(resultPlaces).InexactFloat64(), change.GreaterThan(epsilonPct)
}

// Close resolves sim at exitPrice. A second close fails with models.ErrAlreadyClosed
// and leaves the ledger untouched.
func (m *SimulationManager) Close(ctx context.Context, sim models.Simulation, exitPrice float64) (models.Simulation, error) {
	if m.halted.Load() {
		return models.Simulation{}, models.ErrLedgerHalted
	}
	if !validPrice(exitPrice) {
		return models.Simulation{}, fmt.Errorf("close at %v: %w", exitPrice, models.ErrInvalidPrice)
	}
	if sim.Closed {
		return models.Simulation{}, fmt.Errorf("close %s: %w", sim.ID, models.ErrAlreadyClosed)
	}

	resultPct, success := Evaluate(sim.Trend, sim.EntryPrice, exitPrice, m.epsilon)
	closed, err := m.ledger.CloseIfOpen(ctx, sim.ID, models.Outcome{
		ClosedAt:  m.now().UTC(),
		ExitPrice: exitPrice,
		ResultPct: resultPct,
		Success:   success,
	})
	if err != nil {
		m.haltOnCorruption(sim.ID, err)
		return models.Simulation{}, fmt.Errorf("close %s: %w", sim.ID, err)
	}

	m.feedback(ctx, &closed)
	m.metrics.RecordSimulationClosed(success, resultPct)
	m.publish(ctx, models.EventSimulationClosed, closed)
	if m.archive != nil {
		if err := m.archive.Archive(ctx, closed); err != nil {
			m.log.Warn("archive simulation failed", applogger.String("id", closed.ID), applogger.Error(err))
		}
	}
	m.log.Info("simulation closed",
		applogger.String("id", closed.ID),
		applogger.String("trend", string(closed.Trend)),
		applogger.Float64("result_pct", resultPct),
		applogger.Bool("success", success),
	)
	return closed, nil
}

func (m *SimulationManager) feedback(ctx context.Context, sim *models.Simulation) {
	if m.labels != nil {
		m.labels.NotifyLabel(*sim)
	}
	if m.failures != nil && !sim.Won() {
		cats := m.failures.ObserveFailure(sim.Snapshot, sim.Trend)
		if len(cats) > 0 {
			m.log.Debug("failure categorized", applogger.String("id", sim.ID), applogger.Int("categories", len(cats)))
		}
	}
	if err := m.ledger.MarkFeedback(ctx, sim.ID, true); err != nil {
		m.log.Warn("mark learning feedback failed", applogger.String("id", sim.ID), applogger.Error(err))
		return
	}
	fb := true
	sim.LearningFeedback = &fb
}

// CloseNext closes the next eligible simulation at price. It returns nil when none is due.
func (m *SimulationManager) CloseNext(ctx context.Context, price float64) (*models.Simulation, error) {
	if m.halted.Load() {
		return nil, models.ErrLedgerHalted
	}
	open, err := m.ledger.ListOpen(ctx)
	if err != nil {
		m.haltOnCorruption("", err)
		return nil, fmt.Errorf("list open simulations: %w", err)
	}
	sel := m.SelectForClose(open, m.now())
	if sel == nil {
		return nil, nil
	}
	closed, err := m.Close(ctx, *sel, price)
	if err != nil {
		return nil, err
	}
	return &closed, nil
}

// CloseByID closes a specific simulation regardless of dwell time.
func (m *SimulationManager) CloseByID(ctx context.Context, id string, price float64) (models.Simulation, error) {
	if m.halted.Load() {
		return models.Simulation{}, models.ErrLedgerHalted
	}
	sim, err := m.ledger.Get(ctx, id)
	if err != nil {
		m.haltOnCorruption(id, err)
		return models.Simulation{}, fmt.Errorf("get simulation %s: %w", id, err)
	}
	return m.Close(ctx, sim, price)
}

func (m *SimulationManager) publish(ctx context.Context, kind string, sim models.Simulation) {
	if m.events == nil {
		return
	}
	ev := models.SimulationEvent{Type: kind, Simulation: sim, At: m.now().UTC()}
	if err := m.events.PublishSimulation(ctx, ev); err != nil {
		m.metrics.RecordError("publish_simulation")
		m.log.Warn("publish simulation event failed", applogger.String("type", kind), applogger.Error(err))
	}
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
