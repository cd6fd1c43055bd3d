package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	applogger "SignalLoop/pkg/logger"
)

// Steps are the units of work driven by the scheduler.
type Steps interface {
	PredictOnce(ctx context.Context) (models.PredictionResult, error)
	OpenFrom(ctx context.Context, res models.PredictionResult) (models.Simulation, error)
	CloseDue(ctx context.Context) (*models.Simulation, error)
	Learn(ctx context.Context) error
	LogStats(ctx context.Context)
}

// SchedulerConfig holds the tick interval and per-path cadences, counted in ticks.
type SchedulerConfig struct {
	Tick         time.Duration
	OpenEvery    int
	CloseEvery   int
	LearnEvery   int
	StatsEvery   int
	StepTimeout  time.Duration
	LearnTimeout time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Tick:         20 * time.Second,
		OpenEvery:    15,
		CloseEvery:   6,
		LearnEvery:   30,
		StatsEvery:   60,
		StepTimeout:  10 * time.Second,
		LearnTimeout: 5 * time.Minute,
	}
}

// Scheduler runs the predict/open/close/learn loop on a fixed tick.
type Scheduler struct {
	cfg     SchedulerConfig
	steps   Steps
	metrics drepo.Metrics
	log     *applogger.Logger

	ticks    atomic.Int64
	learning atomic.Bool
	wg       sync.WaitGroup
}

// NewScheduler creates a new Scheduler instance. Non-positive cadences disable that path.
func NewScheduler(cfg SchedulerConfig, steps Steps, metrics drepo.Metrics, log *applogger.Logger) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if cfg.LearnTimeout <= 0 {
		cfg.LearnTimeout = def.LearnTimeout
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &Scheduler{cfg: cfg, steps: steps, metrics: metrics, log: log}
}

// Run ticks until ctx is cancelled. Cancellation is checked between ticks, and Run
// waits for background learning before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	defer s.wg.Wait()

	s.log.Info("scheduler started", applogger.Duration("tick_ms", s.cfg.Tick))
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped", applogger.Int64("ticks", s.ticks.Load()))
			return nil
		case <-ticker.C:
		}
	}
}

// Ticks returns the number of completed ticks.
func (s *Scheduler) Ticks() int64 { return s.ticks.Load() }

// Wait blocks until background learning finishes.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Tick runs one iteration. Cadence counters advance even when a step fails.
func (s *Scheduler) Tick(ctx context.Context) {
	n := s.ticks.Add(1)

	var res models.PredictionResult
	err := s.step(ctx, "predict", func(c context.Context) error {
		var err error
		res, err = s.steps.PredictOnce(c)
		return err
	})
	if err != nil {
		if errors.Is(err, models.ErrUpstreamUnavailable) || errors.Is(err, models.ErrInsufficientData) {
			s.log.Warn("market data unavailable, skipping tick", applogger.Int64("tick", n), applogger.Error(err))
		}
		return
	}

	if due(n, s.cfg.OpenEvery) {
		_ = s.step(ctx, "open", func(c context.Context) error {
			_, err := s.steps.OpenFrom(c, res)
			return err
		})
	}
	if due(n, s.cfg.CloseEvery) {
		_ = s.step(ctx, "close", func(c context.Context) error {
			_, err := s.steps.CloseDue(c)
			return err
		})
	}
	if due(n, s.cfg.LearnEvery) {
		s.learnAsync(ctx)
	}
	if due(n, s.cfg.StatsEvery) {
		_ = s.step(ctx, "stats", func(c context.Context) error {
			s.steps.LogStats(c)
			return nil
		})
	}
}

func due(n int64, every int) bool {
	return every > 0 && n%int64(every) == 0
}

func (s *Scheduler) learnAsync(ctx context.Context) {
	if !s.learning.CompareAndSwap(false, true) {
		s.log.Debug("learning still in flight, skipping")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.learning.Store(false)
		lctx, cancel := context.WithTimeout(ctx, s.cfg.LearnTimeout)
		defer cancel()
		_ = s.guard(lctx, "learn", s.steps.Learn)
	}()
}

func (s *Scheduler) step(ctx context.Context, name string, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()
	return s.guard(sctx, name, fn)
}

// guard recovers panics and records failures and latency.
func (s *Scheduler) guard(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", name, r)
			s.metrics.RecordError("panic_" + name)
			s.log.Error("scheduler step panicked",
				applogger.String("step", name),
				applogger.Any("panic", r),
				applogger.String("stack", string(debug.Stack())),
			)
		}
		s.metrics.RecordLatency(name, time.Since(start).Seconds())
	}()

	if err = fn(ctx); err != nil {
		s.metrics.RecordError(name)
		if !errors.Is(err, models.ErrUpstreamUnavailable) && !errors.Is(err, models.ErrInsufficientData) {
			s.log.Error("scheduler step failed", applogger.String("step", name), applogger.Error(err))
		}
	}
	return err
}
