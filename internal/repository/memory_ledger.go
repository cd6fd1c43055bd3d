package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
)

// MemoryLedger is a process-local SimulationLedger.
type MemoryLedger struct {
	mu    sync.RWMutex
	sims  map[string]models.Simulation
	order []string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{sims: make(map[string]models.Simulation)}
}

func (l *MemoryLedger) Append(_ context.Context, sim models.Simulation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sims[sim.ID]; ok {
		return fmt.Errorf("append %s: duplicate id: %w", sim.ID, models.ErrLedgerCorrupted)
	}
	l.sims[sim.ID] = sim
	l.order = append(l.order, sim.ID)
	return nil
}

func (l *MemoryLedger) Get(_ context.Context, id string) (models.Simulation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sim, ok := l.sims[id]
	if !ok {
		return models.Simulation{}, fmt.Errorf("get %s: %w", id, models.ErrSimulationNotFound)
	}
	return sim, nil
}

// ListOpen returns open simulations in insertion order.
func (l *MemoryLedger) ListOpen(_ context.Context) ([]models.Simulation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Simulation, 0)
	for _, id := range l.order {
		if s := l.sims[id]; !s.Closed {
			out = append(out, s)
		}
	}
	return out, nil
}

// ListClosed returns up to limit closed simulations, most recently closed first.
// A non-positive limit returns all of them.
func (l *MemoryLedger) ListClosed(_ context.Context, limit int) ([]models.Simulation, error) {
	l.mu.RLock()
	out := make([]models.Simulation, 0)
	for _, id := range l.order {
		if s := l.sims[id]; s.Closed {
			out = append(out, s)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ClosedAt.After(*out[j].ClosedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CloseIfOpen applies outcome when the simulation is still open.
func (l *MemoryLedger) CloseIfOpen(_ context.Context, id string, outcome models.Outcome) (models.Simulation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sim, ok := l.sims[id]
	if !ok {
		return models.Simulation{}, fmt.Errorf("close %s: %w", id, models.ErrSimulationNotFound)
	}
	if sim.Closed {
		return models.Simulation{}, fmt.Errorf("close %s: %w", id, models.ErrAlreadyClosed)
	}
	sim = sim.Apply(outcome)
	l.sims[id] = sim
	return sim, nil
}

func (l *MemoryLedger) MarkFeedback(_ context.Context, id string, feedback bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	sim, ok := l.sims[id]
	if !ok {
		return fmt.Errorf("mark feedback %s: %w", id, models.ErrSimulationNotFound)
	}
	sim.LearningFeedback = &feedback
	l.sims[id] = sim
	return nil
}

func (l *MemoryLedger) Stats(_ context.Context) (models.LedgerStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	all := make([]models.Simulation, 0, len(l.sims))
	for _, id := range l.order {
		all = append(all, l.sims[id])
	}
	return models.SummarizeLedger(all), nil
}

var _ drepo.SimulationLedger = (*MemoryLedger)(nil)
