package repository

import (
	"context"
	"database/sql"
	"fmt"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	pkgch "SignalLoop/pkg/clickhouse"
)

// CHOutcomeArchive appends closed simulations to signalloop.simulation_outcomes.
type CHOutcomeArchive struct {
	db *sql.DB
}

// NewCHOutcomeArchive creates a new CHOutcomeArchive instance.
func NewCHOutcomeArchive(ch *pkgch.Client) *CHOutcomeArchive {
	return &CHOutcomeArchive{db: ch.DB()}
}

var _ drepo.OutcomeArchive = (*CHOutcomeArchive)(nil)

const outcomeInsert = `INSERT INTO signalloop.simulation_outcomes
	(id, symbol, trend, opened_at, closed_at, entry_price, exit_price, result_pct, success, confidence, prob_up, method, rsi, macd_hist, volume_z)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (a *CHOutcomeArchive) Archive(ctx context.Context, sim models.Simulation) error {
	args, err := outcomeRow(sim)
	if err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, outcomeInsert, args...); err != nil {
		return fmt.Errorf("archive %s: %w", sim.ID, err)
	}
	return nil
}

func outcomeRow(sim models.Simulation) ([]any, error) {
	if !sim.Closed || sim.ClosedAt == nil {
		return nil, fmt.Errorf("archive %s: simulation is open", sim.ID)
	}
	var success uint8
	if sim.Won() {
		success = 1
	}
	return []any{
		sim.ID,
		sim.Symbol,
		string(sim.Trend),
		sim.OpenedAt.UTC(),
		sim.ClosedAt.UTC(),
		sim.EntryPrice,
		sim.ExitPrice,
		sim.ResultPct,
		success,
		sim.Confidence,
		sim.Probability.Up,
		sim.Prediction.ModelDetail.Method,
		sim.Snapshot.RSI,
		sim.Snapshot.MACD.Histogram,
		sim.Snapshot.Volume.Strength,
	}, nil
}
