package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	pkgpg "SignalLoop/pkg/postgres"
)

// PostgresSchema creates the ledger and state tables.
var PostgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS simulations (
		seq               BIGSERIAL,
		id                TEXT PRIMARY KEY,
		symbol            TEXT NOT NULL,
		opened_at         TIMESTAMPTZ NOT NULL,
		doc               JSONB NOT NULL,
		closed            BOOLEAN NOT NULL DEFAULT FALSE,
		closed_at         TIMESTAMPTZ,
		exit_price        DOUBLE PRECISION,
		result_pct        DOUBLE PRECISION,
		success           BOOLEAN,
		learning_feedback BOOLEAN
	)`,
	`CREATE INDEX IF NOT EXISTS simulations_symbol_closed_idx ON simulations (symbol, closed, closed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS engine_state (
		slot       TEXT PRIMARY KEY,
		data       BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

const simulationColumns = `doc, closed, closed_at, exit_price, result_pct, success, learning_feedback`

// PostgresLedger is a SimulationLedger for one symbol. The close transition is a
// conditional UPDATE on closed = false.
type PostgresLedger struct {
	db     *sql.DB
	symbol string
}

// NewPostgresLedger creates a new PostgresLedger instance.
func NewPostgresLedger(pg *pkgpg.Client, symbol string) *PostgresLedger {
	return &PostgresLedger{db: pg.DB(), symbol: symbol}
}

var _ drepo.SimulationLedger = (*PostgresLedger)(nil)

func (l *PostgresLedger) Append(ctx context.Context, sim models.Simulation) error {
	open := sim
	open.Closed, open.ClosedAt, open.ExitPrice, open.ResultPct, open.Success, open.LearningFeedback = false, nil, 0, 0, nil, nil
	doc, err := json.Marshal(open)
	if err != nil {
		return fmt.Errorf("append %s: marshal: %w", sim.ID, err)
	}
	const q = `INSERT INTO simulations (id, symbol, opened_at, doc) VALUES ($1, $2, $3, $4)`
	if _, err := l.db.ExecContext(ctx, q, sim.ID, l.symbol, sim.OpenedAt, doc); err != nil {
		if pkgpg.IsUniqueViolation(err) {
			return fmt.Errorf("append %s: duplicate id: %w", sim.ID, models.ErrLedgerCorrupted)
		}
		return fmt.Errorf("append %s: %w", sim.ID, err)
	}
	return nil
}

func (l *PostgresLedger) Get(ctx context.Context, id string) (models.Simulation, error) {
	q := `SELECT ` + simulationColumns + ` FROM simulations WHERE id = $1`
	sim, err := scanSimulation(l.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Simulation{}, fmt.Errorf("get %s: %w", id, models.ErrSimulationNotFound)
	}
	if err != nil {
		return models.Simulation{}, fmt.Errorf("get %s: %w", id, err)
	}
	return sim, nil
}

// ListOpen returns open simulations in insertion order.
func (l *PostgresLedger) ListOpen(ctx context.Context) ([]models.Simulation, error) {
	q := `SELECT ` + simulationColumns + ` FROM simulations WHERE symbol = $1 AND NOT closed ORDER BY seq`
	return l.query(ctx, "list open", q, l.symbol)
}

// ListClosed returns up to limit closed simulations, most recently closed first.
func (l *PostgresLedger) ListClosed(ctx context.Context, limit int) ([]models.Simulation, error) {
	q := `SELECT ` + simulationColumns + ` FROM simulations WHERE symbol = $1 AND closed ORDER BY closed_at DESC, seq DESC`
	if limit > 0 {
		return l.query(ctx, "list closed", q+` LIMIT $2`, l.symbol, limit)
	}
	return l.query(ctx, "list closed", q, l.symbol)
}

func (l *PostgresLedger) query(ctx context.Context, op, q string, args ...any) ([]models.Simulation, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]models.Simulation, 0)
	for rows.Next() {
		sim, err := scanSimulation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, sim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

// CloseIfOpen applies outcome when the simulation is still open.
func (l *PostgresLedger) CloseIfOpen(ctx context.Context, id string, o models.Outcome) (models.Simulation, error) {
	q := `UPDATE simulations
		SET closed = TRUE, closed_at = $2, exit_price = $3, result_pct = $4, success = $5
		WHERE id = $1 AND closed = FALSE
		RETURNING ` + simulationColumns
	sim, err := scanSimulation(l.db.QueryRowContext(ctx, q, id, o.ClosedAt, o.ExitPrice, o.ResultPct, o.Success))
	if err == nil {
		return sim, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Simulation{}, fmt.Errorf("close %s: %w", id, err)
	}

	var closed bool
	err = l.db.QueryRowContext(ctx, `SELECT closed FROM simulations WHERE id = $1`, id).Scan(&closed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.Simulation{}, fmt.Errorf("close %s: %w", id, models.ErrSimulationNotFound)
	case err != nil:
		return models.Simulation{}, fmt.Errorf("close %s: %w", id, err)
	case closed:
		return models.Simulation{}, fmt.Errorf("close %s: %w", id, models.ErrAlreadyClosed)
	default:
		return models.Simulation{}, fmt.Errorf("close %s: row open after conditional update: %w", id, models.ErrLedgerCorrupted)
	}
}

func (l *PostgresLedger) MarkFeedback(ctx context.Context, id string, feedback bool) error {
	res, err := l.db.ExecContext(ctx, `UPDATE simulations SET learning_feedback = $2 WHERE id = $1`, id, feedback)
	if err != nil {
		return fmt.Errorf("mark feedback %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mark feedback %s: %w", id, models.ErrSimulationNotFound)
	}
	return nil
}

func (l *PostgresLedger) Stats(ctx context.Context) (models.LedgerStats, error) {
	const q = `SELECT
		count(*),
		count(*) FILTER (WHERE closed),
		count(*) FILTER (WHERE closed AND success),
		COALESCE(avg(result_pct) FILTER (WHERE closed), 0),
		COALESCE(max(result_pct) FILTER (WHERE closed), 0),
		COALESCE(min(result_pct) FILTER (WHERE closed), 0)
		FROM simulations WHERE symbol = $1`
	var st models.LedgerStats
	err := l.db.QueryRowContext(ctx, q, l.symbol).Scan(&st.Total, &st.Closed, &st.Wins, &st.AvgProfit, &st.BestTrade, &st.WorstTrade)
	if err != nil {
		return models.LedgerStats{}, fmt.Errorf("stats: %w", err)
	}
	return finishStats(st), nil
}

func finishStats(st models.LedgerStats) models.LedgerStats {
	st.Open = st.Total - st.Closed
	st.Losses = st.Closed - st.Wins
	if st.Closed > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Closed) * 100
	}
	return st
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSimulation(row rowScanner) (models.Simulation, error) {
	var (
		doc       []byte
		closed    bool
		closedAt  sql.NullTime
		exitPrice sql.NullFloat64
		resultPct sql.NullFloat64
		success   sql.NullBool
		feedback  sql.NullBool
	)
	if err := row.Scan(&doc, &closed, &closedAt, &exitPrice, &resultPct, &success, &feedback); err != nil {
		return models.Simulation{}, err
	}
	return decodeSimulation(doc, closed, closedAt, exitPrice, resultPct, success, feedback)
}

func decodeSimulation(doc []byte, closed bool, closedAt sql.NullTime, exitPrice, resultPct sql.NullFloat64, success, feedback sql.NullBool) (models.Simulation, error) {
	var sim models.Simulation
	if err := json.Unmarshal(doc, &sim); err != nil {
		return models.Simulation{}, fmt.Errorf("decode doc: %w", err)
	}
	if closed {
		if !closedAt.Valid || !success.Valid {
			return models.Simulation{}, fmt.Errorf("closed row %s without outcome: %w", sim.ID, models.ErrLedgerCorrupted)
		}
		sim = sim.Apply(models.Outcome{
			ClosedAt:  closedAt.Time.UTC(),
			ExitPrice: exitPrice.Float64,
			ResultPct: resultPct.Float64,
			Success:   success.Bool,
		})
	}
	if feedback.Valid {
		fb := feedback.Bool
		sim.LearningFeedback = &fb
	}
	return sim, nil
}

// PostgresStateStore keeps state slots in the engine_state table.
type PostgresStateStore struct {
	db *sql.DB
}

// NewPostgresStateStore creates a new PostgresStateStore instance.
func NewPostgresStateStore(pg *pkgpg.Client) *PostgresStateStore {
	return &PostgresStateStore{db: pg.DB()}
}

var _ drepo.StateStore = (*PostgresStateStore)(nil)

func (s *PostgresStateStore) Save(ctx context.Context, slot string, data []byte) error {
	const q = `INSERT INTO engine_state (slot, data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (slot) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, q, slot, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("save state %s: %w", slot, err)
	}
	return nil
}

func (s *PostgresStateStore) Load(ctx context.Context, slot string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM engine_state WHERE slot = $1`, slot).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load state %s: %w", slot, models.ErrStateNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", slot, err)
	}
	return data, nil
}
