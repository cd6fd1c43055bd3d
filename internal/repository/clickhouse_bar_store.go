package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	pkgch "SignalLoop/pkg/clickhouse"
	applogger "SignalLoop/pkg/logger"
)

// ClickHouseSchema creates the bar archive and the outcome archive.
var ClickHouseSchema = []string{
	`CREATE DATABASE IF NOT EXISTS signalloop`,
	`CREATE TABLE IF NOT EXISTS signalloop.bars (
		symbol    LowCardinality(String),
		interval  LowCardinality(String),
		open_time DateTime64(3, 'UTC'),
		open      Float64,
		high      Float64,
		low       Float64,
		close     Float64,
		volume    Float64
	) ENGINE = ReplacingMergeTree
	ORDER BY (symbol, interval, open_time)`,
	`CREATE TABLE IF NOT EXISTS signalloop.simulation_outcomes (
		id          String,
		symbol      LowCardinality(String),
		trend       LowCardinality(String),
		opened_at   DateTime64(3, 'UTC'),
		closed_at   DateTime64(3, 'UTC'),
		entry_price Float64,
		exit_price  Float64,
		result_pct  Float64,
		success     UInt8,
		confidence  Float64,
		prob_up     Float64,
		method      LowCardinality(String),
		rsi         Float64,
		macd_hist   Float64,
		volume_z    Float64
	) ENGINE = MergeTree
	ORDER BY (symbol, closed_at)`,
}

const barInsertChunk = 2000

// CHBarStore reads and writes bars in ClickHouse.
type CHBarStore struct {
	db       *sql.DB
	symbol   string
	interval drepo.Interval
	l        *applogger.Logger
}

// NewCHBarStore creates a new CHBarStore instance.
func NewCHBarStore(ch *pkgch.Client, symbol string, interval drepo.Interval) *CHBarStore {
	return &CHBarStore{db: ch.DB(), symbol: symbol, interval: interval, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHBarStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

var _ drepo.BarSupplier = (*CHBarStore)(nil)

// RecentBars returns the latest count bars in ascending order.
func (s *CHBarStore) RecentBars(ctx context.Context, count int) ([]models.Bar, error) {
	start := time.Now()
	const q = `
		SELECT open_time, open, high, low, close, volume
		FROM signalloop.bars FINAL
		WHERE symbol = ? AND interval = ?
		ORDER BY open_time DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, s.symbol, string(s.interval), count)
	if err != nil {
		s.l.Error("clickhouse recent_bars query error", applogger.String("symbol", s.symbol), applogger.Error(err))
		return nil, fmt.Errorf("recent bars: %w: %w", err, models.ErrUpstreamUnavailable)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, count)
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.OpenTime = b.OpenTime.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent bars rows: %w: %w", err, models.ErrUpstreamUnavailable)
	}
	reverseBars(out)
	s.l.Debug("clickhouse recent_bars ok",
		applogger.String("symbol", s.symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// StoreBars inserts bars in multi-row chunks. Re-inserting a bar replaces it.
func (s *CHBarStore) StoreBars(ctx context.Context, bars []models.Bar) error {
	for start := 0; start < len(bars); start += barInsertChunk {
		end := min(start+barInsertChunk, len(bars))
		q, args := barInsert(s.symbol, string(s.interval), bars[start:end])
		if q == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store bars: %w", err)
		}
	}
	return nil
}

func barInsert(symbol, interval string, bars []models.Bar) (string, []any) {
	values := make([]string, 0, len(bars))
	args := make([]any, 0, len(bars)*8)
	for _, b := range bars {
		if b.OpenTime.IsZero() || b.Close <= 0 {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args, symbol, interval, b.OpenTime.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	if len(values) == 0 {
		return "", nil
	}
	q := "INSERT INTO signalloop.bars (symbol, interval, open_time, open, high, low, close, volume) VALUES " + strings.Join(values, ",")
	return q, args
}

func reverseBars(b []models.Bar) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
