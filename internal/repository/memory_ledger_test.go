package repository

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"SignalLoop/internal/domain/models"
)

var base = time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)

func openSim(id string, minute int) models.Simulation {
	return models.Simulation{ID: id, OpenedAt: base.Add(time.Duration(minute) * time.Minute), EntryPrice: 100, Trend: models.DirectionUp}
}

func TestMemoryLedgerDuplicateID(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	if err := l.Append(ctx, openSim("a", 0)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(ctx, openSim("a", 1)); !errors.Is(err, models.ErrLedgerCorrupted) {
		t.Fatalf("expected ErrLedgerCorrupted, got %v", err)
	}
}

func TestMemoryLedgerCloseIfOpen(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	_ = l.Append(ctx, openSim("a", 0))

	out := models.Outcome{ClosedAt: base.Add(5 * time.Minute), ExitPrice: 100.5, ResultPct: 0.5, Success: true}
	closed, err := l.CloseIfOpen(ctx, "a", out)
	if err != nil || !closed.Closed || closed.ExitPrice != 100.5 {
		t.Fatalf("unexpected close %+v, %v", closed, err)
	}
	before, _ := l.Get(ctx, "a")

	_, err = l.CloseIfOpen(ctx, "a", models.Outcome{ClosedAt: base, ExitPrice: 1})
	if !errors.Is(err, models.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}
	after, _ := l.Get(ctx, "a")
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("ledger mutated by a rejected close")
	}

	if _, err := l.CloseIfOpen(ctx, "missing", out); !errors.Is(err, models.ErrSimulationNotFound) {
		t.Fatalf("expected ErrSimulationNotFound, got %v", err)
	}
}

func TestMemoryLedgerListsAndStats(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c", "d"} {
		_ = l.Append(ctx, openSim(id, i))
	}
	_, _ = l.CloseIfOpen(ctx, "a", models.Outcome{ClosedAt: base.Add(10 * time.Minute), ResultPct: 1.5, Success: true})
	_, _ = l.CloseIfOpen(ctx, "c", models.Outcome{ClosedAt: base.Add(20 * time.Minute), ResultPct: -0.5})

	open, _ := l.ListOpen(ctx)
	if len(open) != 2 || open[0].ID != "b" || open[1].ID != "d" {
		t.Fatalf("unexpected open list %+v", open)
	}
	closed, _ := l.ListClosed(ctx, 1)
	if len(closed) != 1 || closed[0].ID != "c" {
		t.Fatalf("expected most recent close first, got %+v", closed)
	}

	st, _ := l.Stats(ctx)
	want := models.LedgerStats{Total: 4, Open: 2, Closed: 2, Wins: 1, Losses: 1, WinRate: 50, AvgProfit: 0.5, BestTrade: 1.5, WorstTrade: -0.5}
	if st != want {
		t.Fatalf("expected %+v, got %+v", want, st)
	}
}

func TestMemoryLedgerConcurrentCloseIfOpen(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	if err := l.Append(ctx, openSim("a", 0)); err != nil {
		t.Fatalf("append: %v", err)
	}

	const workers = 64
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			out := models.Outcome{ClosedAt: base.Add(time.Duration(i) * time.Second), ExitPrice: 100 + float64(i), Success: true}
			_, err := l.CloseIfOpen(ctx, "a", out)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, models.ErrAlreadyClosed):
				rejected.Add(1)
			default:
				t.Errorf("unexpected close error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if succeeded.Load() != 1 || rejected.Load() != workers-1 {
		t.Fatalf("expected 1 close and %d rejections, got %d and %d", workers-1, succeeded.Load(), rejected.Load())
	}
	closed, err := l.ListClosed(ctx, 0)
	if err != nil || len(closed) != 1 {
		t.Fatalf("expected one closed simulation, got %d, %v", len(closed), err)
	}
}
