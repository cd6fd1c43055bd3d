package usecase

import (
	"context"
	"errors"
	"testing"

	"SignalLoop/internal/domain/models"
)

type memSink struct{ bars []models.Bar }

func (m *memSink) StoreBars(_ context.Context, bars []models.Bar) error {
	m.bars = append(m.bars, bars...)
	return nil
}

func TestBarFeedHandle(t *testing.T) {
	sink := &memSink{}
	f := NewBarFeed("bars", "BTCUSDT", 2, sink, nil)
	ctx := context.Background()

	if _, err := f.CurrentPrice(ctx); !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("expected empty feed to be unavailable, got %v", err)
	}
	msgs := []string{
		`{"symbol":"BTCUSDT","t":1700000000000,"o":1,"h":2,"l":1,"c":1.5,"v":3}`,
		`{"symbol":"ETHUSDT","t":1700000060000,"o":1,"h":2,"l":1,"c":9,"v":3}`,
		`{"symbol":"BTCUSDT","t":1700000060,"o":1.5,"h":2,"l":1,"c":1.7,"v":3}`,
		`{"symbol":"BTCUSDT","t":1700000120000,"o":1.7,"h":2,"l":1,"c":1.9,"v":3}`,
		`{"symbol":"BTCUSDT","t":1700000120000,"o":1.7,"h":2,"l":1,"c":2.0,"v":4}`,
	}
	for _, m := range msgs {
		if err := f.Handle(ctx, []byte(m)); err != nil {
			t.Fatalf("handle %s: %v", m, err)
		}
	}
	bars, _ := f.RecentBars(ctx, 10)
	if len(bars) != 2 || bars[0].Close != 1.7 || bars[1].Close != 2.0 {
		t.Fatalf("unexpected window %+v", bars)
	}
	if p, _ := f.CurrentPrice(ctx); p != 2.0 {
		t.Fatalf("expected 2.0, got %v", p)
	}
	if len(sink.bars) != 4 {
		t.Fatalf("expected 4 stored bars, got %d", len(sink.bars))
	}
	if err := f.Handle(ctx, []byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}
