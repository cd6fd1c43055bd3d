package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	xhttp "SignalLoop/pkg/http"
)

func TestRESTRecentBarsAndPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/klines":
			if r.URL.Query().Get("symbol") != "BTCUSDT" || r.URL.Query().Get("limit") != "2" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, `[[1700000000000,"100","101","99","100.5","12",1700000059999],[1700000060000,"100.5","102","100","101.5","8",1700000119999]]`)
		case "/api/v3/ticker/price":
			fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"101.75"}`)
		}
	}))
	defer srv.Close()

	r := NewREST(srv.URL, "BTCUSDT", drepo.Interval1m, xhttp.NewClient())
	bars, err := r.RecentBars(context.Background(), 2)
	if err != nil {
		t.Fatalf("bars: %v", err)
	}
	if len(bars) != 2 || bars[1].Close != 101.5 || !bars[0].OpenTime.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Fatalf("unexpected bars %+v", bars)
	}
	price, err := r.CurrentPrice(context.Background())
	if err != nil || price != 101.75 {
		t.Fatalf("unexpected price %v, %v", price, err)
	}
}

func TestRESTFailureIsUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewREST(srv.URL, "BTCUSDT", drepo.Interval1m, xhttp.NewClient())
	if _, err := r.RecentBars(context.Background(), 10); !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if _, err := r.CurrentPrice(context.Background()); !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestParseKlinesRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  [][]any
	}{
		{"short", [][]any{{float64(1), "1"}}},
		{"bad time", [][]any{{"x", "1", "1", "1", "1", "1"}}},
		{"bad price", [][]any{{float64(1), "a", "1", "1", "1", "1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseKlines(tt.raw); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func klineJSON(start time.Time, closePrice float64) string {
	return fmt.Sprintf(`{"e":"kline","s":"BTCUSDT","k":{"t":%d,"o":"100","h":"110","l":"90","c":"%v","v":"5","x":false}}`, start.UnixMilli(), closePrice)
}

func TestStreamApplyKeepsWindow(t *testing.T) {
	s := NewStream(StreamConfig{Symbol: "BTCUSDT", Interval: drepo.Interval1m, Window: 3}, nil, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		bar, err := parseKlineEvent([]byte(klineJSON(base.Add(time.Duration(i)*time.Minute), 100+float64(i))))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		s.apply(bar)
	}
	update, _ := parseKlineEvent([]byte(klineJSON(base.Add(4*time.Minute), 200)))
	s.apply(update)

	bars, err := s.RecentBars(context.Background(), 10)
	if err != nil {
		t.Fatalf("bars: %v", err)
	}
	if len(bars) != 3 || bars[0].Close != 102 || bars[2].Close != 200 {
		t.Fatalf("unexpected window %+v", bars)
	}
	if _, err := s.CurrentPrice(context.Background()); !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("expected no price while disconnected, got %v", err)
	}
}

func TestStreamReadsFromWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/btcusdt@kline_1m") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(klineJSON(time.Now().Truncate(time.Minute), 123.5)))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	s := NewStream(StreamConfig{URL: url, Symbol: "BTCUSDT", Interval: drepo.Interval1m}, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p, err := s.CurrentPrice(context.Background()); err == nil {
			if p != 123.5 {
				t.Fatalf("unexpected price %v", p)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no price received, connected=%v", s.IsConnected())
}

type fakeFeed struct {
	connected bool
	price     float64
	bars      []models.Bar
	err       error
}

func (f *fakeFeed) RecentBars(context.Context, int) ([]models.Bar, error) { return f.bars, f.err }
func (f *fakeFeed) CurrentPrice(context.Context) (float64, error)         { return f.price, f.err }
func (f *fakeFeed) Start(context.Context) error                           { return nil }
func (f *fakeFeed) Close() error                                          { return nil }
func (f *fakeFeed) IsConnected() bool                                     { return f.connected }

func TestFailover(t *testing.T) {
	live := &fakeFeed{connected: true, price: 10, bars: make([]models.Bar, 2)}
	rest := &fakeFeed{price: 20, bars: make([]models.Bar, 5)}
	f := NewFailover(live, rest, nil)
	ctx := context.Background()

	if p, _ := f.CurrentPrice(ctx); p != 10 {
		t.Fatalf("expected live price, got %v", p)
	}
	if bars, _ := f.RecentBars(ctx, 5); len(bars) != 5 {
		t.Fatalf("expected rest bars when the window is short, got %d", len(bars))
	}
	live.connected = false
	if p, _ := f.CurrentPrice(ctx); p != 20 {
		t.Fatalf("expected fallback price, got %v", p)
	}
	rest.err = fmt.Errorf("down: %w", models.ErrUpstreamUnavailable)
	if _, err := f.CurrentPrice(ctx); !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestSyntheticIsDeterministic(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 30, 0, time.UTC)
	clock := func() time.Time { return now }
	a := NewSynthetic(7, 100, drepo.Interval1m, 50, clock)
	b := NewSynthetic(7, 100, drepo.Interval1m, 50, clock)

	ba, _ := a.RecentBars(context.Background(), 50)
	bb, _ := b.RecentBars(context.Background(), 50)
	if len(ba) != 50 {
		t.Fatalf("expected 50 bars, got %d", len(ba))
	}
	for i := range ba {
		if ba[i] != bb[i] {
			t.Fatalf("bar %d differs", i)
		}
		if ba[i].High < ba[i].Low || ba[i].Close <= 0 {
			t.Fatalf("invalid bar %+v", ba[i])
		}
		if i > 0 && !ba[i].OpenTime.After(ba[i-1].OpenTime) {
			t.Fatalf("bars out of order at %d", i)
		}
	}
	if !ba[49].OpenTime.Equal(now.Truncate(time.Minute)) {
		t.Fatalf("expected newest bar at the current minute, got %v", ba[49].OpenTime)
	}

	now = now.Add(3 * time.Minute)
	more, _ := a.RecentBars(context.Background(), 50)
	if !more[49].OpenTime.Equal(now.Truncate(time.Minute)) {
		t.Fatalf("expected the walk to advance with the clock")
	}
}
