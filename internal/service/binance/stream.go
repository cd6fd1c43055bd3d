package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	applogger "SignalLoop/pkg/logger"
)

const DefaultStreamURL = "wss://stream.binance.com:9443/ws"

// StreamConfig configures the kline stream.
type StreamConfig struct {
	URL            string
	Symbol         string
	Interval       drepo.Interval
	Window         int
	PingInterval   time.Duration
	ReconnectDelay time.Duration
	StaleAfter     time.Duration
}

// Stream keeps a rolling window of bars and the last price from a kline websocket.
type Stream struct {
	cfg  StreamConfig
	seed drepo.BarSupplier
	log  *applogger.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	bars      []models.Bar
	lastPrice float64
	lastAt    time.Time
	connected atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStream creates a new Stream instance. seed, when set, fills the window before streaming.
func NewStream(cfg StreamConfig, seed drepo.BarSupplier, log *applogger.Logger) *Stream {
	if cfg.URL == "" {
		cfg.URL = DefaultStreamURL
	}
	if cfg.Window <= 0 {
		cfg.Window = 500
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &Stream{cfg: cfg, seed: seed, log: log.With(applogger.String("component", "binance_stream"))}
}

var _ drepo.MarketStream = (*Stream)(nil)

func (s *Stream) endpoint() string {
	return fmt.Sprintf("%s/%s@kline_%s", strings.TrimRight(s.cfg.URL, "/"), strings.ToLower(s.cfg.Symbol), s.cfg.Interval)
}

// Start seeds the window and runs the read loop in the background until Close or ctx is done.
func (s *Stream) Start(ctx context.Context) error {
	if s.seed != nil {
		bars, err := s.seed.RecentBars(ctx, s.cfg.Window)
		if err != nil {
			s.log.Warn("stream seed failed", applogger.Error(err))
		} else {
			s.mu.Lock()
			s.bars = bars
			s.mu.Unlock()
		}
	}
	if err := s.connect(ctx); err != nil {
		s.log.Warn("stream initial connect failed, retrying in background", applogger.Error(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	return nil
}

func (s *Stream) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.endpoint(), nil)
	if err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)
	s.log.Info("stream connected", applogger.String("url", s.endpoint()))
	return nil
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectDelay
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0

	for ctx.Err() == nil {
		if !s.connected.Load() {
			if err := s.connect(ctx); err != nil {
				wait := b.NextBackOff()
				s.log.Warn("stream reconnect failed", applogger.Error(err), applogger.Duration("retry_ms", wait))
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				continue
			}
			b.Reset()
		}
		if err := s.readLoop(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("stream read failed", applogger.Error(err))
		}
		s.dropConn()
	}
}

func (s *Stream) readLoop(ctx context.Context) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("binance conn nil")
	}

	pingCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()
	go func() {
		<-pingCtx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("binance read: %w", err)
		}
		bar, err := parseKlineEvent(b)
		if err != nil {
			continue
		}
		s.apply(bar)
	}
}

type klineEvent struct {
	Type  string `json:"e"`
	Kline struct {
		Start  int64  `json:"t"`
		Open   string `json:"o"`
		High   string `json:"h"`
		Low    string `json:"l"`
		Close  string `json:"c"`
		Volume string `json:"v"`
	} `json:"k"`
}

func parseKlineEvent(b []byte) (models.Bar, error) {
	var ev klineEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return models.Bar{}, err
	}
	if ev.Type != "kline" {
		return models.Bar{}, fmt.Errorf("unexpected event %q", ev.Type)
	}
	k := ev.Kline
	var vals [5]float64
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Bar{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		vals[i] = v
	}
	bar := models.Bar{
		OpenTime: time.UnixMilli(k.Start).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}
	return bar, nil
}

// apply merges a kline update into the window. Updates for the open bar replace it in place.
func (s *Stream) apply(bar models.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrice = bar.Close
	s.lastAt = time.Now()

	n := len(s.bars)
	switch {
	case n > 0 && s.bars[n-1].OpenTime.Equal(bar.OpenTime):
		s.bars[n-1] = bar
	case n > 0 && bar.OpenTime.Before(s.bars[n-1].OpenTime):
		return
	default:
		s.bars = append(s.bars, bar)
	}
	if over := len(s.bars) - s.cfg.Window; over > 0 {
		s.bars = append(s.bars[:0:0], s.bars[over:]...)
	}
}

// RecentBars returns the last count bars of the window.
func (s *Stream) RecentBars(_ context.Context, count int) ([]models.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.bars) == 0 {
		return nil, fmt.Errorf("binance stream: no bars yet: %w", models.ErrUpstreamUnavailable)
	}
	start := 0
	if count > 0 && count < len(s.bars) {
		start = len(s.bars) - count
	}
	return append([]models.Bar(nil), s.bars[start:]...), nil
}

// CurrentPrice returns the last streamed price while the feed is connected and fresh.
func (s *Stream) CurrentPrice(_ context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected.Load() || s.lastPrice <= 0 || time.Since(s.lastAt) > s.cfg.StaleAfter {
		return 0, fmt.Errorf("binance stream: no fresh price: %w", models.ErrUpstreamUnavailable)
	}
	return s.lastPrice, nil
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool { return s.connected.Load() }

func (s *Stream) dropConn() {
	s.connected.Store(false)
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
}

// Close stops the read loop and closes the connection.
func (s *Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.dropConn()
	return nil
}
