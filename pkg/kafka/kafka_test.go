package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func TestProducerEncodesValues(t *testing.T) {
	w := &memWriter{}
	p := newProducer(w, "gzip")
	ctx := context.Background()

	if err := p.Publish(ctx, "t", Record{Key: "k", Value: "raw", Headers: map[string]string{HeaderEventType: "opened"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := p.PublishMessage(ctx, "t", map[string]int{"n": 1}); err != nil {
		t.Fatalf("publish message: %v", err)
	}
	if len(w.msgs) != 2 || string(w.msgs[0].Value) != "raw" || string(w.msgs[0].Key) != "k" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
	if h := w.msgs[0].Headers; len(h) != 2 || string(h[0].Value) != "text/plain" || h[1].Key != HeaderEventType || string(h[1].Value) != "opened" {
		t.Fatalf("unexpected headers %+v", h)
	}
	var got map[string]int
	if err := json.Unmarshal(w.msgs[1].Value, &got); err != nil || got["n"] != 1 {
		t.Fatalf("expected json payload, got %s", w.msgs[1].Value)
	}
	if w.msgs[1].Key != nil || string(w.msgs[1].Headers[0].Value) != "application/json" {
		t.Fatalf("expected unkeyed json record, got %+v", w.msgs[1])
	}

	w.err = errors.New("broker down")
	if err := p.Publish(ctx, "t", Record{Value: "x"}); !errors.Is(err, w.err) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}

type memReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *memReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			m := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return m, nil
		}
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (r *memReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *memReader) Close() error { return nil }

func (r *memReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type flakyHandler struct {
	mu       sync.Mutex
	failures map[string]int
	handled  []string
}

func (h *flakyHandler) Topic() string { return "bars" }

func (h *flakyHandler) Handle(_ context.Context, b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures[string(b)] > 0 {
		h.failures[string(b)]--
		return errors.New("transient")
	}
	if string(b) == "poison" {
		return errors.New("bad payload")
	}
	h.handled = append(h.handled, string(b))
	return nil
}

func TestConsumerRetriesAndDeadLetters(t *testing.T) {
	r := &memReader{queue: []kafka.Message{
		{Offset: 1, Value: []byte("a")},
		{Offset: 2, Value: []byte("poison")},
		{Offset: 3, Value: []byte("b")},
	}}
	dlq := &memWriter{}
	h := &flakyHandler{failures: map[string]int{"a": 2}}

	c, err := NewConsumer(nil, WithConsumerBrokers([]string{"localhost:9092"}), WithConsumerRetry(3, time.Millisecond, 2*time.Millisecond), WithConsumerDLQ("bars.dlq"))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	c.newReader = func(string) reader { return r }
	c.dlq = dlq
	c.RegisterHandler(h)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(r.commits()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := r.commits(); len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected all offsets committed in order, got %v", got)
	}
	if len(h.handled) != 2 || h.handled[0] != "a" || h.handled[1] != "b" {
		t.Fatalf("unexpected handled %v", h.handled)
	}
	if len(dlq.msgs) != 1 || string(dlq.msgs[0].Value) != "poison" || dlq.msgs[0].Topic != "bars.dlq" {
		t.Fatalf("expected poison message in dlq, got %+v", dlq.msgs)
	}
}

func TestNewConsumerRequiresBrokers(t *testing.T) {
	if _, err := NewConsumer(nil); err == nil {
		t.Fatalf("expected error without brokers")
	}
}
