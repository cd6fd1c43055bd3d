package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type payload struct {
	Reason string `json:"reason"`
}

type recordingJob struct {
	mu      sync.Mutex
	fail    int
	reasons []string
	done    chan struct{}
}

func (j *recordingJob) Name() string { return "recording" }
func (j *recordingJob) Type() string { return "test.record" }

func (j *recordingJob) Handle(_ context.Context, raw json.RawMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail > 0 {
		j.fail--
		return errors.New("transient")
	}
	p, err := ParsePayload[payload](raw)
	if err != nil {
		return err
	}
	j.reasons = append(j.reasons, p.Reason)
	close(j.done)
	return nil
}

func TestMemoryQueueRetries(t *testing.T) {
	job := &recordingJob{fail: 2, done: make(chan struct{})}
	q := NewMemoryQueue(nil, Config{RetryLimit: 3, RetryDelay: time.Millisecond}, 4)
	q.RegisterJob(job)
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer q.Stop(context.Background())

	id, err := q.Enqueue(context.Background(), "test.record", payload{Reason: "manual"})
	if err != nil || id == "" {
		t.Fatalf("enqueue: %q, %v", id, err)
	}
	select {
	case <-job.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not complete")
	}
	if len(job.reasons) != 1 || job.reasons[0] != "manual" {
		t.Fatalf("unexpected reasons %v", job.reasons)
	}
}

func TestEnqueueUnknownType(t *testing.T) {
	q := NewMemoryQueue(nil, Config{}, 1)
	if _, err := q.Enqueue(context.Background(), "nope", nil); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestMemoryQueueFull(t *testing.T) {
	q := NewMemoryQueue(nil, Config{}, 1)
	q.RegisterJob(&recordingJob{done: make(chan struct{})})
	if _, err := q.Enqueue(context.Background(), "test.record", nil); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), "test.record", nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestParsePayloadEmpty(t *testing.T) {
	p, err := ParsePayload[payload](nil)
	if err != nil || p.Reason != "" {
		t.Fatalf("expected zero payload, got %+v, %v", p, err)
	}
}
