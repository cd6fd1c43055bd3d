package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"SignalLoop/pkg/logger"
)

// MemoryQueue is an in-process queue with the same retry semantics as RedisQueue.
// Messages are lost on restart.
type MemoryQueue struct {
	logger *logger.Logger
	config Config

	mu   sync.RWMutex
	jobs map[string]Job
	ch   chan Message
	wg   sync.WaitGroup
	ctx  context.Context
	stop context.CancelFunc
}

// NewMemoryQueue creates a new MemoryQueue instance with the given buffer size.
func NewMemoryQueue(lgr *logger.Logger, config Config, size int) *MemoryQueue {
	config.withDefaults()
	if size <= 0 {
		size = 64
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &MemoryQueue{logger: lgr, config: config, jobs: make(map[string]Job), ch: make(chan Message, size)}
}

var _ Publisher = (*MemoryQueue)(nil)

// ErrQueueFull is returned by MemoryQueue.Enqueue when the buffer is full.
var ErrQueueFull = errors.New("queue full")

func (q *MemoryQueue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.Type()] = job
}

// Start starts the workers.
func (q *MemoryQueue) Start(ctx context.Context) error {
	q.ctx, q.stop = context.WithCancel(ctx)
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return nil
}

// Stop cancels the workers and waits for them until ctx is done.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	if q.stop == nil {
		return nil
	}
	q.stop()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for queue workers: %w", ctx.Err())
	case <-done:
		return nil
	}
}

// Enqueue queues a message without blocking.
func (q *MemoryQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	q.mu.RLock()
	_, known := q.jobs[msgType]
	q.mu.RUnlock()
	if !known {
		return "", fmt.Errorf("no job registered for type: %s", msgType)
	}
	msg, err := newMessage(uuid.NewString(), msgType, payload)
	if err != nil {
		return "", err
	}
	select {
	case q.ch <- msg:
		return msg.ID, nil
	default:
		return "", ErrQueueFull
	}
}

func (q *MemoryQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-q.ch:
			q.process(msg)
		}
	}
}

func (q *MemoryQueue) process(msg Message) {
	q.mu.RLock()
	job := q.jobs[msg.Type]
	q.mu.RUnlock()

	for {
		err := job.Handle(q.ctx, msg.Payload)
		if err == nil || q.ctx.Err() != nil {
			return
		}
		msg.Attempts++
		q.logger.Error("job failed", logger.String("job", job.Name()), logger.Int("attempt", msg.Attempts), logger.Error(err))
		if msg.Attempts > q.config.RetryLimit {
			q.logger.Error("max retries reached", logger.String("id", msg.ID), logger.String("job", job.Name()))
			return
		}
		select {
		case <-q.ctx.Done():
			return
		case <-time.After(q.config.RetryDelay):
		}
	}
}
