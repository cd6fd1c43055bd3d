package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"SignalLoop/internal/domain/models"
	"SignalLoop/pkg/logger"
	"SignalLoop/pkg/queue"
)

// RetrainJobType is the queue message type for an asynchronous forced retrain.
const RetrainJobType = "engine.retrain"

// RetrainRequested is the retrain job payload.
type RetrainRequested struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason,omitempty"`
}

// RetrainJob runs ForceRetrain for queued requests.
type RetrainJob struct {
	engine *Engine
	log    *logger.Logger
}

// NewRetrainJob creates a new RetrainJob instance.
func NewRetrainJob(engine *Engine, log *logger.Logger) *RetrainJob {
	if log == nil {
		log = logger.Nop()
	}
	return &RetrainJob{engine: engine, log: log}
}

var _ queue.Job = (*RetrainJob)(nil)

func (j *RetrainJob) Name() string { return "retrain" }
func (j *RetrainJob) Type() string { return RetrainJobType }

// Handle retrains the engine. Insufficient data is not retried.
func (j *RetrainJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.ParsePayload[RetrainRequested](payload)
	if err != nil {
		return err
	}
	if req.Symbol != "" && req.Symbol != j.engine.Symbol() {
		return fmt.Errorf("retrain job for %s delivered to %s engine", req.Symbol, j.engine.Symbol())
	}
	res, err := j.engine.ForceRetrain(ctx)
	if errors.Is(err, models.ErrInsufficientData) {
		j.log.Warn("queued retrain skipped", logger.String("reason", req.Reason), logger.Error(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("queued retrain: %w", err)
	}
	j.log.Info("queued retrain finished",
		logger.Bool("trained", res.Trained),
		logger.Int("samples", res.Samples),
		logger.String("reason", req.Reason),
	)
	return nil
}
