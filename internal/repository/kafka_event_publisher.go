package repository

import (
	"context"
	"errors"
	"fmt"

	"SignalLoop/internal/domain/models"
	drepo "SignalLoop/internal/domain/repository"
	pkgkafka "SignalLoop/pkg/kafka"
)

// KafkaEventPublisher publishes predictions and simulation events keyed by symbol.
type KafkaEventPublisher struct {
	producer        *pkgkafka.Producer
	predictionTopic string
	simulationTopic string
}

// NewKafkaEventPublisher creates a new KafkaEventPublisher instance. The producer stays owned by the caller.
func NewKafkaEventPublisher(producer *pkgkafka.Producer, predictionTopic, simulationTopic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, predictionTopic: predictionTopic, simulationTopic: simulationTopic}
}

var _ drepo.EventPublisher = (*KafkaEventPublisher)(nil)

func (p *KafkaEventPublisher) PublishPrediction(ctx context.Context, res models.PredictionResult) error {
	if p.predictionTopic == "" {
		return nil
	}
	if err := p.producer.Publish(ctx, p.predictionTopic, pkgkafka.Record{
		Key:     res.Symbol,
		Value:   res,
		Headers: map[string]string{pkgkafka.HeaderEventType: "prediction"},
	}); err != nil {
		return fmt.Errorf("publish prediction: %w", err)
	}
	return nil
}

func (p *KafkaEventPublisher) PublishSimulation(ctx context.Context, ev models.SimulationEvent) error {
	if p.simulationTopic == "" {
		return nil
	}
	if err := p.producer.Publish(ctx, p.simulationTopic, pkgkafka.Record{
		Key:     ev.Simulation.Symbol,
		Value:   ev,
		Headers: map[string]string{pkgkafka.HeaderEventType: ev.Type},
	}); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaEventPublisher) Close() error { return nil }

// MultiPublisher fans events out to every publisher and joins their errors.
type MultiPublisher []drepo.EventPublisher

var _ drepo.EventPublisher = MultiPublisher(nil)

func (m MultiPublisher) PublishPrediction(ctx context.Context, res models.PredictionResult) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishPrediction(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) PublishSimulation(ctx context.Context, ev models.SimulationEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishSimulation(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
