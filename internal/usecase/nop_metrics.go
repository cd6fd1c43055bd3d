package usecase

import drepo "SignalLoop/internal/domain/repository"

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordPrediction(string, string, float64) {}
func (NopMetrics) RecordSimulationOpened()                  {}
func (NopMetrics) RecordSimulationClosed(bool, float64)     {}
func (NopMetrics) RecordRetrain(string, int)                {}
func (NopMetrics) RecordCorrectionWeight(string, float64)   {}
func (NopMetrics) RecordError(string)                       {}
func (NopMetrics) RecordLastPrice(string, float64)          {}
func (NopMetrics) RecordLatency(string, float64)            {}

var _ drepo.Metrics = NopMetrics{}
