package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	predictions      *prometheus.CounterVec
	confidence       prometheus.Gauge
	simsOpened       prometheus.Counter
	simsClosed       *prometheus.CounterVec
	resultPct        prometheus.Histogram
	retrains         *prometheus.CounterVec
	trainSamples     prometheus.Gauge
	correctionWeight *prometheus.GaugeVec
	errorsTotal      *prometheus.CounterVec
	lastPrice        *prometheus.GaugeVec
	latency          *prometheus.HistogramVec
}

// New creates a Recorder registered with the default registry.
func New() *Recorder { return NewWithRegistry(prometheus.DefaultRegisterer) }

// NewWithRegistry creates a Recorder registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		predictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalloop_predictions_total",
			Help: "Predictions by method and direction",
		}, []string{"method", "direction"}),
		confidence: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalloop_prediction_confidence",
			Help: "Confidence of the latest prediction",
		}),
		simsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "signalloop_simulations_opened_total",
			Help: "Simulations opened",
		}),
		simsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalloop_simulations_closed_total",
			Help: "Simulations closed by outcome",
		}, []string{"success"}),
		resultPct: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalloop_simulation_result_pct",
			Help:    "Result of closed simulations in percent",
			Buckets: []float64{-2, -1, -0.5, -0.1, 0, 0.1, 0.5, 1, 2},
		}),
		retrains: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalloop_retrains_total",
			Help: "Retrain attempts by result",
		}, []string{"result"}),
		trainSamples: f.NewGauge(prometheus.GaugeOpts{
			Name: "signalloop_training_samples",
			Help: "Samples used by the latest retrain attempt",
		}),
		correctionWeight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalloop_correction_weight",
			Help: "Learned correction weight per error category",
		}, []string{"category"}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signalloop_errors_total",
			Help: "Errors by kind",
		}, []string{"kind"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalloop_last_price",
			Help: "Last observed price for a symbol",
		}, []string{"symbol"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalloop_operation_duration_seconds",
			Help:    "Duration of engine stages in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordPrediction(method, direction string, confidence float64) {
	r.predictions.WithLabelValues(method, direction).Inc()
	r.confidence.Set(confidence)
}

func (r *Recorder) RecordSimulationOpened() { r.simsOpened.Inc() }

func (r *Recorder) RecordSimulationClosed(success bool, resultPct float64) {
	r.simsClosed.WithLabelValues(strconv.FormatBool(success)).Inc()
	r.resultPct.Observe(resultPct)
}

func (r *Recorder) RecordRetrain(result string, samples int) {
	r.retrains.WithLabelValues(result).Inc()
	r.trainSamples.Set(float64(samples))
}

func (r *Recorder) RecordCorrectionWeight(category string, weight float64) {
	r.correctionWeight.WithLabelValues(category).Set(weight)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
