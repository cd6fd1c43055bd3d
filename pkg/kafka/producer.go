package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// writer is the subset of *kafka.Writer used by Producer.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes records through a kafka-go writer and records
// per-topic throughput metrics.
type Producer struct {
	writer writer
	comp   string
}

// NewProducer creates a new Producer instance.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := &ProducerConfig{
		RequiredAcks: -1,
		Compression:  "gzip",
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchSize:    100,
		BatchTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	bal := kafka.Balancer(&kafka.LeastBytes{})
	if cfg.HashByKey {
		bal = &kafka.Hash{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     bal,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  parseCompression(cfg.Compression),
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
	}
	return newProducer(w, cfg.Compression), nil
}

func newProducer(w writer, comp string) *Producer {
	initProducerMetrics()
	return &Producer{writer: w, comp: comp}
}

// Record is one outgoing message. Value is sent as-is for []byte and
// string, as JSON otherwise.
type Record struct {
	Key     string
	Value   interface{}
	Headers map[string]string
}

// Header names set on every record.
const (
	HeaderContentType = "content-type"
	HeaderEventType   = "event-type"
)

// Publish sends one record.
func (p *Producer) Publish(ctx context.Context, topic string, rec Record) error {
	return p.PublishBatch(ctx, topic, []Record{rec})
}

// PublishMessage sends an unkeyed record. It satisfies the log collector publisher.
func (p *Producer) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.Publish(ctx, topic, Record{Value: payload})
}

// PublishBatch writes records to topic in a single call, all stamped with the same time.
func (p *Producer) PublishBatch(ctx context.Context, topic string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	start := time.Now()
	msgs := make([]kafka.Message, len(recs))
	var size int64
	for i, r := range recs {
		v, ctype, err := encode(r.Value)
		if err != nil {
			return fmt.Errorf("kafka encode %s: %w", topic, err)
		}
		msgs[i] = kafka.Message{Topic: topic, Value: v, Time: start, Headers: headers(ctype, r.Headers)}
		if r.Key != "" {
			msgs[i].Key = []byte(r.Key)
		}
		size += int64(len(v))
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	observeProducer(topic, p.comp, size, len(msgs), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func headers(ctype string, extra map[string]string) []kafka.Header {
	hs := make([]kafka.Header, 0, len(extra)+1)
	hs = append(hs, kafka.Header{Key: HeaderContentType, Value: []byte(ctype)})
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		hs = append(hs, kafka.Header{Key: k, Value: []byte(extra[k])})
	}
	return hs
}

func encode(value interface{}) ([]byte, string, error) {
	switch v := value.(type) {
	case []byte:
		return v, "application/octet-stream", nil
	case string:
		return []byte(v), "text/plain", nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, "", err
	}
	return b, "application/json", nil
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Gzip
	}
}

var (
	producerMsgs    *prometheus.CounterVec
	producerBytes   *prometheus.CounterVec
	producerLatency *prometheus.HistogramVec
	producerOnce    sync.Once
)

func initProducerMetrics() {
	producerOnce.Do(func() {
		producerMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signalloop_kafka_producer_messages_total",
			Help: "Messages published to Kafka",
		}, []string{"topic", "result"})
		producerBytes = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signalloop_kafka_producer_bytes_total",
			Help: "Payload bytes published to Kafka",
		}, []string{"topic", "compression"})
		producerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalloop_kafka_producer_publish_seconds",
			Help:    "Publish latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
	})
}

func observeProducer(topic, comp string, bytes int64, count int, dur time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMsgs.WithLabelValues(topic, result).Add(float64(count))
	producerBytes.WithLabelValues(topic, comp).Add(float64(bytes))
	producerLatency.WithLabelValues(topic).Observe(dur.Seconds())
}
