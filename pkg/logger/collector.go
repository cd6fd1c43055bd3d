package logger

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Publisher ships digests, typically a Kafka producer.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectorConfig struct {
	Interval   time.Duration // digest period, default 30s
	MaxEntries int           // distinct entries that force an early digest, default 100
	Topic      string
	Publisher  Publisher
	Service    string
	// MinLevel is the lowest level collected, default warn.
	MinLevel zerolog.Level
}

// DigestEntry is one distinct log line and how often it repeated.
type DigestEntry struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Caller    string         `json:"caller"`
	Fields    map[string]any `json:"fields,omitempty"`
	Count     int            `json:"count"`
	FirstSeen time.Time      `json:"first_seen"`
	LastSeen  time.Time      `json:"last_seen"`
}

// LogDigest is the payload published per period.
type LogDigest struct {
	Service string        `json:"service,omitempty"`
	From    time.Time     `json:"from"`
	To      time.Time     `json:"to"`
	Total   int           `json:"total"`
	Entries []DigestEntry `json:"entries"`
}

// LogCollector deduplicates log lines by level, message, caller and field
// values, and publishes them as one digest per interval.
type LogCollector struct {
	cfg      CollectorConfig
	minLevel zerolog.Level
	now      func() time.Time

	mu      sync.Mutex
	entries map[uint64]*DigestEntry
	from    time.Time

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewLogCollector(cfg CollectorConfig) *LogCollector {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100
	}
	if cfg.MinLevel == zerolog.DebugLevel || cfg.MinLevel == zerolog.NoLevel {
		cfg.MinLevel = zerolog.WarnLevel
	}
	c := &LogCollector{
		cfg:      cfg,
		minLevel: cfg.MinLevel,
		now:      time.Now,
		entries:  make(map[uint64]*DigestEntry),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.loop()
	return c
}

// Add records one occurrence.
func (c *LogCollector) Add(level, message string, fields map[string]any, caller string) {
	key := fingerprint(level, message, caller, fields)
	now := c.now()

	c.mu.Lock()
	if len(c.entries) == 0 {
		c.from = now
	}
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &DigestEntry{Level: level, Message: message, Caller: caller, Fields: fields, Count: 1, FirstSeen: now, LastSeen: now}
	}
	full := len(c.entries) >= c.cfg.MaxEntries
	c.mu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Flush publishes the pending digest, if any.
func (c *LogCollector) Flush(ctx context.Context) error {
	d, ok := c.take()
	if !ok || c.cfg.Publisher == nil {
		return nil
	}
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, d); err != nil {
		return fmt.Errorf("publish log digest to %s: %w", c.cfg.Topic, err)
	}
	return nil
}

// Close stops the loop after a final flush.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.stop) })
	<-c.done
}

func (c *LogCollector) take() (LogDigest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return LogDigest{}, false
	}
	d := LogDigest{Service: c.cfg.Service, From: c.from, To: c.now(), Entries: make([]DigestEntry, 0, len(c.entries))}
	for _, e := range c.entries {
		d.Entries = append(d.Entries, *e)
		d.Total += e.Count
	}
	c.entries = make(map[uint64]*DigestEntry)

	sort.Slice(d.Entries, func(i, j int) bool {
		if d.Entries[i].Count != d.Entries[j].Count {
			return d.Entries[i].Count > d.Entries[j].Count
		}
		return d.Entries[i].FirstSeen.Before(d.Entries[j].FirstSeen)
	})
	return d, true
}

func (c *LogCollector) loop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			c.flushWithTimeout()
			return
		case <-ticker.C:
			c.flushWithTimeout()
		case <-c.kick:
			c.flushWithTimeout()
		}
	}
}

func (c *LogCollector) flushWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		// the logger itself cannot be used here without feeding the collector
		fmt.Fprintln(os.Stderr, err)
	}
}

func fingerprint(level, message, caller string, fields map[string]any) uint64 {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	fmt.Fprintf(h, "%s\x00%s\x00%s", level, message, caller)
	for _, k := range keys {
		fmt.Fprintf(h, "\x00%s=%v", k, fields[k])
	}
	return h.Sum64()
}
