package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if c.Scheduler.Tick != 20*time.Second || c.Engine.Symbol != "BTCUSDT" || !c.Server.CORS {
		t.Fatalf("unexpected defaults %+v", c.Scheduler)
	}
}

func TestParseKeepsDefaultsForMissingKeys(t *testing.T) {
	c, err := Parse([]byte("engine:\n  symbol: ETHUSDT\nserver:\n  cors: false\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Engine.Symbol != "ETHUSDT" || c.Engine.BarCount != 200 {
		t.Fatalf("unexpected engine %+v", c.Engine)
	}
	if c.Server.CORS {
		t.Fatalf("explicit false must override the default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"postgres without dsn", "ledger:\n  type: postgres\n", "postgres.dsn"},
		{"kafka source disabled", "market:\n  source: kafka\n", "kafka.enabled"},
		{"bad source", "market:\n  source: ftp\n", "Source"},
		{"kafka without brokers", "kafka:\n  enabled: true\n", "kafka.brokers"},
		{"redis queue without redis", "queue:\n  type: redis\n", "redis.enabled"},
		{"bad interval", "engine:\n  interval: 3m\n", "Interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			err = c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SYMBOL":           "SOLUSDT",
		"PORT":             "9090",
		"KAFKA_BROKERS":    "a:9092, b:9092",
		"SCHEDULER_TICK":   "5s",
		"TELEGRAM_TOKEN":   "tok",
		"TELEGRAM_CHAT_ID": "12345",
		"REDIS_PORT":       "not-a-port",
	}
	c := Default()
	c.ApplyEnv(func(k string) string { return env[k] })

	if c.Engine.Symbol != "SOLUSDT" || c.Server.Port != 9090 || c.Scheduler.Tick != 5*time.Second {
		t.Fatalf("env overrides not applied: %s %d %v", c.Engine.Symbol, c.Server.Port, c.Scheduler.Tick)
	}
	if len(c.Kafka.Brokers) != 2 || c.Kafka.Brokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", c.Kafka.Brokers)
	}
	if !c.Telegram.Enabled || c.Telegram.ChatID != 12345 {
		t.Fatalf("expected telegram enabled for chat 12345, got %+v", c.Telegram)
	}
	if c.Redis.Port != 6379 {
		t.Fatalf("unparsable port must keep the default, got %d", c.Redis.Port)
	}
}

func TestLoadRepositoryConfig(t *testing.T) {
	path := filepath.Join("..", "..", "config", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("config file not present: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Market.Source != "binance" || c.Ledger.Type != "memory" {
		t.Fatalf("unexpected config %+v %+v", c.Market, c.Ledger)
	}
}
