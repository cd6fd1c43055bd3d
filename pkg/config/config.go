package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"SignalLoop/pkg/util"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Log         LogConfig        `yaml:"log"`
	Engine      EngineConfig     `yaml:"engine"`
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
	Market      MarketConfig     `yaml:"market"`
	Ledger      LedgerConfig     `yaml:"ledger"`
	Postgres    PostgresConfig   `yaml:"postgres"`
	Redis       RedisConfig      `yaml:"redis"`
	Cache       CacheConfig      `yaml:"cache"`
	Queue       QueueConfig      `yaml:"queue"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Telegram    TelegramConfig   `yaml:"telegram"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
	CORS            bool          `yaml:"cors" default:"true"`
	RateLimit       struct {
		Capacity     float64 `yaml:"capacity" default:"5"`
		RefillPerSec float64 `yaml:"refill_per_sec" default:"0.1"`
	} `yaml:"rate_limit"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type LogConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output     string `yaml:"output" default:"stdout"`
	TimeFormat string `yaml:"time_format"`
	Collector  struct {
		Enabled        bool          `yaml:"enabled"`
		Topic          string        `yaml:"topic" default:"signalloop.logs"`
		Interval       time.Duration `yaml:"interval" default:"30s"`
		CountThreshold int           `yaml:"count_threshold" default:"100"`
	} `yaml:"collector"`
}

type EngineConfig struct {
	Symbol        string        `yaml:"symbol" default:"BTCUSDT" validate:"required"`
	Interval      string        `yaml:"interval" default:"1m" validate:"oneof=1m 5m 15m 1h"`
	BarCount      int           `yaml:"bar_count" default:"200" validate:"gte=50"`
	MinDwell      time.Duration `yaml:"min_dwell" default:"2m"`
	EpsilonPct    float64       `yaml:"epsilon_pct" default:"0.1" validate:"gte=0"`
	StatsCacheTTL time.Duration `yaml:"stats_cache_ttl" default:"5s"`
	StatePrefix   string        `yaml:"state_prefix" default:"signalloop:state"`
	Retrain       struct {
		MinSamples   int `yaml:"min_samples" default:"10"`
		RetrainMin   int `yaml:"retrain_min" default:"50"`
		RetrainAfter int `yaml:"retrain_after" default:"50"`
		MaxSamples   int `yaml:"max_samples" default:"5000"`
	} `yaml:"retrain"`
	Forest struct {
		Size int   `yaml:"size" default:"25"`
		Seed int64 `yaml:"seed" default:"42"`
	} `yaml:"forest"`
	Correction struct {
		RecentCapacity int     `yaml:"recent_capacity" default:"200"`
		OptimizeWindow int     `yaml:"optimize_window" default:"50"`
		OptimizeTopN   int     `yaml:"optimize_top_n" default:"5"`
		OptimizeMin    int     `yaml:"optimize_min_freq" default:"5"`
		OptimizeStep   float64 `yaml:"optimize_step" default:"0.1"`
	} `yaml:"correction"`
}

type SchedulerConfig struct {
	Tick         time.Duration `yaml:"tick" default:"20s"`
	OpenEvery    int           `yaml:"open_every" default:"15"`
	CloseEvery   int           `yaml:"close_every" default:"6"`
	LearnEvery   int           `yaml:"learn_every" default:"30"`
	StatsEvery   int           `yaml:"stats_every" default:"60"`
	StepTimeout  time.Duration `yaml:"step_timeout" default:"10s"`
	LearnTimeout time.Duration `yaml:"learn_timeout" default:"5m"`
}

type MarketConfig struct {
	Source         string        `yaml:"source" default:"binance" validate:"oneof=binance synthetic kafka clickhouse"`
	RestURL        string        `yaml:"rest_url" default:"https://api.binance.com"`
	StreamURL      string        `yaml:"stream_url" default:"wss://stream.binance.com:9443/ws"`
	Realtime       bool          `yaml:"realtime" default:"true"`
	Window         int           `yaml:"window" default:"500"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"1s"`
	StaleAfter     time.Duration `yaml:"stale_after" default:"30s"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps" default:"10"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"10s"`
	Synthetic      struct {
		Seed  int64   `yaml:"seed" default:"7"`
		Price float64 `yaml:"price" default:"60000"`
	} `yaml:"synthetic"`
}

type LedgerConfig struct {
	Type string `yaml:"type" default:"memory" validate:"oneof=memory postgres"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
	Migrate         bool          `yaml:"migrate" default:"true"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host" default:"localhost"`
	Port     int           `yaml:"port" default:"6379"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size" default:"10"`
	MinIdle  int           `yaml:"min_idle_conns" default:"2"`
	Timeout  time.Duration `yaml:"pool_timeout" default:"4s"`
	Prefix   string        `yaml:"prefix" default:"signalloop"`
}

type CacheConfig struct {
	Type            string        `yaml:"type" default:"memory" validate:"oneof=memory redis"`
	MaxSize         int           `yaml:"max_size" default:"10000"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1m"`
}

type QueueConfig struct {
	Enabled    bool          `yaml:"enabled" default:"true"`
	Type       string        `yaml:"type" default:"memory" validate:"oneof=memory redis"`
	Workers    int           `yaml:"workers" default:"1"`
	RetryLimit int           `yaml:"retry_limit" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
	Size       int           `yaml:"size" default:"16"`
	KeyPrefix  string        `yaml:"key_prefix" default:"signalloop:queue"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Compression  string        `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	RequiredAcks int           `yaml:"required_acks" default:"1"`
	BatchSize    int           `yaml:"batch_size" default:"100"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"100ms"`
	Async        bool          `yaml:"async"`
	Topics       struct {
		Predictions string `yaml:"predictions" default:"signalloop.predictions"`
		Simulations string `yaml:"simulations" default:"signalloop.simulations"`
		Bars        string `yaml:"bars" default:"signalloop.bars"`
	} `yaml:"topics"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"signalloop"`
		Workers    int           `yaml:"workers" default:"1"`
		RetryMax   uint64        `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic" default:"signalloop.bars.dlq"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host" default:"localhost"`
	Port            int           `yaml:"port" default:"9000"`
	Database        string        `yaml:"database" default:"signalloop"`
	User            string        `yaml:"user" default:"default"`
	Password        string        `yaml:"password"`
	UseHTTP         bool          `yaml:"use_http"`
	AsyncInsert     bool          `yaml:"async_insert"`
	DialTimeout     time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
	ArchiveOutcomes bool          `yaml:"archive_outcomes" default:"true"`
	InitSchema      bool          `yaml:"init_schema" default:"true"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

var validate = validator.New()

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from the environment. Unset or unparsable values are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("ENVIRONMENT", &c.Environment)
	str("LOG_LEVEL", &c.Log.Level)
	str("SYMBOL", &c.Engine.Symbol)
	str("INTERVAL", &c.Engine.Interval)
	str("MARKET_SOURCE", &c.Market.Source)
	str("LEDGER_TYPE", &c.Ledger.Type)
	str("POSTGRES_DSN", &c.Postgres.DSN)
	str("REDIS_HOST", &c.Redis.Host)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("TELEGRAM_TOKEN", &c.Telegram.Token)

	c.Server.Port = util.ParseIntDefault(getenv("PORT"), c.Server.Port)
	c.Redis.Port = util.ParseIntDefault(getenv("REDIS_PORT"), c.Redis.Port)
	c.Redis.Enabled = util.ParseBoolDefault(getenv("REDIS_ENABLED"), c.Redis.Enabled)
	c.Kafka.Enabled = util.ParseBoolDefault(getenv("KAFKA_ENABLED"), c.Kafka.Enabled)
	c.ClickHouse.Enabled = util.ParseBoolDefault(getenv("CLICKHOUSE_ENABLED"), c.ClickHouse.Enabled)
	c.Scheduler.Tick = util.ParseDurationDefault(getenv("SCHEDULER_TICK"), c.Scheduler.Tick)
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
	}
	if v := getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = int64(util.ParseIntDefault(v, int(c.Telegram.ChatID)))
		c.Telegram.Enabled = c.Telegram.Token != ""
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Ledger.Type == "postgres" && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required for ledger.type postgres")
	}
	if c.Market.Source == "kafka" && !c.Kafka.Enabled {
		return fmt.Errorf("market.source kafka requires kafka.enabled")
	}
	if c.Market.Source == "clickhouse" && !c.ClickHouse.Enabled {
		return fmt.Errorf("market.source clickhouse requires clickhouse.enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if (c.Cache.Type == "redis" || c.Queue.Type == "redis") && !c.Redis.Enabled {
		return fmt.Errorf("redis cache or queue requires redis.enabled")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if c.Log.Collector.Enabled && !c.Kafka.Enabled {
		return fmt.Errorf("log.collector requires kafka.enabled")
	}
	return nil
}
