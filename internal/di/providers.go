package di

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	drepo "SignalLoop/internal/domain/repository"
	"SignalLoop/internal/handler/api"
	internalrepo "SignalLoop/internal/repository"
	"SignalLoop/internal/service/binance"
	"SignalLoop/internal/service/notify"
	"SignalLoop/internal/service/ratelimit"
	"SignalLoop/internal/services/correction"
	"SignalLoop/internal/services/ensemble"
	"SignalLoop/internal/services/features"
	"SignalLoop/internal/services/signals"
	"SignalLoop/internal/usecase"
	"SignalLoop/pkg/cache"
	pkgch "SignalLoop/pkg/clickhouse"
	"SignalLoop/pkg/config"
	xhttp "SignalLoop/pkg/http"
	pkgkafka "SignalLoop/pkg/kafka"
	applogger "SignalLoop/pkg/logger"
	"SignalLoop/pkg/metrics"
	pkgpg "SignalLoop/pkg/postgres"
	"SignalLoop/pkg/queue"
	"SignalLoop/pkg/server"
)

const connectTimeout = 10 * time.Second

const serviceName = "signalloop"

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
		Service:    serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment), applogger.String("symbol", cfg.Engine.Symbol)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideRedisCache connects to Redis when enabled. It returns nil otherwise.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdle, cfg.Redis.Timeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideCache selects the cache backing state slots, the retrain lock and the stats cache.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) (cache.Service, func()) {
	if cfg.Cache.Type == "redis" && rc != nil {
		return rc, func() {}
	}
	mc := cache.NewMemoryCache(
		cache.WithMemoryMaxSize(cfg.Cache.MaxSize),
		cache.WithMemoryCleanup(cfg.Cache.CleanupInterval),
	)
	return mc, func() { _ = mc.Close() }
}

// ProvidePostgresClient connects when the postgres ledger is selected. It returns nil otherwise.
func ProvidePostgresClient(cfg *config.Config) (*pkgpg.Client, func(), error) {
	if cfg.Ledger.Type != "postgres" {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pg, err := pkgpg.NewClient(ctx, pkgpg.Config{
		DSN:             cfg.Postgres.DSN,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}
	if cfg.Postgres.Migrate {
		if err := pg.Migrate(ctx, internalrepo.PostgresSchema); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
	}
	return pg, func() { _ = pg.Close() }, nil
}

// ProvideClickHouseClient creates a ClickHouse client when enabled. It returns nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if cfg.ClickHouse.InitSchema {
		if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideKafkaProducer creates a Kafka producer when enabled. It returns nil otherwise.
func ProvideKafkaProducer(cfg *config.Config, log *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.BatchSize, cfg.Kafka.BatchTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	if cfg.Log.Collector.Enabled {
		log.AddCollector(applogger.CollectorConfig{
			Interval:   cfg.Log.Collector.Interval,
			MaxEntries: cfg.Log.Collector.CountThreshold,
			Topic:      cfg.Log.Collector.Topic,
			Publisher:  producer,
			Service:    serviceName,
		})
	}
	return producer, func() {
		log.RemoveCollector()
		_ = producer.Close()
	}, nil
}

// ProvideLedger selects the simulation ledger.
func ProvideLedger(cfg *config.Config, pg *pkgpg.Client) drepo.SimulationLedger {
	if pg != nil {
		return internalrepo.NewPostgresLedger(pg, cfg.Engine.Symbol)
	}
	return internalrepo.NewMemoryLedger()
}

// ProvideStateStore keeps trained state next to the ledger when it is durable.
func ProvideStateStore(cfg *config.Config, pg *pkgpg.Client, c cache.Service) drepo.StateStore {
	if pg != nil {
		return internalrepo.NewPostgresStateStore(pg)
	}
	return internalrepo.NewCacheStateStore(c, cfg.Engine.StatePrefix, 0)
}

// ProvideOutcomeArchive archives closed simulations to ClickHouse when enabled.
func ProvideOutcomeArchive(cfg *config.Config, ch *pkgch.Client) drepo.OutcomeArchive {
	if ch == nil || !cfg.ClickHouse.ArchiveOutcomes {
		return nil
	}
	return internalrepo.NewCHOutcomeArchive(ch)
}

// ProvideEventPublisher fans events out to Kafka and Telegram, whichever are enabled.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) (drepo.EventPublisher, error) {
	var pubs internalrepo.MultiPublisher
	if producer != nil {
		pubs = append(pubs, internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topics.Predictions, cfg.Kafka.Topics.Simulations))
	}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		pubs = append(pubs, tg)
	}
	if len(pubs) == 0 {
		return nil, nil
	}
	return pubs, nil
}

// MarketData is the market side of one engine.
type MarketData struct {
	Bars   drepo.BarSupplier
	Oracle drepo.PriceOracle
	// Stream is set for the realtime binance source.
	Stream drepo.MarketStream
	// Consumer is set for the kafka source.
	Consumer *pkgkafka.Consumer
}

// ProvideMarketData builds bar and price sources for market.source.
func ProvideMarketData(cfg *config.Config, log *applogger.Logger, ch *pkgch.Client, m drepo.Metrics) (*MarketData, error) {
	iv := drepo.NormalizeInterval(cfg.Engine.Interval)
	rest := binance.NewREST(cfg.Market.RestURL, cfg.Engine.Symbol, iv, xhttp.NewClient(
		xhttp.WithTimeout(cfg.Market.RequestTimeout),
		xhttp.WithRateLimit(cfg.Market.RateLimitRPS, 5),
		xhttp.WithRetry(15*time.Second),
	))

	switch cfg.Market.Source {
	case "synthetic":
		syn := binance.NewSynthetic(cfg.Market.Synthetic.Seed, cfg.Market.Synthetic.Price, iv, cfg.Market.Window, time.Now)
		return &MarketData{Bars: syn, Oracle: syn}, nil

	case "kafka":
		var sink usecase.BarSink
		if ch != nil {
			store := internalrepo.NewCHBarStore(ch, cfg.Engine.Symbol, iv)
			store.SetLogger(log)
			sink = store
		}
		feed := usecase.NewBarFeed(cfg.Kafka.Topics.Bars, cfg.Engine.Symbol, cfg.Market.Window, sink, m)
		consumer, err := pkgkafka.NewConsumer(log,
			pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
			pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
			pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
			pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
			pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
		consumer.RegisterHandler(feed)
		return &MarketData{Bars: feed, Oracle: feed, Consumer: consumer}, nil

	case "clickhouse":
		if ch == nil {
			return nil, fmt.Errorf("market.source clickhouse requires a clickhouse client")
		}
		store := internalrepo.NewCHBarStore(ch, cfg.Engine.Symbol, iv)
		store.SetLogger(log)
		return &MarketData{Bars: store, Oracle: rest}, nil

	default:
		if !cfg.Market.Realtime {
			return &MarketData{Bars: rest, Oracle: rest}, nil
		}
		stream := binance.NewStream(binance.StreamConfig{
			URL:            cfg.Market.StreamURL,
			Symbol:         cfg.Engine.Symbol,
			Interval:       iv,
			Window:         cfg.Market.Window,
			PingInterval:   cfg.Market.PingInterval,
			ReconnectDelay: cfg.Market.ReconnectDelay,
			StaleAfter:     cfg.Market.StaleAfter,
		}, rest, log)
		fo := binance.NewFailover(stream, rest, log)
		return &MarketData{Bars: fo, Oracle: fo, Stream: stream}, nil
	}
}

// ProvideEngine assembles the forecasting pipeline.
func ProvideEngine(
	cfg *config.Config,
	log *applogger.Logger,
	md *MarketData,
	ledger drepo.SimulationLedger,
	state drepo.StateStore,
	locker cache.Service,
	archive drepo.OutcomeArchive,
	events drepo.EventPublisher,
	m drepo.Metrics,
) *usecase.Engine {
	ec := cfg.Engine
	learner := correction.NewLearner(
		correction.WithRecentCapacity(ec.Correction.RecentCapacity),
		correction.WithOptimize(ec.Correction.OptimizeWindow, ec.Correction.OptimizeTopN, ec.Correction.OptimizeMin, ec.Correction.OptimizeStep),
	)
	predictor := ensemble.NewPredictor(
		ensemble.WithAdjuster(learner),
		ensemble.WithLabels(ledger),
		ensemble.WithLogger(log),
		ensemble.WithRetrainPolicy(ec.Retrain.MinSamples, ec.Retrain.RetrainMin, ec.Retrain.RetrainAfter),
		ensemble.WithForest(ec.Forest.Size, ec.Forest.Seed),
		ensemble.WithMaxSamples(ec.Retrain.MaxSamples),
	)

	simOpts := []usecase.SimulationOption{
		usecase.WithMinDwell(ec.MinDwell),
		usecase.WithEpsilon(ec.EpsilonPct),
		usecase.WithIDGenerator(uuid.NewString),
		usecase.WithSimulationMetrics(m),
	}
	engineOpts := []usecase.EngineOption{
		usecase.WithStateStore(state),
		usecase.WithLocker(locker),
		usecase.WithEngineMetrics(m),
		usecase.WithBarCount(ec.BarCount),
	}
	if archive != nil {
		simOpts = append(simOpts, usecase.WithArchive(archive))
	}
	if events != nil {
		simOpts = append(simOpts, usecase.WithEvents(events))
		engineOpts = append(engineOpts, usecase.WithPredictionEvents(events))
	}
	if md.Stream != nil {
		engineOpts = append(engineOpts, usecase.WithStream(md.Stream))
	}

	sims := usecase.NewSimulationManager(ec.Symbol, ledger, predictor, learner, log, simOpts...)
	return usecase.NewEngine(ec.Symbol, md.Bars, md.Oracle, ledger,
		features.NewExtractor(), signals.NewScorer(), predictor, learner, sims, log, engineOpts...)
}

// JobQueue is the background queue for asynchronous retrains.
type JobQueue interface {
	queue.Publisher
	RegisterJob(job queue.Job)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ProvideJobQueue creates the retrain queue when enabled. It returns nil otherwise.
func ProvideJobQueue(cfg *config.Config, log *applogger.Logger, rc *cache.RedisCache, engine *usecase.Engine) JobQueue {
	if !cfg.Queue.Enabled {
		return nil
	}
	qc := queue.Config{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
		KeyPrefix:  cfg.Queue.KeyPrefix,
	}
	var q JobQueue
	if cfg.Queue.Type == "redis" && rc != nil {
		q = queue.NewRedisQueue(log, qc, rc.Client())
	} else {
		q = queue.NewMemoryQueue(log, qc, cfg.Queue.Size)
	}
	q.RegisterJob(usecase.NewRetrainJob(engine, log))
	return q
}

// ProvideScheduler creates the tick loop.
func ProvideScheduler(cfg *config.Config, log *applogger.Logger, engine *usecase.Engine, m drepo.Metrics) *usecase.Scheduler {
	sc := cfg.Scheduler
	return usecase.NewScheduler(usecase.SchedulerConfig{
		Tick:         sc.Tick,
		OpenEvery:    sc.OpenEvery,
		CloseEvery:   sc.CloseEvery,
		LearnEvery:   sc.LearnEvery,
		StatsEvery:   sc.StatsEvery,
		StepTimeout:  sc.StepTimeout,
		LearnTimeout: sc.LearnTimeout,
	}, engine, m, log)
}

// ProvideHTTPServer registers the engine API on an Echo server.
func ProvideHTTPServer(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.Engine,
	c cache.Service,
	jobs JobQueue,
	pg *pkgpg.Client,
	ch *pkgch.Client,
	rc *cache.RedisCache,
) *xhttp.Server {
	opts := []api.EngineOption{
		api.WithStatsCache(c, cfg.Engine.StatsCacheTTL),
		api.WithLimiter(ratelimit.New(cfg.Server.RateLimit.Capacity, cfg.Server.RateLimit.RefillPerSec)),
	}
	if jobs != nil {
		opts = append(opts, api.WithRetrainQueue(jobs))
	}
	if pg != nil {
		opts = append(opts, api.WithHealthCheck("postgres", pg.Health))
	}
	if ch != nil {
		opts = append(opts, api.WithHealthCheck("clickhouse", ch.Health))
	}
	if rc != nil {
		opts = append(opts, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return rc.Client().Ping(ctx).Err()
		}))
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(api.NewEngineEchoHandler(log, engine, opts...), log,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetrics(metricsPath, nil, nil),
	)
}

// ProvideApp orders the components: state restore and market data first,
// then background workers, then the scheduler and the HTTP server.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	engine *usecase.Engine,
	md *MarketData,
	jobs JobQueue,
	sched *usecase.Scheduler,
	srv *xhttp.Server,
	events drepo.EventPublisher,
) *server.App {
	components := []server.Component{
		server.Func("engine", func(ctx context.Context) error {
			rctx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			if err := engine.Restore(rctx); err != nil {
				log.Warn("state restore failed, starting untrained", applogger.Error(err))
			}
			return nil
		}, func(context.Context) error {
			if events != nil {
				return events.Close()
			}
			return nil
		}),
	}
	if md.Stream != nil {
		components = append(components, server.Func("market-stream", md.Stream.Start,
			func(context.Context) error { return md.Stream.Close() }))
	}
	if md.Consumer != nil {
		components = append(components, server.Func("bar-consumer", md.Consumer.Start, md.Consumer.Stop))
	}
	if jobs != nil {
		components = append(components, server.Func("job-queue", jobs.Start, jobs.Stop))
	}
	components = append(components, schedulerComponent(sched), server.Func("http",
		func(context.Context) error { return srv.Start() }, srv.Stop))

	return server.New(log, cfg.Server.ShutdownTimeout, components...).WithFatal(srv.Errors())
}

func schedulerComponent(s *usecase.Scheduler) server.Component {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	return server.Func("scheduler", func(ctx context.Context) error {
		var runCtx context.Context
		runCtx, cancel = context.WithCancel(ctx)
		done = make(chan struct{})
		go func() {
			defer close(done)
			_ = s.Run(runCtx)
		}()
		return nil
	}, func(ctx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("scheduler did not stop: %w", ctx.Err())
		}
	})
}
