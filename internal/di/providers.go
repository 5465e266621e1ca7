package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"FlowScope/internal/domain/models"
	"FlowScope/internal/domain/repository"
	"FlowScope/internal/handler/api"
	mid "FlowScope/internal/middleware"
	internalrepo "FlowScope/internal/repository"
	icache "FlowScope/internal/service/cache"
	"FlowScope/internal/service/feedws"
	apimetrics "FlowScope/internal/service/metrics"
	"FlowScope/internal/services/alerting"
	"FlowScope/internal/services/history"
	"FlowScope/internal/services/recommend"
	"FlowScope/internal/usecase"
	"FlowScope/pkg/cache"
	pkgch "FlowScope/pkg/clickhouse"
	"FlowScope/pkg/config"
	xhttp "FlowScope/pkg/http"
	"FlowScope/pkg/http/middleware"
	pkgkafka "FlowScope/pkg/kafka"
	applogger "FlowScope/pkg/logger"
	"FlowScope/pkg/metrics"
	"FlowScope/pkg/queue"
	"FlowScope/pkg/server"
)

const (
	initTimeout       = 10 * time.Second
	clickHouseMaxLoad = history.DefaultMaxLen
	l1CacheSize       = 1024
	l1CacheTTL        = 30 * time.Second
	logFlushInterval  = 30 * time.Second
	logFlushCount     = 100
)

func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry builds the process registry and points the Kafka client metrics at it.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pkgkafka.ProducerRegisterer = reg
	pkgkafka.SetConsumerMetricsRegisterer(reg)
	return reg
}

func ProvideRecorder(reg *prometheus.Registry) *metrics.Recorder {
	return metrics.New(reg)
}

func ProvideMetrics(r *metrics.Recorder) repository.Metrics { return r }

func needsRedis(cfg *config.Config) bool {
	switch cfg.Persistence.Backend {
	case "redis", "layered":
		return true
	}
	return cfg.Publish.Backend == "redis"
}

// ProvideRedisClient returns nil when no component is configured to use Redis.
func ProvideRedisClient(cfg *config.Config, l *applogger.Logger) (*redis.Client, func(), error) {
	if !needsRedis(cfg) {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	l.Info("redis connected", applogger.String("addr", client.Options().Addr))
	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}, nil
}

// ProvideCacheService picks the key/value backend for history and rules.
func ProvideCacheService(cfg *config.Config, client *redis.Client) cache.Service {
	switch cfg.Persistence.Backend {
	case "redis":
		return cache.NewRedisCacheFromClient(client, cfg.Redis.Prefix)
	case "layered":
		return cache.NewLayeredCache(cache.NewRedisCacheFromClient(client, cfg.Redis.Prefix), l1CacheSize, l1CacheTTL)
	}
	return cache.NewMemoryCache(cache.WithMemoryDefaultTTL(cfg.Persistence.TTL))
}

// ProvideClickHouseClient returns nil unless history is stored in ClickHouse.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if cfg.Persistence.Backend != "clickhouse" {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.HistorySchema); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse ready", applogger.String("database", cfg.ClickHouse.Database))
	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}, nil
}

// ProvideHistoryPersister puts remote backends behind a circuit breaker.
func ProvideHistoryPersister(cfg *config.Config, c cache.Service, ch *pkgch.Client, l *applogger.Logger) repository.HistoryPersister {
	var p repository.HistoryPersister
	switch cfg.Persistence.Backend {
	case "clickhouse":
		p = internalrepo.NewClickHouseHistoryStore(ch.DB(), clickHouseMaxLoad, l)
	case "memory":
		return internalrepo.NewCacheHistoryPersister(c, cfg.Persistence.TTL)
	default:
		p = internalrepo.NewCacheHistoryPersister(c, cfg.Persistence.TTL)
	}
	return internalrepo.NewBreakerPersister(p, internalrepo.BreakerSettings{
		Name:        "history-" + cfg.Persistence.Backend,
		MaxFailures: cfg.Persistence.Breaker.MaxFailures,
		OpenTimeout: cfg.Persistence.Breaker.OpenTimeout,
	}, l)
}

func ProvideHistoryStore(cfg *config.Config, p repository.HistoryPersister, l *applogger.Logger) *history.Store {
	return history.New(
		history.WithPersister(p),
		history.WithPersistenceEnabled(cfg.Persistence.Enabled),
		history.WithThrottle(cfg.Persistence.Throttle),
		history.WithLogger(l),
	)
}

func needsProducer(cfg *config.Config) bool {
	return len(cfg.Kafka.Brokers) > 0 && (cfg.Publish.Backend == "kafka" || cfg.Publish.LogTopic != "")
}

// ProvideKafkaProducer returns nil when nothing publishes to Kafka. With a log
// topic configured, aggregated error logs are shipped through it as well.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !needsProducer(cfg) {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	if cfg.Publish.LogTopic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   logFlushInterval,
			CountThreshold: logFlushCount,
			Topic:          cfg.Publish.LogTopic,
			Publisher:      producer,
		})
	}
	return producer, func() {
		l.RemoveCollector()
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}, nil
}

// ProvideQueue returns nil unless firings go to the Redis queue.
func ProvideQueue(cfg *config.Config, client *redis.Client, l *applogger.Logger) *queue.RedisQueue {
	if cfg.Publish.Backend != "redis" || client == nil {
		return nil
	}
	return queue.NewRedisQueue(l, client, queue.Config{}, queue.WithKeyPrefix(cache.Key(cfg.Redis.Prefix, "queue")))
}

func ProvideFiringPublisher(cfg *config.Config, producer *pkgkafka.Producer, q *queue.RedisQueue) repository.FiringPublisher {
	switch {
	case cfg.Publish.Backend == "kafka" && producer != nil:
		return internalrepo.NewKafkaFiringPublisher(producer, cfg.Publish.FiringTopic, cfg.Publish.InsightTopic)
	case cfg.Publish.Backend == "redis" && q != nil:
		return internalrepo.NewQueueFiringPublisher(q)
	}
	return internalrepo.NopFiringPublisher{}
}

func ProvideRuleStore(cfg *config.Config, c cache.Service, l *applogger.Logger) (repository.RuleStore, func(), error) {
	if cfg.Rules.Backend != "postgres" {
		return internalrepo.NewCacheRuleStore(c), func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	store, err := internalrepo.OpenSQLRuleStore(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns)
	if err != nil {
		return nil, nil, fmt.Errorf("rule store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("rule store schema: %w", err)
	}
	return store, func() {
		if err := store.Close(); err != nil {
			l.Warn("rule store close error", applogger.Error(err))
		}
	}, nil
}

// SeedRules converts the YAML rule list. Unknown comparators are dropped.
func SeedRules(in []config.AlertRuleConfig) []models.AlertRule {
	out := make([]models.AlertRule, 0, len(in))
	for _, r := range in {
		out = append(out, models.AlertRule{
			ID:         r.ID,
			Name:       r.Name,
			Metric:     r.Metric,
			Comparator: models.Comparator(r.Comparator),
			Threshold:  r.Threshold,
			Severity:   models.Severity(strings.ToLower(r.Severity)),
			Enabled:    r.Enabled,
			Message:    r.Message,
		})
	}
	return alerting.NormalizeRules(out)
}

// EngineSession builds a session tuned by e. The CLI uses it without the rest of the graph.
func EngineSession(e config.EngineConfig, store *history.Store, opts ...usecase.SessionOption) *usecase.Session {
	base := []usecase.SessionOption{
		usecase.WithRecommender(recommend.New(recommend.WithSizing(recommend.Sizing{
			TPMinPct:    e.TPMinPct,
			TPMaxPct:    e.TPMaxPct,
			SLMaxPct:    e.SLMaxPct,
			Sensitivity: e.Sensitivity,
		}))),
		usecase.WithRuleEvaluator(alerting.NewEvaluator(alerting.WithCooldown(e.AlertCooldown))),
	}
	return usecase.NewSession(usecase.SessionConfig{
		RecommendationCooldown: e.RecommendationCooldown,
		UseATRSizing:           e.UseATRSizing,
		InitialRules:           SeedRules(e.AlertRules),
	}, store, append(base, opts...)...)
}

func ProvideSession(
	cfg *config.Config,
	store *history.Store,
	rules repository.RuleStore,
	pub repository.FiringPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) (*usecase.Session, error) {
	s := EngineSession(cfg.Engine, store,
		usecase.WithRuleStore(rules),
		usecase.WithFiringPublisher(pub),
		usecase.WithMetrics(m),
		usecase.WithSessionLogger(l),
	)
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := s.LoadRules(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ProvideKafkaConsumer returns nil unless snapshots arrive over Kafka.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Ingest.Source != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideSnapshotHandler(cfg *config.Config, s *usecase.Session, m repository.Metrics) *usecase.SnapshotHandler {
	return usecase.NewSnapshotHandler(cfg.Kafka.Topic, s, m)
}

// ProvideSnapshotCollector returns nil unless snapshots arrive over the WebSocket feed.
func ProvideSnapshotCollector(cfg *config.Config, s *usecase.Session, m repository.Metrics, l *applogger.Logger) *usecase.SnapshotCollector {
	if cfg.Ingest.Source != "websocket" {
		return nil
	}
	stream := feedws.New(feedws.Config{
		URL:            cfg.Feed.WebSocketURL,
		Subscribe:      cfg.Feed.Subscribe,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		PingInterval:   cfg.Feed.PingInterval,
		BufferSize:     cfg.Ingest.BufferSize,
	}, l)
	pipe := mid.NewSnapshotPipeline(s, m,
		mid.WithMaxRPS(cfg.Ingest.MaxRPS),
		mid.WithBufferSize(cfg.Ingest.BufferSize),
		mid.WithPipelineLogger(l),
	)
	return usecase.NewSnapshotCollector(stream, pipe, m, l)
}

func healthChecks(redisClient *redis.Client, ch *pkgch.Client, collector *usecase.SnapshotCollector) []api.HealthCheck {
	var checks []api.HealthCheck
	if redisClient != nil {
		checks = append(checks, api.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	if ch != nil {
		checks = append(checks, api.HealthCheck{Name: "clickhouse", Check: ch.Health})
	}
	if collector != nil {
		checks = append(checks, api.HealthCheck{Name: "feed", Check: func(context.Context) error {
			if !collector.IsConnected() {
				return feedws.ErrNotConnected
			}
			return nil
		}})
	}
	return checks
}

func ProvideHTTPServer(
	cfg *config.Config,
	s *usecase.Session,
	reg *prometheus.Registry,
	rec *metrics.Recorder,
	l *applogger.Logger,
	redisClient *redis.Client,
	ch *pkgch.Client,
	collector *usecase.SnapshotCollector,
) *xhttp.Server {
	h := api.NewAnalyticsHandler(l, s,
		api.WithAPIMetrics(apimetrics.NewAPIMetrics(reg)),
		api.WithReportCache(icache.NewTTLCache()),
		api.WithHealthChecks(healthChecks(redisClient, ch, collector)...),
	)
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithRateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithLogger(l),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(cfg.Metrics.Path, rec.Handler(), middleware.NewHTTPMetrics(reg), cfg.Server.SlowRequest))
	}
	return xhttp.NewServer(h, opts...)
}

func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	s *usecase.Session,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	kh *usecase.SnapshotHandler,
	collector *usecase.SnapshotCollector,
) *server.App {
	return server.New(cfg, l, s, httpServer,
		server.WithConsumer(consumer, kh),
		server.WithCollector(collector),
	)
}
