package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`

	Server struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		RateLimitRPS    float64       `yaml:"rate_limit_rps" default:"50"`
		RateLimitBurst  int           `yaml:"rate_limit_burst" default:"100"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"500ms"`
		CORSOrigins     []string      `yaml:"cors_origins"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Ingest struct {
		Source     string `yaml:"source" default:"kafka"` // kafka, websocket, none
		MaxRPS     int    `yaml:"max_rps" default:"20"`
		BufferSize int    `yaml:"buffer_size" default:"1000"`
	} `yaml:"ingest"`

	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"coin_snapshots"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"flowscope"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	Feed struct {
		WebSocketURL   string        `yaml:"websocket_url"`
		Subscribe      []string      `yaml:"subscribe"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"3s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
	} `yaml:"feed"`

	Redis struct {
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"flowscope"`
	} `yaml:"redis"`

	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"flowscope"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`

	Postgres struct {
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns" default:"5"`
	} `yaml:"postgres"`

	Persistence struct {
		Enabled  bool          `yaml:"enabled" default:"true"`
		Backend  string        `yaml:"backend" default:"memory"` // memory, redis, layered, clickhouse
		Throttle time.Duration `yaml:"throttle" default:"5s"`
		TTL      time.Duration `yaml:"ttl" default:"168h"`
		Breaker  struct {
			MaxFailures uint32        `yaml:"max_failures" default:"5"`
			OpenTimeout time.Duration `yaml:"open_timeout" default:"30s"`
		} `yaml:"breaker"`
	} `yaml:"persistence"`

	Publish struct {
		Backend      string `yaml:"backend" default:"none"` // kafka, redis, none
		FiringTopic  string `yaml:"firing_topic" default:"coin_alert_firings"`
		InsightTopic string `yaml:"insight_topic" default:"coin_insights"`
		LogTopic     string `yaml:"log_topic"`
	} `yaml:"publish"`

	Rules struct {
		Backend string `yaml:"backend" default:"cache"` // cache, postgres
	} `yaml:"rules"`

	Engine EngineConfig `yaml:"engine"`
}

// EngineConfig is the tuning surface consumed by the analytics core.
type EngineConfig struct {
	TPMinPct               float64           `yaml:"tp_min_pct" default:"2"`
	TPMaxPct               float64           `yaml:"tp_max_pct" default:"10"`
	SLMaxPct               float64           `yaml:"sl_max_pct" default:"5"`
	Sensitivity            float64           `yaml:"sensitivity" default:"1"`
	UseATRSizing           bool              `yaml:"use_atr_sizing"`
	AlertCooldown          time.Duration     `yaml:"alert_cooldown" default:"60s"`
	RecommendationCooldown time.Duration     `yaml:"recommendation_cooldown" default:"30s"`
	AlertRules             []AlertRuleConfig `yaml:"alert_rules"`
}

// AlertRuleConfig seeds alert rules from YAML when the store is empty.
type AlertRuleConfig struct {
	ID         string  `yaml:"id"`
	Name       string  `yaml:"name"`
	Metric     string  `yaml:"metric"`
	Comparator string  `yaml:"comparator"`
	Threshold  float64 `yaml:"threshold"`
	Severity   string  `yaml:"severity"`
	Enabled    bool    `yaml:"enabled"`
	Message    string  `yaml:"message"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse applies defaults, decodes YAML over them and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("FEED_URL"); v != "" {
		c.Feed.WebSocketURL = v
	}
	if v := getenv("INGEST_SOURCE"); v != "" {
		c.Ingest.Source = v
	}
	if v := getenv("PERSIST_BACKEND"); v != "" {
		c.Persistence.Backend = v
	}
	if v := getenv("PUBLISH_BACKEND"); v != "" {
		c.Publish.Backend = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
	if v := getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Ingest.Source {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers cannot be empty when ingest.source is kafka")
		}
	case "websocket":
		if c.Feed.WebSocketURL == "" {
			return fmt.Errorf("feed.websocket_url is required when ingest.source is websocket")
		}
	case "none":
	default:
		return fmt.Errorf("ingest.source must be 'kafka', 'websocket' or 'none', got '%s'", c.Ingest.Source)
	}
	switch c.Persistence.Backend {
	case "memory", "redis", "layered":
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required for the clickhouse persistence backend")
		}
	default:
		return fmt.Errorf("persistence.backend must be memory, redis, layered or clickhouse, got '%s'", c.Persistence.Backend)
	}
	switch c.Publish.Backend {
	case "none", "redis":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers cannot be empty when publish.backend is kafka")
		}
	default:
		return fmt.Errorf("publish.backend must be kafka, redis or none, got '%s'", c.Publish.Backend)
	}
	switch c.Rules.Backend {
	case "cache":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for the postgres rule store")
		}
	default:
		return fmt.Errorf("rules.backend must be cache or postgres, got '%s'", c.Rules.Backend)
	}
	return c.Engine.Validate()
}

// Validate checks TP/SL bounds.
func (e *EngineConfig) Validate() error {
	if e.TPMinPct < 0 || e.TPMaxPct <= 0 || e.SLMaxPct <= 0 {
		return fmt.Errorf("engine tp/sl percents must be positive")
	}
	if e.TPMinPct > e.TPMaxPct {
		return fmt.Errorf("engine.tp_min_pct (%.2f) exceeds tp_max_pct (%.2f)", e.TPMinPct, e.TPMaxPct)
	}
	if e.Sensitivity <= 0 {
		return fmt.Errorf("engine.sensitivity must be > 0")
	}
	return nil
}
