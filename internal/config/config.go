package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP             HTTPConfig          `mapstructure:"http"`
	Log              LogConfig           `mapstructure:"log"`
	MySQL            DatabaseConfig      `mapstructure:"mysql"`
	ClickHouse       ClickHouseConfig    `mapstructure:"clickhouse"`
	Redis            RedisConfig         `mapstructure:"redis"`
	Broker           BrokerConfig        `mapstructure:"broker"`
	Kafka            KafkaConfig         `mapstructure:"kafka"`
	RabbitMQ         RabbitMQConfig      `mapstructure:"rabbitmq"`
	Topics           TopicsConfig        `mapstructure:"topics"`
	Outbox           OutboxConfig        `mapstructure:"outbox"`
	Retry            RetryConfig         `mapstructure:"retry"`
	Delivery         DeliveryConfig      `mapstructure:"delivery"`
	EndpointDefaults EndpointDefaults    `mapstructure:"endpoint_defaults"`
	PublisherBreaker BreakerConfig       `mapstructure:"publisher_breaker"`
	RateLimit        RateLimitConfig     `mapstructure:"rate_limit"`
	AttemptExport    AttemptExportConfig `mapstructure:"attempt_export"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr        string `mapstructure:"addr"`
	MetricsAddr string `mapstructure:"metrics_addr"` // workers expose /metrics here
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type ClickHouseConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	DatabaseConfig `mapstructure:",squash"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type BrokerConfig struct {
	Driver string `mapstructure:"driver"` // kafka | rabbitmq
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval int           `mapstructure:"commit_interval_ms"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type RabbitMQConfig struct {
	URL            string        `mapstructure:"url"`
	Exchange       string        `mapstructure:"exchange"`
	Prefetch       int           `mapstructure:"prefetch"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
}

type TopicsConfig struct {
	Events  string `mapstructure:"events"`
	Retries string `mapstructure:"retries"`
}

type OutboxConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type RetryConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	ReclaimInterval   time.Duration `mapstructure:"reclaim_interval"`
	ConsumerWorkers   int           `mapstructure:"consumer_workers"`
}

type DeliveryConfig struct {
	Workers            int           `mapstructure:"workers"`
	ConcurrencyBackoff time.Duration `mapstructure:"concurrency_backoff"`
	BreakerCooldown    time.Duration `mapstructure:"breaker_cooldown"`
	UserAgent          string        `mapstructure:"user_agent"`
	RetryBase          time.Duration `mapstructure:"retry_base"`
	RetryMax           time.Duration `mapstructure:"retry_max"`
	RetryJitter        float64       `mapstructure:"retry_jitter"`
}

type EndpointDefaults struct {
	MaxAttempts             int           `mapstructure:"max_attempts"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	ConcurrencyLimit        int           `mapstructure:"concurrency_limit"`
	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type AttemptExportConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (WHGW_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (WHGW_MYSQL_DSN -> mysql.dsn)
	v.SetEnvPrefix("WHGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
