// Package runtimeconfig loads the operational knobs of the pipeline (pool
// sizes, retry policy, rate limits, worker counts, batch sizes) via viper,
// as distinct from the table catalog loaded by internal/catalog.
package runtimeconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environment selects behavior that differs between a real run and a test
// harness (e.g. whether missing env vars for connection DSNs are fatal).
type Environment string

const (
	EnvProduction Environment = "production"
	EnvTest       Environment = "test"
)

// Config is the runtime configuration surface, loaded independently of the
// YAML table catalog.
type Config struct {
	Environment Environment   `mapstructure:"environment"`
	Source      DSNConfig     `mapstructure:"source"`
	Replica     DSNConfig     `mapstructure:"replica"`
	Analytics   DSNConfig     `mapstructure:"analytics"`
	Pools       PoolsConfig   `mapstructure:"pools"`
	Retry       RetryConfig   `mapstructure:"retry"`
	RateLimit   RateLimit     `mapstructure:"rate_limit"`
	Workers     WorkersConfig `mapstructure:"workers"`
	Batch       BatchConfig   `mapstructure:"batch"`
	Log         LogConfig     `mapstructure:"log"`
	Monitoring  MonitorConfig `mapstructure:"monitoring"`
	Schema      SchemaConfig  `mapstructure:"schema"`
}

// DSNConfig names the environment variable carrying a connection DSN for one
// of the three pipeline roles. The core never owns credential rotation or
// DSN construction (spec §1 non-goals); it only reads one.
type DSNConfig struct {
	EnvVar string `mapstructure:"env_var"`
}

// PoolsConfig sizes database/sql and pgxpool pools per role.
type PoolsConfig struct {
	SourceMaxOpen    int           `mapstructure:"source_max_open"`
	SourceMaxIdle    int           `mapstructure:"source_max_idle"`
	ReplicaMaxOpen   int           `mapstructure:"replica_max_open"`
	ReplicaMaxIdle   int           `mapstructure:"replica_max_idle"`
	AnalyticsMaxConn int32         `mapstructure:"analytics_max_conn"`
	AnalyticsMinConn int32         `mapstructure:"analytics_min_conn"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
}

// RetryConfig parameterizes internal/resilience.RetryPolicy.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     bool          `mapstructure:"jitter"`
}

// RateLimit bounds SOURCE-side read throughput (spec §4.2, §4.5).
type RateLimit struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// WorkersConfig bounds concurrency in the Scheduler and in the Loader's
// parallel strategy.
type WorkersConfig struct {
	LargeCategoryWorkers int `mapstructure:"large_category_workers"`
	ParallelLoadWorkers  int `mapstructure:"parallel_load_workers"`
}

// BatchConfig sets the batch size of each loader strategy. The catalog's
// per-table batch_size does not override these; it sizes Extractor batches.
type BatchConfig struct {
	StandardBatchSize  int `mapstructure:"standard_batch_size"`
	StreamingBatchSize int `mapstructure:"streaming_batch_size"`
	ChunkedBatchSize   int `mapstructure:"chunked_batch_size"`
	CopyBulkBatchSize  int `mapstructure:"copy_bulk_batch_size"`
	ParallelBatchSize  int `mapstructure:"parallel_batch_size"`
}

// LogConfig mirrors pkg/logger.Config for mapstructure decoding.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MonitorConfig holds monitoring settings. `etl serve` does not read them:
// it listens on the address given by its --addr flag.
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// SchemaConfig configures the two-tier schema-sampling cache.
type SchemaConfig struct {
	LRUSize    int           `mapstructure:"lru_size"`
	RedisAddr  string        `mapstructure:"redis_addr"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	SampleSize int           `mapstructure:"sample_size"`
}

// Load reads runtime configuration from configPath (optional) plus
// environment variables, applying defaults first.
func Load(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read runtime config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal runtime config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runtime config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("environment", "production")

	viper.SetDefault("source.env_var", "CLINICAL_SOURCE_DSN")
	viper.SetDefault("replica.env_var", "CLINICAL_REPLICA_DSN")
	viper.SetDefault("analytics.env_var", "CLINICAL_ANALYTICS_DSN")

	viper.SetDefault("pools.source_max_open", 10)
	viper.SetDefault("pools.source_max_idle", 5)
	viper.SetDefault("pools.replica_max_open", 10)
	viper.SetDefault("pools.replica_max_idle", 5)
	viper.SetDefault("pools.analytics_max_conn", 20)
	viper.SetDefault("pools.analytics_min_conn", 2)
	viper.SetDefault("pools.conn_max_lifetime", "1h")
	viper.SetDefault("pools.conn_max_idle_time", "30m")
	viper.SetDefault("pools.connect_timeout", "10s")

	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.base_delay", "100ms")
	viper.SetDefault("retry.max_delay", "5s")
	viper.SetDefault("retry.multiplier", 2.0)
	viper.SetDefault("retry.jitter", true)

	viper.SetDefault("rate_limit.requests_per_second", 50.0)
	viper.SetDefault("rate_limit.burst", 10)

	viper.SetDefault("workers.large_category_workers", 5)
	viper.SetDefault("workers.parallel_load_workers", 5)

	viper.SetDefault("batch.standard_batch_size", 1000)
	viper.SetDefault("batch.streaming_batch_size", 500)
	viper.SetDefault("batch.chunked_batch_size", 5000)
	viper.SetDefault("batch.copy_bulk_batch_size", 20000)
	viper.SetDefault("batch.parallel_batch_size", 5000)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.addr", ":9102")

	viper.SetDefault("schema.lru_size", 4096)
	viper.SetDefault("schema.redis_addr", "")
	viper.SetDefault("schema.cache_ttl", "24h")
	viper.SetDefault("schema.sample_size", 1000)
}

// Validate checks invariants that the struct tags alone cannot express
// (cross-field and environment-dependent rules).
func (c *Config) Validate() error {
	if c.Environment != EnvProduction && c.Environment != EnvTest {
		return fmt.Errorf("invalid environment: %s (must be %q or %q)", c.Environment, EnvProduction, EnvTest)
	}

	if c.Environment == EnvProduction {
		if c.Source.EnvVar == "" || c.Replica.EnvVar == "" || c.Analytics.EnvVar == "" {
			return fmt.Errorf("source/replica/analytics env var names must be set in production")
		}
	}

	if c.Pools.SourceMaxOpen <= 0 || c.Pools.ReplicaMaxOpen <= 0 || c.Pools.AnalyticsMaxConn <= 0 {
		return fmt.Errorf("pool max sizes must be positive")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}

	if c.Retry.Multiplier < 1.0 {
		return fmt.Errorf("retry.multiplier must be >= 1.0")
	}

	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive")
	}

	if c.Workers.LargeCategoryWorkers <= 0 {
		return fmt.Errorf("workers.large_category_workers must be positive")
	}

	if c.Log.Level == "" {
		return fmt.Errorf("log.level cannot be empty")
	}

	return nil
}
