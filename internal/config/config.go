package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	MySQL       DatabaseConfig    `mapstructure:"mysql"`
	ClickHouse  DatabaseConfig    `mapstructure:"clickhouse"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Usage       UsageConfig       `mapstructure:"usage"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Content     ContentConfig     `mapstructure:"content"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type HTTPConfig struct {
	Addr             string  `mapstructure:"addr"`
	CredentialHeader string  `mapstructure:"credential_header"`
	ManagementRPS    float64 `mapstructure:"management_rps"`
	ManagementBurst  int     `mapstructure:"management_burst"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	UsageTopic     string        `mapstructure:"usage_topic"`
	IdentityTopic  string        `mapstructure:"identity_topic"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval int           `mapstructure:"commit_interval_ms"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type AuthConfig struct {
	CachePrefix  string        `mapstructure:"cache_prefix"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	CacheTimeout time.Duration `mapstructure:"cache_timeout"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

type RateLimitConfig struct {
	Prefix   string           `mapstructure:"prefix"`
	Window   time.Duration    `mapstructure:"window"`
	Timeout  time.Duration    `mapstructure:"timeout"`
	FailOpen bool             `mapstructure:"fail_open"`
	Tiers    map[string]int64 `mapstructure:"tiers"` // optional per-tier ceiling override
}

// Ceilings resolves the per-tier ceiling, applying overrides from the tiers map.
func (c RateLimitConfig) Ceilings() (model.Ceilings, error) {
	out := make(model.Ceilings, len(model.Tiers()))
	for _, t := range model.Tiers() {
		out[t] = t.DailyLimit()
	}
	for name, limit := range c.Tiers {
		t, ok := model.ParseTier(name)
		if !ok {
			return nil, fmt.Errorf("rate_limit.tiers: unknown tier %q", name)
		}
		if limit <= 0 {
			return nil, fmt.Errorf("rate_limit.tiers.%s: ceiling must be positive", name)
		}
		out[t] = limit
	}
	return out, nil
}

type CredentialsConfig struct {
	SecretPrefix string        `mapstructure:"secret_prefix"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
}

type UsageConfig struct {
	Sink         string        `mapstructure:"sink"` // direct | kafka
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"` // worker retry cap
}

type WorkerConfig struct {
	WorkerCount int           `mapstructure:"worker_count"`
	BatchSize   int           `mapstructure:"batch_size"`
	BatchWait   time.Duration `mapstructure:"batch_wait"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type EndpointConfig struct {
	Name      string        `mapstructure:"name"`
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	QueryPath string        `mapstructure:"query_path"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type ContentConfig struct {
	Static      bool             `mapstructure:"static"`
	MaxAttempts int              `mapstructure:"max_attempts"`
	Endpoints   []EndpointConfig `mapstructure:"endpoints"`
}

type SchedulerConfig struct {
	DailySpec        string        `mapstructure:"daily_spec"`
	MonthlySpec      string        `mapstructure:"monthly_spec"`
	CleanupSpec      string        `mapstructure:"cleanup_spec"`
	ExpiredRetention time.Duration `mapstructure:"expired_retention"`
	CleanupLimit     int           `mapstructure:"cleanup_limit"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides
// (DOCVERSE_*, nested keys joined by "_", e.g. DOCVERSE_REDIS_ADDR). A named file that is
// missing or unreadable is an error.
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("DOCVERSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings that would silently disable the decision layer.
func (c Config) Validate() error {
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if c.Auth.CacheTTL <= 0 {
		return fmt.Errorf("auth.cache_ttl must be positive")
	}
	switch c.Usage.Sink {
	case "direct", "kafka":
	default:
		return fmt.Errorf("usage.sink: unknown sink %q", c.Usage.Sink)
	}
	if _, err := c.RateLimit.Ceilings(); err != nil {
		return err
	}
	return nil
}
