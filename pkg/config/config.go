// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wyfcoding/marketcore/pkg/logger"
)

// Config 服务配置
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`

	HTTP        HTTPConfig        `mapstructure:"http"`
	GRPC        GRPCConfig        `mapstructure:"grpc"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Logger      logger.Config     `mapstructure:"logger"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Liquidation LiquidationConfig `mapstructure:"liquidation"`
	Funding     FundingConfig     `mapstructure:"funding"`
	PriceIndex  PriceIndexConfig  `mapstructure:"price_index"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
}

// HTTPConfig 运维 HTTP 服务配置
type HTTPConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// Addr 监听地址
func (c HTTPConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr 监听地址
func (c GRPCConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver             string `mapstructure:"driver"` // mysql, postgres, memory
	DSN                string `mapstructure:"dsn"`
	MaxOpenConns       int    `mapstructure:"max_open_conns"`
	MaxIdleConns       int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime    int    `mapstructure:"conn_max_lifetime"`
	LogEnabled         bool   `mapstructure:"log_enabled"`
	SlowQueryThreshold int    `mapstructure:"slow_query_threshold"`
	AutoMigrate        bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ConnTimeout  int    `mapstructure:"conn_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	Brokers           []string `mapstructure:"brokers"`
	GroupID           string   `mapstructure:"group_id"`
	NotificationTopic string   `mapstructure:"notification_topic"`
	MarkPriceTopic    string   `mapstructure:"mark_price_topic"`
	MaxRetries        int      `mapstructure:"max_retries"`
	RetryBackoff      int      `mapstructure:"retry_backoff"` // 毫秒
	SessionTimeout    int      `mapstructure:"session_timeout"`
	BufferSize        int      `mapstructure:"buffer_size"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// EngineConfig 撮合引擎配置
type EngineConfig struct {
	NodeID        int64 `mapstructure:"node_id"` // snowflake 节点号
	QueueSize     int   `mapstructure:"queue_size"`
	SnapshotDepth int   `mapstructure:"snapshot_depth"`
}

// LiquidationConfig 强平配置
type LiquidationConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	FeeRate       string        `mapstructure:"fee_rate"`
	Slippage      string        `mapstructure:"slippage"`
	PartialRatio  string        `mapstructure:"partial_ratio"`
}

// FundingConfig 资金费率配置
type FundingConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// PriceIndexConfig 价格指数配置
type PriceIndexConfig struct {
	KeyPrefix        string        `mapstructure:"key_prefix"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
	BreakerThreshold uint32        `mapstructure:"breaker_threshold"`
}

// RateLimitConfig HTTP 限流配置，依赖 Redis
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Rate    int  `mapstructure:"rate"` // 每秒请求数
	Burst   int  `mapstructure:"burst"`
}

// Load 从 TOML 文件加载配置，文件不存在时使用默认值，APP_ 前缀环境变量可覆盖
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.GRPC.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers are required when kafka is enabled")
	}
	if c.Engine.QueueSize <= 0 {
		return fmt.Errorf("invalid engine queue size: %d", c.Engine.QueueSize)
	}
	if c.Liquidation.SweepInterval <= 0 {
		return errors.New("liquidation sweep_interval must be positive")
	}
	if c.Funding.CheckInterval <= 0 {
		return errors.New("funding check_interval must be positive")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Rate <= 0 || !c.Redis.Enabled) {
		return errors.New("rate_limit requires redis and a positive rate")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "marketd")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 200)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.group_id", "marketd")
	v.SetDefault("kafka.notification_topic", "market.events")
	v.SetDefault("kafka.mark_price_topic", "market.mark_prices")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)
	v.SetDefault("kafka.session_timeout", 10)
	v.SetDefault("kafka.buffer_size", 4096)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/marketd.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("engine.node_id", 1)
	v.SetDefault("engine.queue_size", 1024)
	v.SetDefault("engine.snapshot_depth", 20)

	v.SetDefault("liquidation.sweep_interval", "1s")
	v.SetDefault("liquidation.fee_rate", "0.005")
	v.SetDefault("liquidation.slippage", "0")
	v.SetDefault("liquidation.partial_ratio", "0")

	v.SetDefault("funding.check_interval", "1m")

	v.SetDefault("price_index.key_prefix", "price:")
	v.SetDefault("price_index.breaker_timeout", "30s")
	v.SetDefault("price_index.breaker_threshold", 5)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rate", 100)
	v.SetDefault("rate_limit.burst", 200)
}
