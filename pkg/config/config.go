package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`
	Redis struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"6379"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size" default:"10"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"5"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
		Prefix       string        `yaml:"prefix" default:"marketsync"`
	} `yaml:"redis"`
	Badger struct {
		Path string `yaml:"path" default:"data/bars"`
	} `yaml:"badger"`
	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		TickersTopic string        `yaml:"tickers_topic" default:"marketsync.tickers"`
		OrdersTopic  string        `yaml:"orders_topic" default:"marketsync.orders"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"gzip"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"1s"`
	} `yaml:"kafka"`
	Sync struct {
		OverallTimeout    time.Duration `yaml:"overall_timeout" default:"30s"`
		FetchTimeout      time.Duration `yaml:"fetch_timeout" default:"10s"`
		CoverageThreshold float64       `yaml:"coverage_threshold" default:"0.9"`
		MaxConcurrent     int           `yaml:"max_concurrent" default:"2"`
		RetryAttempts     int           `yaml:"retry_attempts" default:"3"`
		RetryBackoff      time.Duration `yaml:"retry_backoff" default:"1s"`
		RetryBackoffCap   time.Duration `yaml:"retry_backoff_cap" default:"5s"`
		CacheTTL          time.Duration `yaml:"cache_ttl" default:"10m"`
	} `yaml:"sync"`
	Tickers struct {
		FlushInterval time.Duration `yaml:"flush_interval" default:"1s"`
		PollInterval  time.Duration `yaml:"poll_interval" default:"2s"`
		ErrorBackoff  time.Duration `yaml:"error_backoff" default:"5s"`
	} `yaml:"tickers"`
	Orders struct {
		PassInterval  time.Duration `yaml:"pass_interval" default:"5s"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"1s"`
	} `yaml:"orders"`
	Exchange struct {
		Driver          string        `yaml:"driver" default:"sim"`
		BanSleepSegment time.Duration `yaml:"ban_sleep_segment" default:"60s"`
		RecyclePause    time.Duration `yaml:"recycle_pause" default:"2s"`
	} `yaml:"exchange"`
	Markets []MarketConfig `yaml:"markets"`
}

// MarketConfig describes one tradable market served by this instance.
type MarketConfig struct {
	Symbol    string  `yaml:"symbol"`
	Base      string  `yaml:"base"`
	Quote     string  `yaml:"quote"`
	MakerFee  float64 `yaml:"maker_fee" default:"0.001"`
	TakerFee  float64 `yaml:"taker_fee" default:"0.002"`
	Precision int     `yaml:"precision" default:"8"`
	MinAmount float64 `yaml:"min_amount"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment
// variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("BADGER_PATH"); v != "" {
		c.Badger.Path = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Sync.CoverageThreshold <= 0 || c.Sync.CoverageThreshold > 1 {
		return fmt.Errorf("sync.coverage_threshold must be in (0, 1], got %v", c.Sync.CoverageThreshold)
	}
	if c.Sync.MaxConcurrent < 1 {
		return fmt.Errorf("sync.max_concurrent must be >= 1")
	}
	if c.Sync.RetryAttempts < 1 {
		return fmt.Errorf("sync.retry_attempts must be >= 1")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	for i, m := range c.Markets {
		if m.Symbol == "" || m.Base == "" || m.Quote == "" {
			return fmt.Errorf("markets[%d]: symbol, base and quote are required", i)
		}
	}
	return nil
}
