package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Auction AuctionConfig `koanf:"auction"`
	CORS    CORSConfig    `koanf:"cors"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	Address         string        `koanf:"address"` // Full address like :8080
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Computed fields
	ReadTimeoutSeconds  int `koanf:"-"`
	WriteTimeoutSeconds int `koanf:"-"`
	IdleTimeoutSeconds  int `koanf:"-"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Address      string        `koanf:"address"` // Alternative to URL
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

// AuctionConfig holds the process-wide options that govern the Work Queue
// and Auction Engine.
type AuctionConfig struct {
	WorkerCount            int           `koanf:"worker_count"`
	QueueHighWater         int           `koanf:"queue_high_water"`
	AuctionSlack           time.Duration `koanf:"auction_slack"`
	PostMaxAttempts        int           `koanf:"post_max_attempts"`
	PostBackoff            []time.Duration `koanf:"post_backoff"`
	EligibilityCacheTTL    time.Duration `koanf:"eligibility_cache_ttl"`
	DailyCounterTimezone   string        `koanf:"daily_counter_timezone"`
	WorkerDeadletterCap    int           `koanf:"worker_deadletter_cap"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
	AllowedMethods []string `koanf:"allowed_methods"`
	AllowedHeaders []string `koanf:"allowed_headers"`
	MaxAge         int      `koanf:"max_age"`
}

// Load loads configuration from defaults, then an optional YAML file, then
// environment variables (AUCTION_ prefixed), in that order of precedence.
func Load(configPath ...string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379",
			Address:      "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			OTLPEndpoint:  "http://localhost:4317",
			SamplingRate:  0.1,
			ExportTimeout: 10 * time.Second,
			BatchTimeout:  5 * time.Second,
		},
		Auction: AuctionConfig{
			WorkerCount:          8,
			QueueHighWater:       80, // 10x worker count
			AuctionSlack:         500 * time.Millisecond,
			PostMaxAttempts:      3,
			PostBackoff:          []time.Duration{500 * time.Millisecond, 2000 * time.Millisecond},
			EligibilityCacheTTL:  60 * time.Second,
			DailyCounterTimezone: "America/New_York",
			WorkerDeadletterCap:  1000,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:8080"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID", "X-Signature"},
			MaxAge:         86400,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	cfgPath := "configs/config.yaml"
	if len(configPath) > 0 && configPath[0] != "" {
		cfgPath = configPath[0]
	}
	if err := k.Load(file.Provider(cfgPath), yaml.Parser()); err != nil {
		// Config file is optional; only the env layer below is required.
	}

	if err := k.Load(env.Provider("AUCTION_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "AUCTION_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.postProcess()

	return &cfg, nil
}

// postProcess computes derived fields after loading.
func (c *Config) postProcess() {
	if c.Server.Address == "" {
		c.Server.Address = fmt.Sprintf(":%d", c.Server.Port)
	}

	c.Server.ReadTimeoutSeconds = int(c.Server.ReadTimeout.Seconds())
	c.Server.WriteTimeoutSeconds = int(c.Server.WriteTimeout.Seconds())
	c.Server.IdleTimeoutSeconds = int(c.Server.IdleTimeout.Seconds())

	if c.Redis.Address == "" && c.Redis.URL != "" {
		if strings.HasPrefix(c.Redis.URL, "redis://") {
			c.Redis.Address = strings.TrimPrefix(c.Redis.URL, "redis://")
		} else {
			c.Redis.Address = c.Redis.URL
		}
	}

	if c.Auction.WorkerCount > 0 && c.Auction.QueueHighWater == 0 {
		c.Auction.QueueHighWater = c.Auction.WorkerCount * 10
	}
}
