// Package config loads service configuration from flags, environment,
// an optional config file and defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all settings for cmd/server and cmd/ingest.
type Config struct {
	HTTPAddr    string
	PostgresDSN string
	UseMemory   bool
	DBMaxConns  int32

	TickerURL       string
	UpstreamTimeout time.Duration
	PollInterval    time.Duration
	PollTimeout     time.Duration
	TopN            int
	PruneStale      bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	LogLevel  string
	LogFormat string
}

// CacheEnabled reports whether a Redis address is configured.
func (c *Config) CacheEnabled() bool {
	return c.RedisAddr != ""
}

// EventsEnabled reports whether Kafka brokers are configured.
func (c *Config) EventsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("POSTGRES_DSN", "")
	v.SetDefault("USE_MEMORY", false)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("TICKER_URL", "https://api.wazirx.com/api/v2/tickers")
	v.SetDefault("UPSTREAM_TIMEOUT", "10s")
	v.SetDefault("POLL_INTERVAL", "60s")
	v.SetDefault("POLL_TIMEOUT", "30s")
	v.SetDefault("TOP_N", 10)
	v.SetDefault("PRUNE_STALE", false)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", "60s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "ledger.transactions")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"http-addr":     "HTTP_ADDR",
	"postgres-dsn":  "POSTGRES_DSN",
	"use-memory":    "USE_MEMORY",
	"ticker-url":    "TICKER_URL",
	"poll-interval": "POLL_INTERVAL",
	"log-level":     "LOG_LEVEL",
}

// Load parses args (without the program name) and builds a validated Config.
// A .env file in the working directory is loaded first if present; it never
// overrides variables already set in the environment.
func Load(name string, args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configFile := fs.String("config", "", "Path to a YAML/JSON/TOML config file")
	fs.String("http-addr", "", "HTTP listen address")
	fs.String("postgres-dsn", "", "PostgreSQL connection string")
	fs.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	fs.String("ticker-url", "", "Upstream ticker endpoint")
	fs.Duration("poll-interval", 0, "Price poll interval")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", *configFile, err)
		}
	}

	for flagName, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flagName, err)
		}
	}

	cfg := &Config{
		HTTPAddr:        v.GetString("HTTP_ADDR"),
		PostgresDSN:     v.GetString("POSTGRES_DSN"),
		UseMemory:       v.GetBool("USE_MEMORY"),
		DBMaxConns:      v.GetInt32("DB_MAX_CONNS"),
		TickerURL:       v.GetString("TICKER_URL"),
		UpstreamTimeout: v.GetDuration("UPSTREAM_TIMEOUT"),
		PollInterval:    v.GetDuration("POLL_INTERVAL"),
		PollTimeout:     v.GetDuration("POLL_TIMEOUT"),
		TopN:            v.GetInt("TOP_N"),
		PruneStale:      v.GetBool("PRUNE_STALE"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		RedisPassword:   v.GetString("REDIS_PASSWORD"),
		RedisDB:         v.GetInt("REDIS_DB"),
		CacheTTL:        v.GetDuration("CACHE_TTL"),
		KafkaBrokers:    splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:      v.GetString("KAFKA_TOPIC"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	var problems []string

	if !c.UseMemory && c.PostgresDSN == "" {
		problems = append(problems, "POSTGRES_DSN is required (use --use-memory for in-memory storage)")
	}
	if c.TickerURL == "" {
		problems = append(problems, "TICKER_URL must not be empty")
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "POLL_INTERVAL must be positive")
	}
	if c.PollTimeout <= 0 {
		problems = append(problems, "POLL_TIMEOUT must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		problems = append(problems, "UPSTREAM_TIMEOUT must be positive")
	}
	if c.TopN < 1 {
		problems = append(problems, "TOP_N must be at least 1")
	}
	if c.DBMaxConns < 1 {
		problems = append(problems, "DB_MAX_CONNS must be at least 1")
	}
	if c.CacheTTL <= 0 {
		problems = append(problems, "CACHE_TTL must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
