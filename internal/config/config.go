// Package config binds the server settings to command line flags and their
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/urfave/cli/v2"
)

// Config holds the server settings.
type Config struct {
	Port          string
	DatabaseURL   string
	RedisURL      string
	BoltPath      string
	KafkaBrokers  string
	KafkaTopic    string
	CacheTTL      time.Duration
	LocalCache    bool
	RateLimit     string
	AuditInterval time.Duration
	Debug         bool
}

// Flags returns the flags the server accepts.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "port", Value: "8080", Usage: "http listen port", EnvVars: []string{"PORT"}},
		&cli.StringFlag{Name: "database_url", Usage: "postgres dsn, source of truth when set", EnvVars: []string{"DATABASE_URL"}},
		&cli.StringFlag{Name: "redis_url", Usage: "redis url for the read-through cache", EnvVars: []string{"REDIS_URL"}},
		&cli.StringFlag{Name: "bolt_path", Usage: "bolt db dir, used when no database_url is set", EnvVars: []string{"BOLT_PATH"}},
		&cli.StringFlag{Name: "kafka_brokers", Usage: "comma separated kafka brokers for the event stream", EnvVars: []string{"KAFKA_BROKERS"}},
		&cli.StringFlag{Name: "kafka_topic", Value: "escrow_events", EnvVars: []string{"KAFKA_TOPIC"}},
		&cli.DurationFlag{Name: "cache_ttl", Value: 30 * time.Second, EnvVars: []string{"CACHE_TTL"}},
		&cli.BoolFlag{Name: "local_cache", Usage: "cache records in process when no redis_url is set", EnvVars: []string{"LOCAL_CACHE"}},
		&cli.StringFlag{Name: "rate_limit", Value: "100-S", Usage: "per-ip request rate, <limit>-<S|M|H|D>", EnvVars: []string{"RATE_LIMIT"}},
		&cli.DurationFlag{Name: "audit_interval", Value: time.Minute, EnvVars: []string{"AUDIT_INTERVAL"}},
		&cli.BoolFlag{Name: "debug", Usage: "log at debug level", EnvVars: []string{"DEBUG"}},
	}
}

// FromContext reads and validates the flag values.
func FromContext(c *cli.Context) (*Config, error) {
	cfg := &Config{
		Port:          c.String("port"),
		DatabaseURL:   c.String("database_url"),
		RedisURL:      c.String("redis_url"),
		BoltPath:      c.String("bolt_path"),
		KafkaBrokers:  c.String("kafka_brokers"),
		KafkaTopic:    c.String("kafka_topic"),
		CacheTTL:      c.Duration("cache_ttl"),
		LocalCache:    c.Bool("local_cache"),
		RateLimit:     c.String("rate_limit"),
		AuditInterval: c.Duration("audit_interval"),
		Debug:         c.Bool("debug"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the flag parser cannot.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("config: port is required")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: cache_ttl must be positive")
	}
	if c.AuditInterval <= 0 {
		return fmt.Errorf("config: audit_interval must be positive")
	}
	if c.RateLimit != "" {
		if _, err := limiter.NewRateFromFormatted(c.RateLimit); err != nil {
			return fmt.Errorf("config: rate_limit: %w", err)
		}
	}
	return nil
}

// StoreKind names the primary store the settings select.
func (c *Config) StoreKind() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.BoltPath != "":
		return "bolt"
	default:
		return "memory"
	}
}
