package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/darkodi/shorts/internal/logger"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	IDs       IDConfig        `yaml:"ids"`
	Tasks     TaskConfig      `yaml:"tasks"`
	Events    EventsConfig    `yaml:"events"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       logger.Config   `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name        string `yaml:"name"` // shown as the page title
	BaseURL     string `yaml:"base_url"`
	Environment string `yaml:"environment"` // "development", "production", "testing"

	MaxURLLength   int      `yaml:"max_url_length"`
	BlockedDomains []string `yaml:"blocked_domains"` // subdomains are blocked too
}

// DatabaseConfig holds persistent store settings
type DatabaseConfig struct {
	Driver       string        `yaml:"driver"` // "postgres" or "sqlite3"
	URL          string        `yaml:"url"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// RedisConfig holds cache connection pool settings
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	PoolTimeout  time.Duration `yaml:"pool_timeout"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// CacheConfig holds cache entry settings
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// IDConfig holds short id generator settings
type IDConfig struct {
	Node int64 `yaml:"node"` // 0-1023, unique per running instance
}

// TaskConfig holds detached task runner settings
type TaskConfig struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// EventsConfig holds the optional goto event stream settings
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"` // empty disables publishing
	Subject string `yaml:"subject"`
}

// RateLimitConfig holds per-client rate limiting settings
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Rate     int           `yaml:"rate"`
	Burst    int           `yaml:"burst"`
	Interval time.Duration `yaml:"interval"`
	Cleanup  time.Duration `yaml:"cleanup"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		App: AppConfig{
			Name:         "shorts",
			Environment:  "development",
			MaxURLLength: 2048,
		},
		Database: DatabaseConfig{
			Driver:       DriverSQLite,
			URL:          "./data/shorts.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			QueryTimeout: 2 * time.Second,
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379/0",
			PoolSize:     10,
			PoolTimeout:  500 * time.Millisecond,
			DialTimeout:  time.Second,
			ReadTimeout:  300 * time.Millisecond,
			WriteTimeout: 300 * time.Millisecond,
		},
		Cache: CacheConfig{
			TTL: time.Hour,
		},
		IDs: IDConfig{
			Node: 1,
		},
		Tasks: TaskConfig{
			Workers:   4,
			QueueSize: 1024,
			Timeout:   3 * time.Second,
		},
		Events: EventsConfig{
			Subject: "shorts.goto",
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Rate:     10,
			Burst:    20,
			Interval: time.Second,
			Cleanup:  5 * time.Minute,
		},
		Log: logger.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and finally environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// Set default BaseURL if not provided
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = fmt.Sprintf("http://localhost:%s", cfg.Server.Port)
	}
	cfg.Log.Environment = cfg.App.Environment

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.ReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getDurationEnv("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.App.Name = getEnv("SERVICE_NAME", c.App.Name)
	c.App.BaseURL = getEnv("BASE_URL", c.App.BaseURL)
	c.App.Environment = getEnv("ENVIRONMENT", c.App.Environment)
	c.App.MaxURLLength = getIntEnv("MAX_URL_LENGTH", c.App.MaxURLLength)
	c.App.BlockedDomains = getListEnv("BLOCKED_DOMAINS", c.App.BlockedDomains)

	c.Database.Driver = getEnv("DATABASE_DRIVER", c.Database.Driver)
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = getIntEnv("DATABASE_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getIntEnv("DATABASE_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.QueryTimeout = getDurationEnv("DATABASE_QUERY_TIMEOUT", c.Database.QueryTimeout)

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Redis.PoolSize = getIntEnv("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.PoolTimeout = getDurationEnv("REDIS_POOL_TIMEOUT", c.Redis.PoolTimeout)
	c.Redis.DialTimeout = getDurationEnv("REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout)
	c.Redis.ReadTimeout = getDurationEnv("REDIS_READ_TIMEOUT", c.Redis.ReadTimeout)
	c.Redis.WriteTimeout = getDurationEnv("REDIS_WRITE_TIMEOUT", c.Redis.WriteTimeout)

	c.Cache.TTL = getDurationEnv("CACHE_TTL", c.Cache.TTL)
	c.IDs.Node = int64(getIntEnv("SHORT_ID_NODE", int(c.IDs.Node)))

	c.Tasks.Workers = getIntEnv("TASK_WORKERS", c.Tasks.Workers)
	c.Tasks.QueueSize = getIntEnv("TASK_QUEUE_SIZE", c.Tasks.QueueSize)
	c.Tasks.Timeout = getDurationEnv("TASK_TIMEOUT", c.Tasks.Timeout)

	c.Events.NATSURL = getEnv("NATS_URL", c.Events.NATSURL)
	c.Events.Subject = getEnv("NATS_SUBJECT", c.Events.Subject)

	c.RateLimit.Enabled = getBoolEnv("RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.Rate = getIntEnv("RATE_LIMIT_RATE", c.RateLimit.Rate)
	c.RateLimit.Burst = getIntEnv("RATE_LIMIT_BURST", c.RateLimit.Burst)
	c.RateLimit.Interval = getDurationEnv("RATE_LIMIT_INTERVAL", c.RateLimit.Interval)
	c.RateLimit.Cleanup = getDurationEnv("RATE_LIMIT_CLEANUP", c.RateLimit.Cleanup)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %s (must be 1-65535)", c.Server.Port)
	}

	if c.App.MaxURLLength < 1 {
		return fmt.Errorf("invalid max url length: %d", c.App.MaxURLLength)
	}

	if c.Database.Driver != DriverPostgres && c.Database.Driver != DriverSQLite {
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return errors.New("database url cannot be empty")
	}
	if c.Database.QueryTimeout <= 0 {
		return errors.New("database query timeout must be positive")
	}

	if c.Redis.URL == "" {
		return errors.New("redis url cannot be empty")
	}
	if c.Redis.PoolTimeout <= 0 {
		return errors.New("redis pool timeout must be positive")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("invalid cache ttl: %s", c.Cache.TTL)
	}

	if c.IDs.Node < 0 || c.IDs.Node > 1023 {
		return fmt.Errorf("invalid short id node: %d (must be 0-1023)", c.IDs.Node)
	}

	if c.Tasks.Workers < 1 || c.Tasks.QueueSize < 1 {
		return errors.New("task workers and queue size must be at least 1")
	}

	validEnvs := map[string]bool{
		"development": true,
		"production":  true,
		"testing":     true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, production, or testing)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// ============================================================
// HELPER FUNCTIONS
// ============================================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

// getListEnv splits a comma separated value, skipping blank entries
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
