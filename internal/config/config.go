// Package config loads oracle service configuration from YAML, an optional
// .env file and ORACLE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/oracle_layer/pkg/logger"
)

// Source failure policies for custom feeds.
const (
	PolicyTolerant = "tolerant"
	PolicyStrict   = "strict"
)

// Snapshot backends.
const (
	SnapshotNone    = "none"
	SnapshotRedis   = "redis"
	SnapshotLevelDB = "leveldb"
)

// Config is the root configuration document.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        logger.LoggingConfig `yaml:"logging"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Snapshot       SnapshotConfig       `yaml:"snapshot"`
	ExchangeRate   ExchangeRateConfig   `yaml:"exchange_rate"`
	Outcall        OutcallConfig        `yaml:"outcall"`
	Signing        SigningConfig        `yaml:"signing"`
	Fees           FeesConfig           `yaml:"fees"`
	Feeds          FeedsConfig          `yaml:"feeds"`
	OperatorTokens []string             `yaml:"operator_tokens" env:"ORACLE_OPERATOR_TOKENS"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host           string  `yaml:"host" env:"ORACLE_SERVER_HOST"`
	Port           int     `yaml:"port" env:"ORACLE_SERVER_PORT"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"ORACLE_SERVER_RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"ORACLE_SERVER_RATE_LIMIT_BURST"`
	// AuditLogPath appends operator actions as JSON lines when set.
	AuditLogPath   string  `yaml:"audit_log_path" env:"ORACLE_SERVER_AUDIT_LOG_PATH"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the feed/ledger persistence backend. An empty DSN
// keeps everything in memory.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"ORACLE_DATABASE_DRIVER"`
	DSN             string        `yaml:"dsn" env:"ORACLE_DATABASE_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"ORACLE_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"ORACLE_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"ORACLE_DATABASE_CONN_MAX_LIFETIME"`
	Migrate         bool          `yaml:"migrate" env:"ORACLE_DATABASE_MIGRATE"`
}

// RedisConfig is used by the redis snapshot backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ORACLE_REDIS_ADDR"`
	Password string `yaml:"password" env:"ORACLE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"ORACLE_REDIS_DB"`
}

// SnapshotConfig controls persistence of cache state across restarts.
type SnapshotConfig struct {
	Backend  string `yaml:"backend" env:"ORACLE_SNAPSHOT_BACKEND"`
	Path     string `yaml:"path" env:"ORACLE_SNAPSHOT_PATH"`
	Key      string `yaml:"key" env:"ORACLE_SNAPSHOT_KEY"`
	Schedule string `yaml:"schedule" env:"ORACLE_SNAPSHOT_SCHEDULE"`
}

// ExchangeRateConfig points at the primary and fallback rate services.
type ExchangeRateConfig struct {
	PrimaryURL   string        `yaml:"primary_url" env:"ORACLE_XRC_PRIMARY_URL"`
	FallbackURL  string        `yaml:"fallback_url" env:"ORACLE_XRC_FALLBACK_URL"`
	APIKey       string        `yaml:"api_key" env:"ORACLE_XRC_API_KEY"`
	MaxAttempts  int           `yaml:"max_attempts" env:"ORACLE_XRC_MAX_ATTEMPTS"`
	RetryDelay   time.Duration `yaml:"retry_delay" env:"ORACLE_XRC_RETRY_DELAY"`
	TimestampLag time.Duration `yaml:"timestamp_lag" env:"ORACLE_XRC_TIMESTAMP_LAG"`
	Timeout      time.Duration `yaml:"timeout" env:"ORACLE_XRC_TIMEOUT"`
}

// OutcallConfig tunes the outbound request cache.
type OutcallConfig struct {
	Capacity     int           `yaml:"capacity" env:"ORACLE_OUTCALL_CAPACITY"`
	PollInterval time.Duration `yaml:"poll_interval" env:"ORACLE_OUTCALL_POLL_INTERVAL"`
	WaitTimeout  time.Duration `yaml:"wait_timeout" env:"ORACLE_OUTCALL_WAIT_TIMEOUT"`
	BaseCost     uint64        `yaml:"base_cost" env:"ORACLE_OUTCALL_BASE_COST"`
	PerByteCost  uint64        `yaml:"per_byte_cost" env:"ORACLE_OUTCALL_PER_BYTE_COST"`
	UserAgent    string        `yaml:"user_agent" env:"ORACLE_OUTCALL_USER_AGENT"`
	Timeout      time.Duration `yaml:"timeout" env:"ORACLE_OUTCALL_TIMEOUT"`
}

// SigningConfig derives the attestation key.
type SigningConfig struct {
	KeySeed    string `yaml:"key_seed" env:"ORACLE_SIGNING_KEY_SEED"`
	KeyVersion string `yaml:"key_version" env:"ORACLE_SIGNING_KEY_VERSION"`
	Capacity   int    `yaml:"capacity" env:"ORACLE_SIGNING_CAPACITY"`
}

// FeesConfig prices custom feed resolutions.
type FeesConfig struct {
	FeePerByte uint64 `yaml:"fee_per_byte" env:"ORACLE_FEE_PER_BYTE"`
}

// FeedsConfig holds feed management limits and the cleaner schedule.
type FeedsConfig struct {
	SourcePolicy    string        `yaml:"source_policy" env:"ORACLE_FEEDS_SOURCE_POLICY"`
	MinUpdateFreq   time.Duration `yaml:"min_update_freq" env:"ORACLE_FEEDS_MIN_UPDATE_FREQ"`
	MaxSources      int           `yaml:"max_sources" env:"ORACLE_FEEDS_MAX_SOURCES"`
	CleanerSchedule string        `yaml:"cleaner_schedule" env:"ORACLE_FEEDS_CLEANER_SCHEDULE"`
	CacheSize       int           `yaml:"cache_size" env:"ORACLE_FEEDS_CACHE_SIZE"`
}

// Default returns a configuration usable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Snapshot: SnapshotConfig{
			Backend:  SnapshotNone,
			Path:     "data/snapshot",
			Key:      "oracle:cache-state",
			Schedule: "@every 5m",
		},
		ExchangeRate: ExchangeRateConfig{
			MaxAttempts:  5,
			RetryDelay:   500 * time.Millisecond,
			TimestampLag: 5 * time.Second,
			Timeout:      10 * time.Second,
		},
		Outcall: OutcallConfig{
			Capacity:     300,
			PollInterval: 3 * time.Second,
			WaitTimeout:  24 * time.Second,
			BaseCost:     400_000_000,
			PerByteCost:  100_000,
			UserAgent:    "sybil",
			Timeout:      15 * time.Second,
		},
		Signing: SigningConfig{KeyVersion: "v1", Capacity: 300},
		Fees:    FeesConfig{FeePerByte: 1},
		Feeds: FeedsConfig{
			SourcePolicy:    PolicyTolerant,
			MinUpdateFreq:   5 * time.Minute,
			MaxSources:      5,
			CleanerSchedule: "@every 1m",
			CacheSize:       512,
		},
	}
}

// Load reads configuration from path (optional), then applies .env and
// ORACLE_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Feeds.SourcePolicy) {
	case PolicyTolerant, PolicyStrict:
	default:
		return fmt.Errorf("feeds.source_policy must be %q or %q", PolicyTolerant, PolicyStrict)
	}
	switch strings.ToLower(c.Snapshot.Backend) {
	case "", SnapshotNone, SnapshotLevelDB:
	case SnapshotRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("snapshot backend redis requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown snapshot backend %q", c.Snapshot.Backend)
	}
	if c.ExchangeRate.MaxAttempts <= 0 {
		return fmt.Errorf("exchange_rate.max_attempts must be positive")
	}
	if c.Outcall.Capacity <= 0 || c.Signing.Capacity <= 0 {
		return fmt.Errorf("cache capacities must be positive")
	}
	if c.Outcall.PollInterval <= 0 || c.Outcall.WaitTimeout < c.Outcall.PollInterval {
		return fmt.Errorf("outcall.wait_timeout must be at least one poll_interval")
	}
	if c.Feeds.MaxSources <= 0 {
		return fmt.Errorf("feeds.max_sources must be positive")
	}
	return nil
}
