// Package config defines the service configuration, its defaults and
// validation rules.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration. It decodes from TOML or YAML.
type Config struct {
	LogLevel  string          `toml:"log_level" yaml:"log_level"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Store     StoreConfig     `toml:"store" yaml:"store"`
	Postgres  PostgresConfig  `toml:"postgres" yaml:"postgres"`
	SQLite    SQLiteConfig    `toml:"sqlite" yaml:"sqlite"`
	Redis     RedisConfig     `toml:"redis" yaml:"redis"`
	PriceFeed PriceFeedConfig `toml:"price_feed" yaml:"price_feed"`
	Pairs     PairsConfig     `toml:"pairs" yaml:"pairs"`
	Reconcile ReconcileConfig `toml:"reconcile" yaml:"reconcile"`
	Archive   ArchiveConfig   `toml:"archive" yaml:"archive"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port         int      `toml:"port" yaml:"port"`
	CORSOrigins  []string `toml:"cors_origins" yaml:"cors_origins"`
	ReadTimeout  Duration `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout" yaml:"write_timeout"`
}

// StoreConfig selects the position store backend.
type StoreConfig struct {
	Driver string `toml:"driver" yaml:"driver"` // memory | sqlite | postgres
}

// PostgresConfig holds connection parameters for the PostgreSQL store.
type PostgresConfig struct {
	DSN           string `toml:"dsn" yaml:"dsn"`
	MaxConns      int    `toml:"max_conns" yaml:"max_conns"`
	RunMigrations bool   `toml:"run_migrations" yaml:"run_migrations"`
}

// SQLiteConfig holds the SQLite database file path.
type SQLiteConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// RedisConfig enables the read-through cache and the shared in-flight guard.
// An empty Addr disables Redis entirely.
type RedisConfig struct {
	Addr     string   `toml:"addr" yaml:"addr"`
	Password string   `toml:"password" yaml:"password"`
	DB       int      `toml:"db" yaml:"db"`
	CacheTTL Duration `toml:"cache_ttl" yaml:"cache_ttl"`
}

// PriceFeedConfig selects the spot price provider.
type PriceFeedConfig struct {
	Provider string   `toml:"provider" yaml:"provider"` // coingecko | binance
	BaseURL  string   `toml:"base_url" yaml:"base_url"`
	Asset    string   `toml:"asset" yaml:"asset"`
	Symbol   string   `toml:"symbol" yaml:"symbol"`
	Timeout  Duration `toml:"timeout" yaml:"timeout"`
}

// PairsConfig lists the stable reference assets and the volatile assets.
type PairsConfig struct {
	Stable   []string `toml:"stable" yaml:"stable"`
	Volatile []string `toml:"volatile" yaml:"volatile"`
}

// ReconcileConfig tunes the reconciliation queue.
type ReconcileConfig struct {
	Delay    Duration `toml:"delay" yaml:"delay"`
	DedupTTL Duration `toml:"dedup_ttl" yaml:"dedup_ttl"`
	Guard    string   `toml:"guard" yaml:"guard"` // local | redis
	GuardKey string   `toml:"guard_key" yaml:"guard_key"`
	GuardTTL Duration `toml:"guard_ttl" yaml:"guard_ttl"`
}

// ArchiveConfig points at an S3-compatible bucket for closed-position exports.
type ArchiveConfig struct {
	Endpoint       string `toml:"endpoint" yaml:"endpoint"`
	Region         string `toml:"region" yaml:"region"`
	Bucket         string `toml:"bucket" yaml:"bucket"`
	Prefix         string `toml:"prefix" yaml:"prefix"`
	AccessKey      string `toml:"access_key" yaml:"access_key"`
	SecretKey      string `toml:"secret_key" yaml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style" yaml:"force_path_style"`
}

// Duration wraps time.Duration so config files can say "50ms" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for both decoders.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration that runs locally with no external
// services: in-memory store, CoinGecko feed, USDC/ETH pair.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:         8080,
			CORSOrigins:  []string{"*"},
			ReadTimeout:  Duration{10 * time.Second},
			WriteTimeout: Duration{10 * time.Second},
		},
		Store: StoreConfig{Driver: "memory"},
		Postgres: PostgresConfig{
			MaxConns:      10,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{Path: "buysmart.db"},
		Redis: RedisConfig{
			CacheTTL: Duration{30 * time.Second},
		},
		PriceFeed: PriceFeedConfig{
			Provider: "coingecko",
			Asset:    "ethereum",
			Symbol:   "ETHUSDT",
			Timeout:  Duration{10 * time.Second},
		},
		Pairs: PairsConfig{
			Stable:   []string{"USDC"},
			Volatile: []string{"ETH", "WETH"},
		},
		Reconcile: ReconcileConfig{
			Delay:    Duration{50 * time.Millisecond},
			DedupTTL: Duration{10 * time.Minute},
			Guard:    "local",
			GuardKey: "buysmart:reconcile:inflight",
			GuardTTL: Duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Prefix: "positions",
		},
	}
}

var (
	validDrivers   = map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	validProviders = map[string]bool{"coingecko": true, "binance": true}
	validGuards    = map[string]bool{"local": true, "redis": true}
	validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	driver := strings.ToLower(c.Store.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: memory, sqlite, postgres)", c.Store.Driver))
	}
	if driver == "postgres" && strings.TrimSpace(c.Postgres.DSN) == "" {
		errs = append(errs, "postgres: dsn is required for store.driver=postgres")
	}
	if driver == "sqlite" && strings.TrimSpace(c.SQLite.Path) == "" {
		errs = append(errs, "sqlite: path is required for store.driver=sqlite")
	}

	if !validProviders[strings.ToLower(c.PriceFeed.Provider)] {
		errs = append(errs, fmt.Sprintf("price_feed: unknown provider %q (valid: coingecko, binance)", c.PriceFeed.Provider))
	}
	if c.PriceFeed.Timeout.Duration <= 0 {
		errs = append(errs, "price_feed: timeout must be positive")
	}

	if len(c.Pairs.Stable) == 0 || len(c.Pairs.Volatile) == 0 {
		errs = append(errs, "pairs: stable and volatile must both list at least one symbol")
	}
	stable := make(map[string]bool, len(c.Pairs.Stable))
	for _, s := range c.Pairs.Stable {
		stable[strings.ToUpper(s)] = true
	}
	for _, v := range c.Pairs.Volatile {
		if stable[strings.ToUpper(v)] {
			errs = append(errs, fmt.Sprintf("pairs: %s cannot be both stable and volatile", v))
		}
	}

	if c.Reconcile.Delay.Duration < 0 {
		errs = append(errs, "reconcile: delay must not be negative")
	}
	guard := strings.ToLower(c.Reconcile.Guard)
	if !validGuards[guard] {
		errs = append(errs, fmt.Sprintf("reconcile: unknown guard %q (valid: local, redis)", c.Reconcile.Guard))
	}
	if guard == "redis" && c.Redis.Addr == "" {
		errs = append(errs, "reconcile: guard=redis requires redis.addr")
	}

	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
