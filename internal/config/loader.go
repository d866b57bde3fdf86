package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path (TOML, or YAML for .yaml/.yml),
// merges it on top of Defaults, then applies BUYSMART_* environment
// overrides. An empty path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("config: open %s: %w", path, err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	return nil
}

// applyEnvOverrides lets operators inject secrets and per-host settings
// without editing the file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "BUYSMART_LOG_LEVEL")

	// ── Server ──
	setInt(&cfg.Server.Port, "BUYSMART_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform convention
	setStringSlice(&cfg.Server.CORSOrigins, "BUYSMART_SERVER_CORS_ORIGINS")

	// ── Store ──
	setStr(&cfg.Store.Driver, "BUYSMART_STORE_DRIVER")
	setStr(&cfg.Postgres.DSN, "BUYSMART_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setInt(&cfg.Postgres.MaxConns, "BUYSMART_POSTGRES_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BUYSMART_POSTGRES_RUN_MIGRATIONS")
	setStr(&cfg.SQLite.Path, "BUYSMART_SQLITE_PATH")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BUYSMART_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BUYSMART_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BUYSMART_REDIS_DB")
	setDuration(&cfg.Redis.CacheTTL, "BUYSMART_REDIS_CACHE_TTL")

	// ── Price feed ──
	setStr(&cfg.PriceFeed.Provider, "BUYSMART_PRICE_FEED_PROVIDER")
	setStr(&cfg.PriceFeed.BaseURL, "BUYSMART_PRICE_FEED_BASE_URL")
	setStr(&cfg.PriceFeed.Asset, "BUYSMART_PRICE_FEED_ASSET")
	setStr(&cfg.PriceFeed.Symbol, "BUYSMART_PRICE_FEED_SYMBOL")
	setDuration(&cfg.PriceFeed.Timeout, "BUYSMART_PRICE_FEED_TIMEOUT")

	// ── Pairs ──
	setStringSlice(&cfg.Pairs.Stable, "BUYSMART_PAIRS_STABLE")
	setStringSlice(&cfg.Pairs.Volatile, "BUYSMART_PAIRS_VOLATILE")

	// ── Reconcile ──
	setDuration(&cfg.Reconcile.Delay, "BUYSMART_RECONCILE_DELAY")
	setDuration(&cfg.Reconcile.DedupTTL, "BUYSMART_RECONCILE_DEDUP_TTL")
	setStr(&cfg.Reconcile.Guard, "BUYSMART_RECONCILE_GUARD")
	setDuration(&cfg.Reconcile.GuardTTL, "BUYSMART_RECONCILE_GUARD_TTL")

	// ── Archive ──
	setStr(&cfg.Archive.Endpoint, "BUYSMART_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "BUYSMART_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "BUYSMART_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.Prefix, "BUYSMART_ARCHIVE_PREFIX")
	setStr(&cfg.Archive.AccessKey, "BUYSMART_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "BUYSMART_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "BUYSMART_ARCHIVE_FORCE_PATH_STYLE")
}

// Typed env-var helpers. Each only mutates the target when the variable is
// present, non-empty and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
