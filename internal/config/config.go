// Package config defines the top-level configuration of the marketplace
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Ledger   LedgerConfig  `toml:"ledger"`
	Store    StoreConfig   `toml:"store"`
	Custody  CustodyConfig `toml:"custody"`
	Redis    RedisConfig   `toml:"redis"`
	S3       S3Config      `toml:"s3"`
	Archive  ArchiveConfig `toml:"archive"`
	Server   ServerConfig  `toml:"server"`
	Notify   NotifyConfig  `toml:"notify"`
	Mode     string        `toml:"mode"`
	LogLevel string        `toml:"log_level"`
}

// LedgerConfig fixes the marketplace identities and fees.
type LedgerConfig struct {
	Admin string `toml:"admin"`
	// Address is the escrow identity. With the erc721 custodian it is derived
	// from the operator key and may be left empty.
	Address           string   `toml:"address"`
	CommissionPercent int      `toml:"commission_percent"`
	ListingPrice      string   `toml:"listing_price"` // wei
	LockTTL           duration `toml:"lock_ttl"`
}

// StoreConfig selects the ledger store.
type StoreConfig struct {
	Driver     string         `toml:"driver"` // memory, sqlite or postgres
	SQLitePath string         `toml:"sqlite_path"`
	Postgres   PostgresConfig `toml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// CustodyConfig selects how asset custody is moved.
type CustodyConfig struct {
	Driver string `toml:"driver"` // memory or erc721
	// Open lets the in-memory registry adopt assets it has never seen.
	Open           bool     `toml:"open"`
	RPCURL         string   `toml:"rpc_url"`
	GasLimit       uint64   `toml:"gas_limit"`
	PollInterval   duration `toml:"poll_interval"`
	ReceiptTimeout duration `toml:"receipt_timeout"`

	// Operator key for the erc721 custodian.
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled       bool     `toml:"enabled"`
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	PoolSize      int      `toml:"pool_size"`
	MaxRetries    int      `toml:"max_retries"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	KeyPrefix     string   `toml:"key_prefix"`
	EventCacheTTL duration `toml:"event_cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls exporting sold items to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit requests per RateWindow per caller; needs Redis. Zero
	// disables it.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			CommissionPercent: 2,
			ListingPrice:      "25000000000000000", // 0.025 ether
			LockTTL:           duration{5 * time.Minute},
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "data/eventmarket.db",
			Postgres: PostgresConfig{
				Host:          "localhost",
				Port:          5432,
				Database:      "postgres",
				User:          "postgres",
				SSLMode:       "disable",
				PoolMaxConns:  10,
				PoolMinConns:  2,
				RunMigrations: true,
			},
		},
		Custody: CustodyConfig{
			Driver:         "memory",
			GasLimit:       200_000,
			PollInterval:   duration{2 * time.Second},
			ReceiptTimeout: duration{2 * time.Minute},
		},
		Redis: RedisConfig{
			Enabled:       false,
			Addr:          "localhost:6379",
			PoolSize:      20,
			MaxRetries:    3,
			KeyPrefix:     "eventmarket:",
			EventCacheTTL: duration{time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "eventmarket-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{string(domain.NotificationItemSold)},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if !common.IsHexAddress(c.Ledger.Admin) {
		errs = append(errs, "ledger: admin must be a hex address")
	}
	if c.Custody.Driver != "erc721" && !common.IsHexAddress(c.Ledger.Address) {
		errs = append(errs, "ledger: address must be a hex address unless custody.driver is erc721")
	}
	if c.Ledger.CommissionPercent < 0 || c.Ledger.CommissionPercent > 100 {
		errs = append(errs, fmt.Sprintf("ledger: commission_percent must be 0-100, got %d", c.Ledger.CommissionPercent))
	}
	if p, err := domain.ParseWei(c.Ledger.ListingPrice); err != nil || p.Sign() == 0 {
		errs = append(errs, fmt.Sprintf("ledger: listing_price must be a positive wei amount, got %q", c.Ledger.ListingPrice))
	}
	if c.Ledger.LockTTL.Duration <= 0 {
		errs = append(errs, "ledger: lock_ttl must be positive")
	}

	// Store
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Store.SQLitePath) == "" {
			errs = append(errs, "store: sqlite_path must not be empty")
		}
	case "postgres":
		pg := c.Store.Postgres
		if strings.TrimSpace(pg.DSN) == "" {
			if pg.Host == "" {
				errs = append(errs, "store.postgres: host must not be empty (or set store.postgres.dsn)")
			}
			if pg.Port <= 0 || pg.Port > 65535 {
				errs = append(errs, fmt.Sprintf("store.postgres: port must be 1-65535, got %d", pg.Port))
			}
			if pg.Database == "" {
				errs = append(errs, "store.postgres: database must not be empty")
			}
		}
		if pg.PoolMaxConns < 1 {
			errs = append(errs, "store.postgres: pool_max_conns must be >= 1")
		}
		if pg.PoolMinConns < 0 || pg.PoolMinConns > pg.PoolMaxConns {
			errs = append(errs, "store.postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: memory, sqlite, postgres)", c.Store.Driver))
	}

	// Custody
	switch c.Custody.Driver {
	case "memory":
	case "erc721":
		if c.Custody.RPCURL == "" {
			errs = append(errs, "custody: rpc_url is required for the erc721 driver")
		}
		if c.Custody.PrivateKey == "" && c.Custody.EncryptedKeyPath == "" {
			errs = append(errs, "custody: either private_key or encrypted_key_path must be set for the erc721 driver")
		}
		if c.Custody.EncryptedKeyPath != "" && c.Custody.KeyPassword == "" {
			errs = append(errs, "custody: key_password is required when encrypted_key_path is set")
		}
		// A lock that expires while a transfer is still being mined would let
		// a second instance act on stale state.
		if c.Redis.Enabled && c.Ledger.LockTTL.Duration <= c.Custody.ReceiptTimeout.Duration {
			errs = append(errs, "ledger: lock_ttl must exceed custody.receipt_timeout")
		}
	default:
		errs = append(errs, fmt.Sprintf("custody: unknown driver %q (valid: memory, erc721)", c.Custody.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive
	if c.Archive.Enabled || c.Mode == "archive" {
		if c.Store.Driver == "memory" {
			errs = append(errs, "archive: requires a persistent store driver")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Server
	if c.Mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
