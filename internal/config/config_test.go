package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Ledger.Admin = "0x00000000000000000000000000000000000a11ce"
	cfg.Ledger.Address = "0x000000000000000000000000000000000000e5c0"
	return cfg
}

func TestDefaultsNeedIdentities(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("defaults without admin should not validate")
	}
	if !strings.Contains(err.Error(), "ledger: admin") {
		t.Fatalf("error = %v", err)
	}

	ok := validConfig()
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"mode", func(c *Config) { c.Mode = "trade" }, `unknown mode "trade"`},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, "unknown log_level"},
		{"commission", func(c *Config) { c.Ledger.CommissionPercent = 101 }, "commission_percent must be 0-100"},
		{"zero listing price", func(c *Config) { c.Ledger.ListingPrice = "0" }, "listing_price must be a positive"},
		{"store driver", func(c *Config) { c.Store.Driver = "mysql" }, `unknown driver "mysql"`},
		{"erc721 without key", func(c *Config) {
			c.Custody.Driver = "erc721"
			c.Custody.RPCURL = "http://localhost:8545"
		}, "private_key or encrypted_key_path"},
		{"encrypted key without password", func(c *Config) {
			c.Custody.Driver = "erc721"
			c.Custody.RPCURL = "http://localhost:8545"
			c.Custody.EncryptedKeyPath = "operator.json"
		}, "key_password is required"},
		{"lock shorter than receipt wait", func(c *Config) {
			c.Custody.Driver = "erc721"
			c.Custody.RPCURL = "http://localhost:8545"
			c.Custody.PrivateKey = "aa"
			c.Redis.Enabled = true
			c.Ledger.LockTTL.Duration = time.Minute
		}, "lock_ttl must exceed custody.receipt_timeout"},
		{"archive on memory store", func(c *Config) {
			c.Mode = "archive"
			c.Store.Driver = "memory"
		}, "archive: requires a persistent store"},
		{"rate window", func(c *Config) {
			c.Server.RateLimit = 10
			c.Server.RateWindow.Duration = 0
		}, "rate_window must be positive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestERC721DerivesLedgerAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Ledger.Address = ""
	cfg.Custody.Driver = "erc721"
	cfg.Custody.RPCURL = "http://localhost:8545"
	cfg.Custody.PrivateKey = "aa"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketd.toml")
	const body = `
mode = "archive"

[ledger]
admin = "0x00000000000000000000000000000000000a11ce"
listing_price = "1000"
lock_ttl = "10m"

[store]
driver = "postgres"

[archive]
retention_days = 30
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MARKETD_LEDGER_COMMISSION_PERCENT", "5")
	t.Setenv("MARKETD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("MARKETD_CUSTODY_RECEIPT_TIMEOUT", "45s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "archive" || cfg.Store.Driver != "postgres" {
		t.Fatalf("file values not applied: mode=%q driver=%q", cfg.Mode, cfg.Store.Driver)
	}
	if cfg.Ledger.LockTTL.Duration != 10*time.Minute || cfg.Archive.RetentionDays != 30 {
		t.Fatalf("lock_ttl=%v retention=%d", cfg.Ledger.LockTTL.Duration, cfg.Archive.RetentionDays)
	}
	if cfg.Store.Postgres.Port != 5432 {
		t.Fatalf("default postgres port lost: %d", cfg.Store.Postgres.Port)
	}
	if cfg.Ledger.CommissionPercent != 5 {
		t.Fatalf("commission env override = %d", cfg.Ledger.CommissionPercent)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors origins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Custody.ReceiptTimeout.Duration != 45*time.Second {
		t.Fatalf("receipt timeout = %v", cfg.Custody.ReceiptTimeout.Duration)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Custody.PrivateKey = "deadbeef"
	cfg.Store.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "k"
	cfg.Notify.Events = []string{"item_sold"}

	out := RedactedConfig(&cfg)
	if out.Custody.PrivateKey != redacted || out.Store.Postgres.Password != redacted || out.Server.APIKey != redacted {
		t.Fatalf("secrets not redacted: %+v", out)
	}
	if out.Redis.Password != "" {
		t.Fatalf("empty secret should stay empty, got %q", out.Redis.Password)
	}
	if cfg.Custody.PrivateKey != "deadbeef" {
		t.Fatal("original was modified")
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] != "item_sold" {
		t.Fatal("slice shared with original")
	}
}
