package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/config"
	custodymem "github.com/alanyoungcy/eventmarket/internal/custody/memory"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Ledger.Admin = "0x00000000000000000000000000000000000a11ce"
	cfg.Ledger.Address = "0x000000000000000000000000000000000000e5c0"
	cfg.Store.Driver = "memory"
	cfg.Server.Port = 0
	return &cfg
}

func TestWireMemory(t *testing.T) {
	cfg := testConfig(t)
	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.Store == nil || deps.AuditStore == nil {
		t.Fatal("store not wired")
	}
	if _, ok := deps.Custodian.(*custodymem.Registry); !ok {
		t.Fatalf("custodian = %T, want memory registry", deps.Custodian)
	}
	if deps.LedgerAddress != common.HexToAddress(cfg.Ledger.Address) {
		t.Fatalf("ledger address = %s", deps.LedgerAddress.Hex())
	}
	if deps.LockManager != nil || deps.SignalBus != nil || deps.Archiver != nil {
		t.Fatal("optional dependencies wired without configuration")
	}
	if len(deps.HealthChecks) != 0 {
		t.Fatalf("health checks = %v", deps.HealthChecks)
	}
}

func TestWireSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "ledger.db")

	deps, cleanup, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	check, ok := deps.HealthChecks["store"]
	if !ok {
		t.Fatal("no store health check")
	}
	if err := check(context.Background()); err != nil {
		t.Fatalf("store health: %v", err)
	}
}

func TestWireUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Custody.Driver = "carrier-pigeon"
	if _, _, err := Wire(context.Background(), cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("expected error for unknown custody driver")
	}
}

func TestArchiveModeNeedsS3(t *testing.T) {
	a := New(testConfig(t), slog.New(slog.DiscardHandler))
	if err := a.ArchiveMode(context.Background(), &Dependencies{}); err == nil {
		t.Fatal("expected error without archiver")
	}
}

func TestServeModeStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.DiscardHandler)
	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(cfg, logger).ServeMode(ctx, deps) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeMode: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServeMode did not stop")
	}
}
