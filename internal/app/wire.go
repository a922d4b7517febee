package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/eventmarket/internal/blob/s3"
	"github.com/alanyoungcy/eventmarket/internal/cache/redis"
	"github.com/alanyoungcy/eventmarket/internal/config"
	"github.com/alanyoungcy/eventmarket/internal/crypto"
	"github.com/alanyoungcy/eventmarket/internal/custody/erc721"
	custodymem "github.com/alanyoungcy/eventmarket/internal/custody/memory"
	"github.com/alanyoungcy/eventmarket/internal/domain"
	"github.com/alanyoungcy/eventmarket/internal/notify"
	"github.com/alanyoungcy/eventmarket/internal/server/handler"
	"github.com/alanyoungcy/eventmarket/internal/store/memory"
	"github.com/alanyoungcy/eventmarket/internal/store/postgres"
	"github.com/alanyoungcy/eventmarket/internal/store/sqlite"
)

// archiveSource is a ledger store that can also feed the sold-item archive.
type archiveSource interface {
	domain.LedgerStore
	s3blob.SoldItemSource
}

// Dependencies bundles every concrete dependency the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store      archiveSource
	AuditStore domain.AuditStore
	Custodian  domain.Custodian

	// LedgerAddress is the escrow identity; for erc721 custody it is the
	// operator account.
	LedgerAddress common.Address

	// Optional, nil when Redis is disabled.
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	EventCache  domain.EventCache

	// Optional, nil when archiving is off.
	Archiver domain.Archiver

	Notifier *notify.Notifier

	// HealthChecks probe every network dependency.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	// --- Ledger store ---
	switch cfg.Store.Driver {
	case "memory":
		mem := memory.New()
		deps.Store, deps.AuditStore = mem, mem

	case "sqlite":
		db, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.Store, deps.AuditStore = db, db
		deps.HealthChecks["store"] = db.Ping

	case "postgres":
		pg := cfg.Store.Postgres
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      pg.DSN,
			Host:     pg.Host,
			Port:     pg.Port,
			Database: pg.Database,
			User:     pg.User,
			Password: pg.Password,
			SSLMode:  pg.SSLMode,
			MaxConns: pg.PoolMaxConns,
			MinConns: pg.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if pg.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pgClient.Pool()
		deps.Store = postgres.NewLedgerStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["store"] = pool.Ping

	default:
		return fail(fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver))
	}

	// --- Custody ---
	switch cfg.Custody.Driver {
	case "memory":
		deps.LedgerAddress = common.HexToAddress(cfg.Ledger.Address)
		var opts []custodymem.Option
		if cfg.Custody.Open {
			opts = append(opts, custodymem.WithOpenCustody())
		}
		deps.Custodian = custodymem.NewRegistry(deps.LedgerAddress, opts...)

	case "erc721":
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Custody.PrivateKey,
			EncryptedKeyPath: cfg.Custody.EncryptedKeyPath,
			KeyPassword:      cfg.Custody.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: operator key: %w", err))
		}
		client, chainID, err := erc721.Dial(ctx, cfg.Custody.RPCURL)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, client.Close)

		custodian, err := erc721.New(client, key, chainID, erc721.Config{
			GasLimit:       cfg.Custody.GasLimit,
			PollInterval:   cfg.Custody.PollInterval.Duration,
			ReceiptTimeout: cfg.Custody.ReceiptTimeout.Duration,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Custodian = custodian
		deps.LedgerAddress = custodian.Operator()
		if cfg.Ledger.Address != "" && common.HexToAddress(cfg.Ledger.Address) != deps.LedgerAddress {
			logger.WarnContext(ctx, "ledger.address ignored; escrow is the custody operator",
				slog.String("configured", cfg.Ledger.Address),
				slog.String("operator", deps.LedgerAddress.Hex()),
			)
		}
		deps.HealthChecks["chain"] = func(ctx context.Context) error {
			_, err := client.BlockNumber(ctx)
			return err
		}

	default:
		return fail(fmt.Errorf("wire: unknown custody driver %q", cfg.Custody.Driver))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.EventCache = redis.NewEventCache(redisClient, cfg.Redis.EventCacheTTL.Duration)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled || cfg.Mode == "archive" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Store,
			deps.AuditStore,
			logger,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// listingPrice parses the validated wei amount from config.
func listingPrice(cfg *config.Config) *big.Int {
	v, err := domain.ParseWei(cfg.Ledger.ListingPrice)
	if err != nil {
		return new(big.Int)
	}
	return v
}
