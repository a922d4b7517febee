// Package ledger implements the escrow marketplace: event registration, the
// fee policy, listing into escrow, sale settlement and the item queries.
//
// Every state-changing operation runs under a single mutation lock (and,
// when a LockManager is configured, a distributed lock shared by all
// instances). Custody transfers happen before the store transaction and the
// transaction is only opened once the transfer is confirmed. Reads go straight
// to the store, which only ever exposes committed state. Subscribers are
// notified in commit order from a separate goroutine once the lock is gone.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/eventmarket/internal/clock"
	"github.com/alanyoungcy/eventmarket/internal/domain"
)

const (
	mutationLockKey   = "ledger:mutation"
	defaultLockTTL    = 30 * time.Second
	lockRetryInterval = 25 * time.Millisecond
	ownerCheckTimeout = 30 * time.Second
)

// Config fixes the identities and fees a ledger is created with.
type Config struct {
	// Admin is the only identity allowed to register events and change the
	// listing price. Fees and commissions accrue to it.
	Admin common.Address
	// Address is the ledger's own identity; it holds custody of unsold items.
	Address common.Address
	// CommissionPercent is retained from every sale. It is fixed the first
	// time a store is initialised.
	CommissionPercent uint8
	// ListingPrice seeds the fee policy of a fresh store.
	ListingPrice *big.Int
	// LockTTL bounds how long the distributed mutation lock may be held.
	LockTTL time.Duration
}

func (c Config) validate() error {
	if c.Admin == (common.Address{}) {
		return errors.New("ledger: admin address is required")
	}
	if c.Address == (common.Address{}) {
		return errors.New("ledger: ledger address is required")
	}
	if c.Admin == c.Address {
		return errors.New("ledger: admin and ledger address must differ")
	}
	policy := domain.FeePolicy{ListingPrice: c.ListingPrice, CommissionPercent: c.CommissionPercent}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock replaces the system clock.
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLockManager serialises mutations across processes sharing a store.
func WithLockManager(lm domain.LockManager) Option {
	return func(l *Ledger) { l.locks = lm }
}

// WithAuditStore records every committed mutation in an audit log.
func WithAuditStore(a domain.AuditStore) Option {
	return func(l *Ledger) { l.audit = a }
}

// WithEventCache serves event lookups from a cache before the store.
func WithEventCache(c domain.EventCache) Option {
	return func(l *Ledger) { l.events = c }
}

// Ledger is the marketplace state machine.
type Ledger struct {
	cfg        Config
	commission uint8
	store      domain.LedgerStore
	custodian  domain.Custodian
	clock      clock.Clock
	locks      domain.LockManager
	audit      domain.AuditStore
	events     domain.EventCache
	logger     *slog.Logger

	mu sync.Mutex // serialises mutations within this process

	subsMu sync.RWMutex
	subs   []domain.Subscriber
	outbox *outbox
	closer sync.Once
}

// New creates a Ledger over store. If the store has no fee policy yet it is
// seeded from cfg; otherwise the stored commission wins.
func New(
	ctx context.Context,
	cfg Config,
	store domain.LedgerStore,
	custodian domain.Custodian,
	logger *slog.Logger,
	opts ...Option,
) (*Ledger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil || custodian == nil {
		return nil, errors.New("ledger: store and custodian are required")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Ledger{
		cfg:       cfg,
		store:     store,
		custodian: custodian,
		clock:     clock.NewSystem(),
		outbox:    newOutbox(),
		logger:    logger.With(slog.String("component", "ledger")),
	}
	for _, opt := range opts {
		opt(l)
	}

	policy, err := l.initFeePolicy(ctx)
	if err != nil {
		return nil, err
	}
	l.commission = policy.CommissionPercent
	go l.outbox.run(l.deliver)

	l.logger.InfoContext(ctx, "ledger ready",
		slog.String("admin", cfg.Admin.Hex()),
		slog.String("ledger", cfg.Address.Hex()),
		slog.Int("commission_percent", int(policy.CommissionPercent)),
		slog.String("listing_price", domain.FormatWei(policy.ListingPrice)),
	)
	return l, nil
}

func (l *Ledger) initFeePolicy(ctx context.Context) (domain.FeePolicy, error) {
	var policy domain.FeePolicy
	err := l.store.WithTx(ctx, func(ctx context.Context) error {
		stored, err := l.store.LoadFeePolicy(ctx)
		switch {
		case err == nil:
			policy = stored
			return nil
		case errors.Is(err, domain.ErrNotFound):
			policy = domain.FeePolicy{
				ListingPrice:      new(big.Int).Set(l.cfg.ListingPrice),
				CommissionPercent: l.cfg.CommissionPercent,
			}
			return l.store.SaveFeePolicy(ctx, policy)
		default:
			return err
		}
	})
	if err != nil {
		return domain.FeePolicy{}, fmt.Errorf("ledger: init fee policy: %w", err)
	}
	if policy.CommissionPercent != l.cfg.CommissionPercent {
		l.logger.WarnContext(ctx, "configured commission differs from stored policy; keeping stored value",
			slog.Int("configured", int(l.cfg.CommissionPercent)),
			slog.Int("stored", int(policy.CommissionPercent)),
		)
	}
	return policy, nil
}

// Admin returns the administrator identity.
func (l *Ledger) Admin() common.Address { return l.cfg.Admin }

// LedgerAddress returns the escrow identity that holds unsold items.
func (l *Ledger) LedgerAddress() common.Address { return l.cfg.Address }

// Close delivers the notifications already committed and stops delivery.
// Mutations after Close still commit but notify nobody.
func (l *Ledger) Close() {
	l.closer.Do(l.outbox.close)
}

// Subscribe registers s for every notification delivered from now on.
func (l *Ledger) Subscribe(s domain.Subscriber) {
	l.subsMu.Lock()
	l.subs = append(l.subs, s)
	l.subsMu.Unlock()
}

// lockMutations takes the process lock and, if configured, the distributed
// lock. The returned function releases both.
func (l *Ledger) lockMutations(ctx context.Context) (func(), error) {
	l.mu.Lock()
	if l.locks == nil {
		return l.mu.Unlock, nil
	}
	for {
		unlock, err := l.locks.Acquire(ctx, mutationLockKey, l.cfg.LockTTL)
		if err == nil {
			return func() {
				unlock()
				l.mu.Unlock()
			}, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			l.mu.Unlock()
			return nil, fmt.Errorf("ledger: acquire mutation lock: %w", err)
		}
		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.mu.Unlock()
			return nil, fmt.Errorf("ledger: acquire mutation lock: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *Ledger) requireAdmin(caller common.Address) error {
	if caller != l.cfg.Admin {
		return fmt.Errorf("ledger: caller %s is not the administrator: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// publish queues n for the subscribers. It runs under the mutation lock so
// notifications are queued in commit order; delivery happens on the outbox
// goroutine and never holds the lock.
func (l *Ledger) publish(ctx context.Context, kind domain.NotificationKind, item domain.MarketItem) {
	n := domain.Notification{
		ID:   uuid.NewString(),
		Kind: kind,
		Item: item.Clone(),
		At:   l.clock.Now(),
	}
	if !l.outbox.push(context.WithoutCancel(ctx), n) {
		l.logger.WarnContext(ctx, "ledger closed; notification not delivered",
			slog.String("kind", string(kind)),
			slog.Uint64("item_id", item.ID),
		)
	}
}

func (l *Ledger) deliver(ctx context.Context, n domain.Notification) {
	l.subsMu.RLock()
	subs := make([]domain.Subscriber, len(l.subs))
	copy(subs, l.subs)
	l.subsMu.RUnlock()

	for _, s := range subs {
		if err := s.Notify(ctx, n); err != nil {
			l.logger.WarnContext(ctx, "subscriber failed",
				slog.String("kind", string(n.Kind)),
				slog.Uint64("item_id", n.Item.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (l *Ledger) auditLog(ctx context.Context, event string, detail map[string]any) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "failed to write audit log",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// transferCustody moves an asset and, when the custodian reports failure,
// asks who holds it. A transfer that reached to anyway is treated as done so
// the ledger records it instead of stranding the asset.
func (l *Ledger) transferCustody(ctx context.Context, op string, item domain.MarketItem, from, to common.Address) error {
	err := l.custodian.TransferCustody(ctx, item.AssetContract, item.AssetID, from, to)
	if err == nil {
		return nil
	}
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ownerCheckTimeout)
	defer cancel()
	holder, ownerErr := l.custodian.OwnerOf(checkCtx, item.AssetContract, item.AssetID)
	switch {
	case ownerErr != nil:
		l.logger.ErrorContext(ctx, "custody transfer failed and holder is unknown; manual reconciliation may be required",
			slog.String("op", op),
			slog.String("asset_contract", item.AssetContract.Hex()),
			slog.String("asset_id", domain.FormatWei(item.AssetID)),
			slog.String("error", err.Error()),
			slog.String("owner_error", ownerErr.Error()),
		)
	case holder == to:
		l.logger.WarnContext(ctx, "custody transfer reported failure but the asset arrived; recording it",
			slog.String("op", op),
			slog.String("asset_id", domain.FormatWei(item.AssetID)),
			slog.String("holder", holder.Hex()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return err
}

// compensate moves custody back after a confirmed transfer whose commit
// failed. The original commit error is always returned.
func (l *Ledger) compensate(ctx context.Context, op string, item domain.MarketItem, from, to common.Address, commitErr error) error {
	ctx = context.WithoutCancel(ctx)
	if err := l.custodian.TransferCustody(ctx, item.AssetContract, item.AssetID, from, to); err != nil {
		l.logger.ErrorContext(ctx, "custody compensation failed; manual reconciliation required",
			slog.String("op", op),
			slog.String("asset_contract", item.AssetContract.Hex()),
			slog.String("asset_id", domain.FormatWei(item.AssetID)),
			slog.String("holder", from.Hex()),
			slog.String("expected_holder", to.Hex()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("ledger: %s: commit: %w (custody compensation failed: %v)", op, commitErr, err)
	}
	l.logger.WarnContext(ctx, "commit failed after custody transfer; custody returned",
		slog.String("op", op),
		slog.String("asset_id", domain.FormatWei(item.AssetID)),
		slog.String("error", commitErr.Error()),
	)
	return fmt.Errorf("ledger: %s: commit: %w", op, commitErr)
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
