package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists registered events.
type EventStore interface {
	InsertEvent(ctx context.Context, event Event) error
	GetEvent(ctx context.Context, id uint64) (Event, error)
	ListEvents(ctx context.Context) ([]Event, error)
}

// ItemStore persists market items. ListItems returns items ordered by id.
type ItemStore interface {
	InsertItem(ctx context.Context, item MarketItem) error
	GetItem(ctx context.Context, id uint64) (MarketItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]MarketItem, error)
	// MarkSold releases custody to buyer. It returns ErrAlreadySold when the
	// item was sold before and ErrNotFound when it does not exist.
	MarkSold(ctx context.Context, id uint64, buyer common.Address, soldAt time.Time) error
	ListSoldBefore(ctx context.Context, before time.Time) ([]MarketItem, error)
}

// BalanceStore tracks withdrawable wei balances per identity.
type BalanceStore interface {
	Balance(ctx context.Context, owner common.Address) (*big.Int, error)
	Credit(ctx context.Context, owner common.Address, amount *big.Int) error
	// Debit returns ErrInsufficientBalance when amount exceeds the balance.
	Debit(ctx context.Context, owner common.Address, amount *big.Int) error
}

// FeeStore persists the fee policy. LoadFeePolicy returns ErrNotFound until
// the first SaveFeePolicy.
type FeeStore interface {
	LoadFeePolicy(ctx context.Context) (FeePolicy, error)
	SaveFeePolicy(ctx context.Context, policy FeePolicy) error
}

// IDAllocator hands out event and item identifiers. Both counters start at 1
// and only advance when the surrounding transaction commits.
type IDAllocator interface {
	NextEventID(ctx context.Context) (uint64, error)
	NextItemID(ctx context.Context) (uint64, error)
}

// LedgerStore is everything the ledger persists. WithTx runs fn in a single
// transaction carried by the context passed to fn; if fn returns an error
// nothing fn wrote is kept.
type LedgerStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	EventStore
	ItemStore
	BalanceStore
	FeeStore
	IDAllocator
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
