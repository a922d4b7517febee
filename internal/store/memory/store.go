// Package memory is an in-process LedgerStore. It backs tests and single-node
// deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

var (
	_ domain.LedgerStore = (*Store)(nil)
	_ domain.AuditStore  = (*Store)(nil)
)

type txKey struct{}

// tx records how to undo every write made inside it.
type tx struct {
	store *Store
	undo  []func()
}

// Store keeps ledger state in maps guarded by a single RWMutex. A transaction
// holds the write lock from WithTx until fn returns.
type Store struct {
	mu sync.RWMutex

	events    map[uint64]domain.Event
	items     map[uint64]domain.MarketItem
	balances  map[common.Address]*big.Int
	fees      *domain.FeePolicy
	lastEvent uint64
	lastItem  uint64

	audit     []domain.AuditEntry
	lastAudit int64
	now       func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		events:   make(map[uint64]domain.Event),
		items:    make(map[uint64]domain.MarketItem),
		balances: make(map[common.Address]*big.Int),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	if t == nil || t.store != s {
		return nil
	}
	return t
}

// WithTx runs fn with exclusive access to the store. Nested calls join the
// outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		return err
	}
	return nil
}

func (s *Store) write(ctx context.Context, fn func(t *tx) error) error {
	if t := s.txFrom(ctx); t != nil {
		return fn(t)
	}
	return s.WithTx(ctx, func(ctx context.Context) error {
		return fn(s.txFrom(ctx))
	})
}

func (s *Store) read(ctx context.Context, fn func()) {
	if s.txFrom(ctx) == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	fn()
}

func (s *Store) NextEventID(ctx context.Context) (uint64, error) {
	var id uint64
	err := s.write(ctx, func(t *tx) error {
		prev := s.lastEvent
		s.lastEvent++
		id = s.lastEvent
		t.undo = append(t.undo, func() { s.lastEvent = prev })
		return nil
	})
	return id, err
}

func (s *Store) NextItemID(ctx context.Context) (uint64, error) {
	var id uint64
	err := s.write(ctx, func(t *tx) error {
		prev := s.lastItem
		s.lastItem++
		id = s.lastItem
		t.undo = append(t.undo, func() { s.lastItem = prev })
		return nil
	})
	return id, err
}

func (s *Store) InsertEvent(ctx context.Context, event domain.Event) error {
	return s.write(ctx, func(t *tx) error {
		if _, ok := s.events[event.ID]; ok {
			return fmt.Errorf("memory: insert event %d: %w: duplicate id", event.ID, domain.ErrInvalidArgument)
		}
		s.events[event.ID] = cloneEvent(event)
		t.undo = append(t.undo, func() { delete(s.events, event.ID) })
		return nil
	})
}

func (s *Store) GetEvent(ctx context.Context, id uint64) (domain.Event, error) {
	var (
		ev domain.Event
		ok bool
	)
	s.read(ctx, func() { ev, ok = s.events[id] })
	if !ok {
		return domain.Event{}, fmt.Errorf("memory: event %d: %w", id, domain.ErrNotFound)
	}
	return cloneEvent(ev), nil
}

func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	out := []domain.Event{}
	s.read(ctx, func() {
		for _, id := range slices.Sorted(maps.Keys(s.events)) {
			out = append(out, cloneEvent(s.events[id]))
		}
	})
	return out, nil
}

func (s *Store) InsertItem(ctx context.Context, item domain.MarketItem) error {
	return s.write(ctx, func(t *tx) error {
		if _, ok := s.items[item.ID]; ok {
			return fmt.Errorf("memory: insert item %d: %w: duplicate id", item.ID, domain.ErrInvalidArgument)
		}
		if _, ok := s.events[item.EventID]; !ok {
			return fmt.Errorf("memory: insert item %d: event %d: %w", item.ID, item.EventID, domain.ErrNotFound)
		}
		s.items[item.ID] = item.Clone()
		t.undo = append(t.undo, func() { delete(s.items, item.ID) })
		return nil
	})
}

func (s *Store) GetItem(ctx context.Context, id uint64) (domain.MarketItem, error) {
	var (
		item domain.MarketItem
		ok   bool
	)
	s.read(ctx, func() { item, ok = s.items[id] })
	if !ok {
		return domain.MarketItem{}, fmt.Errorf("memory: item %d: %w", id, domain.ErrNotFound)
	}
	return item.Clone(), nil
}

func (s *Store) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.MarketItem, error) {
	out := []domain.MarketItem{}
	s.read(ctx, func() {
		for _, id := range slices.Sorted(maps.Keys(s.items)) {
			if item := s.items[id]; filter.Match(item) {
				out = append(out, item.Clone())
			}
		}
	})
	return out, nil
}

func (s *Store) MarkSold(ctx context.Context, id uint64, buyer common.Address, soldAt time.Time) error {
	return s.write(ctx, func(t *tx) error {
		prev, ok := s.items[id]
		if !ok {
			return fmt.Errorf("memory: mark sold %d: %w", id, domain.ErrNotFound)
		}
		if prev.Sold() {
			return fmt.Errorf("memory: mark sold %d: %w", id, domain.ErrAlreadySold)
		}
		next := prev.Clone()
		next.Custody = domain.SoldTo(buyer)
		at := soldAt.UTC()
		next.SoldAt = &at
		s.items[id] = next
		t.undo = append(t.undo, func() { s.items[id] = prev })
		return nil
	})
}

func (s *Store) ListSoldBefore(ctx context.Context, before time.Time) ([]domain.MarketItem, error) {
	out := []domain.MarketItem{}
	s.read(ctx, func() {
		for _, id := range slices.Sorted(maps.Keys(s.items)) {
			item := s.items[id]
			if item.Sold() && item.SoldAt != nil && item.SoldAt.Before(before) {
				out = append(out, item.Clone())
			}
		}
	})
	return out, nil
}

func (s *Store) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	out := new(big.Int)
	s.read(ctx, func() {
		if bal, ok := s.balances[owner]; ok {
			out.Set(bal)
		}
	})
	return out, nil
}

func (s *Store) Credit(ctx context.Context, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("memory: credit %s: %w: amount must be non-negative", owner.Hex(), domain.ErrInvalidArgument)
	}
	return s.write(ctx, func(t *tx) error {
		s.adjust(t, owner, amount)
		return nil
	})
}

func (s *Store) Debit(ctx context.Context, owner common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("memory: debit %s: %w: amount must be non-negative", owner.Hex(), domain.ErrInvalidArgument)
	}
	return s.write(ctx, func(t *tx) error {
		bal := s.balances[owner]
		if bal == nil || bal.Cmp(amount) < 0 {
			return fmt.Errorf("memory: debit %s: %w", owner.Hex(), domain.ErrInsufficientBalance)
		}
		s.adjust(t, owner, new(big.Int).Neg(amount))
		return nil
	})
}

func (s *Store) adjust(t *tx, owner common.Address, delta *big.Int) {
	prev, had := s.balances[owner]
	next := new(big.Int).Set(delta)
	if had {
		next.Add(prev, delta)
	}
	s.balances[owner] = next
	t.undo = append(t.undo, func() {
		if had {
			s.balances[owner] = prev
		} else {
			delete(s.balances, owner)
		}
	})
}

func (s *Store) LoadFeePolicy(ctx context.Context) (domain.FeePolicy, error) {
	var policy *domain.FeePolicy
	s.read(ctx, func() { policy = s.fees })
	if policy == nil {
		return domain.FeePolicy{}, fmt.Errorf("memory: fee policy: %w", domain.ErrNotFound)
	}
	return domain.FeePolicy{
		ListingPrice:      new(big.Int).Set(policy.ListingPrice),
		CommissionPercent: policy.CommissionPercent,
	}, nil
}

func (s *Store) SaveFeePolicy(ctx context.Context, policy domain.FeePolicy) error {
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("memory: save fee policy: %w", err)
	}
	return s.write(ctx, func(t *tx) error {
		prev := s.fees
		s.fees = &domain.FeePolicy{
			ListingPrice:      new(big.Int).Set(policy.ListingPrice),
			CommissionPercent: policy.CommissionPercent,
		}
		t.undo = append(t.undo, func() { s.fees = prev })
		return nil
	})
}

func cloneEvent(ev domain.Event) domain.Event {
	if ev.TicketPrice != nil {
		ev.TicketPrice = new(big.Int).Set(ev.TicketPrice)
	}
	return ev
}
