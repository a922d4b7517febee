package sqlite

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

var (
	escrow = common.HexToAddress("0xE5C0")
	seller = common.HexToAddress("0x5E11")
	buyer  = common.HexToAddress("0xB0B")
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addEvent(t *testing.T, s *Store) uint64 {
	t.Helper()
	ctx := context.Background()
	var id uint64
	err := s.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if id, err = s.NextEventID(ctx); err != nil {
			return err
		}
		start := time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)
		return s.InsertEvent(ctx, domain.Event{
			ID: id, Title: "gala", Description: "d", ImageURL: "u",
			StartTime: start, EndTime: start.Add(3 * time.Hour),
			TicketPrice: big.NewInt(1000), Active: true, CreatedAt: start.Add(-time.Hour),
		})
	})
	if err != nil {
		t.Fatalf("add event: %v", err)
	}
	return id
}

func addItem(t *testing.T, s *Store, eventID uint64) uint64 {
	t.Helper()
	ctx := context.Background()
	var id uint64
	err := s.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if id, err = s.NextItemID(ctx); err != nil {
			return err
		}
		return s.InsertItem(ctx, domain.MarketItem{
			ID: id, EventID: eventID, AssetContract: common.HexToAddress("0x721"),
			AssetID: big.NewInt(int64(100 + id)), Seller: seller, Price: big.NewInt(30),
			Custody: domain.InEscrow(escrow), ListedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		})
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	return id
}

func TestOpenTwiceKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id := addEvent(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	ev, err := s.GetEvent(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if ev.Title != "gala" || ev.TicketPrice.Int64() != 1000 || !ev.Active {
		t.Fatalf("event = %+v", ev)
	}
	if next := addEvent(t, s); next != id+1 {
		t.Fatalf("next id = %d, want %d", next, id+1)
	}
}

func TestEventsAndItems(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	a := addEvent(t, s)
	b := addEvent(t, s)
	addItem(t, s, a)
	addItem(t, s, b)
	third := addItem(t, s, a)

	soldAt := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	if err := s.MarkSold(ctx, third, buyer, soldAt); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}
	if err := s.MarkSold(ctx, third, buyer, soldAt); !errors.Is(err, domain.ErrAlreadySold) {
		t.Fatalf("second MarkSold err = %v", err)
	}
	if err := s.MarkSold(ctx, 42, buyer, soldAt); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing MarkSold err = %v", err)
	}

	item, err := s.GetItem(ctx, third)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if !item.Sold() || item.Owner() != buyer || item.SoldAt == nil || !item.SoldAt.Equal(soldAt) {
		t.Fatalf("item = %+v", item)
	}

	cases := []struct {
		name   string
		filter domain.ItemFilter
		want   []uint64
	}{
		{"unsold", domain.ItemFilter{Status: domain.ItemStatusUnsold}, []uint64{1, 2}},
		{"by event a", domain.ItemFilter{EventID: a}, []uint64{1, 3}},
		{"created by seller", domain.ItemFilter{Seller: &seller}, []uint64{1, 2, 3}},
		{"owned by buyer", domain.ItemFilter{Status: domain.ItemStatusSold, Owner: &buyer}, []uint64{3}},
		{"owned by escrow", domain.ItemFilter{Status: domain.ItemStatusSold, Owner: &escrow}, []uint64{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, err := s.ListItems(ctx, tc.filter)
			if err != nil {
				t.Fatalf("ListItems: %v", err)
			}
			if len(items) != len(tc.want) {
				t.Fatalf("got %d items, want %d", len(items), len(tc.want))
			}
			for i := range items {
				if items[i].ID != tc.want[i] {
					t.Fatalf("item %d = %d, want %d", i, items[i].ID, tc.want[i])
				}
			}
		})
	}

	sold, err := s.ListSoldBefore(ctx, soldAt.Add(time.Minute))
	if err != nil || len(sold) != 1 || sold[0].ID != third {
		t.Fatalf("ListSoldBefore = %+v, %v", sold, err)
	}
}

func TestInsertItemUnknownEvent(t *testing.T) {
	s := openTestStore(t)
	err := s.InsertItem(context.Background(), domain.MarketItem{
		ID: 1, EventID: 9, AssetID: big.NewInt(1), Price: big.NewInt(1),
		Custody: domain.InEscrow(escrow), ListedAt: time.Now(),
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	eventID := addEvent(t, s)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context) error {
		id, err := s.NextItemID(ctx)
		if err != nil {
			return err
		}
		if err := s.InsertItem(ctx, domain.MarketItem{
			ID: id, EventID: eventID, AssetID: big.NewInt(1), Price: big.NewInt(1),
			Custody: domain.InEscrow(escrow), ListedAt: time.Now(),
		}); err != nil {
			return err
		}
		if err := s.Credit(ctx, seller, big.NewInt(9)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := s.GetItem(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("item survived rollback: %v", err)
	}
	if bal, _ := s.Balance(ctx, seller); bal.Sign() != 0 {
		t.Fatalf("balance survived rollback: %s", bal)
	}
	if id := addItem(t, s, eventID); id != 1 {
		t.Fatalf("next id = %d, want 1", id)
	}
}

func TestBalancesBeyondInt64(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	big1, _ := new(big.Int).SetString("100000000000000000000000", 10)

	if err := s.Credit(ctx, seller, big1); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := s.Credit(ctx, seller, big1); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	bal, err := s.Balance(ctx, seller)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.String() != "200000000000000000000000" {
		t.Fatalf("balance = %s", bal)
	}
	if err := s.Debit(ctx, seller, new(big.Int).Add(bal, big.NewInt(1))); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("overdraw err = %v", err)
	}
}

func TestFeePolicyAndAudit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.LoadFeePolicy(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("LoadFeePolicy err = %v, want ErrNotFound", err)
	}
	if err := s.SaveFeePolicy(ctx, domain.FeePolicy{ListingPrice: big.NewInt(25), CommissionPercent: 2}); err != nil {
		t.Fatalf("SaveFeePolicy: %v", err)
	}
	if err := s.SaveFeePolicy(ctx, domain.FeePolicy{ListingPrice: big.NewInt(50), CommissionPercent: 2}); err != nil {
		t.Fatalf("SaveFeePolicy: %v", err)
	}
	policy, err := s.LoadFeePolicy(ctx)
	if err != nil || policy.ListingPrice.Int64() != 50 || policy.CommissionPercent != 2 {
		t.Fatalf("policy = %+v, %v", policy, err)
	}

	for _, ev := range []string{"a", "b", "c"} {
		if err := s.Log(ctx, ev, map[string]any{"v": ev}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	entries, err := s.List(ctx, domain.ListOpts{Offset: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].Event != "b" || entries[0].Detail["v"] != "b" {
		t.Fatalf("entries = %+v", entries)
	}
}
