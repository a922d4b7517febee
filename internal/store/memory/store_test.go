package memory

import (
	"context"
	"errors"
	"math/big"
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

func seedEvent(t *testing.T, s *Store) uint64 {
	t.Helper()
	ctx := context.Background()
	var id uint64
	err := s.WithTx(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.NextEventID(ctx)
		if err != nil {
			return err
		}
		return s.InsertEvent(ctx, domain.Event{ID: id, Title: "gala", TicketPrice: big.NewInt(1), Active: true})
	})
	if err != nil {
		t.Fatalf("seed event: %v", err)
	}
	return id
}

func seedItem(t *testing.T, s *Store, eventID uint64) uint64 {
	t.Helper()
	ctx := context.Background()
	var id uint64
	err := s.WithTx(ctx, func(ctx context.Context) error {
		var err error
		id, err = s.NextItemID(ctx)
		if err != nil {
			return err
		}
		return s.InsertItem(ctx, domain.MarketItem{
			ID:      id,
			EventID: eventID,
			AssetID: big.NewInt(int64(id)),
			Seller:  seller,
			Price:   big.NewInt(100),
			Custody: domain.InEscrow(escrow),
		})
	})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return id
}

func TestWithTxRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	s := New()
	eventID := seedEvent(t, s)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context) error {
		id, err := s.NextItemID(ctx)
		if err != nil {
			return err
		}
		if err := s.InsertItem(ctx, domain.MarketItem{ID: id, EventID: eventID, AssetID: big.NewInt(1), Price: big.NewInt(1), Custody: domain.InEscrow(escrow)}); err != nil {
			return err
		}
		if err := s.Credit(ctx, seller, big.NewInt(50)); err != nil {
			return err
		}
		if err := s.SaveFeePolicy(ctx, domain.FeePolicy{ListingPrice: big.NewInt(3)}); err != nil {
			return err
		}
		if err := s.Log(ctx, "noise", nil); err != nil {
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
	if _, err := s.LoadFeePolicy(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("fee policy survived rollback: %v", err)
	}
	if entries, _ := s.List(ctx, domain.ListOpts{}); len(entries) != 0 {
		t.Fatalf("audit survived rollback: %+v", entries)
	}
	if id := seedItem(t, s, eventID); id != 1 {
		t.Fatalf("next item id = %d, want 1", id)
	}
}

func TestMarkSold(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := seedItem(t, s, seedEvent(t, s))
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := s.MarkSold(ctx, id, buyer, at); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}
	item, err := s.GetItem(ctx, id)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if !item.Sold() || item.Owner() != buyer || !item.SoldAt.Equal(at) {
		t.Fatalf("item = %+v", item)
	}
	if err := s.MarkSold(ctx, id, seller, at); !errors.Is(err, domain.ErrAlreadySold) {
		t.Fatalf("second MarkSold err = %v, want ErrAlreadySold", err)
	}
	if err := s.MarkSold(ctx, 99, buyer, at); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing MarkSold err = %v, want ErrNotFound", err)
	}
}

func TestInsertItemRequiresEvent(t *testing.T) {
	s := New()
	err := s.InsertItem(context.Background(), domain.MarketItem{ID: 1, EventID: 3, AssetID: big.NewInt(1), Price: big.NewInt(1)})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListItemsOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := seedEvent(t, s)
	b := seedEvent(t, s)
	for _, ev := range []uint64{a, b, a, b, a} {
		seedItem(t, s, ev)
	}
	if err := s.MarkSold(ctx, 3, buyer, time.Now()); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}

	cases := []struct {
		name   string
		filter domain.ItemFilter
		want   []uint64
	}{
		{"all", domain.ItemFilter{}, []uint64{1, 2, 3, 4, 5}},
		{"event a", domain.ItemFilter{EventID: a}, []uint64{1, 3, 5}},
		{"unsold event a", domain.ItemFilter{EventID: a, Status: domain.ItemStatusUnsold}, []uint64{1, 5}},
		{"owned by buyer", domain.ItemFilter{Status: domain.ItemStatusSold, Owner: &buyer}, []uint64{3}},
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
			for i, it := range items {
				if it.ID != tc.want[i] {
					t.Fatalf("item %d id = %d, want %d", i, it.ID, tc.want[i])
				}
			}
		})
	}
}

func TestReturnedItemsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	id := seedItem(t, s, seedEvent(t, s))

	item, _ := s.GetItem(ctx, id)
	item.Price.SetInt64(1)

	again, _ := s.GetItem(ctx, id)
	if again.Price.Int64() != 100 {
		t.Fatalf("stored price mutated to %s", again.Price)
	}
}

func TestDebit(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Credit(ctx, seller, big.NewInt(10)); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if err := s.Debit(ctx, seller, big.NewInt(11)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("overdraw err = %v", err)
	}
	if err := s.Debit(ctx, seller, big.NewInt(10)); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if bal, _ := s.Balance(ctx, seller); bal.Sign() != 0 {
		t.Fatalf("balance = %s, want 0", bal)
	}
	if err := s.Debit(ctx, buyer, big.NewInt(1)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("unknown owner err = %v", err)
	}
}

func TestListSoldBefore(t *testing.T) {
	ctx := context.Background()
	s := New()
	ev := seedEvent(t, s)
	early := seedItem(t, s, ev)
	late := seedItem(t, s, ev)
	seedItem(t, s, ev)

	cut := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if err := s.MarkSold(ctx, early, buyer, cut.Add(-time.Hour)); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}
	if err := s.MarkSold(ctx, late, buyer, cut); err != nil {
		t.Fatalf("MarkSold: %v", err)
	}

	items, err := s.ListSoldBefore(ctx, cut)
	if err != nil {
		t.Fatalf("ListSoldBefore: %v", err)
	}
	if len(items) != 1 || items[0].ID != early {
		t.Fatalf("items = %+v", items)
	}
}

func TestAuditList(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, ev := range []string{"a", "b", "c", "d"} {
		if err := s.Log(ctx, ev, map[string]any{"k": ev}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	entries, err := s.List(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].Event != "c" || entries[1].Event != "b" {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].ID != 3 {
		t.Fatalf("id = %d, want 3", entries[0].ID)
	}
}
