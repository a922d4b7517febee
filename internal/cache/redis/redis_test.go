package redis

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

// newTestClient connects to MARKETD_TEST_REDIS_ADDR under a fresh key prefix.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("MARKETD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MARKETD_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, KeyPrefix: "test:" + uuid.NewString() + ":"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManager(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "ledger:mutation", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, "ledger:mutation", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire err = %v, want ErrLockHeld", err)
	}
	unlock()
	unlock()

	again, err := lm.Acquire(ctx, "ledger:mutation", time.Second)
	if err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
	again()
}

func TestLockExpiredHolderCannotReleaseSuccessor(t *testing.T) {
	c := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	stale, err := lm.Acquire(ctx, "k", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	fresh, err := lm.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	defer fresh()

	stale()
	if _, err := lm.Acquire(ctx, "k", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
}

func TestRateLimiter(t *testing.T) {
	c := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "caller", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := rl.Allow(ctx, "caller", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("fourth request admitted")
	}
	if ok, _ := rl.Allow(ctx, "other", 3, time.Minute); !ok {
		t.Fatal("other key should have its own window")
	}
}

func TestEventCache(t *testing.T) {
	c := newTestClient(t)
	ec := NewEventCache(c, time.Minute)
	ctx := context.Background()

	if _, err := ec.Get(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("miss err = %v", err)
	}

	start := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	ev := domain.Event{
		ID: 1, Title: "Open air", StartTime: start, EndTime: start.Add(3 * time.Hour),
		TicketPrice: big.NewInt(1_000_000), Active: true, CreatedAt: start.Add(-24 * time.Hour),
	}
	if err := ec.Set(ctx, ev); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := ec.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != ev.Title || got.TicketPrice.Cmp(ev.TicketPrice) != 0 || !got.EndTime.Equal(ev.EndTime) {
		t.Fatalf("Get = %+v", got)
	}

	if err := ec.Invalidate(ctx, 1); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := ec.Get(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("after invalidate err = %v", err)
	}
}

func TestSignalBus(t *testing.T) {
	c := newTestClient(t)
	sb := NewSignalBus(c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := sb.Subscribe(ctx, "market:items")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := sb.Publish(ctx, "market:items", []byte(`{"kind":"item_sold"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case got := <-msgs:
		if string(got) != `{"kind":"item_sold"}` {
			t.Fatalf("payload = %s", got)
		}
	case <-ctx.Done():
		t.Fatal("no message received")
	}

	empty, err := sb.StreamRead(ctx, "stream:market:items", "0", 10)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty stream read = %v, %v", empty, err)
	}
	for _, p := range []string{"a", "b", "c"} {
		if err := sb.StreamAppend(ctx, "stream:market:items", []byte(p)); err != nil {
			t.Fatalf("StreamAppend: %v", err)
		}
	}
	first, err := sb.StreamRead(ctx, "stream:market:items", "0", 2)
	if err != nil || len(first) != 2 || string(first[0].Payload) != "a" {
		t.Fatalf("StreamRead = %v, %v", first, err)
	}
	rest, err := sb.StreamRead(ctx, "stream:market:items", first[1].ID, 10)
	if err != nil || len(rest) != 1 || string(rest[0].Payload) != "c" {
		t.Fatalf("StreamRead after = %v, %v", rest, err)
	}
}
