package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/eventmarket/internal/clock"
	custodymem "github.com/alanyoungcy/eventmarket/internal/custody/memory"
	"github.com/alanyoungcy/eventmarket/internal/domain"
	"github.com/alanyoungcy/eventmarket/internal/ledger"
	"github.com/alanyoungcy/eventmarket/internal/server/handler"
	"github.com/alanyoungcy/eventmarket/internal/server/middleware"
	"github.com/alanyoungcy/eventmarket/internal/store/memory"
)

var (
	admin   = common.HexToAddress("0xA11CE")
	escrow  = common.HexToAddress("0xE5C0")
	seller  = common.HexToAddress("0x5E11")
	buyer   = common.HexToAddress("0xB0B")
	nftAddr = common.HexToAddress("0x721")
)

const (
	listingFee = "25000000000000000"
	salePrice  = "30000000000000000"
)

type fixture struct {
	srv      *httptest.Server
	registry *custodymem.Registry
}

func newFixture(t *testing.T, cfg Config, limiter domain.RateLimiter, checks map[string]handler.HealthCheck) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	registry := custodymem.NewRegistry(escrow)
	fee, _ := domain.ParseWei(listingFee)

	l, err := ledger.New(context.Background(), ledger.Config{
		Admin:             admin,
		Address:           escrow,
		CommissionPercent: 2,
		ListingPrice:      fee,
	}, memory.New(), registry, logger, ledger.WithClock(clock.NewFixed(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))))
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	t.Cleanup(l.Close)

	h := NewHandler(cfg, Handlers{
		Health: handler.NewHealthHandler(checks, logger),
		Events: handler.NewEventHandler(l, logger),
		Fees:   handler.NewFeeHandler(l, logger),
		Items:  handler.NewItemHandler(l, logger),
	}, nil, limiter, logger)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, registry: registry}
}

// do sends a JSON request as caller (zero address for none) and decodes the
// response body into out when out is non-nil.
func (f *fixture) do(t *testing.T, method, path string, caller common.Address, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if caller != (common.Address{}) {
		req.Header.Set(middleware.CallerHeader, caller.Hex())
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func eventBody() map[string]any {
	start := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	return map[string]any{
		"title":        "Summer Festival",
		"description":  "Open air",
		"start_time":   start,
		"end_time":     start.Add(4 * time.Hour),
		"ticket_price": "10000000000000000",
	}
}

func listingBody(eventID uint64, assetID, payment string) map[string]any {
	return map[string]any{
		"event_id":       eventID,
		"asset_contract": nftAddr.Hex(),
		"asset_id":       assetID,
		"price":          salePrice,
		"payment":        payment,
	}
}

func TestMarketplaceFlow(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	for _, id := range []int64{1, 2} {
		if err := f.registry.Mint(nftAddr, big.NewInt(id), seller); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	f.registry.SetApprovalForAll(seller, escrow, true)

	var event domain.Event
	if code := f.do(t, "POST", "/api/events", admin, eventBody(), &event); code != http.StatusCreated {
		t.Fatalf("register event: status %d", code)
	}
	if event.ID != 1 || event.Title != "Summer Festival" {
		t.Fatalf("event = %+v", event)
	}

	var listed domain.MarketItem
	if code := f.do(t, "POST", "/api/items", seller, listingBody(event.ID, "1", listingFee), &listed); code != http.StatusCreated {
		t.Fatalf("create listing: status %d", code)
	}
	if listed.ID != 1 || listed.Sold() || listed.Owner() != escrow {
		t.Fatalf("listed item = %+v", listed)
	}
	if code := f.do(t, "POST", "/api/items", seller, listingBody(event.ID, "2", listingFee), nil); code != http.StatusCreated {
		t.Fatalf("second listing: status %d", code)
	}

	var unsold struct {
		Items []domain.MarketItem `json:"items"`
	}
	f.do(t, "GET", "/api/items", common.Address{}, nil, &unsold)
	if len(unsold.Items) != 2 {
		t.Fatalf("unsold items = %d, want 2", len(unsold.Items))
	}

	sale := map[string]any{"asset_contract": nftAddr.Hex(), "payment": salePrice}
	var sold domain.MarketItem
	if code := f.do(t, "POST", "/api/items/1/sale", buyer, sale, &sold); code != http.StatusOK {
		t.Fatalf("execute sale: status %d", code)
	}
	if !sold.Sold() || sold.Owner() != buyer {
		t.Fatalf("sold item = %+v", sold)
	}
	if code := f.do(t, "POST", "/api/items/1/sale", buyer, sale, nil); code != http.StatusConflict {
		t.Fatalf("second sale: status %d, want 409", code)
	}

	var owned struct {
		Items []domain.MarketItem `json:"items"`
	}
	f.do(t, "GET", "/api/items?filter=owned", buyer, nil, &owned)
	if len(owned.Items) != 1 || owned.Items[0].ID != 1 {
		t.Fatalf("owned items = %+v", owned.Items)
	}
	var byEvent struct {
		Items []domain.MarketItem `json:"items"`
	}
	f.do(t, "GET", "/api/items?filter=event&event_id=1", common.Address{}, nil, &byEvent)
	if len(byEvent.Items) != 2 {
		t.Fatalf("event items = %d, want 2", len(byEvent.Items))
	}

	// 30000000000000000 * 98% goes to the seller.
	var bal map[string]string
	f.do(t, "GET", "/api/balances/"+seller.Hex(), common.Address{}, nil, &bal)
	if bal["balance"] != "29400000000000000" {
		t.Fatalf("seller balance = %s", bal["balance"])
	}

	var paid map[string]string
	if code := f.do(t, "POST", "/api/withdrawals", seller, nil, &paid); code != http.StatusOK {
		t.Fatalf("withdraw: status %d", code)
	}
	if paid["amount"] != "29400000000000000" {
		t.Fatalf("withdrawn = %s", paid["amount"])
	}
	if code := f.do(t, "POST", "/api/withdrawals", seller, nil, nil); code != http.StatusBadRequest {
		t.Fatalf("empty withdraw: status %d, want 400", code)
	}
}

func TestErrorStatuses(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	if err := f.registry.Mint(nftAddr, big.NewInt(1), seller); err != nil {
		t.Fatalf("mint: %v", err)
	}
	f.registry.SetApprovalForAll(seller, escrow, true)
	if code := f.do(t, "POST", "/api/events", admin, eventBody(), nil); code != http.StatusCreated {
		t.Fatalf("register event: status %d", code)
	}

	cases := []struct {
		name   string
		method string
		path   string
		caller common.Address
		body   any
		want   int
	}{
		{"non-admin registers event", "POST", "/api/events", seller, eventBody(), http.StatusForbidden},
		{"missing caller", "POST", "/api/events", common.Address{}, eventBody(), http.StatusUnauthorized},
		{"unknown event", "GET", "/api/events/9", common.Address{}, nil, http.StatusNotFound},
		{"bad event id", "GET", "/api/events/abc", common.Address{}, nil, http.StatusBadRequest},
		{"wrong listing fee", "POST", "/api/items", seller, listingBody(1, "1", "1"), http.StatusPaymentRequired},
		{"listing unknown event", "POST", "/api/items", seller, listingBody(7, "1", listingFee), http.StatusNotFound},
		{"unknown item", "GET", "/api/items/42", common.Address{}, nil, http.StatusNotFound},
		{"created needs caller", "GET", "/api/items?filter=created", common.Address{}, nil, http.StatusUnauthorized},
		{"unknown filter", "GET", "/api/items?filter=mine", common.Address{}, nil, http.StatusBadRequest},
		{"non-admin sets price", "PUT", "/api/fees/listing-price", seller, map[string]string{"listing_price": "1"}, http.StatusForbidden},
		{"bad balance address", "GET", "/api/balances/nope", common.Address{}, nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.do(t, tc.method, tc.path, tc.caller, tc.body, nil); got != tc.want {
				t.Fatalf("status = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestFees(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)

	var fees map[string]any
	f.do(t, "GET", "/api/fees", common.Address{}, nil, &fees)
	if fees["listing_price"] != listingFee || fees["commission_percent"] != float64(2) {
		t.Fatalf("fees = %v", fees)
	}
	if fees["admin"] != admin.Hex() || fees["ledger"] != escrow.Hex() {
		t.Fatalf("identities = %v", fees)
	}

	if code := f.do(t, "PUT", "/api/fees/listing-price", admin, map[string]string{"listing_price": "5"}, &fees); code != http.StatusOK {
		t.Fatalf("set listing price: status %d", code)
	}
	if fees["listing_price"] != "5" {
		t.Fatalf("listing_price after update = %v", fees["listing_price"])
	}
}

func TestMalformedCaller(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	req, _ := http.NewRequest("GET", f.srv.URL+"/api/events", nil)
	req.Header.Set(middleware.CallerHeader, "0x123")
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUnknownBodyField(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	body := eventBody()
	body["venue"] = "park"
	if code := f.do(t, "POST", "/api/events", admin, body, nil); code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}

func TestAPIKeyLeavesHealthOpen(t *testing.T) {
	f := newFixture(t, Config{APIKey: "s3cret"}, nil, nil)

	resp, err := f.srv.Client().Get(f.srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp, err = f.srv.Client().Get(f.srv.URL + "/api/events")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("events without key = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", f.srv.URL+"/api/events", nil)
	req.Header.Set("X-API-Key", "s3cret")
	resp, err = f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("events with key: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events with key = %d, want 200", resp.StatusCode)
	}
}

func TestHealthDegraded(t *testing.T) {
	f := newFixture(t, Config{}, nil, map[string]handler.HealthCheck{
		"store": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if code := f.do(t, "GET", "/api/health", common.Address{}, nil, &body); code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", code)
	}
	if body.Status != "degraded" || body.Checks["store"] != "ok" || !strings.Contains(body.Checks["redis"], "refused") {
		t.Fatalf("body = %+v", body)
	}
}

type countingLimiter struct{ budget int }

func (c *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	c.budget--
	return c.budget >= 0, nil
}

func TestRateLimitWired(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 1, RateWindow: time.Minute}, &countingLimiter{budget: 1}, nil)
	if code := f.do(t, "GET", "/api/fees", common.Address{}, nil, nil); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := f.do(t, "GET", "/api/fees", common.Address{}, nil, nil); code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", code)
	}
}
