package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(ok)
	cases := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"missing", "/api/events", nil, http.StatusUnauthorized},
		{"wrong", "/api/events", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"api key", "/api/events", map[string]string{"X-API-Key": "secret"}, http.StatusOK},
		{"bearer", "/api/events", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		{"open path", "/api/health", nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}

	rec := httptest.NewRecorder()
	Auth("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("disabled auth status = %d", rec.Code)
	}
}

func TestCaller(t *testing.T) {
	var seen common.Address
	var present bool
	h := Caller(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, present = CallerFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CallerHeader, common.HexToAddress("0xb0b").Hex())
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !present || seen != common.HexToAddress("0xb0b") {
		t.Fatalf("caller = %s, %v", seen.Hex(), present)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CallerHeader, "bob")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed caller status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	Caller(RequireCaller(ok)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("RequireCaller status = %d, want 401", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://market.example"})(ok)

	req := httptest.NewRequest(http.MethodOptions, "/api/items", nil)
	req.Header.Set("Origin", "https://market.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://market.example" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("foreign origin allowed")
	}
}

type countingLimiter struct {
	keys  map[string]int
	limit int
	err   error
}

func (c *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	c.keys[key]++
	return c.keys[key] <= c.limit, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{keys: map[string]int{}, limit: 1}
	h := Caller(RateLimit(lim, 1, time.Minute, slog.New(slog.DiscardHandler))(ok))

	send := func(caller string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		if caller != "" {
			req.Header.Set(CallerHeader, caller)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if send("") != http.StatusOK || send("") != http.StatusTooManyRequests {
		t.Fatal("IP limit not enforced")
	}
	if send("0x0000000000000000000000000000000000000001") != http.StatusOK {
		t.Fatal("caller should have its own bucket")
	}
	if lim.keys["api:ip:10.0.0.1"] != 2 {
		t.Fatalf("keys = %v", lim.keys)
	}

	lim.err = errors.New("redis down")
	if send("") != http.StatusOK {
		t.Fatal("limiter errors should fail open")
	}
}

func TestLoggingCapturesStatus(t *testing.T) {
	h := Logging(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
}
