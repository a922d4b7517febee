package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/eventmarket/internal/domain"
	"github.com/alanyoungcy/eventmarket/internal/service"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidArgument, http.StatusBadRequest},
		{domain.ErrInvalidPayment, http.StatusPaymentRequired},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrAlreadySold, http.StatusConflict},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrCustodyTransferFailed, http.StatusBadGateway},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("ledger: op: %w", tc.err)
		if got := statusFor(wrapped); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestServerErrorsAreNotLeaked(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	writeLedgerError(rec, req, slog.New(slog.DiscardHandler), "op", errors.New("pq: connection reset"))

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusInternalServerError || body["error"] != "internal server error" {
		t.Fatalf("got %d %v", rec.Code, body)
	}
}

type fakeReplayer struct {
	after string
	limit int
}

func (f *fakeReplayer) Replay(_ context.Context, streamID string, limit int) ([]service.StreamedNotification, error) {
	f.after, f.limit = streamID, limit
	return []service.StreamedNotification{{
		StreamID:     "2-0",
		Notification: domain.Notification{ID: "n1", Kind: domain.NotificationItemSold},
	}}, nil
}

func TestListNotifications(t *testing.T) {
	rp := &fakeReplayer{}
	h := NewNotificationHandler(rp, slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.ListNotifications(rec, httptest.NewRequest("GET", "/api/notifications?after=1-0&limit=20", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rp.after != "1-0" || rp.limit != 20 {
		t.Fatalf("replay called with %q %d", rp.after, rp.limit)
	}
	var body struct {
		Notifications []service.StreamedNotification `json:"notifications"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Notifications) != 1 || body.Notifications[0].StreamID != "2-0" {
		t.Fatalf("notifications = %+v", body.Notifications)
	}
}
