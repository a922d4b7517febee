package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubSender struct {
	name string
	err  error
	sent []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.sent = append(s.sent, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func TestNotifierFilters(t *testing.T) {
	a := &stubSender{name: "a"}
	n := NewNotifier([]Sender{a}, []string{"item_sold", " "}, slog.New(slog.DiscardHandler))

	if err := n.Notify(context.Background(), "listing_created", "listed", ""); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(context.Background(), "item_sold", "sold", ""); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(a.sent) != 1 || a.sent[0] != "sold" {
		t.Fatalf("sent = %v", a.sent)
	}
	if n.Enabled("listing_created") || !n.Enabled("item_sold") {
		t.Fatal("Enabled disagrees with filter")
	}
}

func TestNotifierKeepsGoingAfterFailure(t *testing.T) {
	broken := &stubSender{name: "broken", err: errors.New("boom")}
	ok := &stubSender{name: "ok"}
	n := NewNotifier([]Sender{broken, ok}, nil, nil)

	err := n.Notify(context.Background(), "any", "title", "msg")
	if err == nil || !strings.Contains(err.Error(), "broken: boom") {
		t.Fatalf("err = %v", err)
	}
	if len(ok.sent) != 1 {
		t.Fatal("second sender skipped")
	}
}

func TestNotifierWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, nil)
	if n.Enabled("item_sold") {
		t.Fatal("no senders should disable every event")
	}
	if err := n.Notify(context.Background(), "item_sold", "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "TOKEN", "42")
	if err := s.Send(context.Background(), "Item sold", "0.03 ETH"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Fatalf("path = %s", path)
	}
	if got["chat_id"] != "42" || got["text"] != "*Item sold*\n0.03 ETH" || got["parse_mode"] != "Markdown" {
		t.Fatalf("payload = %v", got)
	}
}

func TestDiscordSender(t *testing.T) {
	t.Run("no content", func(t *testing.T) {
		var got map[string]string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		if err := NewDiscordSender(srv.URL).Send(context.Background(), "Listed", "item 3"); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if got["content"] != "**Listed**\nitem 3" {
			t.Fatalf("content = %q", got["content"])
		}
	})

	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "unknown webhook", http.StatusNotFound)
		}))
		defer srv.Close()

		err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
		if err == nil || !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "unknown webhook") {
			t.Fatalf("err = %v", err)
		}
	})
}
