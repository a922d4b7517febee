package handler

import (
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

// EventHandler serves the event registry.
type EventHandler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(l Ledger, logger *slog.Logger) *EventHandler {
	return &EventHandler{ledger: l, logger: logger}
}

type registerEventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	TicketPrice string    `json:"ticket_price"`
}

// ListEvents returns every event in creation order.
// GET /api/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.ledger.ListEvents(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// GetEvent returns one event.
// GET /api/events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"), "event id")
	if err != nil {
		writeLedgerError(w, r, h.logger, "get event", err)
		return
	}
	event, err := h.ledger.GetEvent(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// RegisterEvent registers an event; only the administrator may call it.
// POST /api/events
func (h *EventHandler) RegisterEvent(w http.ResponseWriter, r *http.Request) {
	var req registerEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "register event", err)
		return
	}
	price := new(big.Int)
	if req.TicketPrice != "" {
		p, err := domain.ParseWei(req.TicketPrice)
		if err != nil {
			writeLedgerError(w, r, h.logger, "register event", err)
			return
		}
		price = p
	}

	event, err := h.ledger.RegisterEvent(r.Context(), caller(r), domain.NewEvent{
		Title:       req.Title,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		TicketPrice: price,
	})
	if err != nil {
		writeLedgerError(w, r, h.logger, "register event", err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}
