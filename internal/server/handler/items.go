package handler

import (
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/eventmarket/internal/domain"
	"github.com/alanyoungcy/eventmarket/internal/ledger"
	"github.com/alanyoungcy/eventmarket/internal/server/middleware"
)

// ItemHandler serves listings, sales and item queries.
type ItemHandler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewItemHandler creates an ItemHandler.
func NewItemHandler(l Ledger, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{ledger: l, logger: logger}
}

type createListingRequest struct {
	EventID       uint64 `json:"event_id"`
	AssetContract string `json:"asset_contract"`
	AssetID       string `json:"asset_id"`
	Price         string `json:"price"`
	Payment       string `json:"payment"`
}

type saleRequest struct {
	AssetContract string `json:"asset_contract"`
	Payment       string `json:"payment"`
}

// CreateListing moves the caller's asset into escrow and lists it.
// POST /api/items
func (h *ItemHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "create listing", err)
		return
	}
	in, payment, err := req.parse()
	if err != nil {
		writeLedgerError(w, r, h.logger, "create listing", err)
		return
	}
	item, err := h.ledger.CreateListing(r.Context(), caller(r), in, payment)
	if err != nil {
		writeLedgerError(w, r, h.logger, "create listing", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (req createListingRequest) parse() (ledger.NewListing, *big.Int, error) {
	contract, err := parseAddress(req.AssetContract, "asset_contract")
	if err != nil {
		return ledger.NewListing{}, nil, err
	}
	assetID, err := parseAmount(req.AssetID, "asset_id")
	if err != nil {
		return ledger.NewListing{}, nil, err
	}
	price, err := parseAmount(req.Price, "price")
	if err != nil {
		return ledger.NewListing{}, nil, err
	}
	payment, err := parseAmount(req.Payment, "payment")
	if err != nil {
		return ledger.NewListing{}, nil, err
	}
	return ledger.NewListing{
		EventID:       req.EventID,
		AssetContract: contract,
		AssetID:       assetID,
		Price:         price,
	}, payment, nil
}

// ExecuteSale buys an item for the caller.
// POST /api/items/{id}/sale
func (h *ItemHandler) ExecuteSale(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"), "item id")
	if err != nil {
		writeLedgerError(w, r, h.logger, "execute sale", err)
		return
	}
	var req saleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "execute sale", err)
		return
	}
	contract, err := parseAddress(req.AssetContract, "asset_contract")
	if err != nil {
		writeLedgerError(w, r, h.logger, "execute sale", err)
		return
	}
	payment, err := parseAmount(req.Payment, "payment")
	if err != nil {
		writeLedgerError(w, r, h.logger, "execute sale", err)
		return
	}
	item, err := h.ledger.ExecuteSale(r.Context(), caller(r), id, contract, payment)
	if err != nil {
		writeLedgerError(w, r, h.logger, "execute sale", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// GetItem returns one item.
// GET /api/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"), "item id")
	if err != nil {
		writeLedgerError(w, r, h.logger, "get item", err)
		return
	}
	item, err := h.ledger.GetItem(r.Context(), id)
	if err != nil {
		writeLedgerError(w, r, h.logger, "get item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// ListItems runs one of the item queries, ordered by item id.
// GET /api/items?filter=unsold|created|owned|event&event_id=
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := q.Get("filter")
	if filter == "" {
		filter = "unsold"
	}

	var (
		items []domain.MarketItem
		err   error
	)
	switch filter {
	case "unsold":
		items, err = h.ledger.FetchUnsoldItems(r.Context())
	case "created", "owned":
		who, ok := middleware.CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing "+middleware.CallerHeader)
			return
		}
		if filter == "created" {
			items, err = h.ledger.FetchItemsCreatedBy(r.Context(), who)
		} else {
			items, err = h.ledger.FetchItemsOwnedBy(r.Context(), who)
		}
	case "event":
		var eventID uint64
		if eventID, err = parseID(q.Get("event_id"), "event_id"); err == nil {
			items, err = h.ledger.FetchItemsByEvent(r.Context(), eventID)
		}
	default:
		err = fmt.Errorf("%w: unknown filter %q", domain.ErrInvalidArgument, filter)
	}
	if err != nil {
		writeLedgerError(w, r, h.logger, "list items", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
