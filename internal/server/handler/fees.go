package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/eventmarket/internal/domain"
)

// FeeHandler serves the fee policy and withdrawable balances.
type FeeHandler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler.
func NewFeeHandler(l Ledger, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{ledger: l, logger: logger}
}

type feesResponse struct {
	ListingPrice      string `json:"listing_price"`
	CommissionPercent uint8  `json:"commission_percent"`
	Admin             string `json:"admin"`
	Ledger            string `json:"ledger"`
}

func (h *FeeHandler) writeFees(w http.ResponseWriter, r *http.Request) {
	price, err := h.ledger.ListingPrice(r.Context())
	if err != nil {
		writeLedgerError(w, r, h.logger, "listing price", err)
		return
	}
	writeJSON(w, http.StatusOK, feesResponse{
		ListingPrice:      domain.FormatWei(price),
		CommissionPercent: h.ledger.CommissionPercent(),
		Admin:             h.ledger.Admin().Hex(),
		Ledger:            h.ledger.LedgerAddress().Hex(),
	})
}

// GetFees returns the listing price and commission.
// GET /api/fees
func (h *FeeHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	h.writeFees(w, r)
}

// SetListingPrice changes the fee charged on future listings.
// PUT /api/fees/listing-price
func (h *FeeHandler) SetListingPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ListingPrice string `json:"listing_price"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeLedgerError(w, r, h.logger, "set listing price", err)
		return
	}
	amount, err := parseAmount(req.ListingPrice, "listing_price")
	if err != nil {
		writeLedgerError(w, r, h.logger, "set listing price", err)
		return
	}
	if err := h.ledger.SetListingPrice(r.Context(), caller(r), amount); err != nil {
		writeLedgerError(w, r, h.logger, "set listing price", err)
		return
	}
	h.writeFees(w, r)
}

// GetBalance returns the withdrawable balance of an address.
// GET /api/balances/{address}
func (h *FeeHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(r.PathValue("address"), "address")
	if err != nil {
		writeLedgerError(w, r, h.logger, "balance", err)
		return
	}
	bal, err := h.ledger.BalanceOf(r.Context(), addr)
	if err != nil {
		writeLedgerError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": addr.Hex(),
		"balance": domain.FormatWei(bal),
	})
}

// Withdraw pays out the caller's whole balance.
// POST /api/withdrawals
func (h *FeeHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	who := caller(r)
	amount, err := h.ledger.Withdraw(r.Context(), who)
	if err != nil {
		writeLedgerError(w, r, h.logger, "withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": who.Hex(),
		"amount":  domain.FormatWei(amount),
	})
}
