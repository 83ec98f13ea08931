package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/repaircoin/backend/internal/services"
	"github.com/shopspring/decimal"
)

type ShopBalanceHandler struct {
	ledger    services.BalanceLedger
	validator *services.ValidationHelper
}

func NewShopBalanceHandler(ledger services.BalanceLedger) *ShopBalanceHandler {
	return &ShopBalanceHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// CreateShop onboards a shop with a zero balance.
func (h *ShopBalanceHandler) CreateShop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShopID string `json:"shopId" validate:"required,max=64"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	account, err := h.ledger.CreateShopAccount(r.Context(), req.ShopID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// GetBalance returns the shop's purchased balance and issued-token counter.
func (h *ShopBalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.GetShopAccount(r.Context(), chi.URLParam(r, "shopId"))
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// GetHistory lists balance entries newest first. limit defaults to the ledger's configured page
// size and is capped by it.
func (h *ShopBalanceHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			services.SendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest, nil)
			return
		}
		limit = n
	}

	entries, err := h.ledger.ListBalanceEntries(r.Context(), chi.URLParam(r, "shopId"), limit)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// PurchaseBalance credits RCN the shop has paid for.
func (h *ShopBalanceHandler) PurchaseBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount    decimal.Decimal `json:"amount"`
		Reference string          `json:"reference" validate:"max=128"`
	}
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	change, err := h.ledger.AddPurchasedBalance(r.Context(), chi.URLParam(r, "shopId"), req.Amount, req.Reference)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}
