package handlers

import (
	"net/http"

	"github.com/repaircoin/backend/internal/services"
)

type TreasuryHandler struct {
	reader services.TreasuryReader
}

func NewTreasuryHandler(reader services.TreasuryReader) *TreasuryHandler {
	return &TreasuryHandler{reader: reader}
}

func (h *TreasuryHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reader.GetTreasuryStats(r.Context())
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
