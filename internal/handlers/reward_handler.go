package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/repaircoin/backend/internal/models"
	"github.com/repaircoin/backend/internal/services"
)

type RewardHandler struct {
	service   *services.RewardService
	validator *services.ValidationHelper
}

func NewRewardHandler(service *services.RewardService) *RewardHandler {
	return &RewardHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// IssueReward deducts the base reward from the shop and queues the customer's mint.
func (h *RewardHandler) IssueReward(w http.ResponseWriter, r *http.Request) {
	var req models.RewardRequest
	req.ShopID = chi.URLParam(r, "shopId")
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	result, err := h.service.IssueReward(r.Context(), req)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
