package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/services"
	"github.com/username/opsledger/src/utils"
)

type PortfolioHandler struct {
	portfolioService services.PortfolioService
}

func NewPortfolioHandler(portfolioService services.PortfolioService) *PortfolioHandler {
	return &PortfolioHandler{portfolioService: portfolioService}
}

func (h *PortfolioHandler) HandleListPositions(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	positions, err := h.portfolioService.ListPositions(r.Context(), userID)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	if positions == nil {
		positions = []models.Position{}
	}
	utils.WriteJSON(w, http.StatusOK, positions)
}

func (h *PortfolioHandler) HandleGetPosition(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	detail, err := h.portfolioService.GetPosition(r.Context(), userID, chi.URLParam(r, "positionID"))
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, detail)
}

// HandleListOperations lists visible operations; include_hidden=true adds the
// partial exits folded into a round trip.
func (h *PortfolioHandler) HandleListOperations(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	includeHidden := false
	if raw := r.URL.Query().Get("include_hidden"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			utils.SendJSONError(w, "include_hidden must be a boolean", http.StatusBadRequest)
			return
		}
		includeHidden = parsed
	}
	ops, err := h.portfolioService.ListOperations(r.Context(), userID, includeHidden)
	if err != nil {
		sendServiceError(w, r, err)
		return
	}
	if ops == nil {
		ops = []models.Operation{}
	}
	utils.WriteJSON(w, http.StatusOK, ops)
}
