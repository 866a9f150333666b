package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/services"
	"github.com/username/opsledger/src/utils"
)

type ProcessingHandler struct {
	processingService services.ProcessingService
	sessions          services.SessionStore
}

func NewProcessingHandler(processingService services.ProcessingService, sessions services.SessionStore) *ProcessingHandler {
	return &ProcessingHandler{processingService: processingService, sessions: sessions}
}

type processBatchRequest struct {
	InvoiceIDs []string `json:"invoice_ids"`
}

// HandleProcessBatch runs a batch synchronously; DATABASE and NETWORK
// failures are retried before answering.
func (h *ProcessingHandler) HandleProcessBatch(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	var req processBatchRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.SendJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	result, err := h.processingService.ProcessBatchWithRetry(r.Context(), req.InvoiceIDs, userID, nil)
	sendBatchResult(w, r, result, err)
}

func (h *ProcessingHandler) HandleProcessInvoice(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	result, err := h.processingService.ProcessSingle(r.Context(), chi.URLParam(r, "invoiceID"), userID)
	sendBatchResult(w, r, result, err)
}

func (h *ProcessingHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	sessions := h.sessions.ListForUser(userID)
	if sessions == nil {
		sessions = []models.ProcessingSession{}
	}
	utils.WriteJSON(w, http.StatusOK, sessions)
}

func (h *ProcessingHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	utils.WriteJSON(w, http.StatusOK, session)
}

// HandleCancelSession flags a running session; the batch stops at its next
// stage boundary.
func (h *ProcessingHandler) HandleCancelSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	if !session.Active() {
		utils.SendJSONError(w, "session is not running", http.StatusConflict)
		return
	}
	if err := h.sessions.Cancel(session.ID); err != nil {
		sendServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *ProcessingHandler) ownedSession(w http.ResponseWriter, r *http.Request) (models.ProcessingSession, bool) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return models.ProcessingSession{}, false
	}
	session, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err == nil && session.UserID != userID {
		err = services.ErrSessionNotFound
	}
	if err != nil {
		sendServiceError(w, r, err)
		return models.ProcessingSession{}, false
	}
	return session, true
}
