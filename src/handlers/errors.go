package handlers

import (
	"errors"
	"net/http"

	"github.com/username/opsledger/src/apperrors"
	"github.com/username/opsledger/src/logger"
	"github.com/username/opsledger/src/models"
	"github.com/username/opsledger/src/services"
	"github.com/username/opsledger/src/utils"
)

// statusForError maps an error category onto an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrSessionNotFound), errors.Is(err, services.ErrPositionNotFound):
		return http.StatusNotFound
	}
	switch apperrors.Classify(err) {
	case apperrors.Validation:
		return http.StatusBadRequest
	case apperrors.Duplicate:
		return http.StatusConflict
	case apperrors.Detection, apperrors.Integration:
		return http.StatusUnprocessableEntity
	case apperrors.Database, apperrors.Network:
		return http.StatusServiceUnavailable
	case apperrors.Cancelled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	message := apperrors.UserMessage(err)
	switch {
	case errors.Is(err, services.ErrSessionNotFound), errors.Is(err, services.ErrPositionNotFound):
		message = err.Error()
	case status >= http.StatusInternalServerError:
		logger.FromContext(r.Context()).Error("Request failed", "path", r.URL.Path, "error", err)
	}
	utils.SendJSONError(w, message, status)
}

// sendBatchResult writes a batch outcome. A rejected or aborted batch still
// returns its result body, with the status of its error.
func sendBatchResult(w http.ResponseWriter, r *http.Request, result *models.BatchResult, err error) {
	if err != nil {
		logger.FromContext(r.Context()).Warn("Batch processing failed", "path", r.URL.Path, "error", err)
		if result == nil {
			sendServiceError(w, r, err)
			return
		}
		utils.WriteJSON(w, statusForError(err), result)
		return
	}
	utils.WriteJSON(w, http.StatusOK, result)
}
