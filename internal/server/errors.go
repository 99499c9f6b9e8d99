package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/reconcile"
	"github.com/riskcast/riskcast/internal/storage"
)

// writeValidationError writes a 400 naming the offending field.
func writeValidationError(w http.ResponseWriter, r *http.Request, field, message string) {
	writeErrorDetail(w, r, http.StatusBadRequest, model.ErrorDetail{
		Code:    model.ErrCodeInvalidInput,
		Message: message,
		Field:   field,
	}, "")
}

// serverError logs the cause under a fresh error id and returns an opaque
// 500. The id is the only hint the response carries.
func (h *Handlers) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	errorID := uuid.New().String()
	h.logger.Error("handler error",
		"op", op,
		"error", err,
		"error_id", errorID,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeInternalError(w, r, errorID)
}

// handleServiceError maps well-known service errors onto the API taxonomy;
// anything unrecognized becomes an opaque 500.
func (h *Handlers) handleServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "resource not found")
	case errors.Is(err, storage.ErrDuplicate):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "resource already exists")
	case errors.Is(err, reconcile.ErrRunInProgress):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "a reconcile run is already in progress")
	default:
		h.serverError(w, r, op, err)
	}
}
