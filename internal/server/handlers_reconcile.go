package server

import (
	"net/http"
	"time"

	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/reconcile"
)

const (
	reconcileMinSinceDays = 1
	reconcileMaxSinceDays = 90
)

// HandleReconcileRun triggers a ledger-vs-primary reconciliation run.
func (h *Handlers) HandleReconcileRun(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	var req model.ReconcileRunRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.SinceDays < reconcileMinSinceDays || req.SinceDays > reconcileMaxSinceDays {
		writeValidationError(w, r, "since_days", "since_days must be between 1 and 90")
		return
	}

	run, err := h.reconcile.Run(r.Context(), tenantID, req.SinceDays)
	if err != nil {
		h.handleServiceError(w, r, "reconcile run", err)
		return
	}
	h.auditEvent(r, "reconcile.run", run.ReconcileID, map[string]any{
		"status":         run.Status,
		"missing_count":  run.MissingCount,
		"replayed_count": run.ReplayedCount,
	})
	writeJSON(w, r, http.StatusOK, run)
}

// HandleReconcileStatus returns the most recent run and whether the ledger
// and primary store currently agree. An optional {date} path segment pins
// the answer to the end of that UTC day.
func (h *Handlers) HandleReconcileStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	var (
		status reconcile.StatusResult
		err    error
	)
	if raw := r.PathValue("date"); raw != "" {
		day, parseErr := time.Parse("2006-01-02", raw)
		if parseErr != nil {
			writeValidationError(w, r, "date", "date must be formatted YYYY-MM-DD")
			return
		}
		status, err = h.reconcile.StatusOn(r.Context(), tenantID, day)
	} else {
		status, err = h.reconcile.Status(r.Context(), tenantID)
	}
	if err != nil {
		h.handleServiceError(w, r, "reconcile status", err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// HandleReconcileHistory lists the runs recorded on a given UTC day.
func (h *Handlers) HandleReconcileHistory(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	day, err := time.Parse("2006-01-02", r.PathValue("date"))
	if err != nil {
		writeValidationError(w, r, "date", "date must be formatted YYYY-MM-DD")
		return
	}
	runs, err := h.reconcile.History(r.Context(), tenantID, day)
	if err != nil {
		h.handleServiceError(w, r, "reconcile history", err)
		return
	}
	writeJSON(w, r, http.StatusOK, runs)
}
