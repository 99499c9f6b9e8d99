package server

import (
	"net/http"
	"strconv"
)

// defaultWindowHours is used when the caller does not pass ?window_hours.
const defaultWindowHours = 24

// windowHoursParam parses the optional ?window_hours query parameter.
func windowHoursParam(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("window_hours")
	if raw == "" {
		return defaultWindowHours, true
	}
	hours, err := strconv.Atoi(raw)
	if err != nil || hours < 1 || hours > 24*30 {
		return 0, false
	}
	return hours, true
}

// HandlePipelineHealth reports freshness, lag, volume and gap status.
func (h *Handlers) HandlePipelineHealth(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	report, err := h.monitor.Health(r.Context(), tenantID)
	if err != nil {
		h.handleServiceError(w, r, "pipeline health", err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandlePipelineIntegrity cross-checks ledger, primary store and audit trail
// over a recent window.
func (h *Handlers) HandlePipelineIntegrity(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	hours, ok := windowHoursParam(r)
	if !ok {
		writeValidationError(w, r, "window_hours", "window_hours must be between 1 and 720")
		return
	}
	report, err := h.integrity.Check(r.Context(), tenantID, hours)
	if err != nil {
		h.handleServiceError(w, r, "pipeline integrity", err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandlePipelineCoverage reports what share of ledger entries reached the
// primary store.
func (h *Handlers) HandlePipelineCoverage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	hours, ok := windowHoursParam(r)
	if !ok {
		writeValidationError(w, r, "window_hours", "window_hours must be between 1 and 720")
		return
	}
	coverage, err := h.tracer.PipelineCoverage(r.Context(), tenantID, hours)
	if err != nil {
		h.handleServiceError(w, r, "pipeline coverage", err)
		return
	}
	writeJSON(w, r, http.StatusOK, coverage)
}

// HandleTraceSignal follows one signal through ledger, primary store and
// audit trail.
func (h *Handlers) HandleTraceSignal(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	signalID := r.PathValue("signal_id")
	if signalID == "" {
		writeValidationError(w, r, "signal_id", "signal_id is required")
		return
	}
	trace, err := h.tracer.TraceSignal(r.Context(), tenantID, signalID)
	if err != nil {
		h.handleServiceError(w, r, "trace signal", err)
		return
	}
	writeJSON(w, r, http.StatusOK, trace)
}

// HandleTraceDecision follows one decision back to its recorded outcome.
func (h *Handlers) HandleTraceDecision(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	decisionID := r.PathValue("decision_id")
	if decisionID == "" {
		writeValidationError(w, r, "decision_id", "decision_id is required")
		return
	}
	trace, err := h.tracer.TraceDecision(r.Context(), tenantID, decisionID)
	if err != nil {
		h.handleServiceError(w, r, "trace decision", err)
		return
	}
	writeJSON(w, r, http.StatusOK, trace)
}
