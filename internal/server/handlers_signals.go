package server

import (
	"net/http"
	"strconv"
	"time"
)

const (
	defaultSignalListLimit = 100
	maxSignalListLimit     = 1000
)

// HandleGetSignal fetches one ingested signal by its producer-assigned id.
func (h *Handlers) HandleGetSignal(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	signalID := r.PathValue("signal_id")
	if signalID == "" {
		writeValidationError(w, r, "signal_id", "signal_id is required")
		return
	}
	signal, err := h.signals.GetSignal(r.Context(), tenantID, signalID)
	if err != nil {
		h.handleServiceError(w, r, "get signal", err)
		return
	}
	writeJSON(w, r, http.StatusOK, signal)
}

// HandleListSignals lists recently ingested signals, optionally filtered by
// category.
func (h *Handlers) HandleListSignals(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeValidationError(w, r, "since", "since must be an RFC3339 timestamp")
			return
		}
		since = parsed
	}

	limit := defaultSignalListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxSignalListLimit {
			writeValidationError(w, r, "limit", "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	signals, err := h.signals.ListSignalsSince(r.Context(), tenantID, since, r.URL.Query().Get("category"), limit)
	if err != nil {
		h.handleServiceError(w, r, "list signals", err)
		return
	}
	writeJSON(w, r, http.StatusOK, signals)
}
