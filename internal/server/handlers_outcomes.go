package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/storage"
)

// recordOutcomeBody pairs the realized outcome with the snapshot of what was
// predicted. Decisions are not persisted server-side, so the caller supplies
// the prediction it acted on.
type recordOutcomeBody struct {
	model.RecordOutcomeRequest
	Predicted model.PredictedSnapshot `json:"predicted"`
}

// HandleRecordOutcome records what actually happened after a decision.
// Outcomes are write-once: a repeat for the same decision_id returns 409
// together with the previously stored record.
func (h *Handlers) HandleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	var body recordOutcomeBody
	if err := decodeJSON(w, r, &body, maxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	if err := body.RecordOutcomeRequest.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	record, err := h.outcome.Record(r.Context(), tenantID, body.RecordOutcomeRequest, body.Predicted)
	if errors.Is(err, storage.ErrDuplicate) {
		writeJSON(w, r, http.StatusConflict, record)
		return
	}
	if err != nil {
		h.handleServiceError(w, r, "record outcome", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, record)
}

// HandleGetOutcome fetches one recorded outcome by decision id.
func (h *Handlers) HandleGetOutcome(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	decisionID := r.PathValue("decision_id")
	if decisionID == "" {
		writeValidationError(w, r, "decision_id", "decision_id is required")
		return
	}
	record, err := h.outcome.Get(r.Context(), tenantID, decisionID)
	if err != nil {
		h.handleServiceError(w, r, "get outcome", err)
		return
	}
	writeJSON(w, r, http.StatusOK, record)
}

const (
	defaultReportDays = 90
	maxReportDays     = 365
)

// reportPeriod parses the optional ?days query parameter into a [from, to)
// window ending now.
func reportPeriod(r *http.Request) (time.Time, time.Time, bool) {
	days := defaultReportDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxReportDays {
			return time.Time{}, time.Time{}, false
		}
		days = parsed
	}
	to := time.Now().UTC()
	return to.AddDate(0, 0, -days), to, true
}

// HandleAccuracyReport reports calibration and accuracy over recorded outcomes.
func (h *Handlers) HandleAccuracyReport(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	from, to, ok := reportPeriod(r)
	if !ok {
		writeValidationError(w, r, "days", "days must be between 1 and 365")
		return
	}
	report, err := h.outcome.Accuracy(r.Context(), tenantID, from, to)
	if err != nil {
		h.handleServiceError(w, r, "accuracy report", err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleROIReport reports value generated versus action cost.
func (h *Handlers) HandleROIReport(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	from, to, ok := reportPeriod(r)
	if !ok {
		writeValidationError(w, r, "days", "days must be between 1 and 365")
		return
	}
	report, err := h.outcome.ROI(r.Context(), tenantID, from, to)
	if err != nil {
		h.handleServiceError(w, r, "roi report", err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}
