package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/riskcast/riskcast/internal/model"
)

// HandleGetAssessment runs the scoring pipeline for one entity.
func (h *Handlers) HandleGetAssessment(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	entityType := model.EntityType(r.PathValue("entity_type"))
	if !entityType.Valid() {
		writeValidationError(w, r, "entity_type", "entity_type must be one of order, customer, route")
		return
	}
	entityID := r.PathValue("entity_id")
	if entityID == "" {
		writeValidationError(w, r, "entity_id", "entity_id is required")
		return
	}

	start := time.Now()
	assessment, err := h.risk.Assess(r.Context(), tenantID, entityType, entityID)
	if err != nil {
		h.handleServiceError(w, r, "assess entity", err)
		return
	}
	if h.metrics != nil {
		h.metrics.AssessmentDuration.Observe(time.Since(start).Seconds())
	}
	writeJSON(w, r, http.StatusOK, assessment)
}

type generateDecisionRequest struct {
	ExposureUSD float64 `json:"exposure_usd"`
}

// HandleGenerateDecision produces a ranked decision for the entity named in
// the path. The body is optional; without an exposure the engine estimates
// one from observed severity.
func (h *Handlers) HandleGenerateDecision(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	entityType := model.EntityType(r.PathValue("entity_type"))
	if !entityType.Valid() {
		writeValidationError(w, r, "entity_type", "entity_type must be one of order, customer, route")
		return
	}
	entityID := r.PathValue("entity_id")
	if entityID == "" {
		writeValidationError(w, r, "entity_id", "entity_id is required")
		return
	}

	var req generateDecisionRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.ExposureUSD < 0 {
		writeValidationError(w, r, "exposure_usd", "exposure_usd must not be negative")
		return
	}

	dec, err := h.decision.Generate(r.Context(), tenantID, entityType, entityID, req.ExposureUSD)
	if err != nil {
		h.handleServiceError(w, r, "generate decision", err)
		return
	}
	h.auditEvent(r, "decision.generated", dec.DecisionID, map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
		"status":      dec.Status,
	})
	writeJSON(w, r, http.StatusOK, dec)
}

type generateBatchRequest struct {
	EntityType  model.EntityType `json:"entity_type"`
	MinSeverity float64          `json:"min_severity"`
	Limit       int              `json:"limit"`
}

const (
	defaultBatchLimit = 20
	maxBatchLimit     = 100
)

// HandleGenerateDecisionBatch produces decisions for the riskiest entities of
// a type, ordered by severity.
func (h *Handlers) HandleGenerateDecisionBatch(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	var req generateBatchRequest
	if err := decodeJSON(w, r, &req, maxBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if !req.EntityType.Valid() {
		writeValidationError(w, r, "entity_type", "entity_type must be one of order, customer, route")
		return
	}
	if req.MinSeverity < 0 || req.MinSeverity > 100 {
		writeValidationError(w, r, "min_severity", "min_severity must be between 0 and 100")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultBatchLimit
	}
	if req.Limit > maxBatchLimit {
		req.Limit = maxBatchLimit
	}

	decisions, err := h.decision.GenerateForCompany(r.Context(), tenantID, req.EntityType, req.MinSeverity, req.Limit)
	if err != nil {
		h.handleServiceError(w, r, "generate decision batch", err)
		return
	}
	h.auditEvent(r, "decision.batch_generated", string(req.EntityType), map[string]any{
		"count": len(decisions),
	})
	writeJSON(w, r, http.StatusOK, decisions)
}
