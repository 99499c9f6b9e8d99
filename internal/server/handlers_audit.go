package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/riskcast/riskcast/internal/model"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// HandleListAuditTrail returns the tenant's audit entries, newest first.
func (h *Handlers) HandleListAuditTrail(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxAuditLimit {
			writeValidationError(w, r, "limit", "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeValidationError(w, r, "offset", "offset must not be negative")
			return
		}
		offset = parsed
	}

	entries, total, err := h.auditStore.ListAuditEntries(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.handleServiceError(w, r, "list audit trail", err)
		return
	}

	writeListJSON(w, r, model.ListResponse{
		Data:    entries,
		Total:   total,
		HasMore: offset+len(entries) < total,
		Limit:   limit,
		Offset:  offset,
	})
}

// HandleVerifyAuditChain walks the full hash chain and reports any breaks.
func (h *Handlers) HandleVerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.tenantFromContext(w, r); !ok {
		return
	}
	verification, err := h.audit.VerifyChain(r.Context())
	if err != nil {
		h.handleServiceError(w, r, "verify audit chain", err)
		return
	}
	writeJSON(w, r, http.StatusOK, verification)
}

// writeListJSON writes a 200 with the paginated list envelope.
func writeListJSON(w http.ResponseWriter, r *http.Request, resp model.ListResponse) {
	resp.Meta = model.ResponseMeta{
		RequestID: RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
