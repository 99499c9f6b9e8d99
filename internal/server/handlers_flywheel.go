package server

import (
	"net/http"
)

// HandleFlywheelRun recalibrates the tenant's risk priors from recent
// outcomes.
func (h *Handlers) HandleFlywheelRun(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	result, err := h.flywheel.Run(r.Context(), tenantID)
	if err != nil {
		h.handleServiceError(w, r, "flywheel run", err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandleListPriors returns the tenant's current risk priors.
func (h *Handlers) HandleListPriors(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}
	priors, err := h.flywheel.Priors(r.Context(), tenantID)
	if err != nil {
		h.handleServiceError(w, r, "list priors", err)
		return
	}
	writeJSON(w, r, http.StatusOK, priors)
}
