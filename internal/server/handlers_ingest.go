package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/riskcast/riskcast/internal/ingest"
	"github.com/riskcast/riskcast/internal/model"
)

// HandleIngestSignal accepts one signal event from an upstream producer.
//
// The body is kept byte-for-byte as the ledger payload, so it is read raw
// before decoding. When an X-Idempotency-Key header is present it must match
// the event's signal_id; a mismatch is rejected before any write.
func (h *Handlers) HandleIngestSignal(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantFromContext(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unable to read request body")
		return
	}

	var event model.SignalEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	event.RawPayload = body

	if err := event.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if key := r.Header.Get("X-Idempotency-Key"); key != "" && key != event.SignalID {
		writeValidationError(w, r, "X-Idempotency-Key",
			"idempotency key must match signal_id")
		return
	}

	ackID, status, err := h.ingest.Ingest(r.Context(), tenantID, event)
	if err != nil {
		h.handleServiceError(w, r, "ingest signal", err)
		return
	}

	if status == ingest.StatusDuplicate {
		writeJSON(w, r, http.StatusConflict, model.IngestAck{AckID: ackID, Duplicate: true})
		return
	}
	h.auditEvent(r, "signal.ingested", event.SignalID, map[string]any{"ack_id": ackID})
	writeJSON(w, r, http.StatusOK, model.IngestAck{AckID: ackID})
}
