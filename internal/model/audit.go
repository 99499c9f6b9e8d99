package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditOutcome is the result recorded on an audit entry.
type AuditOutcome string

const (
	AuditSuccess AuditOutcome = "success"
	AuditDenied  AuditOutcome = "denied"
)

// AuditEntry is one link in the append-only, hash-chained audit trail.
// The chain is global across tenants so entries cannot be re-ordered
// within a single tenant's view without breaking the chain.
type AuditEntry struct {
	EntryID   uuid.UUID    `json:"entry_id"`
	Timestamp time.Time    `json:"timestamp"`
	TenantID  *uuid.UUID   `json:"tenant_id,omitempty"`
	Actor     string       `json:"actor"` // user id or api-key prefix
	Action    string       `json:"action"`
	Resource  string       `json:"resource"`
	Outcome   AuditOutcome `json:"outcome"`
	Details   map[string]any `json:"details,omitempty"`

	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
}

// ChainBreak describes one verification failure found by verify_chain.
type ChainBreak struct {
	EntryID   uuid.UUID `json:"entry_id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"` // "link" or "content"
	Expected  string    `json:"expected"`
	Actual    string    `json:"actual"`
}

// ChainVerification is the result of walking the full audit chain.
type ChainVerification struct {
	ChainIntact bool         `json:"chain_intact"`
	Checked     int          `json:"entries_checked"`
	Breaks      []ChainBreak `json:"breaks,omitempty"`
	Truncated   bool         `json:"breaks_truncated"` // true when more than the reported breaks exist
	VerifiedAt  time.Time    `json:"verified_at"`
}
