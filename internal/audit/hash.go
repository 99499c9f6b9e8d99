// Package audit implements the append-only, hash-chained audit trail.
//
// Every entry's hash covers the previous entry's hash, so the chain proves
// ordering and integrity across all tenants. Writes never fail their caller;
// a write failure is itself logged and the calling flow proceeds.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/riskcast/riskcast/internal/model"
)

const separator = "|"

// EntryHash computes the chain hash for an entry: SHA-256 hex over the
// canonical string entry_id|ts|action|tenant|actor|outcome|previous_hash.
// Fields containing the separator are rejected, not escaped.
func EntryHash(e model.AuditEntry) (string, error) {
	tenant := ""
	if e.TenantID != nil {
		tenant = e.TenantID.String()
	}
	parts := []string{
		e.EntryID.String(),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Action,
		tenant,
		e.Actor,
		string(e.Outcome),
		e.PreviousHash,
	}
	for _, p := range parts {
		if strings.Contains(p, separator) {
			return "", fmt.Errorf("audit: field %q contains reserved separator", p)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, separator)))
	return hex.EncodeToString(sum[:]), nil
}
