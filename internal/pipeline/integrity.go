package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/model"
)

// Integrity classifications.
const (
	ClassConsistent        = "consistent"
	ClassMissingFromDB     = "missing_from_db"
	ClassOrphanedInDB      = "orphaned_in_db"
	ClassIngestFailed      = "ingest_failed"
	ClassDuplicateInLedger = "duplicate_in_ledger"
)

// Issue severities.
const (
	IssueError   = "error"
	IssueWarning = "warning"
	IssueInfo    = "info"
)

// IntegrityStore is the storage surface the checker reads.
type IntegrityStore interface {
	LedgerEntriesSince(ctx context.Context, tenantID uuid.UUID, t time.Time) ([]model.LedgerEntry, error)
	SignalIDsSince(ctx context.Context, tenantID uuid.UUID, t time.Time) (map[string]struct{}, error)
}

// IntegrityIssue is one inconsistency between ledger and primary store.
type IntegrityIssue struct {
	SignalID string `json:"signal_id"`
	Class    string `json:"class"`
	Severity string `json:"severity"`
	Detail   string `json:"detail,omitempty"`
}

// IntegrityReport summarizes one window check.
type IntegrityReport struct {
	WindowHours     int              `json:"window_hours"`
	LedgerSignals   int              `json:"ledger_signals"`
	PrimarySignals  int              `json:"primary_signals"`
	ConsistentCount int              `json:"consistent_count"`
	Issues          []IntegrityIssue `json:"issues,omitempty"`
	IsConsistent    bool             `json:"is_consistent"`
	CheckedAt       time.Time        `json:"checked_at"`
}

// Checker performs ledger/primary set-diff integrity checks.
type Checker struct {
	store IntegrityStore
	now   func() time.Time
}

// NewChecker creates an integrity checker.
func NewChecker(store IntegrityStore) *Checker {
	return &Checker{store: store, now: time.Now}
}

// Check classifies every signal_id seen in either store within the window.
func (c *Checker) Check(ctx context.Context, tenantID uuid.UUID, windowHours int) (IntegrityReport, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := c.now().UTC().Add(-time.Duration(windowHours) * time.Hour)

	entries, err := c.store.LedgerEntriesSince(ctx, tenantID, since)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("pipeline: integrity read ledger: %w", err)
	}
	primaryIDs, err := c.store.SignalIDsSince(ctx, tenantID, since)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("pipeline: integrity read primary: %w", err)
	}

	ledgerSeen := make(map[string]int)
	ledgerStatus := make(map[string]model.LedgerStatus)
	for _, e := range entries {
		ledgerSeen[e.SignalID]++
		// The latest entry's status wins for classification.
		ledgerStatus[e.SignalID] = e.Status
	}

	report := IntegrityReport{
		WindowHours:    windowHours,
		LedgerSignals:  len(ledgerSeen),
		PrimarySignals: len(primaryIDs),
		CheckedAt:      c.now().UTC(),
	}

	ids := make([]string, 0, len(ledgerSeen))
	for id := range ledgerSeen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		_, inPrimary := primaryIDs[id]
		status := ledgerStatus[id]

		if ledgerSeen[id] > 1 {
			report.Issues = append(report.Issues, IntegrityIssue{
				SignalID: id,
				Class:    ClassDuplicateInLedger,
				Severity: IssueInfo,
				Detail:   fmt.Sprintf("%d ledger entries for one signal_id", ledgerSeen[id]),
			})
		}

		switch {
		case inPrimary:
			report.ConsistentCount++
		case status == model.LedgerFailed:
			report.Issues = append(report.Issues, IntegrityIssue{
				SignalID: id,
				Class:    ClassIngestFailed,
				Severity: IssueWarning,
				Detail:   "ledger entry failed; replay will retry it",
			})
		default:
			report.Issues = append(report.Issues, IntegrityIssue{
				SignalID: id,
				Class:    ClassMissingFromDB,
				Severity: IssueError,
				Detail:   "ledger entry has no primary-store row",
			})
		}
	}

	// Primary rows with no ledger entry violate the ledger-first contract.
	orphans := make([]string, 0)
	for id := range primaryIDs {
		if _, ok := ledgerSeen[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		report.Issues = append(report.Issues, IntegrityIssue{
			SignalID: id,
			Class:    ClassOrphanedInDB,
			Severity: IssueWarning,
			Detail:   "primary-store row has no ledger entry",
		})
	}

	report.IsConsistent = !hasBlockingIssue(report.Issues)
	return report, nil
}

// FindSignalsNeedingReplay returns the sorted signal ids classified
// missing_from_db within the window.
func (c *Checker) FindSignalsNeedingReplay(ctx context.Context, tenantID uuid.UUID, windowHours int) ([]string, error) {
	report, err := c.Check(ctx, tenantID, windowHours)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, issue := range report.Issues {
		if issue.Class == ClassMissingFromDB {
			ids = append(ids, issue.SignalID)
		}
	}
	return ids, nil
}

func hasBlockingIssue(issues []IntegrityIssue) bool {
	for _, i := range issues {
		if i.Severity == IssueError {
			return true
		}
	}
	return false
}
