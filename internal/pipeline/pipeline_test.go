package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/storage"
)

// fakeStore backs all three observability components in tests.
type fakeStore struct {
	times       []storage.IngestTimes
	countHour   int
	failedCount int
	entries     []model.LedgerEntry
	primary     map[string]struct{}
	signals     map[string]model.Signal
	outcomes    map[string]model.OutcomeRecord
}

func (f *fakeStore) IngestTimesSince(context.Context, uuid.UUID, time.Time) ([]storage.IngestTimes, error) {
	return f.times, nil
}

func (f *fakeStore) CountSignalsBetween(context.Context, uuid.UUID, time.Time, time.Time) (int, error) {
	return f.countHour, nil
}

func (f *fakeStore) CountFailedLedgerSince(context.Context, uuid.UUID, time.Time) (int, error) {
	return f.failedCount, nil
}

func (f *fakeStore) LedgerEntriesSince(context.Context, uuid.UUID, time.Time) ([]model.LedgerEntry, error) {
	return f.entries, nil
}

func (f *fakeStore) SignalIDsSince(context.Context, uuid.UUID, time.Time) (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(f.primary))
	for id := range f.primary {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (f *fakeStore) LedgerSignalIDsSince(context.Context, uuid.UUID, time.Time) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	for _, e := range f.entries {
		ids[e.SignalID] = struct{}{}
	}
	return ids, nil
}

func (f *fakeStore) GetLedgerEntry(_ context.Context, _ uuid.UUID, signalID string) (model.LedgerEntry, error) {
	for _, e := range f.entries {
		if e.SignalID == signalID {
			return e, nil
		}
	}
	return model.LedgerEntry{}, storage.ErrNotFound
}

func (f *fakeStore) GetSignal(_ context.Context, _ uuid.UUID, signalID string) (model.Signal, error) {
	s, ok := f.signals[signalID]
	if !ok {
		return model.Signal{}, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) GetOutcome(_ context.Context, _ uuid.UUID, decisionID string) (model.OutcomeRecord, error) {
	o, ok := f.outcomes[decisionID]
	if !ok {
		return model.OutcomeRecord{}, storage.ErrNotFound
	}
	return o, nil
}

func testMonitorConfig() MonitorConfig {
	return MonitorConfig{FreshMinutes: 60, StaleMinutes: 360, GapMinutes: 120}
}

func ingestAt(ts time.Time, lag time.Duration) storage.IngestTimes {
	emitted := ts.Add(-lag)
	return storage.IngestTimes{EmittedAt: &emitted, IngestedAt: ts}
}

func fixedMonitor(store *fakeStore, now time.Time) *Monitor {
	m := NewMonitor(store, testMonitorConfig())
	m.now = func() time.Time { return now }
	return m
}

func TestMonitorHealthy(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{countHour: 2}
	// Two signals per hour, last one 10 minutes ago, modest lag.
	for i := 47; i >= 0; i-- {
		store.times = append(store.times, ingestAt(now.Add(-time.Duration(i)*30*time.Minute).Add(-10*time.Minute), 5*time.Minute))
	}

	report, err := fixedMonitor(store, now).Health(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, FreshnessFresh, report.Freshness)
	assert.Equal(t, VolumeNormal, report.VolumeLabel)
	assert.InDelta(t, 5.0, report.AvgLagMinutes, 0.01)
	assert.Empty(t, report.Gaps)
	assert.Zero(t, report.ErrorRate)
}

func TestMonitorNoData(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	report, err := fixedMonitor(&fakeStore{}, now).Health(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, StatusCritical, report.Status)
	assert.Equal(t, FreshnessNoData, report.Freshness)
	assert.Equal(t, VolumeNoBaseline, report.VolumeLabel)
	assert.NotEmpty(t, report.Recommendations)
}

func TestMonitorStaleAndGaps(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	// Signals with two >120m gaps, last one 2 hours ago (stale).
	stamps := []time.Time{
		now.Add(-20 * time.Hour),
		now.Add(-15 * time.Hour), // 5h gap
		now.Add(-14 * time.Hour),
		now.Add(-9 * time.Hour), // 5h gap
		now.Add(-2 * time.Hour),
	}
	for _, ts := range stamps {
		store.times = append(store.times, storage.IngestTimes{IngestedAt: ts})
	}

	report, err := fixedMonitor(store, now).Health(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, FreshnessStale, report.Freshness)
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Len(t, report.Gaps, 3)
	assert.InDelta(t, 300.0, report.Gaps[0].Minutes, 0.01)
}

func TestMonitorErrorRateCritical(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{failedCount: 5, countHour: 2}
	for i := 0; i < 30; i++ {
		store.times = append(store.times, storage.IngestTimes{IngestedAt: now.Add(-time.Duration(30-i) * 40 * time.Minute)})
	}

	report, err := fixedMonitor(store, now).Health(context.Background(), uuid.New())
	require.NoError(t, err)

	// 5 failed / 35 total > 10%.
	assert.Greater(t, report.ErrorRate, 0.10)
	assert.Equal(t, StatusCritical, report.Status)
}

func TestIntegrityClassification(t *testing.T) {
	store := &fakeStore{
		entries: []model.LedgerEntry{
			{SignalID: "ok-1", Status: model.LedgerIngested},
			{SignalID: "missing-1", Status: model.LedgerReceived},
			{SignalID: "failed-1", Status: model.LedgerFailed},
			{SignalID: "dup-1", Status: model.LedgerIngested},
			{SignalID: "dup-1", Status: model.LedgerIngested},
		},
		primary: map[string]struct{}{
			"ok-1":     {},
			"dup-1":    {},
			"orphan-1": {},
		},
	}

	report, err := NewChecker(store).Check(context.Background(), uuid.New(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, report.LedgerSignals)
	assert.Equal(t, 3, report.PrimarySignals)
	assert.Equal(t, 2, report.ConsistentCount)
	assert.False(t, report.IsConsistent)

	classes := make(map[string]string)
	severities := make(map[string]string)
	for _, issue := range report.Issues {
		classes[issue.SignalID] = issue.Class
		severities[issue.SignalID] = issue.Severity
	}
	assert.Equal(t, ClassMissingFromDB, classes["missing-1"])
	assert.Equal(t, IssueError, severities["missing-1"])
	assert.Equal(t, ClassIngestFailed, classes["failed-1"])
	assert.Equal(t, IssueWarning, severities["failed-1"])
	assert.Equal(t, ClassDuplicateInLedger, classes["dup-1"])
	assert.Equal(t, IssueInfo, severities["dup-1"])
	assert.Equal(t, ClassOrphanedInDB, classes["orphan-1"])
	assert.Equal(t, IssueWarning, severities["orphan-1"])
}

func TestFindSignalsNeedingReplay(t *testing.T) {
	store := &fakeStore{
		entries: []model.LedgerEntry{
			{SignalID: "b-missing", Status: model.LedgerReceived},
			{SignalID: "a-missing", Status: model.LedgerReceived},
			{SignalID: "failed-1", Status: model.LedgerFailed},
		},
		primary: map[string]struct{}{},
	}

	ids, err := NewChecker(store).FindSignalsNeedingReplay(context.Background(), uuid.New(), 24)
	require.NoError(t, err)
	// Sorted, and failed entries are not "missing".
	assert.Equal(t, []string{"a-missing", "b-missing"}, ids)
}

func TestTraceSignalComplete(t *testing.T) {
	recordedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{
		entries: []model.LedgerEntry{{
			SignalID:   "omen-1",
			Status:     model.LedgerIngested,
			AckID:      "riskcast-ack-0a1b2c3d",
			RecordedAt: recordedAt,
		}},
		signals: map[string]model.Signal{
			"omen-1": {
				SignalID:    "omen-1",
				AckID:       "riskcast-ack-0a1b2c3d",
				Category:    "route_disruption",
				Probability: 0.42,
				Confidence:  0.8,
				IngestedAt:  recordedAt.Add(time.Second),
			},
		},
	}

	trace, err := NewTracer(store).TraceSignal(context.Background(), uuid.New(), "omen-1")
	require.NoError(t, err)
	assert.True(t, trace.IsComplete)
	require.Len(t, trace.Steps, 2)
	assert.Equal(t, "ledger_receipt", trace.Steps[0].Stage)
	assert.Equal(t, "primary_ingest", trace.Steps[1].Stage)
	assert.Equal(t, "route_disruption", trace.Steps[1].Details["category"])
}

func TestTraceSignalIncomplete(t *testing.T) {
	store := &fakeStore{
		entries: []model.LedgerEntry{{SignalID: "omen-2", Status: model.LedgerFailed}},
		signals: map[string]model.Signal{},
	}

	trace, err := NewTracer(store).TraceSignal(context.Background(), uuid.New(), "omen-2")
	require.NoError(t, err)
	assert.False(t, trace.IsComplete)
	assert.True(t, trace.Steps[0].Found)
	assert.False(t, trace.Steps[1].Found)
}

func TestTraceDecision(t *testing.T) {
	store := &fakeStore{
		outcomes: map[string]model.OutcomeRecord{
			"dec_0123456789abcdef": {
				DecisionID: "dec_0123456789abcdef",
				Predicted:  model.PredictedSnapshot{RiskScore: 70},
			},
		},
	}
	tracer := NewTracer(store)

	trace, err := tracer.TraceDecision(context.Background(), uuid.New(), "dec_0123456789abcdef")
	require.NoError(t, err)
	assert.True(t, trace.HasOutcome)
	assert.InDelta(t, 70.0, trace.Predicted.RiskScore, 0.01)

	trace, err = tracer.TraceDecision(context.Background(), uuid.New(), "dec_none")
	require.NoError(t, err)
	assert.False(t, trace.HasOutcome)
	assert.Nil(t, trace.Outcome)
}

func TestPipelineCoverage(t *testing.T) {
	store := &fakeStore{
		entries: []model.LedgerEntry{
			{SignalID: "a"}, {SignalID: "b"}, {SignalID: "c"}, {SignalID: "d"},
		},
		primary: map[string]struct{}{"a": {}, "b": {}, "c": {}},
	}

	cov, err := NewTracer(store).PipelineCoverage(context.Background(), uuid.New(), 24)
	require.NoError(t, err)
	assert.Equal(t, 4, cov.LedgerCount)
	assert.Equal(t, 3, cov.PrimaryCount)
	assert.InDelta(t, 0.75, cov.IngestCoverage, 0.001)
	assert.True(t, cov.NeedsReconciliation)
}
