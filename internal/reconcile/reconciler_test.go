package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	runs    []model.ReconcileRun
	entries []model.LedgerEntry
	primary map[string]struct{}
}

func newMemStore() *memStore {
	return &memStore{primary: make(map[string]struct{})}
}

func (m *memStore) OpenReconcileRun(_ context.Context, tenantID uuid.UUID, reconcileID string, sinceDays int) (model.ReconcileRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := model.ReconcileRun{
		ID:          uuid.New(),
		TenantID:    tenantID,
		ReconcileID: reconcileID,
		Status:      model.ReconcileRunning,
		SinceDays:   sinceDays,
		StartedAt:   time.Now().UTC(),
	}
	m.runs = append(m.runs, r)
	return r, nil
}

func (m *memStore) CloseReconcileRun(_ context.Context, r model.ReconcileRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.runs {
		if m.runs[i].ID == r.ID {
			now := time.Now().UTC()
			r.FinishedAt = &now
			m.runs[i] = r
			return nil
		}
	}
	return errors.New("run not found")
}

func (m *memStore) LastReconcileRun(_ context.Context, tenantID uuid.UUID) (model.ReconcileRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].TenantID == tenantID {
			return m.runs[i], nil
		}
	}
	return model.ReconcileRun{}, storage.ErrNotFound
}

func (m *memStore) ReconcileRunsBetween(_ context.Context, tenantID uuid.UUID, from, to time.Time) ([]model.ReconcileRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReconcileRun
	for _, r := range m.runs {
		if r.TenantID == tenantID && !r.StartedAt.Before(from) && r.StartedAt.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) LedgerEntriesSince(_ context.Context, tenantID uuid.UUID, t time.Time) ([]model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LedgerEntry
	for _, e := range m.entries {
		if e.TenantID == tenantID && !e.RecordedAt.Before(t) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) SignalIDsSince(_ context.Context, _ uuid.UUID, _ time.Time) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]struct{}, len(m.primary))
	for id := range m.primary {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (m *memStore) addLedger(tenantID uuid.UUID, signalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, model.LedgerEntry{
		ID:         uuid.New(),
		TenantID:   tenantID,
		SignalID:   signalID,
		Payload:    json.RawMessage(`{"signal_id":"` + signalID + `"}`),
		Status:     model.LedgerReceived,
		RecordedAt: time.Now().UTC(),
	})
}

func (m *memStore) addPrimary(signalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primary[signalID] = struct{}{}
}

// fakeReplayer records replay calls and can fail selected signal ids.
type fakeReplayer struct {
	mu       sync.Mutex
	store    *memStore
	replayed []string
	failIDs  map[string]bool
	started  chan struct{} // non-nil: closed when the first replay begins
	block    chan struct{} // non-nil: replays block until closed
}

func (f *fakeReplayer) ReplayFromLedger(_ context.Context, _ uuid.UUID, signalID string, _ json.RawMessage) (string, bool, error) {
	if f.started != nil {
		f.mu.Lock()
		select {
		case <-f.started:
		default:
			close(f.started)
		}
		f.mu.Unlock()
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[signalID] {
		return "", false, errors.New("replay failed")
	}
	f.replayed = append(f.replayed, signalID)
	f.store.addPrimary(signalID)
	return "riskcast-ack-deadbeef", true, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunConsistentWhenNothingMissing(t *testing.T) {
	store := newMemStore()
	tenant := uuid.New()
	store.addLedger(tenant, "omen-1")
	store.addPrimary("omen-1")

	r := New(store, &fakeReplayer{store: store}, discardLogger())
	run, err := r.Run(context.Background(), tenant, 7)
	require.NoError(t, err)

	assert.Equal(t, model.ReconcileCompleted, run.Status)
	assert.Equal(t, 1, run.LedgerCount)
	assert.Equal(t, 1, run.PrimaryCount)
	assert.Zero(t, run.MissingCount)
	assert.True(t, run.IsConsistent())
}

func TestRunReplaysMissingSignals(t *testing.T) {
	store := newMemStore()
	tenant := uuid.New()
	store.addLedger(tenant, "omen-1")
	store.addLedger(tenant, "omen-2")
	store.addLedger(tenant, "omen-3")
	store.addPrimary("omen-1")

	replayer := &fakeReplayer{store: store}
	r := New(store, replayer, discardLogger())

	run, err := r.Run(context.Background(), tenant, 7)
	require.NoError(t, err)
	assert.Equal(t, model.ReconcileCompleted, run.Status)
	assert.Equal(t, 2, run.MissingCount)
	assert.Equal(t, 2, run.ReplayedCount)
	assert.Zero(t, run.FailedCount)
	// Deterministic replay order.
	assert.Equal(t, []string{"omen-2", "omen-3"}, replayer.replayed)

	// The repairing run itself does not attest consistency; the next clean
	// run does.
	assert.False(t, run.IsConsistent())
	run2, err := r.Run(context.Background(), tenant, 7)
	require.NoError(t, err)
	assert.True(t, run2.IsConsistent())
}

func TestRunPartialWhenSomeReplaysFail(t *testing.T) {
	store := newMemStore()
	tenant := uuid.New()
	store.addLedger(tenant, "omen-1")
	store.addLedger(tenant, "omen-2")

	replayer := &fakeReplayer{store: store, failIDs: map[string]bool{"omen-2": true}}
	r := New(store, replayer, discardLogger())

	run, err := r.Run(context.Background(), tenant, 7)
	require.NoError(t, err)
	assert.Equal(t, model.ReconcilePartial, run.Status)
	assert.Equal(t, 1, run.ReplayedCount)
	assert.Equal(t, 1, run.FailedCount)
}

func TestRunFailedWhenNothingReplays(t *testing.T) {
	store := newMemStore()
	tenant := uuid.New()
	store.addLedger(tenant, "omen-1")

	replayer := &fakeReplayer{store: store, failIDs: map[string]bool{"omen-1": true}}
	r := New(store, replayer, discardLogger())

	run, err := r.Run(context.Background(), tenant, 7)
	require.NoError(t, err)
	assert.Equal(t, model.ReconcileFailed, run.Status)
	assert.False(t, run.IsConsistent())
}

func TestRunRejectsConcurrentRunSameTenant(t *testing.T) {
	store := newMemStore()
	tenant := uuid.New()
	store.addLedger(tenant, "omen-1")

	block := make(chan struct{})
	started := make(chan struct{})
	replayer := &fakeReplayer{store: store, block: block, started: started}
	r := New(store, replayer, discardLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Run(context.Background(), tenant, 7)
	}()

	// Wait for the first run to hold the tenant lock inside a replay, then
	// a second run for the same tenant is rejected instead of queued.
	<-started
	_, err := r.Run(context.Background(), tenant, 7)
	assert.ErrorIs(t, err, ErrRunInProgress)

	// A different tenant is not blocked.
	other := uuid.New()
	_, err = r.Run(context.Background(), other, 7)
	require.NoError(t, err)

	close(block)
	<-done
}

func TestStatusAndHistory(t *testing.T) {
	store := newMemStore()
	tenant := uuid.New()
	r := New(store, &fakeReplayer{store: store}, discardLogger())
	ctx := context.Background()

	_, err := r.Status(ctx, tenant)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = r.Run(ctx, tenant, 3)
	require.NoError(t, err)

	status, err := r.Status(ctx, tenant)
	require.NoError(t, err)
	require.NotNil(t, status.LastRun)
	assert.True(t, status.IsConsistent)
	assert.Equal(t, 3, status.LastRun.SinceDays)

	runs, err := r.History(ctx, tenant, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	// Status pinned to a day: today sees the run, the day before does not.
	pinned, err := r.StatusOn(ctx, tenant, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, pinned.LastRun)
	assert.True(t, pinned.IsConsistent)

	_, err = r.StatusOn(ctx, tenant, time.Now().UTC().AddDate(0, 0, -1))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
