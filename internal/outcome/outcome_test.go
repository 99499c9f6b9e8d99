package outcome

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]model.OutcomeRecord // decision_id -> record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]model.OutcomeRecord)}
}

func (m *memStore) InsertOutcome(_ context.Context, o model.OutcomeRecord) (model.OutcomeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[o.DecisionID]; ok {
		return model.OutcomeRecord{}, storage.ErrDuplicate
	}
	m.records[o.DecisionID] = o
	return o, nil
}

func (m *memStore) GetOutcome(_ context.Context, _ uuid.UUID, decisionID string) (model.OutcomeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.records[decisionID]
	if !ok {
		return model.OutcomeRecord{}, storage.ErrNotFound
	}
	return o, nil
}

func (m *memStore) ListOutcomesBetween(_ context.Context, _ uuid.UUID, from, to time.Time) ([]model.OutcomeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.OutcomeRecord
	for _, o := range m.records {
		if !o.RecordedAt.Before(from) && o.RecordedAt.Before(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func newTestService(store Store) *Service {
	return NewService(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPredictionError(t *testing.T) {
	// Right direction, exact loss estimate.
	require.InDelta(t, 0, PredictionError(80, 10000, 10000, true), 1e-9)

	// Wrong direction and fully wrong magnitude.
	require.InDelta(t, 1.0, PredictionError(80, 10000, 0, false), 1e-9)

	// Right direction, loss off by half.
	require.InDelta(t, 0.4*0.5, PredictionError(70, 10000, 5000, true), 1e-9)

	// Low prediction that correctly stayed low.
	require.InDelta(t, 0, PredictionError(20, 0, 0, false), 1e-9)
}

func TestValueGenerated(t *testing.T) {
	require.InDelta(t, 8000, ValueGenerated(10000, 2000, true, true), 1e-9)
	require.InDelta(t, 0, ValueGenerated(2000, 10000, true, true), 1e-9) // floored
	require.InDelta(t, 10000, ValueGenerated(10000, 0, true, false), 1e-9)
	require.InDelta(t, -4000, ValueGenerated(10000, 4000, false, true), 1e-9)
	require.InDelta(t, 0, ValueGenerated(10000, 0, false, false), 1e-9)
}

func TestRecordDerivesJudgmentFields(t *testing.T) {
	svc := newTestService(newMemStore())
	tenant := uuid.New()

	rec, err := svc.Record(context.Background(), tenant, model.RecordOutcomeRequest{
		DecisionID:     "dec_0011223344556677",
		EntityType:     model.EntityOrder,
		EntityID:       "ord-1",
		OutcomeType:    model.OutcomeLossOccurred,
		ActualLoss:     2000,
		ActionTaken:    model.ActionInsure,
		ActionFollowed: true,
		ActionCostUSD:  400,
	}, model.PredictedSnapshot{RiskScore: 80, Confidence: 0.8, Loss: 10000, Action: model.ActionInsure})
	require.NoError(t, err)

	require.True(t, rec.RiskMaterialized)
	require.InDelta(t, 0.4*(8000.0/10000), rec.PredictionError, 1e-9)
	require.False(t, rec.WasAccurate) // 0.32 > 0.15
	require.InDelta(t, 8000, rec.ValueGenerated, 1e-9)
	require.Equal(t, tenant, rec.TenantID)
	require.False(t, rec.RecordedAt.IsZero())
}

func TestRecordAvertedDoesNotMaterialize(t *testing.T) {
	svc := newTestService(newMemStore())

	rec, err := svc.Record(context.Background(), uuid.New(), model.RecordOutcomeRequest{
		DecisionID:     "dec_8899aabbccddeeff",
		EntityType:     model.EntityRoute,
		EntityID:       "rt-1",
		OutcomeType:    model.OutcomeAverted,
		ActionTaken:    model.ActionReroute,
		ActionFollowed: true,
	}, model.PredictedSnapshot{RiskScore: 30, Loss: 5000})
	require.NoError(t, err)

	require.False(t, rec.RiskMaterialized)
	require.InDelta(t, 5000, rec.ValueGenerated, 1e-9) // followed, nothing happened
	// Direction was right but the 5000 loss estimate never materialized.
	require.InDelta(t, 0.4, rec.PredictionError, 1e-9)
	require.False(t, rec.WasAccurate)
}

func TestRecordDuplicateReturnsPrior(t *testing.T) {
	svc := newTestService(newMemStore())
	tenant := uuid.New()
	req := model.RecordOutcomeRequest{
		DecisionID:  "dec_0123456789abcdef",
		EntityType:  model.EntityOrder,
		EntityID:    "ord-1",
		OutcomeType: model.OutcomeNoImpact,
		ActionTaken: model.ActionMonitor,
	}

	first, err := svc.Record(context.Background(), tenant, req, model.PredictedSnapshot{RiskScore: 40, Loss: 1000})
	require.NoError(t, err)

	// Re-POST with different values must not alter the stored record.
	req.OutcomeType = model.OutcomeLossOccurred
	req.ActualLoss = 9999
	prior, err := svc.Record(context.Background(), tenant, req, model.PredictedSnapshot{RiskScore: 40, Loss: 1000})
	require.ErrorIs(t, err, storage.ErrDuplicate)
	require.Equal(t, first.ID, prior.ID)
	require.Equal(t, model.OutcomeNoImpact, prior.OutcomeType)
}

func TestRecordRejectsInvalidRequest(t *testing.T) {
	svc := newTestService(newMemStore())

	_, err := svc.Record(context.Background(), uuid.New(), model.RecordOutcomeRequest{
		DecisionID:  "dec_1",
		EntityID:    "ord-1",
		OutcomeType: "exploded",
	}, model.PredictedSnapshot{})
	require.Error(t, err)
}

func outcomeAt(score float64, materialized bool) model.OutcomeRecord {
	typ := model.OutcomeNoImpact
	if materialized {
		typ = model.OutcomeLossOccurred
	}
	rec := model.OutcomeRecord{
		Predicted:        model.PredictedSnapshot{RiskScore: score},
		OutcomeType:      typ,
		RiskMaterialized: materialized,
	}
	rec.PredictionError = PredictionError(score, 0, 0, materialized)
	rec.WasAccurate = rec.PredictionError <= accurateMaxError
	return rec
}

func TestAccuracyNeedsMoreData(t *testing.T) {
	report := BuildAccuracyReport([]model.OutcomeRecord{outcomeAt(90, true)})
	require.Equal(t, 1, report.NOutcomes)
	require.Zero(t, report.BrierScore)
	require.Contains(t, report.Recommendation, "Need more data")
}

func TestAccuracyOverconfidentModel(t *testing.T) {
	// Always predict 90 but only 10% materialize.
	var outcomes []model.OutcomeRecord
	for i := 0; i < 10; i++ {
		outcomes = append(outcomes, outcomeAt(90, i == 0))
	}
	report := BuildAccuracyReport(outcomes)

	require.InDelta(t, (9*0.81+0.01)/10, report.BrierScore, 1e-9)
	require.InDelta(t, 0.8, report.CalibrationDrift, 1e-9)
	require.True(t, report.Overconfident)
	require.GreaterOrEqual(t, report.ECE, 0.7)
	require.Contains(t, report.Recommendation, "Platt scaling")
}

func TestAccuracyPerfectCalibration(t *testing.T) {
	// Predict 50 on every decision and half of them materialize.
	var outcomes []model.OutcomeRecord
	for i := 0; i < 10; i++ {
		outcomes = append(outcomes, outcomeAt(50, i%2 == 0))
	}
	report := BuildAccuracyReport(outcomes)

	require.InDelta(t, 0, report.ECE, 1e-9)
	require.InDelta(t, 0.25, report.BrierScore, 1e-9)

	// All predictions are "high" at the 50-point threshold.
	require.Equal(t, 5, report.Confusion.TruePositives)
	require.Equal(t, 5, report.Confusion.FalsePositives)
	require.InDelta(t, 0.5, report.Confusion.Precision, 1e-9)
	require.InDelta(t, 1.0, report.Confusion.Recall, 1e-9)
	require.InDelta(t, 2*0.5/1.5, report.Confusion.F1, 1e-9)
}

func TestROIReport(t *testing.T) {
	mk := func(predLoss, actualLoss, cost float64, followed, materialized bool) model.OutcomeRecord {
		return model.OutcomeRecord{
			Predicted:        model.PredictedSnapshot{Loss: predLoss},
			ActualLoss:       actualLoss,
			ActionCostUSD:    cost,
			ActionFollowed:   followed,
			RiskMaterialized: materialized,
			ValueGenerated:   ValueGenerated(predLoss, actualLoss, followed, materialized),
		}
	}
	outcomes := []model.OutcomeRecord{
		mk(10000, 2000, 500, true, true),
		mk(5000, 0, 300, true, false),
		mk(6000, 4000, 0, false, true),
		mk(1000, 0, 0, false, false),
	}
	report := BuildROIReport(outcomes)

	require.InDelta(t, 22000, report.TotalPredictedLoss, 1e-9)
	require.InDelta(t, 6000, report.TotalActualLoss, 1e-9)
	require.InDelta(t, 13000, report.TotalLossAvoided, 1e-9)
	require.InDelta(t, 800, report.TotalActionCost, 1e-9)
	require.InDelta(t, 9000, report.NetValue, 1e-9)
	require.InDelta(t, 9000.0/800, report.ROIRatio, 1e-9)
	require.InDelta(t, 0.5, report.FollowRate, 1e-9)
}

func TestROIEmpty(t *testing.T) {
	report := BuildROIReport(nil)
	require.Zero(t, report.NOutcomes)
	require.Zero(t, report.ROIRatio)
}
