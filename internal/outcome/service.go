// Package outcome records the real-world result of each decision and
// aggregates prediction quality and economics over them.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/audit"
	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/storage"
)

// A prediction within this error is counted as accurate.
const accurateMaxError = 0.15

// Weights of the two prediction-error components.
const (
	directionWeight = 0.6
	magnitudeWeight = 0.4
)

// Predictions at or above this score count as "predicted materialization".
const materializeScoreThreshold = 50.0

// Store is the persistence surface the outcome service needs.
type Store interface {
	InsertOutcome(ctx context.Context, o model.OutcomeRecord) (model.OutcomeRecord, error)
	GetOutcome(ctx context.Context, tenantID uuid.UUID, decisionID string) (model.OutcomeRecord, error)
	ListOutcomesBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]model.OutcomeRecord, error)
}

// Service records outcomes and serves the accuracy and ROI reports.
type Service struct {
	store  Store
	audit  *audit.Service // nil disables the audit hook
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an outcome service. auditor may be nil.
func NewService(store Store, auditor *audit.Service, logger *slog.Logger) *Service {
	return &Service{store: store, audit: auditor, logger: logger, now: time.Now}
}

// Record derives the judgment fields and writes the immutable outcome row.
// A second record for the same decision id returns the stored record together
// with storage.ErrDuplicate; the stored record is never altered.
func (s *Service) Record(ctx context.Context, tenantID uuid.UUID, req model.RecordOutcomeRequest, predicted model.PredictedSnapshot) (model.OutcomeRecord, error) {
	if err := req.Validate(); err != nil {
		return model.OutcomeRecord{}, fmt.Errorf("outcome: %w", err)
	}

	rec := model.OutcomeRecord{
		ID:         uuid.New(),
		TenantID:   tenantID,
		DecisionID: req.DecisionID,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Predicted:  predicted,

		OutcomeType:     req.OutcomeType,
		ActualLoss:      req.ActualLoss,
		ActualDelayDays: req.ActualDelayDays,
		ActionTaken:     req.ActionTaken,
		ActionFollowed:  req.ActionFollowed,
		ActionCostUSD:   req.ActionCostUSD,

		Notes:      req.Notes,
		RecordedAt: s.now().UTC(),
	}
	rec.RiskMaterialized = req.OutcomeType.RiskMaterialized()
	rec.PredictionError = PredictionError(predicted.RiskScore, predicted.Loss, req.ActualLoss, rec.RiskMaterialized)
	rec.WasAccurate = rec.PredictionError <= accurateMaxError
	rec.ValueGenerated = ValueGenerated(predicted.Loss, req.ActualLoss, req.ActionFollowed, rec.RiskMaterialized)

	stored, err := s.store.InsertOutcome(ctx, rec)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			prior, getErr := s.store.GetOutcome(ctx, tenantID, req.DecisionID)
			if getErr != nil {
				return model.OutcomeRecord{}, fmt.Errorf("outcome: load prior record: %w", getErr)
			}
			return prior, storage.ErrDuplicate
		}
		return model.OutcomeRecord{}, fmt.Errorf("outcome: record: %w", err)
	}

	if s.audit != nil {
		s.audit.Log(ctx, audit.Event{
			TenantID: &tenantID,
			Actor:    "outcome-service",
			Action:   "outcome.recorded",
			Resource: stored.DecisionID,
			Details: map[string]any{
				"outcome_type":    stored.OutcomeType,
				"value_generated": stored.ValueGenerated,
			},
		})
	}
	return stored, nil
}

// Get returns the outcome record for a decision id.
func (s *Service) Get(ctx context.Context, tenantID uuid.UUID, decisionID string) (model.OutcomeRecord, error) {
	return s.store.GetOutcome(ctx, tenantID, decisionID)
}

// PredictionError blends direction error (did the risk call go the right way)
// with magnitude error (how far off the loss estimate was).
func PredictionError(predictedScore, predictedLoss, actualLoss float64, materialized bool) float64 {
	direction := 0.0
	predictedHigh := predictedScore >= materializeScoreThreshold
	if predictedHigh != materialized {
		direction = 1
	}
	magnitude := math.Abs(predictedLoss-actualLoss) / math.Max(math.Max(predictedLoss, actualLoss), 1)
	return directionWeight*direction + magnitudeWeight*magnitude
}

// ValueGenerated is the signed USD value the decision produced.
func ValueGenerated(predictedLoss, actualLoss float64, followed, materialized bool) float64 {
	switch {
	case followed && materialized:
		return math.Max(predictedLoss-actualLoss, 0)
	case followed && !materialized:
		return predictedLoss
	case !followed && materialized:
		return -actualLoss
	default:
		return 0
	}
}
