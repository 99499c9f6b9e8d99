// Package flywheel closes the learning loop: it reads recent outcome records
// and nudges the per-(tenant, entity type) Beta priors the risk engine scores
// with, bounded so a single run can never swing an assessment violently.
package flywheel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/config"
	"github.com/riskcast/riskcast/internal/model"
	"github.com/riskcast/riskcast/internal/storage"
)

// Outcomes older than this do not influence prior updates.
const lookback = 90 * 24 * time.Hour

// Prior parameters never shrink below this floor.
const minPriorParam = 0.5

// Params are the flywheel learning knobs.
type Params struct {
	DefaultAlpha   float64
	DefaultBeta    float64
	LearningRate   float64
	MinOutcomes    int
	MaxShift       float64
	DriftThreshold float64
}

// ParamsFromConfig maps the loaded configuration onto flywheel parameters.
func ParamsFromConfig(cfg config.Config) Params {
	return Params{
		DefaultAlpha:   cfg.PriorAlpha,
		DefaultBeta:    cfg.PriorBeta,
		LearningRate:   cfg.FlywheelLearningRate,
		MinOutcomes:    cfg.FlywheelMinOutcomes,
		MaxShift:       cfg.FlywheelMaxShift,
		DriftThreshold: cfg.FlywheelDriftThreshold,
	}
}

// Store is the persistence surface a flywheel run reads and writes.
type Store interface {
	OutcomeEntityTypes(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]model.EntityType, error)
	ListOutcomesForEntityType(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType, since time.Time) ([]model.OutcomeRecord, error)
	GetPrior(ctx context.Context, tenantID uuid.UUID, entityType model.EntityType) (model.RiskPrior, error)
	UpsertPrior(ctx context.Context, p model.RiskPrior) (model.RiskPrior, error)
	ListPriors(ctx context.Context, tenantID uuid.UUID) ([]model.RiskPrior, error)
}

// Update reports one entity type's prior adjustment within a run.
type Update struct {
	EntityType         model.EntityType `json:"entity_type"`
	NOutcomes          int              `json:"n_outcomes"`
	ObservedRate       float64          `json:"observed_rate"`
	PriorAlpha         float64          `json:"prior_alpha"`
	PriorBeta          float64          `json:"prior_beta"`
	UpdatedAlpha       float64          `json:"updated_alpha"`
	UpdatedBeta        float64          `json:"updated_beta"`
	Shift              float64          `json:"shift"`
	Drift              float64          `json:"drift"`
	NeedsRecalibration bool             `json:"needs_recalibration"`
	Skipped            string           `json:"skipped_reason,omitempty"`
}

// RunResult summarizes one flywheel pass for a tenant.
type RunResult struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Updates  []Update  `json:"updates"`
	Updated  int       `json:"updated"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	RanAt    time.Time `json:"ran_at"`
}

// Service runs the prior-update loop.
type Service struct {
	store  Store
	params Params
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, params Params, logger *slog.Logger) *Service {
	return &Service{store: store, params: params, logger: logger, now: time.Now}
}

// Run updates the priors for every entity type with enough recent outcomes.
// Per-type failures are recorded and the run continues.
func (s *Service) Run(ctx context.Context, tenantID uuid.UUID) (RunResult, error) {
	now := s.now().UTC()
	result := RunResult{TenantID: tenantID, RanAt: now}
	since := now.Add(-lookback)

	entityTypes, err := s.store.OutcomeEntityTypes(ctx, tenantID, since)
	if err != nil {
		return result, fmt.Errorf("flywheel: list entity types: %w", err)
	}

	for _, et := range entityTypes {
		update, err := s.updateOne(ctx, tenantID, et, since, now)
		if err != nil {
			result.Failed++
			s.logger.Warn("flywheel: entity type update failed",
				"tenant_id", tenantID, "entity_type", et, "error", err)
			continue
		}
		result.Updates = append(result.Updates, update)
		if update.Skipped != "" {
			result.Skipped++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

// Priors returns the stored priors for a tenant.
func (s *Service) Priors(ctx context.Context, tenantID uuid.UUID) ([]model.RiskPrior, error) {
	return s.store.ListPriors(ctx, tenantID)
}

func (s *Service) updateOne(ctx context.Context, tenantID uuid.UUID, et model.EntityType, since, now time.Time) (Update, error) {
	outcomes, err := s.store.ListOutcomesForEntityType(ctx, tenantID, et, since)
	if err != nil {
		return Update{}, fmt.Errorf("list outcomes: %w", err)
	}

	update := Update{EntityType: et, NOutcomes: len(outcomes)}
	if len(outcomes) < s.params.MinOutcomes {
		update.Skipped = fmt.Sprintf("only %d outcomes, need %d", len(outcomes), s.params.MinOutcomes)
		return update, nil
	}

	alpha0, beta0 := s.params.DefaultAlpha, s.params.DefaultBeta
	prior, err := s.store.GetPrior(ctx, tenantID, et)
	switch {
	case err == nil:
		alpha0, beta0 = prior.Alpha, prior.Beta
	case errors.Is(err, storage.ErrNotFound):
	default:
		return Update{}, fmt.Errorf("load prior: %w", err)
	}

	update.PriorAlpha = alpha0
	update.PriorBeta = beta0

	n := float64(len(outcomes))
	materialized := 0
	var predictedSum float64
	for _, o := range outcomes {
		if o.RiskMaterialized {
			materialized++
		}
		predictedSum += o.Predicted.RiskScore / 100
	}
	update.ObservedRate = float64(materialized) / n
	priorRate := alpha0 / (alpha0 + beta0)

	shift := (update.ObservedRate - priorRate) * s.params.LearningRate * n
	shift = math.Max(-s.params.MaxShift, math.Min(s.params.MaxShift, shift))
	update.Shift = shift
	update.UpdatedAlpha = math.Max(minPriorParam, alpha0+shift)
	update.UpdatedBeta = math.Max(minPriorParam, beta0-0.5*shift)

	update.Drift = math.Abs(predictedSum/n - update.ObservedRate)
	update.NeedsRecalibration = update.Drift > s.params.DriftThreshold

	_, err = s.store.UpsertPrior(ctx, model.RiskPrior{
		TenantID:           tenantID,
		EntityType:         et,
		Alpha:              update.UpdatedAlpha,
		Beta:               update.UpdatedBeta,
		ObservedRate:       update.ObservedRate,
		Drift:              update.Drift,
		NOutcomes:          len(outcomes),
		NeedsRecalibration: update.NeedsRecalibration,
		UpdatedAt:          now,
	})
	if err != nil {
		return Update{}, fmt.Errorf("store prior: %w", err)
	}
	return update, nil
}
