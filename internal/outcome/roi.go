package outcome

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/model"
)

// ROI loads the period's outcomes and computes the economics report.
func (s *Service) ROI(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (model.ROIReport, error) {
	outcomes, err := s.store.ListOutcomesBetween(ctx, tenantID, from, to)
	if err != nil {
		return model.ROIReport{}, fmt.Errorf("outcome: roi: %w", err)
	}
	report := BuildROIReport(outcomes)
	report.TenantID = tenantID
	report.PeriodStart = from
	report.PeriodEnd = to
	return report, nil
}

// BuildROIReport aggregates the economics of a set of outcome records.
// Loss avoided counts only followed recommendations; net value is the sum of
// per-outcome value generated, and the ROI ratio relates it to what the
// actions cost.
func BuildROIReport(outcomes []model.OutcomeRecord) model.ROIReport {
	report := model.ROIReport{NOutcomes: len(outcomes)}
	if len(outcomes) == 0 {
		return report
	}

	followed := 0
	for _, o := range outcomes {
		report.TotalPredictedLoss += o.Predicted.Loss
		report.TotalActualLoss += o.ActualLoss
		report.TotalActionCost += o.ActionCostUSD
		report.NetValue += o.ValueGenerated
		if o.ActionFollowed {
			followed++
			if o.ValueGenerated > 0 {
				report.TotalLossAvoided += o.ValueGenerated
			}
		}
	}
	if report.TotalActionCost > 0 {
		report.ROIRatio = report.NetValue / report.TotalActionCost
	}
	report.FollowRate = float64(followed) / float64(len(outcomes))
	return report
}
