package outcome

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/riskcast/riskcast/internal/model"
)

// Reports over fewer outcomes than this return zeros.
const minReportOutcomes = 10

// Reliability-diagram bin count for ECE.
const calibrationBins = 10

// Drift beyond this marks the model overconfident when it predicts high.
const driftAlertThreshold = 0.15

// Accuracy loads the period's outcomes and computes the calibration report.
func (s *Service) Accuracy(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (model.AccuracyReport, error) {
	outcomes, err := s.store.ListOutcomesBetween(ctx, tenantID, from, to)
	if err != nil {
		return model.AccuracyReport{}, fmt.Errorf("outcome: accuracy: %w", err)
	}
	report := BuildAccuracyReport(outcomes)
	report.TenantID = tenantID
	report.PeriodStart = from
	report.PeriodEnd = to
	return report, nil
}

// BuildAccuracyReport computes Brier, MAE, accuracy rate, ECE, the confusion
// matrix at the 50-point threshold, and a recommendation over a set of
// outcome records.
func BuildAccuracyReport(outcomes []model.OutcomeRecord) model.AccuracyReport {
	report := model.AccuracyReport{NOutcomes: len(outcomes)}
	if len(outcomes) < minReportOutcomes {
		report.Recommendation = "Need more data: record at least 10 outcomes for a meaningful report."
		return report
	}

	n := float64(len(outcomes))
	var brierSum, maeSum, predSum float64
	var accurate, materialized int
	for _, o := range outcomes {
		p := o.Predicted.RiskScore / 100
		y := 0.0
		if o.RiskMaterialized {
			y = 1
			materialized++
		}
		brierSum += (p - y) * (p - y)
		maeSum += o.PredictionError
		predSum += p
		if o.WasAccurate {
			accurate++
		}
	}
	report.BrierScore = brierSum / n
	report.MAE = maeSum / n
	report.AccuracyRate = float64(accurate) / n

	observedRate := float64(materialized) / n
	meanPredicted := predSum / n
	report.CalibrationDrift = math.Abs(meanPredicted - observedRate)
	report.Overconfident = report.CalibrationDrift > driftAlertThreshold && meanPredicted > observedRate

	report.ReliabilityBins, report.ECE = reliabilityDiagram(outcomes)
	report.Confusion = confusionMatrix(outcomes)
	report.Recommendation = recommendation(report)
	return report
}

// reliabilityDiagram bins predictions into equal-width probability bins and
// returns the bins plus the count-weighted mean gap (ECE).
func reliabilityDiagram(outcomes []model.OutcomeRecord) ([]model.CalibrationBin, float64) {
	bins := make([]model.CalibrationBin, calibrationBins)
	predSums := make([]float64, calibrationBins)
	hitCounts := make([]int, calibrationBins)
	width := 1.0 / calibrationBins
	for i := range bins {
		bins[i].LowerBound = float64(i) * width
		bins[i].UpperBound = float64(i+1) * width
	}

	for _, o := range outcomes {
		p := o.Predicted.RiskScore / 100
		idx := int(p / width)
		if idx >= calibrationBins {
			idx = calibrationBins - 1
		}
		bins[idx].Count++
		predSums[idx] += p
		if o.RiskMaterialized {
			hitCounts[idx]++
		}
	}

	total := float64(len(outcomes))
	var ece float64
	for i := range bins {
		if bins[i].Count == 0 {
			continue
		}
		c := float64(bins[i].Count)
		bins[i].AvgPredicted = predSums[i] / c
		bins[i].ObservedRate = float64(hitCounts[i]) / c
		bins[i].AbsoluteGap = math.Abs(bins[i].AvgPredicted - bins[i].ObservedRate)
		ece += (c / total) * bins[i].AbsoluteGap
	}
	return bins, ece
}

func confusionMatrix(outcomes []model.OutcomeRecord) model.ConfusionMatrix {
	var m model.ConfusionMatrix
	for _, o := range outcomes {
		predictedHigh := o.Predicted.RiskScore >= materializeScoreThreshold
		switch {
		case predictedHigh && o.RiskMaterialized:
			m.TruePositives++
		case predictedHigh && !o.RiskMaterialized:
			m.FalsePositives++
		case !predictedHigh && !o.RiskMaterialized:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}
	}
	if m.TruePositives+m.FalsePositives > 0 {
		m.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		m.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

func recommendation(r model.AccuracyReport) string {
	switch {
	case r.Overconfident:
		return "Model is overconfident: consider applying Platt scaling to calibrate predicted probabilities."
	case r.CalibrationDrift > driftAlertThreshold:
		return "Model underestimates risk: review fusion weights and flywheel priors."
	case r.BrierScore > 0.25:
		return "Brier score above 0.25: predictions are no better than chance, review signal quality."
	case r.AccuracyRate < 0.5:
		return "Accuracy below 50%: review severity thresholds and loss estimates."
	case r.BrierScore <= 0.1 && r.AccuracyRate >= 0.7:
		return "Model is well calibrated; no action needed."
	default:
		return "Metrics within acceptable bands; continue monitoring."
	}
}
