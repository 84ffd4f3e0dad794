package classify

import (
	"fmt"

	"github.com/samijaber1/storepulse/internal/domain"
)

// Result is the classification of one metric observation.
type Result struct {
	VariancePct float64
	Status      domain.MetricStatus
	Reason      string
}

// Classify bands a raw metric value against its threshold set.
//
// variance% = (value - baseline) / baseline * 100, except under the
// absolute comparison basis where the raw value itself is compared
// against the bands. A missing threshold or an uncomputable variance
// fails closed to unknown: unconfigured KPIs must never read as green.
func Classify(value, baseline float64, basis domain.ComparisonBasis, th *domain.KpiThreshold) Result {
	if th == nil {
		return Result{
			Status: domain.StatusUnknown,
			Reason: "no threshold configured",
		}
	}

	if err := CheckOrdering(th); err != nil {
		return Result{
			Status: domain.StatusUnknown,
			Reason: err.Error(),
		}
	}

	var variance float64
	switch basis {
	case domain.BasisAbsolute:
		variance = value
	default:
		if baseline == 0 {
			return Result{
				Status: domain.StatusUnknown,
				Reason: "no comparison baseline (baseline=0)",
			}
		}
		variance = (value - baseline) / baseline * 100
	}

	return Result{
		VariancePct: variance,
		Status:      band(variance, th),
	}
}

// band maps a variance onto green/yellow/red. Red is the catch-all below
// yellow_min; red_threshold only affects message wording upstream.
func band(variance float64, th *domain.KpiThreshold) domain.MetricStatus {
	switch {
	case variance >= th.GreenMin:
		return domain.StatusGreen
	case variance >= th.YellowMin:
		return domain.StatusYellow
	default:
		return domain.StatusRed
	}
}

// CheckOrdering verifies the reference ordering red_threshold < yellow_min <= green_min.
// Operators may write any values; the classifier degrades to unknown when the
// configured bands cannot be interpreted.
func CheckOrdering(th *domain.KpiThreshold) error {
	if th.YellowMin > th.GreenMin {
		return fmt.Errorf("invalid threshold: yellow_min (%.2f) > green_min (%.2f)", th.YellowMin, th.GreenMin)
	}
	if th.RedThreshold > th.YellowMin {
		return fmt.Errorf("invalid threshold: red_threshold (%.2f) > yellow_min (%.2f)", th.RedThreshold, th.YellowMin)
	}
	return nil
}

// ResolveThreshold picks the applicable threshold for a (KPI, store) pair:
// the store-specific override when present, else the organization default.
func ResolveThreshold(thresholds []domain.KpiThreshold, kpiCode, storeID string) *domain.KpiThreshold {
	var orgDefault *domain.KpiThreshold
	for i := range thresholds {
		th := &thresholds[i]
		if th.KpiCode != kpiCode {
			continue
		}
		if th.StoreID == storeID && storeID != "" {
			return th
		}
		if th.StoreID == "" && orgDefault == nil {
			orgDefault = th
		}
	}
	return orgDefault
}
