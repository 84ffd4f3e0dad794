package health

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samijaber1/storepulse/internal/domain"
)

// Weights are the per-status contributions to the composite score. The
// two-yellows-equals-red combination rule is also policy here rather than
// hard-coded, since the upstream business rule is only inferred from demo
// data.
type Weights struct {
	Green  float64
	Yellow float64
	Red    float64
	// YellowRedEquivalent is how many simultaneous yellows force the
	// overall status to red.
	YellowRedEquivalent int
}

// DefaultWeights returns the standard scoring policy.
func DefaultWeights() Weights {
	return Weights{
		Green:               100,
		Yellow:              60,
		Red:                 0,
		YellowRedEquivalent: 2,
	}
}

// Aggregator folds a store's classified metrics for one date into a
// HealthSnapshot.
type Aggregator struct {
	weights Weights
}

// NewAggregator creates an aggregator with the given scoring policy.
func NewAggregator(weights Weights) *Aggregator {
	if weights.YellowRedEquivalent <= 0 {
		weights.YellowRedEquivalent = 2
	}
	return &Aggregator{weights: weights}
}

// Aggregate computes the snapshot for one store and date. Unknown metrics
// are excluded from the score denominator but counted and surfaced in the
// summary; a day with degraded inputs is flagged action_required so the
// gap stays visible to operators.
//
// Aggregation is idempotent: identical inputs always produce an identical
// snapshot.
func (a *Aggregator) Aggregate(storeID, date string, metrics []domain.KpiMetric, kpiNames map[string]string) domain.HealthSnapshot {
	snap := domain.HealthSnapshot{
		StoreID: storeID,
		Date:    date,
	}

	for _, m := range metrics {
		switch m.Status {
		case domain.StatusGreen:
			snap.GreenCount++
		case domain.StatusYellow:
			snap.YellowCount++
		case domain.StatusRed:
			snap.RedCount++
		default:
			snap.UnknownCount++
		}
	}

	counted := snap.GreenCount + snap.YellowCount + snap.RedCount
	if counted > 0 {
		total := float64(snap.GreenCount)*a.weights.Green +
			float64(snap.YellowCount)*a.weights.Yellow +
			float64(snap.RedCount)*a.weights.Red
		snap.HealthScore = round2(total / float64(counted))
	} else {
		// Nothing classifiable. Score stays 0 and the day is flagged.
		snap.HealthScore = 0
	}

	snap.OverallStatus = a.overallStatus(snap)
	snap.ActionRequired = snap.OverallStatus != domain.StatusGreen || snap.UnknownCount > 0
	snap.Summary = a.summarize(snap, metrics, kpiNames)

	return snap
}

// overallStatus applies the asymmetric combination rule: any red, or
// YellowRedEquivalent simultaneous yellows, reads as red.
func (a *Aggregator) overallStatus(snap domain.HealthSnapshot) domain.MetricStatus {
	counted := snap.GreenCount + snap.YellowCount + snap.RedCount
	if counted == 0 {
		return domain.StatusUnknown
	}
	if snap.RedCount > 0 || snap.YellowCount >= a.weights.YellowRedEquivalent {
		return domain.StatusRed
	}
	if snap.YellowCount > 0 {
		return domain.StatusYellow
	}
	return domain.StatusGreen
}

// summarize renders the free-text snapshot summary.
func (a *Aggregator) summarize(snap domain.HealthSnapshot, metrics []domain.KpiMetric, kpiNames map[string]string) string {
	var parts []string

	counted := snap.GreenCount + snap.YellowCount + snap.RedCount

	switch snap.OverallStatus {
	case domain.StatusGreen:
		parts = append(parts, fmt.Sprintf("Store is healthy. All %d tracked KPIs are within normal ranges.", counted))

	case domain.StatusYellow:
		kpi := firstWithStatus(metrics, domain.StatusYellow)
		parts = append(parts, fmt.Sprintf("One area of concern: %s at %.1f%% variance. Review recommended.",
			displayName(kpi, kpiNames), kpi.VariancePct))

	case domain.StatusRed:
		var issues []string
		for _, m := range sortedByVariance(metrics) {
			if m.Status == domain.StatusRed {
				issues = append(issues, fmt.Sprintf("%s is critical (%.1f%% variance)", displayName(m, kpiNames), m.VariancePct))
			}
		}
		if snap.YellowCount >= a.weights.YellowRedEquivalent {
			issues = append(issues, fmt.Sprintf("%d KPIs below target", snap.YellowCount))
		}
		parts = append(parts, "Store requires immediate attention. "+strings.Join(issues, ". ")+".")

	default:
		parts = append(parts, "No classifiable KPI data for this date.")
	}

	if snap.UnknownCount > 0 {
		var gaps []string
		for _, m := range metrics {
			if m.Status == domain.StatusUnknown {
				gaps = append(gaps, fmt.Sprintf("%s (%s)", displayName(m, kpiNames), m.StatusReason))
			}
		}
		parts = append(parts, fmt.Sprintf("%d KPI(s) could not be classified: %s.", snap.UnknownCount, strings.Join(gaps, "; ")))
	}

	return strings.Join(parts, " ")
}

func firstWithStatus(metrics []domain.KpiMetric, status domain.MetricStatus) domain.KpiMetric {
	for _, m := range sortedByVariance(metrics) {
		if m.Status == status {
			return m
		}
	}
	return domain.KpiMetric{}
}

// sortedByVariance returns metrics worst-first with a stable tiebreak on
// KPI code, keeping summary output deterministic across runs.
func sortedByVariance(metrics []domain.KpiMetric) []domain.KpiMetric {
	out := make([]domain.KpiMetric, len(metrics))
	copy(out, metrics)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].VariancePct != out[j].VariancePct {
			return out[i].VariancePct < out[j].VariancePct
		}
		return out[i].KpiCode < out[j].KpiCode
	})
	return out
}

func displayName(m domain.KpiMetric, kpiNames map[string]string) string {
	if name, ok := kpiNames[m.KpiCode]; ok && name != "" {
		return name
	}
	return m.KpiCode
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
