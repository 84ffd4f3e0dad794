package health

import (
	"reflect"
	"strings"
	"testing"

	"github.com/samijaber1/storepulse/internal/domain"
)

func metric(kpi string, status domain.MetricStatus, variance float64) domain.KpiMetric {
	return domain.KpiMetric{
		StoreID:     "store-1",
		KpiCode:     kpi,
		Date:        "2026-08-30",
		VariancePct: variance,
		Status:      status,
	}
}

func unknownMetric(kpi, reason string) domain.KpiMetric {
	m := metric(kpi, domain.StatusUnknown, 0)
	m.StatusReason = reason
	return m
}

func TestAggregate(t *testing.T) {
	agg := NewAggregator(DefaultWeights())

	tests := []struct {
		name           string
		metrics        []domain.KpiMetric
		expectedStatus domain.MetricStatus
		expectedScore  float64
		actionRequired bool
	}{
		{
			name: "all green scores 100",
			metrics: []domain.KpiMetric{
				metric("sales", domain.StatusGreen, 1),
				metric("traffic", domain.StatusGreen, 0.5),
				metric("labor_coverage", domain.StatusGreen, 2),
			},
			expectedStatus: domain.StatusGreen,
			expectedScore:  100,
			actionRequired: false,
		},
		{
			name: "all red scores 0",
			metrics: []domain.KpiMetric{
				metric("sales", domain.StatusRed, -30),
				metric("traffic", domain.StatusRed, -25),
			},
			expectedStatus: domain.StatusRed,
			expectedScore:  0,
			actionRequired: true,
		},
		{
			name: "single yellow is yellow overall",
			metrics: []domain.KpiMetric{
				metric("sales", domain.StatusYellow, -5),
				metric("traffic", domain.StatusGreen, 1),
			},
			expectedStatus: domain.StatusYellow,
			expectedScore:  80,
			actionRequired: true,
		},
		{
			name: "two yellows behave like red",
			metrics: []domain.KpiMetric{
				metric("sales", domain.StatusYellow, -5),
				metric("traffic", domain.StatusYellow, -6),
				metric("labor_coverage", domain.StatusGreen, 1),
			},
			expectedStatus: domain.StatusRed,
			expectedScore:  73.33,
			actionRequired: true,
		},
		{
			name: "one red dominates greens",
			metrics: []domain.KpiMetric{
				metric("sales", domain.StatusRed, -30),
				metric("traffic", domain.StatusGreen, 1),
				metric("labor_coverage", domain.StatusGreen, 2),
				metric("inventory", domain.StatusGreen, 0),
			},
			expectedStatus: domain.StatusRed,
			expectedScore:  75,
			actionRequired: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := agg.Aggregate("store-1", "2026-08-30", tt.metrics, nil)

			if snap.OverallStatus != tt.expectedStatus {
				t.Errorf("expected overall %s, got %s", tt.expectedStatus, snap.OverallStatus)
			}
			if snap.HealthScore != tt.expectedScore {
				t.Errorf("expected score %.2f, got %.2f", tt.expectedScore, snap.HealthScore)
			}
			if snap.ActionRequired != tt.actionRequired {
				t.Errorf("expected action_required=%v, got %v", tt.actionRequired, snap.ActionRequired)
			}
			if snap.HealthScore < 0 || snap.HealthScore > 100 {
				t.Errorf("score out of bounds: %.2f", snap.HealthScore)
			}
		})
	}
}

func TestAggregateUnknownExcluded(t *testing.T) {
	agg := NewAggregator(DefaultWeights())

	snap := agg.Aggregate("store-1", "2026-08-30", []domain.KpiMetric{
		metric("sales", domain.StatusGreen, 1),
		metric("traffic", domain.StatusGreen, 0.5),
		unknownMetric("conversion_rate", "no threshold configured"),
	}, nil)

	if snap.HealthScore != 100 {
		t.Errorf("unknown must not dilute the score: got %.2f", snap.HealthScore)
	}
	if snap.UnknownCount != 1 {
		t.Errorf("expected unknown count 1, got %d", snap.UnknownCount)
	}
	if snap.OverallStatus != domain.StatusGreen {
		t.Errorf("expected green overall, got %s", snap.OverallStatus)
	}
	if !snap.ActionRequired {
		t.Error("degraded inputs must flag action_required")
	}
	if !strings.Contains(snap.Summary, "no threshold configured") {
		t.Errorf("summary must flag the classification gap, got: %s", snap.Summary)
	}
}

func TestAggregateAllUnknown(t *testing.T) {
	agg := NewAggregator(DefaultWeights())

	snap := agg.Aggregate("store-1", "2026-08-30", []domain.KpiMetric{
		unknownMetric("sales", "no threshold configured"),
	}, nil)

	if snap.OverallStatus != domain.StatusUnknown {
		t.Errorf("expected unknown overall, got %s", snap.OverallStatus)
	}
	if !snap.ActionRequired {
		t.Error("expected action_required for all-unknown day")
	}
}

func TestAggregateIdempotent(t *testing.T) {
	agg := NewAggregator(DefaultWeights())

	metrics := []domain.KpiMetric{
		metric("sales", domain.StatusRed, -30),
		metric("traffic", domain.StatusYellow, -6),
		unknownMetric("conversion_rate", "no baseline"),
	}
	names := map[string]string{"sales": "Net Sales", "traffic": "Foot Traffic"}

	first := agg.Aggregate("store-1", "2026-08-30", metrics, names)
	second := agg.Aggregate("store-1", "2026-08-30", metrics, names)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("aggregation not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestConfigurableYellowPolicy(t *testing.T) {
	weights := DefaultWeights()
	weights.YellowRedEquivalent = 3
	agg := NewAggregator(weights)

	snap := agg.Aggregate("store-1", "2026-08-30", []domain.KpiMetric{
		metric("sales", domain.StatusYellow, -5),
		metric("traffic", domain.StatusYellow, -6),
	}, nil)

	if snap.OverallStatus != domain.StatusYellow {
		t.Errorf("with equivalent=3, two yellows should stay yellow, got %s", snap.OverallStatus)
	}
}
