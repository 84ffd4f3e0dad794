package ingest

import (
	"testing"

	"github.com/samijaber1/storepulse/internal/domain"
)

func TestParseSubmission(t *testing.T) {
	msg := []byte(`{
		"storeId": "store-001",
		"kpiCode": "daily_sales",
		"date": "2026-03-10",
		"value": 8200,
		"comparisonValue": 10000,
		"comparisonBasis": "rolling_4w",
		"hasBaseline": true
	}`)

	sub, err := ParseSubmission(msg)
	if err != nil {
		t.Fatalf("ParseSubmission: %v", err)
	}
	if sub.StoreID != "store-001" || sub.KpiCode != "daily_sales" {
		t.Errorf("unexpected identity: %+v", sub)
	}
	if sub.Value != 8200 || sub.ComparisonValue != 10000 {
		t.Errorf("unexpected values: %+v", sub)
	}
	if sub.ComparisonBasis != domain.BasisRolling4W {
		t.Errorf("basis = %s", sub.ComparisonBasis)
	}
	if !sub.HasBaseline {
		t.Error("hasBaseline lost in decode")
	}
}

func TestParseSubmissionRejectsGarbage(t *testing.T) {
	if _, err := ParseSubmission([]byte(`{not json`)); err == nil {
		t.Error("invalid JSON should fail")
	}
}

func TestValidateSubmission(t *testing.T) {
	valid := domain.MetricSubmission{
		StoreID: "store-001", KpiCode: "daily_sales", Date: "2026-03-10",
		Value: 1, ComparisonBasis: domain.BasisRolling4W,
	}
	if err := ValidateSubmission(valid); err != nil {
		t.Fatalf("valid submission rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*domain.MetricSubmission)
	}{
		{"missing store", func(s *domain.MetricSubmission) { s.StoreID = " " }},
		{"missing kpi", func(s *domain.MetricSubmission) { s.KpiCode = "" }},
		{"bad date", func(s *domain.MetricSubmission) { s.Date = "03/10/2026" }},
		{"missing basis", func(s *domain.MetricSubmission) { s.ComparisonBasis = "" }},
		{"unknown basis", func(s *domain.MetricSubmission) { s.ComparisonBasis = "vibes" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sub := valid
			tc.mutate(&sub)
			if err := ValidateSubmission(sub); err == nil {
				t.Errorf("%s should be rejected", tc.name)
			}
		})
	}
}
