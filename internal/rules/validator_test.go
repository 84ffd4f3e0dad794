package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validRule = `apiVersion: storepulse/v1
kind: EscalationRule
metadata:
  id: red-sustained
  organization: default
spec:
  trigger: status_red
  holdFor: 48h
  fromLevel: 0
  toLevel: 2
  action: send_alert
`

func schemaPath(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs("../../schemas/escalation_rule_v1.json")
	if err != nil {
		t.Fatalf("resolve schema path: %v", err)
	}
	return path
}

func writeRule(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write rule file: %v", err)
	}
}

func TestValidateDirectoryValid(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "red.yaml", validRule)

	v, err := NewValidator(schemaPath(t))
	if err != nil {
		t.Fatalf("create validator: %v", err)
	}

	if errs := v.ValidateDirectory(dir); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidateDirectoryErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name: "bad trigger enum",
			content: strings.Replace(validRule,
				"trigger: status_red", "trigger: status_purple", 1),
			wantMsg: "trigger",
		},
		{
			name: "bad hold duration",
			content: strings.Replace(validRule,
				"holdFor: 48h", "holdFor: soon", 1),
			wantMsg: "holdFor",
		},
		{
			name: "downward transition",
			content: strings.Replace(validRule,
				"toLevel: 2", "toLevel: 0", 1),
			wantMsg: "toLevel",
		},
		{
			name: "ai_call below level 3",
			content: strings.Replace(validRule,
				"action: send_alert", "action: ai_call", 1),
			wantMsg: "ai_call",
		},
	}

	v, err := NewValidator(schemaPath(t))
	if err != nil {
		t.Fatalf("create validator: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeRule(t, dir, "rule.yaml", tt.content)

			errs := v.ValidateDirectory(dir)
			if len(errs) == 0 {
				t.Fatal("expected validation errors, got none")
			}

			found := false
			for _, e := range errs {
				if strings.Contains(e.Error(), tt.wantMsg) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("no error mentioning %q in %v", tt.wantMsg, errs)
			}
		})
	}
}

func TestValidateDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "a.yaml", validRule)
	writeRule(t, dir, "b.yaml", validRule)

	v, err := NewValidator(schemaPath(t))
	if err != nil {
		t.Fatalf("create validator: %v", err)
	}

	errs := v.ValidateDirectory(dir)
	found := false
	for _, e := range errs {
		if strings.Contains(e.Message, "duplicate ID") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected duplicate ID error, got %v", errs)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		hours   float64
		wantErr bool
	}{
		{input: "30m", hours: 0.5},
		{input: "48h", hours: 48},
		{input: "3d", hours: 72},
		{input: "90s", wantErr: true},
		{input: "h", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := ParseDuration(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Hours() != tt.hours {
				t.Errorf("expected %.1fh, got %v", tt.hours, d)
			}
		})
	}
}

func TestRuleFileToDomain(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "red.yaml", validRule)

	loaded, errs := LoadFromDirectory(dir)
	if len(errs) != 0 {
		t.Fatalf("load errors: %v", errs)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(loaded))
	}

	rule := loaded[0].Rule.ToDomain()
	if rule.ID != "red-sustained" || rule.HoldFor.Hours() != 48 || !rule.Active {
		t.Errorf("unexpected conversion: %+v", rule)
	}
}
