package rules

import (
	"time"

	"github.com/samijaber1/storepulse/internal/domain"
)

// RuleFile is the parsed escalation rule definition as written by operators.
type RuleFile struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       Spec     `yaml:"spec"`
}

// Metadata identifies a rule.
type Metadata struct {
	ID           string `yaml:"id"`
	Organization string `yaml:"organization"`
	Description  string `yaml:"description,omitempty"`
}

// Spec is the rule body: trigger, hold duration, level transition, action.
type Spec struct {
	Trigger   string `yaml:"trigger"`
	HoldFor   string `yaml:"holdFor"`
	FromLevel int    `yaml:"fromLevel"`
	ToLevel   int    `yaml:"toLevel"`
	Action    string `yaml:"action"`
	Kpi       string `yaml:"kpi,omitempty"`
	Active    *bool  `yaml:"active,omitempty"`
}

// RuleWithFile pairs a rule with its source file path.
type RuleWithFile struct {
	Rule *RuleFile
	File string
}

// ValidationError represents a validation error for a specific file.
type ValidationError struct {
	File    string
	Path    string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return e.File + ": " + e.Path + ": " + e.Message
	}
	return e.File + ": " + e.Message
}

// ToDomain converts a parsed rule file into the engine's rule type.
// The file is assumed validated; an unparseable holdFor yields a zero
// duration, which never fires.
func (r *RuleFile) ToDomain() domain.EscalationRule {
	hold, err := ParseDuration(r.Spec.HoldFor)
	if err != nil {
		hold = 0
	}

	active := true
	if r.Spec.Active != nil {
		active = *r.Spec.Active
	}

	return domain.EscalationRule{
		ID:           r.Metadata.ID,
		Organization: r.Metadata.Organization,
		KpiCode:      r.Spec.Kpi,
		Trigger:      domain.TriggerCondition(r.Spec.Trigger),
		HoldFor:      hold,
		FromLevel:    domain.EscalationLevel(r.Spec.FromLevel),
		ToLevel:      domain.EscalationLevel(r.Spec.ToLevel),
		Action:       domain.RuleAction(r.Spec.Action),
		Active:       active,
	}
}

// Observation reports that a trigger condition has held for a store since
// a point in time. KpiCode is empty for store-wide conditions such as
// multiple_yellow.
type Observation struct {
	KpiCode   string
	Condition domain.TriggerCondition
	Since     time.Time
	AlertID   int64
}

// Context is everything the evaluator needs to decide whether a transition
// is due for one store.
type Context struct {
	StoreID      string
	Organization string
	CurrentLevel domain.EscalationLevel
	Now          time.Time
	Observations []Observation
}

// Proposal is a transition the evaluator recommends. The state machine,
// not the evaluator, commits it.
type Proposal struct {
	Rule        domain.EscalationRule
	Observation Observation
	HeldFor     time.Duration
	Reason      string
}
