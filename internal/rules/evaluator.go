package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samijaber1/storepulse/internal/domain"
)

// Evaluator decides whether an escalation transition is due for a store.
// It only proposes; committing is the state machine's job.
type Evaluator struct {
	rules []domain.EscalationRule
}

// NewEvaluator creates an evaluator over a fixed rule set.
func NewEvaluator(ruleSet []domain.EscalationRule) *Evaluator {
	ordered := make([]domain.EscalationRule, len(ruleSet))
	copy(ordered, ruleSet)

	// KPI-specific rules outrank general ones; ties break on rule ID for
	// deterministic evaluation order.
	sort.SliceStable(ordered, func(i, j int) bool {
		si, sj := ordered[i].KpiCode != "", ordered[j].KpiCode != ""
		if si != sj {
			return si
		}
		return ordered[i].ID < ordered[j].ID
	})

	return &Evaluator{rules: ordered}
}

// Rules returns the evaluation-ordered rule set.
func (e *Evaluator) Rules() []domain.EscalationRule {
	out := make([]domain.EscalationRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate returns the first due transition for the store, or nil when no
// rule fires. Only rules whose fromLevel equals the store's current level
// are eligible: a store never skips levels, and a rule already applied
// cannot fire again until the level moves.
func (e *Evaluator) Evaluate(ctx Context) *Proposal {
	for _, rule := range e.rules {
		if !rule.Active {
			continue
		}
		if rule.Organization != "" && rule.Organization != ctx.Organization {
			continue
		}
		if rule.FromLevel != ctx.CurrentLevel {
			continue
		}

		obs, ok := matchObservation(rule, ctx.Observations)
		if !ok {
			continue
		}

		held := ctx.Now.Sub(obs.Since)
		if held < rule.HoldFor {
			continue
		}

		return &Proposal{
			Rule:        rule,
			Observation: obs,
			HeldFor:     held,
			Reason:      buildReason(rule, obs, int(held.Hours())),
		}
	}

	return nil
}

// matchObservation finds a current observation satisfying the rule's
// trigger. A KPI-scoped rule requires the observation to be for that KPI;
// a general rule accepts any. When several observations match, the oldest
// wins so the longest-standing condition drives the hold check.
func matchObservation(rule domain.EscalationRule, observations []Observation) (Observation, bool) {
	var best Observation
	found := false

	for _, obs := range observations {
		if obs.Condition != rule.Trigger {
			continue
		}
		if rule.KpiCode != "" && rule.KpiCode != obs.KpiCode {
			continue
		}
		if !found || obs.Since.Before(best.Since) {
			best = obs
			found = true
		}
	}

	return best, found
}

// buildReason renders the audit reason recorded on the escalation row.
func buildReason(rule domain.EscalationRule, obs Observation, heldHours int) string {
	var b strings.Builder

	subject := obs.KpiCode
	if subject == "" {
		subject = "store"
	}

	switch rule.Trigger {
	case domain.TriggerStatusRed:
		fmt.Fprintf(&b, "%s has remained in RED status for %d hours. ", subject, heldHours)
	case domain.TriggerStatusYellow:
		fmt.Fprintf(&b, "%s has remained in YELLOW status for %d hours. ", subject, heldHours)
	case domain.TriggerMultipleYellow:
		fmt.Fprintf(&b, "Multiple KPIs have tracked YELLOW simultaneously for %d hours. ", heldHours)
	case domain.TriggerSLABreach:
		fmt.Fprintf(&b, "%s has an unresolved item %d hours past its SLA deadline. ", subject, heldHours)
	case domain.TriggerPredictedRisk:
		fmt.Fprintf(&b, "%s has carried a predicted-risk flag for %d hours. ", subject, heldHours)
	}

	fmt.Fprintf(&b, "Hold threshold of %s exceeded. ", FormatDuration(rule.HoldFor))
	fmt.Fprintf(&b, "Escalating from Level %d to Level %d per rule %s.", rule.FromLevel, rule.ToLevel, rule.ID)

	return b.String()
}

// TriggerFor maps an escalation rule trigger onto the audit trigger enum.
func TriggerFor(cond domain.TriggerCondition) domain.EscalationTrigger {
	switch cond {
	case domain.TriggerSLABreach:
		return domain.TriggeredBySLABreach
	case domain.TriggerPredictedRisk:
		return domain.TriggeredByPredictedRisk
	default:
		return domain.TriggeredByThreshold
	}
}
