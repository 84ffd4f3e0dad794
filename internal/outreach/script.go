package outreach

import (
	"fmt"
	"strings"

	"github.com/samijaber1/storepulse/internal/domain"
)

// ScriptVars carries the values substituted into a call script. Every
// {placeholder} in a template must have a matching field here; rendering
// fails on any placeholder left unfilled.
type ScriptVars struct {
	ManagerName string
	StoreName   string
	HealthScore float64
	Summary     string
	Level       domain.EscalationLevel
}

// Script templates per call type. The set is closed: an unrecognized call
// type is a programming error, not a fallback case.
const (
	greenScript = "Hello {managerName}, this is the StorePulse assistant calling about {storeName}. " +
		"Good news: your store health score is {healthScore} and all tracked metrics are on target. " +
		"No action is needed. Keep up the great work."

	yellowScript = "Hello {managerName}, this is the StorePulse assistant calling about {storeName}. " +
		"Your store health score is {healthScore} and some metrics need attention: {summary}. " +
		"Please review the open tasks in your dashboard today. " +
		"Can you confirm you will look into this? Say yes to confirm, or say later if you need more time."

	redScript = "Hello {managerName}, this is the StorePulse assistant calling about {storeName}. " +
		"This is an urgent escalation at level {level}. Your store health score is {healthScore}. " +
		"Critical issues: {summary}. " +
		"Immediate action is required and your district manager has been notified. " +
		"Can you confirm you are addressing this now? Say yes to confirm, or say later if you cannot act immediately."
)

// RenderScript produces the spoken script for a call type. Call types map
// to metric statuses: the overall status of the store at trigger time.
func RenderScript(callType domain.MetricStatus, vars ScriptVars) (string, error) {
	var tmpl string
	switch callType {
	case domain.StatusGreen:
		tmpl = greenScript
	case domain.StatusYellow:
		tmpl = yellowScript
	case domain.StatusRed:
		tmpl = redScript
	default:
		return "", fmt.Errorf("no call script for status %q", callType)
	}

	r := strings.NewReplacer(
		"{managerName}", orDefault(vars.ManagerName, "store manager"),
		"{storeName}", vars.StoreName,
		"{healthScore}", fmt.Sprintf("%.0f", vars.HealthScore),
		"{summary}", orDefault(vars.Summary, "see your dashboard for details"),
		"{level}", fmt.Sprintf("%d", vars.Level),
	)
	script := r.Replace(tmpl)

	if i := strings.IndexByte(script, '{'); i >= 0 {
		return "", fmt.Errorf("unfilled placeholder at offset %d in %s script", i, callType)
	}
	return script, nil
}

// ClassifyResponse buckets a transcript answer into yes / later / other.
// Matching is deliberately loose: speech-to-text output is noisy.
func ClassifyResponse(transcript string) domain.CallResponse {
	t := strings.ToLower(strings.TrimSpace(transcript))
	if t == "" {
		return domain.ResponseOther
	}
	for _, w := range []string{"yes", "yeah", "yep", "confirm", "will do", "on it", "absolutely"} {
		if strings.Contains(t, w) {
			return domain.ResponseYes
		}
	}
	for _, w := range []string{"later", "busy", "not now", "call back", "tomorrow"} {
		if strings.Contains(t, w) {
			return domain.ResponseLater
		}
	}
	return domain.ResponseOther
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
