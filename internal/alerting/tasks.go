package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/samijaber1/storepulse/internal/domain"
)

// slaHours maps (category, severity) to the hours an alert may stay open
// before its SLA deadline passes. Inventory issues get longer windows
// because replenishment cycles are slower than staffing or merchandising
// corrections.
var slaHours = map[string]map[domain.AlertSeverity]int{
	"sales":     {domain.SeverityRed: 24, domain.SeverityYellow: 48},
	"labor":     {domain.SeverityRed: 24, domain.SeverityYellow: 48},
	"inventory": {domain.SeverityRed: 72, domain.SeverityYellow: 96},
	"traffic":   {domain.SeverityRed: 24, domain.SeverityYellow: 48},
}

// SLAHours returns the SLA window in hours for a KPI category and alert
// severity. Unknown categories fall back to the sales window.
func SLAHours(category string, severity domain.AlertSeverity) int {
	byCat, ok := slaHours[category]
	if !ok {
		byCat = slaHours["sales"]
	}
	if h, ok := byCat[severity]; ok {
		return h
	}
	return 48
}

// taskRule maps an alert's (category, severity) to a task that should be
// dispatched alongside it. Multiple rules may match one alert.
type taskRule struct {
	category string // empty matches any category
	severity domain.AlertSeverity
	taskType domain.TaskType
	role     string
	priority int
	title    string
}

var taskRules = []taskRule{
	// Every yellow/red alert gets a review task for the store manager.
	{category: "", severity: domain.SeverityYellow, taskType: domain.TaskReview, role: "store_manager", priority: 2, title: "Investigate %s variance"},
	{category: "", severity: domain.SeverityRed, taskType: domain.TaskReview, role: "store_manager", priority: 1, title: "Investigate %s variance"},

	// Red alerts also pull in the role that owns the category.
	{category: "sales", severity: domain.SeverityRed, taskType: domain.TaskAction, role: "district_manager", priority: 1, title: "Contact store manager about %s"},
	{category: "traffic", severity: domain.SeverityRed, taskType: domain.TaskAction, role: "district_manager", priority: 1, title: "Contact store manager about %s"},
	{category: "inventory", severity: domain.SeverityRed, taskType: domain.TaskAction, role: "inventory_manager", priority: 1, title: "Review inventory position for %s"},
	{category: "labor", severity: domain.SeverityRed, taskType: domain.TaskAction, role: "store_manager", priority: 1, title: "Review staffing plan for %s"},
}

// TasksForAlert builds the remediation tasks for a newly created alert by
// fanning out over the dispatch table. Tasks inherit the alert's SLA
// deadline as their due time.
func TasksForAlert(alert *domain.Alert, store *domain.Store, def *domain.KpiDefinition, metric domain.KpiMetric) []domain.Task {
	var tasks []domain.Task
	for _, rule := range taskRules {
		if rule.severity != alert.Severity {
			continue
		}
		if rule.category != "" && rule.category != def.Category {
			continue
		}
		name, contact := contactForRole(store, rule.role)
		tasks = append(tasks, domain.Task{
			StoreID:         store.ID,
			AlertID:         alert.ID,
			KpiCode:         def.Code,
			Type:            rule.taskType,
			Priority:        rule.priority,
			Status:          domain.TaskPending,
			AssignedRole:    rule.role,
			AssignedName:    name,
			AssignedContact: contact,
			Title:           fmt.Sprintf(rule.title, def.Name),
			Description:     taskDescription(store, def, metric),
			DueDate:         alert.ExpiresAt,
		})
	}
	return tasks
}

// FollowUpTask builds the manual follow-up dispatched when automated
// outreach could not reach the store manager.
func FollowUpTask(store *domain.Store, esc *domain.Escalation, now time.Time) domain.Task {
	name, contact := contactForRole(store, "district_manager")
	return domain.Task{
		StoreID:         store.ID,
		AlertID:         esc.AlertID,
		Type:            domain.TaskFollowUp,
		Priority:        1,
		Status:          domain.TaskPending,
		AssignedRole:    "district_manager",
		AssignedName:    name,
		AssignedContact: contact,
		Title:           fmt.Sprintf("Follow up with %s by phone", store.Name),
		Description: fmt.Sprintf("Automated outreach to %s did not get a response. "+
			"Call the store manager directly and confirm the escalation is being handled.\n\n%s",
			store.Name, esc.Reason),
		DueDate: now.Add(4 * time.Hour),
	}
}

func contactForRole(store *domain.Store, role string) (name, contact string) {
	var c domain.Contact
	switch role {
	case "district_manager":
		c = store.DistrictManager
	case "regional_manager":
		c = store.RegionalManager
	default:
		c = store.Manager
	}
	if c.Phone != "" {
		return c.Name, c.Phone
	}
	return c.Name, c.Email
}

// recommendedActions lists category-specific guidance appended to task
// descriptions.
var recommendedActions = map[string][]string{
	"sales": {
		"Check for register or payment terminal outages",
		"Verify promotions and pricing are active in the POS",
		"Walk the sales floor for merchandising gaps",
	},
	"labor": {
		"Compare scheduled versus actual hours for the day",
		"Check for unplanned absences or open shifts",
		"Rebalance floor coverage to peak traffic hours",
	},
	"inventory": {
		"Run a cycle count on the top movers",
		"Check for receiving backlog in the stockroom",
		"Review open purchase orders for late deliveries",
	},
	"traffic": {
		"Confirm door counters are powered and reporting",
		"Check for local events or weather affecting footfall",
		"Verify storefront signage and entrance accessibility",
	},
}

func taskDescription(store *domain.Store, def *domain.KpiDefinition, metric domain.KpiMetric) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s at %s is %s (%.1f%% variance, current value %.2f %s).\n",
		def.Name, store.Name, metric.Status, metric.VariancePct, metric.Value, def.Unit)
	actions := recommendedActions[def.Category]
	if len(actions) > 0 {
		b.WriteString("\nRecommended actions:\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	return b.String()
}
