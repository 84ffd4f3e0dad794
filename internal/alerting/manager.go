package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/samijaber1/storepulse/internal/domain"
	"github.com/samijaber1/storepulse/internal/storage"
)

// AlertStore is the slice of storage the alert manager needs.
type AlertStore interface {
	CreateOrUpdateAlert(ctx context.Context, a *domain.Alert) (*domain.Alert, bool, error)
	GetAlert(ctx context.Context, id int64) (*domain.Alert, error)
	ListAlerts(ctx context.Context, f storage.AlertFilter) ([]domain.Alert, error)
	UpdateAlertStatus(ctx context.Context, id int64, status domain.AlertStatus, by string, at time.Time) error
	OverdueAlerts(ctx context.Context, now time.Time) ([]domain.Alert, error)
	CreateTask(ctx context.Context, t *domain.Task) (int64, error)
	CompleteTasksForAlert(ctx context.Context, alertID int64, at time.Time) error
}

// Manager creates and manages alerts raised by yellow/red classifications,
// and fans each new alert out into remediation tasks.
type Manager struct {
	store AlertStore
}

// NewManager creates an alert manager.
func NewManager(store AlertStore) *Manager {
	return &Manager{store: store}
}

// RaiseFromMetric creates (or refreshes) the alert for a yellow/red metric
// and, when the alert is new, generates its remediation tasks. Green and
// unknown metrics never raise alerts. Duplicate raises for the same
// (store, kpi, day) update the existing alert in place; the uniqueness
// constraint in storage is the backstop under concurrency.
func (m *Manager) RaiseFromMetric(ctx context.Context, store *domain.Store, def *domain.KpiDefinition, metric domain.KpiMetric, now time.Time) (*domain.Alert, []domain.Task, error) {
	var severity domain.AlertSeverity
	switch metric.Status {
	case domain.StatusRed:
		severity = domain.SeverityRed
	case domain.StatusYellow:
		severity = domain.SeverityYellow
	default:
		return nil, nil, nil
	}

	sla := SLAHours(def.Category, severity)

	alert := &domain.Alert{
		StoreID:     store.ID,
		KpiCode:     def.Code,
		AlertDate:   now,
		Day:         metric.Date,
		Severity:    severity,
		Status:      domain.AlertActive,
		Title:       alertTitle(def, metric),
		Message:     alertMessage(store, def, metric, severity),
		RequiresAck: severity == domain.SeverityRed,
		ExpiresAt:   now.Add(time.Duration(sla) * time.Hour),
	}

	saved, created, err := m.store.CreateOrUpdateAlert(ctx, alert)
	if err != nil {
		return nil, nil, fmt.Errorf("raise alert for %s/%s: %w", store.ID, def.Code, err)
	}
	if !created {
		return saved, nil, nil
	}

	var tasks []domain.Task
	for _, task := range TasksForAlert(saved, store, def, metric) {
		id, err := m.store.CreateTask(ctx, &task)
		if err != nil {
			return saved, tasks, fmt.Errorf("create task for alert %d: %w", saved.ID, err)
		}
		task.ID = id
		tasks = append(tasks, task)
	}

	return saved, tasks, nil
}

// Acknowledge marks an active alert acknowledged.
func (m *Manager) Acknowledge(ctx context.Context, alertID int64, by string, now time.Time) error {
	alert, err := m.store.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if alert.Status != domain.AlertActive {
		return fmt.Errorf("alert %d is %s, not active", alertID, alert.Status)
	}
	return m.store.UpdateAlertStatus(ctx, alertID, domain.AlertAcknowledged, by, now)
}

// Resolve closes an alert and completes its open tasks.
func (m *Manager) Resolve(ctx context.Context, alertID int64, by string, now time.Time) error {
	if err := m.store.UpdateAlertStatus(ctx, alertID, domain.AlertResolved, by, now); err != nil {
		return err
	}
	if err := m.store.CompleteTasksForAlert(ctx, alertID, now); err != nil {
		return fmt.Errorf("complete tasks for alert %d: %w", alertID, err)
	}
	return nil
}

// ResolveStoreAlerts closes all open alerts for a store, used when the
// store's escalation is resolved.
func (m *Manager) ResolveStoreAlerts(ctx context.Context, storeID, by string, now time.Time) (int, error) {
	open, err := m.store.ListAlerts(ctx, storage.AlertFilter{
		StoreID:  storeID,
		Statuses: []domain.AlertStatus{domain.AlertActive, domain.AlertAcknowledged},
	})
	if err != nil {
		return 0, err
	}

	for _, alert := range open {
		if err := m.Resolve(ctx, alert.ID, by, now); err != nil {
			return 0, err
		}
	}
	return len(open), nil
}

// ExpireStale expires open alerts raised on earlier days. Current-day
// alerts past their SLA deadline are left open on purpose: the rule
// evaluator consumes them as sla_breach observations.
func (m *Manager) ExpireStale(ctx context.Context, today string, now time.Time) (int, error) {
	open, err := m.store.ListAlerts(ctx, storage.AlertFilter{
		Statuses: []domain.AlertStatus{domain.AlertActive, domain.AlertAcknowledged},
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, alert := range open {
		if alert.Day >= today {
			continue
		}
		if err := m.store.UpdateAlertStatus(ctx, alert.ID, domain.AlertExpired, "", now); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// alertTitle renders the one-line alert headline.
func alertTitle(def *domain.KpiDefinition, metric domain.KpiMetric) string {
	direction := "below"
	if metric.VariancePct > 0 {
		direction = "above"
	}
	return fmt.Sprintf("%s %.1f%% %s target", def.Name, abs(metric.VariancePct), direction)
}

// alertMessage renders the alert body shown to the assigned role.
func alertMessage(store *domain.Store, def *domain.KpiDefinition, metric domain.KpiMetric, severity domain.AlertSeverity) string {
	direction := "below"
	if metric.VariancePct > 0 {
		direction = "above"
	}

	msg := fmt.Sprintf("%s: %s is %.1f%% %s the baseline.\n", store.Name, def.Name, abs(metric.VariancePct), direction)
	msg += fmt.Sprintf("Current value: %.2f %s\n", metric.Value, def.Unit)
	if metric.ComparisonBasis != domain.BasisAbsolute {
		msg += fmt.Sprintf("Baseline (%s): %.2f %s\n", metric.ComparisonBasis, metric.ComparisonValue, def.Unit)
	}
	msg += fmt.Sprintf("Variance: %.1f%%\n", metric.VariancePct)

	if severity == domain.SeverityRed {
		msg += "Immediate action required: this KPI has crossed into the red zone."
	} else {
		msg += "Attention needed: monitor this KPI and consider preventive action."
	}
	return msg
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
