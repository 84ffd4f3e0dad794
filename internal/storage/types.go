package storage

import (
	"context"
	"errors"
	"time"

	"github.com/samijaber1/storepulse/internal/domain"
)

// Sentinel errors shared across storage implementations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicate indicates a write was rejected by a uniqueness
	// constraint. Callers generally treat this as "already handled",
	// not as failure.
	ErrDuplicate = errors.New("storage: duplicate write")

	// ErrStaleState indicates a compare-and-swap on a store's escalation
	// level failed because the level changed since it was read. Callers
	// must abort and re-read rather than force-apply.
	ErrStaleState = errors.New("storage: stale escalation state")
)

// AlertFilter narrows alert queries.
type AlertFilter struct {
	StoreID  string
	KpiCode  string
	Severity domain.AlertSeverity
	Statuses []domain.AlertStatus
	Limit    int
}

// TaskFilter narrows task queries.
type TaskFilter struct {
	StoreID  string
	Role     string
	Statuses []domain.TaskStatus
	Limit    int
}

// FleetOverview is the dashboard projection over one day's snapshots.
type FleetOverview struct {
	Date           string          `json:"date"`
	TotalStores    int             `json:"totalStores"`
	GreenStores    int             `json:"greenStores"`
	YellowStores   int             `json:"yellowStores"`
	RedStores      int             `json:"redStores"`
	ActionRequired int             `json:"actionRequired"`
	AverageScore   float64         `json:"averageHealthScore"`
	CriticalStores []CriticalStore `json:"criticalStores"`
	ActiveAlerts   int             `json:"activeAlerts"`
	PendingTasks   int             `json:"pendingTasks"`
	GeneratedAt    time.Time       `json:"generatedAt"`
}

// CriticalStore is a fleet-overview line item for a store at level >= 2.
type CriticalStore struct {
	StoreID         string  `json:"storeId"`
	StoreCode       string  `json:"storeCode"`
	StoreName       string  `json:"storeName"`
	OverallStatus   string  `json:"overallStatus"`
	HealthScore     float64 `json:"healthScore"`
	EscalationLevel int     `json:"escalationLevel"`
}

// Store is the persistence contract for the engine and the read API.
// Uniqueness invariants are enforced at this layer, not just in callers:
// unique (store_id, date) for snapshots, one active alert per
// (store, kpi, day), and at most one non-failed call per escalation.
type Store interface {
	// Fleet reference data. The engine reads stores and KPI config; it
	// never mutates them outside onboarding helpers.
	UpsertStore(ctx context.Context, s *domain.Store) error
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
	ListActiveStores(ctx context.Context, organization string) ([]domain.Store, error)
	UpsertKpiDefinition(ctx context.Context, def *domain.KpiDefinition) error
	ListKpiDefinitions(ctx context.Context, organization string) ([]domain.KpiDefinition, error)
	UpsertThreshold(ctx context.Context, th *domain.KpiThreshold) error
	ListThresholds(ctx context.Context, organization string) ([]domain.KpiThreshold, error)

	// Metrics are append-only; corrections are new rows and the latest
	// RecordedAt per (store, kpi, date) wins.
	InsertMetric(ctx context.Context, m *domain.KpiMetric) error
	LatestMetrics(ctx context.Context, storeID, date string) ([]domain.KpiMetric, error)

	// Snapshots are upserts keyed on (store_id, date).
	UpsertSnapshot(ctx context.Context, snap *domain.HealthSnapshot) error
	GetSnapshot(ctx context.Context, storeID, date string) (*domain.HealthSnapshot, error)
	SnapshotHistory(ctx context.Context, storeID string, limit int) ([]domain.HealthSnapshot, error)

	// Alerts. CreateOrUpdateAlert returns created=false when an active
	// alert for the same (store, kpi, day) already existed; in that case
	// the existing row's severity and message have been refreshed.
	CreateOrUpdateAlert(ctx context.Context, a *domain.Alert) (alert *domain.Alert, created bool, err error)
	GetAlert(ctx context.Context, id int64) (*domain.Alert, error)
	ListAlerts(ctx context.Context, f AlertFilter) ([]domain.Alert, error)
	UpdateAlertStatus(ctx context.Context, id int64, status domain.AlertStatus, by string, at time.Time) error
	OverdueAlerts(ctx context.Context, now time.Time) ([]domain.Alert, error)

	// Tasks.
	CreateTask(ctx context.Context, t *domain.Task) (int64, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status domain.TaskStatus, at time.Time) error
	CompleteTasksForAlert(ctx context.Context, alertID int64, at time.Time) error
	OverdueTasks(ctx context.Context, now time.Time) ([]domain.Task, error)

	// Escalations. The escalation table is append-only; AppendEscalation
	// commits the audit row and advances the store's current level in one
	// transaction, failing with ErrStaleState when the level no longer
	// matches expectedFrom.
	AppendEscalation(ctx context.Context, e *domain.Escalation, expectedFrom domain.EscalationLevel) (int64, error)
	CurrentLevel(ctx context.Context, storeID string) (domain.EscalationLevel, error)
	ListEscalations(ctx context.Context, storeID string, limit int) ([]domain.Escalation, error)
	GetEscalation(ctx context.Context, id int64) (*domain.Escalation, error)
	AcknowledgeEscalation(ctx context.Context, id int64, by string, at time.Time) error

	// Outreach calls. CreateCallRecord fails with ErrDuplicate when a
	// non-failed record already exists for the escalation.
	CreateCallRecord(ctx context.Context, c *domain.CallRecord) (int64, error)
	UpdateCallRecord(ctx context.Context, c *domain.CallRecord) error
	GetCallRecord(ctx context.Context, id int64) (*domain.CallRecord, error)
	GetCallByExternalID(ctx context.Context, externalID string) (*domain.CallRecord, error)
	HasNonFailedCall(ctx context.Context, escalationID int64) (bool, error)
	ListCalls(ctx context.Context, storeID string, limit int) ([]domain.CallRecord, error)

	// Read API projections.
	Overview(ctx context.Context, organization, date string) (*FleetOverview, error)
	CriticalStores(ctx context.Context, organization, date string) ([]CriticalStore, error)

	Close() error
}
