package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samijaber1/storepulse/internal/domain"
	"github.com/samijaber1/storepulse/internal/storage"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedStore(t *testing.T, s *Store, id string) *domain.Store {
	t.Helper()
	st := &domain.Store{
		ID:           id,
		Code:         "S-" + id,
		Name:         "Store " + id,
		Organization: "acme-retail",
		Region:       "west",
		District:     "d1",
		Timezone:     "America/Los_Angeles",
		Status:       domain.StoreActive,
		Manager:      domain.Contact{Name: "Dana Park", Phone: "+15550100", Email: "dana@example.com"},
		DistrictManager: domain.Contact{
			Name: "Lee Ruiz", Phone: "+15550101",
		},
	}
	require.NoError(t, s.UpsertStore(context.Background(), st))
	return st
}

func TestStoreRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seeded := seedStore(t, s, "store-001")

	got, err := s.GetStore(ctx, "store-001")
	require.NoError(t, err)
	assert.Equal(t, seeded.Name, got.Name)
	assert.Equal(t, seeded.Manager, got.Manager)
	assert.Equal(t, seeded.DistrictManager.Name, got.DistrictManager.Name)
	assert.Equal(t, domain.StoreActive, got.Status)

	// Upsert with a new manager replaces in place.
	seeded.Manager.Name = "Sam Oduya"
	require.NoError(t, s.UpsertStore(ctx, seeded))
	got, err = s.GetStore(ctx, "store-001")
	require.NoError(t, err)
	assert.Equal(t, "Sam Oduya", got.Manager.Name)

	_, err = s.GetStore(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListActiveStoresFiltersByOrgAndStatus(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedStore(t, s, "store-001")
	closed := seedStore(t, s, "store-002")
	closed.Status = domain.StoreClosed
	require.NoError(t, s.UpsertStore(ctx, closed))
	other := seedStore(t, s, "store-003")
	other.Organization = "other-org"
	require.NoError(t, s.UpsertStore(ctx, other))

	stores, err := s.ListActiveStores(ctx, "acme-retail")
	require.NoError(t, err)
	require.Len(t, stores, 1)
	assert.Equal(t, "store-001", stores[0].ID)
}

func TestKpiConfigRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	def := &domain.KpiDefinition{
		ID: "kpi-1", Organization: "acme-retail", Code: "daily_sales",
		Name: "Daily Sales", Category: "sales", Unit: "USD", Active: true,
	}
	require.NoError(t, s.UpsertKpiDefinition(ctx, def))
	def.Name = "Daily Net Sales"
	require.NoError(t, s.UpsertKpiDefinition(ctx, def))

	defs, err := s.ListKpiDefinitions(ctx, "acme-retail")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "Daily Net Sales", defs[0].Name)

	th := &domain.KpiThreshold{
		Organization: "acme-retail", KpiCode: "daily_sales",
		GreenMin: -2, YellowMin: -8, RedThreshold: -8,
		ComparisonBasis: domain.BasisRolling4W,
	}
	require.NoError(t, s.UpsertThreshold(ctx, th))
	th.GreenMin = -3
	require.NoError(t, s.UpsertThreshold(ctx, th))

	// Store-level override is a distinct scope, not an update.
	override := &domain.KpiThreshold{
		Organization: "acme-retail", KpiCode: "daily_sales", StoreID: "store-001",
		GreenMin: -5, YellowMin: -10, RedThreshold: -15,
		ComparisonBasis: domain.BasisRolling4W, Priority: 1,
	}
	require.NoError(t, s.UpsertThreshold(ctx, override))

	ths, err := s.ListThresholds(ctx, "acme-retail")
	require.NoError(t, err)
	require.Len(t, ths, 2)
}

func TestLatestMetricsCorrectionWins(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedStore(t, s, "store-001")
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	first := &domain.KpiMetric{
		StoreID: "store-001", KpiCode: "daily_sales", Date: "2026-03-10",
		Value: 8200, ComparisonValue: 10000, ComparisonBasis: domain.BasisRolling4W,
		VariancePct: -18, Status: domain.StatusRed, RecordedAt: base,
	}
	require.NoError(t, s.InsertMetric(ctx, first))

	correction := &domain.KpiMetric{
		StoreID: "store-001", KpiCode: "daily_sales", Date: "2026-03-10",
		Value: 9700, ComparisonValue: 10000, ComparisonBasis: domain.BasisRolling4W,
		VariancePct: -3, Status: domain.StatusYellow, RecordedAt: base.Add(2 * time.Hour),
	}
	require.NoError(t, s.InsertMetric(ctx, correction))

	other := &domain.KpiMetric{
		StoreID: "store-001", KpiCode: "foot_traffic", Date: "2026-03-10",
		Value: 420, ComparisonValue: 400, ComparisonBasis: domain.BasisRolling4W,
		VariancePct: 5, Status: domain.StatusGreen, RecordedAt: base,
	}
	require.NoError(t, s.InsertMetric(ctx, other))

	metrics, err := s.LatestMetrics(ctx, "store-001", "2026-03-10")
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	assert.Equal(t, "daily_sales", metrics[0].KpiCode)
	assert.Equal(t, domain.StatusYellow, metrics[0].Status, "correction must win")
	assert.Equal(t, "foot_traffic", metrics[1].KpiCode)
}

func TestSnapshotUpsertKeyedOnStoreDate(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedStore(t, s, "store-001")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	snap := &domain.HealthSnapshot{
		StoreID: "store-001", Date: "2026-03-10",
		OverallStatus: domain.StatusYellow, HealthScore: 73.33,
		GreenCount: 2, YellowCount: 1, ActionRequired: true,
		Summary: "Daily Sales down 5.0% (yellow)", UpdatedAt: now,
	}
	require.NoError(t, s.UpsertSnapshot(ctx, snap))

	snap.OverallStatus = domain.StatusRed
	snap.HealthScore = 40
	snap.UpdatedAt = now.Add(time.Hour)
	require.NoError(t, s.UpsertSnapshot(ctx, snap))

	got, err := s.GetSnapshot(ctx, "store-001", "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRed, got.OverallStatus)
	assert.Equal(t, 40.0, got.HealthScore)

	hist, err := s.SnapshotHistory(ctx, "store-001", 10)
	require.NoError(t, err)
	assert.Len(t, hist, 1, "same key must stay one row")
}

func newAlert(storeID, kpi, day string, now time.Time) *domain.Alert {
	return &domain.Alert{
		StoreID: storeID, KpiCode: kpi, AlertDate: now, Day: day,
		Severity: domain.SeverityRed, Status: domain.AlertActive,
		Title: "Daily Sales 18.0% below target", Message: "details",
		RequiresAck: true, ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestAlertDedupePerStoreKpiDay(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedStore(t, s, "store-001")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	first, created, err := s.CreateOrUpdateAlert(ctx, newAlert("store-001", "daily_sales", "2026-03-10", now))
	require.NoError(t, err)
	assert.True(t, created)

	dup := newAlert("store-001", "daily_sales", "2026-03-10", now.Add(time.Hour))
	dup.Title = "Daily Sales 22.0% below target"
	second, created, err := s.CreateOrUpdateAlert(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, dup.Title, second.Title, "refresh must update the message")

	// Different day opens a fresh alert.
	_, created, err = s.CreateOrUpdateAlert(ctx, newAlert("store-001", "daily_sales", "2026-03-11", now.Add(24*time.Hour)))
	require.NoError(t, err)
	assert.True(t, created)

	// Resolving frees the slot for the same day.
	require.NoError(t, s.UpdateAlertStatus(ctx, first.ID, domain.AlertResolved, "dana", now.Add(2*time.Hour)))
	_, created, err = s.CreateOrUpdateAlert(ctx, newAlert("store-001", "daily_sales", "2026-03-10", now.Add(3*time.Hour)))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestAlertDedupeUnderConcurrentRaise(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedStore(t, s, "store-001")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	// Two passes race to raise the same (store, kpi, day). The partial
	// unique index makes one the creator; the other refreshes.
	var wg sync.WaitGroup
	results := make([]bool, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := s.CreateOrUpdateAlert(ctx, newAlert("store-001", "daily_sales", "2026-03-10", now))
			results[i] = created
			errs[i] = err
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, results[0], results[1], "exactly one raiser creates the row")

	alerts, err := s.ListAlerts(ctx, storage.AlertFilter{
		StoreID:  "store-001",
		Statuses: []domain.AlertStatus{domain.AlertActive, domain.AlertAcknowledged},
	})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestAlertLifecycleAndOverdue(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedStore(t, s, "store-001")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	alert, _, err := s.CreateOrUpdateAlert(ctx, newAlert("store-001", "daily_sales", "2026-03-10", now))
	require.NoError(t, err)

	require.NoError(t, s.UpdateAlertStatus(ctx, alert.ID, domain.AlertAcknowledged, "dana", now.Add(time.Hour)))
	got, err := s.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertAcknowledged, got.Status)
	assert.Equal(t, "dana", got.AcknowledgedBy)
	require.NotNil(t, got.AcknowledgedAt)

	overdue, err := s.OverdueAlerts(ctx, now.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	overdue, err = s.OverdueAlerts(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, overdue)

	assert.ErrorIs(t, s.UpdateAlertStatus(ctx, 9999, domain.AlertResolved, "", now), storage.ErrNotFound)
}

func TestListAlertsFilter(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedStore(t, s, "store-001")
	seedStore(t, s, "store-002")
	now := time.Now().UTC()

	_, _, err := s.CreateOrUpdateAlert(ctx, newAlert("store-001", "daily_sales", "2026-03-10", now))
	require.NoError(t, err)
	_, _, err = s.CreateOrUpdateAlert(ctx, newAlert("store-002", "foot_traffic", "2026-03-10", now))
	require.NoError(t, err)

	alerts, err := s.ListAlerts(ctx, storage.AlertFilter{StoreID: "store-001"})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "daily_sales", alerts[0].KpiCode)

	alerts, err = s.ListAlerts(ctx, storage.AlertFilter{Statuses: []domain.AlertStatus{domain.AlertActive}, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestTaskLifecycle(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedStore(t, s, "store-001")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	alert, _, err := s.CreateOrUpdateAlert(ctx, newAlert("store-001", "daily_sales", "2026-03-10", now))
	require.NoError(t, err)

	task := &domain.Task{
		AlertID: alert.ID, StoreID: "store-001", KpiCode: "daily_sales",
		Type: domain.TaskReview, Priority: 1, Title: "Investigate Daily Sales variance",
		AssignedRole: "store_manager", Status: domain.TaskPending, DueDate: now.Add(24 * time.Hour),
	}
	id, err := s.CreateTask(ctx, task)
	require.NoError(t, err)
	require.NotZero(t, id)

	tasks, err := s.ListTasks(ctx, storage.TaskFilter{StoreID: "store-001", Role: "store_manager"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	overdue, err := s.OverdueTasks(ctx, now.Add(25*time.Hour))
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	require.NoError(t, s.CompleteTasksForAlert(ctx, alert.ID, now.Add(2*time.Hour)))
	tasks, err = s.ListTasks(ctx, storage.TaskFilter{StoreID: "store-001"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskCompleted, tasks[0].Status)
	require.NotNil(t, tasks[0].CompletedAt)

	overdue, err = s.OverdueTasks(ctx, now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, overdue)
}

func newEscalation(storeID string, from, to domain.EscalationLevel, at time.Time) *domain.Escalation {
	return &domain.Escalation{
		StoreID: storeID, FromLevel: from, ToLevel: to,
		Reason: "Daily Sales has remained in RED status for 48 hours.",
		TriggeredBy: domain.TriggeredByThreshold, Action: domain.ActionSendAlert,
		EscalatedAt: at, ToRole: "store_manager", Status: domain.EscalationPending,
	}
}

func TestAppendEscalationCAS(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedStore(t, s, "store-001")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	level, err := s.CurrentLevel(ctx, "store-001")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelNormal, level)

	id, err := s.AppendEscalation(ctx, newEscalation("store-001", 0, 2, now), 0)
	require.NoError(t, err)
	require.NotZero(t, id)

	level, err = s.CurrentLevel(ctx, "store-001")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelAlertActive, level)

	// Stale expectations must not commit or move the level.
	_, err = s.AppendEscalation(ctx, newEscalation("store-001", 0, 1, now.Add(time.Minute)), 0)
	assert.ErrorIs(t, err, storage.ErrStaleState)
	level, err = s.CurrentLevel(ctx, "store-001")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelAlertActive, level)

	escs, err := s.ListEscalations(ctx, "store-001", 10)
	require.NoError(t, err)
	require.Len(t, escs, 1, "failed CAS must not leave an audit row")

	got, err := s.GetEscalation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.LevelAlertActive, got.ToLevel)
	assert.Equal(t, domain.TriggeredByThreshold, got.TriggeredBy)
}

func TestAcknowledgeEscalation(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedStore(t, s, "store-001")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	id, err := s.AppendEscalation(ctx, newEscalation("store-001", 0, 2, now), 0)
	require.NoError(t, err)

	require.NoError(t, s.AcknowledgeEscalation(ctx, id, "dana", now.Add(time.Hour)))

	got, err := s.GetEscalation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.EscalationAcknowledged, got.Status)
	assert.Equal(t, "dana", got.AcknowledgedBy)
	require.NotNil(t, got.AcknowledgedAt)

	// Only pending escalations can be acknowledged.
	err = s.AcknowledgeEscalation(ctx, id, "lee", now.Add(2*time.Hour))
	require.Error(t, err)
	got, err = s.GetEscalation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "dana", got.AcknowledgedBy)

	err = s.AcknowledgeEscalation(ctx, 9999, "dana", now)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCallRecordUniqueUnderConcurrentTriggers(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedStore(t, s, "store-001")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	escID, err := s.AppendEscalation(ctx, newEscalation("store-001", 0, 3, now), 0)
	require.NoError(t, err)

	// Two triggers race to own the escalation's call. The partial unique
	// index lets exactly one insert through.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.CreateCallRecord(ctx, &domain.CallRecord{
				StoreID: "store-001", EscalationID: escID, CallType: domain.StatusRed,
				Status: domain.CallScheduled, RecipientName: "Dana Park", RecipientPhone: "+15550100",
			})
		}(i)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, storage.ErrDuplicate):
			losers++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)

	has, err := s.HasNonFailedCall(ctx, escID)
	require.NoError(t, err)
	assert.True(t, has)

	calls, err := s.ListCalls(ctx, "store-001", 10)
	require.NoError(t, err)
	assert.Len(t, calls, 1)
}

func TestCallRecordOnePerEscalation(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedStore(t, s, "store-001")
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	escID, err := s.AppendEscalation(ctx, newEscalation("store-001", 0, 3, now), 0)
	require.NoError(t, err)

	call := &domain.CallRecord{
		StoreID: "store-001", EscalationID: escID, CallType: domain.StatusRed,
		Status: domain.CallScheduled, RecipientName: "Dana Park", RecipientPhone: "+15550100",
		Script: "Hello Dana Park...",
	}
	id, err := s.CreateCallRecord(ctx, call)
	require.NoError(t, err)
	call.ID = id

	_, err = s.CreateCallRecord(ctx, &domain.CallRecord{
		StoreID: "store-001", EscalationID: escID, CallType: domain.StatusRed,
		Status: domain.CallScheduled,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	has, err := s.HasNonFailedCall(ctx, escID)
	require.NoError(t, err)
	assert.True(t, has)

	// A failed call frees the slot for a retry.
	call.Status = domain.CallFailed
	require.NoError(t, s.UpdateCallRecord(ctx, call))
	has, err = s.HasNonFailedCall(ctx, escID)
	require.NoError(t, err)
	assert.False(t, has)

	retry := &domain.CallRecord{
		StoreID: "store-001", EscalationID: escID, CallType: domain.StatusRed,
		Status: domain.CallScheduled,
	}
	retryID, err := s.CreateCallRecord(ctx, retry)
	require.NoError(t, err)
	retry.ID = retryID
	retry.Status = domain.CallInProgress
	retry.ExternalCallID = "ext-77"
	retry.InitiatedAt = &now
	require.NoError(t, s.UpdateCallRecord(ctx, retry))

	byExt, err := s.GetCallByExternalID(ctx, "ext-77")
	require.NoError(t, err)
	assert.Equal(t, retryID, byExt.ID)
	require.NotNil(t, byExt.InitiatedAt)

	calls, err := s.ListCalls(ctx, "store-001", 10)
	require.NoError(t, err)
	assert.Len(t, calls, 2)
}

func TestOverviewAndCriticalStores(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	seedStore(t, s, "store-001")
	seedStore(t, s, "store-002")
	seedStore(t, s, "store-003")

	snaps := []domain.HealthSnapshot{
		{StoreID: "store-001", Date: "2026-03-10", OverallStatus: domain.StatusRed, HealthScore: 38, ActionRequired: true, UpdatedAt: now},
		{StoreID: "store-002", Date: "2026-03-10", OverallStatus: domain.StatusGreen, HealthScore: 100, UpdatedAt: now},
		{StoreID: "store-003", Date: "2026-03-10", OverallStatus: domain.StatusYellow, HealthScore: 80, ActionRequired: true, UpdatedAt: now},
	}
	for i := range snaps {
		require.NoError(t, s.UpsertSnapshot(ctx, &snaps[i]))
	}

	_, err := s.AppendEscalation(ctx, newEscalation("store-001", 0, 2, now), 0)
	require.NoError(t, err)
	_, _, err = s.CreateOrUpdateAlert(ctx, newAlert("store-001", "daily_sales", "2026-03-10", now))
	require.NoError(t, err)

	ov, err := s.Overview(ctx, "acme-retail", "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, 3, ov.TotalStores)
	assert.Equal(t, 1, ov.GreenStores)
	assert.Equal(t, 1, ov.YellowStores)
	assert.Equal(t, 1, ov.RedStores)
	assert.Equal(t, 2, ov.ActionRequired)
	assert.Equal(t, 1, ov.ActiveAlerts)
	assert.InDelta(t, 72.67, ov.AverageScore, 0.01)
	require.Len(t, ov.CriticalStores, 1)
	assert.Equal(t, "store-001", ov.CriticalStores[0].StoreID)
	assert.Equal(t, 2, ov.CriticalStores[0].EscalationLevel)

	critical, err := s.CriticalStores(ctx, "other-org", "2026-03-10")
	require.NoError(t, err)
	assert.Empty(t, critical)
}
