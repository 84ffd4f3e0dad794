package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samijaber1/storepulse/internal/domain"
	"github.com/samijaber1/storepulse/internal/engine"
	"github.com/samijaber1/storepulse/internal/outreach"
	"github.com/samijaber1/storepulse/internal/rules"
	"github.com/samijaber1/storepulse/internal/storage"
	"github.com/samijaber1/storepulse/internal/storage/sqlite"
)

func setupServer(t *testing.T) (*Server, storage.Store) {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ruleSet := []domain.EscalationRule{{
		ID: "red-48h", Organization: "acme-retail",
		Trigger: domain.TriggerStatusRed, HoldFor: 48 * time.Hour,
		FromLevel: 0, ToLevel: 2, Action: domain.ActionSendAlert, Active: true,
	}}
	eng := engine.New(store, rules.NewEvaluator(ruleSet), outreach.NewLogDialer(), engine.Options{
		Organization: "acme-retail",
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, store.UpsertStore(ctx, &domain.Store{
		ID: "store-001", Code: "S001", Name: "Downtown Flagship",
		Organization: "acme-retail", Timezone: "UTC", Status: domain.StoreActive,
		Manager: domain.Contact{Name: "Dana Park", Phone: "+15550100"},
	}))
	require.NoError(t, store.UpsertKpiDefinition(ctx, &domain.KpiDefinition{
		ID: "kpi-1", Organization: "acme-retail", Code: "daily_sales",
		Name: "Daily Sales", Category: "sales", Unit: "USD", Active: true,
	}))
	require.NoError(t, store.UpsertThreshold(ctx, &domain.KpiThreshold{
		Organization: "acme-retail", KpiCode: "daily_sales",
		GreenMin: -2, YellowMin: -8, RedThreshold: -8,
		ComparisonBasis: domain.BasisRolling4W,
	}))

	return NewServer(store, eng, "acme-retail", ":0", func() int { return len(ruleSet) }), store
}

func doRequest(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var ready ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.True(t, ready.Ready)
	assert.Equal(t, 1, ready.RuleCount)
}

func TestReadyFailsWithoutRules(t *testing.T) {
	srv, _ := setupServer(t)
	srv.ruleCount = func() int { return 0 }

	rec := doRequest(t, srv, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitMetricAndStoreView(t *testing.T) {
	srv, _ := setupServer(t)

	sub := domain.MetricSubmission{
		StoreID: "store-001", KpiCode: "daily_sales", Date: "2026-03-10",
		Value: 8200, ComparisonValue: 10000,
		ComparisonBasis: domain.BasisRolling4W, HasBaseline: true,
	}
	rec := doRequest(t, srv, http.MethodPost, "/v1/metrics", sub)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var snap domain.HealthSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, domain.StatusRed, snap.OverallStatus)
	assert.Equal(t, 1, snap.RedCount)

	rec = doRequest(t, srv, http.MethodGet, "/v1/stores/store-001?date=2026-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view StoreResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "Downtown Flagship", view.Store.Name)
	assert.Equal(t, 0, view.EscalationLevel)
	require.NotNil(t, view.Snapshot)
	assert.Equal(t, domain.StatusRed, view.Snapshot.OverallStatus)
}

func TestSubmitMetricValidation(t *testing.T) {
	srv, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/metrics", domain.MetricSubmission{
		StoreID: "store-001", KpiCode: "daily_sales", Date: "not-a-date",
		ComparisonBasis: domain.BasisRolling4W,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/metrics", domain.MetricSubmission{
		StoreID: "ghost", KpiCode: "daily_sales", Date: "2026-03-10",
		ComparisonBasis: domain.BasisRolling4W,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStoreNotFound(t *testing.T) {
	srv, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/v1/stores/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Contains(t, errResp.Error, "ghost")
}

func TestAlertListAndAcknowledge(t *testing.T) {
	srv, _ := setupServer(t)

	sub := domain.MetricSubmission{
		StoreID: "store-001", KpiCode: "daily_sales", Date: "2026-03-10",
		Value: 8200, ComparisonValue: 10000,
		ComparisonBasis: domain.BasisRolling4W, HasBaseline: true,
	}
	rec := doRequest(t, srv, http.MethodPost, "/v1/metrics", sub)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/v1/alerts?storeId=store-001&status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []AlertView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "red", alerts[0].Severity)
	assert.True(t, alerts[0].RequiresAck)

	rec = doRequest(t, srv, http.MethodPost,
		"/v1/alerts/"+itoa(alerts[0].ID)+"/acknowledge", AckRequest{By: "dana"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Second acknowledge conflicts.
	rec = doRequest(t, srv, http.MethodPost,
		"/v1/alerts/"+itoa(alerts[0].ID)+"/acknowledge", AckRequest{By: "lee"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTaskListAndStatus(t *testing.T) {
	srv, _ := setupServer(t)

	sub := domain.MetricSubmission{
		StoreID: "store-001", KpiCode: "daily_sales", Date: "2026-03-10",
		Value: 8200, ComparisonValue: 10000,
		ComparisonBasis: domain.BasisRolling4W, HasBaseline: true,
	}
	rec := doRequest(t, srv, http.MethodPost, "/v1/metrics", sub)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/v1/tasks?storeId=store-001&status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []TaskView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.NotEmpty(t, tasks)

	rec = doRequest(t, srv, http.MethodPost,
		"/v1/tasks/"+itoa(tasks[0].ID)+"/status", TaskStatusRequest{Status: "in_progress"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodPost,
		"/v1/tasks/"+itoa(tasks[0].ID)+"/status", TaskStatusRequest{Status: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverviewEndpoint(t *testing.T) {
	srv, _ := setupServer(t)

	sub := domain.MetricSubmission{
		StoreID: "store-001", KpiCode: "daily_sales", Date: "2026-03-10",
		Value: 9900, ComparisonValue: 10000,
		ComparisonBasis: domain.BasisRolling4W, HasBaseline: true,
	}
	rec := doRequest(t, srv, http.MethodPost, "/v1/metrics", sub)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/v1/fleet/overview?date=2026-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ov storage.FleetOverview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ov))
	assert.Equal(t, 1, ov.TotalStores)
	assert.Equal(t, 1, ov.GreenStores)
}

func TestCallWebhookNotFound(t *testing.T) {
	srv, _ := setupServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/v1/webhooks/calls/status",
		CallStatusWebhook{CallID: "ext-unknown", Status: "completed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/v1/webhooks/calls/status",
		CallStatusWebhook{Status: "completed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
