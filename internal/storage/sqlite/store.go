package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/samijaber1/storepulse/internal/domain"
	"github.com/samijaber1/storepulse/internal/storage"
)

// Store implements storage.Store using SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite storage with the given database path
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize writers; the engine runs store passes concurrently.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// isConstraintErr reports whether err is a uniqueness violation.
func isConstraintErr(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

// UpsertStore inserts or updates a store by id
func (s *Store) UpsertStore(ctx context.Context, st *domain.Store) error {
	query := `
		INSERT INTO stores (
			id, code, name, organization, region, district, timezone, status,
			manager_name, manager_phone, manager_email,
			district_manager_name, district_manager_phone, district_manager_email,
			regional_manager_name, regional_manager_phone, regional_manager_email
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			organization = excluded.organization,
			region = excluded.region,
			district = excluded.district,
			timezone = excluded.timezone,
			status = excluded.status,
			manager_name = excluded.manager_name,
			manager_phone = excluded.manager_phone,
			manager_email = excluded.manager_email,
			district_manager_name = excluded.district_manager_name,
			district_manager_phone = excluded.district_manager_phone,
			district_manager_email = excluded.district_manager_email,
			regional_manager_name = excluded.regional_manager_name,
			regional_manager_phone = excluded.regional_manager_phone,
			regional_manager_email = excluded.regional_manager_email,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.ExecContext(ctx, query,
		st.ID, st.Code, st.Name, st.Organization, st.Region, st.District, st.Timezone, string(st.Status),
		st.Manager.Name, st.Manager.Phone, st.Manager.Email,
		st.DistrictManager.Name, st.DistrictManager.Phone, st.DistrictManager.Email,
		st.RegionalManager.Name, st.RegionalManager.Phone, st.RegionalManager.Email,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert store: %w", err)
	}
	return nil
}

const storeColumns = `id, code, name, organization, region, district, timezone, status,
	manager_name, manager_phone, manager_email,
	district_manager_name, district_manager_phone, district_manager_email,
	regional_manager_name, regional_manager_phone, regional_manager_email`

func scanStore(row interface{ Scan(...any) error }) (*domain.Store, error) {
	var st domain.Store
	var status string
	err := row.Scan(
		&st.ID, &st.Code, &st.Name, &st.Organization, &st.Region, &st.District, &st.Timezone, &status,
		&st.Manager.Name, &st.Manager.Phone, &st.Manager.Email,
		&st.DistrictManager.Name, &st.DistrictManager.Phone, &st.DistrictManager.Email,
		&st.RegionalManager.Name, &st.RegionalManager.Phone, &st.RegionalManager.Email,
	)
	if err != nil {
		return nil, err
	}
	st.Status = domain.StoreStatus(status)
	return &st, nil
}

// GetStore fetches one store by id
func (s *Store) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+storeColumns+" FROM stores WHERE id = ?", storeID)
	st, err := scanStore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get store: %w", err)
	}
	return st, nil
}

// ListActiveStores returns all active stores in an organization
func (s *Store) ListActiveStores(ctx context.Context, organization string) ([]domain.Store, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+storeColumns+" FROM stores WHERE organization = ? AND status = 'active' ORDER BY code",
		organization)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer rows.Close()

	var out []domain.Store
	for rows.Next() {
		st, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// UpsertKpiDefinition inserts or updates a KPI definition by id
func (s *Store) UpsertKpiDefinition(ctx context.Context, def *domain.KpiDefinition) error {
	query := `
		INSERT INTO kpi_definitions (id, organization, code, name, category, unit, calc_method, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization = excluded.organization,
			code = excluded.code,
			name = excluded.name,
			category = excluded.category,
			unit = excluded.unit,
			calc_method = excluded.calc_method,
			active = excluded.active,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query,
		def.ID, def.Organization, def.Code, def.Name, def.Category, def.Unit, def.CalcMethod, def.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert kpi definition: %w", err)
	}
	return nil
}

// ListKpiDefinitions returns all KPI definitions for an organization
func (s *Store) ListKpiDefinitions(ctx context.Context, organization string) ([]domain.KpiDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, organization, code, name, category, unit, calc_method, active FROM kpi_definitions WHERE organization = ? ORDER BY code",
		organization)
	if err != nil {
		return nil, fmt.Errorf("failed to list kpi definitions: %w", err)
	}
	defer rows.Close()

	var out []domain.KpiDefinition
	for rows.Next() {
		var d domain.KpiDefinition
		if err := rows.Scan(&d.ID, &d.Organization, &d.Code, &d.Name, &d.Category, &d.Unit, &d.CalcMethod, &d.Active); err != nil {
			return nil, fmt.Errorf("failed to scan kpi definition: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertThreshold inserts or updates a threshold for its (org, kpi, store) scope
func (s *Store) UpsertThreshold(ctx context.Context, th *domain.KpiThreshold) error {
	query := `
		INSERT INTO kpi_thresholds (organization, kpi_code, store_id, green_min, yellow_min, red_threshold, comparison_basis, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization, kpi_code, store_id) DO UPDATE SET
			green_min = excluded.green_min,
			yellow_min = excluded.yellow_min,
			red_threshold = excluded.red_threshold,
			comparison_basis = excluded.comparison_basis,
			priority = excluded.priority,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query,
		th.Organization, th.KpiCode, th.StoreID, th.GreenMin, th.YellowMin, th.RedThreshold,
		string(th.ComparisonBasis), th.Priority)
	if err != nil {
		return fmt.Errorf("failed to upsert threshold: %w", err)
	}
	return nil
}

// ListThresholds returns all thresholds for an organization
func (s *Store) ListThresholds(ctx context.Context, organization string) ([]domain.KpiThreshold, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, organization, kpi_code, store_id, green_min, yellow_min, red_threshold, comparison_basis, priority FROM kpi_thresholds WHERE organization = ?",
		organization)
	if err != nil {
		return nil, fmt.Errorf("failed to list thresholds: %w", err)
	}
	defer rows.Close()

	var out []domain.KpiThreshold
	for rows.Next() {
		var th domain.KpiThreshold
		var basis string
		if err := rows.Scan(&th.ID, &th.Organization, &th.KpiCode, &th.StoreID,
			&th.GreenMin, &th.YellowMin, &th.RedThreshold, &basis, &th.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan threshold: %w", err)
		}
		th.ComparisonBasis = domain.ComparisonBasis(basis)
		out = append(out, th)
	}
	return out, rows.Err()
}

// InsertMetric appends one classified metric row
func (s *Store) InsertMetric(ctx context.Context, m *domain.KpiMetric) error {
	query := `
		INSERT INTO kpi_metrics (store_id, kpi_code, date, value, comparison_value, comparison_basis, variance_pct, status, status_reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		m.StoreID, m.KpiCode, m.Date, m.Value, m.ComparisonValue, string(m.ComparisonBasis),
		m.VariancePct, string(m.Status), m.StatusReason, m.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert metric: %w", err)
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// LatestMetrics returns the winning (latest recorded, highest id) row per
// KPI for a store and date.
func (s *Store) LatestMetrics(ctx context.Context, storeID, date string) ([]domain.KpiMetric, error) {
	query := `
		SELECT id, store_id, kpi_code, date, value, comparison_value, comparison_basis, variance_pct, status, status_reason, recorded_at
		FROM kpi_metrics m
		WHERE store_id = ? AND date = ?
		  AND id = (
			SELECT id FROM kpi_metrics
			WHERE store_id = m.store_id AND kpi_code = m.kpi_code AND date = m.date
			ORDER BY recorded_at DESC, id DESC LIMIT 1
		  )
		ORDER BY kpi_code
	`
	rows, err := s.db.QueryContext(ctx, query, storeID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.KpiMetric
	for rows.Next() {
		var m domain.KpiMetric
		var basis, status string
		if err := rows.Scan(&m.ID, &m.StoreID, &m.KpiCode, &m.Date, &m.Value, &m.ComparisonValue,
			&basis, &m.VariancePct, &status, &m.StatusReason, &m.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		m.ComparisonBasis = domain.ComparisonBasis(basis)
		m.Status = domain.MetricStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertSnapshot inserts or replaces the health row for (store, date)
func (s *Store) UpsertSnapshot(ctx context.Context, snap *domain.HealthSnapshot) error {
	query := `
		INSERT INTO health_snapshots (
			store_id, date, overall_status, health_score,
			green_count, yellow_count, red_count, unknown_count,
			escalation_level, action_required, summary, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id, date) DO UPDATE SET
			overall_status = excluded.overall_status,
			health_score = excluded.health_score,
			green_count = excluded.green_count,
			yellow_count = excluded.yellow_count,
			red_count = excluded.red_count,
			unknown_count = excluded.unknown_count,
			escalation_level = excluded.escalation_level,
			action_required = excluded.action_required,
			summary = excluded.summary,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		snap.StoreID, snap.Date, string(snap.OverallStatus), snap.HealthScore,
		snap.GreenCount, snap.YellowCount, snap.RedCount, snap.UnknownCount,
		int(snap.EscalationLevel), snap.ActionRequired, snap.Summary, snap.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `store_id, date, overall_status, health_score,
	green_count, yellow_count, red_count, unknown_count,
	escalation_level, action_required, summary, updated_at`

func scanSnapshot(row interface{ Scan(...any) error }) (*domain.HealthSnapshot, error) {
	var snap domain.HealthSnapshot
	var status string
	var level int
	err := row.Scan(&snap.StoreID, &snap.Date, &status, &snap.HealthScore,
		&snap.GreenCount, &snap.YellowCount, &snap.RedCount, &snap.UnknownCount,
		&level, &snap.ActionRequired, &snap.Summary, &snap.UpdatedAt)
	if err != nil {
		return nil, err
	}
	snap.OverallStatus = domain.MetricStatus(status)
	snap.EscalationLevel = domain.EscalationLevel(level)
	return &snap, nil
}

// GetSnapshot fetches the health row for (store, date)
func (s *Store) GetSnapshot(ctx context.Context, storeID, date string) (*domain.HealthSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM health_snapshots WHERE store_id = ? AND date = ?",
		storeID, date)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

// SnapshotHistory returns a store's most recent snapshots, newest first
func (s *Store) SnapshotHistory(ctx context.Context, storeID string, limit int) ([]domain.HealthSnapshot, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+snapshotColumns+" FROM health_snapshots WHERE store_id = ? ORDER BY date DESC LIMIT ?",
		storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot history: %w", err)
	}
	defer rows.Close()

	var out []domain.HealthSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

const alertColumns = `id, store_id, kpi_code, alert_date, day, severity, status, title, message,
	requires_ack, acknowledged_at, acknowledged_by, resolved_at, expires_at`

func scanAlert(row interface{ Scan(...any) error }) (*domain.Alert, error) {
	var a domain.Alert
	var severity, status string
	var ackAt, resolvedAt sql.NullTime
	err := row.Scan(&a.ID, &a.StoreID, &a.KpiCode, &a.AlertDate, &a.Day, &severity, &status,
		&a.Title, &a.Message, &a.RequiresAck, &ackAt, &a.AcknowledgedBy, &resolvedAt, &a.ExpiresAt)
	if err != nil {
		return nil, err
	}
	a.Severity = domain.AlertSeverity(severity)
	a.Status = domain.AlertStatus(status)
	if ackAt.Valid {
		a.AcknowledgedAt = &ackAt.Time
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	return &a, nil
}

// CreateOrUpdateAlert creates an alert, or refreshes the open alert for
// the same (store, kpi, day). The partial unique index is the backstop
// against two passes inserting concurrently: the loser's insert fails
// the constraint and is retried as an update.
func (s *Store) CreateOrUpdateAlert(ctx context.Context, a *domain.Alert) (*domain.Alert, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := s.openAlert(ctx, a.StoreID, a.KpiCode, a.Day)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, false, err
		}

		if existing != nil {
			query := `
				UPDATE alerts SET severity = ?, title = ?, message = ?, requires_ack = ?
				WHERE id = ?
			`
			if _, err := s.db.ExecContext(ctx, query,
				string(a.Severity), a.Title, a.Message, a.RequiresAck, existing.ID); err != nil {
				return nil, false, fmt.Errorf("failed to update alert: %w", err)
			}
			existing.Severity = a.Severity
			existing.Title = a.Title
			existing.Message = a.Message
			existing.RequiresAck = a.RequiresAck
			return existing, false, nil
		}

		query := `
			INSERT INTO alerts (store_id, kpi_code, alert_date, day, severity, status, title, message, requires_ack, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		res, err := s.db.ExecContext(ctx, query,
			a.StoreID, a.KpiCode, a.AlertDate, a.Day, string(a.Severity), string(a.Status),
			a.Title, a.Message, a.RequiresAck, a.ExpiresAt)
		if isConstraintErr(err) {
			// Lost the race; loop to pick up the winner's row.
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to insert alert: %w", err)
		}

		created := *a
		created.ID, _ = res.LastInsertId()
		return &created, true, nil
	}
	return nil, false, fmt.Errorf("alert upsert for %s/%s/%s did not converge", a.StoreID, a.KpiCode, a.Day)
}

func (s *Store) openAlert(ctx context.Context, storeID, kpiCode, day string) (*domain.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE store_id = ? AND kpi_code = ? AND day = ? AND status IN ('active', 'acknowledged')",
		storeID, kpiCode, day)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open alert: %w", err)
	}
	return a, nil
}

// GetAlert fetches one alert by id
func (s *Store) GetAlert(ctx context.Context, id int64) (*domain.Alert, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return a, nil
}

// ListAlerts returns alerts matching the filter, newest first
func (s *Store) ListAlerts(ctx context.Context, f storage.AlertFilter) ([]domain.Alert, error) {
	var where []string
	var args []any

	if f.StoreID != "" {
		where = append(where, "store_id = ?")
		args = append(args, f.StoreID)
	}
	if f.KpiCode != "" {
		where = append(where, "kpi_code = ?")
		args = append(args, f.KpiCode)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := "SELECT " + alertColumns + " FROM alerts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateAlertStatus transitions an alert's lifecycle state
func (s *Store) UpdateAlertStatus(ctx context.Context, id int64, status domain.AlertStatus, by string, at time.Time) error {
	var query string
	var args []any
	switch status {
	case domain.AlertAcknowledged:
		query = "UPDATE alerts SET status = ?, acknowledged_by = ?, acknowledged_at = ? WHERE id = ?"
		args = []any{string(status), by, at, id}
	case domain.AlertResolved:
		query = "UPDATE alerts SET status = ?, resolved_at = ? WHERE id = ?"
		args = []any{string(status), at, id}
	default:
		query = "UPDATE alerts SET status = ? WHERE id = ?"
		args = []any{string(status), id}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// OverdueAlerts returns open alerts past their SLA deadline
func (s *Store) OverdueAlerts(ctx context.Context, now time.Time) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE status IN ('active', 'acknowledged') AND expires_at < ? ORDER BY expires_at",
		now)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

const taskColumns = `id, alert_id, store_id, kpi_code, type, priority, title, description,
	assigned_role, assigned_name, assigned_contact, status, due_date, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var t domain.Task
	var taskType, status string
	var completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.AlertID, &t.StoreID, &t.KpiCode, &taskType, &t.Priority,
		&t.Title, &t.Description, &t.AssignedRole, &t.AssignedName, &t.AssignedContact,
		&status, &t.DueDate, &completedAt)
	if err != nil {
		return nil, err
	}
	t.Type = domain.TaskType(taskType)
	t.Status = domain.TaskStatus(status)
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// CreateTask inserts one task and returns its id
func (s *Store) CreateTask(ctx context.Context, t *domain.Task) (int64, error) {
	query := `
		INSERT INTO tasks (alert_id, store_id, kpi_code, type, priority, title, description, assigned_role, assigned_name, assigned_contact, status, due_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		t.AlertID, t.StoreID, t.KpiCode, string(t.Type), t.Priority, t.Title, t.Description,
		t.AssignedRole, t.AssignedName, t.AssignedContact, string(t.Status), t.DueDate)
	if err != nil {
		return 0, fmt.Errorf("failed to create task: %w", err)
	}
	return res.LastInsertId()
}

// ListTasks returns tasks matching the filter, newest first
func (s *Store) ListTasks(ctx context.Context, f storage.TaskFilter) ([]domain.Task, error) {
	var where []string
	var args []any

	if f.StoreID != "" {
		where = append(where, "store_id = ?")
		args = append(args, f.StoreID)
	}
	if f.Role != "" {
		where = append(where, "assigned_role = ?")
		args = append(args, f.Role)
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// UpdateTaskStatus transitions a task's lifecycle state
func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, status domain.TaskStatus, at time.Time) error {
	var res sql.Result
	var err error
	if status == domain.TaskCompleted {
		res, err = s.db.ExecContext(ctx, "UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?", string(status), at, id)
	} else {
		res, err = s.db.ExecContext(ctx, "UPDATE tasks SET status = ? WHERE id = ?", string(status), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CompleteTasksForAlert completes all open tasks tied to an alert
func (s *Store) CompleteTasksForAlert(ctx context.Context, alertID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = 'completed', completed_at = ? WHERE alert_id = ? AND status IN ('pending', 'in_progress')",
		at, alertID)
	if err != nil {
		return fmt.Errorf("failed to complete tasks: %w", err)
	}
	return nil
}

// OverdueTasks returns open tasks past their due time
func (s *Store) OverdueTasks(ctx context.Context, now time.Time) ([]domain.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE status IN ('pending', 'in_progress') AND due_date < ? ORDER BY due_date",
		now)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

const escalationColumns = `id, store_id, alert_id, task_id, from_level, to_level, reason, triggered_by, action,
	escalated_at, to_role, to_name, to_contact, status, acknowledged_at, acknowledged_by, resolution, resolved_at`

func scanEscalation(row interface{ Scan(...any) error }) (*domain.Escalation, error) {
	var e domain.Escalation
	var from, to int
	var triggeredBy, action, status string
	var acknowledgedAt, resolvedAt sql.NullTime
	err := row.Scan(&e.ID, &e.StoreID, &e.AlertID, &e.TaskID, &from, &to, &e.Reason,
		&triggeredBy, &action, &e.EscalatedAt, &e.ToRole, &e.ToName, &e.ToContact,
		&status, &acknowledgedAt, &e.AcknowledgedBy, &e.Resolution, &resolvedAt)
	if err != nil {
		return nil, err
	}
	e.FromLevel = domain.EscalationLevel(from)
	e.ToLevel = domain.EscalationLevel(to)
	e.TriggeredBy = domain.EscalationTrigger(triggeredBy)
	e.Action = domain.RuleAction(action)
	e.Status = domain.EscalationStatus(status)
	if acknowledgedAt.Valid {
		e.AcknowledgedAt = &acknowledgedAt.Time
	}
	if resolvedAt.Valid {
		e.ResolvedAt = &resolvedAt.Time
	}
	return &e, nil
}

// AppendEscalation writes the audit row and advances the store's current
// level in one transaction. The write is a compare-and-swap on the
// store_state row: if the level no longer matches expectedFrom, the
// caller raced another transition and gets ErrStaleState.
func (s *Store) AppendEscalation(ctx context.Context, e *domain.Escalation, expectedFrom domain.EscalationLevel) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx, "SELECT current_level FROM store_state WHERE store_id = ?", e.StoreID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		current = 0
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO store_state (store_id, current_level, updated_at) VALUES (?, 0, ?)",
			e.StoreID, e.EscalatedAt); err != nil {
			return 0, fmt.Errorf("failed to init store state: %w", err)
		}
	} else if err != nil {
		return 0, fmt.Errorf("failed to read store state: %w", err)
	}

	if domain.EscalationLevel(current) != expectedFrom {
		return 0, fmt.Errorf("store %s is at level %d, expected %d: %w",
			e.StoreID, current, expectedFrom, storage.ErrStaleState)
	}

	query := `
		INSERT INTO escalations (store_id, alert_id, task_id, from_level, to_level, reason, triggered_by, action, escalated_at, to_role, to_name, to_contact, status, resolution, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var resolvedAt any
	if e.ResolvedAt != nil {
		resolvedAt = *e.ResolvedAt
	}
	res, err := tx.ExecContext(ctx, query,
		e.StoreID, e.AlertID, e.TaskID, int(e.FromLevel), int(e.ToLevel), e.Reason,
		string(e.TriggeredBy), string(e.Action), e.EscalatedAt,
		e.ToRole, e.ToName, e.ToContact, string(e.Status), e.Resolution, resolvedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert escalation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read escalation id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE store_state SET current_level = ?, updated_at = ? WHERE store_id = ?",
		int(e.ToLevel), e.EscalatedAt, e.StoreID); err != nil {
		return 0, fmt.Errorf("failed to advance store state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit escalation: %w", err)
	}
	e.ID = id
	return id, nil
}

// CurrentLevel returns a store's escalation level. Stores with no
// transitions yet are at level 0.
func (s *Store) CurrentLevel(ctx context.Context, storeID string) (domain.EscalationLevel, error) {
	var level int
	err := s.db.QueryRowContext(ctx, "SELECT current_level FROM store_state WHERE store_id = ?", storeID).Scan(&level)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LevelNormal, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read store state: %w", err)
	}
	return domain.EscalationLevel(level), nil
}

// ListEscalations returns a store's audit trail, newest first
func (s *Store) ListEscalations(ctx context.Context, storeID string, limit int) ([]domain.Escalation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+escalationColumns+" FROM escalations WHERE store_id = ? ORDER BY id DESC LIMIT ?",
		storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer rows.Close()

	var out []domain.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// AcknowledgeEscalation marks a pending escalation acknowledged. Already
// acknowledged or resolved escalations are left untouched and reported
// as ErrNotFound only when no row exists at all.
func (s *Store) AcknowledgeEscalation(ctx context.Context, id int64, by string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalations SET status = ?, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.EscalationAcknowledged), by, at, id, string(domain.EscalationPending))
	if err != nil {
		return fmt.Errorf("failed to acknowledge escalation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetEscalation(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("escalation %d is not pending", id)
	}
	return nil
}

// GetEscalation fetches one escalation by id
func (s *Store) GetEscalation(ctx context.Context, id int64) (*domain.Escalation, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+escalationColumns+" FROM escalations WHERE id = ?", id)
	e, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation: %w", err)
	}
	return e, nil
}

const callColumns = `id, store_id, alert_id, escalation_id, call_type, status,
	recipient_name, recipient_phone, script, initiated_at, connected_at, ended_at,
	duration_seconds, transcript, sentiment, response, follow_up_needed, external_call_id`

func scanCall(row interface{ Scan(...any) error }) (*domain.CallRecord, error) {
	var c domain.CallRecord
	var callType, status, response string
	var initiatedAt, connectedAt, endedAt sql.NullTime
	err := row.Scan(&c.ID, &c.StoreID, &c.AlertID, &c.EscalationID, &callType, &status,
		&c.RecipientName, &c.RecipientPhone, &c.Script, &initiatedAt, &connectedAt, &endedAt,
		&c.DurationSeconds, &c.Transcript, &c.Sentiment, &response, &c.FollowUpNeeded, &c.ExternalCallID)
	if err != nil {
		return nil, err
	}
	c.CallType = domain.MetricStatus(callType)
	c.Status = domain.CallStatus(status)
	c.Response = domain.CallResponse(response)
	if initiatedAt.Valid {
		c.InitiatedAt = &initiatedAt.Time
	}
	if connectedAt.Valid {
		c.ConnectedAt = &connectedAt.Time
	}
	if endedAt.Valid {
		c.EndedAt = &endedAt.Time
	}
	return &c, nil
}

// CreateCallRecord inserts one call record. A non-failed record already
// existing for the escalation surfaces as ErrDuplicate.
func (s *Store) CreateCallRecord(ctx context.Context, c *domain.CallRecord) (int64, error) {
	query := `
		INSERT INTO call_records (store_id, alert_id, escalation_id, call_type, status, recipient_name, recipient_phone, script, external_call_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		c.StoreID, c.AlertID, c.EscalationID, string(c.CallType), string(c.Status),
		c.RecipientName, c.RecipientPhone, c.Script, c.ExternalCallID)
	if isConstraintErr(err) {
		return 0, fmt.Errorf("call already exists for escalation %d: %w", c.EscalationID, storage.ErrDuplicate)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create call record: %w", err)
	}
	return res.LastInsertId()
}

// UpdateCallRecord writes back a call record's mutable fields
func (s *Store) UpdateCallRecord(ctx context.Context, c *domain.CallRecord) error {
	query := `
		UPDATE call_records SET
			status = ?, initiated_at = ?, connected_at = ?, ended_at = ?,
			duration_seconds = ?, transcript = ?, sentiment = ?, response = ?,
			follow_up_needed = ?, external_call_id = ?
		WHERE id = ?
	`
	var initiatedAt, connectedAt, endedAt any
	if c.InitiatedAt != nil {
		initiatedAt = *c.InitiatedAt
	}
	if c.ConnectedAt != nil {
		connectedAt = *c.ConnectedAt
	}
	if c.EndedAt != nil {
		endedAt = *c.EndedAt
	}

	res, err := s.db.ExecContext(ctx, query,
		string(c.Status), initiatedAt, connectedAt, endedAt,
		c.DurationSeconds, c.Transcript, c.Sentiment, string(c.Response),
		c.FollowUpNeeded, c.ExternalCallID, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update call record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetCallRecord fetches one call record by id
func (s *Store) GetCallRecord(ctx context.Context, id int64) (*domain.CallRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+callColumns+" FROM call_records WHERE id = ?", id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return c, nil
}

// GetCallByExternalID fetches the call record for a provider call id
func (s *Store) GetCallByExternalID(ctx context.Context, externalID string) (*domain.CallRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+callColumns+" FROM call_records WHERE external_call_id = ? ORDER BY id DESC LIMIT 1",
		externalID)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call by external id: %w", err)
	}
	return c, nil
}

// HasNonFailedCall reports whether an escalation already has a call that
// did not fail outright
func (s *Store) HasNonFailedCall(ctx context.Context, escalationID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM call_records WHERE escalation_id = ? AND status != 'failed'",
		escalationID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count calls: %w", err)
	}
	return n > 0, nil
}

// ListCalls returns a store's call history, newest first
func (s *Store) ListCalls(ctx context.Context, storeID string, limit int) ([]domain.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+callColumns+" FROM call_records WHERE store_id = ? ORDER BY id DESC LIMIT ?",
		storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	var out []domain.CallRecord
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Overview builds the fleet dashboard projection for one day
func (s *Store) Overview(ctx context.Context, organization, date string) (*storage.FleetOverview, error) {
	ov := &storage.FleetOverview{Date: date, GeneratedAt: time.Now().UTC()}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN h.overall_status = 'green' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN h.overall_status = 'yellow' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN h.overall_status = 'red' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN h.action_required THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(h.health_score), 0)
		FROM health_snapshots h
		JOIN stores s ON s.id = h.store_id
		WHERE s.organization = ? AND h.date = ?
	`
	err := s.db.QueryRowContext(ctx, query, organization, date).Scan(
		&ov.TotalStores, &ov.GreenStores, &ov.YellowStores, &ov.RedStores,
		&ov.ActionRequired, &ov.AverageScore)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate snapshots: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts a JOIN stores s ON s.id = a.store_id
		WHERE s.organization = ? AND a.status IN ('active', 'acknowledged')`,
		organization).Scan(&ov.ActiveAlerts)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tasks t JOIN stores s ON s.id = t.store_id
		WHERE s.organization = ? AND t.status IN ('pending', 'in_progress')`,
		organization).Scan(&ov.PendingTasks)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	critical, err := s.CriticalStores(ctx, organization, date)
	if err != nil {
		return nil, err
	}
	ov.CriticalStores = critical
	return ov, nil
}

// CriticalStores returns stores escalated to level 2 or above on a date,
// worst health first
func (s *Store) CriticalStores(ctx context.Context, organization, date string) ([]storage.CriticalStore, error) {
	query := `
		SELECT h.store_id, s.code, s.name, h.overall_status, h.health_score,
			COALESCE(ss.current_level, 0)
		FROM health_snapshots h
		JOIN stores s ON s.id = h.store_id
		LEFT JOIN store_state ss ON ss.store_id = h.store_id
		WHERE s.organization = ? AND h.date = ? AND COALESCE(ss.current_level, 0) >= 2
		ORDER BY h.health_score ASC, s.code
	`
	rows, err := s.db.QueryContext(ctx, query, organization, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query critical stores: %w", err)
	}
	defer rows.Close()

	out := []storage.CriticalStore{}
	for rows.Next() {
		var cs storage.CriticalStore
		if err := rows.Scan(&cs.StoreID, &cs.StoreCode, &cs.StoreName,
			&cs.OverallStatus, &cs.HealthScore, &cs.EscalationLevel); err != nil {
			return nil, fmt.Errorf("failed to scan critical store: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
