package sqlite

// Schema defines the SQLite database schema
const Schema = `
-- Fleet reference data
CREATE TABLE IF NOT EXISTS stores (
	id TEXT PRIMARY KEY,
	code TEXT NOT NULL,
	name TEXT NOT NULL,
	organization TEXT NOT NULL,
	region TEXT NOT NULL DEFAULT '',
	district TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL DEFAULT 'UTC',
	status TEXT NOT NULL DEFAULT 'active',
	manager_name TEXT NOT NULL DEFAULT '',
	manager_phone TEXT NOT NULL DEFAULT '',
	manager_email TEXT NOT NULL DEFAULT '',
	district_manager_name TEXT NOT NULL DEFAULT '',
	district_manager_phone TEXT NOT NULL DEFAULT '',
	district_manager_email TEXT NOT NULL DEFAULT '',
	regional_manager_name TEXT NOT NULL DEFAULT '',
	regional_manager_phone TEXT NOT NULL DEFAULT '',
	regional_manager_email TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_stores_org_code ON stores(organization, code);
CREATE INDEX IF NOT EXISTS idx_stores_org_status ON stores(organization, status);

CREATE TABLE IF NOT EXISTS kpi_definitions (
	id TEXT PRIMARY KEY,
	organization TEXT NOT NULL,
	code TEXT NOT NULL,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	unit TEXT NOT NULL DEFAULT '',
	calc_method TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT 1,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_kpi_defs_org_code ON kpi_definitions(organization, code);

-- store_id '' is the organization-level default threshold
CREATE TABLE IF NOT EXISTS kpi_thresholds (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	organization TEXT NOT NULL,
	kpi_code TEXT NOT NULL,
	store_id TEXT NOT NULL DEFAULT '',
	green_min REAL NOT NULL,
	yellow_min REAL NOT NULL,
	red_threshold REAL NOT NULL,
	comparison_basis TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_thresholds_scope ON kpi_thresholds(organization, kpi_code, store_id);

-- Classified metrics, append-only: corrections are new rows and the
-- latest recorded_at per (store_id, kpi_code, date) wins.
CREATE TABLE IF NOT EXISTS kpi_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	store_id TEXT NOT NULL,
	kpi_code TEXT NOT NULL,
	date TEXT NOT NULL,
	value REAL NOT NULL,
	comparison_value REAL NOT NULL DEFAULT 0,
	comparison_basis TEXT NOT NULL,
	variance_pct REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	status_reason TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMP NOT NULL,
	FOREIGN KEY (store_id) REFERENCES stores(id)
);

CREATE INDEX IF NOT EXISTS idx_metrics_lookup ON kpi_metrics(store_id, date, kpi_code, recorded_at DESC);

-- One authoritative health row per (store, date)
CREATE TABLE IF NOT EXISTS health_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	store_id TEXT NOT NULL,
	date TEXT NOT NULL,
	overall_status TEXT NOT NULL,
	health_score REAL NOT NULL,
	green_count INTEGER NOT NULL DEFAULT 0,
	yellow_count INTEGER NOT NULL DEFAULT 0,
	red_count INTEGER NOT NULL DEFAULT 0,
	unknown_count INTEGER NOT NULL DEFAULT 0,
	escalation_level INTEGER NOT NULL DEFAULT 0,
	action_required BOOLEAN NOT NULL DEFAULT 0,
	summary TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL,
	FOREIGN KEY (store_id) REFERENCES stores(id),
	UNIQUE (store_id, date)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_date ON health_snapshots(date, overall_status);

CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	store_id TEXT NOT NULL,
	kpi_code TEXT NOT NULL,
	alert_date TIMESTAMP NOT NULL,
	day TEXT NOT NULL,
	severity TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	title TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	requires_ack BOOLEAN NOT NULL DEFAULT 0,
	acknowledged_at TIMESTAMP,
	acknowledged_by TEXT NOT NULL DEFAULT '',
	resolved_at TIMESTAMP,
	expires_at TIMESTAMP NOT NULL,
	FOREIGN KEY (store_id) REFERENCES stores(id)
);

-- At most one open alert per (store, kpi, day). Resolved and expired
-- alerts fall out of the index so a fresh alert can open the next day
-- or after a resolve.
CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_dedupe
	ON alerts(store_id, kpi_code, day)
	WHERE status IN ('active', 'acknowledged');
CREATE INDEX IF NOT EXISTS idx_alerts_store_status ON alerts(store_id, status);
CREATE INDEX IF NOT EXISTS idx_alerts_expiry ON alerts(expires_at) WHERE status IN ('active', 'acknowledged');

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id INTEGER NOT NULL DEFAULT 0,
	store_id TEXT NOT NULL,
	kpi_code TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 2,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	assigned_role TEXT NOT NULL,
	assigned_name TEXT NOT NULL DEFAULT '',
	assigned_contact TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	due_date TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	FOREIGN KEY (store_id) REFERENCES stores(id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_store_status ON tasks(store_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_alert ON tasks(alert_id);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_date) WHERE status IN ('pending', 'in_progress');

-- Append-only escalation audit trail
CREATE TABLE IF NOT EXISTS escalations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	store_id TEXT NOT NULL,
	alert_id INTEGER NOT NULL DEFAULT 0,
	task_id INTEGER NOT NULL DEFAULT 0,
	from_level INTEGER NOT NULL,
	to_level INTEGER NOT NULL,
	reason TEXT NOT NULL,
	triggered_by TEXT NOT NULL,
	action TEXT NOT NULL DEFAULT '',
	escalated_at TIMESTAMP NOT NULL,
	to_role TEXT NOT NULL DEFAULT '',
	to_name TEXT NOT NULL DEFAULT '',
	to_contact TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	acknowledged_at TIMESTAMP,
	acknowledged_by TEXT NOT NULL DEFAULT '',
	resolution TEXT NOT NULL DEFAULT '',
	resolved_at TIMESTAMP,
	FOREIGN KEY (store_id) REFERENCES stores(id)
);

CREATE INDEX IF NOT EXISTS idx_escalations_store ON escalations(store_id, escalated_at DESC);

-- Current escalation level projection (one row per store), advanced in
-- the same transaction as the escalations insert
CREATE TABLE IF NOT EXISTS store_state (
	store_id TEXT PRIMARY KEY,
	current_level INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL,
	FOREIGN KEY (store_id) REFERENCES stores(id)
);

CREATE TABLE IF NOT EXISTS call_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	store_id TEXT NOT NULL,
	alert_id INTEGER NOT NULL DEFAULT 0,
	escalation_id INTEGER NOT NULL,
	call_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'scheduled',
	recipient_name TEXT NOT NULL DEFAULT '',
	recipient_phone TEXT NOT NULL DEFAULT '',
	script TEXT NOT NULL DEFAULT '',
	initiated_at TIMESTAMP,
	connected_at TIMESTAMP,
	ended_at TIMESTAMP,
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	transcript TEXT NOT NULL DEFAULT '',
	sentiment TEXT NOT NULL DEFAULT '',
	response TEXT NOT NULL DEFAULT '',
	follow_up_needed BOOLEAN NOT NULL DEFAULT 0,
	external_call_id TEXT NOT NULL DEFAULT '',
	FOREIGN KEY (store_id) REFERENCES stores(id),
	FOREIGN KEY (escalation_id) REFERENCES escalations(id)
);

-- At most one non-failed call per escalation: the exactly-once guard
-- for automated outreach.
CREATE UNIQUE INDEX IF NOT EXISTS idx_calls_one_per_escalation
	ON call_records(escalation_id)
	WHERE status != 'failed';
CREATE INDEX IF NOT EXISTS idx_calls_external ON call_records(external_call_id) WHERE external_call_id != '';
CREATE INDEX IF NOT EXISTS idx_calls_store ON call_records(store_id, id DESC);
`
