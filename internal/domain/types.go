package domain

import "time"

// MetricStatus is the classification of a single KPI metric.
type MetricStatus string

const (
	StatusGreen   MetricStatus = "green"
	StatusYellow  MetricStatus = "yellow"
	StatusRed     MetricStatus = "red"
	StatusUnknown MetricStatus = "unknown"
)

// Rank orders statuses by severity: red < yellow < green. Unknown sorts
// below red so that degraded inputs are never mistaken for healthy ones.
func (s MetricStatus) Rank() int {
	switch s {
	case StatusGreen:
		return 3
	case StatusYellow:
		return 2
	case StatusRed:
		return 1
	default:
		return 0
	}
}

// ComparisonBasis selects how a metric's baseline was derived by ingestion.
type ComparisonBasis string

const (
	BasisRolling4W    ComparisonBasis = "rolling_4w"
	BasisSamePeriodLY ComparisonBasis = "same_period_ly"
	BasisAbsolute     ComparisonBasis = "absolute"
	BasisBudget       ComparisonBasis = "budget"
)

// EscalationLevel is the 0-4 response ladder position for a store.
type EscalationLevel int

const (
	LevelNormal       EscalationLevel = 0
	LevelTaskCreated  EscalationLevel = 1
	LevelAlertActive  EscalationLevel = 2
	LevelAICall       EscalationLevel = 3
	LevelRegional     EscalationLevel = 4
	MaxEscalationLevel                = LevelRegional
)

// TriggerCondition names the condition an escalation rule watches.
type TriggerCondition string

const (
	TriggerStatusRed      TriggerCondition = "status_red"
	TriggerStatusYellow   TriggerCondition = "status_yellow"
	TriggerMultipleYellow TriggerCondition = "multiple_yellow"
	TriggerSLABreach      TriggerCondition = "sla_breach"
	TriggerPredictedRisk  TriggerCondition = "predicted_risk"
)

// RuleAction is the side effect an escalation rule requests on transition.
type RuleAction string

const (
	ActionCreateTask         RuleAction = "create_task"
	ActionSendAlert          RuleAction = "send_alert"
	ActionAICall             RuleAction = "ai_call"
	ActionRegionalEscalation RuleAction = "regional_escalation"
)

// AlertSeverity mirrors the metric status that raised the alert.
type AlertSeverity string

const (
	SeverityYellow AlertSeverity = "yellow"
	SeverityRed    AlertSeverity = "red"
)

// AlertStatus is the alert lifecycle state.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertExpired      AlertStatus = "expired"
)

// TaskType categorizes a remediation task.
type TaskType string

const (
	TaskReview     TaskType = "review"
	TaskAction     TaskType = "action"
	TaskEscalation TaskType = "escalation"
	TaskFollowUp   TaskType = "follow_up"
)

// TaskStatus is the task lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// EscalationStatus is the lifecycle state of an escalation audit record.
type EscalationStatus string

const (
	EscalationPending      EscalationStatus = "pending"
	EscalationAcknowledged EscalationStatus = "acknowledged"
	EscalationResolved     EscalationStatus = "resolved"
)

// EscalationTrigger records what caused a level transition.
type EscalationTrigger string

const (
	TriggeredByThreshold     EscalationTrigger = "threshold"
	TriggeredBySLABreach     EscalationTrigger = "sla_breach"
	TriggeredByManual        EscalationTrigger = "manual"
	TriggeredByPredictedRisk EscalationTrigger = "predicted_risk"
)

// CallStatus is the lifecycle state of an outreach call.
type CallStatus string

const (
	CallScheduled  CallStatus = "scheduled"
	CallInProgress CallStatus = "in_progress"
	CallCompleted  CallStatus = "completed"
	CallFailed     CallStatus = "failed"
	CallNoAnswer   CallStatus = "no_answer"
)

// CallResponse classifies what the recipient said on an outreach call.
type CallResponse string

const (
	ResponseYes      CallResponse = "yes"
	ResponseLater    CallResponse = "later"
	ResponseNoAnswer CallResponse = "no_answer"
	ResponseOther    CallResponse = "other"
)

// StoreStatus is the operating state of a store.
type StoreStatus string

const (
	StoreActive   StoreStatus = "active"
	StoreInactive StoreStatus = "inactive"
	StoreClosed   StoreStatus = "closed"
)

// Contact is a named reachable person for a role.
type Contact struct {
	Name  string
	Phone string
	Email string
}

// Store is one retail location in the monitored fleet. The engine reads
// stores; it never mutates them.
type Store struct {
	ID              string
	Code            string
	Name            string
	Organization    string
	Region          string
	District        string
	Timezone        string
	Status          StoreStatus
	Manager         Contact
	DistrictManager Contact
	RegionalManager Contact
}

// KpiDefinition is a named, organization-scoped metric.
type KpiDefinition struct {
	ID           string
	Organization string
	Code         string
	Name         string
	Category     string
	Unit         string
	CalcMethod   string
	Active       bool
}

// KpiThreshold holds the green/yellow/red variance boundaries for a KPI.
// StoreID is empty for organization-level defaults. Reference ordering
// red_threshold < yellow_min <= green_min is enforced at evaluation time,
// not at write time.
type KpiThreshold struct {
	ID              int64
	Organization    string
	KpiCode         string
	StoreID         string
	GreenMin        float64
	YellowMin       float64
	RedThreshold    float64
	ComparisonBasis ComparisonBasis
	Priority        int
}

// KpiMetric is one immutable classified fact per (store, KPI, date).
// Corrections are new rows with a later RecordedAt; the latest row wins.
type KpiMetric struct {
	ID              int64
	StoreID         string
	KpiCode         string
	Date            string // yyyy-mm-dd
	Value           float64
	ComparisonValue float64
	ComparisonBasis ComparisonBasis
	VariancePct     float64
	Status          MetricStatus
	StatusReason    string
	RecordedAt      time.Time
}

// HealthSnapshot is the single authoritative row describing a store's
// health on one date.
type HealthSnapshot struct {
	StoreID         string
	Date            string // yyyy-mm-dd
	OverallStatus   MetricStatus
	HealthScore     float64
	GreenCount      int
	YellowCount     int
	RedCount        int
	UnknownCount    int
	EscalationLevel EscalationLevel
	ActionRequired  bool
	Summary         string
	UpdatedAt       time.Time
}

// Alert is raised when a metric crosses into yellow or red. At most one
// active alert exists per (store, KPI, day).
type Alert struct {
	ID             int64
	StoreID        string
	KpiCode        string
	AlertDate      time.Time
	Day            string // yyyy-mm-dd, dedupe key component
	Severity       AlertSeverity
	Status         AlertStatus
	Title          string
	Message        string
	RequiresAck    bool
	AcknowledgedAt *time.Time
	AcknowledgedBy string
	ResolvedAt     *time.Time
	ExpiresAt      time.Time
}

// Task is a remediation unit assigned to a role.
type Task struct {
	ID              int64
	AlertID         int64
	StoreID         string
	KpiCode         string
	Type            TaskType
	Priority        int
	Title           string
	Description     string
	AssignedRole    string
	AssignedName    string
	AssignedContact string
	Status          TaskStatus
	DueDate         time.Time
	CompletedAt     *time.Time
}

// Escalation is an immutable audit record of one level transition.
type Escalation struct {
	ID             int64
	StoreID        string
	AlertID        int64
	TaskID         int64
	FromLevel      EscalationLevel
	ToLevel        EscalationLevel
	Reason         string
	TriggeredBy    EscalationTrigger
	Action         RuleAction
	EscalatedAt    time.Time
	ToRole         string
	ToName         string
	ToContact      string
	Status         EscalationStatus
	AcknowledgedAt *time.Time
	AcknowledgedBy string
	Resolution     string
	ResolvedAt     *time.Time
}

// EscalationRule is operator-configurable escalation policy: data, not code.
type EscalationRule struct {
	ID           string
	Organization string
	KpiCode      string // empty matches all KPIs
	Trigger      TriggerCondition
	HoldFor      time.Duration
	FromLevel    EscalationLevel
	ToLevel      EscalationLevel
	Action       RuleAction
	Active       bool
}

// CallRecord is one outreach attempt tied to the escalation that caused it.
// At most one non-failed record exists per escalation id.
type CallRecord struct {
	ID              int64
	StoreID         string
	AlertID         int64
	EscalationID    int64
	CallType        MetricStatus
	Status          CallStatus
	RecipientName   string
	RecipientPhone  string
	Script          string
	InitiatedAt     *time.Time
	ConnectedAt     *time.Time
	EndedAt         *time.Time
	DurationSeconds int
	Transcript      string
	Sentiment       string
	Response        CallResponse
	FollowUpNeeded  bool
	ExternalCallID  string
}

// MetricSubmission is one inbound record from the ingestion feed: the raw
// value plus the baseline the ingestion side computed for it. The engine
// never invents comparison values.
type MetricSubmission struct {
	StoreID         string          `json:"storeId"`
	KpiCode         string          `json:"kpiCode"`
	Date            string          `json:"date"`
	Value           float64         `json:"value"`
	ComparisonValue float64         `json:"comparisonValue"`
	ComparisonBasis ComparisonBasis `json:"comparisonBasis"`
	HasBaseline     bool            `json:"hasBaseline"`
}
