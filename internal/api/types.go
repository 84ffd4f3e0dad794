package api

import (
	"time"

	"github.com/samijaber1/storepulse/internal/domain"
)

// HealthResponse is the /healthz body
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the /readyz body
type ReadyResponse struct {
	Ready        bool   `json:"ready"`
	Organization string `json:"organization"`
	RuleCount    int    `json:"ruleCount"`
}

// ErrorResponse is the error body for all endpoints
type ErrorResponse struct {
	Error string `json:"error"`
}

// StoreResponse is the detail view of one store
type StoreResponse struct {
	Store           StoreInfo              `json:"store"`
	EscalationLevel int                    `json:"escalationLevel"`
	Snapshot        *domain.HealthSnapshot `json:"snapshot,omitempty"`
}

// StoreInfo is the public projection of a store row
type StoreInfo struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Region       string `json:"region,omitempty"`
	District     string `json:"district,omitempty"`
	Timezone     string `json:"timezone"`
	Status       string `json:"status"`
	ManagerName  string `json:"managerName,omitempty"`
}

// AlertView is the public projection of an alert row
type AlertView struct {
	ID          int64      `json:"id"`
	StoreID     string     `json:"storeId"`
	KpiCode     string     `json:"kpiCode"`
	Day         string     `json:"day"`
	Severity    string     `json:"severity"`
	Status      string     `json:"status"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	RequiresAck bool       `json:"requiresAck"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

// TaskView is the public projection of a task row
type TaskView struct {
	ID           int64      `json:"id"`
	StoreID      string     `json:"storeId"`
	AlertID      int64      `json:"alertId,omitempty"`
	Type         string     `json:"type"`
	Priority     int        `json:"priority"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	AssignedRole string     `json:"assignedRole"`
	AssignedName string     `json:"assignedName,omitempty"`
	Status       string     `json:"status"`
	DueDate      time.Time  `json:"dueDate"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// AckRequest acknowledges an alert
type AckRequest struct {
	By string `json:"by"`
}

// ResolveRequest resolves a store's escalation
type ResolveRequest struct {
	Resolution string `json:"resolution"`
	ResolvedBy string `json:"resolvedBy"`
}

// TaskStatusRequest transitions a task
type TaskStatusRequest struct {
	Status string `json:"status"`
}

// CallStatusWebhook is the provider's status callback body
type CallStatusWebhook struct {
	CallID          string `json:"callId"`
	Status          string `json:"status"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
}

// CallResponseWebhook is the provider's transcript callback body
type CallResponseWebhook struct {
	CallID     string `json:"callId"`
	Transcript string `json:"transcript"`
	Sentiment  string `json:"sentiment,omitempty"`
}

func alertView(a domain.Alert) AlertView {
	return AlertView{
		ID:          a.ID,
		StoreID:     a.StoreID,
		KpiCode:     a.KpiCode,
		Day:         a.Day,
		Severity:    string(a.Severity),
		Status:      string(a.Status),
		Title:       a.Title,
		Message:     a.Message,
		RequiresAck: a.RequiresAck,
		ExpiresAt:   a.ExpiresAt,
		ResolvedAt:  a.ResolvedAt,
	}
}

func taskView(t domain.Task) TaskView {
	return TaskView{
		ID:           t.ID,
		StoreID:      t.StoreID,
		AlertID:      t.AlertID,
		Type:         string(t.Type),
		Priority:     t.Priority,
		Title:        t.Title,
		Description:  t.Description,
		AssignedRole: t.AssignedRole,
		AssignedName: t.AssignedName,
		Status:       string(t.Status),
		DueDate:      t.DueDate,
		CompletedAt:  t.CompletedAt,
	}
}

func storeInfo(s *domain.Store) StoreInfo {
	return StoreInfo{
		ID:           s.ID,
		Code:         s.Code,
		Name:         s.Name,
		Organization: s.Organization,
		Region:       s.Region,
		District:     s.District,
		Timezone:     s.Timezone,
		Status:       string(s.Status),
		ManagerName:  s.Manager.Name,
	}
}
