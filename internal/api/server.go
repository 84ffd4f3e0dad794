package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/samijaber1/storepulse/internal/domain"
	"github.com/samijaber1/storepulse/internal/engine"
	"github.com/samijaber1/storepulse/internal/ingest"
	"github.com/samijaber1/storepulse/internal/storage"
)

// Server is the HTTP API server
type Server struct {
	store        storage.Store
	engine       *engine.Engine
	organization string
	ruleCount    func() int
	server       *http.Server
}

// NewServer creates a new API server. ruleCount reports how many
// escalation rules are loaded; readiness requires at least one.
func NewServer(store storage.Store, eng *engine.Engine, organization, addr string, ruleCount func() int) *Server {
	s := &Server{
		store:        store,
		engine:       eng,
		organization: organization,
		ruleCount:    ruleCount,
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

// Router builds the route table
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/fleet/overview", s.handleOverview)
		r.Post("/metrics", s.handleSubmitMetric)

		r.Route("/stores", func(r chi.Router) {
			r.Get("/critical", s.handleCriticalStores)
			r.Get("/{storeID}", s.handleStoreGet)
			r.Get("/{storeID}/history", s.handleStoreHistory)
			r.Get("/{storeID}/escalations", s.handleStoreEscalations)
			r.Get("/{storeID}/calls", s.handleStoreCalls)
			r.Post("/{storeID}/resolve", s.handleStoreResolve)
		})

		r.Post("/escalations/{escalationID}/acknowledge", s.handleEscalationAck)

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handleAlertList)
			r.Post("/{alertID}/acknowledge", s.handleAlertAck)
			r.Post("/{alertID}/resolve", s.handleAlertResolve)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleTaskList)
			r.Post("/{taskID}/status", s.handleTaskStatus)
		})

		r.Route("/webhooks/calls", func(r chi.Router) {
			r.Post("/status", s.handleCallStatusWebhook)
			r.Post("/response", s.handleCallResponseWebhook)
		})
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady handles GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	rules := 0
	if s.ruleCount != nil {
		rules = s.ruleCount()
	}

	status := http.StatusOK
	if rules == 0 {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Ready:        rules > 0,
		Organization: s.organization,
		RuleCount:    rules,
	})
}

// handleOverview handles GET /v1/fleet/overview?date=yyyy-mm-dd
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	ov, err := s.store.Overview(r.Context(), s.organization, date)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ov)
}

// handleCriticalStores handles GET /v1/stores/critical?date=yyyy-mm-dd
func (s *Server) handleCriticalStores(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	critical, err := s.store.CriticalStores(r.Context(), s.organization, date)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, critical)
}

// handleStoreGet handles GET /v1/stores/{storeID}
func (s *Server) handleStoreGet(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")

	st, err := s.store.GetStore(r.Context(), storeID)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("store not found: %s", storeID))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	level, err := s.store.CurrentLevel(r.Context(), storeID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := StoreResponse{Store: storeInfo(st), EscalationLevel: int(level)}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	if snap, err := s.store.GetSnapshot(r.Context(), storeID, date); err == nil {
		resp.Snapshot = snap
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleStoreHistory handles GET /v1/stores/{storeID}/history?limit=n
func (s *Server) handleStoreHistory(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := s.store.SnapshotHistory(r.Context(), storeID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, history)
}

// handleStoreEscalations handles GET /v1/stores/{storeID}/escalations
func (s *Server) handleStoreEscalations(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	escalations, err := s.store.ListEscalations(r.Context(), storeID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, escalations)
}

// handleStoreCalls handles GET /v1/stores/{storeID}/calls
func (s *Server) handleStoreCalls(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	calls, err := s.store.ListCalls(r.Context(), storeID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, calls)
}

// handleStoreResolve handles POST /v1/stores/{storeID}/resolve
func (s *Server) handleStoreResolve(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Resolution == "" {
		respondError(w, http.StatusBadRequest, "resolution is required")
		return
	}

	esc, err := s.engine.ResolveStore(r.Context(), storeID, req.Resolution, req.ResolvedBy, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("store not found: %s", storeID))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if esc == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "already at level 0"})
		return
	}
	respondJSON(w, http.StatusOK, esc)
}

// handleSubmitMetric handles POST /v1/metrics
func (s *Server) handleSubmitMetric(w http.ResponseWriter, r *http.Request) {
	var sub domain.MetricSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ingest.ValidateSubmission(sub); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.engine.Submit(r.Context(), sub, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("store not found: %s", sub.StoreID))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleEscalationAck handles POST /v1/escalations/{escalationID}/acknowledge
func (s *Server) handleEscalationAck(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "escalationID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid escalation id")
		return
	}

	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = s.store.AcknowledgeEscalation(r.Context(), id, req.By, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("escalation not found: %d", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// handleAlertList handles GET /v1/alerts
func (s *Server) handleAlertList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AlertFilter{
		StoreID: q.Get("storeId"),
		KpiCode: q.Get("kpiCode"),
	}
	if sev := q.Get("severity"); sev != "" {
		filter.Severity = domain.AlertSeverity(sev)
	}
	if st := q.Get("status"); st != "" {
		filter.Statuses = []domain.AlertStatus{domain.AlertStatus(st)}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	alerts, err := s.store.ListAlerts(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]AlertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, alertView(a))
	}
	respondJSON(w, http.StatusOK, views)
}

// handleAlertAck handles POST /v1/alerts/{alertID}/acknowledge
func (s *Server) handleAlertAck(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "alertID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = s.engine.Alerts().Acknowledge(r.Context(), id, req.By, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("alert not found: %d", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// handleAlertResolve handles POST /v1/alerts/{alertID}/resolve
func (s *Server) handleAlertResolve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "alertID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid alert id")
		return
	}

	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = s.engine.Alerts().Resolve(r.Context(), id, req.By, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("alert not found: %d", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// handleTaskList handles GET /v1/tasks
func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.TaskFilter{
		StoreID: q.Get("storeId"),
		Role:    q.Get("role"),
	}
	if st := q.Get("status"); st != "" {
		filter.Statuses = []domain.TaskStatus{domain.TaskStatus(st)}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	tasks, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView(t))
	}
	respondJSON(w, http.StatusOK, views)
}

// handleTaskStatus handles POST /v1/tasks/{taskID}/status
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	var req TaskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	status := domain.TaskStatus(req.Status)
	switch status {
	case domain.TaskPending, domain.TaskInProgress, domain.TaskCompleted, domain.TaskCancelled:
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid task status: %s", req.Status))
		return
	}

	err = s.store.UpdateTaskStatus(r.Context(), id, status, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("task not found: %d", id))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// handleCallStatusWebhook handles POST /v1/webhooks/calls/status
func (s *Server) handleCallStatusWebhook(w http.ResponseWriter, r *http.Request) {
	var req CallStatusWebhook
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CallID == "" {
		respondError(w, http.StatusBadRequest, "callId is required")
		return
	}

	record, err := s.engine.Outreach().HandleCallStatus(r.Context(), req.CallID, req.Status, req.DurationSeconds, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("call not found: %s", req.CallID))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// handleCallResponseWebhook handles POST /v1/webhooks/calls/response
func (s *Server) handleCallResponseWebhook(w http.ResponseWriter, r *http.Request) {
	var req CallResponseWebhook
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CallID == "" {
		respondError(w, http.StatusBadRequest, "callId is required")
		return
	}

	record, err := s.engine.Outreach().HandleCallResponse(r.Context(), req.CallID, req.Transcript, req.Sentiment, time.Now().UTC())
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("call not found: %s", req.CallID))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// respondError writes a JSON error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// loggingMiddleware logs requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}
