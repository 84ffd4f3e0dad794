package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samijaber1/storepulse/internal/alerting"
	"github.com/samijaber1/storepulse/internal/classify"
	"github.com/samijaber1/storepulse/internal/domain"
	"github.com/samijaber1/storepulse/internal/escalate"
	"github.com/samijaber1/storepulse/internal/health"
	"github.com/samijaber1/storepulse/internal/outreach"
	"github.com/samijaber1/storepulse/internal/rules"
	"github.com/samijaber1/storepulse/internal/storage"
)

// Options configures an engine.
type Options struct {
	Organization string
	Weights      health.Weights
	// Parallelism bounds concurrent store passes in a fleet run.
	Parallelism int
}

// Engine wires classification, aggregation, rule evaluation, the
// escalation state machine and outreach into one processing pipeline.
// Work for a single store is serialized by a per-store lock; different
// stores process concurrently.
type Engine struct {
	store      storage.Store
	machine    *escalate.Machine
	alerts     *alerting.Manager
	evaluator  *rules.Evaluator
	aggregator *health.Aggregator
	trigger    *outreach.Trigger
	opts       Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an engine over the given storage, rule set and dialer.
func New(store storage.Store, evaluator *rules.Evaluator, dialer outreach.CallDialer, opts Options) *Engine {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 8
	}
	if opts.Weights.Green == 0 && opts.Weights.Yellow == 0 {
		opts.Weights = health.DefaultWeights()
	}
	return &Engine{
		store:      store,
		machine:    escalate.NewMachine(store),
		alerts:     alerting.NewManager(store),
		evaluator:  evaluator,
		aggregator: health.NewAggregator(opts.Weights),
		trigger:    outreach.NewTrigger(store, dialer),
		opts:       opts,
	}
}

// Outreach exposes the call trigger for webhook handlers.
func (e *Engine) Outreach() *outreach.Trigger {
	return e.trigger
}

// Alerts exposes the alert manager for API handlers.
func (e *Engine) Alerts() *alerting.Manager {
	return e.alerts
}

// Machine exposes the escalation state machine for manual resolves.
func (e *Engine) Machine() *escalate.Machine {
	return e.machine
}

// SetEvaluator swaps in a freshly loaded rule set. Safe to call while
// passes are running; in-flight passes finish with the old rules.
func (e *Engine) SetEvaluator(ev *rules.Evaluator) {
	e.mu.Lock()
	e.evaluator = ev
	e.mu.Unlock()
}

func (e *Engine) ruleEvaluator() *rules.Evaluator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluator
}

func (e *Engine) lockStore(storeID string) func() {
	e.mu.Lock()
	lock, ok := e.locks[storeID]
	if !ok {
		if e.locks == nil {
			e.locks = make(map[string]*sync.Mutex)
		}
		lock = &sync.Mutex{}
		e.locks[storeID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Submit classifies and persists one inbound metric, then reprocesses the
// store. This is the entry point for both the ingestion feed and the API.
func (e *Engine) Submit(ctx context.Context, sub domain.MetricSubmission, now time.Time) (*domain.HealthSnapshot, error) {
	if sub.StoreID == "" || sub.KpiCode == "" || sub.Date == "" {
		return nil, fmt.Errorf("submission missing store, kpi or date")
	}

	st, err := e.store.GetStore(ctx, sub.StoreID)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", sub.StoreID, err)
	}

	thresholds, err := e.store.ListThresholds(ctx, st.Organization)
	if err != nil {
		return nil, fmt.Errorf("thresholds for %s: %w", st.Organization, err)
	}

	th := classify.ResolveThreshold(thresholds, sub.KpiCode, sub.StoreID)
	baseline := sub.ComparisonValue
	if !sub.HasBaseline && sub.ComparisonBasis != domain.BasisAbsolute {
		baseline = 0 // classifier fails closed to unknown
	}
	result := classify.Classify(sub.Value, baseline, sub.ComparisonBasis, th)

	metric := &domain.KpiMetric{
		StoreID:         sub.StoreID,
		KpiCode:         sub.KpiCode,
		Date:            sub.Date,
		Value:           sub.Value,
		ComparisonValue: sub.ComparisonValue,
		ComparisonBasis: sub.ComparisonBasis,
		VariancePct:     result.VariancePct,
		Status:          result.Status,
		StatusReason:    result.Reason,
		RecordedAt:      now,
	}
	if err := e.store.InsertMetric(ctx, metric); err != nil {
		return nil, fmt.Errorf("insert metric %s/%s: %w", sub.StoreID, sub.KpiCode, err)
	}

	return e.ProcessStore(ctx, sub.StoreID, sub.Date, now)
}

// ProcessStore runs one full pass for a store and date: re-aggregate
// health from the winning metrics, raise alerts, evaluate escalation
// rules, commit any due transition and kick off its side effects. The
// outreach call, if any, is placed after the store lock is released.
func (e *Engine) ProcessStore(ctx context.Context, storeID, date string, now time.Time) (*domain.HealthSnapshot, error) {
	unlock := e.lockStore(storeID)
	snap, call, err := e.processLocked(ctx, storeID, date, now)
	unlock()
	if err != nil {
		return nil, err
	}

	if call != nil {
		if _, cerr := e.trigger.TriggerCall(ctx, call.store, call.escalation, snap, now); cerr != nil {
			// The escalation is already durable; a dead provider must not
			// fail the pass.
			log.Printf("engine: outreach for store %s escalation %d: %v", storeID, call.escalation.ID, cerr)
		}
	}
	return snap, nil
}

type pendingCall struct {
	store      *domain.Store
	escalation *domain.Escalation
}

func (e *Engine) processLocked(ctx context.Context, storeID, date string, now time.Time) (*domain.HealthSnapshot, *pendingCall, error) {
	st, err := e.store.GetStore(ctx, storeID)
	if err != nil {
		return nil, nil, fmt.Errorf("store %s: %w", storeID, err)
	}

	defs, err := e.store.ListKpiDefinitions(ctx, st.Organization)
	if err != nil {
		return nil, nil, fmt.Errorf("kpi definitions: %w", err)
	}
	defsByCode := make(map[string]*domain.KpiDefinition, len(defs))
	kpiNames := make(map[string]string, len(defs))
	for i := range defs {
		defsByCode[defs[i].Code] = &defs[i]
		kpiNames[defs[i].Code] = defs[i].Name
	}

	metrics, err := e.store.LatestMetrics(ctx, storeID, date)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics for %s/%s: %w", storeID, date, err)
	}

	for _, metric := range metrics {
		def, ok := defsByCode[metric.KpiCode]
		if !ok {
			log.Printf("engine: store %s metric %s has no KPI definition, skipping alert", storeID, metric.KpiCode)
			continue
		}
		if _, _, err := e.alerts.RaiseFromMetric(ctx, st, def, metric, now); err != nil {
			return nil, nil, err
		}
	}

	level, err := e.store.CurrentLevel(ctx, storeID)
	if err != nil {
		return nil, nil, fmt.Errorf("level for %s: %w", storeID, err)
	}

	observations, err := e.deriveObservations(ctx, storeID, now)
	if err != nil {
		return nil, nil, err
	}

	var call *pendingCall
	proposal := e.ruleEvaluator().Evaluate(rules.Context{
		StoreID:      storeID,
		Organization: st.Organization,
		CurrentLevel: level,
		Now:          now,
		Observations: observations,
	})
	if proposal != nil {
		esc, err := e.commitProposal(ctx, st, proposal, now)
		switch {
		case escalate.IsStale(err):
			// Another pass moved the level first. Re-read and carry on;
			// the next pass re-evaluates from the new level.
			log.Printf("engine: store %s transition %d->%d lost the race",
				storeID, proposal.Rule.FromLevel, proposal.Rule.ToLevel)
			if level, err = e.store.CurrentLevel(ctx, storeID); err != nil {
				return nil, nil, fmt.Errorf("re-read level for %s: %w", storeID, err)
			}
		case err != nil:
			return nil, nil, err
		default:
			level = esc.ToLevel
			if proposal.Rule.Action == domain.ActionAICall {
				call = &pendingCall{store: st, escalation: esc}
			}
		}
	}

	snap := e.aggregator.Aggregate(storeID, date, metrics, kpiNames)
	snap.EscalationLevel = level
	snap.UpdatedAt = now
	if err := e.store.UpsertSnapshot(ctx, &snap); err != nil {
		return nil, nil, fmt.Errorf("snapshot for %s/%s: %w", storeID, date, err)
	}

	return &snap, call, nil
}

// commitProposal turns a rule proposal into a committed transition plus
// its immediate (non-outreach) side effects.
func (e *Engine) commitProposal(ctx context.Context, st *domain.Store, p *rules.Proposal, now time.Time) (*domain.Escalation, error) {
	target := escalate.TargetFor(st, p.Rule.ToLevel)
	esc, err := e.machine.Apply(ctx, escalate.Transition{
		StoreID:     st.ID,
		FromLevel:   p.Rule.FromLevel,
		ToLevel:     p.Rule.ToLevel,
		AlertID:     p.Observation.AlertID,
		Reason:      p.Reason,
		TriggeredBy: rules.TriggerFor(p.Observation.Condition),
		Action:      p.Rule.Action,
		Target:      target,
	}, now)
	if err != nil {
		return nil, err
	}

	log.Printf("engine: store %s escalated %d->%d by rule %s (%s)",
		st.ID, esc.FromLevel, esc.ToLevel, p.Rule.ID, p.Rule.Action)

	switch p.Rule.Action {
	case domain.ActionCreateTask, domain.ActionRegionalEscalation:
		task := &domain.Task{
			StoreID:         st.ID,
			AlertID:         esc.AlertID,
			KpiCode:         p.Observation.KpiCode,
			Type:            domain.TaskEscalation,
			Priority:        1,
			Title:           fmt.Sprintf("Escalation level %d: %s", esc.ToLevel, st.Name),
			Description:     p.Reason,
			AssignedRole:    target.Role,
			AssignedName:    target.Name,
			AssignedContact: target.Contact,
			Status:          domain.TaskPending,
			DueDate:         now.Add(24 * time.Hour),
		}
		if _, err := e.store.CreateTask(ctx, task); err != nil {
			return esc, fmt.Errorf("escalation task for %s: %w", st.ID, err)
		}
	}
	return esc, nil
}

// deriveObservations rebuilds the evaluator's input from durable alert
// rows, so held-duration tracking survives restarts. Daily metrics roll
// alerts over: yesterday's row expires at the day sweep and today's
// submission raises a fresh one. The hold clock must span that rollover,
// so each condition is anchored on the start of the contiguous run of
// days the condition has held, not on the open row alone.
func (e *Engine) deriveObservations(ctx context.Context, storeID string, now time.Time) ([]rules.Observation, error) {
	open, err := e.store.ListAlerts(ctx, storage.AlertFilter{
		StoreID:  storeID,
		Statuses: []domain.AlertStatus{domain.AlertActive, domain.AlertAcknowledged},
	})
	if err != nil {
		return nil, fmt.Errorf("open alerts for %s: %w", storeID, err)
	}

	var observations []rules.Observation
	risk, err := e.riskObservation(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if risk != nil {
		observations = append(observations, *risk)
	}
	if len(open) == 0 {
		return observations, nil
	}

	history, err := e.store.ListAlerts(ctx, storage.AlertFilter{StoreID: storeID})
	if err != nil {
		return nil, fmt.Errorf("alert history for %s: %w", storeID, err)
	}
	runs := newAlertRuns(history)

	var yellowObs []rules.Observation
	redAnchor := map[string]domain.Alert{}
	yellowAnchor := map[string]domain.Alert{}

	for _, alert := range open {
		switch alert.Severity {
		case domain.SeverityRed:
			if prev, ok := redAnchor[alert.KpiCode]; !ok || alert.AlertDate.Before(prev.AlertDate) {
				redAnchor[alert.KpiCode] = alert
			}
		case domain.SeverityYellow:
			if prev, ok := yellowAnchor[alert.KpiCode]; !ok || alert.AlertDate.Before(prev.AlertDate) {
				yellowAnchor[alert.KpiCode] = alert
			}
		}
		if alert.ExpiresAt.Before(now) {
			observations = append(observations, rules.Observation{
				KpiCode:   alert.KpiCode,
				Condition: domain.TriggerSLABreach,
				Since:     alert.ExpiresAt,
				AlertID:   alert.ID,
			})
		}
	}

	for kpi, alert := range redAnchor {
		observations = append(observations, rules.Observation{
			KpiCode:   kpi,
			Condition: domain.TriggerStatusRed,
			Since:     runs.start(alert),
			AlertID:   alert.ID,
		})
	}
	for kpi, alert := range yellowAnchor {
		yellowObs = append(yellowObs, rules.Observation{
			KpiCode:   kpi,
			Condition: domain.TriggerStatusYellow,
			Since:     runs.start(alert),
			AlertID:   alert.ID,
		})
	}
	observations = append(observations, yellowObs...)

	// Two or more KPIs simultaneously yellow is its own condition. The
	// clock starts when the second KPI turned yellow.
	if len(yellowObs) >= 2 {
		sort.Slice(yellowObs, func(i, j int) bool { return yellowObs[i].Since.Before(yellowObs[j].Since) })
		observations = append(observations, rules.Observation{
			Condition: domain.TriggerMultipleYellow,
			Since:     yellowObs[1].Since,
			AlertID:   yellowObs[1].AlertID,
		})
	}

	return observations, nil
}

// Risk prediction is deliberately simple: no model, just trend. Three
// strictly falling daily health scores with the latest day off green flag
// the store before any single KPI has to cross red.
const (
	riskLookbackDays = 7
	riskMinDecline   = 3
)

func (e *Engine) riskObservation(ctx context.Context, storeID string) (*rules.Observation, error) {
	history, err := e.store.SnapshotHistory(ctx, storeID, riskLookbackDays)
	if err != nil {
		return nil, fmt.Errorf("snapshot history for %s: %w", storeID, err)
	}
	if len(history) < riskMinDecline {
		return nil, nil
	}
	if history[0].OverallStatus == domain.StatusGreen {
		return nil, nil
	}

	// History is newest-first. Walk back while each prior consecutive day
	// scored strictly higher.
	start := history[0]
	runLen := 1
	for _, prev := range history[1:] {
		if !consecutiveDays(prev.Date, start.Date) || prev.HealthScore <= start.HealthScore {
			break
		}
		start = prev
		runLen++
	}
	if runLen < riskMinDecline {
		return nil, nil
	}

	since, err := time.Parse("2006-01-02", start.Date)
	if err != nil {
		return nil, nil
	}
	return &rules.Observation{
		Condition: domain.TriggerPredictedRisk,
		Since:     since,
	}, nil
}

func consecutiveDays(prev, next string) bool {
	p, errP := time.Parse("2006-01-02", prev)
	n, errN := time.Parse("2006-01-02", next)
	if errP != nil || errN != nil {
		return false
	}
	return p.AddDate(0, 0, 1).Equal(n)
}

// alertRuns indexes a store's alert history by KPI and day so an open
// alert's hold clock can be walked back through expired predecessors.
// Only the newest row per (kpi, day) counts: a day re-raised after a
// correction is represented by its latest state.
type alertRuns struct {
	byDay map[string]map[string]domain.Alert
}

func newAlertRuns(history []domain.Alert) *alertRuns {
	byDay := make(map[string]map[string]domain.Alert)
	// history arrives newest-first, so the first row seen wins its day
	for _, a := range history {
		days, ok := byDay[a.KpiCode]
		if !ok {
			days = make(map[string]domain.Alert)
			byDay[a.KpiCode] = days
		}
		if _, seen := days[a.Day]; !seen {
			days[a.Day] = a
		}
	}
	return &alertRuns{byDay: byDay}
}

// start returns the AlertDate opening the contiguous daily run ending at
// the given alert. The walk steps back one day at a time while the
// previous day holds the same severity. A resolved row breaks the run;
// an expired one keeps it alive.
func (r *alertRuns) start(anchor domain.Alert) time.Time {
	earliest := anchor
	day, err := time.Parse("2006-01-02", anchor.Day)
	if err != nil {
		return anchor.AlertDate
	}

	days := r.byDay[anchor.KpiCode]
	for {
		day = day.AddDate(0, 0, -1)
		prev, ok := days[day.Format("2006-01-02")]
		if !ok || prev.Severity != anchor.Severity || prev.Status == domain.AlertResolved {
			return earliest.AlertDate
		}
		earliest = prev
	}
}

// RunFleetPass reprocesses every active store for one date, bounded by
// the configured parallelism. Single-store failures are logged, counted
// and do not abort the pass.
func (e *Engine) RunFleetPass(ctx context.Context, date string, now time.Time) (processed, failed int, err error) {
	stores, err := e.store.ListActiveStores(ctx, e.opts.Organization)
	if err != nil {
		return 0, 0, fmt.Errorf("list stores: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Parallelism)

	for _, st := range stores {
		storeID := st.ID
		g.Go(func() error {
			_, perr := e.ProcessStore(gctx, storeID, date, now)
			mu.Lock()
			defer mu.Unlock()
			if perr != nil {
				failed++
				log.Printf("engine: fleet pass store %s: %v", storeID, perr)
			} else {
				processed++
			}
			return nil
		})
	}
	if werr := g.Wait(); werr != nil {
		return processed, failed, werr
	}
	return processed, failed, nil
}

// ResolveStore resolves a store's escalation back to level 0, closing its
// open alerts on the way.
func (e *Engine) ResolveStore(ctx context.Context, storeID, resolution, resolvedBy string, now time.Time) (*domain.Escalation, error) {
	unlock := e.lockStore(storeID)
	defer unlock()

	if _, err := e.store.GetStore(ctx, storeID); err != nil {
		return nil, fmt.Errorf("store %s: %w", storeID, err)
	}

	esc, err := e.machine.Resolve(ctx, storeID, resolution, resolvedBy, now)
	if err != nil {
		return nil, err
	}
	if esc == nil {
		return nil, nil // already at level 0
	}

	closed, err := e.alerts.ResolveStoreAlerts(ctx, storeID, resolvedBy, now)
	if err != nil {
		return esc, fmt.Errorf("close alerts for %s: %w", storeID, err)
	}
	log.Printf("engine: store %s resolved from level %d (%d alerts closed)", storeID, esc.FromLevel, closed)
	return esc, nil
}
