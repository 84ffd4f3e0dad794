package outreach

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/samijaber1/storepulse/internal/alerting"
	"github.com/samijaber1/storepulse/internal/domain"
	"github.com/samijaber1/storepulse/internal/storage"
)

// CallStore is the slice of storage the trigger needs.
type CallStore interface {
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
	CurrentLevel(ctx context.Context, storeID string) (domain.EscalationLevel, error)
	CreateCallRecord(ctx context.Context, c *domain.CallRecord) (int64, error)
	UpdateCallRecord(ctx context.Context, c *domain.CallRecord) error
	GetCallByExternalID(ctx context.Context, externalID string) (*domain.CallRecord, error)
	HasNonFailedCall(ctx context.Context, escalationID int64) (bool, error)
	CreateTask(ctx context.Context, t *domain.Task) (int64, error)
}

// Trigger places at most one successful outreach call per escalation.
// The call record is committed before the provider is contacted, so a
// crash between the two leaves a scheduled record, never a duplicate
// call; the non-failed-call uniqueness constraint in storage is the
// backstop under concurrent triggers.
type Trigger struct {
	store       CallStore
	dialer      CallDialer
	retryDelay  time.Duration
	callbackURL string
}

// NewTrigger creates an outreach trigger.
func NewTrigger(store CallStore, dialer CallDialer) *Trigger {
	return &Trigger{store: store, dialer: dialer, retryDelay: 30 * time.Second}
}

// SetCallbackURL sets the base URL the provider posts status and
// response webhooks to. Empty disables callbacks.
func (t *Trigger) SetCallbackURL(url string) {
	t.callbackURL = url
}

// TriggerCall initiates the outreach call for an escalation. It is safe
// to call repeatedly for the same escalation: once any non-failed call
// exists the trigger is a no-op. A store with no reachable manager gets
// a manual follow-up task instead of a call.
func (t *Trigger) TriggerCall(ctx context.Context, store *domain.Store, esc *domain.Escalation, snap *domain.HealthSnapshot, now time.Time) (*domain.CallRecord, error) {
	done, err := t.store.HasNonFailedCall(ctx, esc.ID)
	if err != nil {
		return nil, fmt.Errorf("check calls for escalation %d: %w", esc.ID, err)
	}
	if done {
		return nil, nil
	}

	if store.Manager.Phone == "" {
		log.Printf("outreach: store %s has no manager phone, dispatching follow-up instead", store.ID)
		task := alerting.FollowUpTask(store, esc, now)
		if _, err := t.store.CreateTask(ctx, &task); err != nil {
			return nil, fmt.Errorf("create follow-up for %s: %w", store.ID, err)
		}
		return nil, nil
	}

	script, err := RenderScript(snap.OverallStatus, ScriptVars{
		ManagerName: store.Manager.Name,
		StoreName:   store.Name,
		HealthScore: snap.HealthScore,
		Summary:     snap.Summary,
		Level:       esc.ToLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("render script for %s: %w", store.ID, err)
	}

	newRecord := func() *domain.CallRecord {
		return &domain.CallRecord{
			StoreID:        store.ID,
			AlertID:        esc.AlertID,
			EscalationID:   esc.ID,
			CallType:       snap.OverallStatus,
			Status:         domain.CallScheduled,
			RecipientName:  store.Manager.Name,
			RecipientPhone: store.Manager.Phone,
			Script:         script,
		}
	}
	req := CallRequest{
		StoreID:        store.ID,
		RecipientName:  store.Manager.Name,
		RecipientPhone: store.Manager.Phone,
		Script:         script,
		CallbackURL:    t.callbackURL,
	}

	record := newRecord()
	id, err := t.store.CreateCallRecord(ctx, record)
	if errors.Is(err, storage.ErrDuplicate) {
		// Another pass already owns this escalation's call.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create call record for %s: %w", store.ID, err)
	}
	record.ID = id

	result, dialErr := t.dialer.InitiateCall(ctx, req)
	if dialErr == nil {
		return record, t.markPlaced(ctx, record, result, now)
	}
	t.markFailed(ctx, record)

	// One retry after a delay, as a fresh row: the failed attempt stays
	// in the audit trail, and marking it failed frees the per-escalation
	// uniqueness slot for the new record. Before retrying, re-read the
	// store's level: if the escalation moved on in the meantime, the
	// retry is abandoned.
	select {
	case <-ctx.Done():
	case <-time.After(t.retryDelay):
	}
	if ctx.Err() == nil {
		level, lerr := t.store.CurrentLevel(ctx, store.ID)
		if lerr != nil {
			return record, fmt.Errorf("re-check level before retry: %w", lerr)
		}
		if level != esc.ToLevel {
			log.Printf("outreach: store %s moved to level %d during retry window, abandoning call", store.ID, level)
			return record, nil
		}

		retry := newRecord()
		retryID, rerr := t.store.CreateCallRecord(ctx, retry)
		if errors.Is(rerr, storage.ErrDuplicate) {
			return record, nil
		}
		if rerr != nil {
			return record, fmt.Errorf("create retry call record for %s: %w", store.ID, rerr)
		}
		retry.ID = retryID

		result, rerr = t.dialer.InitiateCall(ctx, req)
		if rerr == nil {
			return retry, t.markPlaced(ctx, retry, result, now)
		}
		t.markFailed(ctx, retry)
		record, dialErr = retry, rerr
	}

	task := alerting.FollowUpTask(store, esc, now)
	if _, terr := t.store.CreateTask(ctx, &task); terr != nil {
		log.Printf("outreach: create follow-up for %s: %v", store.ID, terr)
	}
	return record, fmt.Errorf("dial %s: %w", store.ID, dialErr)
}

func (t *Trigger) markPlaced(ctx context.Context, record *domain.CallRecord, result CallResult, now time.Time) error {
	record.Status = result.Status
	record.ExternalCallID = result.ExternalCallID
	record.InitiatedAt = &now
	if err := t.store.UpdateCallRecord(ctx, record); err != nil {
		return fmt.Errorf("update call %d: %w", record.ID, err)
	}
	log.Printf("outreach: call %d placed for store %s escalation %d (external %s)",
		record.ID, record.StoreID, record.EscalationID, result.ExternalCallID)
	return nil
}

func (t *Trigger) markFailed(ctx context.Context, record *domain.CallRecord) {
	record.Status = domain.CallFailed
	if err := t.store.UpdateCallRecord(ctx, record); err != nil {
		log.Printf("outreach: mark call %d failed: %v", record.ID, err)
	}
}

// MapProviderStatus normalizes a provider webhook status to ours. Busy,
// canceled and provider-side failures all count as failed; only a ring
// with no pickup is no_answer, because the two feed different follow-up
// paths.
func MapProviderStatus(providerStatus string) domain.CallStatus {
	switch providerStatus {
	case "completed":
		return domain.CallCompleted
	case "no-answer", "no_answer":
		return domain.CallNoAnswer
	case "busy", "failed", "canceled", "cancelled":
		return domain.CallFailed
	case "queued", "initiated", "scheduled":
		return domain.CallScheduled
	default:
		return domain.CallInProgress
	}
}

// HandleCallStatus applies a provider status webhook to the call record.
// A terminal failure dispatches a manual follow-up task; the escalation
// level is never advanced here.
func (t *Trigger) HandleCallStatus(ctx context.Context, externalID, providerStatus string, durationSeconds int, now time.Time) (*domain.CallRecord, error) {
	record, err := t.store.GetCallByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", externalID, err)
	}

	status := MapProviderStatus(providerStatus)
	record.Status = status
	switch status {
	case domain.CallInProgress:
		if record.ConnectedAt == nil {
			record.ConnectedAt = &now
		}
	case domain.CallCompleted, domain.CallFailed, domain.CallNoAnswer:
		record.EndedAt = &now
		record.DurationSeconds = durationSeconds
	}
	if status == domain.CallNoAnswer {
		record.Response = domain.ResponseNoAnswer
		record.FollowUpNeeded = true
	}

	if err := t.store.UpdateCallRecord(ctx, record); err != nil {
		return record, fmt.Errorf("update call %d: %w", record.ID, err)
	}

	if status == domain.CallFailed || status == domain.CallNoAnswer {
		if err := t.dispatchFollowUp(ctx, record, now); err != nil {
			return record, err
		}
	}
	return record, nil
}

// HandleCallResponse applies a provider transcript webhook: classify the
// manager's answer and record whether a human needs to follow up. The
// follow-up flag marks a yes for later verification; failures and
// no-answers dispatch their follow-up from the status path instead.
func (t *Trigger) HandleCallResponse(ctx context.Context, externalID, transcript, sentiment string, now time.Time) (*domain.CallRecord, error) {
	record, err := t.store.GetCallByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", externalID, err)
	}

	record.Transcript = transcript
	record.Sentiment = sentiment
	record.Response = ClassifyResponse(transcript)
	record.FollowUpNeeded = record.Response == domain.ResponseYes

	if err := t.store.UpdateCallRecord(ctx, record); err != nil {
		return record, fmt.Errorf("update call %d: %w", record.ID, err)
	}
	return record, nil
}

func (t *Trigger) dispatchFollowUp(ctx context.Context, record *domain.CallRecord, now time.Time) error {
	store, err := t.store.GetStore(ctx, record.StoreID)
	if err != nil {
		return fmt.Errorf("store %s: %w", record.StoreID, err)
	}
	esc := &domain.Escalation{
		StoreID: record.StoreID,
		AlertID: record.AlertID,
		ID:      record.EscalationID,
		Reason:  fmt.Sprintf("Outreach call %d ended %s without confirmation.", record.ID, record.Status),
	}
	task := alerting.FollowUpTask(store, esc, now)
	if _, err := t.store.CreateTask(ctx, &task); err != nil {
		return fmt.Errorf("create follow-up for %s: %w", record.StoreID, err)
	}
	return nil
}
