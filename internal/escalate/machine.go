package escalate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samijaber1/storepulse/internal/domain"
	"github.com/samijaber1/storepulse/internal/storage"
)

// Ledger is the slice of storage the state machine needs: the append-only
// escalation log plus the compare-and-swap level commit.
type Ledger interface {
	AppendEscalation(ctx context.Context, e *domain.Escalation, expectedFrom domain.EscalationLevel) (int64, error)
	CurrentLevel(ctx context.Context, storeID string) (domain.EscalationLevel, error)
}

// Transition is a validated request to move a store up the ladder.
type Transition struct {
	StoreID     string
	FromLevel   domain.EscalationLevel
	ToLevel     domain.EscalationLevel
	AlertID     int64
	TaskID      int64
	Reason      string
	TriggeredBy domain.EscalationTrigger
	Action      domain.RuleAction
	Target      Target
}

// Target is who the transition escalates to.
type Target struct {
	Role    string
	Name    string
	Contact string
}

// Machine owns the authoritative escalation level per store. Transitions
// only move upward; the sole path back to level 0 is an explicit, audited
// resolve. Every transition is persisted before any side effect runs, so
// side effects can always be traced back to a durable record.
type Machine struct {
	ledger Ledger
}

// NewMachine creates a state machine over the given ledger.
func NewMachine(ledger Ledger) *Machine {
	return &Machine{ledger: ledger}
}

// Apply validates and commits an upward transition, returning the persisted
// escalation row. A concurrent level change surfaces as
// storage.ErrStaleState; the caller must re-read and re-evaluate, never
// force-apply.
func (m *Machine) Apply(ctx context.Context, tr Transition, now time.Time) (*domain.Escalation, error) {
	if err := validateTransition(tr); err != nil {
		return nil, err
	}

	esc := &domain.Escalation{
		StoreID:     tr.StoreID,
		AlertID:     tr.AlertID,
		TaskID:      tr.TaskID,
		FromLevel:   tr.FromLevel,
		ToLevel:     tr.ToLevel,
		Reason:      tr.Reason,
		TriggeredBy: tr.TriggeredBy,
		Action:      tr.Action,
		EscalatedAt: now,
		ToRole:      tr.Target.Role,
		ToName:      tr.Target.Name,
		ToContact:   tr.Target.Contact,
		Status:      domain.EscalationPending,
	}

	id, err := m.ledger.AppendEscalation(ctx, esc, tr.FromLevel)
	if err != nil {
		return nil, fmt.Errorf("commit transition %d->%d for store %s: %w",
			tr.FromLevel, tr.ToLevel, tr.StoreID, err)
	}
	esc.ID = id

	return esc, nil
}

// Resolve is the explicit reset back to level 0. It reads the current
// level, appends an audit row recording the descent, and commits with the
// same compare-and-swap discipline as Apply. Resolving an already-normal
// store is a no-op.
func (m *Machine) Resolve(ctx context.Context, storeID, resolution, resolvedBy string, now time.Time) (*domain.Escalation, error) {
	current, err := m.ledger.CurrentLevel(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("read current level for store %s: %w", storeID, err)
	}
	if current == domain.LevelNormal {
		return nil, nil
	}

	esc := &domain.Escalation{
		StoreID:     storeID,
		FromLevel:   current,
		ToLevel:     domain.LevelNormal,
		Reason:      fmt.Sprintf("Resolved by %s: %s", resolvedBy, resolution),
		TriggeredBy: domain.TriggeredByManual,
		EscalatedAt: now,
		Status:      domain.EscalationResolved,
		Resolution:  resolution,
		ResolvedAt:  &now,
	}

	id, err := m.ledger.AppendEscalation(ctx, esc, current)
	if err != nil {
		return nil, fmt.Errorf("commit resolve for store %s: %w", storeID, err)
	}
	esc.ID = id

	return esc, nil
}

// validateTransition rejects anything except a single-direction upward move
// within the 0-4 ladder.
func validateTransition(tr Transition) error {
	if tr.StoreID == "" {
		return fmt.Errorf("transition missing store id")
	}
	if tr.FromLevel < domain.LevelNormal || tr.FromLevel >= domain.MaxEscalationLevel {
		return fmt.Errorf("invalid from_level %d", tr.FromLevel)
	}
	if tr.ToLevel <= tr.FromLevel {
		return fmt.Errorf("level transition %d->%d is not upward; use Resolve to reset", tr.FromLevel, tr.ToLevel)
	}
	if tr.ToLevel > domain.MaxEscalationLevel {
		return fmt.Errorf("to_level %d beyond ladder maximum %d", tr.ToLevel, domain.MaxEscalationLevel)
	}
	if tr.Reason == "" {
		return fmt.Errorf("transition requires an audit reason")
	}
	return nil
}

// TargetFor resolves who a level escalates to: the store manager through
// level 3, the district (or regional) manager at level 4.
func TargetFor(store *domain.Store, to domain.EscalationLevel) Target {
	if to >= domain.LevelRegional {
		if store.DistrictManager.Name != "" || store.DistrictManager.Phone != "" {
			return Target{
				Role:    "district_manager",
				Name:    store.DistrictManager.Name,
				Contact: firstNonEmpty(store.DistrictManager.Phone, store.DistrictManager.Email),
			}
		}
		if store.RegionalManager.Name != "" || store.RegionalManager.Phone != "" {
			return Target{
				Role:    "regional_manager",
				Name:    store.RegionalManager.Name,
				Contact: firstNonEmpty(store.RegionalManager.Phone, store.RegionalManager.Email),
			}
		}
		return Target{Role: "regional_ops", Name: "Regional Operations"}
	}

	return Target{
		Role:    "store_manager",
		Name:    store.Manager.Name,
		Contact: firstNonEmpty(store.Manager.Phone, store.Manager.Email),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsStale reports whether an error from Apply or Resolve was a lost
// compare-and-swap race.
func IsStale(err error) bool {
	return errors.Is(err, storage.ErrStaleState)
}
