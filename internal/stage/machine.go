// Package stage decides and applies workflow transitions for tracked records.
package stage

import (
	"context"
	"errors"
	"fmt"

	"DropTracker/internal/domain"
	"DropTracker/internal/ports"
)

// Machine is stateless: the only state it reads is the record's current stage,
// and the only write it performs goes through the record store.
type Machine struct {
	store ports.RecordStore
}

// NewMachine wires the store used to persist approved transitions.
func NewMachine(store ports.RecordStore) *Machine {
	return &Machine{store: store}
}

// Check reports whether current -> requested is legal in c's workflow.
// Requesting the current stage is accepted as a no-op.
func Check(c domain.Collection, current, requested domain.Stage) error {
	if !c.Workflow.Has(requested) {
		return domain.NewError(domain.KindInvalidInput,
			fmt.Sprintf("stage %q is not defined for collection %s", requested, c.Name), nil)
	}
	if current == requested || c.Workflow.Allows(current, requested) {
		return nil
	}
	return domain.NewError(domain.KindIllegalTransition,
		fmt.Sprintf("cannot move from %s to %s in collection %s", current, requested, c.Name), nil)
}

// Transition validates the move and persists it. It returns the stage the
// record is in afterwards.
func (m *Machine) Transition(ctx context.Context, c domain.Collection, rec domain.TrackedRecord, requested domain.Stage) (domain.Stage, error) {
	if err := Check(c, rec.Stage, requested); err != nil {
		return rec.Stage, err
	}
	if rec.Stage == requested {
		return requested, nil
	}

	err := m.store.UpdateStage(ctx, c, rec.ID, rec.Stage, requested)
	if errors.Is(err, ports.ErrStageChanged) {
		return m.resolveConflict(ctx, c, rec, requested)
	}
	if err != nil {
		return rec.Stage, err
	}
	return requested, nil
}

// resolveConflict re-reads a record whose stage moved after rec was loaded.
// A record that already reached requested counts as done; anything else is
// reported against the stage it holds now.
func (m *Machine) resolveConflict(ctx context.Context, c domain.Collection, rec domain.TrackedRecord, requested domain.Stage) (domain.Stage, error) {
	current, err := m.store.Get(ctx, c, rec.ID)
	if err != nil {
		return rec.Stage, err
	}
	if current.Stage == requested {
		return requested, nil
	}
	return current.Stage, domain.NewError(domain.KindIllegalTransition,
		fmt.Sprintf("cannot move from %s to %s in collection %s: stage changed concurrently",
			current.Stage, requested, c.Name), nil)
}
