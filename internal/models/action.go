package models

import (
	"errors"
	"time"
)

// ActionType classifies a pending mutation.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
)

var (
	ErrMissingTarget  = errors.New("mutation has no target")
	ErrInvalidAction  = errors.New("invalid action type")
	ErrMissingPayload = errors.New("mutation has no payload")
)

// PendingAction is one durable row of the not-yet-confirmed mutation log.
//
// Invariants (enforced by the queue):
//   - at most one active create/update action per TargetLocalID;
//   - a delete supersedes any still-pending create/update for the target;
//   - RetryCount persists across restarts, so relaunch is not a hidden
//     retry-budget reset.
type PendingAction struct {
	// ID identifies the action itself (not the entity).
	ID string

	// Seq is the enqueue sequence; global FIFO order.
	Seq int64

	Action        ActionType
	EntityType    EntityType
	TargetLocalID string

	// Snapshot is the entity state captured at enqueue time. The drain
	// loop sends this, never the live store state.
	Snapshot Snapshot

	RetryCount    int
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	LastError     string

	// Failed marks the action permanently failed. It stays in the log,
	// excluded from draining, until the user retries or discards it.
	Failed bool
}

// Mutation is what the UI layer hands to the coordinator: the desired
// entity state for create/update, or a target reference for delete.
type Mutation struct {
	Action     ActionType
	Snapshot   Snapshot   // create, update
	EntityType EntityType // delete
	LocalID    string     // delete
}

// CreateMutation builds a create mutation from a full entity snapshot.
func CreateMutation(s Snapshot) Mutation {
	return Mutation{Action: ActionCreate, Snapshot: s}
}

// UpdateMutation builds an update mutation from a full entity snapshot.
func UpdateMutation(s Snapshot) Mutation {
	return Mutation{Action: ActionUpdate, Snapshot: s}
}

// DeleteMutation builds a delete mutation targeting a local entity.
func DeleteMutation(typ EntityType, localID string) Mutation {
	return Mutation{Action: ActionDelete, EntityType: typ, LocalID: localID}
}

// Validate checks structural soundness before the mutation touches storage.
func (m Mutation) Validate() error {
	switch m.Action {
	case ActionCreate, ActionUpdate:
		if err := m.Snapshot.Validate(); err != nil {
			return err
		}
	case ActionDelete:
		if m.LocalID == "" {
			return ErrMissingTarget
		}
		switch m.EntityType {
		case EntityTypeTask, EntityTypeEvent:
		default:
			return ErrUnknownEntityType
		}
	default:
		return ErrInvalidAction
	}
	return nil
}

// Target returns the local ID the mutation refers to.
func (m Mutation) Target() string {
	if m.Action == ActionDelete {
		return m.LocalID
	}
	return m.Snapshot.LocalID()
}

// Type returns the entity type the mutation refers to.
func (m Mutation) Type() EntityType {
	if m.Action == ActionDelete {
		return m.EntityType
	}
	return m.Snapshot.Type
}
