package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrEmptySnapshot     = errors.New("snapshot carries no entity")
)

// Snapshot is a tagged union over the supported entity schemas. It is the
// payload of a pending action: the exact entity state captured at enqueue
// time. The Type tag lets the drain loop dispatch exhaustively without
// runtime type inspection.
//
// Exactly one of Task or Event is set, matching Type.
type Snapshot struct {
	Type  EntityType `json:"type"`
	Task  *Task      `json:"task,omitempty"`
	Event *Event     `json:"event,omitempty"`
}

// TaskSnapshot wraps a task value into a snapshot.
func TaskSnapshot(t Task) Snapshot {
	return Snapshot{Type: EntityTypeTask, Task: &t}
}

// EventSnapshot wraps an event value into a snapshot.
func EventSnapshot(e Event) Snapshot {
	return Snapshot{Type: EntityTypeEvent, Event: &e}
}

// Validate checks the tag/payload pairing.
func (s Snapshot) Validate() error {
	switch s.Type {
	case EntityTypeTask:
		if s.Task == nil {
			return ErrEmptySnapshot
		}
		if s.Task.LocalID == "" {
			return fmt.Errorf("task snapshot: missing local id")
		}
	case EntityTypeEvent:
		if s.Event == nil {
			return ErrEmptySnapshot
		}
		if s.Event.LocalID == "" {
			return fmt.Errorf("event snapshot: missing local id")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEntityType, s.Type)
	}
	return nil
}

// LocalID returns the device-assigned identifier of the wrapped entity.
func (s Snapshot) LocalID() string {
	switch s.Type {
	case EntityTypeTask:
		if s.Task != nil {
			return s.Task.LocalID
		}
	case EntityTypeEvent:
		if s.Event != nil {
			return s.Event.LocalID
		}
	}
	return ""
}

// RemoteID returns the server-assigned identifier, or "" while the entity
// is still pending-create.
func (s Snapshot) RemoteID() string {
	switch s.Type {
	case EntityTypeTask:
		if s.Task != nil {
			return s.Task.RemoteID
		}
	case EntityTypeEvent:
		if s.Event != nil {
			return s.Event.RemoteID
		}
	}
	return ""
}

// UpdatedAt returns the wrapped entity's modification time.
func (s Snapshot) UpdatedAt() time.Time {
	switch s.Type {
	case EntityTypeTask:
		if s.Task != nil {
			return s.Task.UpdatedAt
		}
	case EntityTypeEvent:
		if s.Event != nil {
			return s.Event.UpdatedAt
		}
	}
	return time.Time{}
}

// Deleted reports whether the wrapped entity is tombstoned.
func (s Snapshot) Deleted() bool {
	switch s.Type {
	case EntityTypeTask:
		return s.Task != nil && s.Task.Deleted
	case EntityTypeEvent:
		return s.Event != nil && s.Event.Deleted
	}
	return false
}

// Clone returns a deep copy so callers can mutate the result without
// aliasing the original.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Type: s.Type}
	if s.Task != nil {
		t := *s.Task
		t.Labels = slices.Clone(s.Task.Labels)
		if s.Task.DueDate != nil {
			d := *s.Task.DueDate
			t.DueDate = &d
		}
		out.Task = &t
	}
	if s.Event != nil {
		e := *s.Event
		e.Labels = slices.Clone(s.Event.Labels)
		out.Event = &e
	}
	return out
}

// WithRemoteID returns a copy of the snapshot with the server-assigned
// identifier set on the wrapped entity.
func (s Snapshot) WithRemoteID(remoteID string) Snapshot {
	out := s.Clone()
	switch out.Type {
	case EntityTypeTask:
		if out.Task != nil {
			out.Task.RemoteID = remoteID
		}
	case EntityTypeEvent:
		if out.Event != nil {
			out.Event.RemoteID = remoteID
		}
	}
	return out
}

// WithLocalID returns a copy of the snapshot re-keyed to the given
// device-assigned identifier. Used when merging a remote record onto an
// existing local row.
func (s Snapshot) WithLocalID(localID string) Snapshot {
	out := s.Clone()
	switch out.Type {
	case EntityTypeTask:
		if out.Task != nil {
			out.Task.LocalID = localID
		}
	case EntityTypeEvent:
		if out.Event != nil {
			out.Event.LocalID = localID
		}
	}
	return out
}

// WithDeleted returns a copy of the snapshot with the tombstone flag set.
func (s Snapshot) WithDeleted(deleted bool) Snapshot {
	out := s.Clone()
	switch out.Type {
	case EntityTypeTask:
		if out.Task != nil {
			out.Task.Deleted = deleted
		}
	case EntityTypeEvent:
		if out.Event != nil {
			out.Event.Deleted = deleted
		}
	}
	return out
}

// Equal reports whether two snapshots carry the same user-visible entity
// state. Used for silent no-op rejection on Apply.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.Type != o.Type {
		return false
	}
	switch s.Type {
	case EntityTypeTask:
		if s.Task == nil || o.Task == nil {
			return s.Task == o.Task
		}
		return s.Task.Equal(*o.Task)
	case EntityTypeEvent:
		if s.Event == nil || o.Event == nil {
			return s.Event == o.Event
		}
		return s.Event.Equal(*o.Event)
	}
	return false
}
