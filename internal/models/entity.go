// Package models defines the client-side domain types shared by the local
// store, the pending-action queue and the sync coordinator.
package models

import (
	"slices"
	"time"
)

// EntityType classifies a syncable domain record.
type EntityType string

const (
	EntityTypeTask  EntityType = "task"
	EntityTypeEvent EntityType = "event"
)

// EntityTypes lists every supported entity type in a stable order.
// Full-sync iterates over this slice.
func EntityTypes() []EntityType {
	return []EntityType{EntityTypeTask, EntityTypeEvent}
}

// Task is a to-do item cached locally and synced with the server.
//
// LocalID is assigned on the device and never reused. RemoteID stays empty
// until the server confirms creation; an entity with an empty RemoteID is
// pending-create by definition.
type Task struct {
	LocalID   string     `json:"local_id"`
	RemoteID  string     `json:"remote_id,omitempty"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
	Labels    []string   `json:"labels,omitempty"`
	Completed bool       `json:"completed"`

	// Deleted marks the task as a tombstone (kept until the remote delete
	// is confirmed).
	Deleted bool `json:"deleted"`

	// Version is the monotonic, server-assigned version used for
	// staleness comparisons.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t Task) GetType() EntityType { return EntityTypeTask }

// Equal reports whether two tasks have identical user-visible state.
// Sync bookkeeping (Version, UpdatedAt) is deliberately ignored so that a
// mutation which changes nothing the user can see counts as a no-op.
func (t Task) Equal(o Task) bool {
	if t.LocalID != o.LocalID || t.Title != o.Title || t.Notes != o.Notes ||
		t.Completed != o.Completed || t.Deleted != o.Deleted {
		return false
	}
	if !timePtrEqual(t.DueDate, o.DueDate) {
		return false
	}
	return slices.Equal(t.Labels, o.Labels)
}

// Event is a calendar entry cached locally and synced with the server.
type Event struct {
	LocalID   string    `json:"local_id"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Title     string    `json:"title"`
	Location  string    `json:"location,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Labels    []string  `json:"labels,omitempty"`

	Deleted   bool      `json:"deleted"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e Event) GetType() EntityType { return EntityTypeEvent }

// Equal reports whether two events have identical user-visible state.
func (e Event) Equal(o Event) bool {
	if e.LocalID != o.LocalID || e.Title != o.Title || e.Location != o.Location ||
		e.Deleted != o.Deleted {
		return false
	}
	if !e.StartTime.Equal(o.StartTime) || !e.EndTime.Equal(o.EndTime) {
		return false
	}
	return slices.Equal(e.Labels, o.Labels)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
