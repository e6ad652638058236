package models

import "time"

// SyncState is the per-collection bookkeeping row: when the last full
// fetch completed and the pagination cursor (or etag) the server handed
// back, if any. Created on first use, reset only on logout.
type SyncState struct {
	EntityType     EntityType
	LastFullSyncAt time.Time
	Cursor         string
}

// SyncStatus is the coordinator's snapshot surfaced to the UI layer.
type SyncStatus struct {
	Draining          bool
	LastSyncedAt      time.Time
	PendingCount      int
	PermanentFailures []PendingAction
}
