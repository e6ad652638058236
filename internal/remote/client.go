// Package remote defines the narrow contract the sync engine consumes
// from the REST gateway, and a JSON-over-HTTP implementation of it.
//
// The engine never branches on transport details; it keys exclusively on
// the failure taxonomy in errors.go: transient, permanent, not-found.
package remote

import (
	"context"

	"github.com/okutins/plansync/internal/models"
)

// CanonicalEntity is the server's authoritative record: the snapshot as
// the server stores it, plus the server-assigned identifier.
type CanonicalEntity struct {
	RemoteID string
	Snapshot models.Snapshot
}

// ListResult is one page of a collection listing.
type ListResult struct {
	Entities []CanonicalEntity

	// Cursor is an opaque pagination/etag token to pass on the next
	// listing. Empty when the server returned a full snapshot.
	Cursor string
}

// Client is the gateway contract. Implementations must classify every
// failure so errors.Is works against ErrNotFound and IsTransient /
// IsPermanent behave per the taxonomy.
type Client interface {
	// CreateEntity sends a locally created entity and returns the
	// canonical record, including the server-assigned id.
	CreateEntity(ctx context.Context, s models.Snapshot) (CanonicalEntity, error)

	// UpdateEntity overwrites the remote record identified by remoteID.
	UpdateEntity(ctx context.Context, remoteID string, s models.Snapshot) (CanonicalEntity, error)

	// DeleteEntity removes the remote record identified by remoteID.
	DeleteEntity(ctx context.Context, typ models.EntityType, remoteID string) error

	// ListEntities returns the collection for one entity type. An empty
	// cursor requests a full snapshot.
	ListEntities(ctx context.Context, typ models.EntityType, cursor string) (ListResult, error)

	// Ping probes reachability; used by the connectivity monitor.
	Ping(ctx context.Context) error
}
