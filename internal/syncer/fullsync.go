package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okutins/plansync/internal/dbx"
	"github.com/okutins/plansync/internal/models"
	"github.com/okutins/plansync/internal/queue"
	"github.com/okutins/plansync/internal/store"
)

// FullSync reconciles each collection with the server's canonical listing.
//
// Merge policy is last-write-wins at whole-record granularity, with one
// override: an entity with an outstanding local action (active or
// permanently failed) keeps its local state untouched. The change reaches
// the server on a later drain, or the user discards it, and the record
// converges then.
func (c *Coordinator) FullSync(ctx context.Context) error {
	for _, typ := range models.EntityTypes() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.syncCollection(ctx, typ); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) syncCollection(ctx context.Context, typ models.EntityType) error {
	st, err := c.entities.GetSyncState(ctx, typ)
	if err != nil {
		return err
	}

	res, err := c.gateway.ListEntities(ctx, typ, st.Cursor)
	if err != nil {
		return fmt.Errorf("full sync %s: %w", typ, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var changes []store.Change
	err = dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		entities := store.New(tx)
		actions := queue.New(tx)

		// Failed actions count as outstanding too: they stay in the log
		// until the user retries or discards them, and protect their
		// entity from being overwritten or purged in the meantime.
		active, err := actions.ListActive(ctx)
		if err != nil {
			return err
		}
		failed, err := actions.ListFailed(ctx)
		if err != nil {
			return err
		}
		pending := make(map[string]bool, len(active)+len(failed))
		for _, a := range active {
			pending[a.TargetLocalID] = true
		}
		for _, a := range failed {
			pending[a.TargetLocalID] = true
		}

		seen := make(map[string]bool, len(res.Entities))
		for _, canon := range res.Entities {
			seen[canon.RemoteID] = true

			local, err := entities.GetByRemoteID(ctx, typ, canon.RemoteID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				// New upstream. Adopt it under a fresh local id unless the
				// server echoed the one this device minted.
				localID := canon.Snapshot.LocalID()
				if localID == "" {
					localID = uuid.NewString()
				}
				if err := entities.Put(ctx, canon.Snapshot.WithLocalID(localID)); err != nil {
					return err
				}
				changes = append(changes, store.Change{EntityType: typ, LocalID: localID})

			case err != nil:
				return err

			case pending[local.LocalID()]:
				// Local pending change wins until the drain confirms it.

			default:
				merged := canon.Snapshot.WithLocalID(local.LocalID())
				if local.Equal(merged) {
					continue
				}
				if err := entities.Put(ctx, merged); err != nil {
					return err
				}
				changes = append(changes, store.Change{EntityType: typ, LocalID: local.LocalID()})
			}
		}

		// A cursor-less request returned the complete collection: any
		// synced local record absent from it was deleted on another device.
		if st.Cursor == "" {
			locals, err := entities.List(ctx, typ, true)
			if err != nil {
				return err
			}
			for _, l := range locals {
				if l.RemoteID() == "" || seen[l.RemoteID()] || pending[l.LocalID()] {
					continue
				}
				if err := entities.Purge(ctx, l.LocalID()); err != nil {
					return err
				}
				changes = append(changes, store.Change{EntityType: typ, LocalID: l.LocalID()})
			}
		}

		return entities.SetSyncState(ctx, models.SyncState{
			EntityType:     typ,
			LastFullSyncAt: time.Now().UTC(),
			Cursor:         res.Cursor,
		})
	})
	if err != nil {
		return err
	}

	for _, ch := range changes {
		c.notifier.Publish(ch)
	}
	return nil
}
