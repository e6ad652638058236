package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/okutins/plansync/internal/dbx"
	"github.com/okutins/plansync/internal/models"
	"github.com/okutins/plansync/internal/queue"
	"github.com/okutins/plansync/internal/remote"
	"github.com/okutins/plansync/internal/store"
)

// Sync runs one full cycle: drain the pending queue, then reconcile local
// state with the server's canonical listings.
func (c *Coordinator) Sync(ctx context.Context) error {
	if err := c.Drain(ctx); err != nil {
		return err
	}
	return c.FullSync(ctx)
}

// Drain sends pending actions to the gateway in enqueue order until the
// active queue is empty. At most one drain runs at a time; a second call
// while one is in flight returns immediately.
//
// Per action: success removes it; a transient failure is retried with
// exponential backoff until the persisted budget runs out, then the action
// is flagged permanently failed and the drain moves on; a 404 on update or
// delete means the entity was deleted upstream and resolves by purging the
// local record. Cancellation stops the drain between actions.
func (c *Coordinator) Drain(ctx context.Context) error {
	if !c.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer c.draining.Store(false)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		actions, err := c.actions.ListActive(ctx)
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			return nil
		}
		for _, a := range actions {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.processAction(ctx, a); err != nil {
				return err
			}
		}
	}
}

// permanentError marks a dispatch failure that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (c *Coordinator) processAction(ctx context.Context, a models.PendingAction) error {
	log := c.logger.With("action_id", a.ID, "action", string(a.Action), "entity", a.TargetLocalID)

	remoteID, err := c.remoteIDFor(ctx, a)
	if err != nil {
		return err
	}
	switch {
	case a.Action == models.ActionDelete && remoteID == "":
		// The entity never reached the server; resolve locally.
		return c.reconcileMissing(ctx, a)
	case a.Action == models.ActionUpdate && remoteID == "":
		return c.failAction(ctx, a, errors.New("update target has no server id"))
	}

	remaining := c.maxAttempts - a.RetryCount
	if remaining < 1 {
		return c.failAction(ctx, a, errors.New("retry budget exhausted"))
	}

	retryCount := a.RetryCount
	backoff := retry.WithMaxRetries(uint64(remaining-1), retry.NewExponential(c.backoffBase))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		canon, dispatchErr := c.send(ctx, a, remoteID)
		switch {
		case dispatchErr == nil:
			return c.reconcileSuccess(ctx, a, canon)

		case remote.IsNotFound(dispatchErr) && a.Action != models.ActionCreate:
			return c.reconcileMissing(ctx, a)

		case remote.IsTransient(dispatchErr):
			retryCount++
			if err := c.recordAttempt(ctx, a.ID, retryCount, dispatchErr); err != nil {
				return err
			}
			log.Warn(ctx, "dispatch failed, will retry", "attempt", retryCount, "error", dispatchErr)
			return retry.RetryableError(dispatchErr)

		default:
			return permanentError{dispatchErr}
		}
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}

	var perm permanentError
	if errors.As(err, &perm) {
		return c.failAction(ctx, a, perm.err)
	}
	if remote.IsTransient(err) {
		// Budget exhausted within this drain.
		return c.failAction(ctx, a, err)
	}
	return err
}

// remoteIDFor resolves the server id an update or delete must address.
// The enqueue-time snapshot usually carries it; when the entity was
// created earlier in the same drain, the store does.
func (c *Coordinator) remoteIDFor(ctx context.Context, a models.PendingAction) (string, error) {
	if a.Action == models.ActionCreate {
		return "", nil
	}
	if id := a.Snapshot.RemoteID(); id != "" {
		return id, nil
	}
	s, err := c.entities.Get(ctx, a.TargetLocalID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.RemoteID(), nil
}

func (c *Coordinator) send(ctx context.Context, a models.PendingAction, remoteID string) (remote.CanonicalEntity, error) {
	switch a.Action {
	case models.ActionCreate:
		return c.gateway.CreateEntity(ctx, a.Snapshot)
	case models.ActionUpdate:
		return c.gateway.UpdateEntity(ctx, remoteID, a.Snapshot)
	case models.ActionDelete:
		return remote.CanonicalEntity{}, c.gateway.DeleteEntity(ctx, a.EntityType, remoteID)
	default:
		return remote.CanonicalEntity{}, models.ErrInvalidAction
	}
}

// reconcileSuccess applies the server's acknowledgement locally. If a
// newer edit coalesced into the action row while the request was in
// flight, the row stays queued (a confirmed create becomes an update) and
// the canonical body is not applied — the pending edit wins.
func (c *Coordinator) reconcileSuccess(ctx context.Context, a models.PendingAction, canon remote.CanonicalEntity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var publish bool
	err := dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		entities := store.New(tx)
		actions := queue.New(tx)

		if a.Action == models.ActionDelete {
			if err := entities.Purge(ctx, a.TargetLocalID); err != nil {
				return err
			}
			publish = true
			return ignoreGone(actions.Remove(ctx, a.ID))
		}

		if a.Action == models.ActionCreate {
			err := entities.ReassignRemoteID(ctx, a.TargetLocalID, canon.RemoteID)
			if errors.Is(err, store.ErrNotFound) {
				// Purged locally while the create was in flight.
				return ignoreGone(actions.Remove(ctx, a.ID))
			}
			if err != nil {
				return err
			}
		}

		fresh, err := actions.Get(ctx, a.ID)
		if errors.Is(err, queue.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if fresh.Action == models.ActionDelete || !fresh.Snapshot.Equal(a.Snapshot) {
			if fresh.Action == models.ActionCreate {
				return actions.ConvertToUpdate(ctx, a.ID)
			}
			return nil
		}

		if err := entities.Put(ctx, canon.Snapshot.WithLocalID(a.TargetLocalID)); err != nil {
			return err
		}
		publish = true
		return actions.Remove(ctx, a.ID)
	})
	if err != nil {
		return err
	}
	if publish {
		c.notifier.Publish(store.Change{EntityType: a.EntityType, LocalID: a.TargetLocalID})
	}
	return nil
}

// reconcileMissing handles the server reporting the entity gone: deletion
// on another device wins, so the local record is purged and the action
// resolved without surfacing an error to the user.
func (c *Coordinator) reconcileMissing(ctx context.Context, a models.PendingAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := store.New(tx).Purge(ctx, a.TargetLocalID); err != nil {
			return err
		}
		return ignoreGone(queue.New(tx).Remove(ctx, a.ID))
	})
	if err != nil {
		return err
	}

	c.logger.Info(ctx, "entity gone upstream, purged locally",
		"entity", a.TargetLocalID, "action", string(a.Action))
	c.notifier.Publish(store.Change{EntityType: a.EntityType, LocalID: a.TargetLocalID})
	return nil
}

func (c *Coordinator) recordAttempt(ctx context.Context, actionID string, retryCount int, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.actions.RecordAttempt(ctx, actionID, retryCount, time.Now().UTC(), cause.Error())
	return ignoreGone(err)
}

func (c *Coordinator) failAction(ctx context.Context, a models.PendingAction, cause error) error {
	c.mu.Lock()
	err := c.actions.MarkFailed(ctx, a.ID, cause.Error())
	c.mu.Unlock()
	if err := ignoreGone(err); err != nil {
		return err
	}

	c.logger.Warn(ctx, "action permanently failed",
		"action_id", a.ID, "action", string(a.Action), "entity", a.TargetLocalID, "error", cause)
	return nil
}

// ignoreGone drops the queue's not-found: the action being already gone is
// an acceptable outcome for every bookkeeping write here.
func ignoreGone(err error) error {
	if errors.Is(err, queue.ErrNotFound) {
		return nil
	}
	return err
}
