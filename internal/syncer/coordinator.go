// Package syncer contains the coordinator that serializes local mutations,
// drains the pending-action queue to the REST gateway and reconciles local
// state with the server's canonical records.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okutins/plansync/internal/connectivity"
	"github.com/okutins/plansync/internal/dbx"
	"github.com/okutins/plansync/internal/logging"
	"github.com/okutins/plansync/internal/models"
	"github.com/okutins/plansync/internal/queue"
	"github.com/okutins/plansync/internal/remote"
	"github.com/okutins/plansync/internal/store"
)

// ErrEntityExists is returned when a create mutation targets a local id
// that is already in the store.
var ErrEntityExists = errors.New("entity already exists")

// Reachability is the slice of the connectivity monitor the coordinator
// consumes.
type Reachability interface {
	Status() connectivity.Status
	Subscribe() (<-chan connectivity.Status, func())
}

// Options tunes the coordinator. Zero values pick the defaults below.
type Options struct {
	Logger   logging.Logger
	Notifier *store.Notifier

	// BackoffBase is the first retry delay for transient dispatch
	// failures; subsequent delays double. Default 1s.
	BackoffBase time.Duration

	// MaxAttempts bounds dispatch attempts per action, counted across
	// restarts. Default 3.
	MaxAttempts int
}

// Coordinator is the single entry point for local mutations and the owner
// of the drain/full-sync cycle.
//
// All local writes — Apply transactions and post-dispatch reconciliation —
// go through mu, so a mutation and a drain never interleave their writes.
// Network calls happen outside the lock: Apply returns as soon as its
// transaction commits, regardless of connectivity.
type Coordinator struct {
	db       *sql.DB
	entities *store.Repository
	actions  *queue.Repository
	gateway  remote.Client
	monitor  Reachability
	notifier *store.Notifier
	logger   logging.Logger

	backoffBase time.Duration
	maxAttempts int

	mu       sync.Mutex
	draining atomic.Bool
	syncNow  chan struct{}
}

// New wires a Coordinator over an initialized local database.
func New(db *sql.DB, gateway remote.Client, monitor Reachability, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Notifier == nil {
		opts.Notifier = store.NewNotifier()
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Coordinator{
		db:          db,
		entities:    store.New(db),
		actions:     queue.New(db),
		gateway:     gateway,
		monitor:     monitor,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
		backoffBase: opts.BackoffBase,
		maxAttempts: opts.MaxAttempts,
		syncNow:     make(chan struct{}, 1),
	}
}

// Apply commits a mutation to the local store and enqueues it for the
// server, both in one transaction, then returns. It never touches the
// network; connectivity has no bearing on the result.
//
// A mutation that changes nothing the user can see is dropped silently, as
// is a delete of an entity that does not exist locally.
func (c *Coordinator) Apply(ctx context.Context, m models.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	target := m.Target()
	now := time.Now().UTC()

	current, err := c.entities.Get(ctx, target)
	exists := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	var snap models.Snapshot
	switch m.Action {
	case models.ActionCreate:
		if exists {
			return ErrEntityExists
		}
		snap = stamped(m.Snapshot, models.Snapshot{}, now)

	case models.ActionUpdate:
		if !exists {
			return store.ErrNotFound
		}
		if current.Equal(m.Snapshot) {
			return nil
		}
		snap = stamped(m.Snapshot, current, now)

	case models.ActionDelete:
		if !exists || current.Deleted() {
			return nil
		}
		snap = stamped(current.WithDeleted(true), current, now)
	}

	err = dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		entities := store.New(tx)
		actions := queue.New(tx)

		switch m.Action {
		case models.ActionCreate, models.ActionUpdate:
			if err := entities.Put(ctx, snap); err != nil {
				return err
			}
		case models.ActionDelete:
			if err := entities.MarkDeleted(ctx, target, now); err != nil {
				return err
			}
		}

		outcome, err := actions.Enqueue(ctx, models.PendingAction{
			ID:            uuid.NewString(),
			Action:        m.Action,
			EntityType:    m.Type(),
			TargetLocalID: target,
			Snapshot:      snap,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}
		if outcome == queue.OutcomeDroppedCreate {
			// The entity never reached the server; nothing to send,
			// nothing to keep.
			return entities.Purge(ctx, target)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.notifier.Publish(store.Change{EntityType: m.Type(), LocalID: target})
	c.requestSync()
	return nil
}

// stamped normalizes a snapshot before it is stored and enqueued: the
// mutation time is set and sync bookkeeping the UI does not own (server
// id, version) is carried over from the current local record.
func stamped(s, current models.Snapshot, now time.Time) models.Snapshot {
	out := s.Clone()
	switch out.Type {
	case models.EntityTypeTask:
		out.Task.UpdatedAt = now
		if current.Task != nil {
			out.Task.RemoteID = current.Task.RemoteID
			out.Task.Version = current.Task.Version
		}
	case models.EntityTypeEvent:
		out.Event.UpdatedAt = now
		if current.Event != nil {
			out.Event.RemoteID = current.Event.RemoteID
			out.Event.Version = current.Event.Version
		}
	}
	return out
}

// Get returns the local snapshot stored under localID.
func (c *Coordinator) Get(ctx context.Context, localID string) (models.Snapshot, error) {
	return c.entities.Get(ctx, localID)
}

// List returns the visible (non-tombstoned) entities of one type.
func (c *Coordinator) List(ctx context.Context, typ models.EntityType) ([]models.Snapshot, error) {
	return c.entities.List(ctx, typ, false)
}

// Watch subscribes to committed-write notifications for one entity type
// ("" for all). Consumers re-read the store on every notification.
func (c *Coordinator) Watch(typ models.EntityType) (<-chan store.Change, func()) {
	return c.notifier.Subscribe(typ)
}

// Status reports the coordinator's current view for the UI layer.
func (c *Coordinator) Status(ctx context.Context) (models.SyncStatus, error) {
	pending, err := c.actions.CountActive(ctx)
	if err != nil {
		return models.SyncStatus{}, err
	}
	failed, err := c.actions.ListFailed(ctx)
	if err != nil {
		return models.SyncStatus{}, err
	}

	var last time.Time
	for _, typ := range models.EntityTypes() {
		st, err := c.entities.GetSyncState(ctx, typ)
		if err != nil {
			return models.SyncStatus{}, err
		}
		if st.LastFullSyncAt.After(last) {
			last = st.LastFullSyncAt
		}
	}

	return models.SyncStatus{
		Draining:          c.draining.Load(),
		LastSyncedAt:      last,
		PendingCount:      pending,
		PermanentFailures: failed,
	}, nil
}

// RetryFailed puts a permanently failed action back on the active queue
// with a fresh retry budget and kicks a sync.
func (c *Coordinator) RetryFailed(ctx context.Context, actionID string) error {
	c.mu.Lock()
	err := c.actions.ResetFailed(ctx, actionID)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.requestSync()
	return nil
}

// DiscardFailed abandons a permanently failed action. A discarded create
// takes its never-synced entity with it; a discarded delete clears the
// local tombstone so the entity reappears.
func (c *Coordinator) DiscardFailed(ctx context.Context, actionID string) error {
	a, err := c.actions.Get(ctx, actionID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err = dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		entities := store.New(tx)
		actions := queue.New(tx)

		switch a.Action {
		case models.ActionCreate:
			if err := entities.Purge(ctx, a.TargetLocalID); err != nil {
				return err
			}
		case models.ActionDelete:
			s, err := entities.Get(ctx, a.TargetLocalID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if err == nil {
				if err := entities.Put(ctx, s.WithDeleted(false)); err != nil {
					return err
				}
			}
		}
		return actions.Remove(ctx, actionID)
	})
	if err != nil {
		return err
	}

	c.notifier.Publish(store.Change{EntityType: a.EntityType, LocalID: a.TargetLocalID})
	return nil
}

// Reset wipes all local state: entities, pending actions and sync
// bookkeeping. Used on logout.
func (c *Coordinator) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return store.New(tx).Reset(ctx)
	})
}

// SyncNow asks the run loop for an immediate sync cycle. Non-blocking;
// ignored while offline.
func (c *Coordinator) SyncNow() {
	c.requestSync()
}

func (c *Coordinator) requestSync() {
	select {
	case c.syncNow <- struct{}{}:
	default:
	}
}

// Run reacts to connectivity transitions and explicit sync requests until
// ctx is cancelled. A transition to reachable triggers a sync cycle; so
// does every Apply and SyncNow while reachable.
func (c *Coordinator) Run(ctx context.Context) error {
	events, cancel := c.monitor.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-events:
			if !ok {
				return nil
			}
			if s == connectivity.Reachable {
				c.syncAndLog(ctx)
			}
		case <-c.syncNow:
			if c.monitor.Status() == connectivity.Reachable {
				c.syncAndLog(ctx)
			}
		}
	}
}

func (c *Coordinator) syncAndLog(ctx context.Context) {
	if err := c.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error(ctx, "sync cycle failed", "error", err)
	}
}
