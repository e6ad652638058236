package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okutins/plansync/internal/models"
	_ "modernc.org/sqlite"
)

func setupStore(t *testing.T) (*Repository, *sql.DB) {
	t.Helper()
	db, err := InitDatabase(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), db
}

func testTask(localID string) models.Snapshot {
	return models.TaskSnapshot(models.Task{
		LocalID:   localID,
		Title:     "Buy milk",
		Labels:    []string{"errand"},
		UpdatedAt: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
	})
}

func TestRepository_PutGet_Roundtrip(t *testing.T) {
	repo, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testTask("loc-1")))

	got, err := repo.Get(ctx, "loc-1")
	require.NoError(t, err)
	require.NotNil(t, got.Task)
	assert.Equal(t, "Buy milk", got.Task.Title)
	assert.Empty(t, got.RemoteID(), "new entity must be pending-create")
	assert.False(t, got.Deleted())
}

func TestRepository_Get_NotFound(t *testing.T) {
	repo, _ := setupStore(t)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_Put_Upserts(t *testing.T) {
	repo, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testTask("loc-1")))

	s := testTask("loc-1")
	s.Task.Title = "Buy oat milk"
	require.NoError(t, repo.Put(ctx, s))

	got, err := repo.Get(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "Buy oat milk", got.Task.Title)

	all, err := repo.List(ctx, models.EntityTypeTask, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepository_List_ExcludesTombstonesByDefault(t *testing.T) {
	repo, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testTask("loc-1")))
	require.NoError(t, repo.Put(ctx, testTask("loc-2")))
	require.NoError(t, repo.MarkDeleted(ctx, "loc-1", time.Now()))

	visible, err := repo.List(ctx, models.EntityTypeTask, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "loc-2", visible[0].LocalID())

	all, err := repo.List(ctx, models.EntityTypeTask, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRepository_MarkDeleted_SetsTombstone(t *testing.T) {
	repo, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testTask("loc-1")))
	require.NoError(t, repo.MarkDeleted(ctx, "loc-1", time.Now()))

	got, err := repo.Get(ctx, "loc-1")
	require.NoError(t, err)
	assert.True(t, got.Deleted(), "tombstone must survive until purge")

	assert.ErrorIs(t, repo.MarkDeleted(ctx, "missing", time.Now()), ErrNotFound)
}

func TestRepository_Purge_RemovesPermanently(t *testing.T) {
	repo, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testTask("loc-1")))
	require.NoError(t, repo.Purge(ctx, "loc-1"))

	_, err := repo.Get(ctx, "loc-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Purging an absent entity is idempotent.
	require.NoError(t, repo.Purge(ctx, "loc-1"))
}

func TestRepository_ReassignRemoteID(t *testing.T) {
	repo, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testTask("loc-1")))
	require.NoError(t, repo.ReassignRemoteID(ctx, "loc-1", "srv-42"))

	got, err := repo.Get(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "srv-42", got.RemoteID())

	byRemote, err := repo.GetByRemoteID(ctx, models.EntityTypeTask, "srv-42")
	require.NoError(t, err)
	assert.Equal(t, "loc-1", byRemote.LocalID())

	assert.ErrorIs(t, repo.ReassignRemoteID(ctx, "missing", "srv-43"), ErrNotFound)
}

func TestRepository_SyncState_Lifecycle(t *testing.T) {
	repo, _ := setupStore(t)
	ctx := context.Background()

	st, err := repo.GetSyncState(ctx, models.EntityTypeTask)
	require.NoError(t, err)
	assert.True(t, st.LastFullSyncAt.IsZero(), "missing row yields zero state")

	now := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetSyncState(ctx, models.SyncState{
		EntityType:     models.EntityTypeTask,
		LastFullSyncAt: now,
		Cursor:         "etag-7",
	}))

	st, err = repo.GetSyncState(ctx, models.EntityTypeTask)
	require.NoError(t, err)
	assert.True(t, st.LastFullSyncAt.Equal(now))
	assert.Equal(t, "etag-7", st.Cursor)
}

func TestRepository_Reset_WipesEverything(t *testing.T) {
	repo, db := setupStore(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, testTask("loc-1")))
	require.NoError(t, repo.SetSyncState(ctx, models.SyncState{EntityType: models.EntityTypeTask}))
	require.NoError(t, repo.Reset(ctx))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sync_state`).Scan(&n))
	assert.Zero(t, n)
}

func TestNotifier_DeliversToMatchingSubscribers(t *testing.T) {
	n := NewNotifier()

	tasks, cancelTasks := n.Subscribe(models.EntityTypeTask)
	defer cancelTasks()
	all, cancelAll := n.Subscribe("")
	defer cancelAll()

	n.Publish(Change{EntityType: models.EntityTypeTask, LocalID: "loc-1"})
	n.Publish(Change{EntityType: models.EntityTypeEvent, LocalID: "loc-2"})

	require.Len(t, tasks, 1)
	got := <-tasks
	assert.Equal(t, "loc-1", got.LocalID)

	require.Len(t, all, 2)
}

func TestNotifier_DropsWhenSubscriberIsFull(t *testing.T) {
	n := NewNotifier()

	ch, cancel := n.Subscribe(models.EntityTypeTask)
	defer cancel()

	// A writer must never block, no matter how far behind the observer is.
	for i := 0; i < 100; i++ {
		n.Publish(Change{EntityType: models.EntityTypeTask, LocalID: "loc"})
	}
	assert.Equal(t, cap(ch), len(ch))
}

func TestNotifier_CancelStopsDelivery(t *testing.T) {
	n := NewNotifier()

	ch, cancel := n.Subscribe(models.EntityTypeTask)
	cancel()

	n.Publish(Change{EntityType: models.EntityTypeTask, LocalID: "loc-1"})
	_, open := <-ch
	assert.False(t, open, "channel must be closed after cancel")
}
