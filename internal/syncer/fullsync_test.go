package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okutins/plansync/internal/models"
	"github.com/okutins/plansync/internal/remote"
	"github.com/okutins/plansync/internal/store"
)

func TestFullSync_AdoptsNewUpstreamRecords(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// A record created on another device; no local id attached.
	f.g.setRecord(models.EntityTypeTask, "srv-7",
		models.TaskSnapshot(models.Task{RemoteID: "srv-7", Title: "from another device", Version: 4}))

	require.NoError(t, f.c.FullSync(ctx))

	visible, err := f.c.List(ctx, models.EntityTypeTask)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "from another device", visible[0].Task.Title)
	assert.Equal(t, "srv-7", visible[0].RemoteID())
	assert.NotEmpty(t, visible[0].LocalID(), "adopted records get a local id")
}

func TestFullSync_OverwritesStaleLocalState(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	remoteID := f.drained(t, "loc-1", "old title")

	// Edited elsewhere; no local change pending.
	f.g.setRecord(models.EntityTypeTask, remoteID,
		models.TaskSnapshot(models.Task{LocalID: "loc-1", RemoteID: remoteID, Title: "new title", Version: 9}))

	require.NoError(t, f.c.FullSync(ctx))

	got, err := f.c.Get(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "new title", got.Task.Title)
	assert.Equal(t, int64(9), got.Task.Version)
}

func TestFullSync_LocalPendingActionWins(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	remoteID := f.drained(t, "loc-1", "v1")

	// Concurrent edit elsewhere and a local edit not yet drained.
	f.g.setRecord(models.EntityTypeTask, remoteID,
		models.TaskSnapshot(models.Task{LocalID: "loc-1", RemoteID: remoteID, Title: "server edit", Version: 5}))
	require.NoError(t, f.c.Apply(ctx, taskMutation(models.ActionUpdate, "loc-1", "local edit")))

	require.NoError(t, f.c.FullSync(ctx))

	got, err := f.c.Get(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "local edit", got.Task.Title, "a pending local change is never clobbered")

	st, err := f.c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.PendingCount, "the pending update still goes out")
}

func TestFullSync_FailedUpdateKeepsLocalEdit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	remoteID := f.drained(t, "loc-1", "server title")

	// The edit is rejected; the action stays in the log awaiting a
	// retry-or-discard decision, and must keep protecting the edit.
	f.g.updateErrs = []error{&remote.StatusError{Code: 422, Body: "rejected"}}
	require.NoError(t, f.c.Apply(ctx, taskMutation(models.ActionUpdate, "loc-1", "my edit")))
	require.NoError(t, f.c.Drain(ctx))

	st, err := f.c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.PermanentFailures, 1)
	_, ok := f.g.record(models.EntityTypeTask, remoteID)
	require.True(t, ok, "server still lists the old record")

	require.NoError(t, f.c.FullSync(ctx))

	got, err := f.c.Get(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "my edit", got.Task.Title,
		"a rejected edit stays until the user retries or discards it")
}

func TestFullSync_FailedDeleteKeepsTombstone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	remoteID := f.drained(t, "loc-1", "keep hidden")

	f.g.deleteErrs = []error{&remote.StatusError{Code: 409, Body: "locked"}}
	require.NoError(t, f.c.Apply(ctx, taskMutation(models.ActionDelete, "loc-1", "")))
	require.NoError(t, f.c.Drain(ctx))

	st, err := f.c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.PermanentFailures, 1)
	_, ok := f.g.record(models.EntityTypeTask, remoteID)
	require.True(t, ok)

	require.NoError(t, f.c.FullSync(ctx))

	got, err := f.c.Get(ctx, "loc-1")
	require.NoError(t, err)
	assert.True(t, got.Deleted(), "a rejected delete must not be undone behind the user's back")

	visible, err := f.c.List(ctx, models.EntityTypeTask)
	require.NoError(t, err)
	assert.Empty(t, visible, "the tombstoned task must not reappear in listings")
}

func TestFullSync_FailedActionProtectsFromPurge(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	remoteID := f.drained(t, "loc-1", "v1")

	f.g.updateErrs = []error{&remote.StatusError{Code: 422, Body: "rejected"}}
	require.NoError(t, f.c.Apply(ctx, taskMutation(models.ActionUpdate, "loc-1", "v2")))
	require.NoError(t, f.c.Drain(ctx))

	// The record vanishes upstream while the rejected edit is still
	// awaiting a decision; the cursor-less purge must spare it.
	f.g.dropRecord(models.EntityTypeTask, remoteID)

	require.NoError(t, f.c.FullSync(ctx))

	got, err := f.c.Get(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Task.Title)
}

func TestFullSync_PendingDeleteNotResurrected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	remoteID := f.drained(t, "loc-1", "to delete")

	require.NoError(t, f.c.Apply(ctx, taskMutation(models.ActionDelete, "loc-1", "")))

	// The server still lists the record; the tombstone must survive.
	_, ok := f.g.record(models.EntityTypeTask, remoteID)
	require.True(t, ok)

	require.NoError(t, f.c.FullSync(ctx))

	got, err := f.c.Get(ctx, "loc-1")
	require.NoError(t, err)
	assert.True(t, got.Deleted(), "full sync must not undo a pending delete")

	visible, err := f.c.List(ctx, models.EntityTypeTask)
	require.NoError(t, err)
	assert.Empty(t, visible)
}

func TestFullSync_PurgesRecordsDeletedUpstream(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	remoteID := f.drained(t, "loc-1", "gone soon")

	f.g.dropRecord(models.EntityTypeTask, remoteID)

	require.NoError(t, f.c.FullSync(ctx))

	_, err := f.c.Get(ctx, "loc-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFullSync_KeepsUnsyncedLocalCreates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.c.Apply(ctx, taskMutation(models.ActionCreate, "loc-1", "not sent yet")))

	// Empty server listing must not purge a record that never synced.
	require.NoError(t, f.c.FullSync(ctx))

	got, err := f.c.Get(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "not sent yet", got.Task.Title)
}

func TestFullSync_TransientListFailurePropagates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.drained(t, "loc-1", "safe")

	f.g.listErrs = []error{transientErr("503")}
	err := f.c.FullSync(ctx)
	require.Error(t, err)
	assert.True(t, remote.IsTransient(err))

	// Local state untouched by the failed pass.
	got, gerr := f.c.Get(ctx, "loc-1")
	require.NoError(t, gerr)
	assert.Equal(t, "safe", got.Task.Title)
}

func TestFullSync_RecordsSyncState(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.c.FullSync(ctx))

	for _, typ := range models.EntityTypes() {
		st, err := f.c.entities.GetSyncState(ctx, typ)
		require.NoError(t, err)
		assert.False(t, st.LastFullSyncAt.IsZero(), "%s collection must record its sync time", typ)
	}
}
