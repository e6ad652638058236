package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/okutins/plansync/internal/connectivity"
	"github.com/okutins/plansync/internal/models"
	"github.com/okutins/plansync/internal/remote"
	"github.com/okutins/plansync/internal/store"
	_ "modernc.org/sqlite"
)

// fakeGateway is an in-memory stand-in for the REST gateway. Errors can be
// scripted per method; each scripted error is consumed by one call.
type fakeGateway struct {
	mu      sync.Mutex
	nextID  int
	records map[models.EntityType]map[string]models.Snapshot

	createErrs []error
	updateErrs []error
	deleteErrs []error
	listErrs   []error

	createCalls int
	updateCalls int
	deleteCalls int
	callLog     []string
	attemptAt   []time.Time
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		records: map[models.EntityType]map[string]models.Snapshot{
			models.EntityTypeTask:  {},
			models.EntityTypeEvent: {},
		},
	}
}

func popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (g *fakeGateway) CreateEntity(_ context.Context, s models.Snapshot) (remote.CanonicalEntity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.attemptAt = append(g.attemptAt, time.Now())
	g.callLog = append(g.callLog, "create "+s.LocalID())
	if err := popErr(&g.createErrs); err != nil {
		return remote.CanonicalEntity{}, err
	}

	g.nextID++
	id := fmt.Sprintf("srv-%d", g.nextID)
	snap := g.stamp(s.WithRemoteID(id), 1)
	g.records[s.Type][id] = snap
	return remote.CanonicalEntity{RemoteID: id, Snapshot: snap}, nil
}

func (g *fakeGateway) UpdateEntity(_ context.Context, remoteID string, s models.Snapshot) (remote.CanonicalEntity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++
	g.attemptAt = append(g.attemptAt, time.Now())
	g.callLog = append(g.callLog, "update "+s.LocalID())
	if err := popErr(&g.updateErrs); err != nil {
		return remote.CanonicalEntity{}, err
	}

	old, ok := g.records[s.Type][remoteID]
	if !ok {
		return remote.CanonicalEntity{}, remote.ErrNotFound
	}
	snap := g.stamp(s.WithRemoteID(remoteID), g.version(old)+1)
	g.records[s.Type][remoteID] = snap
	return remote.CanonicalEntity{RemoteID: remoteID, Snapshot: snap}, nil
}

func (g *fakeGateway) DeleteEntity(_ context.Context, typ models.EntityType, remoteID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteCalls++
	g.attemptAt = append(g.attemptAt, time.Now())
	g.callLog = append(g.callLog, "delete "+remoteID)
	if err := popErr(&g.deleteErrs); err != nil {
		return err
	}

	if _, ok := g.records[typ][remoteID]; !ok {
		return remote.ErrNotFound
	}
	delete(g.records[typ], remoteID)
	return nil
}

func (g *fakeGateway) ListEntities(_ context.Context, typ models.EntityType, _ string) (remote.ListResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := popErr(&g.listErrs); err != nil {
		return remote.ListResult{}, err
	}

	ids := make([]string, 0, len(g.records[typ]))
	for id := range g.records[typ] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var res remote.ListResult
	for _, id := range ids {
		res.Entities = append(res.Entities, remote.CanonicalEntity{
			RemoteID: id,
			Snapshot: g.records[typ][id].Clone(),
		})
	}
	return res, nil
}

func (g *fakeGateway) Ping(context.Context) error { return nil }

func (g *fakeGateway) stamp(s models.Snapshot, version int64) models.Snapshot {
	out := s.Clone()
	switch out.Type {
	case models.EntityTypeTask:
		out.Task.Version = version
		out.Task.UpdatedAt = time.Now().UTC()
	case models.EntityTypeEvent:
		out.Event.Version = version
		out.Event.UpdatedAt = time.Now().UTC()
	}
	return out
}

func (g *fakeGateway) version(s models.Snapshot) int64 {
	switch s.Type {
	case models.EntityTypeTask:
		return s.Task.Version
	case models.EntityTypeEvent:
		return s.Event.Version
	}
	return 0
}

func (g *fakeGateway) record(typ models.EntityType, remoteID string) (models.Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.records[typ][remoteID]
	return s, ok
}

func (g *fakeGateway) setRecord(typ models.EntityType, remoteID string, s models.Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[typ][remoteID] = s
}

func (g *fakeGateway) dropRecord(typ models.EntityType, remoteID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records[typ], remoteID)
}

func (g *fakeGateway) counts() (create, update, del int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls, g.updateCalls, g.deleteCalls
}

func (g *fakeGateway) log() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.callLog))
	copy(out, g.callLog)
	return out
}

// fakeMonitor is a hand-driven Reachability.
type fakeMonitor struct {
	mu     sync.Mutex
	status connectivity.Status
	ch     chan connectivity.Status
}

func newFakeMonitor(s connectivity.Status) *fakeMonitor {
	return &fakeMonitor{status: s, ch: make(chan connectivity.Status, 4)}
}

func (m *fakeMonitor) Status() connectivity.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *fakeMonitor) Subscribe() (<-chan connectivity.Status, func()) {
	return m.ch, func() {}
}

func (m *fakeMonitor) set(s connectivity.Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	m.ch <- s
}

type fixture struct {
	c   *Coordinator
	g   *fakeGateway
	mon *fakeMonitor
	db  *sql.DB
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := store.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	g := newFakeGateway()
	mon := newFakeMonitor(connectivity.Reachable)
	c := New(db, g, mon, Options{BackoffBase: 5 * time.Millisecond})
	return &fixture{c: c, g: g, mon: mon, db: db}
}

func taskMutation(action models.ActionType, localID, title string) models.Mutation {
	s := models.TaskSnapshot(models.Task{LocalID: localID, Title: title})
	switch action {
	case models.ActionCreate:
		return models.CreateMutation(s)
	case models.ActionUpdate:
		return models.UpdateMutation(s)
	default:
		return models.DeleteMutation(models.EntityTypeTask, localID)
	}
}

// drained runs one create-and-drain round so tests can start from a
// synced entity. Returns the server-assigned id.
func (f *fixture) drained(t *testing.T, localID, title string) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.c.Apply(ctx, taskMutation(models.ActionCreate, localID, title)))
	require.NoError(t, f.c.Drain(ctx))

	s, err := f.c.Get(ctx, localID)
	require.NoError(t, err)
	require.NotEmpty(t, s.RemoteID(), "entity must be synced after drain")
	return s.RemoteID()
}
