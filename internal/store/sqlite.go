package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/okutins/plansync/internal/dbx"
	"github.com/okutins/plansync/internal/models"
)

// Repository persists entity snapshots in the local SQLite database.
// It is bound to a DBTX, so the same type serves both direct access and
// access inside a coordinator-owned transaction.
type Repository struct {
	db dbx.DBTX
}

// New returns a Repository bound to the given DBTX.
func New(db dbx.DBTX) *Repository {
	return &Repository{db: db}
}

// Put upserts an entity snapshot by local id. The JSON body and the
// denormalized query columns are written together.
func (r *Repository) Put(ctx context.Context, s models.Snapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(s)
	if err != nil {
		return storageErr("encode entity", err)
	}

	query := `INSERT INTO entities (local_id, entity_type, remote_id, body, deleted, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(local_id) DO UPDATE SET
				remote_id = excluded.remote_id,
				body = excluded.body,
				deleted = excluded.deleted,
				version = excluded.version,
				updated_at = excluded.updated_at`
	_, err = r.db.ExecContext(ctx, query,
		s.LocalID(), s.Type, nullable(s.RemoteID()), body, s.Deleted(), version(s), s.UpdatedAt().UTC())
	if err != nil {
		return storageErr("upsert entity", err)
	}
	return nil
}

// Get returns the snapshot stored under localID.
func (r *Repository) Get(ctx context.Context, localID string) (models.Snapshot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT body, remote_id, deleted, version, updated_at FROM entities WHERE local_id = ?`, localID)
	return scanSnapshot(row)
}

// GetByRemoteID returns the snapshot holding the given server-assigned id.
func (r *Repository) GetByRemoteID(ctx context.Context, typ models.EntityType, remoteID string) (models.Snapshot, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT body, remote_id, deleted, version, updated_at FROM entities
		 WHERE entity_type = ? AND remote_id = ?`, typ, remoteID)
	return scanSnapshot(row)
}

// List returns all entities of the given type in updated_at order.
// Tombstoned records are excluded unless includeDeleted is set.
func (r *Repository) List(ctx context.Context, typ models.EntityType, includeDeleted bool) ([]models.Snapshot, error) {
	query := `SELECT body, remote_id, deleted, version, updated_at FROM entities WHERE entity_type = ?`
	if !includeDeleted {
		query += ` AND deleted = 0`
	}
	query += ` ORDER BY updated_at`

	rows, err := r.db.QueryContext(ctx, query, typ)
	if err != nil {
		return nil, storageErr("list entities", err)
	}
	defer rows.Close()

	var result []models.Snapshot
	for rows.Next() {
		s, err := scanSnapshotRows(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate entities", err)
	}
	return result, nil
}

// MarkDeleted tombstones an entity. The record stays until the remote
// delete is confirmed, so a restart cannot lose the intent.
func (r *Repository) MarkDeleted(ctx context.Context, localID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entities SET deleted = 1, updated_at = ? WHERE local_id = ?`, at.UTC(), localID)
	if err != nil {
		return storageErr("mark deleted", err)
	}
	return requireOneRow(res)
}

// Purge removes an entity permanently. Called only after the remote
// delete is confirmed, or for records that never reached the server.
func (r *Repository) Purge(ctx context.Context, localID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE local_id = ?`, localID)
	if err != nil {
		return storageErr("purge entity", err)
	}
	return nil
}

// ReassignRemoteID records the server-assigned id for a locally created
// entity, moving it from pending-create to synced.
func (r *Repository) ReassignRemoteID(ctx context.Context, localID, remoteID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entities SET remote_id = ? WHERE local_id = ?`, remoteID, localID)
	if err != nil {
		return storageErr("reassign remote id", err)
	}
	return requireOneRow(res)
}

// GetSyncState returns the per-collection sync bookkeeping row. A missing
// row yields the zero state, not an error.
func (r *Repository) GetSyncState(ctx context.Context, typ models.EntityType) (models.SyncState, error) {
	st := models.SyncState{EntityType: typ}
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT last_full_sync_at, cursor FROM sync_state WHERE entity_type = ?`, typ).
		Scan(&last, &st.Cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, storageErr("get sync state", err)
	}
	if last.Valid {
		st.LastFullSyncAt = last.Time
	}
	return st, nil
}

// SetSyncState upserts the per-collection sync bookkeeping row.
func (r *Repository) SetSyncState(ctx context.Context, st models.SyncState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (entity_type, last_full_sync_at, cursor) VALUES (?, ?, ?)
		ON CONFLICT(entity_type) DO UPDATE SET
			last_full_sync_at = excluded.last_full_sync_at,
			cursor = excluded.cursor`,
		st.EntityType, st.LastFullSyncAt.UTC(), st.Cursor)
	if err != nil {
		return storageErr("set sync state", err)
	}
	return nil
}

// Reset wipes all local state. Used on logout.
func (r *Repository) Reset(ctx context.Context) error {
	for _, q := range []string{
		`DELETE FROM pending_actions`,
		`DELETE FROM entities`,
		`DELETE FROM sync_state`,
	} {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return storageErr("reset", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSnapshot decodes the JSON body and overlays the denormalized
// columns, which are authoritative for sync bookkeeping.
func scanSnapshot(row rowScanner) (models.Snapshot, error) {
	var (
		body      []byte
		remoteID  sql.NullString
		deleted   bool
		ver       int64
		updatedAt time.Time
	)
	if err := row.Scan(&body, &remoteID, &deleted, &ver, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Snapshot{}, ErrNotFound
		}
		return models.Snapshot{}, storageErr("scan entity", err)
	}

	var s models.Snapshot
	if err := json.Unmarshal(body, &s); err != nil {
		return models.Snapshot{}, storageErr("decode entity", err)
	}

	switch s.Type {
	case models.EntityTypeTask:
		if s.Task != nil {
			s.Task.RemoteID = remoteID.String
			s.Task.Deleted = deleted
			s.Task.Version = ver
			s.Task.UpdatedAt = updatedAt
		}
	case models.EntityTypeEvent:
		if s.Event != nil {
			s.Event.RemoteID = remoteID.String
			s.Event.Deleted = deleted
			s.Event.Version = ver
			s.Event.UpdatedAt = updatedAt
		}
	}
	return s, nil
}

func scanSnapshotRows(rows *sql.Rows) (models.Snapshot, error) {
	return scanSnapshot(rows)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func version(s models.Snapshot) int64 {
	switch s.Type {
	case models.EntityTypeTask:
		if s.Task != nil {
			return s.Task.Version
		}
	case models.EntityTypeEvent:
		if s.Event != nil {
			return s.Event.Version
		}
	}
	return 0
}

func requireOneRow(res sql.Result) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if ra == 0 {
		return ErrNotFound
	}
	return nil
}
