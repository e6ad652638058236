package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okutins/plansync/internal/dbx"
	"github.com/okutins/plansync/internal/models"
)

// ErrNotFound is returned when no action exists for the given id.
var ErrNotFound = errors.New("action not found")

// Outcome reports how Enqueue reconciled the new mutation with the log.
type Outcome int

const (
	// OutcomeEnqueued: a new action row was appended.
	OutcomeEnqueued Outcome = iota

	// OutcomeCoalesced: the payload folded into an outstanding
	// create/update for the same target.
	OutcomeCoalesced

	// OutcomeSuperseded: a delete replaced an outstanding update in place.
	OutcomeSuperseded

	// OutcomeDroppedCreate: a delete cancelled an unsynced create; both
	// vanish and nothing is ever sent to the server. The caller must also
	// purge the local entity.
	OutcomeDroppedCreate
)

// Repository persists pending actions in the local SQLite database,
// bound to a DBTX so enqueue can share a transaction with the entity
// write it belongs to.
type Repository struct {
	db dbx.DBTX
}

// New returns a Repository bound to the given DBTX.
func New(db dbx.DBTX) *Repository {
	return &Repository{db: db}
}

// Enqueue applies the coalescing rule and persists the action.
//
// Rules, per target entity:
//   - create/update with an outstanding create/update: fold the payload
//     into the existing row (a pending create stays a create). If that
//     row was flagged permanently failed, the fold is the user's
//     edit-and-resubmit: the failure flag and retry budget reset.
//   - delete with an outstanding create that never synced: drop both.
//   - delete with an outstanding update: the row becomes a delete,
//     keeping its queue position.
//   - otherwise: append.
func (r *Repository) Enqueue(ctx context.Context, a models.PendingAction) (Outcome, error) {
	payload, err := json.Marshal(a.Snapshot)
	if err != nil {
		return 0, fmt.Errorf("encode action payload: %w", err)
	}

	var (
		seq      int64
		existing models.ActionType
	)
	err = r.db.QueryRowContext(ctx, `
		SELECT seq, action_type FROM pending_actions
		WHERE target_local_id = ? AND action_type != 'delete' LIMIT 1`,
		a.TargetLocalID).Scan(&seq, &existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return r.insert(ctx, a, payload)
	case err != nil:
		return 0, fmt.Errorf("lookup outstanding action: %w", err)
	}

	switch a.Action {
	case models.ActionCreate, models.ActionUpdate:
		_, err = r.db.ExecContext(ctx, `
			UPDATE pending_actions
			SET payload = ?, failed = 0, retry_count = 0, last_error = ''
			WHERE seq = ?`, payload, seq)
		if err != nil {
			return 0, fmt.Errorf("coalesce action: %w", err)
		}
		return OutcomeCoalesced, nil

	case models.ActionDelete:
		if existing == models.ActionCreate {
			if _, err := r.db.ExecContext(ctx,
				`DELETE FROM pending_actions WHERE seq = ?`, seq); err != nil {
				return 0, fmt.Errorf("drop unsynced create: %w", err)
			}
			return OutcomeDroppedCreate, nil
		}
		_, err = r.db.ExecContext(ctx, `
			UPDATE pending_actions
			SET action_type = 'delete', payload = ?, failed = 0, retry_count = 0, last_error = ''
			WHERE seq = ?`, payload, seq)
		if err != nil {
			return 0, fmt.Errorf("supersede with delete: %w", err)
		}
		return OutcomeSuperseded, nil

	default:
		return 0, models.ErrInvalidAction
	}
}

func (r *Repository) insert(ctx context.Context, a models.PendingAction, payload []byte) (Outcome, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_actions (id, action_type, entity_type, target_local_id, payload, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Action, a.EntityType, a.TargetLocalID, payload, a.RetryCount, a.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("append action: %w", err)
	}
	return OutcomeEnqueued, nil
}

// ListActive returns not-yet-failed actions in global FIFO order.
func (r *Repository) ListActive(ctx context.Context) ([]models.PendingAction, error) {
	return r.list(ctx, `WHERE failed = 0`)
}

// ListFailed returns permanently failed actions awaiting a user decision.
func (r *Repository) ListFailed(ctx context.Context) ([]models.PendingAction, error) {
	return r.list(ctx, `WHERE failed = 1`)
}

func (r *Repository) list(ctx context.Context, where string) ([]models.PendingAction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT seq, id, action_type, entity_type, target_local_id, payload,
		       retry_count, created_at, last_attempt_at, last_error, failed
		FROM pending_actions `+where+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var result []models.PendingAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return result, nil
}

// Get returns a single action by id.
func (r *Repository) Get(ctx context.Context, id string) (models.PendingAction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT seq, id, action_type, entity_type, target_local_id, payload,
		       retry_count, created_at, last_attempt_at, last_error, failed
		FROM pending_actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

// Remove deletes an action after confirmed success or an explicit discard.
func (r *Repository) Remove(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove action: %w", err)
	}
	return requireRow(res)
}

// RecordAttempt persists retry bookkeeping after a dispatch attempt.
func (r *Repository) RecordAttempt(ctx context.Context, id string, retryCount int, at time.Time, lastErr string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_actions
		SET retry_count = ?, last_attempt_at = ?, last_error = ?
		WHERE id = ?`, retryCount, at.UTC(), lastErr, id)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return requireRow(res)
}

// MarkFailed flags an action permanently failed. It stays in the log,
// excluded from draining, until the user retries or discards it.
func (r *Repository) MarkFailed(ctx context.Context, id string, lastErr string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_actions SET failed = 1, last_error = ? WHERE id = ?`, lastErr, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRow(res)
}

// ConvertToUpdate rewrites a pending create into an update in place,
// keeping its queue position. Used when the create reached the server
// while a newer edit was coalescing into the same row: the target now
// has a server id, so the remaining payload goes out as an update.
func (r *Repository) ConvertToUpdate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_actions SET action_type = 'update'
		WHERE id = ? AND action_type = 'create'`, id)
	if err != nil {
		return fmt.Errorf("convert create to update: %w", err)
	}
	return requireRow(res)
}

// ResetFailed clears the failure flag and retry budget for a manual retry.
func (r *Repository) ResetFailed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE pending_actions
		SET failed = 0, retry_count = 0, last_error = ''
		WHERE id = ? AND failed = 1`, id)
	if err != nil {
		return fmt.Errorf("reset failed action: %w", err)
	}
	return requireRow(res)
}

// CountActive returns the number of not-yet-failed pending actions.
func (r *Repository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_actions WHERE failed = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active actions: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (models.PendingAction, error) {
	var (
		a       models.PendingAction
		payload []byte
		lastAt  sql.NullTime
	)
	err := row.Scan(&a.Seq, &a.ID, &a.Action, &a.EntityType, &a.TargetLocalID,
		&payload, &a.RetryCount, &a.CreatedAt, &lastAt, &a.LastError, &a.Failed)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(payload, &a.Snapshot); err != nil {
		return a, fmt.Errorf("decode action payload: %w", err)
	}
	if lastAt.Valid {
		t := lastAt.Time
		a.LastAttemptAt = &t
	}
	return a, nil
}

func requireRow(res sql.Result) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if ra == 0 {
		return ErrNotFound
	}
	return nil
}
