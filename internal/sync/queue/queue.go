// Package queue provides the durable local action queue.
//
// Every UI mutation is written here before any network attempt. Enqueue
// returning nil means the action survives a process restart; it says nothing
// about whether the sync endpoint has applied it. Callers that need to show
// sync state poll GetAction.
package queue

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"github.com/emarzona/backend/internal/actions"
	"github.com/emarzona/backend/internal/db"
	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/logging"
	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/uuid"
)

// CleanupPolicy bounds how long undeliverable actions are kept.
type CleanupPolicy struct {
	// MaxRetries removes any unsynced action whose retry_count reached it.
	MaxRetries int
	// MaxAge removes any unsynced action created longer ago than this. The
	// sync endpoint must retain idempotency keys for longer than MaxAge.
	MaxAge time.Duration
	// SyncedRetention removes synced actions this long after they synced.
	SyncedRetention time.Duration
}

// DefaultCleanupPolicy returns the default cleanup thresholds.
func DefaultCleanupPolicy() CleanupPolicy {
	return CleanupPolicy{
		MaxRetries:      10,
		MaxAge:          7 * 24 * time.Hour,
		SyncedRetention: 24 * time.Hour,
	}
}

// Config holds LocalQueue configuration.
type Config struct {
	Policy CleanupPolicy
	IDs    uuid.Generator
	Now    func() time.Time
}

// DefaultConfig returns the production configuration.
func DefaultConfig() *Config {
	return &Config{
		Policy: DefaultCleanupPolicy(),
		IDs:    uuid.Random{},
		Now:    time.Now,
	}
}

// LocalQueue persists LocalActions in SQLite.
type LocalQueue struct {
	db     *sql.DB
	policy CleanupPolicy
	ids    uuid.Generator
	now    func() time.Time
}

// New wraps an already migrated database.
func New(conn *sql.DB, cfg *Config) *LocalQueue {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	q := &LocalQueue{db: conn, policy: cfg.Policy, ids: cfg.IDs, now: cfg.Now}
	if q.ids == nil {
		q.ids = def.IDs
	}
	if q.now == nil {
		q.now = def.Now
	}
	if q.policy == (CleanupPolicy{}) {
		q.policy = def.Policy
	}
	return q
}

// Open opens the queue database inside dataDir and applies the client migrations.
func Open(dataDir string, cfg *Config) (*LocalQueue, *db.DB, error) {
	conn, err := db.Open(dataDir)
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrStorage, "open local database", err)
	}
	if err := db.Migrate(conn.DB, db.ClientMigrations); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return New(conn.DB, cfg), conn, nil
}

// Policy returns the cleanup thresholds in use.
func (q *LocalQueue) Policy() CleanupPolicy {
	return q.policy
}

const selectColumns = `id, action_type, payload, idempotency_key, store_id, status,
	retry_count, last_error, created_at, updated_at, synced_at`

// Enqueue validates payload and persists it as a new pending action with a
// fresh id and idempotency key.
func (q *LocalQueue) Enqueue(ctx context.Context, storeID string, payload actions.Payload) (*models.LocalAction, error) {
	if payload == nil {
		return nil, errors.New(errors.ErrInvalid, "payload is required")
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	actionType, raw, err := actions.Encode(payload)
	if err != nil {
		return nil, err
	}

	action := &models.LocalAction{
		ActionType: actionType,
		Payload:    raw,
		StoreID:    storeID,
	}
	if err := q.EnqueueRaw(ctx, action); err != nil {
		return nil, err
	}
	return action, nil
}

// EnqueueRaw persists an already encoded action. Empty ID and IdempotencyKey
// are generated; a caller-supplied key is kept verbatim so replays of the same
// intent collapse onto it. Status, retry data and timestamps are reset.
func (q *LocalQueue) EnqueueRaw(ctx context.Context, action *models.LocalAction) error {
	if !action.ActionType.Valid() {
		return errors.Newf(errors.ErrUnknownAction, "unknown action type %q", action.ActionType)
	}
	if len(strings.TrimSpace(string(action.Payload))) == 0 {
		return errors.New(errors.ErrInvalid, "payload is required")
	}
	if action.ID == "" {
		action.ID = q.ids.NewID()
	}
	if action.IdempotencyKey == "" {
		action.IdempotencyKey = q.ids.NewID()
	}

	now := q.now().UnixMilli()
	action.Status = models.StatusPending
	action.RetryCount = 0
	action.LastError = nil
	action.SyncedAt = nil
	action.CreatedAt = now
	action.UpdatedAt = now

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO local_actions (id, action_type, payload, idempotency_key, store_id,
			status, retry_count, last_error, created_at, updated_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, NULL)`,
		action.ID, string(action.ActionType), string(action.Payload), action.IdempotencyKey,
		action.StoreID, string(action.Status), now, now)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return errors.Wrap(errors.ErrDuplicate, "action already queued", err)
		}
		return errors.Wrap(errors.ErrStorage, "enqueue action", err)
	}

	logging.Debug("Action enqueued", map[string]interface{}{
		"action_id":   action.ID,
		"action_type": action.ActionType,
		"store_id":    action.StoreID,
	})
	return nil
}

// GetPendingActions returns up to limit pending or failed actions, oldest first.
func (q *LocalQueue) GetPendingActions(ctx context.Context, limit int) ([]*models.LocalAction, error) {
	if limit <= 0 {
		return nil, nil
	}
	return q.query(ctx, `SELECT `+selectColumns+` FROM local_actions
		WHERE status IN ('pending', 'failed')
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`, limit)
}

// GetAction returns one action by id. A missing id yields ErrNotFound.
func (q *LocalQueue) GetAction(ctx context.Context, id string) (*models.LocalAction, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM local_actions WHERE id = ?`, id)
	action, err := scanAction(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "action %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "read action", err)
	}
	return action, nil
}

// List returns actions in creation order, optionally filtered by status.
func (q *LocalQueue) List(ctx context.Context, status models.ActionStatus, limit int) ([]*models.LocalAction, error) {
	if limit <= 0 {
		limit = -1
	}
	if status == "" {
		return q.query(ctx, `SELECT `+selectColumns+` FROM local_actions
			ORDER BY created_at ASC, rowid ASC LIMIT ?`, limit)
	}
	return q.query(ctx, `SELECT `+selectColumns+` FROM local_actions
		WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`, string(status), limit)
}

// MarkAsSynced moves an action to synced. Already synced or unknown ids are a no-op.
func (q *LocalQueue) MarkAsSynced(ctx context.Context, id string) error {
	now := q.now().UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		UPDATE local_actions
		SET status = 'synced', last_error = NULL, synced_at = ?, updated_at = ?
		WHERE id = ? AND status != 'synced'`, now, now, id)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "mark action synced", err)
	}
	return nil
}

// UpdateRetryInfo records a failed delivery: retry_count is incremented and
// the message stored. A non-empty message moves the action to failed; an
// empty one clears last_error and leaves it pending. Synced actions are not touched.
func (q *LocalQueue) UpdateRetryInfo(ctx context.Context, id string, message string) error {
	now := q.now().UnixMilli()
	var lastError interface{}
	status := models.StatusPending
	if message != "" {
		lastError = message
		status = models.StatusFailed
	}
	_, err := q.db.ExecContext(ctx, `
		UPDATE local_actions
		SET retry_count = retry_count + 1, last_error = ?, status = ?, updated_at = ?
		WHERE id = ? AND status != 'synced'`, lastError, string(status), now, id)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "update retry info", err)
	}
	return nil
}

// ResetError clears last_error and moves a failed action back to pending
// without touching retry_count.
func (q *LocalQueue) ResetError(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE local_actions
		SET last_error = NULL, status = 'pending', updated_at = ?
		WHERE id = ? AND status = 'failed'`, q.now().UnixMilli(), id)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "reset action error", err)
	}
	return nil
}

// GetFailedActions returns failed actions with retry_count >= minRetryCount, oldest first.
func (q *LocalQueue) GetFailedActions(ctx context.Context, minRetryCount int) ([]*models.LocalAction, error) {
	return q.query(ctx, `SELECT `+selectColumns+` FROM local_actions
		WHERE status = 'failed' AND retry_count >= ?
		ORDER BY created_at ASC, rowid ASC`, minRetryCount)
}

// CleanupFailedActions removes actions past the cleanup policy and returns
// how many rows were deleted.
func (q *LocalQueue) CleanupFailedActions(ctx context.Context) (int, error) {
	now := q.now()
	ageCutoff := now.Add(-q.policy.MaxAge).UnixMilli()
	syncedCutoff := now.Add(-q.policy.SyncedRetention).UnixMilli()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "begin cleanup", err)
	}
	defer tx.Rollback()

	var removed int64
	res, err := tx.ExecContext(ctx, `
		DELETE FROM local_actions
		WHERE status != 'synced'
		  AND (retry_count >= ? OR created_at < ?)`,
		q.policy.MaxRetries, ageCutoff)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "cleanup failed actions", err)
	}
	n, _ := res.RowsAffected()
	removed += n

	res, err = tx.ExecContext(ctx, `
		DELETE FROM local_actions WHERE status = 'synced' AND synced_at < ?`, syncedCutoff)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "cleanup synced actions", err)
	}
	n, _ = res.RowsAffected()
	removed += n

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "commit cleanup", err)
	}

	if removed > 0 {
		logging.Info("Local queue cleaned up", map[string]interface{}{
			"removed":     removed,
			"max_retries": q.policy.MaxRetries,
			"max_age_h":   q.policy.MaxAge.Hours(),
		})
	}
	return int(removed), nil
}

// Stats returns per-status counts.
func (q *LocalQueue) Stats(ctx context.Context) (models.QueueStats, error) {
	var stats models.QueueStats
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM local_actions GROUP BY status`)
	if err != nil {
		return stats, errors.Wrap(errors.ErrStorage, "queue stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, errors.Wrap(errors.ErrStorage, "scan queue stats", err)
		}
		switch models.ActionStatus(status) {
		case models.StatusPending:
			stats.Pending = n
		case models.StatusFailed:
			stats.Failed = n
		case models.StatusSynced:
			stats.Synced = n
		}
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return stats, errors.Wrap(errors.ErrStorage, "queue stats", err)
	}
	return stats, nil
}

func (q *LocalQueue) query(ctx context.Context, query string, args ...interface{}) ([]*models.LocalAction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "query actions", err)
	}
	defer rows.Close()

	var out []*models.LocalAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "scan action", err)
		}
		out = append(out, action)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "query actions", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(s scanner) (*models.LocalAction, error) {
	var (
		a          models.LocalAction
		actionType string
		payload    string
		status     string
		lastError  sql.NullString
		syncedAt   sql.NullInt64
	)
	err := s.Scan(&a.ID, &actionType, &payload, &a.IdempotencyKey, &a.StoreID, &status,
		&a.RetryCount, &lastError, &a.CreatedAt, &a.UpdatedAt, &syncedAt)
	if err != nil {
		return nil, err
	}
	a.ActionType = models.ActionType(actionType)
	a.Payload = []byte(payload)
	a.Status = models.ActionStatus(status)
	if lastError.Valid {
		msg := lastError.String
		a.LastError = &msg
	}
	if syncedAt.Valid {
		ts := syncedAt.Int64
		a.SyncedAt = &ts
	}
	return &a, nil
}
