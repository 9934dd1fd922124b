// Package queue provides unit tests for the local action queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/emarzona/backend/internal/actions"
	"github.com/emarzona/backend/internal/db"
	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/uuid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t testing.TB, clock *fakeClock) *LocalQueue {
	t.Helper()
	conn, err := db.OpenFile(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(conn.DB, db.ClientMigrations))

	return New(conn.DB, &Config{
		Policy: DefaultCleanupPolicy(),
		IDs:    uuid.NewSequence("id"),
		Now:    clock.Now,
	})
}

func addToCart(product string, qty int) actions.Payload {
	return actions.AddToCart{ProductID: product, Quantity: qty}
}

// =====================================================
// Enqueue
// =====================================================

func TestEnqueue_persistsPending(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(t, clock)

	a, err := q.Enqueue(ctx, "S1", addToCart("P1", 2))
	require.NoError(t, err)

	assert.Equal(t, "id-1", a.ID)
	assert.Equal(t, "id-2", a.IdempotencyKey)
	assert.Equal(t, models.StatusPending, a.Status)
	assert.Equal(t, 0, a.RetryCount)
	assert.Nil(t, a.LastError)

	got, err := q.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionAddToCart, got.ActionType)
	assert.Equal(t, "S1", got.StoreID)
	assert.Equal(t, clock.Now().UnixMilli(), got.CreatedAt)
	assert.JSONEq(t, `{"product_id":"P1","quantity":2}`, string(got.Payload))
}

func TestEnqueue_rejectsInvalidPayload(t *testing.T) {
	q := newTestQueue(t, newFakeClock())

	_, err := q.Enqueue(context.Background(), "S1", addToCart("P1", 0))
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = q.Enqueue(context.Background(), "S1", nil)
	assert.True(t, errors.Is(err, errors.ErrInvalid))
}

func TestEnqueueRaw_keepsCallerKey(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, newFakeClock())

	a := &models.LocalAction{
		ActionType:     models.ActionAddToCart,
		Payload:        json.RawMessage(`{"product_id":"P1","quantity":2}`),
		IdempotencyKey: "K1",
		StoreID:        "S1",
		Status:         models.StatusSynced,
		RetryCount:     7,
	}
	require.NoError(t, q.EnqueueRaw(ctx, a))
	assert.Equal(t, "K1", a.IdempotencyKey)
	assert.Equal(t, models.StatusPending, a.Status)
	assert.Equal(t, 0, a.RetryCount)

	dup := &models.LocalAction{
		ActionType:     models.ActionAddToCart,
		Payload:        json.RawMessage(`{"product_id":"P1","quantity":2}`),
		IdempotencyKey: "K1",
	}
	err := q.EnqueueRaw(ctx, dup)
	assert.True(t, errors.Is(err, errors.ErrDuplicate))
}

func TestEnqueueRaw_rejectsUnknownType(t *testing.T) {
	q := newTestQueue(t, newFakeClock())

	err := q.EnqueueRaw(context.Background(), &models.LocalAction{
		ActionType: "wipe_store",
		Payload:    json.RawMessage(`{}`),
	})
	assert.True(t, errors.Is(err, errors.ErrUnknownAction))
}

func TestStorageFailureIsFatal(t *testing.T) {
	conn, err := db.OpenFile(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn.DB, db.ClientMigrations))
	q := New(conn.DB, nil)
	conn.Close()

	_, err = q.Enqueue(context.Background(), "S1", addToCart("P1", 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorage))
}

// =====================================================
// Retrieval
// =====================================================

func TestGetPendingActions_oldestFirstAndLimited(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(t, clock)

	var ids []string
	for i := 0; i < 5; i++ {
		a, err := q.Enqueue(ctx, "S1", addToCart(fmt.Sprintf("P%d", i), 1))
		require.NoError(t, err)
		ids = append(ids, a.ID)
		clock.Advance(time.Second)
	}
	require.NoError(t, q.MarkAsSynced(ctx, ids[0]))
	require.NoError(t, q.UpdateRetryInfo(ctx, ids[1], "boom"))

	pending, err := q.GetPendingActions(ctx, 3)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, ids[1], pending[0].ID)
	assert.Equal(t, models.StatusFailed, pending[0].Status)
	assert.Equal(t, ids[2], pending[1].ID)
	assert.Equal(t, ids[3], pending[2].ID)

	none, err := q.GetPendingActions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetAction_notFound(t *testing.T) {
	q := newTestQueue(t, newFakeClock())

	_, err := q.GetAction(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

// =====================================================
// State transitions
// =====================================================

func TestMarkAsSynced_idempotent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(t, clock)

	a, err := q.Enqueue(ctx, "S1", addToCart("P1", 1))
	require.NoError(t, err)

	require.NoError(t, q.MarkAsSynced(ctx, a.ID))
	first, err := q.GetAction(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, first.SyncedAt)

	clock.Advance(time.Minute)
	require.NoError(t, q.MarkAsSynced(ctx, a.ID))
	require.NoError(t, q.MarkAsSynced(ctx, "unknown-id"))

	second, err := q.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, second.Status)
	assert.Equal(t, *first.SyncedAt, *second.SyncedAt)
}

func TestUpdateRetryInfo(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, newFakeClock())

	a, err := q.Enqueue(ctx, "S1", addToCart("P1", 1))
	require.NoError(t, err)

	require.NoError(t, q.UpdateRetryInfo(ctx, a.ID, "PRODUCT_UNAVAILABLE: product P1 is inactive"))
	require.NoError(t, q.UpdateRetryInfo(ctx, a.ID, "INSUFFICIENT_STOCK: only 0 left"))

	got, err := q.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "INSUFFICIENT_STOCK: only 0 left", *got.LastError)

	require.NoError(t, q.UpdateRetryInfo(ctx, a.ID, ""))
	got, err = q.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Nil(t, got.LastError)
}

func TestUpdateRetryInfo_ignoresSynced(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, newFakeClock())

	a, err := q.Enqueue(ctx, "S1", addToCart("P1", 1))
	require.NoError(t, err)
	require.NoError(t, q.MarkAsSynced(ctx, a.ID))
	require.NoError(t, q.UpdateRetryInfo(ctx, a.ID, "late failure"))

	got, err := q.GetAction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.Status)
	assert.Equal(t, 0, got.RetryCount)
}

func TestResetError_and_GetFailedActions(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, newFakeClock())

	a1, _ := q.Enqueue(ctx, "S1", addToCart("P1", 1))
	a2, _ := q.Enqueue(ctx, "S1", addToCart("P2", 1))
	_, _ = q.Enqueue(ctx, "S1", addToCart("P3", 1))

	require.NoError(t, q.UpdateRetryInfo(ctx, a1.ID, "e1"))
	require.NoError(t, q.UpdateRetryInfo(ctx, a2.ID, "e1"))
	require.NoError(t, q.UpdateRetryInfo(ctx, a2.ID, "e2"))

	all, err := q.GetFailedActions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	twice, err := q.GetFailedActions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, twice, 1)
	assert.Equal(t, a2.ID, twice[0].ID)

	require.NoError(t, q.ResetError(ctx, a2.ID))
	got, err := q.GetAction(ctx, a2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.LastError)
	assert.Equal(t, 2, got.RetryCount)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{Total: 3, Pending: 2, Failed: 1}, stats)
}

// =====================================================
// Cleanup
// =====================================================

func TestCleanupFailedActions_retryCeiling(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, newFakeClock())

	doomed, _ := q.Enqueue(ctx, "S1", addToCart("P1", 1))
	survivor, _ := q.Enqueue(ctx, "S1", addToCart("P2", 1))
	for i := 0; i < q.Policy().MaxRetries; i++ {
		require.NoError(t, q.UpdateRetryInfo(ctx, doomed.ID, "PERMISSION_DENIED: stale token"))
	}
	require.NoError(t, q.UpdateRetryInfo(ctx, survivor.ID, "transient"))

	removed, err := q.CleanupFailedActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	pending, err := q.GetPendingActions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, survivor.ID, pending[0].ID)

	failed, err := q.GetFailedActions(ctx, 0)
	require.NoError(t, err)
	for _, a := range failed {
		assert.NotEqual(t, doomed.ID, a.ID)
	}
}

func TestCleanupFailedActions_age(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	q := newTestQueue(t, clock)

	oldFailed, _ := q.Enqueue(ctx, "S1", addToCart("P1", 1))
	oldPending, _ := q.Enqueue(ctx, "S1", addToCart("P2", 1))
	require.NoError(t, q.UpdateRetryInfo(ctx, oldFailed.ID, "rejected"))

	synced, _ := q.Enqueue(ctx, "S1", addToCart("P3", 1))
	require.NoError(t, q.MarkAsSynced(ctx, synced.ID))

	clock.Advance(q.Policy().MaxAge + time.Hour)
	fresh, _ := q.Enqueue(ctx, "S1", addToCart("P4", 1))
	require.NoError(t, q.UpdateRetryInfo(ctx, fresh.ID, "rejected"))

	removed, err := q.CleanupFailedActions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	_, err = q.GetAction(ctx, oldFailed.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = q.GetAction(ctx, synced.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = q.GetAction(ctx, oldPending.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound), "the age ceiling applies to pending actions too")

	_, err = q.GetAction(ctx, fresh.ID)
	assert.NoError(t, err)
}

// =====================================================
// Durability
// =====================================================

func TestQueueSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	q, conn, err := Open(dir, nil)
	require.NoError(t, err)
	a, err := q.Enqueue(ctx, "S1", addToCart("P1", 2))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	reopened, conn2, err := Open(dir, nil)
	require.NoError(t, err)
	defer conn2.Close()

	pending, err := reopened.GetPendingActions(ctx, 20)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Equal(t, a.IdempotencyKey, pending[0].IdempotencyKey)
	assert.Equal(t, models.StatusPending, pending[0].Status)
}

// =====================================================
// Properties
// =====================================================

// TestPendingNeverContainsSynced drives random transitions and checks that
// GetPendingActions stays ordered and never returns a synced action.
func TestPendingNeverContainsSynced(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		clock := newFakeClock()
		q := newTestQueue(t, clock)

		var ids []string
		synced := make(map[string]bool)

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 3).Draw(rt, "op")
			if op == 0 || len(ids) == 0 {
				a, err := q.Enqueue(ctx, "S1", addToCart("P", rapid.IntRange(1, 5).Draw(rt, "qty")))
				if err != nil {
					rt.Fatalf("enqueue: %v", err)
				}
				ids = append(ids, a.ID)
				clock.Advance(time.Duration(rapid.IntRange(0, 3).Draw(rt, "tick")) * time.Millisecond)
				continue
			}
			id := rapid.SampledFrom(ids).Draw(rt, "id")
			switch op {
			case 1:
				_ = q.MarkAsSynced(ctx, id)
				synced[id] = true
			case 2:
				_ = q.UpdateRetryInfo(ctx, id, "err")
			case 3:
				_ = q.ResetError(ctx, id)
			}
		}

		pending, err := q.GetPendingActions(ctx, len(ids)+1)
		if err != nil {
			rt.Fatalf("pending: %v", err)
		}
		if len(pending) != len(ids)-len(synced) {
			rt.Fatalf("pending = %d, want %d", len(pending), len(ids)-len(synced))
		}
		for i, a := range pending {
			if synced[a.ID] || a.Status == models.StatusSynced {
				rt.Fatalf("synced action %s returned as pending", a.ID)
			}
			if i > 0 && pending[i-1].CreatedAt > a.CreatedAt {
				rt.Fatalf("pending not ordered by created_at")
			}
		}
	})
}
