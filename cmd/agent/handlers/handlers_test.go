package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emarzona/backend/internal/db"
	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/sync/queue"
	"github.com/emarzona/backend/internal/sync/scheduler"
	"github.com/emarzona/backend/internal/uuid"
)

// fakeSync records the calls the UI makes.
type fakeSync struct {
	mu          sync.Mutex
	online      []bool
	foreground  int
	forced      int
	retried     int
	statusError error
}

func (f *fakeSync) GetSyncStatus(context.Context) (scheduler.SyncStatus, error) {
	return scheduler.SyncStatus{IsRunning: true, IsOnline: true, PendingActions: 2}, f.statusError
}

func (f *fakeSync) ForceSync(context.Context) models.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced++
	return models.SyncResult{Success: true, Synced: 1, Errors: []models.SyncError{}}
}

func (f *fakeSync) RetryFailed(context.Context) models.SyncResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried++
	return models.SyncResult{Success: false, Failed: 1, Errors: []models.SyncError{{ActionID: "a1", Error: "boom"}}}
}

func (f *fakeSync) SetOnlineStatus(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = append(f.online, online)
}

func (f *fakeSync) NotifyForeground() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.foreground++
}

func setupRouter(t *testing.T) (http.Handler, *queue.LocalQueue, *fakeSync) {
	t.Helper()
	conn, err := db.OpenFile(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(conn.DB, db.ClientMigrations))

	q := queue.New(conn.DB, &queue.Config{
		IDs: uuid.NewSequence("act"),
		Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	fs := &fakeSync{}
	router := NewRouter(Routes{
		Actions: NewActionHandler(q, fs.NotifyForeground),
		Sync:    NewSyncHandler(fs),
	})
	return router, q, fs
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestActionHandler_EnqueueAndGet(t *testing.T) {
	router, _, fs := setupRouter(t)

	w := do(t, router, http.MethodPost, "/api/actions", EnqueueRequest{
		ActionType: models.ActionAddToCart,
		StoreID:    "S1",
		Payload:    json.RawMessage(`{"product_id":"mug","quantity":2}`),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.LocalAction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.StatusPending, created.Status)
	assert.NotEmpty(t, created.IdempotencyKey)
	assert.Equal(t, 1, fs.foreground, "enqueue nudges the scheduler")

	w = do(t, router, http.MethodGet, "/api/actions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.LocalAction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.IdempotencyKey, got.IdempotencyKey)
	assert.JSONEq(t, `{"product_id":"mug","quantity":2}`, string(got.Payload))
}

func TestActionHandler_EnqueueRejects(t *testing.T) {
	router, q, fs := setupRouter(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   errors.ErrorCode
	}{
		{"malformed body", `{"action_type":`, http.StatusBadRequest, errors.ErrInvalid},
		{"unknown type", EnqueueRequest{ActionType: "drop_tables", Payload: json.RawMessage(`{}`)}, http.StatusBadRequest, errors.ErrUnknownAction},
		{"missing payload", EnqueueRequest{ActionType: models.ActionAddToCart}, http.StatusBadRequest, errors.ErrValidation},
		{"invalid payload", EnqueueRequest{ActionType: models.ActionAddToCart, Payload: json.RawMessage(`{"product_id":"mug","quantity":0}`)}, http.StatusBadRequest, errors.ErrValidation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/api/actions", tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			var e ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
			assert.Equal(t, tc.code, e.Code)
		})
	}

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, fs.foreground)
}

func TestActionHandler_GetMissing(t *testing.T) {
	router, _, _ := setupRouter(t)
	w := do(t, router, http.MethodGet, "/api/actions/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestActionHandler_ListStatsCleanup(t *testing.T) {
	router, q, _ := setupRouter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		w := do(t, router, http.MethodPost, "/api/actions", EnqueueRequest{
			ActionType: models.ActionAddToCart,
			Payload:    json.RawMessage(`{"product_id":"mug","quantity":1}`),
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	require.NoError(t, q.MarkAsSynced(ctx, "act-1"))

	w := do(t, router, http.MethodGet, "/api/actions?status=pending&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Actions []models.LocalAction `json:"actions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Actions, 2)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/actions?status=lost", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/actions?limit=-1", nil).Code)

	w = do(t, router, http.MethodGet, "/api/queue/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.QueueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, models.QueueStats{Total: 3, Pending: 2, Synced: 1}, stats)

	w = do(t, router, http.MethodPost, "/api/queue/cleanup", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":0}`, w.Body.String())
}

func TestSyncHandler(t *testing.T) {
	router, _, fs := setupRouter(t)

	w := do(t, router, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status scheduler.SyncStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.IsOnline)
	assert.Equal(t, 2, status.PendingActions)

	w = do(t, router, http.MethodPost, "/api/sync/force", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"synced":1`)

	w = do(t, router, http.MethodPost, "/api/sync/retry-failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"action_id":"a1"`)

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodPost, "/api/connectivity", `{"online":false}`).Code)
	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodPost, "/api/connectivity", `{"online":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/connectivity", `{}`).Code)

	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodPost, "/api/visibility", `{"foreground":false}`).Code)
	assert.Equal(t, http.StatusNoContent, do(t, router, http.MethodPost, "/api/visibility", `{"foreground":true}`).Code)

	assert.Equal(t, 1, fs.forced)
	assert.Equal(t, 1, fs.retried)
	assert.Equal(t, []bool{false, true}, fs.online)
	assert.Equal(t, 1, fs.foreground)
}

func TestSyncHandler_statusError(t *testing.T) {
	router, _, fs := setupRouter(t)
	fs.statusError = errors.New(errors.ErrStorage, "disk gone")

	w := do(t, router, http.MethodGet, "/api/sync/status", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouter_health(t *testing.T) {
	router, _, _ := setupRouter(t)
	w := do(t, router, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "emarzona-agent")
}
