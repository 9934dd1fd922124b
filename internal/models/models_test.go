// Package models tests for data model definitions.
package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionType_Valid(t *testing.T) {
	for _, at := range ActionTypes {
		assert.True(t, at.Valid(), at)
	}
	assert.False(t, ActionType("delete_everything").Valid())
	assert.False(t, ActionType("").Valid())
}

func TestActionStatus_Valid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.True(t, StatusSynced.Valid())
	assert.True(t, StatusFailed.Valid())
	assert.False(t, ActionStatus("discarded").Valid())
}

func TestLocalAction_Envelope(t *testing.T) {
	a := LocalAction{
		ID:             "a1",
		ActionType:     ActionAddToCart,
		Payload:        json.RawMessage(`{"product_id":"P1","quantity":2}`),
		IdempotencyKey: "K1",
		StoreID:        "S1",
		Status:         StatusPending,
	}

	env := a.Envelope()
	assert.Equal(t, "a1", env.ID)
	assert.Equal(t, ActionAddToCart, env.ActionType)
	assert.Equal(t, "K1", env.IdempotencyKey)
	assert.Equal(t, "S1", env.StoreID)
	assert.JSONEq(t, `{"product_id":"P1","quantity":2}`, string(env.Payload))
}

func TestSyncBatchRequest_wireFormat(t *testing.T) {
	body := `{"actions":[{"id":"a1","action_type":"add_to_cart","payload":{"product_id":"P1","quantity":2},"idempotency_key":"K1","store_id":"S1"}]}`

	var req SyncBatchRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	require.Len(t, req.Actions, 1)
	assert.Equal(t, "K1", req.Actions[0].IdempotencyKey)
}

func TestActionResult_omitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(ActionResult{ID: "a1", Success: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a1","success":true}`, string(b))

	applied := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b, err = json.Marshal(ActionResult{ID: "a2", Success: true, AppliedAt: &applied, Duplicate: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a2","success":true,"applied_at":"2026-01-02T03:04:05Z","duplicate":true}`, string(b))
}

func TestSyncResult_MarshalJSON(t *testing.T) {
	r := SyncResult{Success: true, Synced: 2, Duration: 1500 * time.Millisecond}

	b, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, float64(1500), decoded["duration_ms"])
	assert.Equal(t, float64(2), decoded["synced"])
	assert.Equal(t, true, decoded["success"])
}

func TestQueueStats_Unsynced(t *testing.T) {
	assert.Equal(t, 5, QueueStats{Total: 9, Pending: 3, Failed: 2, Synced: 4}.Unsynced())
}

func TestActionContext_IsAdmin(t *testing.T) {
	assert.True(t, ActionContext{Role: RoleAdmin}.IsAdmin())
	assert.False(t, ActionContext{Role: RoleSeller}.IsAdmin())
	assert.False(t, Role("root").Valid())
}
