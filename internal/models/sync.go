package models

import (
	"encoding/json"
	"time"
)

// ActionEnvelope is one action as submitted to the sync endpoint.
type ActionEnvelope struct {
	ID             string          `json:"id" validate:"required,max=128"`
	ActionType     ActionType      `json:"action_type" validate:"required"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required,max=255"`
	StoreID        string          `json:"store_id" validate:"max=128"`
}

// SyncBatchRequest is the body of POST /api/sync/actions.
type SyncBatchRequest struct {
	Actions []ActionEnvelope `json:"actions"`
}

// ActionResult is the per-action outcome reported by the sync endpoint.
type ActionResult struct {
	ID        string     `json:"id"`
	Success   bool       `json:"success"`
	Error     string     `json:"error,omitempty"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	Duplicate bool       `json:"duplicate,omitempty"`
}

// SyncBatchResponse is the body returned by the sync endpoint.
type SyncBatchResponse struct {
	Success bool           `json:"success"`
	Synced  int            `json:"synced"`
	Failed  int            `json:"failed"`
	Results []ActionResult `json:"results"`
}

// SkipReason explains why a sync attempt did no work.
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipInProgress SkipReason = "in_progress"
	SkipOffline    SkipReason = "offline"
	SkipEmpty      SkipReason = "empty"
)

// SyncError ties a failure message to a local action.
type SyncError struct {
	ActionID string `json:"action_id"`
	Error    string `json:"error"`
}

// SyncResult is the outcome of one sync attempt.
type SyncResult struct {
	Success      bool          `json:"success"`
	Synced       int           `json:"synced"`
	Failed       int           `json:"failed"`
	Errors       []SyncError   `json:"errors"`
	Duration     time.Duration `json:"-"`
	Skipped      SkipReason    `json:"skipped,omitempty"`
	AuthRequired bool          `json:"auth_required,omitempty"`
	BatchError   string        `json:"batch_error,omitempty"`
}

// DurationMillis returns Duration in milliseconds.
func (r SyncResult) DurationMillis() int64 {
	return r.Duration.Milliseconds()
}

// MarshalJSON adds duration_ms to the encoded result.
func (r SyncResult) MarshalJSON() ([]byte, error) {
	type alias SyncResult
	return json.Marshal(struct {
		alias
		DurationMS int64 `json:"duration_ms"`
	}{alias(r), r.DurationMillis()})
}
