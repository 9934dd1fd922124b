// Package models provides data model definitions shared by the local agent and the sync endpoint.
package models

import (
	"encoding/json"
	"time"
)

// ActionType names a domain mutation that can be queued for sync.
type ActionType string

const (
	ActionCreateOrder   ActionType = "create_order"
	ActionUpdateProduct ActionType = "update_product"
	ActionAddToCart     ActionType = "add_to_cart"
	ActionCreateStore   ActionType = "create_store"
	ActionCreateUser    ActionType = "create_user"
)

// ActionTypes lists every known action type.
var ActionTypes = []ActionType{
	ActionCreateOrder,
	ActionUpdateProduct,
	ActionAddToCart,
	ActionCreateStore,
	ActionCreateUser,
}

// Valid reports whether t is a known action type.
func (t ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ActionStatus is the sync state of a local action.
type ActionStatus string

const (
	StatusPending ActionStatus = "pending"
	StatusSynced  ActionStatus = "synced"
	StatusFailed  ActionStatus = "failed"
)

// Valid reports whether s is a known status.
func (s ActionStatus) Valid() bool {
	return s == StatusPending || s == StatusSynced || s == StatusFailed
}

// LocalAction is a deferred mutation persisted on the device until the
// sync endpoint confirms it. Timestamps are unix milliseconds.
type LocalAction struct {
	ID             string          `db:"id" json:"id"`
	ActionType     ActionType      `db:"action_type" json:"action_type"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	StoreID        string          `db:"store_id" json:"store_id"`
	Status         ActionStatus    `db:"status" json:"status"`
	RetryCount     int             `db:"retry_count" json:"retry_count"`
	LastError      *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt      int64           `db:"created_at" json:"created_at"`
	UpdatedAt      int64           `db:"updated_at" json:"updated_at"`
	SyncedAt       *int64          `db:"synced_at" json:"synced_at,omitempty"`
}

// TableName returns the table name for LocalAction.
func (LocalAction) TableName() string {
	return "local_actions"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (a *LocalAction) CreatedAtTime() time.Time {
	return time.UnixMilli(a.CreatedAt)
}

// Envelope converts the action to its wire form.
func (a *LocalAction) Envelope() ActionEnvelope {
	return ActionEnvelope{
		ID:             a.ID,
		ActionType:     a.ActionType,
		Payload:        a.Payload,
		IdempotencyKey: a.IdempotencyKey,
		StoreID:        a.StoreID,
	}
}

// QueueStats summarizes the local queue.
type QueueStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	Synced  int `json:"synced"`
}

// Unsynced is the number of actions still waiting for delivery.
func (s QueueStats) Unsynced() int {
	return s.Pending + s.Failed
}
