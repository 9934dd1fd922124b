package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/emarzona/backend/internal/actions"
	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/sync/queue"
)

// ActionQueue is the part of the local queue the UI touches.
type ActionQueue interface {
	Enqueue(ctx context.Context, storeID string, payload actions.Payload) (*models.LocalAction, error)
	GetAction(ctx context.Context, id string) (*models.LocalAction, error)
	List(ctx context.Context, status models.ActionStatus, limit int) ([]*models.LocalAction, error)
	Stats(ctx context.Context) (models.QueueStats, error)
	CleanupFailedActions(ctx context.Context) (int, error)
}

var _ ActionQueue = (*queue.LocalQueue)(nil)

// ActionHandler serves the queued action endpoints.
type ActionHandler struct {
	queue        ActionQueue
	afterEnqueue func()
}

// NewActionHandler creates an ActionHandler. afterEnqueue, when set, runs
// after every successful enqueue so a sync can be nudged while online.
func NewActionHandler(q ActionQueue, afterEnqueue func()) *ActionHandler {
	return &ActionHandler{queue: q, afterEnqueue: afterEnqueue}
}

// EnqueueRequest is the body of POST /api/actions.
type EnqueueRequest struct {
	ActionType models.ActionType `json:"action_type"`
	StoreID    string            `json:"store_id"`
	Payload    json.RawMessage   `json:"payload"`
}

// Enqueue handles POST /api/actions.
func (h *ActionHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	payload, err := actions.DecodeAndValidate(req.ActionType, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}

	action, err := h.queue.Enqueue(r.Context(), req.StoreID, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.afterEnqueue != nil {
		h.afterEnqueue()
	}
	writeJSON(w, http.StatusCreated, action)
}

// Get handles GET /api/actions/{id}.
func (h *ActionHandler) Get(w http.ResponseWriter, r *http.Request) {
	action, err := h.queue.GetAction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

// List handles GET /api/actions?status=&limit=.
func (h *ActionHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.ActionStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, errors.Newf(errors.ErrInvalid, "unknown status %q", status))
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, errors.Newf(errors.ErrInvalid, "invalid limit %q", raw))
			return
		}
		limit = n
	}

	list, err := h.queue.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*models.LocalAction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": list})
}

// Stats handles GET /api/queue/stats.
func (h *ActionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Cleanup handles POST /api/queue/cleanup.
func (h *ActionHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.queue.CleanupFailedActions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
