package handlers

import (
	"context"
	"net/http"

	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/sync/scheduler"
)

// SyncController is the scheduler surface the UI drives.
type SyncController interface {
	GetSyncStatus(ctx context.Context) (scheduler.SyncStatus, error)
	ForceSync(ctx context.Context) models.SyncResult
	RetryFailed(ctx context.Context) models.SyncResult
	SetOnlineStatus(isOnline bool)
	NotifyForeground()
}

var _ SyncController = (*scheduler.Scheduler)(nil)

// SyncHandler serves sync status and manual triggers.
type SyncHandler struct {
	sync SyncController
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(s SyncController) *SyncHandler {
	return &SyncHandler{sync: s}
}

// Status handles GET /api/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.sync.GetSyncStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Force handles POST /api/sync/force.
func (h *SyncHandler) Force(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sync.ForceSync(r.Context()))
}

// RetryFailed handles POST /api/sync/retry-failed.
func (h *SyncHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sync.RetryFailed(r.Context()))
}

// Connectivity handles POST /api/connectivity with {"online": bool}.
func (h *SyncHandler) Connectivity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Online == nil {
		writeError(w, errInvalid("online is required"))
		return
	}
	h.sync.SetOnlineStatus(*req.Online)
	w.WriteHeader(http.StatusNoContent)
}

// Visibility handles POST /api/visibility with {"foreground": bool}.
// Returning to the foreground triggers a sync when online.
func (h *SyncHandler) Visibility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Foreground bool `json:"foreground"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Foreground {
		h.sync.NotifyForeground()
	}
	w.WriteHeader(http.StatusNoContent)
}
