package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/emarzona/backend/internal/telemetry"
)

// Routes bundles the agent's HTTP handlers.
type Routes struct {
	Actions     *ActionHandler
	Sync        *SyncHandler
	WebSocket   http.Handler           // optional
	Metrics     http.Handler           // optional
	HTTPMetrics *telemetry.HTTPMetrics // optional
}

// NewRouter wires the localhost API.
func NewRouter(rt Routes) *mux.Router {
	r := mux.NewRouter()
	if rt.HTTPMetrics != nil {
		r.Use(rt.HTTPMetrics.Middleware)
	}

	r.HandleFunc("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "emarzona-agent"})
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/actions", rt.Actions.Enqueue).Methods(http.MethodPost)
	r.HandleFunc("/api/actions", rt.Actions.List).Methods(http.MethodGet)
	r.HandleFunc("/api/actions/{id}", rt.Actions.Get).Methods(http.MethodGet)
	r.HandleFunc("/api/queue/stats", rt.Actions.Stats).Methods(http.MethodGet)
	r.HandleFunc("/api/queue/cleanup", rt.Actions.Cleanup).Methods(http.MethodPost)

	r.HandleFunc("/api/sync/status", rt.Sync.Status).Methods(http.MethodGet)
	r.HandleFunc("/api/sync/force", rt.Sync.Force).Methods(http.MethodPost)
	r.HandleFunc("/api/sync/retry-failed", rt.Sync.RetryFailed).Methods(http.MethodPost)
	r.HandleFunc("/api/connectivity", rt.Sync.Connectivity).Methods(http.MethodPost)
	r.HandleFunc("/api/visibility", rt.Sync.Visibility).Methods(http.MethodPost)

	if rt.WebSocket != nil {
		r.Handle("/ws", rt.WebSocket).Methods(http.MethodGet)
	}
	if rt.Metrics != nil {
		r.Handle("/metrics", rt.Metrics).Methods(http.MethodGet)
	}
	return r
}
