package syncapi

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"

	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/logging"
	"github.com/emarzona/backend/internal/server/auth"
	syncpkg "github.com/emarzona/backend/internal/sync"
	"github.com/emarzona/backend/internal/telemetry"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the endpoint router.
type Deps struct {
	Handler     *SyncHandler
	Verifier    *auth.Verifier
	Store       Pinger
	HTTPMetrics *telemetry.HTTPMetrics // optional
	Metrics     http.Handler           // optional scrape handler for /metrics
}

// NewRouter builds the endpoint's HTTP routes.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(recoverMiddleware)
	if d.HTTPMetrics != nil {
		r.Use(d.HTTPMetrics.Middleware)
	}

	r.HandleFunc("/health", healthHandler(d.Store)).Methods(http.MethodGet)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware(d.Verifier, writeError))
	api.HandleFunc(stripAPI(syncpkg.SyncActionsPath), d.Handler.SubmitActions).Methods(http.MethodPost)

	return r
}

// stripAPI turns the client's full path into the subrouter-relative one.
func stripAPI(path string) string {
	return path[len("/api"):]
}

func healthHandler(s Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if s != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.Ping(ctx); err != nil {
				logging.Warn("Health check failed", map[string]interface{}{"error": err.Error()})
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, map[string]string{"status": status, "service": "emarzona-sync"})
	}
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Error("Panic serving request", nil, map[string]interface{}{
					"path":  r.URL.Path,
					"panic": rec,
					"stack": string(debug.Stack()),
				})
				writeError(w, errors.New(errors.ErrInternal, "panic"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
