package syncapi

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/logging"
	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/server/auth"
)

// MaxRequestBytes bounds the request body of POST /api/sync/actions.
const MaxRequestBytes = 1 << 20

// ErrorResponse is the body of every non-200 answer.
type ErrorResponse struct {
	Error string          `json:"error"`
	Code  errors.ErrorCode `json:"code"`
}

// SyncHandler serves the batch endpoint.
type SyncHandler struct {
	processor *Processor
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(p *Processor) *SyncHandler {
	return &SyncHandler{processor: p}
}

// SubmitActions handles POST /api/sync/actions.
//
// 401 when the caller is not authenticated, 400 when the body or the batch
// as a whole is invalid, 500 on an unexpected failure, and 200 otherwise,
// even when individual actions failed.
func (h *SyncHandler) SubmitActions(w http.ResponseWriter, r *http.Request) {
	actx, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, errors.New(errors.ErrUnauthenticated, "missing caller identity"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBytes)
	var req models.SyncBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeError(w, errors.Newf(errors.ErrBatchTooLarge, "request body exceeds %d bytes", MaxRequestBytes))
			return
		}
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	if req.Actions == nil {
		writeError(w, errors.New(errors.ErrInvalid, "actions is required"))
		return
	}

	resp, err := h.processor.ProcessBatch(r.Context(), actx, req.Actions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Writing response failed", map[string]interface{}{"error": err.Error()})
	}
}

// writeError maps err to a status. Anything that is not a client error is
// reported as 500 without detail.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := errors.HTTPStatus(code)
	switch {
	case status == http.StatusUnauthorized:
	case status >= 400 && status < 500:
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		logging.ErrorWithCode("Sync request failed", string(code), err, nil)
		writeJSON(w, status, ErrorResponse{Error: "internal error", Code: errors.ErrInternal})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: errors.Public(err), Code: code})
}
