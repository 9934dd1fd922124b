// Package errors tests for error codes and error handling.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// TestErrorCodeValues verifies all error codes have distinct non-empty values.
func TestErrorCodeValues(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrDuplicate, ErrPermission, ErrValidation,
		ErrDatabase, ErrMigration, ErrConstraint, ErrStorage,
		ErrUnknownAction, ErrProductUnavailable, ErrInsufficientStock,
		ErrUnauthenticated,
		ErrSyncFailed, ErrSyncAuthFailed, ErrSyncTimeout, ErrSyncOffline, ErrBatchTooLarge,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if code == "" {
			t.Error("ErrorCode should not be empty")
		}
		if seen[code] {
			t.Errorf("ErrorCode %q declared twice", code)
		}
		seen[code] = true
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrStorage, Message: "enqueue failed", Err: errors.New("disk full")},
			want:     "[LOCAL_STORAGE_ERROR] enqueue failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWrap verifies error wrapping keeps the chain intact.
func TestWrap(t *testing.T) {
	underlying := errors.New("underlying")

	err := Wrap(ErrDatabase, "query failed", underlying)
	if err.Code != ErrDatabase {
		t.Errorf("Wrap() code = %q, want %q", err.Code, ErrDatabase)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is() should find the underlying error")
	}
}

// TestIs verifies code matching through wrapped chains.
func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching AppError", New(ErrNotFound, "missing"), ErrNotFound, true},
		{"non-matching AppError", New(ErrNotFound, "missing"), ErrPermission, false},
		{"wrapped by fmt", fmt.Errorf("handler: %w", New(ErrPermission, "admin only")), ErrPermission, true},
		{"plain error", errors.New("boom"), ErrInternal, false},
		{"nil error", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCodeOf verifies code extraction falls back to ErrInternal.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(Newf(ErrInsufficientStock, "only %d left", 1)); got != ErrInsufficientStock {
		t.Errorf("CodeOf() = %q, want %q", got, ErrInsufficientStock)
	}
	if got := CodeOf(errors.New("raw")); got != ErrInternal {
		t.Errorf("CodeOf() = %q, want %q", got, ErrInternal)
	}
}

// TestPublic verifies raw errors never leak their text.
func TestPublic(t *testing.T) {
	if got := Public(New(ErrPermission, "admin role required")); got != "PERMISSION_DENIED: admin role required" {
		t.Errorf("Public() = %q", got)
	}
	if got := Public(errors.New("pq: relation secret_table")); got != "INTERNAL_ERROR: internal error" {
		t.Errorf("Public() = %q", got)
	}
	if got := Public(nil); got != "" {
		t.Errorf("Public(nil) = %q, want empty", got)
	}
}

// TestHTTPStatus verifies status mapping for the sync endpoint.
func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrInvalid, http.StatusBadRequest},
		{ErrBatchTooLarge, http.StatusBadRequest},
		{ErrUnauthenticated, http.StatusUnauthorized},
		{ErrPermission, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{ErrDuplicate, http.StatusConflict},
		{ErrInsufficientStock, http.StatusUnprocessableEntity},
		{ErrDatabase, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := HTTPStatus(tt.code); got != tt.want {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}
