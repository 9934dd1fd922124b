// Package sync provides the client side of the action sync protocol:
// the transport to the sync endpoint and the connectivity prober.
package sync

import (
	"context"

	"github.com/emarzona/backend/internal/models"
)

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks github.com/emarzona/backend/internal/sync Transport,TokenSource

// Transport delivers one batch of actions to the sync endpoint.
//
// A nil error means the endpoint processed the batch and the response
// carries per-action outcomes. Any error means no outcome is known for any
// action in the batch; errors.ErrSyncAuthFailed marks a rejected credential.
type Transport interface {
	SubmitBatch(ctx context.Context, req models.SyncBatchRequest) (*models.SyncBatchResponse, error)
}

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns the static token.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
