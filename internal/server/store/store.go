// Package store defines the sync endpoint's persistence boundary. Every
// action is applied inside one Tx together with its idempotency claim.
package store

import (
	"context"
	"time"

	"github.com/emarzona/backend/internal/models"
)

// Store is the backend database.
type Store interface {
	// WithTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// GetIdempotencyKey returns the record for key or an ErrNotFound error.
	GetIdempotencyKey(ctx context.Context, key string) (*models.IdempotencyKeyRecord, error)

	// PruneIdempotencyKeys deletes records created before cutoff.
	PruneIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of writes available to action handlers.
type Tx interface {
	// ClaimIdempotencyKey inserts rec unless the key already exists. When it
	// exists, claimed is false and existing holds the stored record.
	ClaimIdempotencyKey(ctx context.Context, rec models.IdempotencyKeyRecord) (claimed bool, existing *models.IdempotencyKeyRecord, err error)

	// GetProduct returns the product, locked for update where the backend
	// supports row locks, or an ErrNotFound error.
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	InsertProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error

	InsertCartItem(ctx context.Context, item *models.CartItem) error
	ListCartItems(ctx context.Context, userID string) ([]models.CartItem, error)

	// InsertOrder stores the order and its items.
	InsertOrder(ctx context.Context, o *models.Order) error

	// InsertStore and InsertUser return an ErrDuplicate error when the slug
	// or email is taken.
	InsertStore(ctx context.Context, s *models.Store) error
	InsertUser(ctx context.Context, u *models.User) error
}
