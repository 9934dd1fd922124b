// Package handlers applies decoded action payloads to the backend store.
//
// Each action type has one handler. Handlers run inside the transaction that
// claimed the action's idempotency key, so an error from any of them undoes
// the claim together with every write the handler made.
package handlers

import (
	"context"
	"time"

	"github.com/emarzona/backend/internal/actions"
	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/server/store"
	"github.com/emarzona/backend/internal/uuid"
)

// Handler applies one payload type.
type Handler[P actions.Payload] interface {
	Handle(ctx context.Context, tx store.Tx, payload P, actx models.ActionContext) error
}

// Config holds handler dependencies.
type Config struct {
	Now func() time.Time
	IDs uuid.Generator
}

// Registry maps every action type to its handler.
type Registry struct {
	CreateOrder   Handler[actions.CreateOrder]
	UpdateProduct Handler[actions.UpdateProduct]
	AddToCart     Handler[actions.AddToCart]
	CreateStore   Handler[actions.CreateStore]
	CreateUser    Handler[actions.CreateUser]
}

// NewRegistry creates a Registry with the default handler for every type.
func NewRegistry(cfg *Config) *Registry {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.IDs == nil {
		c.IDs = uuid.Random{}
	}
	return &Registry{
		CreateOrder:   &CreateOrderHandler{now: c.Now, ids: c.IDs},
		UpdateProduct: &UpdateProductHandler{now: c.Now},
		AddToCart:     &AddToCartHandler{now: c.Now, ids: c.IDs},
		CreateStore:   &CreateStoreHandler{now: c.Now, ids: c.IDs},
		CreateUser:    &CreateUserHandler{now: c.Now, ids: c.IDs},
	}
}

// Dispatch runs the handler registered for payload's type.
func (r *Registry) Dispatch(ctx context.Context, tx store.Tx, payload actions.Payload, actx models.ActionContext) error {
	switch p := payload.(type) {
	case actions.CreateOrder:
		return r.CreateOrder.Handle(ctx, tx, p, actx)
	case actions.UpdateProduct:
		return r.UpdateProduct.Handle(ctx, tx, p, actx)
	case actions.AddToCart:
		return r.AddToCart.Handle(ctx, tx, p, actx)
	case actions.CreateStore:
		return r.CreateStore.Handle(ctx, tx, p, actx)
	case actions.CreateUser:
		return r.CreateUser.Handle(ctx, tx, p, actx)
	default:
		return errors.Newf(errors.ErrUnknownAction, "no handler for %T", payload)
	}
}

// availableProduct loads a product and checks it can be sold in quantity.
func availableProduct(ctx context.Context, tx store.Tx, productID string, quantity int) (*models.Product, error) {
	p, err := tx.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.Newf(errors.ErrProductUnavailable, "product %s does not exist", productID)
		}
		return nil, err
	}
	if !p.IsActive {
		return nil, errors.Newf(errors.ErrProductUnavailable, "product %s is not available", productID)
	}
	if p.Stock < quantity {
		return nil, errors.Newf(errors.ErrInsufficientStock,
			"product %s: requested %d, available %d", productID, quantity, p.Stock)
	}
	return p, nil
}

func requireAdmin(actx models.ActionContext, what models.ActionType) error {
	if !actx.IsAdmin() {
		return errors.Newf(errors.ErrPermission, "%s requires the admin role", what)
	}
	return nil
}
