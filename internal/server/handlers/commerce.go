package handlers

import (
	"context"
	"math"
	"time"

	"github.com/emarzona/backend/internal/actions"
	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/server/store"
	"github.com/emarzona/backend/internal/uuid"
)

// OrderStatusPlaced is the status of a newly created order.
const OrderStatusPlaced = "placed"

// AddToCartHandler inserts one cart row for the caller.
type AddToCartHandler struct {
	now func() time.Time
	ids uuid.Generator
}

// Handle checks availability and stock, then adds the item.
func (h *AddToCartHandler) Handle(ctx context.Context, tx store.Tx, p actions.AddToCart, actx models.ActionContext) error {
	if _, err := availableProduct(ctx, tx, p.ProductID, p.Quantity); err != nil {
		return err
	}
	return tx.InsertCartItem(ctx, &models.CartItem{
		ID:        h.ids.NewID(),
		UserID:    actx.UserID,
		ProductID: p.ProductID,
		Quantity:  p.Quantity,
		CreatedAt: h.now().UTC(),
	})
}

// CreateOrderHandler places an order and decrements stock.
type CreateOrderHandler struct {
	now func() time.Time
	ids uuid.Generator
}

// Handle validates every line before writing anything. Repeated lines for the
// same product are merged. All products must belong to one store.
func (h *CreateOrderHandler) Handle(ctx context.Context, tx store.Tx, p actions.CreateOrder, actx models.ActionContext) error {
	var order []string
	qty := make(map[string]int, len(p.Items))
	for _, line := range p.Items {
		if _, seen := qty[line.ProductID]; !seen {
			order = append(order, line.ProductID)
		}
		qty[line.ProductID] += line.Quantity
	}

	now := h.now().UTC()
	o := &models.Order{
		ID:              h.ids.NewID(),
		UserID:          actx.UserID,
		Status:          OrderStatusPlaced,
		ShippingAddress: p.ShippingAddress,
		Notes:           p.Notes,
		CreatedAt:       now,
	}

	products := make([]*models.Product, 0, len(order))
	for _, id := range order {
		prod, err := availableProduct(ctx, tx, id, qty[id])
		if err != nil {
			return err
		}
		if o.StoreID == "" {
			o.StoreID = prod.StoreID
		} else if prod.StoreID != o.StoreID {
			return errors.New(errors.ErrValidation, "create_order: products from more than one store")
		}
		products = append(products, prod)
	}

	for _, prod := range products {
		n := qty[prod.ID]
		o.Items = append(o.Items, models.OrderItem{
			OrderID:        o.ID,
			ProductID:      prod.ID,
			Quantity:       n,
			UnitPriceCents: prod.PriceCents,
		})
		total, ok := addLineTotal(o.TotalCents, prod.PriceCents, n)
		if !ok {
			return errors.Newf(errors.ErrValidation, "create_order: total for %s overflows", prod.ID)
		}
		o.TotalCents = total

		prod.Stock -= n
		prod.UpdatedAt = now
		if err := tx.UpdateProduct(ctx, prod); err != nil {
			return err
		}
	}

	return tx.InsertOrder(ctx, o)
}

// addLineTotal returns total + price*qty, or false when the result would not
// fit in an int64.
func addLineTotal(total, price int64, qty int) (int64, bool) {
	if price < 0 || qty < 0 || total < 0 {
		return 0, false
	}
	if qty != 0 && price > math.MaxInt64/int64(qty) {
		return 0, false
	}
	line := price * int64(qty)
	if total > math.MaxInt64-line {
		return 0, false
	}
	return total + line, true
}

// UpdateProductHandler patches a product owned by the caller's store.
type UpdateProductHandler struct {
	now func() time.Time
}

// Handle applies the non-nil fields of p.
func (h *UpdateProductHandler) Handle(ctx context.Context, tx store.Tx, p actions.UpdateProduct, actx models.ActionContext) error {
	prod, err := tx.GetProduct(ctx, p.ProductID)
	if err != nil {
		return err
	}
	if !actx.IsAdmin() && (actx.StoreID == "" || prod.StoreID != actx.StoreID) {
		return errors.Newf(errors.ErrPermission, "product %s belongs to another store", p.ProductID)
	}

	if p.Name != nil {
		prod.Name = *p.Name
	}
	if p.PriceCents != nil {
		prod.PriceCents = *p.PriceCents
	}
	if p.Stock != nil {
		prod.Stock = *p.Stock
	}
	if p.IsActive != nil {
		prod.IsActive = *p.IsActive
	}
	prod.UpdatedAt = h.now().UTC()
	return tx.UpdateProduct(ctx, prod)
}
