package models

import "time"

// Role is the caller's role as asserted by a verified access token.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSeller   Role = "seller"
	RoleCustomer Role = "customer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleSeller || r == RoleCustomer
}

// ActionContext identifies the caller of the sync endpoint. It is derived
// from the bearer token only, never from action payloads.
type ActionContext struct {
	UserID  string `json:"user_id"`
	Role    Role   `json:"role"`
	StoreID string `json:"store_id,omitempty"`
}

// IsAdmin reports whether the caller has the elevated role.
func (c ActionContext) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// IdempotencyKeyRecord proves an action was applied. At most one exists per key.
type IdempotencyKeyRecord struct {
	Key        string     `db:"key" json:"key"`
	ActionType ActionType `db:"action_type" json:"action_type"`
	UserID     string     `db:"user_id" json:"user_id"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// TableName returns the table name for IdempotencyKeyRecord.
func (IdempotencyKeyRecord) TableName() string {
	return "idempotency_keys"
}

// Product is the subset of catalog data the action handlers need.
type Product struct {
	ID         string    `db:"id" json:"id"`
	StoreID    string    `db:"store_id" json:"store_id"`
	Name       string    `db:"name" json:"name"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	Stock      int       `db:"stock" json:"stock"`
	IsActive   bool      `db:"is_active" json:"is_active"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// CartItem is one line in a user's cart.
type CartItem struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	ProductID string    `db:"product_id" json:"product_id"`
	Quantity  int       `db:"quantity" json:"quantity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order is a placed order; TotalCents is computed server-side.
type Order struct {
	ID              string      `db:"id" json:"id"`
	UserID          string      `db:"user_id" json:"user_id"`
	StoreID         string      `db:"store_id" json:"store_id"`
	Status          string      `db:"status" json:"status"`
	TotalCents      int64       `db:"total_cents" json:"total_cents"`
	ShippingAddress string      `db:"shipping_address" json:"shipping_address,omitempty"`
	Notes           string      `db:"notes" json:"notes,omitempty"`
	Items           []OrderItem `db:"-" json:"items"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
}

// OrderItem is one product line of an order.
type OrderItem struct {
	OrderID        string `db:"order_id" json:"order_id"`
	ProductID      string `db:"product_id" json:"product_id"`
	Quantity       int    `db:"quantity" json:"quantity"`
	UnitPriceCents int64  `db:"unit_price_cents" json:"unit_price_cents"`
}

// Store is a tenant storefront.
type Store struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// User is a platform account.
type User struct {
	ID          string    `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	DisplayName string    `db:"display_name" json:"display_name,omitempty"`
	Role        Role      `db:"role" json:"role"`
	StoreID     string    `db:"store_id" json:"store_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
