// Package sqlstore implements store.Store on SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/emarzona/backend/internal/db"
	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/server/store"
)

// Store is a SQLite-backed store.Store. The underlying pool holds a single
// connection, so transactions are serialized.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens the SQLite file at path (":memory:" for tests) and applies the
// server migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "create database directory", err)
		}
	}
	conn, err := db.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "open sqlite store", err)
	}
	if err := db.Migrate(conn.DB, db.ServerMigrations); err != nil {
		conn.Close()
		return nil, err
	}
	return New(conn.DB), nil
}

// New wraps an already migrated database.
func New(conn *sql.DB) *Store {
	return &Store{db: conn}
}

// WithTx runs fn in a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&tx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return errors.Wrap(errors.ErrDatabase, "commit transaction", err)
	}
	return nil
}

// GetIdempotencyKey returns the record stored for key.
func (s *Store) GetIdempotencyKey(ctx context.Context, key string) (*models.IdempotencyKeyRecord, error) {
	return getKey(ctx, s.db, key)
}

// PruneIdempotencyKeys deletes records created before cutoff.
func (s *Store) PruneIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "prune idempotency keys", err)
	}
	return res.RowsAffected()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getKey(ctx context.Context, q queryer, key string) (*models.IdempotencyKeyRecord, error) {
	var rec models.IdempotencyKeyRecord
	var createdAt int64
	err := q.QueryRowContext(ctx,
		`SELECT key, action_type, user_id, created_at FROM idempotency_keys WHERE key = ?`, key,
	).Scan(&rec.Key, &rec.ActionType, &rec.UserID, &createdAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.ErrNotFound, "idempotency key not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "read idempotency key", err)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &rec, nil
}

type tx struct {
	tx *sql.Tx
}

func (t *tx) ClaimIdempotencyKey(ctx context.Context, rec models.IdempotencyKeyRecord) (bool, *models.IdempotencyKeyRecord, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO idempotency_keys (key, action_type, user_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		rec.Key, rec.ActionType, rec.UserID, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, nil, errors.Wrap(errors.ErrDatabase, "claim idempotency key", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil, errors.Wrap(errors.ErrDatabase, "claim idempotency key", err)
	}
	if n == 1 {
		return true, nil, nil
	}
	existing, err := getKey(ctx, t.tx, rec.Key)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (t *tx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	var updatedAt int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, store_id, name, price_cents, stock, is_active, updated_at FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.StoreID, &p.Name, &p.PriceCents, &p.Stock, &p.IsActive, &updatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "product %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "read product", err)
	}
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &p, nil
}

func (t *tx) InsertProduct(ctx context.Context, p *models.Product) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO products (id, store_id, name, price_cents, stock, is_active, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.StoreID, p.Name, p.PriceCents, p.Stock, p.IsActive, p.UpdatedAt.UnixMilli(),
	)
	return insertErr(err, "product")
}

func (t *tx) UpdateProduct(ctx context.Context, p *models.Product) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE products SET name = ?, price_cents = ?, stock = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.PriceCents, p.Stock, p.IsActive, p.UpdatedAt.UnixMilli(), p.ID,
	)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "update product", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Newf(errors.ErrNotFound, "product %s not found", p.ID)
	}
	return nil
}

func (t *tx) InsertCartItem(ctx context.Context, item *models.CartItem) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO cart_items (id, user_id, product_id, quantity, created_at) VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.UserID, item.ProductID, item.Quantity, item.CreatedAt.UnixMilli(),
	)
	return insertErr(err, "cart item")
}

func (t *tx) ListCartItems(ctx context.Context, userID string) ([]models.CartItem, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, user_id, product_id, quantity, created_at FROM cart_items
		 WHERE user_id = ? ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "list cart items", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var it models.CartItem
		var createdAt int64
		if err := rows.Scan(&it.ID, &it.UserID, &it.ProductID, &it.Quantity, &createdAt); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "scan cart item", err)
		}
		it.CreatedAt = time.UnixMilli(createdAt).UTC()
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *tx) InsertOrder(ctx context.Context, o *models.Order) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, store_id, status, total_cents, shipping_address, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.StoreID, o.Status, o.TotalCents, o.ShippingAddress, o.Notes, o.CreatedAt.UnixMilli(),
	)
	if err := insertErr(err, "order"); err != nil {
		return err
	}
	for _, it := range o.Items {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents) VALUES (?, ?, ?, ?)`,
			o.ID, it.ProductID, it.Quantity, it.UnitPriceCents,
		)
		if err := insertErr(err, "order item"); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) InsertStore(ctx context.Context, s *models.Store) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO stores (id, name, slug, owner_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Slug, s.OwnerID, s.CreatedAt.UnixMilli(),
	)
	return insertErr(err, fmt.Sprintf("store slug %q", s.Slug))
}

func (t *tx) InsertUser(ctx context.Context, u *models.User) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, role, store_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.DisplayName, u.Role, u.StoreID, u.CreatedAt.UnixMilli(),
	)
	return insertErr(err, fmt.Sprintf("user email %q", u.Email))
}

func insertErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err):
		return errors.Newf(errors.ErrDuplicate, "%s already exists", what)
	default:
		return errors.Wrap(errors.ErrDatabase, "insert "+what, err)
	}
}
