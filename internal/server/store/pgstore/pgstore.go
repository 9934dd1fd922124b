// Package pgstore implements store.Store on PostgreSQL using pgx.
package pgstore

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/server/store"
)

//go:embed schema.sql
var schema string

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to connString, verifies the connection and applies the schema.
func Open(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "parse connection string", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "create pool", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(errors.ErrDatabase, "ping database", err)
	}

	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(errors.ErrMigration, "apply postgres schema", err)
	}
	return nil
}

// WithTx runs fn in a read-committed transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = pgTx.Rollback(context.Background())
			panic(p)
		}
		if err != nil {
			_ = pgTx.Rollback(context.Background())
		}
	}()

	if err = fn(&tx{tx: pgTx}); err != nil {
		return err
	}
	if err = pgTx.Commit(ctx); err != nil {
		return errors.Wrap(errors.ErrDatabase, "commit transaction", err)
	}
	return nil
}

// GetIdempotencyKey returns the record stored for key.
func (s *Store) GetIdempotencyKey(ctx context.Context, key string) (*models.IdempotencyKeyRecord, error) {
	return getKey(ctx, s.pool, key)
}

// PruneIdempotencyKeys deletes records created before cutoff.
func (s *Store) PruneIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "prune idempotency keys", err)
	}
	return tag.RowsAffected(), nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getKey(ctx context.Context, q queryer, key string) (*models.IdempotencyKeyRecord, error) {
	var rec models.IdempotencyKeyRecord
	err := q.QueryRow(ctx,
		`SELECT key, action_type, user_id, created_at FROM idempotency_keys WHERE key = $1`, key,
	).Scan(&rec.Key, &rec.ActionType, &rec.UserID, &rec.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.ErrNotFound, "idempotency key not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "read idempotency key", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

type tx struct {
	tx pgx.Tx
}

// ClaimIdempotencyKey relies on ON CONFLICT so a concurrent claim of the same
// key blocks until the first transaction finishes instead of aborting this one.
func (t *tx) ClaimIdempotencyKey(ctx context.Context, rec models.IdempotencyKeyRecord) (bool, *models.IdempotencyKeyRecord, error) {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO idempotency_keys (key, action_type, user_id, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO NOTHING`,
		rec.Key, string(rec.ActionType), rec.UserID, rec.CreatedAt,
	)
	if err != nil {
		return false, nil, errors.Wrap(errors.ErrDatabase, "claim idempotency key", err)
	}
	if tag.RowsAffected() == 1 {
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
	err := t.tx.QueryRow(ctx,
		`SELECT id, store_id, name, price_cents, stock, is_active, updated_at
		 FROM products WHERE id = $1 FOR UPDATE`, id,
	).Scan(&p.ID, &p.StoreID, &p.Name, &p.PriceCents, &p.Stock, &p.IsActive, &p.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "product %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "read product", err)
	}
	return &p, nil
}

func (t *tx) InsertProduct(ctx context.Context, p *models.Product) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO products (id, store_id, name, price_cents, stock, is_active, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.StoreID, p.Name, p.PriceCents, p.Stock, p.IsActive, p.UpdatedAt,
	)
	return insertErr(err, "product")
}

func (t *tx) UpdateProduct(ctx context.Context, p *models.Product) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE products SET name = $1, price_cents = $2, stock = $3, is_active = $4, updated_at = $5 WHERE id = $6`,
		p.Name, p.PriceCents, p.Stock, p.IsActive, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "update product", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrNotFound, "product %s not found", p.ID)
	}
	return nil
}

func (t *tx) InsertCartItem(ctx context.Context, item *models.CartItem) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO cart_items (id, user_id, product_id, quantity, created_at) VALUES ($1, $2, $3, $4, $5)`,
		item.ID, item.UserID, item.ProductID, item.Quantity, item.CreatedAt,
	)
	return insertErr(err, "cart item")
}

func (t *tx) ListCartItems(ctx context.Context, userID string) ([]models.CartItem, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, user_id, product_id, quantity, created_at FROM cart_items
		 WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "list cart items", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.CartItem, error) {
		var it models.CartItem
		err := row.Scan(&it.ID, &it.UserID, &it.ProductID, &it.Quantity, &it.CreatedAt)
		return it, err
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "scan cart items", err)
	}
	return items, nil
}

func (t *tx) InsertOrder(ctx context.Context, o *models.Order) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, store_id, status, total_cents, shipping_address, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.UserID, o.StoreID, o.Status, o.TotalCents, o.ShippingAddress, o.Notes, o.CreatedAt,
	)
	if err := insertErr(err, "order"); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, it := range o.Items {
		batch.Queue(
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents) VALUES ($1, $2, $3, $4)`,
			o.ID, it.ProductID, it.Quantity, it.UnitPriceCents,
		)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return insertErr(err, "order item")
	}
	return nil
}

func (t *tx) InsertStore(ctx context.Context, s *models.Store) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO stores (id, name, slug, owner_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.Name, s.Slug, s.OwnerID, s.CreatedAt,
	)
	return insertErr(err, fmt.Sprintf("store slug %q", s.Slug))
}

func (t *tx) InsertUser(ctx context.Context, u *models.User) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO users (id, email, display_name, role, store_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.DisplayName, string(u.Role), u.StoreID, u.CreatedAt,
	)
	return insertErr(err, fmt.Sprintf("user email %q", u.Email))
}

func insertErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var e *pgconn.PgError
	if stderrors.As(err, &e) && e.Code == pgerrcode.UniqueViolation {
		return errors.Newf(errors.ErrDuplicate, "%s already exists", what)
	}
	return errors.Wrap(errors.ErrDatabase, "insert "+what, err)
}
