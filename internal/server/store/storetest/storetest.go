// Package storetest is a conformance suite every store.Store implementation
// must pass.
package storetest

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emarzona/backend/internal/errors"
	"github.com/emarzona/backend/internal/models"
	"github.com/emarzona/backend/internal/server/store"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// SeedProduct inserts p in its own transaction.
func SeedProduct(t testing.TB, s store.Store, p models.Product) {
	t.Helper()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = epoch
	}
	require.NoError(t, s.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertProduct(context.Background(), &p)
	}))
}

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("ClaimIdempotencyKey", func(t *testing.T) { testClaim(t, newStore(t)) })
	t.Run("RollbackReleasesClaim", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newStore(t)) })
	t.Run("PruneIdempotencyKeys", func(t *testing.T) { testPrune(t, newStore(t)) })
	t.Run("Products", func(t *testing.T) { testProducts(t, newStore(t)) })
	t.Run("CartAndOrders", func(t *testing.T) { testCartAndOrders(t, newStore(t)) })
	t.Run("UniqueStoreAndUser", func(t *testing.T) { testUnique(t, newStore(t)) })
}

func record(key string) models.IdempotencyKeyRecord {
	return models.IdempotencyKeyRecord{
		Key:        key,
		ActionType: models.ActionAddToCart,
		UserID:     "u1",
		CreatedAt:  epoch,
	}
}

func testClaim(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		claimed, existing, err := tx.ClaimIdempotencyKey(ctx, record("k1"))
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Nil(t, existing)
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		later := record("k1")
		later.CreatedAt = epoch.Add(time.Hour)
		claimed, existing, err := tx.ClaimIdempotencyKey(ctx, later)
		require.NoError(t, err)
		assert.False(t, claimed)
		require.NotNil(t, existing)
		assert.True(t, epoch.Equal(existing.CreatedAt))
		assert.Equal(t, models.ActionAddToCart, existing.ActionType)
		return nil
	}))

	rec, err := s.GetIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)

	_, err = s.GetIdempotencyKey(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		claimed, _, err := tx.ClaimIdempotencyKey(ctx, record("k1"))
		require.NoError(t, err)
		require.True(t, claimed)
		return errors.New(errors.ErrInsufficientStock, "no stock")
	})
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	_, err = s.GetIdempotencyKey(ctx, "k1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func testConcurrentClaims(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithTx(ctx, func(tx store.Tx) error {
				claimed, _, err := tx.ClaimIdempotencyKey(ctx, record("shared"))
				if err != nil {
					return err
				}
				results <- claimed
				return nil
			})
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for claimed := range results {
		if claimed {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
}

func testPrune(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		for i, key := range []string{"old", "new"} {
			rec := record(key)
			rec.CreatedAt = epoch.Add(time.Duration(i) * 48 * time.Hour)
			if _, _, err := tx.ClaimIdempotencyKey(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	}))

	n, err := s.PruneIdempotencyKeys(ctx, epoch.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.GetIdempotencyKey(ctx, "old")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = s.GetIdempotencyKey(ctx, "new")
	assert.NoError(t, err)
}

func testProducts(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedProduct(t, s, models.Product{ID: "p1", StoreID: "s1", Name: "Mug", PriceCents: 1200, Stock: 3, IsActive: true})

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "Mug", p.Name)
		assert.Equal(t, 3, p.Stock)
		assert.True(t, p.IsActive)

		p.Stock = 1
		p.IsActive = false
		p.UpdatedAt = epoch.Add(time.Minute)
		return tx.UpdateProduct(ctx, p)
	}))

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProduct(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 1, p.Stock)
		assert.False(t, p.IsActive)
		assert.True(t, epoch.Add(time.Minute).Equal(p.UpdatedAt))

		_, err = tx.GetProduct(ctx, "nope")
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		err = tx.UpdateProduct(ctx, &models.Product{ID: "nope", UpdatedAt: epoch})
		assert.True(t, errors.Is(err, errors.ErrNotFound))
		return nil
	}))
}

func testCartAndOrders(t *testing.T, s store.Store) {
	ctx := context.Background()
	SeedProduct(t, s, models.Product{ID: "p1", StoreID: "s1", Name: "Mug", PriceCents: 1200, Stock: 3, IsActive: true})
	SeedProduct(t, s, models.Product{ID: "p2", StoreID: "s1", Name: "Tea", PriceCents: 500, Stock: 9, IsActive: true})

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		for i, pid := range []string{"p1", "p2"} {
			err := tx.InsertCartItem(ctx, &models.CartItem{
				ID: "c" + pid, UserID: "u1", ProductID: pid, Quantity: i + 1,
				CreatedAt: epoch.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				return err
			}
		}
		return tx.InsertOrder(ctx, &models.Order{
			ID: "o1", UserID: "u1", StoreID: "s1", Status: "placed", TotalCents: 1700, CreatedAt: epoch,
			Items: []models.OrderItem{
				{ProductID: "p1", Quantity: 1, UnitPriceCents: 1200},
				{ProductID: "p2", Quantity: 1, UnitPriceCents: 500},
			},
		})
	}))

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		items, err := tx.ListCartItems(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, items, 2)
		ids := []string{items[0].ProductID, items[1].ProductID}
		sort.Strings(ids)
		assert.Equal(t, []string{"p1", "p2"}, ids)

		none, err := tx.ListCartItems(ctx, "u2")
		require.NoError(t, err)
		assert.Empty(t, none)

		err = tx.InsertOrder(ctx, &models.Order{ID: "o1", UserID: "u1", Status: "placed", CreatedAt: epoch})
		assert.True(t, errors.Is(err, errors.ErrDuplicate))
		return nil
	}))
}

func testUnique(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertStore(ctx, &models.Store{ID: "s1", Name: "Shop", Slug: "shop", OwnerID: "u1", CreatedAt: epoch}); err != nil {
			return err
		}
		return tx.InsertUser(ctx, &models.User{ID: "u1", Email: "a@example.com", Role: models.RoleSeller, CreatedAt: epoch})
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertStore(ctx, &models.Store{ID: "s2", Name: "Other", Slug: "shop", OwnerID: "u2", CreatedAt: epoch})
	})
	assert.True(t, errors.Is(err, errors.ErrDuplicate), "%v", err)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertUser(ctx, &models.User{ID: "u2", Email: "a@example.com", Role: models.RoleCustomer, CreatedAt: epoch})
	})
	assert.True(t, errors.Is(err, errors.ErrDuplicate), "%v", err)
}
