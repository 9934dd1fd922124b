package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emarzona/backend/internal/server/store"
	"github.com/emarzona/backend/internal/server/store/storetest"
)

// Set EMARZONA_TEST_DATABASE_URL to a scratch database to run these tests.
// Tables are truncated before each subtest.
func TestStore(t *testing.T) {
	dsn := os.Getenv("EMARZONA_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("EMARZONA_TEST_DATABASE_URL not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := Open(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })

		_, err = s.pool.Exec(ctx, `TRUNCATE idempotency_keys, order_items, orders, cart_items, products, stores, users`)
		require.NoError(t, err)
		return s
	})
}
