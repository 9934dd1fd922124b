package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emarzona/backend/internal/actions"
	"github.com/emarzona/backend/internal/models"
	syncpkg "github.com/emarzona/backend/internal/sync"
	"github.com/emarzona/backend/internal/server/auth"
	"github.com/emarzona/backend/internal/server/handlers"
	"github.com/emarzona/backend/internal/server/store"
	"github.com/emarzona/backend/internal/server/store/sqlstore"
	"github.com/emarzona/backend/internal/server/store/storetest"
	"github.com/emarzona/backend/internal/server/syncapi"
)

var e2eSecret = []byte("e2e-secret")

type endpoint struct {
	url   string
	store store.Store
	token string
	// dropResponses makes the endpoint apply a batch and then fail the
	// request, as if the response was lost in transit.
	dropResponses atomic.Bool
}

func newEndpoint(t *testing.T) *endpoint {
	t.Helper()
	s, err := sqlstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	storetest.SeedProduct(t, s, models.Product{ID: "mug", StoreID: "S1", Name: "Mug", PriceCents: 1200, Stock: 10, IsActive: true})

	proc := syncapi.NewProcessor(s, handlers.NewRegistry(nil), nil)
	router := syncapi.NewRouter(syncapi.Deps{
		Handler:  syncapi.NewSyncHandler(proc),
		Verifier: auth.NewVerifier(e2eSecret),
		Store:    s,
	})

	ep := &endpoint{store: s}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ep.dropResponses.Load() && r.URL.Path == syncpkg.SyncActionsPath {
			router.ServeHTTP(httptest.NewRecorder(), r)
			http.Error(w, "gateway lost the response", http.StatusBadGateway)
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	ep.url = srv.URL

	ep.token, err = auth.NewIssuer(e2eSecret).Issue(models.ActionContext{UserID: "cust-1", Role: models.RoleCustomer}, time.Hour)
	require.NoError(t, err)
	return ep
}

func (ep *endpoint) stock(t *testing.T) int {
	t.Helper()
	var stock int
	require.NoError(t, ep.store.WithTx(context.Background(), func(tx store.Tx) error {
		p, err := tx.GetProduct(context.Background(), "mug")
		if err != nil {
			return err
		}
		stock = p.Stock
		return nil
	}))
	return stock
}

func (ep *endpoint) cart(t *testing.T, userID string) []models.CartItem {
	t.Helper()
	var items []models.CartItem
	require.NoError(t, ep.store.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		items, err = tx.ListCartItems(context.Background(), userID)
		return err
	}))
	return items
}

func TestEndToEnd_offlineAddToCartSyncsOnReconnect(t *testing.T) {
	ep := newEndpoint(t)
	storetest.SeedProduct(t, ep.store, models.Product{ID: "P1", StoreID: "S1", Name: "Pen", PriceCents: 300, Stock: 5, IsActive: true})
	q := newTestQueue(t)
	tr := syncpkg.NewHTTPTransport(syncpkg.HTTPConfig{BaseURL: ep.url, Tokens: syncpkg.StaticToken(ep.token)})
	ctx := context.Background()

	cfg := DefaultSchedulerConfig()
	cfg.SyncInterval = time.Hour
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.StartOnline = false
	s := NewScheduler(q, tr, cfg)

	queued := &models.LocalAction{
		ActionType:     models.ActionAddToCart,
		Payload:        []byte(`{"product_id":"P1","quantity":2}`),
		IdempotencyKey: "K1",
		StoreID:        "S1",
	}
	require.NoError(t, q.EnqueueRaw(ctx, queued))

	result := s.SyncLocalQueue(ctx)
	assert.Equal(t, models.SkipOffline, result.Skipped)
	local, err := q.GetAction(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, local.Status)
	assert.Empty(t, ep.cart(t, "cust-1"))

	s.Start(ctx)
	defer s.Stop()
	s.SetOnlineStatus(true)

	require.Eventually(t, func() bool {
		a, err := q.GetAction(ctx, queued.ID)
		return err == nil && a.Status == models.StatusSynced
	}, 2*time.Second, 5*time.Millisecond)

	items := ep.cart(t, "cust-1")
	require.Len(t, items, 1)
	assert.Equal(t, "P1", items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)

	local, err = q.GetAction(ctx, queued.ID)
	require.NoError(t, err)
	resp, err := tr.SubmitBatch(ctx, models.SyncBatchRequest{Actions: []models.ActionEnvelope{local.Envelope()}})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.Results[0].Success)
	assert.True(t, resp.Results[0].Duplicate)
	assert.Len(t, ep.cart(t, "cust-1"), 1, "a resubmitted key adds nothing")
}

func TestEndToEnd_lostResponseIsAppliedOnce(t *testing.T) {
	ep := newEndpoint(t)
	q := newTestQueue(t)
	tr := syncpkg.NewHTTPTransport(syncpkg.HTTPConfig{BaseURL: ep.url, Tokens: syncpkg.StaticToken(ep.token)})
	s := NewScheduler(q, tr, nil)
	ctx := context.Background()

	queued, err := q.Enqueue(ctx, "S1", actions.CreateOrder{Items: []actions.OrderLine{{ProductID: "mug", Quantity: 3}}})
	require.NoError(t, err)

	ep.dropResponses.Store(true)
	result := s.SyncLocalQueue(ctx)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.BatchError)
	assert.Equal(t, 7, ep.stock(t), "the server applied the order")

	local, err := q.GetAction(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, local.Status)

	ep.dropResponses.Store(false)
	result = s.SyncLocalQueue(ctx)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 7, ep.stock(t), "the resubmission must not be re-applied")

	local, err = q.GetAction(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, local.Status)
}

func TestEndToEnd_partialFailureAndAuth(t *testing.T) {
	ep := newEndpoint(t)
	q := newTestQueue(t)
	ctx := context.Background()

	ok, err := q.Enqueue(ctx, "S1", actions.AddToCart{ProductID: "mug", Quantity: 1})
	require.NoError(t, err)
	bad, err := q.Enqueue(ctx, "S1", actions.AddToCart{ProductID: "ghost", Quantity: 1})
	require.NoError(t, err)

	expired := syncpkg.NewHTTPTransport(syncpkg.HTTPConfig{BaseURL: ep.url, Tokens: syncpkg.StaticToken("stale")})
	result := NewScheduler(q, expired, nil).SyncLocalQueue(ctx)
	assert.True(t, result.AuthRequired)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)

	tr := syncpkg.NewHTTPTransport(syncpkg.HTTPConfig{BaseURL: ep.url, Tokens: syncpkg.StaticToken(ep.token)})
	result = NewScheduler(q, tr, nil).SyncLocalQueue(ctx)
	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Failed)

	got, err := q.GetAction(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.Status)

	got, err = q.GetAction(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "PRODUCT_UNAVAILABLE")
}
