package app

import (
	"context"
	"testing"
	"time"

	"cartsync/internal/config"
	"cartsync/internal/domain"
	cartsvc "cartsync/internal/service/cart"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.StorageDSN = ":memory:"
	cfg.APIBaseURL = "http://127.0.0.1:1/api"
	cfg.LiveURL = "ws://127.0.0.1:1/ws"
	cfg.RequestTimeout = time.Second
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestGuestCartFeedsSelectionAndCheckout(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	_, err := a.Cart.AddToCart(ctx, cartsvc.NewLine{ProductID: "A", StoreID: "s1", Quantity: 2, UnitPrice: decimal.NewFromInt(10)})
	require.NoError(t, err)
	snap, err := a.Cart.AddToCart(ctx, cartsvc.NewLine{ProductID: "B", StoreID: "s1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)})
	require.NoError(t, err)
	require.Len(t, snap.Items, 2)

	_, err = a.Selection.ToggleStore("s1")
	require.NoError(t, err)
	require.Len(t, a.Selection.Selected(), 2)

	removed := snap.Items[0].ID
	_, err = a.Cart.RemoveItem(ctx, removed)
	require.NoError(t, err)
	assert.NotContains(t, a.Selection.Selected(), removed)

	intent, err := a.Selection.Checkout(ctx)
	require.NoError(t, err)
	assert.Equal(t, cartsvc.GuestOwner, intent.Owner)
	assert.True(t, intent.Total.Equal(decimal.NewFromInt(5)))

	got, err := a.Selection.Intent(ctx)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, got.ID)
}

func TestRestartRestoresPersistedCart(t *testing.T) {
	cfg := testConfig()
	ctx := context.Background()
	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Cart.AddToCart(ctx, cartsvc.NewLine{ProductID: "A", StoreID: "s1", Quantity: 3})
	require.NoError(t, err)

	// Same process, same in-memory database: a fresh cart service restores it.
	fresh := cartsvc.New(nil, a.snapshots, a.Session, nil, nil)
	require.NoError(t, fresh.Restore(ctx))
	assert.Equal(t, 3, fresh.Count())
}

func TestLogoutClearsUserState(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": "u1"}).SignedString([]byte("k"))
	require.NoError(t, err)
	require.NoError(t, a.Session.SetTokens(token, "r1"))

	// The backend is unreachable: startup keeps going on the local copy.
	require.NoError(t, a.Start(ctx))

	line := domain.CartLineItem{ID: "srv1", ProductID: "A", StoreID: "s1", Quantity: 1, UnitPrice: decimal.NewFromInt(7)}
	line.Recompute()
	a.Cart.ApplyRemote(ctx, domain.Snapshot{Items: []domain.CartLineItem{line}, Count: 1})
	_, err = a.Selection.Toggle("srv1")
	require.NoError(t, err)
	_, err = a.Selection.Checkout(ctx)
	require.NoError(t, err)

	a.Session.Logout(ctx)

	assert.Empty(t, a.Cart.Snapshot().Items)
	// The same line coming back must not come back selected.
	a.Cart.ApplyRemote(ctx, domain.Snapshot{Items: []domain.CartLineItem{line}, Count: 1})
	assert.Empty(t, a.Selection.Selected())
	_, err = a.snapshots.Load(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = a.intents.Load(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPushedCartPrunesSelection(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	keep := domain.CartLineItem{ID: "srv1", ProductID: "A", StoreID: "s1", Quantity: 1, UnitPrice: decimal.NewFromInt(7)}
	gone := domain.CartLineItem{ID: "srv2", ProductID: "B", StoreID: "s1", Quantity: 2, UnitPrice: decimal.NewFromInt(3)}
	keep.Recompute()
	gone.Recompute()
	a.Cart.ApplyRemote(ctx, domain.Snapshot{Items: []domain.CartLineItem{keep, gone}, Count: 3})
	_, err := a.Selection.ToggleStore("s1")
	require.NoError(t, err)
	require.Equal(t, []string{"srv1", "srv2"}, a.Selection.Selected())

	// Another session removed srv2.
	a.Cart.ApplyRemote(ctx, domain.Snapshot{Items: []domain.CartLineItem{keep}, Count: 1})
	assert.Equal(t, []string{"srv1"}, a.Selection.Selected())

	// srv2 reappearing later is a fresh, unselected line.
	a.Cart.ApplyRemote(ctx, domain.Snapshot{Items: []domain.CartLineItem{keep, gone}, Count: 3})
	assert.Equal(t, []string{"srv1"}, a.Selection.Selected())
}

func TestGuestCartDoesNotSurviveLoginAndLogout(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	_, err := a.Cart.AddToCart(ctx, cartsvc.NewLine{ProductID: "A", StoreID: "s1", Quantity: 2, UnitPrice: decimal.NewFromInt(4)})
	require.NoError(t, err)
	_, err = a.snapshots.Load(ctx, cartsvc.GuestOwner)
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"id": "u1"}).SignedString([]byte("k"))
	require.NoError(t, err)
	require.NoError(t, a.Session.SetTokens(token, "r1"))
	// The backend is unreachable, so the guest lines stay unmerged.
	_, err = a.Cart.MergeGuest(ctx)
	require.ErrorIs(t, err, domain.ErrUnavailable)

	a.Session.Logout(ctx)

	restarted := cartsvc.New(nil, a.snapshots, a.Session, nil, nil)
	require.NoError(t, restarted.Restore(ctx))
	assert.Empty(t, restarted.Snapshot().Items)
	assert.Zero(t, restarted.Count())
	_, err = a.snapshots.Load(ctx, cartsvc.GuestOwner)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
