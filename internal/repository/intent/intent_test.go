package intent

import (
	"context"
	"os"
	"testing"
	"time"

	"cartsync/internal/db"
	"cartsync/internal/domain"
	"cartsync/internal/migrate"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIntent(now time.Time) domain.CheckoutIntent {
	return domain.CheckoutIntent{
		ID:        "int-1",
		Owner:     "u1",
		StoreID:   "s1",
		Items:     []domain.CartLineItem{{ID: "l1", ProductID: "p1", StoreID: "s1", Quantity: 1, UnitPrice: decimal.NewFromInt(10), Subtotal: decimal.NewFromInt(10)}},
		Total:     decimal.NewFromInt(10),
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	}
}

func TestKeyIsNamespaced(t *testing.T) {
	assert.Equal(t, "checkout:intent:u1", Key("u1"))
}

func TestSQLite_IntentLifecycle(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	defer sqlDB.Close()
	require.NoError(t, migrate.ApplySQLite(ctx, sqlDB))

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := &sqliteRepo{db: sqlDB, now: func() time.Time { return now }}

	_, err = repo.Load(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	in := sampleIntent(now)
	require.NoError(t, repo.Save(ctx, in))

	got, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "int-1", got.ID)
	assert.Equal(t, "s1", got.StoreID)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Total.Equal(decimal.NewFromInt(10)))

	now = now.Add(11 * time.Minute)
	_, err = repo.Load(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrIntentExpired)

	require.NoError(t, repo.Delete(ctx, "u1"))
	_, err = repo.Load(ctx, "u1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRedis_IntentLifecycle(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := db.ConnectRedis(ctx, addr)
	require.NoError(t, err)
	defer client.Close()

	repo := NewRedis(client)
	require.NoError(t, repo.Delete(ctx, "u1"))

	in := sampleIntent(time.Now())
	require.NoError(t, repo.Save(ctx, in))

	ttl, err := client.TTL(ctx, Key("u1")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	got, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)

	expired := sampleIntent(time.Now().Add(-time.Hour))
	require.ErrorIs(t, repo.Save(ctx, expired), domain.ErrIntentExpired)
	require.NoError(t, repo.Delete(ctx, "u1"))
}
