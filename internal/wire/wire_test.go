package wire

import (
	"testing"

	"cartsync/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeItemsServerCart(t *testing.T) {
	body := `{"items":[{"id":"srv1","productId":"A","quantity":2,"price":100000,"subtotal":200000}]}`
	items, err := DecodeItems([]byte(body))
	require.NoError(t, err)
	require.Len(t, items, 1)

	got := items[0]
	assert.Equal(t, "srv1", got.ID)
	assert.Equal(t, "A", got.ProductID)
	assert.Equal(t, 2, got.Quantity)
	assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(100000)))
	assert.True(t, got.Subtotal.Equal(decimal.NewFromInt(200000)))
}

func TestDecodeItemsNormalizesReferences(t *testing.T) {
	body := `{"cart":[{
		"_id":"l1",
		"product":{"_id":"p1","name":"Lamp"},
		"storeId":{"_id":"s9","name":"Shop"},
		"quantity":3,
		"unitPrice":"10.50",
		"salePrice":"9.50",
		"variation":{"color":"red","additionalPrice":1}
	}]}`
	items, err := DecodeItems([]byte(body))
	require.NoError(t, err)
	require.Len(t, items, 1)

	got := items[0]
	assert.Equal(t, "l1", got.ID)
	assert.Equal(t, "p1", got.ProductID)
	assert.Equal(t, "Lamp", got.Name)
	assert.Equal(t, "s9", got.StoreID)
	require.NotNil(t, got.Variation)
	assert.Equal(t, map[string]string{"color": "red"}, got.Variation.Options)
	// (9.50 + 1) * 3
	assert.True(t, got.Subtotal.Equal(decimal.RequireFromString("31.50")), "subtotal %s", got.Subtotal)
}

func TestDecodeItemsShapes(t *testing.T) {
	cases := map[string]string{
		"bare array": `[{"id":"a","productId":"p","quantity":1}]`,
		"data":       `{"data":{"items":[{"id":"a","productId":"p","quantity":1}]}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			items, err := DecodeItems([]byte(body))
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, "a", items[0].ID)
		})
	}

	items, err := DecodeItems([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = DecodeItems(nil)
	assert.Error(t, err)
}

func TestPushRoundTripKeepsCount(t *testing.T) {
	line := domain.CartLineItem{
		ID:        "l1",
		ProductID: "p1",
		StoreID:   "s1",
		Quantity:  2,
		UnitPrice: decimal.NewFromInt(50),
		Variation: &domain.Variation{Options: map[string]string{"size": "M"}, PriceDelta: decimal.NewFromInt(5)},
	}
	line.Recompute()

	body, err := EncodePush(domain.Snapshot{Items: []domain.CartLineItem{line}, Count: 7})
	require.NoError(t, err)

	snap, err := DecodePush(body)
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Count)
	require.Len(t, snap.Items, 1)
	assert.True(t, snap.Items[0].Subtotal.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, "M", snap.Items[0].Variation.Options["size"])
}

func TestDecodePushDerivesMissingCount(t *testing.T) {
	snap, err := DecodePush([]byte(`{"cart":[{"id":"a","productId":"p","quantity":4}]}`))
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Count)
}
