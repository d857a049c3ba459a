package domain

import (
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

// Variation is the option set a shopper picked for a product (color, size, ...)
// together with the price delta it adds on top of the base price.
type Variation struct {
	Options    map[string]string `json:"options,omitempty"`
	PriceDelta decimal.Decimal   `json:"priceDelta"`
}

// CartLineItem is one product (plus optional variation) in the cart.
type CartLineItem struct {
	ID        string           `json:"id"`
	ProductID string           `json:"productId"`
	StoreID   string           `json:"storeId"`
	Name      string           `json:"name,omitempty"`
	Quantity  int              `json:"quantity"`
	UnitPrice decimal.Decimal  `json:"unitPrice"`
	SalePrice *decimal.Decimal `json:"salePrice,omitempty"`
	Variation *Variation       `json:"variation,omitempty"`
	Subtotal  decimal.Decimal  `json:"subtotal"`
}

// EffectivePrice is the sale price when present, otherwise the unit price,
// plus the variation delta.
func (l CartLineItem) EffectivePrice() decimal.Decimal {
	price := l.UnitPrice
	if l.SalePrice != nil {
		price = *l.SalePrice
	}
	if l.Variation != nil {
		price = price.Add(l.Variation.PriceDelta)
	}
	return price
}

// Recompute refreshes Subtotal from the price fields and Quantity.
func (l *CartLineItem) Recompute() {
	l.Subtotal = l.EffectivePrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// SameLine reports whether o describes the same product and variation as l.
func (l CartLineItem) SameLine(o CartLineItem) bool {
	if l.ProductID != o.ProductID {
		return false
	}
	return maps.Equal(l.options(), o.options())
}

func (l CartLineItem) options() map[string]string {
	if l.Variation == nil {
		return nil
	}
	return l.Variation.Options
}

// Clone returns a deep copy so callers never share pointers with the store.
func (l CartLineItem) Clone() CartLineItem {
	out := l
	if l.SalePrice != nil {
		sp := *l.SalePrice
		out.SalePrice = &sp
	}
	if l.Variation != nil {
		v := Variation{PriceDelta: l.Variation.PriceDelta, Options: maps.Clone(l.Variation.Options)}
		out.Variation = &v
	}
	return out
}

// Snapshot is the full cart state as shown to the UI and written to storage.
type Snapshot struct {
	Items   []CartLineItem `json:"cart"`
	Count   int            `json:"cartCount"`
	Version uint64         `json:"version,omitempty"`
	SavedAt time.Time      `json:"savedAt,omitzero"`
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Items = CloneItems(s.Items)
	return out
}

// Total sums line subtotals.
func (s Snapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range s.Items {
		total = total.Add(it.Subtotal)
	}
	return total
}

// Find returns the index of the line with the given id, or -1.
func (s Snapshot) Find(id string) int {
	for i, it := range s.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// CountItems sums quantities, the value shown on the header badge.
func CountItems(items []CartLineItem) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}

// CloneItems deep-copies a slice of line items. A nil input stays nil.
func CloneItems(items []CartLineItem) []CartLineItem {
	if items == nil {
		return nil
	}
	out := make([]CartLineItem, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// CheckoutIntent is the hand-off from cart selection to the checkout step.
type CheckoutIntent struct {
	ID        string          `json:"id"`
	Owner     string          `json:"owner"`
	StoreID   string          `json:"storeId"`
	Items     []CartLineItem  `json:"items"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Expired reports whether the intent is past its expiry at now.
func (i CheckoutIntent) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}
