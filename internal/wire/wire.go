// Package wire normalizes cart payloads coming from the backend REST API and
// the push channel into domain.CartLineItem values.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"cartsync/internal/domain"
	"github.com/shopspring/decimal"
)

// Push is the payload of a cartUpdated event.
type Push struct {
	Cart      []domain.CartLineItem `json:"cart"`
	CartCount int                   `json:"cartCount"`
}

type rawLine struct {
	ID        string           `json:"id"`
	AltID     string           `json:"_id"`
	ProductID json.RawMessage  `json:"productId"`
	Product   json.RawMessage  `json:"product"`
	StoreID   json.RawMessage  `json:"storeId"`
	Store     json.RawMessage  `json:"store"`
	Name      string           `json:"name"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unitPrice"`
	Price     *decimal.Decimal `json:"price"`
	SalePrice *decimal.Decimal `json:"salePrice"`
	Variation json.RawMessage  `json:"variation"`
	Subtotal  *decimal.Decimal `json:"subtotal"`
}

type rawPush struct {
	Cart      []json.RawMessage `json:"cart"`
	Items     []json.RawMessage `json:"items"`
	CartCount *int              `json:"cartCount"`
}

// DecodeItems accepts {"items": [...]}, {"cart": [...]}, {"data": {...}} or a bare array.
func DecodeItems(body []byte) ([]domain.CartLineItem, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty cart payload")
	}
	if body[0] == '[' {
		var lines []json.RawMessage
		if err := json.Unmarshal(body, &lines); err != nil {
			return nil, fmt.Errorf("decode cart items: %w", err)
		}
		return decodeLines(lines)
	}

	var envelope struct {
		rawPush
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	switch {
	case envelope.Items != nil:
		return decodeLines(envelope.Items)
	case envelope.Cart != nil:
		return decodeLines(envelope.Cart)
	case len(envelope.Data) > 0 && !bytes.Equal(envelope.Data, []byte("null")):
		return DecodeItems(envelope.Data)
	}
	return []domain.CartLineItem{}, nil
}

// DecodePush decodes a cartUpdated payload. The count from the payload is kept
// as-is; when absent it is derived from the items.
func DecodePush(body []byte) (domain.Snapshot, error) {
	var raw rawPush
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode push: %w", err)
	}
	lines := raw.Cart
	if lines == nil {
		lines = raw.Items
	}
	items, err := decodeLines(lines)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap := domain.Snapshot{Items: items, Count: domain.CountItems(items)}
	if raw.CartCount != nil && *raw.CartCount >= 0 {
		snap.Count = *raw.CartCount
	}
	return snap, nil
}

// EncodePush builds the cartUpdated payload for a snapshot.
func EncodePush(snap domain.Snapshot) ([]byte, error) {
	items := snap.Items
	if items == nil {
		items = []domain.CartLineItem{}
	}
	return json.Marshal(Push{Cart: items, CartCount: snap.Count})
}

func decodeLines(lines []json.RawMessage) ([]domain.CartLineItem, error) {
	out := make([]domain.CartLineItem, 0, len(lines))
	for i, raw := range lines {
		line, err := decodeLine(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
		out = append(out, line)
	}
	return out, nil
}

func decodeLine(raw json.RawMessage) (domain.CartLineItem, error) {
	var r rawLine
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.CartLineItem{}, err
	}

	line := domain.CartLineItem{
		ID:        r.ID,
		ProductID: refID(r.ProductID),
		StoreID:   refID(r.StoreID),
		Name:      r.Name,
		Quantity:  r.Quantity,
		SalePrice: r.SalePrice,
	}
	if line.ID == "" {
		line.ID = r.AltID
	}
	if line.ProductID == "" {
		line.ProductID = refID(r.Product)
	}
	if line.StoreID == "" {
		line.StoreID = refID(r.Store)
	}
	if line.Name == "" {
		line.Name = refName(r.Product)
	}
	switch {
	case r.UnitPrice != nil:
		line.UnitPrice = *r.UnitPrice
	case r.Price != nil:
		line.UnitPrice = *r.Price
	}

	variation, err := decodeVariation(r.Variation)
	if err != nil {
		return domain.CartLineItem{}, fmt.Errorf("variation: %w", err)
	}
	line.Variation = variation

	if r.Subtotal != nil {
		line.Subtotal = *r.Subtotal
	} else {
		line.Recompute()
	}
	return line, nil
}

// refID reads a reference that is either a plain string id or an embedded
// object carrying "_id" or "id".
func refID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID    string `json:"id"`
		AltID string `json:"_id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if obj.AltID != "" {
		return obj.AltID
	}
	return obj.ID
}

func refName(raw json.RawMessage) string {
	var obj struct {
		Name string `json:"name"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil {
		return ""
	}
	return obj.Name
}

// decodeVariation accepts {"options": {...}, "priceDelta": n} as well as a flat
// option map such as {"color": "red", "additionalPrice": 5000}.
func decodeVariation(raw json.RawMessage) (*domain.Variation, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	v := &domain.Variation{}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		val := fields[k]
		switch k {
		case "options":
			if err := json.Unmarshal(val, &v.Options); err != nil {
				return nil, err
			}
		case "priceDelta", "additionalPrice":
			var d decimal.Decimal
			if err := json.Unmarshal(val, &d); err != nil {
				return nil, err
			}
			v.PriceDelta = v.PriceDelta.Add(d)
		default:
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				continue
			}
			if v.Options == nil {
				v.Options = make(map[string]string)
			}
			v.Options[k] = s
		}
	}
	if len(v.Options) == 0 && v.PriceDelta.IsZero() {
		return nil, nil
	}
	return v, nil
}
