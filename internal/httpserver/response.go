package httpserver

import (
	"errors"
	"net/http"

	"cartsync/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type cartResponse struct {
	Cart      []domain.CartLineItem `json:"cart"`
	CartCount int                   `json:"cartCount"`
	Total     decimal.Decimal       `json:"total"`
	Version   uint64                `json:"version"`
}

func toCartResponse(snap domain.Snapshot) cartResponse {
	items := snap.Items
	if items == nil {
		items = []domain.CartLineItem{}
	}
	return cartResponse{
		Cart:      items,
		CartCount: snap.Count,
		Total:     snap.Total(),
		Version:   snap.Version,
	}
}

type selectionResponse struct {
	Selected []string              `json:"selected"`
	StoreID  string                `json:"storeId,omitempty"`
	Items    []domain.CartLineItem `json:"items"`
	Total    decimal.Decimal       `json:"total"`
}

func toSelectionResponse(items []domain.CartLineItem) selectionResponse {
	resp := selectionResponse{
		Selected: make([]string, 0, len(items)),
		Items:    items,
		Total:    domain.Snapshot{Items: items}.Total(),
	}
	if resp.Items == nil {
		resp.Items = []domain.CartLineItem{}
	}
	for _, it := range items {
		resp.Selected = append(resp.Selected, it.ID)
	}
	if len(items) > 0 {
		resp.StoreID = items[0].StoreID
	}
	return resp
}

type addItemRequest struct {
	ProductID string            `json:"productId" binding:"required"`
	StoreID   string            `json:"storeId"`
	Name      string            `json:"name"`
	Quantity  int               `json:"quantity"`
	UnitPrice decimal.Decimal   `json:"unitPrice"`
	SalePrice *decimal.Decimal  `json:"salePrice"`
	Variation *domain.Variation `json:"variation"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	UserID    string       `json:"userId"`
	Cart      cartResponse `json:"cart"`
	Synced    bool         `json:"synced"`
	SyncError string       `json:"syncError,omitempty"`
}

type errorResponse struct {
	Error string        `json:"error"`
	Cart  *cartResponse `json:"cart,omitempty"`
}

// statusFor maps service errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrEmptySelection):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrIntentExpired):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSessionExpired), errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), errorResponse{Error: err.Error()})
}

// writeCartError reports err together with the cart as it stands after any
// rollback.
func writeCartError(c *gin.Context, err error, snap domain.Snapshot) {
	resp := toCartResponse(snap)
	c.JSON(statusFor(err), errorResponse{Error: err.Error(), Cart: &resp})
}
