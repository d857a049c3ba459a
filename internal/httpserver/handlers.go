package httpserver

import (
	"context"
	"net/http"
	"time"

	cartsvc "cartsync/internal/service/cart"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// healthHandler reports liveness and, when wired, the live channel state.
func healthHandler(ch liveStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if ch != nil {
			body["live"] = gin.H{"connected": ch.Connected(), "pending": ch.Pending()}
		}
		c.JSON(http.StatusOK, body)
	}
}

func readyHandler(storage pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if storage == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "reason": "no cart storage"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := storage.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "reason": "cart storage unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func getCartHandler(svc cartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, toCartResponse(svc.Snapshot()))
	}
}

func refreshCartHandler(svc cartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := svc.FetchCart(c.Request.Context())
		if err != nil {
			writeCartError(c, err, snap)
			return
		}
		c.JSON(http.StatusOK, toCartResponse(snap))
	}
}

func addItemHandler(svc cartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		snap, err := svc.AddToCart(c.Request.Context(), cartsvc.NewLine{
			ProductID: req.ProductID,
			StoreID:   req.StoreID,
			Name:      req.Name,
			Quantity:  req.Quantity,
			UnitPrice: req.UnitPrice,
			SalePrice: req.SalePrice,
			Variation: req.Variation,
		})
		if err != nil {
			writeCartError(c, err, snap)
			return
		}
		c.JSON(http.StatusCreated, toCartResponse(snap))
	}
}

func updateItemHandler(svc cartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		snap, err := svc.UpdateQuantity(c.Request.Context(), c.Param("id"), *req.Quantity)
		if err != nil {
			writeCartError(c, err, snap)
			return
		}
		c.JSON(http.StatusOK, toCartResponse(snap))
	}
}

func removeItemHandler(svc cartService) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := svc.RemoveItem(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeCartError(c, err, snap)
			return
		}
		c.JSON(http.StatusOK, toCartResponse(snap))
	}
}

func getSelectionHandler(svc selectionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, toSelectionResponse(svc.Items()))
	}
}

func toggleItemHandler(svc selectionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := svc.Toggle(c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toSelectionResponse(svc.Items()))
	}
}

func toggleStoreHandler(svc selectionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := svc.ToggleStore(c.Param("storeId")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toSelectionResponse(svc.Items()))
	}
}

func clearSelectionHandler(svc selectionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		svc.Clear()
		c.JSON(http.StatusOK, toSelectionResponse(nil))
	}
}

func checkoutHandler(svc selectionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		intent, err := svc.Checkout(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, intent)
	}
}

func getIntentHandler(svc selectionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		intent, err := svc.Intent(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, intent)
	}
}

func noticesHandler(feed noticeFeed) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"notices": feed.Drain()})
	}
}

func sessionHandler(svc sessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"authenticated": svc.Authenticated(), "userId": svc.UserID()})
	}
}

// loginHandler starts a session, folds any guest cart into the user's cart
// and returns the result. A failed sync still logs in; the response then
// carries the local cart and the sync error.
func loginHandler(svc sessionService, cart cartService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		userID, err := svc.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			writeError(c, err)
			return
		}
		resp := loginResponse{UserID: userID, Synced: true}
		snap, err := cart.MergeGuest(c.Request.Context())
		if err != nil {
			logger.Warn("cart sync after login failed", zap.String("user_id", userID), zap.Error(err))
			resp.Synced = false
			resp.SyncError = err.Error()
		}
		resp.Cart = toCartResponse(snap)
		c.JSON(http.StatusOK, resp)
	}
}

func logoutHandler(svc sessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		svc.Logout(c.Request.Context())
		c.Status(http.StatusNoContent)
	}
}
