package httpserver

import (
	"context"
	"errors"
	"time"

	"cartsync/internal/domain"
	"cartsync/internal/notify"
	cartsvc "cartsync/internal/service/cart"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type cartService interface {
	Snapshot() domain.Snapshot
	FetchCart(ctx context.Context) (domain.Snapshot, error)
	MergeGuest(ctx context.Context) (domain.Snapshot, error)
	AddToCart(ctx context.Context, in cartsvc.NewLine) (domain.Snapshot, error)
	UpdateQuantity(ctx context.Context, id string, quantity int) (domain.Snapshot, error)
	RemoveItem(ctx context.Context, id string) (domain.Snapshot, error)
}

type selectionService interface {
	Items() []domain.CartLineItem
	Toggle(id string) ([]string, error)
	ToggleStore(storeID string) ([]string, error)
	Clear()
	Checkout(ctx context.Context) (domain.CheckoutIntent, error)
	Intent(ctx context.Context) (*domain.CheckoutIntent, error)
}

type sessionService interface {
	Login(ctx context.Context, email, password string) (string, error)
	Logout(ctx context.Context)
	Authenticated() bool
	UserID() string
}

type noticeFeed interface {
	Drain() []notify.Notice
}

type pinger interface {
	Ping(ctx context.Context) error
}

type liveStatus interface {
	Connected() bool
	Pending() int
}

// Deps are the services the router exposes.
type Deps struct {
	Cart      cartService
	Selection selectionService
	Session   sessionService
	Notices   noticeFeed
	Storage   pinger
	Live      liveStatus
}

// buildRouter wires routes for the local cart API.
func buildRouter(logger *zap.Logger, deps Deps, allowedOrigins []string) (*gin.Engine, error) {
	if deps.Cart == nil || deps.Selection == nil || deps.Session == nil || deps.Notices == nil {
		return nil, errors.New("cart, selection, session and notices are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.LoggerWithWriter(zap.NewStdLog(logger).Writer()), gin.Recovery())
	if len(allowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     allowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler(deps.Live))
	router.GET("/readyz", readyHandler(deps.Storage))

	cart := router.Group("/cart")
	cart.GET("", getCartHandler(deps.Cart))
	cart.POST("/refresh", refreshCartHandler(deps.Cart))
	cart.POST("/items", addItemHandler(deps.Cart))
	cart.PATCH("/items/:id", updateItemHandler(deps.Cart))
	cart.DELETE("/items/:id", removeItemHandler(deps.Cart))

	sel := router.Group("/selection")
	sel.GET("", getSelectionHandler(deps.Selection))
	sel.POST("/items/:id/toggle", toggleItemHandler(deps.Selection))
	sel.POST("/stores/:storeId/toggle", toggleStoreHandler(deps.Selection))
	sel.DELETE("", clearSelectionHandler(deps.Selection))

	router.POST("/checkout", checkoutHandler(deps.Selection))
	router.GET("/checkout", getIntentHandler(deps.Selection))

	router.GET("/notices", noticesHandler(deps.Notices))

	router.GET("/session", sessionHandler(deps.Session))
	router.POST("/session/login", loginHandler(deps.Session, deps.Cart, logger))
	router.POST("/session/logout", logoutHandler(deps.Session))

	return router, nil
}
