package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cartsync/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuth struct {
	mu         sync.Mutex
	token      string
	next       string
	refreshErr error
	refreshes  int
}

func (s *stubAuth) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *stubAuth) Refresh(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.refreshErr != nil {
		return s.refreshErr
	}
	s.token = s.next
	return nil
}

// fakeBackend is a minimal Cart REST API accepting a single bearer token.
type fakeBackend struct {
	mu      sync.Mutex
	token   string
	items   []gin.H
	updates []updateRequest
	removed []string
	adds    []AddRequest
}

func (f *fakeBackend) router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	authed := r.Group("/api", func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+f.token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "jwt expired"})
			return
		}
		c.Next()
	})
	authed.GET("/cart", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"items": f.items})
	})
	authed.POST("/cart/add", func(c *gin.Context) {
		var req AddRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		f.mu.Lock()
		f.adds = append(f.adds, req)
		f.mu.Unlock()
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})
	authed.PUT("/cart/update", func(c *gin.Context) {
		var req updateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
		if req.Quantity > 5 {
			c.JSON(http.StatusConflict, gin.H{"message": "only 5 left in stock"})
			return
		}
		f.mu.Lock()
		f.updates = append(f.updates, req)
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	authed.DELETE("/cart/remove/:itemId", func(c *gin.Context) {
		if c.Param("itemId") == "missing" {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}
		f.mu.Lock()
		f.removed = append(f.removed, c.Param("itemId"))
		f.mu.Unlock()
		c.Status(http.StatusNoContent)
	})
	r.POST("/api/auth/login", func(c *gin.Context) {
		var body map[string]string
		_ = c.ShouldBindJSON(&body)
		if body["password"] != "secret" {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "bad credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": "access-1", "refreshToken": "refresh-1"})
	})
	return r
}

func newTestClient(t *testing.T, backend *fakeBackend, auth Authenticator) *Client {
	t.Helper()
	srv := httptest.NewServer(backend.router())
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api", srv.Client(), auth, nil)
}

func TestFetchCartNormalizesItems(t *testing.T) {
	backend := &fakeBackend{
		token: "t1",
		items: []gin.H{{"_id": "srv1", "productId": gin.H{"_id": "A"}, "storeId": "s1", "quantity": 2, "price": 100000, "subtotal": 200000}},
	}
	client := newTestClient(t, backend, &stubAuth{token: "t1"})

	items, err := client.FetchCart(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "srv1", items[0].ID)
	assert.Equal(t, "A", items[0].ProductID)
	assert.True(t, items[0].Subtotal.Equal(decimal.NewFromInt(200000)))
}

func TestUnauthorizedRefreshesOnceAndRetries(t *testing.T) {
	backend := &fakeBackend{token: "fresh"}
	auth := &stubAuth{token: "stale", next: "fresh"}
	client := newTestClient(t, backend, auth)

	require.NoError(t, client.UpdateQuantity(context.Background(), "l1", 3))
	assert.Equal(t, 1, auth.refreshes)
	require.Len(t, backend.updates, 1)
	assert.Equal(t, updateRequest{ItemID: "l1", Quantity: 3}, backend.updates[0])
}

func TestRefreshFailureSurfacesSessionExpired(t *testing.T) {
	backend := &fakeBackend{token: "fresh"}
	auth := &stubAuth{token: "stale", refreshErr: domain.ErrSessionExpired}
	client := newTestClient(t, backend, auth)

	_, err := client.FetchCart(context.Background())
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Equal(t, 1, auth.refreshes)
}

func TestRetryStillUnauthorizedDoesNotLoop(t *testing.T) {
	backend := &fakeBackend{token: "never"}
	auth := &stubAuth{token: "stale", next: "also-stale"}
	client := newTestClient(t, backend, auth)

	_, err := client.FetchCart(context.Background())
	require.ErrorIs(t, err, domain.ErrSessionExpired)
	assert.Equal(t, 1, auth.refreshes)
}

func TestStatusMapping(t *testing.T) {
	backend := &fakeBackend{token: "t1"}
	client := newTestClient(t, backend, &stubAuth{token: "t1"})
	ctx := context.Background()

	err := client.UpdateQuantity(ctx, "l1", 9)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "only 5 left in stock")

	err = client.RemoveItem(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, client.RemoveItem(ctx, "l2"))
	assert.Equal(t, []string{"l2"}, backend.removed)

	require.NoError(t, client.AddItem(ctx, AddRequest{ProductID: "A", Quantity: 2, Variation: map[string]string{"color": "red"}}))
	require.Len(t, backend.adds, 1)
	assert.Equal(t, "red", backend.adds[0].Variation["color"])
}

func TestNetworkFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(url, nil, nil, nil)
	_, err := client.FetchCart(context.Background())
	require.Error(t, err)
	assert.True(t, IsNetwork(err), "expected network error, got %v", err)
}

func TestCanceledContextIsNotNetworkError(t *testing.T) {
	backend := &fakeBackend{token: "t1"}
	client := newTestClient(t, backend, &stubAuth{token: "t1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.FetchCart(ctx)
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.False(t, IsNetwork(err))
}

func TestStatusErrorForUnmappedStatus(t *testing.T) {
	err := statusErr(http.StatusTeapot, []byte(`{"message":"short and stout"}`))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTeapot, se.Status)
	assert.Equal(t, "short and stout", se.Message)
}

func TestAuthAPILogin(t *testing.T) {
	backend := &fakeBackend{token: "t1"}
	client := newTestClient(t, backend, &stubAuth{token: "ignored"})
	auth := NewAuthAPI(client)

	tokens, err := auth.Login(context.Background(), "a@b.c", "secret")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)

	_, err = auth.Login(context.Background(), "a@b.c", "wrong")
	require.ErrorIs(t, err, domain.ErrSessionExpired)
}
