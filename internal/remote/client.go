// Package remote talks to the marketplace Cart REST API and the
// authentication endpoints.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cartsync/internal/domain"
	"cartsync/internal/wire"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

// StatusError is returned for non-2xx responses that have no sentinel mapping.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Authenticator supplies bearer tokens and refreshes them on 401.
type Authenticator interface {
	AccessToken() string
	Refresh(ctx context.Context) error
}

// AddRequest is the body of POST /cart/add.
type AddRequest struct {
	ProductID string            `json:"productId"`
	StoreID   string            `json:"storeId,omitempty"`
	Quantity  int               `json:"quantity"`
	Variation map[string]string `json:"variation,omitempty"`
	// PriceDelta is the variation's extra price as shown to the shopper.
	PriceDelta *decimal.Decimal `json:"additionalPrice,omitempty"`
}

type updateRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// Client is the Remote Sync Client for the Cart REST API.
type Client struct {
	baseURL string
	http    *http.Client
	auth    Authenticator
	logger  *zap.Logger
}

// NewHTTPClient returns an http.Client with dial and TLS timeouts suited for
// an interactive client.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// New builds a Client. auth may be nil for guest use; a nil httpClient gets a
// default one with a 10s timeout.
func New(baseURL string, httpClient *http.Client, auth Authenticator, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(10 * time.Second)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		auth:    auth,
		logger:  logger,
	}
}

// FetchCart returns the authoritative cart lines.
func (c *Client) FetchCart(ctx context.Context) ([]domain.CartLineItem, error) {
	body, err := c.do(ctx, http.MethodGet, "/cart", nil)
	if err != nil {
		return nil, err
	}
	return wire.DecodeItems(body)
}

// AddItem posts a new line; the response body is ignored because every
// mutation is followed by FetchCart.
func (c *Client) AddItem(ctx context.Context, req AddRequest) error {
	_, err := c.do(ctx, http.MethodPost, "/cart/add", req)
	return err
}

// UpdateQuantity sets the quantity of an existing line.
func (c *Client) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	_, err := c.do(ctx, http.MethodPut, "/cart/update", updateRequest{ItemID: itemID, Quantity: quantity})
	return err
}

// RemoveItem deletes a line.
func (c *Client) RemoveItem(ctx context.Context, itemID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/cart/remove/"+url.PathEscape(itemID), nil)
	return err
}

// do sends one request. A 401 triggers a single refresh-and-retry.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
	}

	status, body, err := c.send(ctx, method, path, raw)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized && c.auth != nil {
		c.logger.Debug("access token rejected, refreshing", zap.String("method", method), zap.String("path", path))
		if err := c.auth.Refresh(ctx); err != nil {
			return nil, err
		}
		status, body, err = c.send(ctx, method, path, raw)
		if err != nil {
			return nil, err
		}
	}
	if err := statusErr(status, body); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, method, path string, raw []byte) (int, []byte, error) {
	var reader io.Reader
	if raw != nil {
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		if token := c.auth.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read body: %v", domain.ErrUnavailable, err)
	}
	c.logger.Debug("backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))
	return resp.StatusCode, body, nil
}

func statusErr(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := errorMessage(body)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrSessionExpired, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrConflict, msg)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", domain.ErrUnavailable, status)
	}
	return &StatusError{Status: status, Message: msg}
}

// errorMessage extracts {"message": ...} or {"error": ...} from an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// IsNetwork reports whether err is a connectivity failure.
func IsNetwork(err error) bool {
	return errors.Is(err, domain.ErrUnavailable)
}
