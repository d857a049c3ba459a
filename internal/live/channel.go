// Package live keeps the cart of several open sessions of one user in step
// over a WebSocket push channel.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"cartsync/internal/domain"
	"cartsync/internal/wire"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Event names on the push channel.
const (
	EventCartUpdated  = "cartUpdated"
	EventJoinUserCart = "joinUserCart"
)

const writeWait = 5 * time.Second

// Envelope frames every message on the channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type joinPayload struct {
	UserID string `json:"userId"`
}

type sessionInfo interface {
	Authenticated() bool
	AccessToken() string
	UserID() string
}

// Handler receives every pushed cart.
type Handler func(ctx context.Context, snap domain.Snapshot)

// Options tunes a Channel. Zero values pick defaults.
type Options struct {
	ReconnectInterval time.Duration
	OutboxSize        int
	Dialer            *websocket.Dialer
}

// Channel is the client end of the push channel. Emissions made while
// disconnected wait in a bounded outbox and are sent after the next join.
type Channel struct {
	url     string
	session sessionInfo
	handler Handler
	logger  *zap.Logger
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	maxOut  int

	mu     sync.Mutex
	conn   *websocket.Conn
	outbox [][]byte
}

func New(url string, session sessionInfo, handler Handler, opts Options, logger *zap.Logger) *Channel {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 3 * time.Second
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 64
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		url:     url,
		session: session,
		handler: handler,
		logger:  logger,
		dialer:  opts.Dialer,
		limiter: rate.NewLimiter(rate.Every(opts.ReconnectInterval), 1),
		maxOut:  opts.OutboxSize,
	}
}

// Connected reports whether the channel has joined the user's room.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Pending is the number of queued emissions.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbox)
}

// Emit sends a cartUpdated event, or queues it until the channel connects.
// Delivery is best effort with no acknowledgement.
func (c *Channel) Emit(_ context.Context, snap domain.Snapshot) error {
	payload, err := wire.EncodePush(snap)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Envelope{Event: EventCartUpdated, Data: payload})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.writeLocked(c.conn, msg)
		if err == nil {
			return nil
		}
		c.logger.Debug("emit failed, queueing", zap.Error(err))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.enqueueLocked(msg)
	return nil
}

// Reset drops the connection and any queued emissions, e.g. on logout.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.outbox = nil
}

// Run keeps the channel connected while the session is authenticated.
// Reconnect attempts are paced by the reconnect interval. Run returns nil
// once ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}
		if !c.session.Authenticated() {
			continue
		}
		err := c.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.logger.Warn("live channel disconnected", zap.Error(err))
		}
	}
}

func (c *Channel) serve(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.session.AccessToken())
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := c.join(conn); err != nil {
		return err
	}
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		c.dispatch(ctx, data)
	}
}

// join announces the user's room, then flushes the outbox in order.
func (c *Channel) join(conn *websocket.Conn) error {
	userID := c.session.UserID()
	data, err := json.Marshal(joinPayload{UserID: userID})
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Envelope{Event: EventJoinUserCart, Data: data})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeLocked(conn, msg); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	for len(c.outbox) > 0 {
		if err := c.writeLocked(conn, c.outbox[0]); err != nil {
			return fmt.Errorf("flush outbox: %w", err)
		}
		c.outbox = c.outbox[1:]
	}
	c.conn = conn
	c.logger.Info("live channel joined", zap.String("user_id", userID))
	return nil
}

func (c *Channel) dispatch(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("undecodable live message", zap.Error(err))
		return
	}
	switch env.Event {
	case EventCartUpdated:
		snap, err := wire.DecodePush(env.Data)
		if err != nil {
			c.logger.Warn("bad cartUpdated payload", zap.Error(err))
			return
		}
		if c.handler != nil {
			c.handler(ctx, snap)
		}
	default:
		c.logger.Debug("ignoring live event", zap.String("event", env.Event))
	}
}

func (c *Channel) writeLocked(conn *websocket.Conn, msg []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *Channel) enqueueLocked(msg []byte) {
	if len(c.outbox) >= c.maxOut {
		c.logger.Warn("live outbox full, dropping oldest emission")
		c.outbox = c.outbox[1:]
	}
	c.outbox = append(c.outbox, msg)
}

