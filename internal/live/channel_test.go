package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cartsync/internal/domain"
	"cartsync/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type stubSession struct {
	userID string
	token  string
}

func (s stubSession) Authenticated() bool { return s.token != "" }
func (s stubSession) AccessToken() string { return s.token }
func (s stubSession) UserID() string      { return s.userID }

// hub is a one-room push server recording what clients send.
type hub struct {
	upgrader websocket.Upgrader
	push     []byte

	mu       sync.Mutex
	received []Envelope
	dials    int
	auth     []string
}

func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.dials++
	h.auth = append(h.auth, r.Header.Get("Authorization"))
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	if h.push != nil {
		if err := conn.WriteMessage(websocket.TextMessage, h.push); err != nil {
			return
		}
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if json.Unmarshal(data, &env) == nil {
			h.mu.Lock()
			h.received = append(h.received, env)
			h.mu.Unlock()
		}
	}
}

func (h *hub) messages() []Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Envelope(nil), h.received...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func snapshotOf(count int) domain.Snapshot {
	l := domain.CartLineItem{ID: "l1", ProductID: "p1", StoreID: "s1", Quantity: count, UnitPrice: decimal.NewFromInt(10)}
	l.Recompute()
	return domain.Snapshot{Items: []domain.CartLineItem{l}, Count: count}
}

func runChannel(t *testing.T, ch *Channel) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatalf("Run did not return after cancel")
		}
	}
}

func TestQueuedEmissionsFlushAfterJoin(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &hub{}
	srv := httptest.NewServer(h)
	defer srv.Close()

	ch := New(wsURL(srv), stubSession{userID: "u1", token: "tok"}, nil, Options{ReconnectInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, ch.Emit(context.Background(), snapshotOf(1)))
	require.NoError(t, ch.Emit(context.Background(), snapshotOf(2)))
	assert.Equal(t, 2, ch.Pending())
	assert.False(t, ch.Connected())

	cancel := runChannel(t, ch)
	defer cancel()

	require.Eventually(t, func() bool { return len(h.messages()) == 3 }, 2*time.Second, 10*time.Millisecond)
	msgs := h.messages()
	assert.Equal(t, EventJoinUserCart, msgs[0].Event)
	assert.JSONEq(t, `{"userId":"u1"}`, string(msgs[0].Data))
	for i, want := range []int{1, 2} {
		assert.Equal(t, EventCartUpdated, msgs[i+1].Event)
		snap, err := wire.DecodePush(msgs[i+1].Data)
		require.NoError(t, err)
		assert.Equal(t, want, snap.Count)
	}
	assert.Equal(t, 0, ch.Pending())
	assert.True(t, ch.Connected())
	h.mu.Lock()
	assert.Equal(t, []string{"Bearer tok"}, h.auth)
	h.mu.Unlock()

	require.NoError(t, ch.Emit(context.Background(), snapshotOf(3)))
	require.Eventually(t, func() bool { return len(h.messages()) == 4 }, 2*time.Second, 10*time.Millisecond)
}

func TestPushedCartReachesHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	payload, err := wire.EncodePush(snapshotOf(4))
	require.NoError(t, err)
	push, err := json.Marshal(Envelope{Event: EventCartUpdated, Data: payload})
	require.NoError(t, err)

	h := &hub{push: push}
	srv := httptest.NewServer(h)
	defer srv.Close()

	got := make(chan domain.Snapshot, 1)
	handler := func(_ context.Context, snap domain.Snapshot) {
		select {
		case got <- snap:
		default:
		}
	}
	ch := New(wsURL(srv), stubSession{userID: "u1", token: "tok"}, handler, Options{ReconnectInterval: 10 * time.Millisecond}, nil)
	cancel := runChannel(t, ch)
	defer cancel()

	select {
	case snap := <-got:
		assert.Equal(t, 4, snap.Count)
		require.Len(t, snap.Items, 1)
		assert.Equal(t, "l1", snap.Items[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatalf("handler never received the pushed cart")
	}
}

func TestGuestSessionDoesNotDial(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &hub{}
	srv := httptest.NewServer(h)
	defer srv.Close()

	ch := New(wsURL(srv), stubSession{}, nil, Options{ReconnectInterval: 5 * time.Millisecond}, nil)
	cancel := runChannel(t, ch)
	time.Sleep(50 * time.Millisecond)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Zero(t, h.dials)
}

func TestOutboxDropsOldest(t *testing.T) {
	ch := New("ws://127.0.0.1:1/ws", stubSession{}, nil, Options{OutboxSize: 2}, nil)
	for i := 1; i <= 3; i++ {
		require.NoError(t, ch.Emit(context.Background(), snapshotOf(i)))
	}
	require.Equal(t, 2, ch.Pending())

	var env Envelope
	require.NoError(t, json.Unmarshal(ch.outbox[0], &env))
	snap, err := wire.DecodePush(env.Data)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Count)

	ch.Reset()
	assert.Zero(t, ch.Pending())
}

func TestIgnoresUnknownEvents(t *testing.T) {
	called := false
	ch := New("ws://unused", stubSession{}, func(context.Context, domain.Snapshot) { called = true }, Options{}, nil)
	ch.dispatch(context.Background(), []byte(`{"event":"orderShipped","data":{}}`))
	ch.dispatch(context.Background(), []byte(`not json`))
	assert.False(t, called)
}
