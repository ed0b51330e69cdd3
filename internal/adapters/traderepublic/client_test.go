package traderepublic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker es un servidor websocket de prueba. Hace el handshake
// (configurable) y delega cada frame sub/unsub en el handler.
type fakeBroker struct {
	t   *testing.T
	srv *httptest.Server

	ack     string // respuesta al connect; "connected" por defecto
	handler func(conn *websocket.Conn, frame string)

	mu     sync.Mutex
	frames []string
}

func newFakeBroker(t *testing.T, handler func(conn *websocket.Conn, frame string)) *fakeBroker {
	t.Helper()

	fb := &fakeBroker{t: t, ack: "connected", handler: handler}
	upgrader := websocket.Upgrader{}

	fb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, connect, err := conn.ReadMessage()
		if err != nil {
			return
		}
		fb.record(string(connect))
		if !strings.HasPrefix(string(connect), "connect ") {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(fb.ack)); err != nil {
			return
		}

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fb.record(string(msg))
			if fb.handler != nil {
				fb.handler(conn, string(msg))
			}
		}
	}))
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBroker) record(frame string) {
	fb.mu.Lock()
	fb.frames = append(fb.frames, frame)
	fb.mu.Unlock()
}

func (fb *fakeBroker) received() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.frames...)
}

func (fb *fakeBroker) wsURL() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http")
}

// newWSClient construye un cliente contra el broker falso, con una
// sesión que ya tiene token vivo y no toca la red.
func newWSClient(t *testing.T, fb *fakeBroker, timeout time.Duration) *Client {
	t.Helper()

	s, err := NewSession(SessionConfig{Host: "http://127.0.0.1:0", Locale: "en"})
	require.NoError(t, err)
	s.refreshToken = "refresh"
	s.sessionToken = "token-1"
	s.expiresAt = time.Now().Add(time.Hour)

	return NewClient(s, fb.wsURL(), timeout)
}

// reply extrae el id de un frame "sub <id> <json>" y manda frames de
// respuesta con ese id.
func reply(conn *websocket.Conn, frame string, bodies ...string) {
	parts := strings.SplitN(frame, " ", 3)
	if len(parts) < 2 || parts[0] != "sub" {
		return
	}
	for _, body := range bodies {
		msg := fmt.Sprintf("%s %s", parts[1], body)
		conn.WriteMessage(websocket.TextMessage, []byte(msg))
	}
}

func TestClientDo_Answer(t *testing.T) {
	fb := newFakeBroker(t, func(conn *websocket.Conn, frame string) {
		reply(conn, frame, `A{"positions":[]}`)
	})
	c := newWSClient(t, fb, time.Second)

	payload, err := c.Do(context.Background(), map[string]any{"type": "compactPortfolio"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"positions":[]}`, string(payload))

	// El payload de sub lleva el token; la desuscripción llega después.
	require.Eventually(t, func() bool {
		frames := fb.received()
		return len(frames) >= 3 && frames[len(frames)-1] == "unsub 1"
	}, time.Second, 10*time.Millisecond)

	frames := fb.received()
	assert.Contains(t, frames[1], `"type":"compactPortfolio"`)
	assert.Contains(t, frames[1], `"token":"token-1"`)
}

func TestClientDo_HandshakeRejected(t *testing.T) {
	fb := newFakeBroker(t, nil)
	fb.ack = `{"error":"bad connect"}`
	c := newWSClient(t, fb, time.Second)

	_, err := c.Do(context.Background(), map[string]any{"type": "cash"})
	require.Error(t, err)

	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Contains(t, hsErr.Response, "bad connect")
}

func TestClientDo_ErrorFrame(t *testing.T) {
	fb := newFakeBroker(t, func(conn *websocket.Conn, frame string) {
		reply(conn, frame, `E{"errors":[{"errorCode":"BAD_SUBSCRIPTION_TYPE"}]}`)
	})
	c := newWSClient(t, fb, time.Second)

	_, err := c.Do(context.Background(), map[string]any{"type": "nonsense"})
	require.Error(t, err)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "1", perr.SubscriptionID)
	assert.JSONEq(t, `{"type":"nonsense"}`, string(perr.Request))
	assert.Contains(t, string(perr.Payload), "BAD_SUBSCRIPTION_TYPE")
}

func TestClientDo_TimeoutSendsUnsub(t *testing.T) {
	fb := newFakeBroker(t, nil) // nunca responde a los sub
	c := newWSClient(t, fb, 50*time.Millisecond)

	_, err := c.Do(context.Background(), map[string]any{"type": "cash"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		frames := fb.received()
		return len(frames) > 0 && frames[len(frames)-1] == "unsub 1"
	}, time.Second, 10*time.Millisecond)
}

func TestClient_DeltaRebuildsPayload(t *testing.T) {
	fb := newFakeBroker(t, func(conn *websocket.Conn, frame string) {
		reply(conn, frame,
			`A{"price":100}`,
			"D=9\t-3\t+200\t=1",
		)
	})
	c := newWSClient(t, fb, time.Second)

	_, sub, err := c.subscribe(context.Background(), map[string]any{"type": "ticker"})
	require.NoError(t, err)

	first := <-sub.ch
	require.NoError(t, first.err)
	assert.JSONEq(t, `{"price":100}`, string(first.payload))

	second := <-sub.ch
	require.NoError(t, second.err)
	assert.JSONEq(t, `{"price":200}`, string(second.payload))
}

func TestClient_UnknownIDDropped(t *testing.T) {
	fb := newFakeBroker(t, func(conn *websocket.Conn, frame string) {
		// Frames para suscripciones que no existen, luego la respuesta.
		conn.WriteMessage(websocket.TextMessage, []byte(`99 A{"stale":true}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`98 C`))
		reply(conn, frame, `A{"ok":true}`)
	})
	c := newWSClient(t, fb, time.Second)

	payload, err := c.Do(context.Background(), map[string]any{"type": "cash"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))
}

func TestDispatch_DecodeErrorReleasesSubscription(t *testing.T) {
	c := &Client{reg: newRegistry(), mu: make(chan struct{}, 1)}
	c.mu <- struct{}{}

	id, sub := c.reg.allocate(json.RawMessage(`{"type":"ticker"}`))

	// Delta sin base previa: fatal solo para esta suscripción. El
	// waiter recibe el error y la entrada se libera.
	c.dispatch(id + " D=1")

	res := <-sub.ch
	require.ErrorIs(t, res.err, ErrMissingBase)
	_, ok := c.reg.get(id)
	assert.False(t, ok)

	// Un frame tardío para el id ya liberado se descarta.
	c.dispatch(id + ` A{"late":true}`)
	select {
	case res := <-sub.ch:
		t.Fatalf("unexpected delivery after release: %+v", res)
	default:
	}
}

func TestClient_ConcurrentSubscriptions(t *testing.T) {
	fb := newFakeBroker(t, func(conn *websocket.Conn, frame string) {
		parts := strings.SplitN(frame, " ", 3)
		if parts[0] != "sub" {
			return
		}
		var req struct {
			Type string `json:"type"`
		}
		json.Unmarshal([]byte(parts[2]), &req)
		body := fmt.Sprintf(`A{"echo":%q}`, req.Type)
		conn.WriteMessage(websocket.TextMessage, []byte(parts[1]+" "+body))
	})
	c := newWSClient(t, fb, time.Second)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("req-%d", i)
			payload, err := c.Do(context.Background(), map[string]any{"type": want})
			assert.NoError(t, err)
			assert.JSONEq(t, fmt.Sprintf(`{"echo":%q}`, want), string(payload))
		}(i)
	}
	wg.Wait()
}
