package traderepublic

// client.go — gestor del socket persistente.
//
// Un único websocket lleva todas las suscripciones multiplexadas. Una
// sola goroutine lectora es dueña del socket y demultiplexa cada frame
// al canal de su suscripción; los callers solo esperan en su propio
// canal, nunca leen el socket directamente. Los writes van serializados
// con un mutex porque varios callers pueden suscribirse a la vez.
//
// Gramática de frames:
//   salida:  connect <client-id> <json>   |  sub <id> <json>  |  unsub <id>
//   entrada: connected                    |  <id> <code><payload>
// con code A (answer), D (delta), C (complete), E (error).

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWSURL = "wss://api.traderepublic.com"

	// Ids de cliente del handshake: la app y la web usan identidades
	// de protocolo distintas con metadatos distintos.
	connectIDApp = "21"
	connectIDWeb = "31"

	defaultSubscribeTimeout = 5 * time.Second
)

// Client es el cliente websocket del broker. Implementa ports.Broker.
type Client struct {
	session *Session
	wsURL   string
	timeout time.Duration

	reg *registry

	// mu protege el estado de conexión y serializa los writes; solo un
	// intento de conexión puede estar en vuelo a la vez.
	mu   chan struct{} // semáforo binario, se mantiene durante el dial
	conn *websocket.Conn
}

// NewClient crea el cliente del socket para una sesión.
func NewClient(session *Session, wsURL string, subscribeTimeout time.Duration) *Client {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	if subscribeTimeout <= 0 {
		subscribeTimeout = defaultSubscribeTimeout
	}
	c := &Client{
		session: session,
		wsURL:   wsURL,
		timeout: subscribeTimeout,
		reg:     newRegistry(),
		mu:      make(chan struct{}, 1),
	}
	c.mu <- struct{}{}
	return c
}

func (c *Client) lock()   { <-c.mu }
func (c *Client) unlock() { c.mu <- struct{}{} }

// ensureConnected establece el transporte si hace falta: dial, frame
// connect, y el literal "connected" como primera respuesta. Cualquier
// otra primera respuesta es un fallo de handshake fatal. El caller
// debe tener el lock.
func (c *Client) ensureConnected(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	slog.Debug("connecting to broker websocket", "url", c.wsURL)

	dialer := *websocket.DefaultDialer
	header := http.Header{}

	connectID := connectIDApp
	metadata := map[string]any{"locale": c.session.Locale()}

	if c.session.WebAuthenticated() {
		// Autenticación por cookies: identidad web y metadatos de la
		// plataforma webtrading.
		dialer.Jar = c.session.CookieJar()
		header.Set("User-Agent", userAgentWeb)
		connectID = connectIDWeb
		metadata = map[string]any{
			"locale":          c.session.Locale(),
			"platformId":      "webtrading",
			"platformVersion": "chrome - 94.0.4606",
			"clientId":        "app.traderepublic.com",
			"clientVersion":   "5582",
		}
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return fmt.Errorf("traderepublic: dial %s: %w", c.wsURL, err)
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		conn.Close()
		return fmt.Errorf("traderepublic: marshal connect metadata: %w", err)
	}
	frame := fmt.Sprintf("connect %s %s", connectID, meta)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		conn.Close()
		return fmt.Errorf("traderepublic: send connect: %w", err)
	}

	_, ack, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("traderepublic: read handshake ack: %w", err)
	}
	if string(ack) != "connected" {
		conn.Close()
		return &HandshakeError{Response: string(ack)}
	}

	slog.Debug("broker websocket connected")
	c.conn = conn
	go c.readLoop(conn)
	return nil
}

// Subscribe registra la petición, le asigna un id y manda el frame sub.
// En modo app el payload enviado lleva además el token de sesión; en
// modo web la autenticación va en las cookies del connect y el token
// se omite.
func (c *Client) Subscribe(ctx context.Context, request map[string]any) (string, error) {
	id, _, err := c.subscribe(ctx, request)
	return id, err
}

func (c *Client) subscribe(ctx context.Context, request map[string]any) (string, *subscription, error) {
	raw, err := json.Marshal(request)
	if err != nil {
		return "", nil, fmt.Errorf("traderepublic: marshal request: %w", err)
	}

	wire := request
	if !c.session.WebAuthenticated() {
		token, err := c.session.Token(ctx)
		if err != nil {
			return "", nil, err
		}
		wire = make(map[string]any, len(request)+1)
		for k, v := range request {
			wire[k] = v
		}
		wire["token"] = token
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return "", nil, fmt.Errorf("traderepublic: marshal request: %w", err)
	}

	c.lock()
	defer c.unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return "", nil, err
	}

	id, sub := c.reg.allocate(raw)
	frame := fmt.Sprintf("sub %s %s", id, payload)
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.reg.release(id)
		c.dropConn(err)
		return "", nil, fmt.Errorf("traderepublic: send sub %s: %w", id, err)
	}
	return id, sub, nil
}

// Unsubscribe manda el frame unsub y libera la entrada del registro.
// La liberación ocurre aunque el write falle: limpieza best-effort.
func (c *Client) Unsubscribe(id string) error {
	defer c.reg.release(id)

	c.lock()
	defer c.unlock()
	if c.conn == nil {
		return nil
	}
	frame := "unsub " + id
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.dropConn(err)
		return fmt.Errorf("traderepublic: send unsub %s: %w", id, err)
	}
	return nil
}

// Do es la operación de un solo uso: suscribe, espera exactamente una
// respuesta decodificada y desuscribe. La desuscripción corre siempre,
// también con timeout o error, para no dejar estado colgado en el
// servidor.
func (c *Client) Do(ctx context.Context, request map[string]any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	id, sub, err := c.subscribe(ctx, request)
	if err != nil {
		return nil, err
	}
	defer c.Unsubscribe(id)

	select {
	case res := <-sub.ch:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("traderepublic: waiting for subscription %s: %w", id, ctx.Err())
	}
}

// readLoop es la única lectora del socket. Parsea cada frame y lo
// entrega al waiter de su suscripción; cuando el socket muere, falla a
// todos los waiters pendientes y deja el cliente listo para reconectar
// en el siguiente uso.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("broker websocket closed", "err", err)
			c.lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.unlock()
			c.reg.failAll(fmt.Errorf("traderepublic: connection lost: %w", err))
			return
		}
		c.dispatch(string(msg))
	}
}

// dispatch procesa un frame entrante: "<id> <code><payload>".
func (c *Client) dispatch(frame string) {
	space := strings.IndexByte(frame, ' ')
	if space < 0 || space+1 >= len(frame) {
		slog.Warn("unparseable frame from broker", "frame", frame)
		return
	}
	id := frame[:space]
	code := frame[space+1]
	body := strings.TrimLeft(frame[space+2:], " ")

	sub, ok := c.reg.get(id)
	if !ok {
		// El servidor puede completar una suscripción que ya liberamos;
		// todo lo demás con id desconocido se loggea y se descarta.
		if code != 'C' {
			slog.Warn("no active subscription for frame, dropping", "id", id, "code", string(code))
		}
		return
	}

	switch code {
	case 'A':
		payload, err := c.reg.recordAnswer(id, body)
		if err != nil {
			c.deliver(id, sub, result{err: err})
			c.reg.release(id)
			return
		}
		c.deliver(id, sub, result{payload: json.RawMessage(payload)})

	case 'D':
		payload, err := c.reg.recordDelta(id, body)
		if err != nil {
			// Error de decodificación: fatal solo para esta
			// suscripción. El waiter recibe el error y su defer manda
			// el unsub; aquí solo se libera el registro.
			c.deliver(id, sub, result{err: err})
			c.reg.release(id)
			return
		}
		c.deliver(id, sub, result{payload: json.RawMessage(payload)})

	case 'C':
		c.reg.release(id)

	case 'E':
		perr := &ProtocolError{
			SubscriptionID: id,
			Request:        sub.request,
			Payload:        json.RawMessage(body),
		}
		c.deliver(id, sub, result{err: perr})
		c.reg.release(id)

	default:
		slog.Warn("unknown frame code from broker", "id", id, "code", string(code))
	}
}

// deliver entrega sin bloquear: si el waiter va por detrás y el buffer
// está lleno, el frame más nuevo se descarta con aviso. El lector no
// puede pararse por un consumidor lento.
func (c *Client) deliver(id string, sub *subscription, res result) {
	select {
	case sub.ch <- res:
	default:
		slog.Debug("subscription buffer full, dropping frame", "id", id)
	}
}

// dropConn marca la conexión como caída. El caller debe tener el lock;
// la goroutine lectora terminará sola al fallar su próximo read.
func (c *Client) dropConn(err error) {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	slog.Debug("dropping broker connection", "err", err)
}
