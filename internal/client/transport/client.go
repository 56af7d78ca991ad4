package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Patryk-Bura/discord-clone/internal/relay"
	"github.com/Patryk-Bura/discord-clone/pkg/retry"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	pongWait         = 60 * time.Second
)

// Callbacks are invoked from the client's internal read goroutine. Handlers
// must not call back into the Client synchronously in a way that blocks.
type Callbacks struct {
	// OnEvent receives every server-pushed envelope.
	OnEvent func(env relay.Envelope)
	// OnReconnecting fires when the link drops and a reconnect cycle starts.
	OnReconnecting func(err error)
	// OnReconnected fires after a dropped link has been re-established.
	OnReconnected func()
	// OnClosed fires when the client gives up: either Close was called or
	// the reconnect budget was exhausted. err is nil on deliberate close.
	OnClosed func(err error)
}

// Client maintains a websocket signaling session with the relay, transparently
// reconnecting with exponential backoff when the link drops.
type Client struct {
	endpoint  string
	token     string
	backoff   retry.Config
	callbacks Callbacks
	logger    *zap.SugaredLogger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	cancel context.CancelFunc
}

// NewClient prepares a signaling client for the given ws:// or wss:// endpoint.
// The token is presented as an access_token query parameter during the
// websocket handshake.
func NewClient(endpoint, token string, backoff retry.Config, callbacks Callbacks, logger *zap.SugaredLogger) *Client {
	return &Client{
		endpoint:  endpoint,
		token:     token,
		backoff:   backoff,
		callbacks: callbacks,
		logger:    logger,
	}
}

// Connect dials the relay and starts the read loop. It returns once the
// initial handshake has completed; reconnects happen in the background.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		conn.Close()
		return fmt.Errorf("client is closed")
	}
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(runCtx, conn)

	c.logger.Infow("connected to relay", "endpoint", c.endpoint)
	return nil
}

// Invoke sends one operation envelope to the relay. It fails immediately when
// the link is down; callers decide whether the operation is worth repeating
// after OnReconnected.
func (c *Client) Invoke(op relay.Op, payload any) error {
	env, err := relay.NewEnvelope(op, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("send %s: not connected", op)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", op, err)
	}
	return nil
}

// Close tears the session down and suppresses further reconnect attempts.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	if c.callbacks.OnClosed != nil {
		c.callbacks.OnClosed(nil)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", c.endpoint, err)
	}
	if c.token != "" {
		q := u.Query()
		q.Set("access_token", c.token)
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env relay.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.handleDisconnect(ctx, conn, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if c.callbacks.OnEvent != nil {
			c.callbacks.OnEvent(env)
		}
	}
}

func (c *Client) handleDisconnect(ctx context.Context, conn *websocket.Conn, cause error) {
	conn.Close()

	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	c.logger.Warnw("relay connection lost, reconnecting", "error", cause)
	if c.callbacks.OnReconnecting != nil {
		c.callbacks.OnReconnecting(cause)
	}

	var next *websocket.Conn
	err := retry.Do(ctx, c.backoff, func() error {
		dialed, dialErr := c.dial(ctx)
		if dialErr != nil {
			c.logger.Debugw("reconnect attempt failed", "error", dialErr)
			return dialErr
		}
		next = dialed
		return nil
	})
	if err != nil {
		c.logger.Errorw("reconnect abandoned", "error", err)
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if c.callbacks.OnClosed != nil {
			c.callbacks.OnClosed(err)
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		next.Close()
		return
	}
	c.conn = next
	c.mu.Unlock()

	c.logger.Infow("reconnected to relay")
	if c.callbacks.OnReconnected != nil {
		c.callbacks.OnReconnected()
	}
	c.readLoop(ctx, next)
}
