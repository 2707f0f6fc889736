package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is a WebSocket client that reconnects until closed.
type Client struct {
	url          string
	conn         *websocket.Conn
	connMu       sync.Mutex
	backoff      time.Duration
	maxBackoff   time.Duration
	maxRetries   int
	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
	logger       zerolog.Logger
	headers      http.Header

	onMessage    func([]byte)
	onConnect    func()
	onDisconnect func(error)

	connected bool
	stateMu   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds WebSocket client configuration
type Config struct {
	URL           string
	ReconnectWait time.Duration
	MaxBackoff    time.Duration
	MaxRetries    int // <= 0 retries forever
	PingInterval  time.Duration
	PongWait      time.Duration
	WriteWait     time.Duration
	Logger        zerolog.Logger
	Headers       http.Header
}

// NewClient creates a new WebSocket client
func NewClient(cfg Config) *Client {
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongWait == 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteWait == 0 {
		cfg.WriteWait = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:          cfg.URL,
		backoff:      cfg.ReconnectWait,
		maxBackoff:   cfg.MaxBackoff,
		maxRetries:   cfg.MaxRetries,
		pingInterval: cfg.PingInterval,
		pongWait:     cfg.PongWait,
		writeWait:    cfg.WriteWait,
		logger:       cfg.Logger.With().Str("ws_url", cfg.URL).Logger(),
		headers:      cfg.Headers,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetHandlers sets the event handlers. Call before Connect.
func (c *Client) SetHandlers(onMessage func([]byte), onConnect func(), onDisconnect func(error)) {
	c.onMessage = onMessage
	c.onConnect = onConnect
	c.onDisconnect = onDisconnect
}

// Connect dials once and starts the read and ping loops.
func (c *Client) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.setConnected(true)

	c.logger.Info().Msg("WebSocket connected")
	if c.onConnect != nil {
		c.onConnect()
	}

	go c.readLoop(conn)
	go c.pingLoop(conn)

	return nil
}

// ConnectWithRetry connects with exponential backoff until success, ctx is done or Close is called.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	wait := c.backoff
	for retries := 1; ; retries++ {
		err := c.Connect(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		if c.maxRetries > 0 && retries >= c.maxRetries {
			return ErrMaxRetriesExceeded
		}

		c.logger.Warn().
			Err(err).
			Int("retry", retries).
			Dur("wait", wait).
			Msg("WebSocket connection failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrClosed
		case <-time.After(wait):
		}
		wait *= 2
		if wait > c.maxBackoff {
			wait = c.maxBackoff
		}
	}
}

// SendJSON writes a JSON message on the current connection.
func (c *Client) SendJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteJSON(v)
}

// Close stops reconnection and closes the connection. Safe to call more than once.
func (c *Client) Close() error {
	if c.ctx.Err() != nil {
		return nil
	}
	c.cancel()
	c.setConnected(false)

	c.connMu.Lock()
	var err error
	if c.conn != nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
		err = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	return err
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(connected bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.connected = connected
}

func (c *Client) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("WebSocket read error")
			}
			go c.reconnect(conn, err)
			return
		}
		// Any frame counts as liveness; exchanges often skip pongs while streaming.
		_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))

		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != conn {
				c.connMu.Unlock()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.connMu.Unlock()

			if err != nil {
				c.logger.Warn().Err(err).Msg("WebSocket ping failed")
				return
			}
		}
	}
}

func (c *Client) reconnect(old *websocket.Conn, cause error) {
	c.connMu.Lock()
	if c.conn == old {
		_ = old.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	if c.ctx.Err() != nil {
		return
	}
	c.setConnected(false)

	if c.onDisconnect != nil {
		c.onDisconnect(cause)
	}
	c.logger.Warn().Err(cause).Msg("WebSocket disconnected, reconnecting")

	if err := c.ConnectWithRetry(c.ctx); err != nil && c.ctx.Err() == nil {
		c.logger.Error().Err(err).Msg("WebSocket reconnection failed")
	}
}
