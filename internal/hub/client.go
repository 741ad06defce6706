package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/nudge-chat/nudge/server/internal/protocol"
)

const (
	// sendBuffer is the per-connection outbound queue depth.
	sendBuffer = 64

	// defaultRateBurst is the number of inbound events a connection may send
	// in one burst; the bucket refills at the same rate per second.
	defaultRateBurst = 10

	writeTimeout      = 10 * time.Second
	heartbeatInterval = 30 * time.Second
)

// Client is one live WebSocket connection. Its session handle is fixed for
// the connection's lifetime; the username is bound by the first join event
// and only ever touched inside the hub loop.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	session  string
	username string

	send    chan []byte
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewClient wraps an accepted WebSocket connection. The client's context is
// derived from parent so a server shutdown tears down all pumps.
func NewClient(h *Hub, conn *websocket.Conn, session string, parent context.Context) *Client {
	ctx, cancel := context.WithCancel(parent)
	burst := h.rateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	return &Client{
		hub:     h,
		conn:    conn,
		session: session,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(burst), burst),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Session returns the connection's session handle.
func (c *Client) Session() string {
	return c.session
}

// trySend queues a frame without blocking. Only the hub loop and closeAll
// touch the send channel's lifecycle, so a closed-channel send cannot happen
// from here while the connection is still in the table.
func (c *Client) trySend(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// ReadPump reads event frames off the wire until the connection dies, then
// reports the disconnect to the hub. Run in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			slog.Info("client read closed", "session", c.session, "error", err)
			return
		}
		if !c.limiter.Allow() {
			slog.Warn("rate limit exceeded, dropping event", "session", c.session)
			continue
		}
		env, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("malformed frame", "session", c.session, "error", err)
			continue
		}
		c.hub.Inbound(c, env)
	}
}

// WritePump drains the send channel onto the wire. It exits when the channel
// is closed by the hub or the client context is cancelled.
func (c *Client) WritePump() {
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "server closing")
				return
			}
			wctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				slog.Info("client write failed", "session", c.session, "error", err)
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// HeartbeatLoop pings the peer at a fixed interval so dead connections are
// detected even when no chat traffic flows.
func (c *Client) HeartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				slog.Info("heartbeat failed", "session", c.session, "error", err)
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
