package ws

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/forecasthub/forecasthub/server/internal/hub"
)

const (
	// writeTimeout is the deadline for a write when the caller sets none.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize limits inbound frames. Clients only send control frames.
	maxMessageSize = 512
)

// Conn adapts a gorilla WebSocket to hub.Connection. Writes are serialized;
// gorilla allows one concurrent writer.
type Conn struct {
	id   string
	conn *websocket.Conn

	writeMu   sync.Mutex
	state     atomic.Int32
	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps conn with a fresh random ID.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{
		id:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// State returns the observed socket state.
func (c *Conn) State() hub.ConnState {
	return hub.ConnState(c.state.Load())
}

// setState moves the connection forward; it never goes back to Open, and
// Closed/Errored are final.
func (c *Conn) setState(to hub.ConnState) {
	for {
		from := c.State()
		if to == hub.ConnOpen || from == hub.ConnClosed || from == hub.ConnErrored || from == to {
			return
		}
		if c.state.CompareAndSwap(int32(from), int32(to)) {
			return
		}
	}
}

// Send writes data as one text message. The write deadline comes from ctx,
// or writeTimeout if ctx has none. A failed write leaves the connection
// Errored.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if st := c.State(); st != hub.ConnOpen {
		return fmt.Errorf("ws: send to %s (%s): %w", c.id, st, hub.ErrConnectionClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.write(ctx, data); err != nil {
		c.setState(hub.ConnErrored)
		return fmt.Errorf("ws: write to %s: %w", c.id, err)
	}
	return nil
}

// ForceClose drops the socket without a close handshake.
func (c *Conn) ForceClose() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(hub.ConnClosed)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Close sends a normal-closure frame, then closes the socket.
func (c *Conn) Close(reason string) error {
	if c.State() == hub.ConnOpen {
		c.setState(hub.ConnClosing)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	}
	return c.ForceClose()
}

func (c *Conn) write(ctx context.Context, data []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// pingLoop sends periodic ping frames until the connection is closed.
func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with Send.
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.setState(hub.ConnErrored)
				return
			}
		}
	}
}

// readLoop reads frames to process control messages (pong, close) and detect
// disconnects. Blocks until the connection closes.
func (c *Conn) readLoop() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	defaultClose := c.conn.CloseHandler()
	c.conn.SetCloseHandler(func(code int, text string) error {
		c.setState(hub.ConnClosing)
		return defaultClose(code, text)
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
