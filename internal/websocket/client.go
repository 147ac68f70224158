package websocket

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// Transport is the subset of a websocket connection the client drives
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client represents one WebSocket connection. It implements Handle.
type Client struct {
	id   string
	conn Transport
	send chan []byte
	done chan struct{}
	// stopped is closed once the write pump has closed the transport
	stopped chan struct{}

	closeOnce    sync.Once
	pingInterval time.Duration
	writeTimeout time.Duration
	onActivity   func()
	logger       *slog.Logger
}

// NewClient wraps conn. onActivity runs on every inbound frame and pong.
func NewClient(conn Transport, opts Options, onActivity func(), logger *slog.Logger) *Client {
	return &Client{
		id:           uuid.NewString(),
		conn:         conn,
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		pingInterval: opts.PingInterval,
		writeTimeout: opts.WriteTimeout,
		onActivity:   onActivity,
		logger:       logger,
	}
}

func (c *Client) ID() string { return c.id }

// Send enqueues data for the write pump. A closed client or a full buffer
// means the connection is not writable and the frame is dropped.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame and closes the
// transport. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// ReadPump reads frames until the transport fails and hands each one to
// handle in arrival order
func (c *Client) ReadPump(handle func(data []byte)) error {
	c.conn.SetPongHandler(func(string) error {
		c.onActivity()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "conn", c.id, "error", err)
			}
			return err
		}

		c.onActivity()
		handle(message)
	}
}

// WritePump writes queued frames and periodic pings until the client is
// closed or a write fails. The transport is closed before it returns.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.stopped)
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write error", "conn", c.id, "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
