package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"clinic-realtime/internal/auth"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait   = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod = (pongWait * 9) / 10 // Must be less than pongWait.

	sendBuffer = 256
)

// Dispatcher handles the frames a client reads off the wire.
type Dispatcher interface {
	Dispatch(ctx context.Context, c *Client, frame []byte)
	Disconnected(c *Client)
}

// Client is a middleman between the websocket connection and the registry.
type Client struct {
	id       string
	identity auth.Identity
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once

	dispatcher Dispatcher
	limiter    *rate.Limiter
	readLimit  int64
	log        *slog.Logger
}

type ClientOptions struct {
	ReadLimit int64
	Limiter   *rate.Limiter
}

func NewClient(id string, identity auth.Identity, conn *websocket.Conn, d Dispatcher, opts ClientOptions, log *slog.Logger) *Client {
	return &Client{
		id:         id,
		identity:   identity,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		dispatcher: d,
		limiter:    opts.Limiter,
		readLimit:  opts.ReadLimit,
		log:        log.With("conn_id", id, "subject", identity.SubjectID),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Identity() auth.Identity { return c.identity }

// Allow reports whether the client may perform one more rate-limited action.
func (c *Client) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Send queues a frame without blocking. A full buffer drops the frame.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close stops the write pump, which closes the socket. Safe to call twice.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// ReadPump pumps frames from the websocket connection to the dispatcher.
// Frames are handled one at a time, so a sender's messages keep their order.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.dispatcher.Disconnected(c)
		c.conn.Close()
	}()

	if c.readLimit > 0 {
		c.conn.SetReadLimit(c.readLimit)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.dispatcher.Dispatch(ctx, c, frame)
	}
}

// WritePump pumps frames from the send buffer to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("websocket write failed", "error", err)
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
