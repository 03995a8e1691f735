package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"notiflogger/internal/infrastructure"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	defaultPongWait = 60 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	sendBuffer = 256
)

var heartbeat = []byte(`{"type":"heartbeat"}`)

// Timing controls the keepalive of a client. PingPeriod must be less
// than PongWait.
type Timing struct {
	PingPeriod time.Duration
	PongWait   time.Duration
}

func (t Timing) normalize() Timing {
	if t.PongWait <= 0 {
		t.PongWait = defaultPongWait
	}
	if t.PingPeriod <= 0 || t.PingPeriod >= t.PongWait {
		t.PingPeriod = (t.PongWait * 9) / 10
	}
	return t
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub  *Hub
	conn Connection

	// Buffered channel of outbound messages, closed by the hub.
	send chan []byte

	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time
	timing      Timing

	logger *slog.Logger
}

// NewClient wraps conn for hub.
func NewClient(hub *Hub, conn Connection, traceID string, timing Timing, logger *slog.Logger) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	id := uuid.New().String()
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          id,
		traceID:     traceID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		timing:      timing.normalize(),
		logger: logger.With(
			slog.String("component", "websocket.client"),
			slog.String("client_id", id),
		),
	}
}

// ID returns the client id.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) context(ctx context.Context) context.Context {
	if c.traceID == "" {
		return ctx
	}
	return infrastructure.WithTraceID(ctx, c.traceID)
}

// enqueue places a message on the client's own queue before it is
// registered.
func (c *Client) enqueue(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case c.send <- payload:
	default:
	}
	return nil
}

// ReadPump consumes frames from the peer until the connection fails.
// Clients only send heartbeats; anything else is ignored.
func (c *Client) ReadPump() {
	ctx := c.context(context.Background())
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.timing.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.timing.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WarnContext(ctx, "unexpected websocket close",
					slog.String("error", err.Error()))
			}
			return
		}
		if bytes.Equal(bytes.TrimSpace(message), heartbeat) {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.timing.PongWait))
			c.logger.DebugContext(ctx, "heartbeat received")
		}
	}
}

// WritePump writes queued messages and pings to the peer. It returns
// when the hub closes the queue or a write fails.
func (c *Client) WritePump() {
	ctx := c.context(context.Background())
	ticker := time.NewTicker(c.timing.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.DebugContext(ctx, "websocket write failed",
					slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(ctx, "websocket ping failed",
					slog.String("error", err.Error()))
				return
			}
		}
	}
}
