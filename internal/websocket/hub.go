package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"notiflogger/internal/activation"
	"notiflogger/internal/infrastructure"
)

// ErrHubClosed is returned by Broadcast once the hub has stopped.
var ErrHubClosed = errors.New("websocket hub closed")

const broadcastBuffer = 64

// outbound is a marshalled message waiting to be fanned out.
type outbound struct {
	msgType string
	payload []byte
}

// Hub maintains the set of active clients and broadcasts messages to
// them. Client bookkeeping happens only on the Run goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	// count mirrors len(clients) for readers outside Run.
	mu    sync.RWMutex
	count int

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		now:        time.Now,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled or
// Stop is called. Remaining clients are disconnected on return.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	h.logger.InfoContext(ctx, "hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return
		case <-h.quit:
			h.shutdown(ctx)
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount()
			h.metrics.connected(ctx)
			h.logger.InfoContext(client.context(ctx), "client registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", len(h.clients)))

		case client := <-h.unregister:
			if h.remove(ctx, client) {
				h.logger.InfoContext(client.context(ctx), "client unregistered",
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", h.now().Sub(client.connectedAt)),
					slog.Int("total_clients", len(h.clients)))
			}

		case msg := <-h.broadcast:
			h.fanOut(ctx, msg)
		}
	}
}

func (h *Hub) fanOut(ctx context.Context, msg outbound) {
	delivered := 0
	for client := range h.clients {
		select {
		case client.send <- msg.payload:
			delivered++
		default:
			h.remove(ctx, client)
			h.metrics.dropped(ctx, "client_buffer_full")
			h.logger.WarnContext(client.context(ctx), "client send buffer full, disconnecting",
				slog.String("client_id", client.id))
		}
	}
	h.metrics.sent(ctx, msg.msgType, delivered)
	h.logger.DebugContext(ctx, "broadcast delivered",
		slog.String("type", msg.msgType),
		slog.Int("clients", delivered),
		slog.Int("payload_size", len(msg.payload)))
}

// remove drops client and closes its queue, reporting whether it was
// still registered.
func (h *Hub) remove(ctx context.Context, client *Client) bool {
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	close(client.send)
	h.setCount()
	h.metrics.disconnected(ctx)
	return true
}

func (h *Hub) shutdown(ctx context.Context) {
	for client := range h.clients {
		h.remove(ctx, client)
	}
	h.logger.InfoContext(ctx, "hub shutting down")
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

// Stop ends Run. It is safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Register adds client. It reports false when the hub is stopping.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		return false
	case <-h.done:
		return false
	}
}

// Unregister removes client. Unknown clients are ignored.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	case <-h.done:
	}
}

// Broadcast queues a message for every client without blocking. When
// the queue is full the message is dropped.
func (h *Hub) Broadcast(ctx context.Context, msgType string, data interface{}) error {
	select {
	case <-h.quit:
		return ErrHubClosed
	case <-h.done:
		return ErrHubClosed
	default:
	}

	payload, err := h.encode(ctx, msgType, data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- outbound{msgType: msgType, payload: payload}:
		return nil
	default:
		h.metrics.dropped(ctx, "hub_queue_full")
		h.logger.WarnContext(ctx, "broadcast queue full, message dropped",
			slog.String("type", msgType))
		return nil
	}
}

func (h *Hub) encode(ctx context.Context, msgType string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(Message{
		Type:      msgType,
		Data:      data,
		Timestamp: h.now().UTC(),
		TraceID:   infrastructure.GetTraceID(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to marshal message",
			slog.String("type", msgType),
			slog.String("error", err.Error()))
		return nil, err
	}
	return payload, nil
}

// Listener returns an engine listener that broadcasts state changes.
func (h *Hub) Listener() activation.Listener {
	return func(ctx context.Context, ev activation.Event) {
		if err := h.Broadcast(ctx, TypeActivation, NewStatusEvent(ev)); err != nil && !errors.Is(err, ErrHubClosed) {
			h.logger.WarnContext(ctx, "failed to broadcast activation event",
				slog.String("event", string(ev.Type)),
				slog.String("error", err.Error()))
		}
	}
}
