package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"notiflogger/internal/activation"
	"notiflogger/internal/config"
	"notiflogger/internal/infrastructure"
)

// StatusSource provides the snapshot sent to new clients.
type StatusSource interface {
	Info(ctx context.Context) (activation.Info, error)
}

// Handler upgrades GET /ws and attaches the connection to the hub.
type Handler struct {
	hub      *Hub
	status   StatusSource
	upgrader websocket.Upgrader
	timing   Timing
	logger   *slog.Logger
}

// NewHandler creates the upgrade handler. An empty allowedOrigins list
// accepts only same-host origins; "*" accepts any.
func NewHandler(hub *Hub, status StatusSource, cfg config.WebSocketConfig, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	h := &Handler{
		hub:    hub,
		status: status,
		timing: Timing{PingPeriod: cfg.PingPeriod, PongWait: cfg.PongWait},
		logger: logger.With(slog.String("component", "websocket.handler")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// ServeHTTP handles GET /ws
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		return
	}

	client := NewClient(h.hub, WrapConn(conn), infrastructure.GetTraceID(ctx), h.timing, h.logger)
	h.greet(ctx, client)

	if !h.hub.Register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// greet queues the connection message and, when available, the current
// activation status.
func (h *Handler) greet(ctx context.Context, client *Client) {
	now := h.hub.now().UTC()
	_ = client.enqueue(Message{
		Type:      TypeConnection,
		Data:      map[string]string{"status": "connected", "client_id": client.id},
		Timestamp: now,
		TraceID:   client.traceID,
	})

	if h.status == nil {
		return
	}
	info, err := h.status.Info(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "status snapshot unavailable",
			slog.String("error", err.Error()))
		return
	}
	_ = client.enqueue(Message{
		Type:      TypeStatus,
		Data:      NewSnapshotEvent(info),
		Timestamp: now,
		TraceID:   client.traceID,
	})
}
