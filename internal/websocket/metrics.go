package websocket

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the status feed instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	connectionsTotal  metric.Int64Counter
	connectionsActive metric.Int64UpDownCounter
	messagesSent      metric.Int64Counter
	messagesDropped   metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.connectionsTotal, err = meter.Int64Counter("websocket_connections_total",
		metric.WithDescription("Status feed connections accepted"))
	if err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}

	m.connectionsActive, err = meter.Int64UpDownCounter("websocket_connections_active",
		metric.WithDescription("Status feed connections currently open"))
	if err != nil {
		return nil, fmt.Errorf("failed to create active connections gauge: %w", err)
	}

	m.messagesSent, err = meter.Int64Counter("websocket_messages_sent_total",
		metric.WithDescription("Messages queued to status feed clients"))
	if err != nil {
		return nil, fmt.Errorf("failed to create messages counter: %w", err)
	}

	m.messagesDropped, err = meter.Int64Counter("websocket_messages_dropped_total",
		metric.WithDescription("Messages dropped because a queue was full"))
	if err != nil {
		return nil, fmt.Errorf("failed to create dropped messages counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) connected(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

func (m *Metrics) disconnected(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1)
}

func (m *Metrics) sent(ctx context.Context, msgType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.messagesSent.Add(ctx, int64(n), metric.WithAttributes(attribute.String("type", msgType)))
}

func (m *Metrics) dropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.messagesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
