package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"notiflogger/internal/activation"
	"notiflogger/internal/shared/testutil"
)

func startHub(t *testing.T, metrics *Metrics) *Hub {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger, metrics)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}

func registerClient(t *testing.T, hub *Hub) (*Client, *mockConnection) {
	t.Helper()
	conn := newMockConnection()
	client := NewClient(hub, conn, "", Timing{}, nil)
	want := hub.ClientCount() + 1
	require.True(t, hub.Register(client))
	require.Eventually(t, func() bool { return hub.ClientCount() == want }, time.Second, 5*time.Millisecond)
	return client, conn
}

func receive(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case payload, ok := <-client.send:
		require.True(t, ok, "send channel closed")
		var msg Message
		require.NoError(t, json.Unmarshal(payload, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := startHub(t, nil)

	c1, _ := registerClient(t, hub)
	registerClient(t, hub)
	assert.Equal(t, 2, hub.ClientCount())

	hub.Unregister(c1)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	_, ok := <-c1.send
	assert.False(t, ok, "unregistered client queue should be closed")

	// Unregistering twice is harmless.
	hub.Unregister(c1)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHubBroadcast(t *testing.T) {
	hub := startHub(t, nil)
	c1, _ := registerClient(t, hub)
	c2, _ := registerClient(t, hub)

	require.NoError(t, hub.Broadcast(context.Background(), TypeStatus, map[string]string{"state": "active"}))

	for _, c := range []*Client{c1, c2} {
		msg := receive(t, c)
		assert.Equal(t, TypeStatus, msg.Type)
		assert.Equal(t, map[string]interface{}{"state": "active"}, msg.Data)
		assert.False(t, msg.Timestamp.IsZero())
	}
}

func TestHubBroadcastDisconnectsSlowClient(t *testing.T) {
	hub := startHub(t, nil)
	slow, _ := registerClient(t, hub)
	fast, _ := registerClient(t, hub)

	for i := 0; i < sendBuffer; i++ {
		slow.send <- []byte("{}")
	}

	require.NoError(t, hub.Broadcast(context.Background(), TypeStatus, nil))
	receive(t, fast)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHubStop(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger, nil)
	go hub.Run(context.Background())

	client, _ := registerClient(t, hub)

	hub.Stop()
	hub.Stop()
	<-hub.Done()

	_, ok := <-client.send
	assert.False(t, ok)
	assert.Equal(t, 0, hub.ClientCount())
	assert.ErrorIs(t, hub.Broadcast(context.Background(), TypeStatus, nil), ErrHubClosed)
	assert.False(t, hub.Register(NewClient(hub, newMockConnection(), "", Timing{}, nil)))
}

func TestHubListenerBroadcastsEngineEvents(t *testing.T) {
	hub := startHub(t, nil)
	client, _ := registerClient(t, hub)

	engine, _ := testutil.NewEngine(testutil.Epoch.Add(time.Minute), activation.WithListener(hub.Listener()))
	token := testutil.ValidToken(t, "356938035643809")

	_, err := engine.Validate(context.Background(), "356938035643809", token)
	require.NoError(t, err)

	msg := receive(t, client)
	assert.Equal(t, TypeActivation, msg.Type)

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "activated", data["event"])
	assert.Equal(t, "active", data["state"])
	assert.Equal(t, true, data["active"])
	assert.Equal(t, "3569****3809", data["device_id_masked"])

	require.NoError(t, engine.Deactivate(context.Background()))
	msg = receive(t, client)
	data = msg.Data.(map[string]interface{})
	assert.Equal(t, "deactivated", data["event"])
	assert.Equal(t, "unactivated", data["state"])
}

func TestHubMetrics(t *testing.T) {
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	metrics, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	hub := startHub(t, metrics)
	client, _ := registerClient(t, hub)
	require.NoError(t, hub.Broadcast(context.Background(), TypeStatus, nil))
	receive(t, client)

	var rm metricdata.ResourceMetrics
	require.Eventually(t, func() bool {
		if err := reader.Collect(context.Background(), &rm); err != nil {
			return false
		}
		return sumOf(rm, "websocket_messages_sent_total") == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), sumOf(rm, "websocket_connections_total"))
	assert.Equal(t, int64(1), sumOf(rm, "websocket_connections_active"))
}

func sumOf(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestStatusEvents(t *testing.T) {
	rec := activation.Record{
		IsActive:       true,
		ActivatedAt:    testutil.Epoch.UnixMilli(),
		ExpiresAt:      testutil.Epoch.Add(time.Hour).UnixMilli(),
		BoundDeviceID:  "356938035643809",
		ActivationUUID: "u-1",
	}

	ev := NewStatusEvent(activation.Event{Type: activation.EventExpired, Record: rec, At: testutil.Epoch.Add(2 * time.Hour)})
	assert.Equal(t, "expired", ev.Event)
	assert.Equal(t, "expired", ev.State)
	assert.False(t, ev.Active)
	assert.Equal(t, "3569****3809", ev.DeviceIDMasked)
	require.NotNil(t, ev.ExpiresAt)

	snap := NewSnapshotEvent(activation.Info{Record: activation.Record{}, State: activation.StateUnactivated, CheckedAt: testutil.Epoch})
	assert.Equal(t, "snapshot", snap.Event)
	assert.Equal(t, "unactivated", snap.State)
	assert.Nil(t, snap.ExpiresAt)
	assert.Empty(t, snap.DeviceIDMasked)
}
