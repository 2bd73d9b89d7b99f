package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.sentinel/internal/events"
	"dev.helix.sentinel/internal/streaming"
)

type hubFixture struct {
	bus    *events.Bus
	hub    *Hub
	server *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	bus := events.NewBus(nil)
	hub := NewHub(bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	hub.Start(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		server.Close()
		cancel()
		bus.Close()
	})
	return &hubFixture{bus: bus, hub: hub, server: server}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, topics ...string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(clientCommand{Action: "subscribe", Topics: topics}))
	// Give the read pump a moment to apply the subscription.
	time.Sleep(50 * time.Millisecond)
}

func TestHubDeliversSubscribedTopic(t *testing.T) {
	fx := newHubFixture(t)
	conn := fx.dial(t)
	subscribe(t, conn, streaming.TopicRiskEvents)

	fx.bus.Publish(events.NewEvent(
		streaming.EventTypeForTopic(streaming.TopicRiskEvents),
		"test",
		map[string]interface{}{"seller_id": "S-1"},
	).WithTopic(streaming.TopicRiskEvents).WithKey("S-1"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var received outboundEvent
	require.NoError(t, json.Unmarshal(frame, &received))
	assert.Equal(t, string(streaming.EventTypeForTopic(streaming.TopicRiskEvents)), received.Type)
	assert.Equal(t, streaming.TopicRiskEvents, received.Topic)
	assert.Equal(t, "S-1", received.Key)
	assert.NotEmpty(t, received.Timestamp)

	payload := received.Payload.(map[string]interface{})
	assert.Equal(t, "S-1", payload["seller_id"])
}

func TestHubSkipsUnsubscribedClient(t *testing.T) {
	fx := newHubFixture(t)
	conn := fx.dial(t)
	subscribe(t, conn, streaming.TopicAlertsCreated)

	fx.bus.Publish(events.NewEvent(
		streaming.EventTypeForTopic(streaming.TopicRiskEvents),
		"test", nil,
	).WithTopic(streaming.TopicRiskEvents))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHubUnsubscribe(t *testing.T) {
	fx := newHubFixture(t)
	conn := fx.dial(t)
	subscribe(t, conn, streaming.TopicRiskEvents)

	require.NoError(t, conn.WriteJSON(clientCommand{
		Action: "unsubscribe",
		Topics: []string{streaming.TopicRiskEvents},
	}))
	time.Sleep(50 * time.Millisecond)

	fx.bus.Publish(events.NewEvent(
		streaming.EventTypeForTopic(streaming.TopicRiskEvents),
		"test", nil,
	).WithTopic(streaming.TopicRiskEvents))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHubClientLifecycle(t *testing.T) {
	fx := newHubFixture(t)
	require.Equal(t, 0, fx.hub.ClientCount())

	conn := fx.dial(t)
	require.Eventually(t, func() bool { return fx.hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return fx.hub.ClientCount() == 0 },
		time.Second, 10*time.Millisecond)
}
