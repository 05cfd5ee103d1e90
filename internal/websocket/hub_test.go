package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRelay struct {
	hub    *Hub
	broker *fakeBroker
	server *httptest.Server
	cancel context.CancelFunc
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()

	broker := newFakeBroker()
	broker.loopback = true

	hub := NewHub(broker, HubConfig{
		Client: ClientConfig{SendBufferSize: 16, PongWait: 5 * time.Second},
		Bridge: fastBridgeConfig(),
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	bridgeDone := make(chan struct{})
	go func() { defer close(hubDone); _ = hub.Run(ctx) }()
	go func() { defer close(bridgeDone); _ = hub.Bridge().Run(ctx) }()

	upgrader := NewUpgrader([]string{"*"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, upgrader, w, r)
	}))

	t.Cleanup(func() {
		cancel()
		<-hubDone
		<-bridgeDone
		server.Close()
	})
	return &testRelay{hub: hub, broker: broker, server: server, cancel: cancel}
}

func (r *testRelay) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	before := r.hub.Registry().ClientCount()

	url := "ws" + strings.TrimPrefix(r.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return r.hub.Registry().ClientCount() == before+1
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	return string(data)
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %q", string(data))
}

func (r *testRelay) waitInterest(t *testing.T, room string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.hub.Registry().InterestCount(room) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRelayRoomBroadcastScenario(t *testing.T) {
	relay := newTestRelay(t)

	x := relay.dial(t)
	y := relay.dial(t)
	z := relay.dial(t)

	send(t, x, `{"type":"SUBSCRIBE","room":"room1"}`)
	send(t, y, `{"type":"SUBSCRIBE","room":"room1"}`)
	relay.waitInterest(t, "room1", 2)
	assert.Equal(t, 1, relay.broker.subscribeCount("room1"))

	send(t, z, `{"type":"sendMessage","roomId":"room1","message":"hello"}`)
	assert.Equal(t, "hello", readText(t, x))
	assert.Equal(t, "hello", readText(t, y))
	expectSilence(t, z)

	// X leaves: Y still holds the room so the upstream subscription stays.
	send(t, x, `{"type":"UNSUBSCRIBE","room":"room1"}`)
	relay.waitInterest(t, "room1", 1)
	assert.True(t, relay.broker.isSubscribed("room1"))
	assert.True(t, relay.hub.Bridge().IsSubscribed("room1"))

	// Y disconnects: last local member gone, upstream torn down.
	require.NoError(t, y.Close())
	relay.waitInterest(t, "room1", 0)
	require.Eventually(t, func() bool {
		return !relay.broker.isSubscribed("room1")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, relay.broker.unsubscribeCount("room1"))
	assert.False(t, relay.hub.Bridge().IsRegistered("room1"))
}

func TestRelayNoDuplicateDelivery(t *testing.T) {
	relay := newTestRelay(t)
	x := relay.dial(t)

	send(t, x, `{"type":"SUBSCRIBE","room":"room1"}`)
	send(t, x, `{"type":"SUBSCRIBE","room":"room1"}`)
	relay.waitInterest(t, "room1", 1)

	send(t, x, `{"type":"sendMessage","roomId":"room1","message":"once"}`)
	assert.Equal(t, "once", readText(t, x))
	expectSilence(t, x)
}

func TestRelayRoomIsolation(t *testing.T) {
	relay := newTestRelay(t)
	a := relay.dial(t)
	b := relay.dial(t)

	send(t, a, `{"type":"SUBSCRIBE","room":"red"}`)
	send(t, b, `{"type":"SUBSCRIBE","room":"blue"}`)
	relay.waitInterest(t, "red", 1)
	relay.waitInterest(t, "blue", 1)

	send(t, b, `{"type":"sendMessage","roomId":"red","message":"to red"}`)
	assert.Equal(t, "to red", readText(t, a))
	expectSilence(t, b)
}

func TestRelayMalformedInputKeepsConnection(t *testing.T) {
	relay := newTestRelay(t)
	x := relay.dial(t)

	send(t, x, `garbage`)
	send(t, x, `{"type":"subscribe","room":"room1"}`)
	send(t, x, `{"type":"SUBSCRIBE"}`)
	send(t, x, `{"type":"SUBSCRIBE","room":"room1"}`)
	relay.waitInterest(t, "room1", 1)

	send(t, x, `{"type":"sendMessage","roomId":"room1","message":"still here"}`)
	assert.Equal(t, "still here", readText(t, x))
	assert.Equal(t, int64(3), relay.hub.Metrics().Snapshot().ParseErrors)
}

func TestRelayDisconnectCleansUpAllRooms(t *testing.T) {
	relay := newTestRelay(t)
	x := relay.dial(t)

	for _, room := range []string{"a", "b", "c"} {
		send(t, x, `{"type":"SUBSCRIBE","room":"`+room+`"}`)
	}
	relay.waitInterest(t, "c", 1)

	require.NoError(t, x.Close())
	require.Eventually(t, func() bool {
		return relay.hub.Registry().ClientCount() == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, relay.hub.Registry().RoomCount())
	assert.Empty(t, relay.hub.Bridge().ActiveRooms())
	for _, room := range []string{"a", "b", "c"} {
		assert.False(t, relay.broker.isSubscribed(room), room)
	}
}

func TestRelayShutdownDisconnectsClients(t *testing.T) {
	relay := newTestRelay(t)
	x := relay.dial(t)

	send(t, x, `{"type":"SUBSCRIBE","room":"room1"}`)
	relay.waitInterest(t, "room1", 1)

	relay.hub.Stop()
	<-relay.hub.Done()

	x.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := x.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	require.Eventually(t, func() bool {
		return !relay.broker.isSubscribed("room1")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, relay.hub.Registry().ClientCount())
}

func TestHubStats(t *testing.T) {
	relay := newTestRelay(t)
	x := relay.dial(t)

	send(t, x, `{"type":"SUBSCRIBE","room":"room1"}`)
	require.Eventually(t, func() bool {
		return relay.hub.Bridge().IsSubscribed("room1")
	}, 2*time.Second, 5*time.Millisecond)

	stats := relay.hub.Stats()
	assert.Equal(t, 1, stats.Clients)
	assert.Equal(t, 1, stats.Rooms)
	assert.Equal(t, 1, stats.UpstreamSubscriptions)
	assert.True(t, stats.BrokerHealthy)
	assert.Equal(t, int64(1), stats.Counters.ConnectionsTotal)
}
