package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"titan/internal/a2a/protocol"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func dialTestWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + url[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newBrokerTestServer(t *testing.T, broker *Broker, agentID, channel, resumeToken string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		broker.Register(agentID, conn)
		if channel != "" {
			broker.Subscribe(agentID, channel, resumeToken)
		}
		select {}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestBrokerPublishDeliversToSubscriber(t *testing.T) {
	broker := NewBroker(time.Minute, 100)
	ts := newBrokerTestServer(t, broker, "agent-1", "memory", "")
	clientConn := dialTestWS(t, ts.URL)

	require.Eventually(t, func() bool {
		return broker.SubscriberCount("memory") == 1
	}, 2*time.Second, 10*time.Millisecond, "expected subscription to register")

	env, err := protocol.NewEnvelope("server", protocol.TypeMemoryAdded, protocol.MemoryEventPayload{MemoryID: "m1"})
	require.NoError(t, err)
	broker.Publish("memory", env)

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got protocol.Envelope
	require.NoError(t, clientConn.ReadJSON(&got))
	require.Equal(t, protocol.TypeMemoryAdded, got.Type)
}

func TestBrokerPublishDoesNotDeliverToUnsubscribedChannel(t *testing.T) {
	broker := NewBroker(time.Minute, 100)
	ts := newBrokerTestServer(t, broker, "agent-1", "other-channel", "")
	clientConn := dialTestWS(t, ts.URL)

	require.Eventually(t, func() bool {
		return broker.SubscriberCount("other-channel") == 1
	}, 2*time.Second, 10*time.Millisecond, "expected subscription to register")

	env, _ := protocol.NewEnvelope("server", protocol.TypeMemoryAdded, protocol.MemoryEventPayload{MemoryID: "m1"})
	broker.Publish("memory", env)

	clientConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var got protocol.Envelope
	require.Error(t, clientConn.ReadJSON(&got))
}

func TestBrokerResumeReplaysRetainedEvents(t *testing.T) {
	broker := NewBroker(time.Minute, 100)

	env1, _ := protocol.NewEnvelope("server", protocol.TypeMemoryAdded, protocol.MemoryEventPayload{MemoryID: "m1"})
	broker.Publish("memory", env1)
	tokenBeforeSecond := broker.ResumeToken()
	env2, _ := protocol.NewEnvelope("server", protocol.TypeMemoryAdded, protocol.MemoryEventPayload{MemoryID: "m2"})
	broker.Publish("memory", env2)

	ts := newBrokerTestServer(t, broker, "agent-1", "memory", tokenBeforeSecond)
	clientConn := dialTestWS(t, ts.URL)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var got protocol.Envelope
	require.NoError(t, clientConn.ReadJSON(&got))
	var payload protocol.MemoryEventPayload
	require.NoError(t, got.Decode(&payload))
	require.Equal(t, "m2", payload.MemoryID, "expected only the event after the resume token to replay")
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	broker := NewBroker(time.Minute, 100)
	ts := newBrokerTestServer(t, broker, "agent-1", "memory", "")
	clientConn := dialTestWS(t, ts.URL)

	require.Eventually(t, func() bool {
		return broker.SubscriberCount("memory") == 1
	}, 2*time.Second, 10*time.Millisecond, "expected subscription to register")

	broker.Unsubscribe("agent-1", "memory")
	require.Eventually(t, func() bool {
		return broker.SubscriberCount("memory") == 0
	}, 2*time.Second, 10*time.Millisecond, "expected unsubscribe to apply")

	env, _ := protocol.NewEnvelope("server", protocol.TypeMemoryAdded, protocol.MemoryEventPayload{MemoryID: "m1"})
	broker.Publish("memory", env)

	clientConn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var got protocol.Envelope
	require.Error(t, clientConn.ReadJSON(&got))
}
