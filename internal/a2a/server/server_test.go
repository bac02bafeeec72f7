package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"titan/internal/a2a/protocol"
	"titan/internal/config"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default().A2A
	cfg.HeartbeatMs = 50
	cfg.HeartbeatTimeoutMs = 500
	cfg.LockExpiryMs = 60_000
	cfg.LockTimeoutMs = 200
	cfg.MaxAgents = 10
	cfg.MaxLocksPerAgent = 10
	cfg.MaxWaitQueueSize = 10

	srv := NewServer(cfg)
	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialServer(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + ts.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, sender, msgType string, payload interface{}) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(sender, msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
	return env
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env protocol.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestServerRegisterReturnsResumeToken(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialServer(t, ts)

	sendEnvelope(t, conn, "agent-1", protocol.TypeAgentRegister, protocol.RegisterPayload{AgentID: "agent-1"})
	reply := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeAgentRegistered, reply.Type)

	var payload protocol.RegisteredPayload
	require.NoError(t, reply.Decode(&payload))
	require.NotEmpty(t, payload.ResumeToken)
	require.Equal(t, 50, payload.NextHeartbeatMs)
}

func TestServerHeartbeatAcksAndKeepsAgentConnected(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dialServer(t, ts)

	sendEnvelope(t, conn, "agent-1", protocol.TypeAgentRegister, protocol.RegisterPayload{AgentID: "agent-1"})
	readEnvelope(t, conn)

	sendEnvelope(t, conn, "agent-1", protocol.TypeAgentHeartbeat, struct{}{})
	reply := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeAgentHeartbeatAck, reply.Type)

	require.Equal(t, AgentConnected, srv.Registry().Get("agent-1").State)
}

func TestServerLockRequestGrantsThenDeniesConflicting(t *testing.T) {
	_, ts := newTestServer(t)
	conn1 := dialServer(t, ts)
	conn2 := dialServer(t, ts)

	sendEnvelope(t, conn1, "agent-1", protocol.TypeAgentRegister, protocol.RegisterPayload{AgentID: "agent-1"})
	readEnvelope(t, conn1)
	sendEnvelope(t, conn2, "agent-2", protocol.TypeAgentRegister, protocol.RegisterPayload{AgentID: "agent-2"})
	readEnvelope(t, conn2)

	sendEnvelope(t, conn1, "agent-1", protocol.TypeLockRequest, protocol.LockRequestPayload{
		ResourceKind: "memory", ResourceID: "mem-1", Mode: "exclusive",
	})
	granted := readEnvelope(t, conn1)
	require.Equal(t, protocol.TypeLockGranted, granted.Type)

	sendEnvelope(t, conn2, "agent-2", protocol.TypeLockRequest, protocol.LockRequestPayload{
		ResourceKind: "memory", ResourceID: "mem-1", Mode: "exclusive",
	})
	denied := readEnvelope(t, conn2)
	require.Equal(t, protocol.TypeLockDenied, denied.Type)
}

func TestServerLockReleaseAllowsSubsequentGrant(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialServer(t, ts)

	sendEnvelope(t, conn, "agent-1", protocol.TypeAgentRegister, protocol.RegisterPayload{AgentID: "agent-1"})
	readEnvelope(t, conn)

	sendEnvelope(t, conn, "agent-1", protocol.TypeLockRequest, protocol.LockRequestPayload{
		ResourceKind: "memory", ResourceID: "mem-1", Mode: "exclusive",
	})
	granted := readEnvelope(t, conn)
	var grantedPayload protocol.LockGrantedPayload
	require.NoError(t, granted.Decode(&grantedPayload))

	sendEnvelope(t, conn, "agent-1", protocol.TypeLockRelease, protocol.LockReleasePayload{LockID: grantedPayload.LockID})
	released := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeLockReleased, released.Type)
}

func TestServerSubscribeAcksAndDeliversMemoryEvent(t *testing.T) {
	_, ts := newTestServer(t)
	subscriber := dialServer(t, ts)
	writer := dialServer(t, ts)

	sendEnvelope(t, subscriber, "agent-1", protocol.TypeAgentRegister, protocol.RegisterPayload{AgentID: "agent-1"})
	readEnvelope(t, subscriber)
	sendEnvelope(t, writer, "agent-2", protocol.TypeAgentRegister, protocol.RegisterPayload{AgentID: "agent-2"})
	readEnvelope(t, writer)

	sendEnvelope(t, subscriber, "agent-1", protocol.TypeSubscribe, protocol.SubscribePayload{Channel: "memory"})
	ack := readEnvelope(t, subscriber)
	require.Equal(t, protocol.TypeSubscribeAck, ack.Type)

	sendEnvelope(t, writer, "agent-2", protocol.TypeMemoryAdded, protocol.MemoryEventPayload{MemoryID: "mem-1"})

	event := readEnvelope(t, subscriber)
	require.Equal(t, protocol.TypeMemoryAdded, event.Type)
}

func TestServerConflictingWritesEmitConflictDetected(t *testing.T) {
	_, ts := newTestServer(t)
	subscriber := dialServer(t, ts)
	writer1 := dialServer(t, ts)
	writer2 := dialServer(t, ts)

	sendEnvelope(t, subscriber, "agent-1", protocol.TypeAgentRegister, protocol.RegisterPayload{AgentID: "agent-1"})
	readEnvelope(t, subscriber)
	sendEnvelope(t, writer1, "agent-2", protocol.TypeAgentRegister, protocol.RegisterPayload{AgentID: "agent-2"})
	readEnvelope(t, writer1)
	sendEnvelope(t, writer2, "agent-3", protocol.TypeAgentRegister, protocol.RegisterPayload{AgentID: "agent-3"})
	readEnvelope(t, writer2)

	sendEnvelope(t, subscriber, "agent-1", protocol.TypeSubscribe, protocol.SubscribePayload{Channel: "memory"})
	readEnvelope(t, subscriber)

	sendEnvelope(t, writer1, "agent-2", protocol.TypeMemoryUpdated, protocol.MemoryEventPayload{MemoryID: "shared-mem"})
	readEnvelope(t, subscriber) // the update itself

	sendEnvelope(t, writer2, "agent-3", protocol.TypeMemoryUpdated, protocol.MemoryEventPayload{MemoryID: "shared-mem"})

	var sawConflict bool
	for i := 0; i < 2; i++ {
		env := readEnvelope(t, subscriber)
		if env.Type == protocol.TypeConflictDetected {
			sawConflict = true
		}
	}
	require.True(t, sawConflict, "expected a conflict.detected event for the second unlocked write")
}
