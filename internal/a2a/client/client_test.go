package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"titan/internal/a2a/protocol"
	"titan/internal/a2a/server"
	"titan/internal/config"
)

func newTestA2AServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default().A2A
	cfg.HeartbeatMs = 50
	cfg.HeartbeatTimeoutMs = 500
	cfg.LockTimeoutMs = 200

	srv := server.NewServer(cfg)
	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	t.Cleanup(ts.Close)
	return ts
}

func wsURL(httpURL string) string {
	return "ws" + httpURL[len("http"):]
}

func newConnectedClient(t *testing.T, ts *httptest.Server, agentID string) *Client {
	t.Helper()
	c := New(Config{URL: wsURL(ts.URL), AgentID: agentID, RequestTimeoutMs: 2000})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientConnectReachesConnectedState(t *testing.T) {
	ts := newTestA2AServer(t)
	c := newConnectedClient(t, ts, "agent-1")
	require.Equal(t, StateConnected, c.State())
}

func TestClientAcquireAndReleaseLock(t *testing.T) {
	ts := newTestA2AServer(t)
	c := newConnectedClient(t, ts, "agent-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	granted, err := c.AcquireLock(ctx, "memory", "mem-1", "exclusive")
	require.NoError(t, err)
	require.NotEmpty(t, granted.LockID)

	require.NoError(t, c.ReleaseLock(granted.LockID))
}

func TestClientSecondExclusiveAcquireFailsWhileHeld(t *testing.T) {
	ts := newTestA2AServer(t)
	c1 := newConnectedClient(t, ts, "agent-1")
	c2 := newConnectedClient(t, ts, "agent-2")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c1.AcquireLock(ctx, "memory", "mem-1", "exclusive")
	require.NoError(t, err)

	_, err = c2.AcquireLock(ctx, "memory", "mem-1", "exclusive")
	require.Error(t, err)
}

func TestClientListAgentsReportsRegisteredAgents(t *testing.T) {
	ts := newTestA2AServer(t)
	c1 := newConnectedClient(t, ts, "agent-1")
	_ = newConnectedClient(t, ts, "agent-2")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	agents, err := c1.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
}

func TestClientSubscribeReceivesPushedNotification(t *testing.T) {
	ts := newTestA2AServer(t)
	subscriber := newConnectedClient(t, ts, "agent-1")
	writer := newConnectedClient(t, ts, "agent-2")

	received := make(chan protocol.Envelope, 1)
	subscriber.OnMessage(protocol.TypeMemoryAdded, func(env protocol.Envelope) {
		received <- env
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, subscriber.Subscribe(ctx, "memory", ""))

	require.NoError(t, writer.Notify(protocol.TypeMemoryAdded, protocol.MemoryEventPayload{MemoryID: "mem-1"}))

	select {
	case env := <-received:
		var payload protocol.MemoryEventPayload
		require.NoError(t, env.Decode(&payload))
		require.Equal(t, "mem-1", payload.MemoryID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pushed memory.added notification")
	}
}
