package titanadmin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"titan/internal/a2a/server"
	"titan/internal/config"
	"titan/internal/store"
	"titan/internal/titancore"
)

func newTestManager(t *testing.T) *titancore.Manager {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	m, err := titancore.NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func callRPC(t *testing.T, ts *httptest.Server, method string, params interface{}) map[string]interface{} {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestRouterMemoryAddRecallStats(t *testing.T) {
	manager := newTestManager(t)
	a2aServer := server.NewServer(config.Default().A2A)
	router := NewRouter(manager, a2aServer)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	addResp := callRPC(t, ts, "memory.add", addParams{
		Content:  "widgets are useful for testing",
		Metadata: store.Metadata{},
	})
	require.Nil(t, addResp["error"])
	require.NotNil(t, addResp["result"])

	recallResp := callRPC(t, ts, "memory.recall", recallParams{Query: "widgets", Limit: 5})
	require.Nil(t, recallResp["error"])
	require.NotNil(t, recallResp["result"])

	statsResp := callRPC(t, ts, "memory.stats", struct{}{})
	require.Nil(t, statsResp["error"])
	require.NotNil(t, statsResp["result"])
}

func TestRouterAgentsListReportsRegistered(t *testing.T) {
	manager := newTestManager(t)
	a2aServer := server.NewServer(config.Default().A2A)
	router := NewRouter(manager, a2aServer)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	a2aServer.Registry().Register("agent-1", nil)

	resp := callRPC(t, ts, "agents.list", struct{}{})
	require.Nil(t, resp["error"])
	agents, ok := resp["result"].([]interface{})
	require.True(t, ok)
	require.Len(t, agents, 1)
}

func TestRouterSummarizeDayReturnsEmptyForUnknownDate(t *testing.T) {
	manager := newTestManager(t)
	a2aServer := server.NewServer(config.Default().A2A)
	router := NewRouter(manager, a2aServer)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	resp := callRPC(t, ts, "memory.summarizeDay", summarizeDayParams{Date: "2000-01-01"})
	require.Nil(t, resp["error"])
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "", result["summary"])
}

func TestRouterUnknownMethodReturnsError(t *testing.T) {
	manager := newTestManager(t)
	a2aServer := server.NewServer(config.Default().A2A)
	router := NewRouter(manager, a2aServer)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	resp := callRPC(t, ts, "memory.nonexistent", struct{}{})
	require.NotNil(t, resp["error"])
}
