package server

import "testing"

func TestRegistryRegisterIsFreshThenReconnect(t *testing.T) {
	r := NewRegistry(0)

	a, fresh, ok := r.Register("agent-1", []string{"recall"})
	if !ok || !fresh {
		t.Fatalf("expected fresh registration, got fresh=%v ok=%v", fresh, ok)
	}
	if a.State != AgentConnected {
		t.Fatalf("expected connected state, got %s", a.State)
	}

	_, fresh, ok = r.Register("agent-1", []string{"recall", "add"})
	if !ok || fresh {
		t.Fatalf("expected reconnect (not fresh), got fresh=%v ok=%v", fresh, ok)
	}
}

func TestRegistryRegisterEnforcesMaxAgents(t *testing.T) {
	r := NewRegistry(1)

	if _, _, ok := r.Register("agent-1", nil); !ok {
		t.Fatal("expected first registration to succeed")
	}
	if _, _, ok := r.Register("agent-2", nil); ok {
		t.Fatal("expected second registration to be rejected at maxAgents")
	}
}

func TestRegistryByResumeTokenResolvesAgent(t *testing.T) {
	r := NewRegistry(0)
	a, _, _ := r.Register("agent-1", nil)

	id, ok := r.ByResumeToken(a.ResumeToken)
	if !ok || id != "agent-1" {
		t.Fatalf("expected agent-1, got id=%q ok=%v", id, ok)
	}
}

func TestRegistryDisconnectMarksStateWithoutRemoving(t *testing.T) {
	r := NewRegistry(0)
	r.Register("agent-1", nil)
	r.Disconnect("agent-1")

	a := r.Get("agent-1")
	if a == nil {
		t.Fatal("expected agent record to persist across disconnect")
	}
	if a.State != AgentDisconnected {
		t.Fatalf("expected disconnected state, got %s", a.State)
	}
}

func TestRegistryHeartbeatUnknownAgentReturnsFalse(t *testing.T) {
	r := NewRegistry(0)
	if r.Heartbeat("ghost") {
		t.Fatal("expected heartbeat on unknown agent to fail")
	}
}
