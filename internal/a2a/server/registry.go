// Package server implements the A2A coordination server (C9): the agent
// registry, lock manager, conflict detector, and subscription broker
// described in spec §4.4, generalized from the teacher's task store
// pattern (mutex-guarded map, uuid ids, UTC timestamps).
package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// AgentState is a registered agent's connection state machine position.
type AgentState string

const (
	AgentConnecting   AgentState = "connecting"
	AgentConnected    AgentState = "connected"
	AgentReconnecting AgentState = "reconnecting"
	AgentDisconnected AgentState = "disconnected"
)

// Agent is one registered A2A client.
type Agent struct {
	ID              string
	Capabilities    []string
	State           AgentState
	ResumeToken     string
	RegisteredAt    time.Time
	LastHeartbeatAt time.Time
	HeldLockIDs     map[string]bool
}

// Registry tracks registered agents and their connection state, per spec
// §4.4's server state machine (disconnected → connecting → connected →
// (reconnecting → connected) → disconnected).
type Registry struct {
	mu        sync.RWMutex
	agents    map[string]*Agent
	byToken   map[string]string // resumeToken -> agentID
	maxAgents int
}

// NewRegistry creates a Registry capped at maxAgents concurrently
// registered agents.
func NewRegistry(maxAgents int) *Registry {
	return &Registry{
		agents:    make(map[string]*Agent),
		byToken:   make(map[string]string),
		maxAgents: maxAgents,
	}
}

// Register adds or re-registers agentID, returning its resume token and
// whether this was a fresh registration (false means reconnect). Exceeding
// maxAgents is reported via ok=false.
func (r *Registry) Register(agentID string, capabilities []string) (agent *Agent, fresh bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, found := r.agents[agentID]; found {
		existing.State = AgentConnected
		existing.Capabilities = capabilities
		existing.LastHeartbeatAt = time.Now().UTC()
		return existing, false, true
	}

	if r.maxAgents > 0 && len(r.agents) >= r.maxAgents {
		return nil, false, false
	}

	now := time.Now().UTC()
	a := &Agent{
		ID:              agentID,
		Capabilities:    capabilities,
		State:           AgentConnected,
		ResumeToken:     uuid.New().String(),
		RegisteredAt:    now,
		LastHeartbeatAt: now,
		HeldLockIDs:     make(map[string]bool),
	}
	r.agents[agentID] = a
	r.byToken[a.ResumeToken] = agentID
	return a, true, true
}

// Heartbeat refreshes agentID's liveness timestamp.
func (r *Registry) Heartbeat(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return false
	}
	a.LastHeartbeatAt = time.Now().UTC()
	if a.State != AgentConnected {
		a.State = AgentConnected
	}
	return true
}

// Get returns the agent registered under agentID, or nil.
func (r *Registry) Get(agentID string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[agentID]
}

// ByResumeToken resolves a resume token back to its agent id.
func (r *Registry) ByResumeToken(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byToken[token]
	return id, ok
}

// List returns a snapshot of every registered agent.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Disconnect marks agentID disconnected. It does not remove the agent
// record (so a later reconnect with the same id can resume), but the
// caller (Server) is responsible for releasing the agent's locks and
// wait-queue entries via LockManager.ReleaseAll.
func (r *Registry) Disconnect(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[agentID]; ok {
		a.State = AgentDisconnected
	}
}

// SweepTimedOutHeartbeats transitions every connected agent whose last
// heartbeat is older than timeout into reconnecting, returning their ids so
// the caller can decide whether to fully disconnect them.
func (r *Registry) SweepTimedOutHeartbeats(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var timedOut []string
	for id, a := range r.agents {
		if a.State == AgentConnected && now.Sub(a.LastHeartbeatAt) > timeout {
			a.State = AgentReconnecting
			timedOut = append(timedOut, id)
		}
	}
	return timedOut
}
