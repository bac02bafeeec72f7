// Package client implements the A2A coordination client (C10): a single
// websocket connection with correlation-id request tracking, exponential
// reconnect backoff, and a heartbeat loop driven by the server's
// advertised cadence, per spec §4.4.
package client

import "titan/internal/a2a/protocol"

// ConnState mirrors the server's per-agent connection state machine from
// this client's point of view.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// AgentSummary is one entry of an agent.list_response.
type AgentSummary = protocol.AgentSummary
