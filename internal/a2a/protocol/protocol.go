// Package protocol defines the A2A wire envelope and message type
// constants shared by the server and client (spec §6.2).
package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message types (subset, spec §6.2).
const (
	TypeAgentRegister       = "agent.register"
	TypeAgentRegistered     = "agent.registered"
	TypeAgentHeartbeat      = "agent.heartbeat"
	TypeAgentHeartbeatAck   = "agent.heartbeat_ack"
	TypeAgentDisconnect     = "agent.disconnect"
	TypeAgentList           = "agent.list"
	TypeAgentListResponse   = "agent.list_response"
	TypeMemoryAdded         = "memory.added"
	TypeMemoryUpdated       = "memory.updated"
	TypeMemoryDeleted       = "memory.deleted"
	TypeMemoryRecalled      = "memory.recalled"
	TypeLockRequest         = "coordination.lock_request"
	TypeLockGranted         = "coordination.lock_granted"
	TypeLockDenied          = "coordination.lock_denied"
	TypeLockRelease         = "coordination.lock_release"
	TypeLockReleased        = "coordination.lock_released"
	TypeConflictDetected    = "conflict.detected"
	TypeConflictResolution  = "conflict.resolution"
	TypeSubscribe           = "subscribe"
	TypeSubscribeAck        = "subscribe_ack"
	TypeUnsubscribe         = "unsubscribe"
	TypeUnsubscribeAck      = "unsubscribe_ack"
	TypeError               = "error"
)

// Envelope is every A2A wire message: `{id, timestamp, sender, type,
// payload, correlationId?}`. Payload is kept as raw JSON so a receiver can
// decode it into the concrete type implied by Type.
type Envelope struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Sender        string          `json:"sender"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// NewEnvelope builds an envelope, marshalling payload and stamping a fresh
// id and the current timestamp.
func NewEnvelope(sender, msgType string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Sender:    sender,
		Type:      msgType,
		Payload:   raw,
	}, nil
}

// Reply builds a response envelope carrying the request's id as
// CorrelationID.
func (e Envelope) Reply(sender, msgType string, payload interface{}) (Envelope, error) {
	resp, err := NewEnvelope(sender, msgType, payload)
	if err != nil {
		return Envelope{}, err
	}
	resp.CorrelationID = e.ID
	return resp, nil
}

// Decode unmarshals the envelope's payload into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// RegisterPayload is agent.register's payload.
type RegisterPayload struct {
	AgentID      string   `json:"agentId"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// RegisteredPayload is agent.registered's payload.
type RegisteredPayload struct {
	AgentID         string `json:"agentId"`
	ResumeToken     string `json:"resumeToken"`
	NextHeartbeatMs int    `json:"nextHeartbeatMs"`
}

// HeartbeatAckPayload is agent.heartbeat_ack's payload.
type HeartbeatAckPayload struct {
	NextHeartbeatMs int `json:"nextHeartbeatMs"`
}

// AgentListResponsePayload is agent.list_response's payload.
type AgentListResponsePayload struct {
	Agents []AgentSummary `json:"agents"`
}

// AgentSummary describes one registered agent for agent.list_response.
type AgentSummary struct {
	AgentID string `json:"agentId"`
	State   string `json:"state"`
}

// MemoryEventPayload is the shared shape of memory.added/updated/deleted/recalled.
type MemoryEventPayload struct {
	MemoryID    string  `json:"memoryId,omitempty"`
	ProjectID   string  `json:"projectId,omitempty"`
	Layer       string  `json:"layer,omitempty"`
	Query       string  `json:"query,omitempty"`
	QueryTimeMs int64   `json:"queryTimeMs,omitempty"`
	ResultCount int     `json:"resultCount,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// LockRequestPayload is coordination.lock_request's payload.
type LockRequestPayload struct {
	ResourceKind string `json:"resourceKind"`
	ResourceID   string `json:"resourceId"`
	Mode         string `json:"mode"`
}

// LockGrantedPayload is coordination.lock_granted's payload.
type LockGrantedPayload struct {
	LockID       string    `json:"lockId"`
	ResourceKind string    `json:"resourceKind"`
	ResourceID   string    `json:"resourceId"`
	Mode         string    `json:"mode"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// LockDeniedPayload is coordination.lock_denied's payload.
type LockDeniedPayload struct {
	ResourceKind string `json:"resourceKind"`
	ResourceID   string `json:"resourceId"`
	Reason       string `json:"reason"`
}

// LockReleasePayload is coordination.lock_release's payload.
type LockReleasePayload struct {
	LockID string `json:"lockId"`
}

// ConflictDetectedPayload is conflict.detected's payload.
type ConflictDetectedPayload struct {
	MemoryID string   `json:"memoryId"`
	AgentIDs []string `json:"agentIds"`
	Strategy string   `json:"strategy"`
}

// SubscribePayload is subscribe/unsubscribe's payload.
type SubscribePayload struct {
	Channel     string `json:"channel"`
	ResumeToken string `json:"resumeToken,omitempty"`
}

// ErrorPayload is the error message type's payload, per spec §4.4 Errors.
type ErrorPayload struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Details       string `json:"details,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	Recoverable   bool   `json:"recoverable"`
}
