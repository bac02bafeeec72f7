package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"titan/internal/a2a/errors"
	"titan/internal/a2a/protocol"
	"titan/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the A2A coordination server (C9): agent registry, lock manager,
// conflict detector, and pub/sub broker wired behind a websocket upgrade
// handler, per spec §4.4.
type Server struct {
	cfg      config.A2AConfig
	registry *Registry
	locks    *LockManager
	conflict *ConflictDetector
	broker   *Broker

	heartbeatTimeout time.Duration
	lockTimeout      time.Duration

	stopSweep chan struct{}
}

// NewServer wires a Server from cfg.
func NewServer(cfg config.A2AConfig) *Server {
	return &Server{
		cfg:              cfg,
		registry:         NewRegistry(cfg.MaxAgents),
		locks:            NewLockManager(time.Duration(cfg.LockExpiryMs)*time.Millisecond, cfg.MaxLocksPerAgent, cfg.MaxWaitQueueSize),
		conflict:         NewConflictDetector(2*time.Second, ConflictStrategy(cfg.ConflictStrategy)),
		broker:           NewBroker(10*time.Minute, 5000),
		heartbeatTimeout: time.Duration(cfg.HeartbeatTimeoutMs) * time.Millisecond,
		lockTimeout:      time.Duration(cfg.LockTimeoutMs) * time.Millisecond,
		stopSweep:        make(chan struct{}),
	}
}

// Registry exposes the server's agent registry, for admin/health reporting.
func (s *Server) Registry() *Registry { return s.registry }

// Locks exposes the server's lock manager, for admin/health reporting.
func (s *Server) Locks() *LockManager { return s.locks }

// Start begins the periodic lock-expiry and heartbeat sweep.
func (s *Server) Start() {
	go s.sweepLoop()
}

// Stop ends the periodic sweep goroutine.
func (s *Server) Stop() {
	close(s.stopSweep)
}

func (s *Server) sweepLoop() {
	interval := s.heartbeatTimeout / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.locks.SweepAll()
			for _, agentID := range s.registry.SweepTimedOutHeartbeats(s.heartbeatTimeout) {
				log.Warn().Str("agentId", agentID).Msg("a2a_agent_heartbeat_timeout")
			}
		}
	}
}

// ServeHTTP upgrades the incoming request to a websocket and runs the
// per-connection read loop until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("a2a_websocket_upgrade_failed")
		return
	}
	s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	var agentID string
	defer func() {
		if agentID != "" {
			s.registry.Disconnect(agentID)
			s.locks.ReleaseAll(agentID)
			s.broker.Unregister(agentID)
		}
	}()

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}

		switch env.Type {
		case protocol.TypeAgentRegister:
			var payload protocol.RegisterPayload
			if err := env.Decode(&payload); err != nil {
				s.sendError(conn, env, errors.CodeInvalidMessage, "malformed agent.register payload")
				continue
			}
			agentID = payload.AgentID
			s.broker.Register(agentID, conn)
			agent, _, ok := s.registry.Register(agentID, payload.Capabilities)
			if !ok {
				s.sendError(conn, env, errors.CodeInternalError, "maxAgents exceeded")
				agentID = ""
				return
			}
			reply, err := env.Reply("server", protocol.TypeAgentRegistered, protocol.RegisteredPayload{
				AgentID:         agent.ID,
				ResumeToken:     agent.ResumeToken,
				NextHeartbeatMs: s.cfg.HeartbeatMs,
			})
			if err == nil {
				_ = conn.WriteJSON(reply)
			}

		case protocol.TypeAgentHeartbeat:
			s.registry.Heartbeat(agentID)
			reply, err := env.Reply("server", protocol.TypeAgentHeartbeatAck, protocol.HeartbeatAckPayload{
				NextHeartbeatMs: s.cfg.HeartbeatMs,
			})
			if err == nil {
				_ = conn.WriteJSON(reply)
			}

		case protocol.TypeAgentDisconnect:
			return

		case protocol.TypeAgentList:
			agents := s.registry.List()
			summaries := make([]protocol.AgentSummary, 0, len(agents))
			for _, a := range agents {
				summaries = append(summaries, protocol.AgentSummary{AgentID: a.ID, State: string(a.State)})
			}
			reply, err := env.Reply("server", protocol.TypeAgentListResponse, protocol.AgentListResponsePayload{Agents: summaries})
			if err == nil {
				_ = conn.WriteJSON(reply)
			}

		case protocol.TypeLockRequest:
			s.handleLockRequest(conn, env, agentID)

		case protocol.TypeLockRelease:
			var payload protocol.LockReleasePayload
			if err := env.Decode(&payload); err == nil && s.locks.ReleaseByID(payload.LockID) {
				reply, err := env.Reply("server", protocol.TypeLockReleased, payload)
				if err == nil {
					_ = conn.WriteJSON(reply)
				}
			}

		case protocol.TypeSubscribe:
			var payload protocol.SubscribePayload
			if err := env.Decode(&payload); err == nil {
				s.broker.Subscribe(agentID, payload.Channel, payload.ResumeToken)
				reply, err := env.Reply("server", protocol.TypeSubscribeAck, payload)
				if err == nil {
					_ = conn.WriteJSON(reply)
				}
			}

		case protocol.TypeUnsubscribe:
			var payload protocol.SubscribePayload
			if err := env.Decode(&payload); err == nil {
				s.broker.Unsubscribe(agentID, payload.Channel)
				reply, err := env.Reply("server", protocol.TypeUnsubscribeAck, payload)
				if err == nil {
					_ = conn.WriteJSON(reply)
				}
			}

		case protocol.TypeMemoryAdded, protocol.TypeMemoryUpdated, protocol.TypeMemoryDeleted:
			var payload protocol.MemoryEventPayload
			if err := env.Decode(&payload); err == nil && payload.MemoryID != "" {
				if conflicting := s.conflict.RecordWrite(payload.MemoryID, agentID); len(conflicting) > 0 {
					s.publishConflict(payload.MemoryID, append(conflicting, agentID))
				}
			}
			s.broker.Publish(channelForMemoryEvent(payload), env)

		default:
			s.sendError(conn, env, errors.CodeInvalidMessage, "unknown message type: "+env.Type)
		}
	}
}

func channelForMemoryEvent(p protocol.MemoryEventPayload) string {
	if p.ProjectID != "" {
		return "project:" + p.ProjectID
	}
	return "memory"
}

func (s *Server) handleLockRequest(conn *websocket.Conn, env protocol.Envelope, agentID string) {
	var payload protocol.LockRequestPayload
	if err := env.Decode(&payload); err != nil {
		s.sendError(conn, env, errors.CodeInvalidMessage, "malformed lock_request payload")
		return
	}

	res := Resource{Kind: resourceKindFromString(payload.ResourceKind), ID: payload.ResourceID}
	mode := LockMode(payload.Mode)
	if mode != ModeShared {
		mode = ModeExclusive
	}

	lock, lockErr := s.locks.Acquire(agentID, res, mode, s.lockTimeout)
	if lockErr != nil {
		reply, err := env.Reply("server", protocol.TypeLockDenied, protocol.LockDeniedPayload{
			ResourceKind: payload.ResourceKind,
			ResourceID:   payload.ResourceID,
			Reason:       lockErr.Message,
		})
		if err == nil {
			_ = conn.WriteJSON(reply)
		}
		return
	}

	reply, err := env.Reply("server", protocol.TypeLockGranted, protocol.LockGrantedPayload{
		LockID:       lock.ID,
		ResourceKind: payload.ResourceKind,
		ResourceID:   payload.ResourceID,
		Mode:         string(lock.Mode),
		ExpiresAt:    lock.ExpiresAt,
	})
	if err == nil {
		_ = conn.WriteJSON(reply)
	}
}

func (s *Server) publishConflict(memoryID string, agentIDs []string) {
	env, err := protocol.NewEnvelope("server", protocol.TypeConflictDetected, protocol.ConflictDetectedPayload{
		MemoryID: memoryID,
		AgentIDs: agentIDs,
		Strategy: string(s.conflict.Strategy()),
	})
	if err != nil {
		return
	}
	s.broker.Publish("memory", env)
}

func (s *Server) sendError(conn *websocket.Conn, req protocol.Envelope, code errors.Code, message string) {
	reply, err := req.Reply("server", protocol.TypeError, protocol.ErrorPayload{
		Code:        string(code),
		Message:     message,
		Recoverable: errors.Recoverable(code),
	})
	if err != nil {
		return
	}
	_ = conn.WriteJSON(reply)
}

func resourceKindFromString(s string) ResourceKind {
	switch s {
	case "global":
		return ResourceGlobal
	case "project":
		return ResourceProject
	case "layer":
		return ResourceLayer
	default:
		return ResourceMemory
	}
}
