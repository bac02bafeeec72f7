package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"titan/internal/a2a/errors"
	"titan/internal/a2a/protocol"
)

// Config tunes a Client's reconnect/backoff/timeout behavior (spec §4.4,
// §6.2 A2AConfig).
type Config struct {
	URL              string
	AgentID          string
	Capabilities     []string
	ReconnectBaseMs  int
	ReconnectMaxMs   int
	RequestTimeoutMs int
}

type pending struct {
	ch chan protocol.Envelope
}

// Client is a single A2A websocket connection with automatic reconnect,
// correlation-id-tracked requests, and a heartbeat loop paced by the
// server's advertised nextHeartbeatMs.
type Client struct {
	cfg Config

	mu          sync.Mutex
	conn        *websocket.Conn
	state       ConnState
	resumeToken string

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*pending

	handlersMu sync.RWMutex
	handlers   map[string]func(protocol.Envelope)

	stop chan struct{}
}

// New builds a Client. Call Connect to establish the websocket.
func New(cfg Config) *Client {
	if cfg.ReconnectBaseMs <= 0 {
		cfg.ReconnectBaseMs = 1000
	}
	if cfg.ReconnectMaxMs <= 0 {
		cfg.ReconnectMaxMs = 30_000
	}
	if cfg.RequestTimeoutMs <= 0 {
		cfg.RequestTimeoutMs = 10_000
	}
	return &Client{
		cfg:      cfg,
		state:    StateDisconnected,
		pending:  make(map[string]*pending),
		handlers: make(map[string]func(protocol.Envelope)),
		stop:     make(chan struct{}),
	}
}

// OnMessage registers a handler invoked for every received envelope of the
// given type that is not a correlated reply to a pending request (e.g.
// server-pushed memory.added/conflict.detected notifications).
func (c *Client) OnMessage(msgType string, handler func(protocol.Envelope)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[msgType] = handler
}

// Connect dials the server, registers the agent, and starts the read and
// heartbeat loops. It blocks until the initial registration succeeds or
// ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial a2a server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()

	registered, err := c.Request(ctx, protocol.TypeAgentRegister, protocol.RegisterPayload{
		AgentID:      c.cfg.AgentID,
		Capabilities: c.cfg.Capabilities,
	})
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	var payload protocol.RegisteredPayload
	if err := registered.Decode(&payload); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.mu.Lock()
	c.resumeToken = payload.ResumeToken
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.heartbeatLoop(time.Duration(payload.NextHeartbeatMs) * time.Millisecond)
	return nil
}

// Close stops the client's background loops and closes the connection.
func (c *Client) Close() error {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// writeEnvelope serializes concurrent writers, since a gorilla/websocket
// Conn supports only one writer at a time.
func (c *Client) writeEnvelope(env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New(errors.CodeConnectionClosed, "not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return errors.Wrap(errors.CodeConnectionClosed, "write failed", err)
	}
	return nil
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State reports the client's current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.onDisconnected()
			return
		}

		if env.CorrelationID != "" {
			c.pendingMu.Lock()
			p, ok := c.pending[env.CorrelationID]
			if ok {
				delete(c.pending, env.CorrelationID)
			}
			c.pendingMu.Unlock()
			if ok {
				p.ch <- env
				continue
			}
		}

		c.handlersMu.RLock()
		h, ok := c.handlers[env.Type]
		c.handlersMu.RUnlock()
		if ok {
			h(env)
		}
	}
}

func (c *Client) onDisconnected() {
	select {
	case <-c.stop:
		return
	default:
	}
	c.setState(StateReconnecting)
	go c.reconnectLoop()
}

// reconnectLoop retries Connect with exponential backoff capped at
// ReconnectMaxMs, per spec §4.4.
func (c *Client) reconnectLoop() {
	delay := time.Duration(c.cfg.ReconnectBaseMs) * time.Millisecond
	maxDelay := time.Duration(c.cfg.ReconnectMaxMs) * time.Millisecond
	for {
		select {
		case <-c.stop:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.cfg.RequestTimeoutMs)*time.Millisecond)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			return
		}
		log.Warn().Err(err).Msg("a2a_client_reconnect_failed")

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) heartbeatLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.cfg.RequestTimeoutMs)*time.Millisecond)
			_, err := c.Request(ctx, protocol.TypeAgentHeartbeat, struct{}{})
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("a2a_client_heartbeat_failed")
			}
		}
	}
}

// Request sends an envelope of msgType and blocks for its correlated reply
// or ctx's deadline/the client's RequestTimeoutMs, whichever is shorter.
func (c *Client) Request(ctx context.Context, msgType string, payload interface{}) (protocol.Envelope, error) {
	env, err := protocol.NewEnvelope(c.cfg.AgentID, msgType, payload)
	if err != nil {
		return protocol.Envelope{}, err
	}

	p := &pending{ch: make(chan protocol.Envelope, 1)}
	c.pendingMu.Lock()
	c.pending[env.ID] = p
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.writeEnvelope(env); err != nil {
		return protocol.Envelope{}, err
	}

	timeout := time.Duration(c.cfg.RequestTimeoutMs) * time.Millisecond
	select {
	case reply := <-p.ch:
		if reply.Type == protocol.TypeError {
			var ep protocol.ErrorPayload
			_ = reply.Decode(&ep)
			return reply, &errors.Error{Code: errors.Code(ep.Code), Message: ep.Message, Details: ep.Details, Recoverable: ep.Recoverable}
		}
		return reply, nil
	case <-time.After(timeout):
		return protocol.Envelope{}, errors.New(errors.CodeTimeout, "request timed out")
	case <-ctx.Done():
		return protocol.Envelope{}, errors.Wrap(errors.CodeTimeout, "request canceled", ctx.Err())
	}
}

// AcquireLock requests a lock on a resource and blocks for the grant/denial.
func (c *Client) AcquireLock(ctx context.Context, resourceKind, resourceID, mode string) (protocol.LockGrantedPayload, error) {
	reply, err := c.Request(ctx, protocol.TypeLockRequest, protocol.LockRequestPayload{
		ResourceKind: resourceKind,
		ResourceID:   resourceID,
		Mode:         mode,
	})
	if err != nil {
		return protocol.LockGrantedPayload{}, err
	}
	if reply.Type == protocol.TypeLockDenied {
		var denied protocol.LockDeniedPayload
		_ = reply.Decode(&denied)
		return protocol.LockGrantedPayload{}, errors.New(errors.CodeLockFailed, denied.Reason)
	}
	var granted protocol.LockGrantedPayload
	if err := reply.Decode(&granted); err != nil {
		return protocol.LockGrantedPayload{}, err
	}
	return granted, nil
}

// ReleaseLock releases a previously granted lock. This is fire-and-forget
// (no reply is awaited) since release failures are inert: the lock will
// still expire on its own.
func (c *Client) ReleaseLock(lockID string) error {
	env, err := protocol.NewEnvelope(c.cfg.AgentID, protocol.TypeLockRelease, protocol.LockReleasePayload{LockID: lockID})
	if err != nil {
		return err
	}
	return c.writeEnvelope(env)
}

// Subscribe joins channel, optionally resuming from a prior resume token.
func (c *Client) Subscribe(ctx context.Context, channel, resumeToken string) error {
	_, err := c.Request(ctx, protocol.TypeSubscribe, protocol.SubscribePayload{Channel: channel, ResumeToken: resumeToken})
	return err
}

// Unsubscribe leaves channel.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	_, err := c.Request(ctx, protocol.TypeUnsubscribe, protocol.SubscribePayload{Channel: channel})
	return err
}

// Notify publishes a memory event (memory.added/updated/deleted/recalled)
// without waiting for a reply.
func (c *Client) Notify(msgType string, payload protocol.MemoryEventPayload) error {
	env, err := protocol.NewEnvelope(c.cfg.AgentID, msgType, payload)
	if err != nil {
		return err
	}
	return c.writeEnvelope(env)
}

// ListAgents requests the server's current agent roster.
func (c *Client) ListAgents(ctx context.Context) ([]protocol.AgentSummary, error) {
	reply, err := c.Request(ctx, protocol.TypeAgentList, struct{}{})
	if err != nil {
		return nil, err
	}
	var resp protocol.AgentListResponsePayload
	if err := reply.Decode(&resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}
