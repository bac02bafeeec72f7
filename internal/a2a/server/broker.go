package server

import (
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"titan/internal/a2a/protocol"
)

// retainedEvent is one broadcast event kept for resume replay.
type retainedEvent struct {
	seq     uint64
	channel string
	env     protocol.Envelope
}

// connection is one broker-managed websocket, matched 1:1 with an agent.
type connection struct {
	agentID       string
	conn          *websocket.Conn
	writeMu       sync.Mutex
	subscriptions map[string]bool
}

func (c *connection) send(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

// Broker is the A2A pub/sub hub: per-channel subscriptions, a monotonic
// event counter, and resume-token-bounded replay, modeled on a connection
// manager pattern (register/unregister/broadcast with a retained event
// ring for catchup) but speaking gorilla/websocket instead of a bare
// net/http hijacked socket.
type Broker struct {
	mu        sync.RWMutex
	conns     map[string]*connection // agentID -> connection
	retention time.Duration
	retainCap int
	nextSeq   uint64
	retained  []retainedEvent
}

// NewBroker builds a Broker retaining up to retainCap events for at most
// retention duration, for resume replay.
func NewBroker(retention time.Duration, retainCap int) *Broker {
	if retainCap <= 0 {
		retainCap = 1000
	}
	return &Broker{
		conns:     make(map[string]*connection),
		retention: retention,
		retainCap: retainCap,
	}
}

// Register attaches conn as agentID's live connection, replacing any prior
// connection for that agent.
func (b *Broker) Register(agentID string, conn *websocket.Conn) *connection {
	c := &connection{agentID: agentID, conn: conn, subscriptions: make(map[string]bool)}
	b.mu.Lock()
	b.conns[agentID] = c
	b.mu.Unlock()
	return c
}

// Unregister detaches agentID's connection.
func (b *Broker) Unregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, agentID)
}

// Subscribe adds channel to agentID's subscription set and replays retained
// events on that channel newer than the resume token, if one is supplied
// and still within the retention window. A token that does not parse as a
// broker sequence counter replays nothing.
func (b *Broker) Subscribe(agentID, channel, resumeToken string) {
	b.mu.Lock()
	c, ok := b.conns[agentID]
	if !ok {
		b.mu.Unlock()
		return
	}
	c.subscriptions[channel] = true

	var replay []retainedEvent
	if resumeToken != "" {
		if afterSeq, valid := decodeResumeToken(resumeToken); valid {
			for _, e := range b.retained {
				if e.channel == channel && e.seq > afterSeq {
					replay = append(replay, e)
				}
			}
		}
	}
	b.mu.Unlock()

	for _, e := range replay {
		_ = c.send(e.env)
	}
}

// SubscriberCount reports how many registered connections are currently
// subscribed to channel, for tests and admin reporting.
func (b *Broker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, c := range b.conns {
		if c.subscriptions[channel] {
			n++
		}
	}
	return n
}

// Unsubscribe removes channel from agentID's subscription set.
func (b *Broker) Unsubscribe(agentID, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.conns[agentID]; ok {
		delete(c.subscriptions, channel)
	}
}

// Publish broadcasts env on channel to every subscriber, retaining it for
// later resume replay. Sends run after the broker lock is released, one
// subscriber at a time; a failed send is ignored and delivery continues to
// the remaining subscribers.
func (b *Broker) Publish(channel string, env protocol.Envelope) {
	b.mu.Lock()
	b.nextSeq++
	seq := b.nextSeq
	b.retained = append(b.retained, retainedEvent{seq: seq, channel: channel, env: env})
	b.pruneRetainedLocked()

	var targets []*connection
	for _, c := range b.conns {
		if c.subscriptions[channel] {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		_ = c.send(env)
	}
}

func (b *Broker) pruneRetainedLocked() {
	if b.retention > 0 {
		cutoff := time.Now().UTC().Add(-b.retention)
		drop := 0
		for drop < len(b.retained) && b.retained[drop].env.Timestamp.Before(cutoff) {
			drop++
		}
		if drop > 0 {
			b.retained = b.retained[drop:]
		}
	}
	if len(b.retained) > b.retainCap {
		drop := len(b.retained) - b.retainCap
		b.retained = b.retained[drop:]
	}
}

// ResumeToken encodes the broker's current sequence counter as a decimal
// resume token, the format Subscribe accepts for replay. The token returned
// at registration is the Registry's per-agent token, not this one.
func (b *Broker) ResumeToken() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return encodeResumeToken(b.nextSeq)
}

func encodeResumeToken(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

func decodeResumeToken(token string) (uint64, bool) {
	seq, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
