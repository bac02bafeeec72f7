package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"titan/internal/a2a/errors"
)

// ResourceKind is a lock resource's kind, ordered global > project > layer >
// memory per spec §4.4.
type ResourceKind int

const (
	ResourceGlobal ResourceKind = iota
	ResourceProject
	ResourceLayer
	ResourceMemory
)

// LockMode is a lock's acquisition mode.
type LockMode string

const (
	ModeExclusive LockMode = "exclusive"
	ModeShared    LockMode = "shared"
)

// Resource identifies a lockable resource.
type Resource struct {
	Kind ResourceKind
	ID   string
}

// Lock is a granted lock on a resource.
type Lock struct {
	ID        string
	Resource  Resource
	Mode      LockMode
	AgentID   string
	GrantedAt time.Time
	ExpiresAt time.Time
}

type waiter struct {
	agentID string
	mode    LockMode
	notify  chan *Lock
}

type resourceState struct {
	holders map[string]*Lock // lockID -> Lock; multiple shared holders, or exactly one exclusive
	waiters []*waiter
}

// LockManager implements spec §4.4's lock manager: FIFO-queued exclusive/
// shared acquisition, per-resource expiry, per-agent and per-resource caps,
// and re-entrancy. A single coarse mutex guards the whole table, per spec
// §5's concurrency model.
type LockManager struct {
	mu               sync.Mutex
	resources        map[Resource]*resourceState
	byLockID         map[string]Resource
	expiry           time.Duration
	maxLocksPerAgent int
	maxWaitQueueSize int
}

// NewLockManager builds a LockManager with the given defaults (spec §6.2
// A2AConfig: lockExpiryMs, maxLocksPerAgent, maxWaitQueueSize).
func NewLockManager(expiry time.Duration, maxLocksPerAgent, maxWaitQueueSize int) *LockManager {
	return &LockManager{
		resources:        make(map[Resource]*resourceState),
		byLockID:         make(map[string]Resource),
		expiry:           expiry,
		maxLocksPerAgent: maxLocksPerAgent,
		maxWaitQueueSize: maxWaitQueueSize,
	}
}

// ReleaseByID releases a lock identified only by its id, looking up the
// resource it was granted on. Reports whether a lock was found.
func (lm *LockManager) ReleaseByID(lockID string) bool {
	lm.mu.Lock()
	res, ok := lm.byLockID[lockID]
	lm.mu.Unlock()
	if !ok {
		return false
	}
	lm.Release(res, lockID)
	return true
}

func (lm *LockManager) stateFor(res Resource) *resourceState {
	rs, ok := lm.resources[res]
	if !ok {
		rs = &resourceState{holders: make(map[string]*Lock)}
		lm.resources[res] = rs
	}
	return rs
}

func compatible(existing LockMode, requested LockMode) bool {
	return existing == ModeShared && requested == ModeShared
}

func (lm *LockManager) agentLockCount(agentID string) int {
	count := 0
	for _, rs := range lm.resources {
		for _, l := range rs.holders {
			if l.AgentID == agentID {
				count++
			}
		}
	}
	return count
}

// reentrantLocked returns an existing lock agentID already holds on res in a
// compatible mode, if any.
func (lm *LockManager) reentrantLocked(rs *resourceState, agentID string, mode LockMode) *Lock {
	for _, l := range rs.holders {
		if l.AgentID == agentID && (l.Mode == mode || compatible(l.Mode, mode) || compatible(mode, l.Mode)) {
			return l
		}
	}
	return nil
}

// Acquire attempts to grant res in mode to agentID. If the resource is
// busy, the request is queued FIFO and Acquire blocks until granted, denied
// (queue full / timeout), or ctx-equivalent timeout elapses.
func (lm *LockManager) Acquire(agentID string, res Resource, mode LockMode, timeout time.Duration) (*Lock, *errors.Error) {
	lm.sweepExpired(res)

	lm.mu.Lock()
	rs := lm.stateFor(res)

	if existing := lm.reentrantLocked(rs, agentID, mode); existing != nil {
		lm.mu.Unlock()
		return existing, nil
	}

	if lm.maxLocksPerAgent > 0 && lm.agentLockCount(agentID) >= lm.maxLocksPerAgent {
		lm.mu.Unlock()
		return nil, errors.New(errors.CodeLockFailed, "agent has reached maxLocksPerAgent")
	}

	if grantable(rs, mode) {
		lock := lm.grantLocked(rs, agentID, res, mode)
		lm.mu.Unlock()
		return lock, nil
	}

	if lm.maxWaitQueueSize > 0 && len(rs.waiters) >= lm.maxWaitQueueSize {
		lm.mu.Unlock()
		return nil, errors.New(errors.CodeRateLimited, "maxWaitQueueSize exceeded for resource")
	}

	w := &waiter{agentID: agentID, mode: mode, notify: make(chan *Lock, 1)}
	rs.waiters = append(rs.waiters, w)
	lm.mu.Unlock()

	select {
	case lock := <-w.notify:
		if lock == nil {
			return nil, errors.New(errors.CodeLockFailed, "lock wait queue entry removed")
		}
		return lock, nil
	case <-time.After(timeout):
		lm.removeWaiter(res, w)
		return nil, errors.New(errors.CodeLockFailed, "lock acquire timed out")
	}
}

func grantable(rs *resourceState, mode LockMode) bool {
	if len(rs.holders) == 0 {
		return true
	}
	if mode != ModeShared {
		return false
	}
	for _, l := range rs.holders {
		if l.Mode != ModeShared {
			return false
		}
	}
	return true
}

func (lm *LockManager) grantLocked(rs *resourceState, agentID string, res Resource, mode LockMode) *Lock {
	now := time.Now().UTC()
	lock := &Lock{
		ID:        uuid.New().String(),
		Resource:  res,
		Mode:      mode,
		AgentID:   agentID,
		GrantedAt: now,
		ExpiresAt: now.Add(lm.expiry),
	}
	rs.holders[lock.ID] = lock
	lm.byLockID[lock.ID] = res
	return lock
}

// Release releases lockID, then grants it to the first compatible waiter.
func (lm *LockManager) Release(res Resource, lockID string) {
	lm.mu.Lock()
	rs, ok := lm.resources[res]
	if !ok {
		lm.mu.Unlock()
		return
	}
	delete(rs.holders, lockID)
	delete(lm.byLockID, lockID)
	lm.mu.Unlock()
	lm.promoteWaiters(res)
}

// promoteWaiters grants queued waiters compatible with the resource's
// current holder set, in FIFO order, stopping at the first waiter that
// cannot yet be granted.
func (lm *LockManager) promoteWaiters(res Resource) {
	for {
		lm.mu.Lock()
		rs, ok := lm.resources[res]
		if !ok || len(rs.waiters) == 0 {
			lm.mu.Unlock()
			return
		}
		next := rs.waiters[0]
		if !grantable(rs, next.mode) {
			lm.mu.Unlock()
			return
		}
		rs.waiters = rs.waiters[1:]
		lock := lm.grantLocked(rs, next.agentID, res, next.mode)
		lm.mu.Unlock()
		next.notify <- lock
		if next.mode != ModeShared {
			return
		}
		// Shared grant: keep promoting further shared waiters.
	}
}

func (lm *LockManager) removeWaiter(res Resource, w *waiter) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	rs, ok := lm.resources[res]
	if !ok {
		return
	}
	for i, cand := range rs.waiters {
		if cand == w {
			rs.waiters = append(rs.waiters[:i], rs.waiters[i+1:]...)
			return
		}
	}
}

// sweepExpired removes expired holders from res and promotes waiters.
// Safe to call before every access, per spec §4.4 ("expiry is swept on
// every access and on a periodic tick").
func (lm *LockManager) sweepExpired(res Resource) {
	lm.mu.Lock()
	rs, ok := lm.resources[res]
	if !ok {
		lm.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	expired := false
	for id, l := range rs.holders {
		if now.After(l.ExpiresAt) {
			delete(rs.holders, id)
			delete(lm.byLockID, id)
			expired = true
		}
	}
	lm.mu.Unlock()
	if expired {
		lm.promoteWaiters(res)
	}
}

// SweepAll runs the periodic expiry sweep across every tracked resource.
func (lm *LockManager) SweepAll() {
	lm.mu.Lock()
	resources := make([]Resource, 0, len(lm.resources))
	for res := range lm.resources {
		resources = append(resources, res)
	}
	lm.mu.Unlock()
	for _, res := range resources {
		lm.sweepExpired(res)
	}
}

// ReleaseAll releases every lock held by agentID and drops its wait-queue
// entries, per spec §4.4 ("on agent disconnect, all of its locks are
// released and all of its waiting entries removed").
func (lm *LockManager) ReleaseAll(agentID string) {
	lm.mu.Lock()
	type toRelease struct {
		res Resource
		id  string
	}
	var releases []toRelease
	for res, rs := range lm.resources {
		for id, l := range rs.holders {
			if l.AgentID == agentID {
				releases = append(releases, toRelease{res, id})
			}
		}
		var kept []*waiter
		for _, w := range rs.waiters {
			if w.agentID == agentID {
				w.notify <- nil
				continue
			}
			kept = append(kept, w)
		}
		rs.waiters = kept
	}
	lm.mu.Unlock()

	for _, r := range releases {
		lm.Release(r.res, r.id)
	}
}
