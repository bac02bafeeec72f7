// Package coordinated wraps a titancore.Manager with A2A locking and event
// notification, per spec §4.4's "coordinated wrapper": writes acquire a
// scoped lock before mutating shared state and announce themselves to
// other agents afterward; reads never lock.
package coordinated

import (
	"context"
	"sync"
	"time"

	"titan/internal/a2a/client"
	"titan/internal/a2a/protocol"
	"titan/internal/store"
	"titan/internal/titancore"
)

// Options configures a single coordinated operation.
type Options struct {
	ProjectID   string
	RequireLock bool
	LockMode    string
	LockTimeout time.Duration
}

// cachedLock is a still-valid held lock reused across requests for the
// same resource, per spec §4.4 ("lock caching/reuse").
type cachedLock struct {
	lockID    string
	expiresAt time.Time
}

// Coordinated wraps a titancore.Manager so writes are serialized across
// agents via the A2A lock manager and broadcast as memory events.
type Coordinated struct {
	manager *titancore.Manager
	client  *client.Client

	mu    sync.Mutex
	cache map[string]cachedLock // resourceKind:resourceID -> lock
}

// New builds a Coordinated wrapper around manager, announcing/locking
// through a2aClient.
func New(manager *titancore.Manager, a2aClient *client.Client) *Coordinated {
	return &Coordinated{
		manager: manager,
		client:  a2aClient,
		cache:   make(map[string]cachedLock),
	}
}

func resourceKey(kind, id string) string { return kind + ":" + id }

// acquire returns a lock id for (kind,id), reusing a cached still-valid
// lock if one is held, else requesting a fresh one.
func (c *Coordinated) acquire(ctx context.Context, kind, id, mode string, timeout time.Duration) (string, error) {
	key := resourceKey(kind, id)

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok && time.Now().UTC().Before(cached.expiresAt) {
		c.mu.Unlock()
		return cached.lockID, nil
	}
	c.mu.Unlock()

	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	granted, err := c.client.AcquireLock(reqCtx, kind, id, mode)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cache[key] = cachedLock{lockID: granted.LockID, expiresAt: granted.ExpiresAt}
	c.mu.Unlock()
	return granted.LockID, nil
}

func (c *Coordinated) release(kind, id, lockID string) {
	c.mu.Lock()
	delete(c.cache, resourceKey(kind, id))
	c.mu.Unlock()
	_ = c.client.ReleaseLock(lockID)
}

// WithLock runs op while holding a lock scoped to (resourceKind,
// resourceID), releasing it on every exit path including a canceled
// context.
func (c *Coordinated) WithLock(ctx context.Context, resourceKind, resourceID, mode string, timeout time.Duration, op func(ctx context.Context) error) error {
	lockID, err := c.acquire(ctx, resourceKind, resourceID, mode, timeout)
	if err != nil {
		return err
	}
	defer c.release(resourceKind, resourceID, lockID)
	return op(ctx)
}

// Add stores content under metadata, locking the owning project if
// opts.RequireLock and opts.ProjectID are set, then announces memory.added.
func (c *Coordinated) Add(ctx context.Context, content string, metadata store.Metadata, opts Options) (store.MemoryEntry, error) {
	if !opts.RequireLock || opts.ProjectID == "" {
		entry, err := c.manager.Add(ctx, content, metadata)
		if err == nil {
			c.announce(protocol.TypeMemoryAdded, protocol.MemoryEventPayload{MemoryID: entry.ID, ProjectID: opts.ProjectID})
		}
		return entry, err
	}

	var entry store.MemoryEntry
	err := c.WithLock(ctx, "project", opts.ProjectID, lockModeOrDefault(opts.LockMode), opts.LockTimeout, func(ctx context.Context) error {
		var addErr error
		entry, addErr = c.manager.Add(ctx, content, metadata)
		return addErr
	})
	if err == nil {
		c.announce(protocol.TypeMemoryAdded, protocol.MemoryEventPayload{MemoryID: entry.ID, ProjectID: opts.ProjectID})
	}
	return entry, err
}

// Delete removes id, locking the memory resource first, then announces
// memory.deleted.
func (c *Coordinated) Delete(ctx context.Context, id, reason string, opts Options) (bool, error) {
	var removed bool
	err := c.WithLock(ctx, "memory", id, lockModeOrDefault(opts.LockMode), opts.LockTimeout, func(ctx context.Context) error {
		var delErr error
		removed, delErr = c.manager.Delete(ctx, id)
		return delErr
	})
	if err == nil && removed {
		c.announce(protocol.TypeMemoryDeleted, protocol.MemoryEventPayload{MemoryID: id, Reason: reason})
	}
	return removed, err
}

// Recall queries without locking, announcing memory.recalled with the
// observed query time.
func (c *Coordinated) Recall(ctx context.Context, query string, opts titancore.RecallOptions) (titancore.RecallResult, error) {
	result, err := c.manager.Recall(ctx, query, opts)
	if err == nil {
		c.announce(protocol.TypeMemoryRecalled, protocol.MemoryEventPayload{
			Query:       query,
			QueryTimeMs: result.TotalQueryTimeMs,
			ResultCount: len(result.FusedMemories),
		})
	}
	return result, err
}

// announce is best-effort: a failed notification never fails the
// underlying memory operation, since the write already committed locally.
func (c *Coordinated) announce(msgType string, payload protocol.MemoryEventPayload) {
	if c.client == nil {
		return
	}
	_ = c.client.Notify(msgType, payload)
}

func lockModeOrDefault(mode string) string {
	if mode == "" {
		return "exclusive"
	}
	return mode
}
