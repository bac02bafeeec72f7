package store

import "context"

// LayerStore is the shared capability set every layer store implements.
// Design note: the source's polymorphic layer instances become a sum type
// over the four concrete stores dispatched by Layer tag (see TitanCore),
// rather than an inheritance hierarchy — this interface is that shared
// capability set, not a base class.
type LayerStore interface {
	Store(ctx context.Context, entry MemoryEntry) (MemoryEntry, error)
	Get(ctx context.Context, id string) (*MemoryEntry, error)
	Delete(ctx context.Context, id string) (bool, error)
	Query(ctx context.Context, text string, opts QueryOptions) (QueryResult, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// HashStats is returned by the Factual store's getHashStats introspection.
type HashStats struct {
	Buckets       int
	Entries       int
	CollisionRate float64
}
