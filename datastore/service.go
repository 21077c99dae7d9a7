package datastore

import "context"

// Service is the store protocol implemented by every backend. All
// operations are synchronous blocking calls; callers serialize access
// per unit of work, and concurrent units of work are isolated only by
// the backend's per-entity-group guarantees.
type Service interface {
	// Put writes the entity. If the entity's key is incomplete, Put
	// allocates a numeric ID and returns the completed key; a complete
	// key is returned unchanged. Put never mutates a committed
	// entity's parent chain: the key passed in determines the record
	// written, and writing under a different key is a new record.
	Put(ctx context.Context, e *Entity) (*Key, error)

	// Get fetches the entity stored under the key, or ErrNotFound.
	Get(ctx context.Context, key *Key) (*Entity, error)

	// Delete removes the entity stored under the key. Deleting a
	// missing entity is not an error.
	Delete(ctx context.Context, key *Key) error

	// Query returns all entities of the given kind whose key chain
	// contains ancestor, in encoded-key order. Both direct and
	// transitive descendants are returned; callers needing only
	// direct children must filter by immediate parent. A nil ancestor
	// scans the entire kind.
	Query(ctx context.Context, kind string, ancestor *Key) ([]*Entity, error)
}
