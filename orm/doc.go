// Package orm adapts object-graph operations onto the hierarchical
// datastore: it translates persist, fetch, update, and delete calls on
// mapped objects into entities, keys, and ancestor paths, and manages
// the store's consistency model, in which only records sharing a root
// ancestor (an entity group) can be written atomically.
//
// The interesting machinery is relation persistence. A relationship
// field whose value must live in the owner's entity group cannot be
// written until the owner's generated key exists, so relation writes
// are deferred: each one is queued as an event while the owner's
// fields are traversed, and the queue is replayed once the owner's
// key is final. Replaying can itself change the owner (it may gain a
// related key property, or be re-keyed under a late-resolved parent),
// in which case the owner is written exactly once more. No atomic
// multi-record write spans entity groups, so this multi-phase
// sequence is explicitly non-atomic.
//
// Ancestor paths are immutable once a record is committed.
// CheckForParentSwitch is the single enforcement point: persisting an
// object whose in-memory parent reference conflicts with its stored
// ancestor path fails with ChildWithoutParentError or
// ChildWithWrongParentError rather than silently corrupting the
// entity group.
//
// # Sessions
//
// A Session is one unit of work on one goroutine. It owns the key
// registry that tracks in-flight objects, generated keys, owners that
// need follow-up writes, and properties waiting to be patched once an
// unflushed key becomes final.
//
//	session := orm.NewSession(store, metaRegistry, nil)
//	key, err := session.Persist(ctx, obj)
//
// # Metadata
//
// Mapped classes register a ClassMeta describing each field's
// MappingKind, RelationType, and null policy; the structural
// classification (parent-key-provider, foreign-key, derived) is
// derived from that once and dispatched as data.
package orm
