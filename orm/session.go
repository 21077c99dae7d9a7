package orm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jacentio/arbor/datastore"
)

// KeyResolution is the outcome of resolving a related object's key:
// either a final key, Pending while the object is mid-flush without
// one, or neither for a transient object.
type KeyResolution struct {
	Key     *datastore.Key
	Pending bool
}

// Session is one unit of work: a single logical persist/fetch call
// tree executing on one goroutine. The key registry and deferred
// event queues are scoped to the session and never shared, so no
// locking happens here; concurrent sessions touching overlapping
// entity groups are isolated only by the store's per-entity-group
// guarantees.
type Session struct {
	ds        datastore.Service
	meta      *MetaRegistry
	callbacks *CallbackRegistry
	reg       *KeyRegistry
	logger    *slog.Logger
	id        string
}

// NewSession creates a session over the given store and metadata.
// A nil logger falls back to slog.Default().
func NewSession(ds datastore.Service, meta *MetaRegistry, logger *slog.Logger) *Session {
	return NewSessionWithCallbacks(ds, meta, NewCallbackRegistry(), logger)
}

// NewSessionWithCallbacks creates a session with a mapping-callback
// registry for auxiliary mappings layered on relation fields.
func NewSessionWithCallbacks(ds datastore.Service, meta *MetaRegistry, cb *CallbackRegistry, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cb == nil {
		cb = NewCallbackRegistry()
	}
	return &Session{
		ds:        ds,
		meta:      meta,
		callbacks: cb,
		reg:       NewKeyRegistry(),
		logger:    logger,
		id:        uuid.NewString(),
	}
}

// Registry returns the session's key registry.
func (s *Session) Registry() *KeyRegistry { return s.reg }

// Callbacks returns the session's mapping-callback registry.
func (s *Session) Callbacks() *CallbackRegistry { return s.callbacks }

// Persist writes the object and its reachable owned relations.
// Objects without a key are inserted (the key is generated); objects
// with a key are updated under it. The returned key is final.
//
// A failure while deferred relations are being applied aborts the
// remaining events; events already applied are not rolled back, since
// the store has no atomicity across entity groups.
func (s *Session) Persist(ctx context.Context, obj Persistable) (*datastore.Key, error) {
	return s.persist(ctx, obj, nil)
}

// persist writes one object, cascading to related objects as their
// deferred events are applied. parent, when non-nil, is the ancestor
// for a cascaded owned insert.
func (s *Session) persist(ctx context.Context, obj Persistable, parent *datastore.Key) (*datastore.Key, error) {
	meta := obj.Meta()
	if meta == nil {
		return nil, fmt.Errorf("arbor: persist: object %T has no class metadata", obj)
	}
	insert := obj.Key() == nil

	s.reg.BeginFlush(obj, insert)
	defer s.reg.EndFlush(obj)

	mut := s.buildMutation(obj, meta, parent, insert)

	// Phase one: write the record so it receives its final key.
	key, err := s.ds.Put(ctx, mut.entity)
	if err != nil {
		return nil, fmt.Errorf("arbor: persist %s: %w", meta.Kind, err)
	}
	mut.entity.Key = key
	obj.SetKey(key)
	s.reg.RegisterKey(obj, key)
	s.logger.Debug("wrote record",
		"uow", s.id, "key", key, "insert", insert)

	// Phase two: replay the deferred relation events.
	changed, err := mut.relations.ApplyDeferredRelations(ctx, s.reg)
	if err != nil {
		return nil, err
	}

	// Phase three: a linkage change means the owner must be written
	// exactly once more, either re-keyed under a late parent or bearing
	// a related key property it could not have held before phase two.
	if changed {
		key, err = s.ds.Put(ctx, mut.entity)
		if err != nil {
			return nil, fmt.Errorf("arbor: rewrite %s: %w", meta.Kind, err)
		}
		mut.entity.Key = key
		obj.SetKey(key)
		s.reg.RegisterKey(obj, key)
		if mut.supersededKey != nil {
			if err := s.ds.Delete(ctx, mut.supersededKey); err != nil {
				return nil, fmt.Errorf("arbor: remove superseded record %s: %w", mut.supersededKey, err)
			}
		}
		s.logger.Debug("rewrote record after relation change",
			"uow", s.id, "key", key, "superseded", mut.supersededKey)
	}

	s.reg.ClearProvisional(obj)
	if err := s.applyPendingPatches(ctx, obj); err != nil {
		return nil, err
	}
	return obj.Key(), nil
}

// buildMutation translates the object into a record under
// construction, queueing deferred events for relationship fields.
func (s *Session) buildMutation(obj Persistable, meta *ClassMeta, parent *datastore.Key, insert bool) *Mutation {
	var key *datastore.Key
	if insert {
		if parent == nil {
			parent = s.resolvableParent(obj, meta)
		}
		key = datastore.IncompleteKey(meta.Kind, parent)
	} else {
		key = obj.Key()
	}

	mut := &Mutation{
		obj:    obj,
		entity: datastore.NewEntity(key),
		insert: insert,
	}
	mut.relations = newRelationFieldManager(s, mut)

	if insert && parent == nil && hasParentKeyProvider(meta) {
		// The ancestor may yet arrive from a deferred event; the key
		// written in phase one is not necessarily final.
		s.reg.MarkProvisional(obj)
	}

	props := obj.Properties()
	for _, f := range meta.Fields {
		if f.IsRelation() {
			mut.relations.DeferRelationStore(f, obj.Relation(f.Name), insert)
			continue
		}
		switch f.Mapping {
		case MappingEmbedded:
			if sub, ok := props[f.Name].(map[string]any); ok {
				for name, v := range sub {
					mut.entity.Properties[f.Name+"."+name] = v
				}
			}
		case MappingSerialized:
			if blob, ok := props[f.Name].([]byte); ok {
				mut.entity.Properties[f.Name] = blob
			}
		default:
			if v, ok := props[f.Name]; ok {
				mut.entity.Properties[f.Name] = v
			}
		}
	}
	return mut
}

// resolvableParent returns the key of the object's declared parent if
// one is already resolvable, so an insert can carry its ancestor from
// the start and skip the re-key dance.
func (s *Session) resolvableParent(obj Persistable, meta *ClassMeta) *datastore.Key {
	for _, f := range meta.Fields {
		if !f.ParentKeyProvider {
			continue
		}
		rel, ok := obj.Relation(f.Name).(Persistable)
		if !ok {
			continue
		}
		if res := s.resolveKey(rel); res.Key != nil {
			return res.Key
		}
	}
	return nil
}

func hasParentKeyProvider(meta *ClassMeta) bool {
	for _, f := range meta.Fields {
		if f.ParentKeyProvider {
			return true
		}
	}
	return false
}

// resolveKey resolves an object's key without touching storage:
// Ready when the object carries or registered a final key, Pending
// while the object is mid-flush (or its key is still provisional),
// neither for a transient object.
func (s *Session) resolveKey(obj Persistable) KeyResolution {
	if s.reg.Provisional(obj) {
		return KeyResolution{Pending: true}
	}
	if k := obj.Key(); k != nil && !k.Incomplete() {
		return KeyResolution{Key: k}
	}
	if k, ok := s.reg.KeyFor(obj); ok {
		return KeyResolution{Key: k}
	}
	if s.reg.InFlight(obj) {
		return KeyResolution{Pending: true}
	}
	return KeyResolution{}
}

// applyPendingPatches replays the follow-up property writes that were
// waiting for obj's key to become final.
func (s *Session) applyPendingPatches(ctx context.Context, obj Persistable) error {
	patches := s.reg.TakePatchesFor(obj)
	for _, p := range patches {
		if p.field.Class() == FieldParentKey {
			if err := s.patchAncestor(ctx, p, obj); err != nil {
				return err
			}
			continue
		}
		ownerKey := p.owner.Key()
		if ownerKey == nil {
			return fmt.Errorf("arbor: patch %s.%s: %w", p.owner.Meta().Kind, p.field.Name, ErrNotPersisted)
		}
		entity, err := s.ds.Get(ctx, ownerKey)
		if err != nil {
			return fmt.Errorf("arbor: patch %s.%s: %w", p.owner.Meta().Kind, p.field.Name, err)
		}
		entity.Properties[p.field.Name] = obj.Key()
		if _, err := s.ds.Put(ctx, entity); err != nil {
			return fmt.Errorf("arbor: patch %s.%s: %w", p.owner.Meta().Kind, p.field.Name, err)
		}
		s.logger.Debug("patched owner with late key",
			"uow", s.id, "owner", ownerKey, "field", p.field.Name, "related", obj.Key())
	}
	return nil
}

// patchAncestor resolves a deferred parent-key relation after the
// parent's key became final: the owner record, written provisionally
// without an ancestor, is re-keyed under the parent.
func (s *Session) patchAncestor(ctx context.Context, p pendingPatch, parent Persistable) error {
	ownerKey := p.owner.Key()
	if ownerKey == nil {
		return fmt.Errorf("arbor: patch ancestor of %s: %w", p.owner.Meta().Kind, ErrNotPersisted)
	}
	parentKey := parent.Key()
	if ownerKey.Parent != nil {
		if !ownerKey.Parent.Equal(parentKey) {
			return &ChildWithWrongParentError{Parent: parentKey, Child: ownerKey}
		}
		return nil
	}
	if !s.reg.CreatedInUnit(p.owner) {
		return &ChildWithoutParentError{Parent: parentKey, Child: ownerKey}
	}

	entity, err := s.ds.Get(ctx, ownerKey)
	if err != nil {
		return fmt.Errorf("arbor: patch ancestor of %s: %w", p.owner.Meta().Kind, err)
	}
	entity.Key = &datastore.Key{
		Kind:   ownerKey.Kind,
		ID:     ownerKey.ID,
		Name:   ownerKey.Name,
		Parent: parentKey,
	}
	newKey, err := s.ds.Put(ctx, entity)
	if err != nil {
		return fmt.Errorf("arbor: patch ancestor of %s: %w", p.owner.Meta().Kind, err)
	}
	if err := s.ds.Delete(ctx, ownerKey); err != nil {
		return fmt.Errorf("arbor: patch ancestor of %s: %w", p.owner.Meta().Kind, err)
	}
	p.owner.SetKey(newKey)
	s.reg.RegisterKey(p.owner, newKey)
	s.logger.Debug("re-keyed owner under patched parent",
		"uow", s.id, "old", ownerKey, "key", newKey)
	return nil
}

// Get fetches and hydrates the object stored under key.
func (s *Session) Get(ctx context.Context, key *datastore.Key) (Persistable, error) {
	entity, err := s.ds.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.hydrate(entity)
}

// Delete removes the object's record. The object must be persisted.
func (s *Session) Delete(ctx context.Context, obj Persistable) error {
	key := obj.Key()
	if key == nil {
		return ErrNotPersisted
	}
	return s.ds.Delete(ctx, key)
}

// hydrate reconstructs an object from its stored record using the
// factory registered for the record's kind.
func (s *Session) hydrate(entity *datastore.Entity) (Persistable, error) {
	meta, ok := s.meta.Lookup(entity.Key.Kind)
	if !ok {
		return nil, fmt.Errorf("arbor: hydrate: no class registered for kind %s", entity.Key.Kind)
	}
	obj := meta.Factory()
	obj.SetKey(entity.Key)
	props := make(map[string]any, len(entity.Properties))
	for name, v := range entity.Properties {
		if name == pendingParentProperty {
			continue
		}
		props[name] = v
	}
	obj.SetProperties(props)
	return obj, nil
}
