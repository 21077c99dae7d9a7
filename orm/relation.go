package orm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/arbor/datastore"
)

// pendingParentProperty is the reserved marker a deferred event places
// on an owner record when a related object's key must retroactively
// become the owner's ancestor. The manager removes it and re-keys the
// record; it never reaches storage.
const pendingParentProperty = "__pending_parent__"

// Mutation is one entity write in progress: the record under
// construction, the object it belongs to, and the deferred relation
// events collected while its fields were traversed.
type Mutation struct {
	obj    Persistable
	entity *datastore.Entity
	insert bool

	// supersededKey holds the record's original key after a re-key
	// under a late-resolved parent; the caller removes the orphan.
	supersededKey *datastore.Key

	relations *RelationFieldManager
}

// Entity returns the record under construction.
func (m *Mutation) Entity() *datastore.Entity { return m.entity }

// Relations returns the mutation's relation field manager.
func (m *Mutation) Relations() *RelationFieldManager { return m.relations }

// rekeyUnderParent replaces the record's key with an equal key rooted
// under parent, preserving the identifying component. Only valid
// while the record has not been committed under its final key.
func (m *Mutation) rekeyUnderParent(parent *datastore.Key) {
	old := m.entity.Key
	m.supersededKey = old
	m.entity.Key = &datastore.Key{
		Kind:   old.Kind,
		ID:     old.ID,
		Name:   old.Name,
		Parent: parent,
	}
}

// storeRelationEvent is a deferred write action for one relationship
// field, applied after the owning record's key is finalized.
type storeRelationEvent struct {
	field  FieldMeta
	value  any
	insert bool
}

// RelationFieldManager intercepts relationship-valued fields during
// object-to-record translation, defers their storage until the owning
// record's key is final, and replays the deferred writes in FIFO
// order.
//
// If the related object can't exist without its parent it must be
// part of the parent's entity group, which requires the parent's key,
// which requires saving the parent first. Deferring the child write
// until after the parent's put is what makes that ordering possible.
type RelationFieldManager struct {
	session *Session
	mut     *Mutation
	events  []storeRelationEvent
}

func newRelationFieldManager(s *Session, mut *Mutation) *RelationFieldManager {
	return &RelationFieldManager{session: s, mut: mut}
}

// DeferRelationStore queues a deferred store-relation event for the
// field. No storage is touched; the event is applied by
// ApplyDeferredRelations once the owning record's key is known.
func (m *RelationFieldManager) DeferRelationStore(field FieldMeta, value any, isInsert bool) {
	m.events = append(m.events, storeRelationEvent{field: field, value: value, insert: isInsert})
}

// Pending returns the number of queued events.
func (m *RelationFieldManager) Pending() int { return len(m.events) }

// ApplyDeferredRelations applies all queued events in FIFO order and
// reports whether they changed the owner's ancestor-or-parent-linkage
// state in a way that requires the owner record to be written again.
//
// The owning record must already possess a final key. Events are
// cleared unconditionally: if application fails partway, the events
// already applied are not rolled back (the store offers no atomicity
// across entity groups), and the error surfaces to the caller.
func (m *RelationFieldManager) ApplyDeferredRelations(ctx context.Context, reg *KeyRegistry) (bool, error) {
	if len(m.events) == 0 {
		return false, nil
	}
	ownerKey := m.mut.entity.Key
	if ownerKey == nil || ownerKey.Incomplete() {
		return false, ErrOwnerKeyIncomplete
	}
	reg.RegisterKey(m.mut.obj, ownerKey)

	events := m.events
	m.events = nil
	for _, ev := range events {
		if err := m.applyEvent(ctx, reg, ev); err != nil {
			return false, err
		}
	}

	changed := reg.OwnerNeedsUpdate(ownerKey)
	reg.ClearModifiedOwner(ownerKey)
	return changed, nil
}

func (m *RelationFieldManager) applyEvent(ctx context.Context, reg *KeyRegistry, ev storeRelationEvent) error {
	switch ev.field.Mapping {
	case MappingEmbedded, MappingSerialized, MappingReference, MappingInterface:
		err := m.storeRelation(ctx, reg, ev)
		var nyf *NotYetFlushedError
		if errors.As(err, &nyf) {
			if ev.field.NullPolicy == NullException {
				return err
			}
			// Tolerated: write the property once the key is final.
			reg.AddPendingPatch(m.mut.obj, ev.field, nyf.Object)
			m.session.logger.Debug("deferred relation awaits unflushed key",
				"uow", m.session.id,
				"owner", m.mut.entity.Key,
				"field", ev.field.Name,
			)
			return nil
		}
		return err
	default:
		// Plain-mapped relation fields are auxiliary mappings layered
		// on top (e.g. collections); hand off to their callbacks.
		if ev.insert {
			return m.session.callbacks.postInsert(ctx, m.session, m.mut.obj, ev.field)
		}
		return m.session.callbacks.postUpdate(ctx, m.session, m.mut.obj, ev.field)
	}
}

// storeRelation writes one relation as either an ancestor link or a
// foreign-key property, per the field's classification.
func (m *RelationFieldManager) storeRelation(ctx context.Context, reg *KeyRegistry, ev storeRelationEvent) error {
	ownerKey := m.mut.entity.Key

	var err error
	switch ev.field.Class() {
	case FieldParentKey:
		err = m.storeParentKeyRelation(ctx, reg, ev)
	case FieldDerived:
		// Reconstructed on read; nothing to store.
	default:
		err = m.storeForeignKeyRelation(ctx, reg, ev)
	}
	if err != nil {
		return err
	}

	// A deferred event may have left the pending-parent marker on the
	// owner record: a related key needs to retroactively become this
	// record's ancestor. Remove the marker, re-key, and signal the
	// caller through the modified-owner flag.
	if pk, ok := m.mut.entity.Properties[pendingParentProperty]; ok {
		delete(m.mut.entity.Properties, pendingParentProperty)
		parentKey, ok := pk.(*datastore.Key)
		if !ok {
			return fmt.Errorf("arbor: pending parent marker holds %T, want *datastore.Key", pk)
		}
		m.mut.rekeyUnderParent(parentKey)
		reg.MarkOwnerModified(ownerKey)
		m.session.logger.Debug("re-keying owner under late-resolved parent",
			"uow", m.session.id,
			"old", ownerKey,
			"parent", parentKey,
		)
	}
	return nil
}

// storeParentKeyRelation handles a field whose value supplies the
// owner's ancestor key (the owner is the child of the related object).
func (m *RelationFieldManager) storeParentKeyRelation(ctx context.Context, reg *KeyRegistry, ev storeRelationEvent) error {
	ownerKey := m.mut.entity.Key
	if ev.value == nil {
		// A child may be persisted standalone; it then permanently
		// roots its own entity group.
		return nil
	}
	parent, ok := ev.value.(Persistable)
	if !ok {
		return fmt.Errorf("arbor: field %s: relation value %T is not Persistable", ev.field.Name, ev.value)
	}

	res := m.session.resolveKey(parent)
	if res.Pending {
		return &NotYetFlushedError{Object: parent}
	}
	parentKey := res.Key
	if parentKey == nil {
		// Transient parent: it roots the entity group, so it is
		// written first to obtain its key.
		k, err := m.session.persist(ctx, parent, nil)
		if err != nil {
			return err
		}
		parentKey = k
	}

	if ownerKey.Parent != nil {
		if !ownerKey.Parent.Equal(parentKey) {
			return &ChildWithWrongParentError{Parent: parentKey, Child: ownerKey}
		}
		return nil // linkage already established
	}
	if !ev.insert {
		// Committed without a parent; the ancestor path is fixed.
		return &ChildWithoutParentError{Parent: parentKey, Child: ownerKey}
	}
	// Insert whose parent resolved only now: mark the record so the
	// manager re-keys it under the parent.
	m.mut.entity.Properties[pendingParentProperty] = parentKey
	return nil
}

// storeForeignKeyRelation handles a field whose value is recorded as
// a key property on the owner. Relationships are owned: a transient
// related object is cascaded into the owner's entity group.
func (m *RelationFieldManager) storeForeignKeyRelation(ctx context.Context, reg *KeyRegistry, ev storeRelationEvent) error {
	ownerKey := m.mut.entity.Key
	if err := CheckForParentSwitch(ev.value, ownerKey, reg); err != nil {
		return err
	}
	if ev.value == nil {
		// Nothing to reference; the property is simply absent.
		return nil
	}
	related, ok := ev.value.(Persistable)
	if !ok {
		return fmt.Errorf("arbor: field %s: relation value %T is not Persistable", ev.field.Name, ev.value)
	}

	res := m.session.resolveKey(related)
	if res.Pending {
		return &NotYetFlushedError{Object: related}
	}
	relatedKey := res.Key
	if relatedKey == nil {
		// Transient related object: cascade it into the owner's
		// entity group, under the owner's now-final key.
		k, err := m.session.persist(ctx, related, ownerKey)
		if err != nil {
			return err
		}
		relatedKey = k
	}

	m.mut.entity.Properties[ev.field.Name] = relatedKey
	reg.MarkOwnerModified(ownerKey)
	return nil
}
