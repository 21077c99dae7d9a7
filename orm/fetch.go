package orm

import (
	"context"
	"fmt"
	"strings"
)

// FetchRelation resolves a relationship field of a persisted object
// and returns the related object, or nil when none exists.
//
// The child side of an owned relation resolves through a direct key
// lookup on the record's ancestor. The parent side of a one-to-one
// resolves through an ancestor-scoped query for the child's kind;
// creating parent and child involves separate writes to separate
// records, so there is no key property the parent could be trusted to
// hold at read time. Derived collection sides are resolved by the
// external query machinery, not here.
func (s *Session) FetchRelation(ctx context.Context, obj Persistable, fieldName string) (any, error) {
	meta := obj.Meta()
	if meta == nil {
		return nil, fmt.Errorf("arbor: fetch relation: object %T has no class metadata", obj)
	}
	field, ok := meta.Field(fieldName)
	if !ok {
		return nil, fmt.Errorf("arbor: fetch relation: kind %s has no field %s", meta.Kind, fieldName)
	}
	if obj.Key() == nil {
		return nil, ErrNotPersisted
	}

	switch field.Mapping {
	case MappingEmbedded, MappingSerialized:
		// Stored inline; the generic field-read path applies.
		return s.fetchInline(ctx, obj, field)
	}

	switch {
	case field.ParentKeyProvider:
		return s.lookupParent(ctx, obj, field)
	case field.Relation == RelationOneToOne || field.Relation == RelationOneToOneBidir:
		return s.lookupOneToOneChild(ctx, obj, field)
	default:
		// Derived collections and the like: out of scope here.
		return nil, nil
	}
}

// lookupParent reads the owner record's ancestor key and fetches the
// parent directly. An owner with no ancestor at all means the object
// graph violates the field's contract.
func (s *Session) lookupParent(ctx context.Context, obj Persistable, field FieldMeta) (any, error) {
	parentKey := obj.Key().Parent
	if parentKey == nil {
		return nil, &MissingAncestorError{
			Field:      field.Name,
			ChildKind:  obj.Meta().Kind,
			ParentKind: field.TargetKind,
		}
	}
	entity, err := s.ds.Get(ctx, parentKey)
	if err != nil {
		return nil, fmt.Errorf("arbor: fetch parent via %s: %w", field.Name, err)
	}
	return s.hydrate(entity)
}

// lookupOneToOneChild issues an ancestor-scoped query for the child's
// kind under the owner's key and returns the first result that is a
// DIRECT child. The store cannot filter ancestors by depth, so an
// indirect descendant (a/b/c) could come back before a direct child
// (a/c); comparing immediate parents guards against that.
//
// The first direct match wins: detecting multiple direct children
// would require reading the result set to its end, so that data
// anomaly is deliberately left undetected.
func (s *Session) lookupOneToOneChild(ctx context.Context, obj Persistable, field FieldMeta) (any, error) {
	ownerKey := obj.Key()
	entities, err := s.ds.Query(ctx, field.TargetKind, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("arbor: fetch child via %s: %w", field.Name, err)
	}
	for _, e := range entities {
		if e.Key.Parent.Equal(ownerKey) {
			return s.hydrate(e)
		}
	}
	return nil, nil
}

// fetchInline reads an embedded or serialized field from the stored
// record: embedded sub-properties are gathered back out of their
// prefix-flattened form, serialized fields return the stored blob.
func (s *Session) fetchInline(ctx context.Context, obj Persistable, field FieldMeta) (any, error) {
	entity, err := s.ds.Get(ctx, obj.Key())
	if err != nil {
		return nil, fmt.Errorf("arbor: fetch inline %s: %w", field.Name, err)
	}
	if field.Mapping == MappingSerialized {
		if blob, ok := entity.Properties[field.Name].([]byte); ok {
			return blob, nil
		}
		return nil, nil
	}
	prefix := field.Name + "."
	sub := make(map[string]any)
	for name, v := range entity.Properties {
		if strings.HasPrefix(name, prefix) {
			sub[strings.TrimPrefix(name, prefix)] = v
		}
	}
	if len(sub) == 0 {
		return nil, nil
	}
	return sub, nil
}
