package orm

import (
	"fmt"

	"github.com/jacentio/arbor/datastore"
)

// MappingKind says how a field's value is represented in storage. It
// is decided once at metadata-binding time and dispatched with a
// single switch wherever behavior differs.
type MappingKind int

const (
	// MappingPlain stores the value as an ordinary property. Relation
	// fields with a plain mapping are auxiliary mappings (e.g.
	// collections) handled through registered mapping callbacks.
	MappingPlain MappingKind = iota

	// MappingEmbedded inlines the value's own properties into the
	// owning record under a "field." prefix.
	MappingEmbedded

	// MappingSerialized stores the value as an opaque byte blob
	// produced by the surrounding mapping layer.
	MappingSerialized

	// MappingReference relates the field to another persistent
	// object, expressed as an ancestor link or a key property.
	MappingReference

	// MappingInterface is a reference whose declared type is an
	// interface; storage behavior matches MappingReference.
	MappingInterface
)

// RelationType is the shape of a relationship field.
type RelationType int

const (
	RelationNone RelationType = iota
	RelationOneToOne      // unidirectional
	RelationOneToOneBidir // bidirectional
	RelationManyToOneBidir
	RelationOneToManyBidir
)

// NullPolicy says how an unresolvable related key is treated during a
// deferred relation store.
type NullPolicy int

const (
	// NullAllowed tolerates an unflushed related key; the owner is
	// patched once the key becomes final.
	NullAllowed NullPolicy = iota

	// NullException surfaces the unflushed dependency to the caller.
	NullException
)

// FieldClass is the structural classification of a relationship
// field, derived from its metadata.
type FieldClass int

const (
	// FieldScalar is not a relation.
	FieldScalar FieldClass = iota

	// FieldParentKey means the field's value supplies the owning
	// record's ancestor key (the child side of an owned relation).
	FieldParentKey

	// FieldForeignKey means the field's value is stored as a key
	// property on the owner. Only owned relationships are supported:
	// the related record still joins the owner's entity group.
	FieldForeignKey

	// FieldDerived is not stored directly; it is reconstructed on
	// read by lookup or query (e.g. a bidirectional collection side).
	FieldDerived
)

// FieldMeta describes one mapped field of a persistent class.
type FieldMeta struct {
	Name              string
	Mapping           MappingKind
	Relation          RelationType
	ParentKeyProvider bool
	NullPolicy        NullPolicy

	// TargetKind is the related class's kind for relation fields.
	TargetKind string
}

// Class derives the structural classification of the field.
func (f FieldMeta) Class() FieldClass {
	switch {
	case f.ParentKeyProvider:
		return FieldParentKey
	case f.Relation == RelationNone:
		return FieldScalar
	case f.Relation == RelationOneToManyBidir:
		return FieldDerived
	default:
		return FieldForeignKey
	}
}

// IsRelation reports whether the field participates in relation
// management rather than the plain scalar write path.
func (f FieldMeta) IsRelation() bool {
	return f.Relation != RelationNone ||
		f.Mapping == MappingReference || f.Mapping == MappingInterface
}

// ClassMeta describes a persistent class: its kind and mapped fields.
type ClassMeta struct {
	Kind    string
	Fields  []FieldMeta
	Factory func() Persistable
}

// Field returns the metadata for a named field.
func (c *ClassMeta) Field(name string) (FieldMeta, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldMeta{}, false
}

// Persistable is the protocol a mapped object exposes to the
// persistence layer. Properties carries the scalar field values;
// Relation carries related objects by field name.
type Persistable interface {
	Meta() *ClassMeta

	// Key returns the object's datastore key, nil while transient.
	Key() *datastore.Key
	SetKey(*datastore.Key)

	Properties() map[string]any
	SetProperties(map[string]any)

	Relation(field string) any
	SetRelation(field string, value any)
}

// MetaRegistry maps kinds to class metadata. Register every persistent
// class before opening sessions.
type MetaRegistry struct {
	byKind map[string]*ClassMeta
}

// NewMetaRegistry creates a new empty MetaRegistry.
func NewMetaRegistry() *MetaRegistry {
	return &MetaRegistry{byKind: make(map[string]*ClassMeta)}
}

// Register adds a class to the registry.
func (r *MetaRegistry) Register(meta *ClassMeta) error {
	if meta.Kind == "" {
		return fmt.Errorf("arbor: register class: empty kind")
	}
	if meta.Factory == nil {
		return fmt.Errorf("arbor: register class %s: nil factory", meta.Kind)
	}
	if _, exists := r.byKind[meta.Kind]; exists {
		return fmt.Errorf("arbor: register class %s: already registered", meta.Kind)
	}
	for _, f := range meta.Fields {
		if f.IsRelation() && f.Class() != FieldDerived && f.TargetKind == "" {
			return fmt.Errorf("arbor: register class %s: relation field %s has no target kind", meta.Kind, f.Name)
		}
	}
	r.byKind[meta.Kind] = meta
	return nil
}

// Lookup returns the metadata registered for a kind.
func (r *MetaRegistry) Lookup(kind string) (*ClassMeta, bool) {
	m, ok := r.byKind[kind]
	return m, ok
}
