package orm_test

import (
	"context"
	"testing"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/datastore/memds"
	"github.com/jacentio/arbor/orm"
)

// testObject is a minimal Persistable backed by maps, standing in for
// a mapped domain object.
type testObject struct {
	meta  *orm.ClassMeta
	key   *datastore.Key
	props map[string]any
	rels  map[string]any
}

func (o *testObject) Meta() *orm.ClassMeta          { return o.meta }
func (o *testObject) Key() *datastore.Key           { return o.key }
func (o *testObject) SetKey(k *datastore.Key)       { o.key = k }
func (o *testObject) Properties() map[string]any    { return o.props }
func (o *testObject) SetProperties(p map[string]any) { o.props = p }
func (o *testObject) Relation(field string) any     { return o.rels[field] }
func (o *testObject) SetRelation(field string, v any) {
	if o.rels == nil {
		o.rels = make(map[string]any)
	}
	o.rels[field] = v
}

// countingStore wraps a Service and counts writes per kind, so tests
// can assert exactly how many record writes an operation performed.
type countingStore struct {
	datastore.Service
	puts    map[string]int
	deletes int
}

func newCountingStore() *countingStore {
	return &countingStore{Service: memds.New(), puts: make(map[string]int)}
}

func (c *countingStore) Put(ctx context.Context, e *datastore.Entity) (*datastore.Key, error) {
	c.puts[e.Key.Kind]++
	return c.Service.Put(ctx, e)
}

func (c *countingStore) Delete(ctx context.Context, key *datastore.Key) error {
	c.deletes++
	return c.Service.Delete(ctx, key)
}

// newTestMeta registers two classes in a bidirectional one-to-one:
// Org owns Team through a key property, Team's "org" field supplies
// Team's ancestor.
func newTestMeta(t *testing.T) *orm.MetaRegistry {
	t.Helper()
	reg := orm.NewMetaRegistry()

	orgMeta := &orm.ClassMeta{
		Kind: "Org",
		Fields: []orm.FieldMeta{
			{Name: "name"},
			{
				Name:       "team",
				Mapping:    orm.MappingReference,
				Relation:   orm.RelationOneToOneBidir,
				TargetKind: "Team",
			},
		},
	}
	teamMeta := &orm.ClassMeta{
		Kind: "Team",
		Fields: []orm.FieldMeta{
			{Name: "name"},
			{
				Name:              "org",
				Mapping:           orm.MappingReference,
				Relation:          orm.RelationOneToOneBidir,
				ParentKeyProvider: true,
				TargetKind:        "Org",
			},
		},
	}
	orgMeta.Factory = func() orm.Persistable { return &testObject{meta: orgMeta} }
	teamMeta.Factory = func() orm.Persistable { return &testObject{meta: teamMeta} }

	for _, m := range []*orm.ClassMeta{orgMeta, teamMeta} {
		if err := reg.Register(m); err != nil {
			t.Fatalf("Register %s: %v", m.Kind, err)
		}
	}
	return reg
}

func newOrg(t *testing.T, meta *orm.MetaRegistry, name string) *testObject {
	t.Helper()
	m, ok := meta.Lookup("Org")
	if !ok {
		t.Fatal("Org not registered")
	}
	return &testObject{meta: m, props: map[string]any{"name": name}}
}

func newTeam(t *testing.T, meta *orm.MetaRegistry, name string) *testObject {
	t.Helper()
	m, ok := meta.Lookup("Team")
	if !ok {
		t.Fatal("Team not registered")
	}
	return &testObject{meta: m, props: map[string]any{"name": name}}
}
