// Package memds provides an in-memory datastore.Service. It is the
// reference backend for unit tests and embedded use: entities live in
// an ordered treemap keyed by encoded key, so query results come back
// in stable key order.
package memds

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"

	"github.com/jacentio/arbor/datastore"
)

// Store is an in-memory datastore.Service. The zero value is not
// usable; call New. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries *treemap.Map // encoded key -> *datastore.Entity
	nextID  int64
}

var _ datastore.Service = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		entries: treemap.NewWithStringComparator(),
		nextID:  1,
	}
}

// Put implements datastore.Service. Incomplete keys receive the next
// monotonically increasing numeric ID.
func (s *Store) Put(_ context.Context, e *datastore.Entity) (*datastore.Key, error) {
	for _, v := range e.Properties {
		if !datastore.ValidValue(v) {
			return nil, datastore.ErrInvalidValue
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := e.Clone()
	if stored.Key.Incomplete() {
		stored.Key.ID = s.nextID
		s.nextID++
	}
	s.entries.Put(stored.Key.Encode(), stored)
	return stored.Key.Clone(), nil
}

// Get implements datastore.Service.
func (s *Store) Get(_ context.Context, key *datastore.Key) (*datastore.Entity, error) {
	if key.Incomplete() {
		return nil, datastore.ErrIncompleteKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.entries.Get(key.Encode())
	if !ok {
		return nil, datastore.ErrNotFound
	}
	return v.(*datastore.Entity).Clone(), nil
}

// Delete implements datastore.Service.
func (s *Store) Delete(_ context.Context, key *datastore.Key) error {
	if key.Incomplete() {
		return datastore.ErrIncompleteKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries.Remove(key.Encode())
	return nil
}

// Query implements datastore.Service. Results are in encoded-key
// order, so descendants appear grouped under their ancestors.
func (s *Store) Query(_ context.Context, kind string, ancestor *datastore.Key) ([]*datastore.Entity, error) {
	if ancestor != nil && ancestor.Incomplete() {
		return nil, datastore.ErrIncompleteKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*datastore.Entity
	it := s.entries.Iterator()
	for it.Next() {
		e := it.Value().(*datastore.Entity)
		if e.Key.Kind != kind {
			continue
		}
		if ancestor != nil && !e.Key.HasAncestor(ancestor) {
			continue
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

// Len returns the number of stored entities.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Size()
}
