// Package boltds provides a file-local datastore.Service on bbolt.
// Entities are stored in a single bucket keyed by encoded key, so
// ancestor-scoped queries are cursor prefix scans; numeric IDs come
// from per-kind bucket sequences.
package boltds

import (
	"bytes"
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jacentio/arbor/datastore"
)

var (
	entitiesBucket = []byte("entities")
	sequenceBucket = []byte("sequences")
)

// Store is a bbolt-backed datastore.Service.
type Store struct {
	db *bolt.DB
}

var _ datastore.Service = (*Store)(nil)

// Open opens (creating if necessary) a store at the given file path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltds: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entitiesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(sequenceBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltds: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put implements datastore.Service. Incomplete keys draw IDs from a
// per-kind sequence.
func (s *Store) Put(_ context.Context, e *datastore.Entity) (*datastore.Key, error) {
	for _, v := range e.Properties {
		if !datastore.ValidValue(v) {
			return nil, datastore.ErrInvalidValue
		}
	}

	stored := e.Clone()
	err := s.db.Update(func(tx *bolt.Tx) error {
		if stored.Key.Incomplete() {
			seq, err := tx.Bucket(sequenceBucket).CreateBucketIfNotExists([]byte(stored.Key.Kind))
			if err != nil {
				return err
			}
			id, err := seq.NextSequence()
			if err != nil {
				return err
			}
			stored.Key.ID = int64(id)
		}
		data, err := datastore.EncodeEntity(stored)
		if err != nil {
			return err
		}
		return tx.Bucket(entitiesBucket).Put([]byte(stored.Key.Encode()), data)
	})
	if err != nil {
		return nil, fmt.Errorf("boltds: put: %w", err)
	}
	return stored.Key, nil
}

// Get implements datastore.Service.
func (s *Store) Get(_ context.Context, key *datastore.Key) (*datastore.Entity, error) {
	if key.Incomplete() {
		return nil, datastore.ErrIncompleteKey
	}

	var e *datastore.Entity
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(entitiesBucket).Get([]byte(key.Encode()))
		if data == nil {
			return datastore.ErrNotFound
		}
		var err error
		e, err = datastore.DecodeEntity(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Delete implements datastore.Service.
func (s *Store) Delete(_ context.Context, key *datastore.Key) error {
	if key.Incomplete() {
		return datastore.ErrIncompleteKey
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entitiesBucket).Delete([]byte(key.Encode()))
	})
}

// Query implements datastore.Service. With an ancestor the scan is
// bounded to the ancestor's key prefix; without one it walks the
// whole bucket filtering by kind.
func (s *Store) Query(_ context.Context, kind string, ancestor *datastore.Key) ([]*datastore.Entity, error) {
	var out []*datastore.Entity
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(entitiesBucket).Cursor()
		if ancestor == nil {
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if err := appendMatch(&out, v, kind); err != nil {
					return err
				}
			}
			return nil
		}
		if ancestor.Incomplete() {
			return datastore.ErrIncompleteKey
		}
		prefix := []byte(ancestor.Encode())
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			e, err := datastore.DecodeEntity(v)
			if err != nil {
				return err
			}
			// The prefix scan can pick up a sibling whose encoded
			// segment merely extends the ancestor's, e.g. "A:n1"
			// vs "A:n10"; HasAncestor is the exact test.
			if e.Key.Kind == kind && e.Key.HasAncestor(ancestor) {
				out = append(out, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltds: query: %w", err)
	}
	return out, nil
}

func appendMatch(out *[]*datastore.Entity, data []byte, kind string) error {
	e, err := datastore.DecodeEntity(data)
	if err != nil {
		return err
	}
	if e.Key.Kind == kind {
		*out = append(*out, e)
	}
	return nil
}
