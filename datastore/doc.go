// Package datastore defines the record model and store protocol for a
// hierarchical, ancestor-keyed key-value datastore.
//
// A record is an [Entity]: a property bag identified by a [Key]. A Key
// carries a kind, a numeric id or string name, and an optional parent
// Key forming a chain up to a root. All records sharing a root ancestor
// belong to the same entity group, the store's unit of transactional
// atomicity. A Key's parent chain is fixed once the record is
// committed; reparenting a persisted record is a structural error
// enforced by the layers above this package.
//
// The [Service] interface is the seam between the object-mapping layer
// (package orm) and a concrete backend. Three backends are provided:
//
//   - datastore/memds: ordered in-memory store for tests and embedded use
//   - datastore/boltds: file-local store on bbolt
//   - datastore/dynamods: DynamoDB single-table store, one entity group
//     per partition
//
// Encoded keys are stable, URL-safe strings whose lexicographic order
// places every descendant directly after its ancestor; backends use
// this to answer ancestor-scoped queries with a prefix scan.
package datastore
