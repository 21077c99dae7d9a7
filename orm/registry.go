package orm

import "github.com/jacentio/arbor/datastore"

// pendingPatch records a foreign-key property that must be written
// onto owner once the awaited object's key becomes final.
type pendingPatch struct {
	owner    Persistable
	field    FieldMeta
	awaiting Persistable
}

// KeyRegistry is the per-unit-of-work bookkeeping table. It tracks
// which generated keys belong to which in-flight object, which owners
// still need a follow-up write because applying deferred relations
// changed their parent-linkage state, and which foreign-key
// properties await an unflushed key. A KeyRegistry is scoped to one
// Session's call tree and is never shared across goroutines.
type KeyRegistry struct {
	keys        map[Persistable]*datastore.Key
	inflight    map[Persistable]bool
	created     map[Persistable]bool
	provisional map[Persistable]bool
	modified    map[string]bool
	patches     []pendingPatch
}

// NewKeyRegistry creates an empty registry for one unit of work.
func NewKeyRegistry() *KeyRegistry {
	return &KeyRegistry{
		keys:        make(map[Persistable]*datastore.Key),
		inflight:    make(map[Persistable]bool),
		created:     make(map[Persistable]bool),
		provisional: make(map[Persistable]bool),
		modified:    make(map[string]bool),
	}
}

// RegisterKey records the finalized key for an object.
func (r *KeyRegistry) RegisterKey(obj Persistable, key *datastore.Key) {
	r.keys[obj] = key
}

// KeyFor returns the key registered for an object in this unit of work.
func (r *KeyRegistry) KeyFor(obj Persistable) (*datastore.Key, bool) {
	k, ok := r.keys[obj]
	return k, ok
}

// BeginFlush marks an object as currently being written. created says
// whether this write is the object's first (an insert): until that
// first write completes there is no committed state to conflict with,
// so the object is exempt from parent-switch validation.
func (r *KeyRegistry) BeginFlush(obj Persistable, created bool) {
	r.inflight[obj] = true
	if created {
		r.created[obj] = true
	}
}

// EndFlush marks an object's write as complete. The created flag is
// dropped with it: once the record is committed its ancestor path is
// fixed, and a later write in the same unit of work gets no exemption.
func (r *KeyRegistry) EndFlush(obj Persistable) {
	delete(r.inflight, obj)
	delete(r.created, obj)
	delete(r.provisional, obj)
}

// InFlight reports whether the object is currently mid-write.
func (r *KeyRegistry) InFlight(obj Persistable) bool {
	return r.inflight[obj]
}

// CreatedInUnit reports whether the object's first write is still in
// progress in this unit of work.
func (r *KeyRegistry) CreatedInUnit(obj Persistable) bool {
	return r.created[obj]
}

// MarkProvisional flags an in-flight object whose key may still be
// replaced before its write completes (an insert whose ancestor is
// resolved late). Provisional keys must not be stored as foreign keys.
func (r *KeyRegistry) MarkProvisional(obj Persistable) {
	r.provisional[obj] = true
}

// ClearProvisional removes the provisional flag once the key is final.
func (r *KeyRegistry) ClearProvisional(obj Persistable) {
	delete(r.provisional, obj)
}

// Provisional reports whether the object's key may still change.
func (r *KeyRegistry) Provisional(obj Persistable) bool {
	return r.provisional[obj]
}

// MarkOwnerModified records that applying deferred relations changed
// the parent-linkage state of the owner identified by key, so the
// owner record must be written again.
func (r *KeyRegistry) MarkOwnerModified(key *datastore.Key) {
	r.modified[key.Encode()] = true
}

// OwnerNeedsUpdate reports whether the owner identified by key was
// marked modified.
func (r *KeyRegistry) OwnerNeedsUpdate(key *datastore.Key) bool {
	return r.modified[key.Encode()]
}

// ClearModifiedOwner resets the modified flag for the owner.
func (r *KeyRegistry) ClearModifiedOwner(key *datastore.Key) {
	delete(r.modified, key.Encode())
}

// AddPendingPatch schedules a follow-up property write on owner for
// when awaiting's key becomes final.
func (r *KeyRegistry) AddPendingPatch(owner Persistable, field FieldMeta, awaiting Persistable) {
	r.patches = append(r.patches, pendingPatch{owner: owner, field: field, awaiting: awaiting})
}

// TakePatchesFor removes and returns all patches awaiting the given
// object's key.
func (r *KeyRegistry) TakePatchesFor(obj Persistable) []pendingPatch {
	var taken, kept []pendingPatch
	for _, p := range r.patches {
		if p.awaiting == obj {
			taken = append(taken, p)
		} else {
			kept = append(kept, p)
		}
	}
	r.patches = kept
	return taken
}
