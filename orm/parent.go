package orm

import "github.com/jacentio/arbor/datastore"

// CheckForParentSwitch decides whether establishing child under the
// owner identified by ownerKey is legal. Ancestor paths are immutable
// once a record is committed; this is the single enforcement point
// preventing silent entity-group corruption.
//
// Legal (no-op) cases: a nil or non-persistable child, a child still
// inside its first write, and a child with no resolvable key
// (transient). A child persisted without a parent can never join an
// entity group (ChildWithoutParentError); a child persisted under a
// different parent cannot be reparented (ChildWithWrongParentError).
func CheckForParentSwitch(child any, ownerKey *datastore.Key, reg *KeyRegistry) error {
	if child == nil {
		return nil
	}
	obj, ok := child.(Persistable)
	if !ok {
		return nil
	}
	if reg != nil && reg.CreatedInUnit(obj) {
		// Mid-way through its first write; no committed ancestor path
		// exists to conflict with yet. The exemption ends with the
		// write, so a record committed earlier in the same unit of
		// work is validated like any other.
		return nil
	}
	childKey := obj.Key()
	if childKey == nil || childKey.Incomplete() {
		return nil
	}
	if childKey.Parent == nil {
		return &ChildWithoutParentError{Parent: ownerKey, Child: childKey}
	}
	if !childKey.Parent.Equal(ownerKey) {
		return &ChildWithWrongParentError{Parent: ownerKey, Child: childKey}
	}
	return nil
}
