package orm

import (
	"errors"
	"fmt"

	"github.com/jacentio/arbor/datastore"
)

var (
	// ErrOwnerKeyIncomplete is returned when deferred relations are
	// applied before the owning record has a final key. This is a
	// caller sequencing error, not a data condition.
	ErrOwnerKeyIncomplete = errors.New("arbor: owner record has no final key")

	// ErrNotPersisted is returned by operations requiring an object
	// that has already been written.
	ErrNotPersisted = errors.New("arbor: object has not been persisted")
)

// ChildWithoutParentError reports an attempt to establish a parent
// for an object that was already persisted without one. An ancestor
// path is fixed when the record is first committed, so such an object
// can never retroactively join an entity group.
type ChildWithoutParentError struct {
	Parent *datastore.Key
	Child  *datastore.Key
}

func (e *ChildWithoutParentError) Error() string {
	return fmt.Sprintf("arbor: attempt to establish %v as the parent of %v, "+
		"but the entity identified by %v has already been persisted without a parent; "+
		"a parent cannot be established or changed once an object has been persisted",
		e.Parent, e.Child, e.Child)
}

// ChildWithWrongParentError reports an attempt to reparent an
// already-persisted object into a different entity group.
type ChildWithWrongParentError struct {
	Parent *datastore.Key
	Child  *datastore.Key
}

func (e *ChildWithWrongParentError) Error() string {
	return fmt.Sprintf("arbor: attempt to establish %v as the parent of %v, "+
		"but the entity identified by %v is already a child of %v; "+
		"a parent cannot be established or changed once an object has been persisted",
		e.Parent, e.Child, e.Child, e.Child.Parent)
}

// NotYetFlushedError reports that a relation depends on the key of an
// object that has not been written yet. For fields whose NullPolicy
// is NullAllowed this is recovered internally by patching the owner
// after the key becomes final; for NullException it surfaces.
type NotYetFlushedError struct {
	Object Persistable
}

func (e *NotYetFlushedError) Error() string {
	kind := "<unknown>"
	if m := e.Object.Meta(); m != nil {
		kind = m.Kind
	}
	return fmt.Sprintf("arbor: related object of kind %s has not yet been flushed", kind)
}

// MissingAncestorError reports a fetch through a field that should
// supply a reference to the record's parent, on a record that has no
// ancestor key at all.
type MissingAncestorError struct {
	Field      string
	ChildKind  string
	ParentKind string
}

func (e *MissingAncestorError) Error() string {
	return fmt.Sprintf("arbor: field %s should be able to provide a reference to its parent "+
		"but the record has no ancestor; did you perhaps try to establish an instance of %s "+
		"as the child of an instance of %s after the child had already been persisted?",
		e.Field, e.ChildKind, e.ParentKind)
}
