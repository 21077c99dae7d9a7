package datastore

import "errors"

var (
	// ErrNotFound is returned by Get when no entity exists under the key.
	ErrNotFound = errors.New("arbor: entity not found")

	// ErrIncompleteKey is returned when an operation other than Put
	// receives a key with no identifying component.
	ErrIncompleteKey = errors.New("arbor: incomplete key")

	// ErrInvalidValue is returned by Put when a property value is not
	// a storable type.
	ErrInvalidValue = errors.New("arbor: invalid property value")
)
