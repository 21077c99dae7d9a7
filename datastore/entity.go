package datastore

import "time"

// Entity is the store's atomic storage unit: a typed property bag
// identified by a Key.
//
// Property values are scalars (bool, int64, float64, string, []byte,
// time.Time), []any lists of scalars, or *Key references. Backends
// persist values of these types losslessly; other types are rejected
// at Put time.
type Entity struct {
	Key        *Key
	Properties map[string]any
}

// NewEntity returns an empty entity for the given key.
func NewEntity(key *Key) *Entity {
	return &Entity{Key: key, Properties: make(map[string]any)}
}

// Clone deep-copies the entity, its key chain, and its properties.
func (e *Entity) Clone() *Entity {
	c := &Entity{
		Key:        e.Key.Clone(),
		Properties: make(map[string]any, len(e.Properties)),
	}
	for name, v := range e.Properties {
		c.Properties[name] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case *Key:
		return val.Clone()
	case []byte:
		return append([]byte(nil), val...)
	case []any:
		list := make([]any, len(val))
		for i, item := range val {
			list[i] = cloneValue(item)
		}
		return list
	default:
		return v
	}
}

// ValidValue reports whether v is a storable property value.
func ValidValue(v any) bool {
	switch val := v.(type) {
	case nil, bool, int64, float64, string, []byte, time.Time, *Key:
		return true
	case []any:
		for _, item := range val {
			if _, nested := item.([]any); nested {
				return false
			}
			if !ValidValue(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
