package datastore

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Key identifies a stored entity. A Key consists of a kind, an
// identifying component (numeric ID or string name, or neither while
// still incomplete), and an optional parent Key forming a chain up to
// a root. The parent chain is immutable once the entity has been
// committed to storage.
type Key struct {
	// Kind is the type discriminator (e.g. "Book").
	Kind string

	// ID is the numeric identifier. Zero when the key uses a Name or
	// is incomplete.
	ID int64

	// Name is the string identifier. Empty when the key uses an ID or
	// is incomplete.
	Name string

	// Parent is the key of the logical parent entity, nil for roots.
	Parent *Key
}

// NewKey returns a named key under the given parent. Pass an empty
// name for an incomplete key whose ID is assigned by Put.
func NewKey(kind, name string, parent *Key) *Key {
	return &Key{Kind: kind, Name: name, Parent: parent}
}

// NewIDKey returns a numeric key under the given parent.
func NewIDKey(kind string, id int64, parent *Key) *Key {
	return &Key{Kind: kind, ID: id, Parent: parent}
}

// IncompleteKey returns a key with no identifying component. Put
// assigns a numeric ID when storing an entity with an incomplete key.
func IncompleteKey(kind string, parent *Key) *Key {
	return &Key{Kind: kind, Parent: parent}
}

// Incomplete reports whether the key has no identifying component yet.
func (k *Key) Incomplete() bool {
	return k.ID == 0 && k.Name == ""
}

// Equal reports whether two keys identify the same entity, including
// their full parent chains.
func (k *Key) Equal(o *Key) bool {
	for {
		if k == nil || o == nil {
			return k == o
		}
		if k.Kind != o.Kind || k.ID != o.ID || k.Name != o.Name {
			return false
		}
		k, o = k.Parent, o.Parent
	}
}

// Root returns the topmost ancestor of the key. Every entity reachable
// from the same root belongs to the same entity group.
func (k *Key) Root() *Key {
	for k.Parent != nil {
		k = k.Parent
	}
	return k
}

// HasAncestor reports whether a appears in k's chain. A key is
// considered its own ancestor.
func (k *Key) HasAncestor(a *Key) bool {
	for ; k != nil; k = k.Parent {
		if k.Equal(a) {
			return true
		}
	}
	return false
}

// Depth returns the number of keys in the chain, counting k itself.
func (k *Key) Depth() int {
	n := 0
	for ; k != nil; k = k.Parent {
		n++
	}
	return n
}

// Encode renders the key as a stable URL-safe string. Segments run
// root to leaf separated by "/", so the encoding of any descendant
// begins with the encoding of its ancestor followed by "/". Backends
// rely on this property for ancestor-scoped prefix scans.
//
// Incomplete keys encode with an empty identifying component; only
// complete keys are ever written to storage.
func (k *Key) Encode() string {
	var segs []string
	for ; k != nil; k = k.Parent {
		segs = append(segs, encodeSegment(k))
	}
	// Reverse into root-first order.
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, "/")
}

// String implements fmt.Stringer using the encoded form.
func (k *Key) String() string {
	if k == nil {
		return "<nil>"
	}
	return k.Encode()
}

func encodeSegment(k *Key) string {
	kind := url.QueryEscape(k.Kind)
	switch {
	case k.Name != "":
		return kind + ":n" + url.QueryEscape(k.Name)
	case k.ID != 0:
		return kind + ":i" + strconv.FormatInt(k.ID, 10)
	default:
		return kind + ":"
	}
}

// DecodeKey parses a string produced by Encode.
func DecodeKey(s string) (*Key, error) {
	if s == "" {
		return nil, fmt.Errorf("datastore: decode key: empty string")
	}
	var key *Key
	for _, seg := range strings.Split(s, "/") {
		k, err := decodeSegment(seg)
		if err != nil {
			return nil, err
		}
		k.Parent = key
		key = k
	}
	return key, nil
}

func decodeSegment(seg string) (*Key, error) {
	i := strings.Index(seg, ":")
	if i < 0 {
		return nil, fmt.Errorf("datastore: decode key: malformed segment %q", seg)
	}
	kind, err := url.QueryUnescape(seg[:i])
	if err != nil || kind == "" {
		return nil, fmt.Errorf("datastore: decode key: bad kind in segment %q", seg)
	}
	k := &Key{Kind: kind}
	rest := seg[i+1:]
	if rest == "" {
		return k, nil
	}
	switch rest[0] {
	case 'n':
		name, err := url.QueryUnescape(rest[1:])
		if err != nil {
			return nil, fmt.Errorf("datastore: decode key: bad name in segment %q", seg)
		}
		k.Name = name
	case 'i':
		id, err := strconv.ParseInt(rest[1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("datastore: decode key: bad id in segment %q", seg)
		}
		k.ID = id
	default:
		return nil, fmt.Errorf("datastore: decode key: malformed segment %q", seg)
	}
	return k, nil
}

// Clone deep-copies the key chain.
func (k *Key) Clone() *Key {
	if k == nil {
		return nil
	}
	c := *k
	c.Parent = k.Parent.Clone()
	return &c
}
