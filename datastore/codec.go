package datastore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"
)

// Byte codec shared by the byte-oriented backends (boltds, dynamods).
// Property values are flattened into a tagged wire struct so that
// scalar types survive the round trip exactly; keys travel in their
// encoded string form.

type wireTag uint8

const (
	wireNull wireTag = iota
	wireBool
	wireInt
	wireFloat
	wireString
	wireBytes
	wireTime
	wireKey
	wireList
)

type wireValue struct {
	Tag   wireTag
	Bool  bool
	Int   int64 // also UnixNano for wireTime
	Float float64
	Str   string // also encoded key for wireKey
	Bytes []byte
	List  []wireValue
}

type wireEntity struct {
	Key        string
	Properties map[string]wireValue
}

// EncodeEntity serializes an entity for byte-oriented backends.
func EncodeEntity(e *Entity) ([]byte, error) {
	we := wireEntity{
		Key:        e.Key.Encode(),
		Properties: make(map[string]wireValue, len(e.Properties)),
	}
	for name, v := range e.Properties {
		wv, err := toWire(v)
		if err != nil {
			return nil, fmt.Errorf("datastore: encode property %q: %w", name, err)
		}
		we.Properties[name] = wv
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(we); err != nil {
		return nil, fmt.Errorf("datastore: encode entity: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeEntity deserializes an entity produced by EncodeEntity.
func DecodeEntity(data []byte) (*Entity, error) {
	var we wireEntity
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&we); err != nil {
		return nil, fmt.Errorf("datastore: decode entity: %w", err)
	}
	key, err := DecodeKey(we.Key)
	if err != nil {
		return nil, err
	}
	e := NewEntity(key)
	for name, wv := range we.Properties {
		v, err := fromWire(wv)
		if err != nil {
			return nil, fmt.Errorf("datastore: decode property %q: %w", name, err)
		}
		e.Properties[name] = v
	}
	return e, nil
}

func toWire(v any) (wireValue, error) {
	switch val := v.(type) {
	case nil:
		return wireValue{Tag: wireNull}, nil
	case bool:
		return wireValue{Tag: wireBool, Bool: val}, nil
	case int64:
		return wireValue{Tag: wireInt, Int: val}, nil
	case float64:
		return wireValue{Tag: wireFloat, Float: val}, nil
	case string:
		return wireValue{Tag: wireString, Str: val}, nil
	case []byte:
		return wireValue{Tag: wireBytes, Bytes: val}, nil
	case time.Time:
		return wireValue{Tag: wireTime, Int: val.UnixNano()}, nil
	case *Key:
		return wireValue{Tag: wireKey, Str: val.Encode()}, nil
	case []any:
		list := make([]wireValue, len(val))
		for i, item := range val {
			wv, err := toWire(item)
			if err != nil {
				return wireValue{}, err
			}
			if wv.Tag == wireList {
				return wireValue{}, fmt.Errorf("nested list: %w", ErrInvalidValue)
			}
			list[i] = wv
		}
		return wireValue{Tag: wireList, List: list}, nil
	default:
		return wireValue{}, fmt.Errorf("%T: %w", v, ErrInvalidValue)
	}
}

func fromWire(wv wireValue) (any, error) {
	switch wv.Tag {
	case wireNull:
		return nil, nil
	case wireBool:
		return wv.Bool, nil
	case wireInt:
		return wv.Int, nil
	case wireFloat:
		return wv.Float, nil
	case wireString:
		return wv.Str, nil
	case wireBytes:
		return wv.Bytes, nil
	case wireTime:
		return time.Unix(0, wv.Int).UTC(), nil
	case wireKey:
		return DecodeKey(wv.Str)
	case wireList:
		list := make([]any, len(wv.List))
		for i, item := range wv.List {
			v, err := fromWire(item)
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
		return list, nil
	default:
		return nil, fmt.Errorf("datastore: unknown wire tag %d", wv.Tag)
	}
}
