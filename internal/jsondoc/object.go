package jsondoc

import (
	"bytes"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Object is a JSON object that remembers the order in which keys first
// appeared. Values are kept as raw JSON so nested content, number formatting
// and nested key order survive a load/merge/write cycle untouched.
type Object struct {
	m *orderedmap.OrderedMap[string, Value]
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{m: orderedmap.New[string, Value]()}
}

// Decode parses v as a JSON object. Any other top-level type is rejected
// with ErrTypeMismatch.
func Decode(v Value) (*Object, error) {
	if kind := kindOf(v); kind != "object" {
		return nil, fmt.Errorf("%w: got %s", ErrTypeMismatch, kind)
	}

	obj := NewObject()
	if err := obj.m.UnmarshalJSON(bytes.TrimSpace(v)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return obj, nil
}

// Set stores v under key. An existing key keeps its position.
func (o *Object) Set(key string, v Value) {
	o.m.Set(key, v)
}

// Get returns the raw value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	return o.m.Get(key)
}

// Len returns the number of keys.
func (o *Object) Len() int {
	return o.m.Len()
}

// Keys returns the keys in first-occurrence order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, o.m.Len())
	for pair := o.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Update copies every key of other into o, overwriting existing values.
// This is SHALLOW: a nested object or array in other replaces the one in o
// wholesale.
func (o *Object) Update(other *Object) {
	for pair := other.m.Oldest(); pair != nil; pair = pair.Next() {
		o.m.Set(pair.Key, pair.Value)
	}
}

// Clone returns a copy of o that can be updated independently.
func (o *Object) Clone() *Object {
	cp := NewObject()
	cp.Update(o)
	return cp
}
