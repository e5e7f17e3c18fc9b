package jsondoc

import "fmt"

// Merge decodes each value as an object and folds them left to right.
// Keys from later values override earlier ones; keys are never merged
// recursively. At least one value is required.
func Merge(values ...Value) (*Object, error) {
	if len(values) == 0 {
		return nil, ErrEmptyInput
	}

	objs := make([]*Object, 0, len(values))
	for i, v := range values {
		obj, err := Decode(v)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		objs = append(objs, obj)
	}

	return MergeObjects(objs...)
}

// MergeObjects folds already decoded objects left to right. The inputs are
// not modified.
func MergeObjects(objs ...*Object) (*Object, error) {
	if len(objs) == 0 {
		return nil, ErrEmptyInput
	}

	out := NewObject()
	for i, obj := range objs {
		if obj == nil {
			return nil, fmt.Errorf("input %d: %w: got nil", i, ErrTypeMismatch)
		}
		out.Update(obj)
	}
	return out, nil
}
