package schema

import (
	"reflect"
	"strings"

	"github.com/WernerBuchert/ecto"
)

func relationCastError(t *Type) error {
	return ecto.NewError("use the relation entry points to cast "+t.String()+" fields", ecto.ErrInvalidRelation)
}

// EmptyValue marks a cast value as "empty". It is either a literal value,
// compared structurally, or a predicate function. Construct one with
// EmptyLiteral or EmptyFunc.
type EmptyValue struct {
	literal any
	fn      func(any) bool
}

// EmptyLiteral returns an EmptyValue matching values structurally equal to v.
func EmptyLiteral(v any) EmptyValue {
	return EmptyValue{literal: v}
}

// EmptyFunc returns an EmptyValue matching values for which fn returns true.
func EmptyFunc(fn func(any) bool) EmptyValue {
	return EmptyValue{fn: fn}
}

// Matches returns whether v counts as empty under this matcher.
func (ev EmptyValue) Matches(v any) bool {
	if ev.fn != nil {
		return ev.fn(v)
	}
	return reflect.DeepEqual(ev.literal, v)
}

// BlankString reports whether v is a string that is empty or contains only
// whitespace. It is the default empty-value predicate.
func BlankString(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	return strings.TrimSpace(s) == ""
}

// DefaultEmptyValues returns the default empty-value list: whitespace-only
// strings. A fresh slice is returned on every call; there is no shared state
// to mutate.
func DefaultEmptyValues() []EmptyValue {
	return []EmptyValue{EmptyFunc(BlankString)}
}

// IsEmpty classifies a cast value as empty under the given matchers.
//
// For Array types each element is filtered recursively first, so that e.g.
// [""] reduces to [], and it is the filtered slice that is tested against the
// matchers. Whether the filtered slice then counts as empty depends on the
// configured matchers; the defaults do not treat [] as empty, so callers who
// want that add EmptyLiteral([]any{}) to the list. For all other types the
// value is empty if any matcher matches it.
func IsEmpty(t *Type, v any, empty []EmptyValue) bool {
	if t.kind == Array {
		if vs, ok := v.([]any); ok {
			filtered := make([]any, 0, len(vs))
			for _, elem := range vs {
				if !IsEmpty(t.elem, elem, empty) {
					filtered = append(filtered, elem)
				}
			}
			v = filtered
		}
	}

	for _, ev := range empty {
		if ev.Matches(v) {
			return true
		}
	}
	return false
}
