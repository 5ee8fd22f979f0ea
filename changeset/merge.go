package changeset

import (
	"fmt"
	"reflect"

	"github.com/WernerBuchert/ecto"
)

// Merge combines two change-sets built over the same data snapshot, allowing
// independent pipelines - one per form section, say - to be composed into a
// single write. See the method for the combination rules.
func Merge(a, b Changeset) (Changeset, error) {
	return a.Merge(b)
}

// Merge combines other into the change-set. Both must have been built over
// the same data snapshot, and their actions must agree (or one must be
// unset); anything else is a contract error matching ecto.ErrMergeMismatch.
//
// Changes, params, and filters merge shallowly with other winning on
// conflicts. Errors, validations, constraints, and prepare callbacks
// concatenate, with exact duplicate errors collapsed. Required fields union.
// The result is valid only if both inputs were.
func (cs Changeset) Merge(other Changeset) (Changeset, error) {
	if cs.Data.Source != other.Data.Source ||
		cs.Data.Key() != other.Data.Key() ||
		!reflect.DeepEqual(cs.Data.Fields, other.Data.Fields) {
		return cs, ecto.NewError("change-sets were built over different data", ecto.ErrMergeMismatch)
	}
	if cs.Action != other.Action && cs.Action != ActionNone && other.Action != ActionNone {
		return cs, ecto.NewError(fmt.Sprintf("change-sets have different actions: %q and %q", cs.Action, other.Action), ecto.ErrMergeMismatch)
	}

	out := cs
	if out.Action == ActionNone {
		out.Action = other.Action
	}

	out.Params = mergeParams(cs.Params, other.Params)

	out.Changes = cloneValues(cs.Changes)
	for k, v := range other.Changes {
		out.Changes[k] = v
	}

	out.Filters = cloneValues(cs.Filters)
	for k, v := range other.Filters {
		out.Filters[k] = v
	}

	// other's errors are the newer ones and stay in front
	out.Errors = dedupeErrors(append(append([]FieldError{}, other.Errors...), cs.Errors...))

	out.Required = append([]string{}, cs.Required...)
	for _, field := range other.Required {
		if !containsString(out.Required, field) {
			out.Required = append(out.Required, field)
		}
	}

	out.Validations = append(append([]Validation{}, cs.Validations...), other.Validations...)
	out.Constraints = append(append([]Constraint{}, cs.Constraints...), other.Constraints...)
	out.Prepare = append(append([]PrepareFunc{}, cs.Prepare...), other.Prepare...)

	out.Valid = cs.Valid && other.Valid
	out.ForceUpdate = cs.ForceUpdate || other.ForceUpdate
	if out.EmptyValues == nil {
		out.EmptyValues = other.EmptyValues
	}
	return out, nil
}

func dedupeErrors(errs []FieldError) []FieldError {
	seen := map[string]bool{}
	out := make([]FieldError, 0, len(errs))
	for _, e := range errs {
		key := e.Field + "\x00" + e.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
