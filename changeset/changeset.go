// Package changeset implements the change-set value at the heart of the ecto
// module: a snapshot of existing data plus a discrete, introspectable set of
// proposed changes, accumulated errors, validation metadata, and persistence
// directives.
//
// A Changeset is immutable by convention. Every operation takes a value
// receiver and returns a new Changeset; internal maps and slices are copied
// before modification, so holding on to an older value is always safe. This
// also means independent change-sets may be built concurrently from the same
// Record without coordination.
//
// Errors come in two classes. Contract errors - an unknown field name, casting
// a relation field as a scalar, merging change-sets over different data - are
// programming mistakes and are returned as ordinary Go errors matching the
// sentinels in the root ecto package. Data-quality errors - failed coercions,
// validator failures, missing required fields - are recorded on the change-set
// itself, flip Valid to false, and never stop the pipeline: callers chain as
// many validations as they want and check Valid once at the end.
package changeset

import (
	"fmt"
	"reflect"
	"time"

	"github.com/WernerBuchert/ecto"
	"github.com/WernerBuchert/ecto/schema"
	"github.com/shopspring/decimal"
)

// Values is a set of field values keyed by field name.
type Values = map[string]any

// Params is raw external input keyed by parameter name.
type Params = map[string]any

// Metadata is the structured payload attached to a recorded error.
type Metadata = map[string]any

// FieldError is a single recorded error on a change-set.
type FieldError struct {
	Field   string
	Message string
	Meta    Metadata
}

// Validation is a reflection log entry recording that a named validator ran
// on a field. It is not persisted as a constraint; it exists so callers can
// introspect which validations a change-set pipeline applies.
type Validation struct {
	Field string
	Name  string
}

// PrepareFunc is a callback run by the persistence collaborator immediately
// before commit, inside the same atomic unit as the write itself.
type PrepareFunc func(Changeset) Changeset

// Action tells the persistence collaborator what operation the change-set
// describes. Any string outside the predefined constants is treated as a
// custom action that only a custom collaborator will understand.
type Action string

const (
	ActionNone    Action = ""
	ActionInsert  Action = "insert"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionReplace Action = "replace"
	ActionIgnore  Action = "ignore"
)

// Record is the entity snapshot a change-set is built over: a keyed map of
// current field values together with the field type map supplied by the
// schema collaborator. The Fields map is never mutated by any change-set
// operation.
type Record struct {
	// Source names the table or collection the record belongs to. Consumed
	// by persistence collaborators; the core only carries it.
	Source string

	// Fields holds the current field values.
	Fields map[string]any

	// Types maps field names to their type descriptors.
	Types map[string]*schema.Type

	// PrimaryKey is the identity field name. Defaults to "id" when empty.
	PrimaryKey string

	// Defaults holds per-field defaults substituted when cast input is
	// classified as empty.
	Defaults map[string]any

	// Persisted is whether the record already exists in storage. It controls
	// whether the advisory uniqueness check excludes the record's own row.
	Persisted bool
}

// NewRecord returns a Record for the given source with the given types and no
// field values.
func NewRecord(source string, types map[string]*schema.Type) Record {
	return Record{
		Source: source,
		Fields: map[string]any{},
		Types:  types,
	}
}

// WithFields returns a copy of the record with the given field values set.
func (r Record) WithFields(fields map[string]any) Record {
	merged := make(map[string]any, len(r.Fields)+len(fields))
	for k, v := range r.Fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	r.Fields = merged
	return r
}

// Key returns the primary-key field name, applying the "id" default.
func (r Record) Key() string {
	if r.PrimaryKey == "" {
		return "id"
	}
	return r.PrimaryKey
}

// Get returns the record's current value for the field, or nil.
func (r Record) Get(field string) any {
	return r.Fields[field]
}

// KeyValue returns the record's primary-key value, which may be nil.
func (r Record) KeyValue() any {
	return r.Fields[r.Key()]
}

// Changeset is the central value of this package. See the package
// documentation for the protocol it follows. Fields are exported for
// introspection and for consumption by persistence collaborators, but must
// not be modified in place; use the documented operations.
type Changeset struct {
	// Valid is true iff no recorded errors exist, here or in any nested
	// change-set produced by relation reconciliation.
	Valid bool

	// Data is the original snapshot. Never mutated.
	Data Record

	// Params is the raw input given to Cast, nil when the change-set was
	// built without external input.
	Params Params

	// Changes holds the fields whose coerced value differs from Data.
	Changes Values

	// Errors holds recorded errors, most recent first. Use SortedErrors for
	// chronological order.
	Errors []FieldError

	// Required lists fields whose absence must produce an error.
	Required []string

	// Validations is the reflection log of named validators that ran.
	Validations []Validation

	// Constraints are declarative and deferred to the persistence layer.
	Constraints []Constraint

	// Filters is the optimistic-concurrency comparison predicate: a write
	// must be rejected unless every filter field still holds its recorded
	// value.
	Filters Values

	// Prepare holds callbacks run immediately before commit.
	Prepare []PrepareFunc

	// Action is the operation this change-set describes.
	Action Action

	// EmptyValues classifies cast input as empty. Defaults to
	// schema.DefaultEmptyValues.
	EmptyValues []schema.EmptyValue

	// ForceUpdate marks the change-set for persistence even when Changes is
	// empty, because nested relation children still need their own writes.
	ForceUpdate bool
}

// New returns an empty, valid change-set over the given record.
func New(rec Record) Changeset {
	return Changeset{
		Valid:       true,
		Data:        rec,
		Changes:     Values{},
		Filters:     Values{},
		EmptyValues: schema.DefaultEmptyValues(),
	}
}

// Change builds a change-set over rec from already-known internal updates.
// Unlike Cast, values are not coerced and no whitelist applies; the caller is
// trusted. A key missing from the record's types is a contract violation and
// returns an error matching ecto.ErrUnknownField.
func Change(rec Record, values Values) (Changeset, error) {
	return New(rec).Change(values)
}

// Change applies already-known internal updates on top of the change-set.
// Each value is compared against the data snapshot: values that differ are
// recorded, values equal to the snapshot are omitted and, if previously
// recorded as changes, removed.
func (cs Changeset) Change(values Values) (Changeset, error) {
	out := cs
	for field, value := range values {
		var err error
		out, err = out.PutChange(field, value)
		if err != nil {
			return cs, err
		}
	}
	return out, nil
}

// PutChange records a single change, subject to the same rules as Change.
func (cs Changeset) PutChange(field string, value any) (Changeset, error) {
	t, ok := cs.Data.Types[field]
	if !ok {
		return cs, unknownFieldError(field)
	}
	if t.IsRelation() {
		return cs, ecto.NewError(fmt.Sprintf("field %q: use PutAssoc or PutEmbed for relation fields", field), ecto.ErrInvalidRelation)
	}

	out := cs
	if equalValues(cs.Data.Get(field), value) {
		if _, changed := cs.Changes[field]; changed {
			out = out.DeleteChange(field)
		}
		return out, nil
	}

	out.Changes = cloneValues(out.Changes)
	out.Changes[field] = value
	return out, nil
}

// ForceChange records a change even when the value equals the data snapshot.
func (cs Changeset) ForceChange(field string, value any) (Changeset, error) {
	if _, ok := cs.Data.Types[field]; !ok {
		return cs, unknownFieldError(field)
	}

	out := cs
	out.Changes = cloneValues(out.Changes)
	out.Changes[field] = value
	return out, nil
}

// UpdateChange applies fn to the recorded change for field, if one exists.
// The updated value goes through PutChange, so an update back to the data
// value removes the change.
func (cs Changeset) UpdateChange(field string, fn func(any) any) (Changeset, error) {
	cur, ok := cs.Changes[field]
	if !ok {
		return cs, nil
	}
	return cs.PutChange(field, fn(cur))
}

// DeleteChange removes any recorded change for field.
func (cs Changeset) DeleteChange(field string) Changeset {
	if _, ok := cs.Changes[field]; !ok {
		return cs
	}

	out := cs
	out.Changes = cloneValues(out.Changes)
	delete(out.Changes, field)
	return out
}

// FetchChange returns the recorded change for field and whether one exists.
func (cs Changeset) FetchChange(field string) (any, bool) {
	v, ok := cs.Changes[field]
	return v, ok
}

// GetChange returns the recorded change for field, or nil.
func (cs Changeset) GetChange(field string) any {
	return cs.Changes[field]
}

// FetchField returns the effective value for field - the recorded change if
// one exists, else the data value - and whether the value came from a change.
func (cs Changeset) FetchField(field string) (any, bool) {
	if v, ok := cs.Changes[field]; ok {
		return v, true
	}
	return cs.Data.Get(field), false
}

// GetField returns the effective value for field.
func (cs Changeset) GetField(field string) any {
	v, _ := cs.FetchField(field)
	return v
}

// AddError records an error on field and marks the change-set invalid.
func (cs Changeset) AddError(field, message string, meta Metadata) Changeset {
	out := cs
	out.Errors = prependError(out.Errors, FieldError{Field: field, Message: message, Meta: meta})
	out.Valid = false
	return out
}

// HasErrorOn returns whether at least one error is recorded for field.
func (cs Changeset) HasErrorOn(field string) bool {
	for _, e := range cs.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// SortedErrors returns the recorded errors in chronological order. The
// internal list is most-recent-first.
func (cs Changeset) SortedErrors() []FieldError {
	out := make([]FieldError, len(cs.Errors))
	for i, e := range cs.Errors {
		out[len(cs.Errors)-1-i] = e
	}
	return out
}

// WithAction returns the change-set with its action set.
func (cs Changeset) WithAction(a Action) Changeset {
	cs.Action = a
	return cs
}

// ApplyChanges merges the recorded changes into the data snapshot and returns
// the resulting record. Nested change-sets are applied recursively: a
// one-relation change becomes a child record, a many-relation change becomes
// a slice of child records. The change-set itself is unaffected; validity is
// not checked.
func (cs Changeset) ApplyChanges() Record {
	rec := cs.Data
	fields := cloneValues(rec.Fields)

	for field, value := range cs.Changes {
		switch v := value.(type) {
		case *Changeset:
			if v == nil || v.Action == ActionReplace {
				fields[field] = nil
			} else {
				fields[field] = v.ApplyChanges()
			}
		case []Changeset:
			children := make([]Record, 0, len(v))
			for _, child := range v {
				if child.Action == ActionReplace {
					continue
				}
				children = append(children, child.ApplyChanges())
			}
			fields[field] = children
		default:
			fields[field] = value
		}
	}

	rec.Fields = fields
	return rec
}

func unknownFieldError(field string) error {
	return ecto.NewError(fmt.Sprintf("unknown field %q", field), ecto.ErrUnknownField)
}

func prependError(errs []FieldError, e FieldError) []FieldError {
	out := make([]FieldError, 0, len(errs)+1)
	out = append(out, e)
	out = append(out, errs...)
	return out
}

func cloneValues(vs Values) Values {
	out := make(Values, len(vs))
	for k, v := range vs {
		out[k] = v
	}
	return out
}

// equalValues compares two field values, giving time and decimal values their
// domain equality instead of strict structural equality.
func equalValues(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	if ad, ok := a.(decimal.Decimal); ok {
		bd, ok := b.(decimal.Decimal)
		return ok && ad.Equal(bd)
	}
	return reflect.DeepEqual(a, b)
}
