package changeset

import (
	"errors"
	"fmt"

	"github.com/WernerBuchert/ecto"
	"github.com/WernerBuchert/ecto/schema"
)

// MessageOverride produces a custom message for a recorded cast error. It
// receives the field and the error metadata that will be attached; returning
// the empty string keeps the type's default message.
type MessageOverride func(field string, meta Metadata) string

type castOpts struct {
	empty   []schema.EmptyValue
	force   bool
	message MessageOverride
}

// CastOption adjusts the behavior of a single Cast call.
type CastOption func(*castOpts)

// WithEmpty overrides the empty-value list for this cast only.
func WithEmpty(evs ...schema.EmptyValue) CastOption {
	return func(o *castOpts) {
		o.empty = evs
	}
}

// WithForce records every successfully cast permitted field as a change, even
// when the coerced value equals the current effective value.
func WithForce() CastOption {
	return func(o *castOpts) {
		o.force = true
	}
}

// WithMessage installs a custom error-message function for cast failures.
func WithMessage(fn MessageOverride) CastOption {
	return func(o *castOpts) {
		o.message = fn
	}
}

// Cast builds a change-set over rec from external input. Only the permitted
// fields are considered; any other incoming parameter is silently ignored.
// The whitelist is a security boundary, not an optimization, which is why
// there is no way to opt out of it.
func Cast(rec Record, params Params, permitted []string, opts ...CastOption) (Changeset, error) {
	return New(rec).Cast(params, permitted, opts...)
}

// Cast applies external input on top of an existing change-set. Casting an
// already-cast change-set composes: the new params are shallow-merged over
// the stored ones (new values win), and new changes and errors accumulate.
//
// For each permitted field present in params, the raw value is first checked
// against the empty-value list - empty input is replaced by the field's
// declared default from Data.Defaults rather than applied - and then coerced
// by the type engine. Coercion failures are recorded as errors; successfully
// coerced values are recorded as changes only when they differ from the
// current effective value.
//
// A nil params map, a permitted field missing from the record's types, or a
// permitted field holding a relation type are contract errors and abort the
// call; relation fields are cast with CastAssoc and CastEmbed instead.
func (cs Changeset) Cast(params Params, permitted []string, opts ...CastOption) (Changeset, error) {
	if params == nil {
		return cs, ecto.NewError("params is nil", ecto.ErrInvalidParams)
	}

	var o castOpts
	for _, opt := range opts {
		opt(&o)
	}

	empty := o.empty
	if empty == nil {
		empty = cs.EmptyValues
	}

	out := cs
	out.Params = mergeParams(cs.Params, params)

	for _, field := range permitted {
		t, ok := cs.Data.Types[field]
		if !ok {
			return cs, unknownFieldError(field)
		}
		if t.IsRelation() {
			return cs, ecto.NewError(fmt.Sprintf("field %q: use CastAssoc or CastEmbed for relation fields", field), ecto.ErrInvalidRelation)
		}

		raw, present := params[field]
		if !present {
			continue
		}

		if schema.IsEmpty(t, raw, empty) {
			raw = cs.Data.Defaults[field]
			out = out.castValue(field, t, raw, o, true)
			continue
		}

		out = out.castValue(field, t, raw, o, false)
	}

	return out, nil
}

// castValue coerces one raw value and records the change or error. Defaults
// substituted for empty input are already typed and skip coercion.
func (cs Changeset) castValue(field string, t *schema.Type, raw any, o castOpts, preCast bool) Changeset {
	value := raw
	if !preCast {
		var err error
		value, err = schema.CastValue(t, raw)
		if err != nil {
			return cs.addCastError(field, t, err, o)
		}
	}

	current := cs.GetField(field)
	if equalValues(current, value) && !o.force {
		return cs
	}

	out := cs
	out.Changes = cloneValues(out.Changes)
	out.Changes[field] = value
	return out
}

func (cs Changeset) addCastError(field string, t *schema.Type, err error, o castOpts) Changeset {
	var castErr *schema.CastError
	if errors.As(err, &castErr) && len(castErr.Diags) > 0 {
		// parameterized type supplied its own diagnostics
		out := cs
		for _, d := range castErr.Diags {
			errField := d.Field
			if errField == "" {
				errField = field
			}
			meta := Metadata{"validation": "cast"}
			for k, v := range d.Meta {
				meta[k] = v
			}
			out = out.AddError(errField, castMessage(errField, d.Message, meta, o), meta)
		}
		return out
	}

	meta := Metadata{"validation": "cast", "kind": t.Kind().String()}
	return cs.AddError(field, castMessage(field, "is invalid", meta, o), meta)
}

func castMessage(field, fallback string, meta Metadata, o castOpts) string {
	if o.message != nil {
		if msg := o.message(field, meta); msg != "" {
			return msg
		}
	}
	return fallback
}

// mergeParams shallow-merges extra over base, extra winning on conflicts. The
// result is nil only if both inputs are nil; there is no deep merge.
func mergeParams(base, extra Params) Params {
	if base == nil && extra == nil {
		return nil
	}

	out := make(Params, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
