package changeset

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"github.com/shopspring/decimal"
)

// ValidatorFunc is the primitive every validator is built on. It receives a
// field and its recorded change and returns any errors it found; an empty
// result means the change is acceptable. A returned FieldError with an empty
// Field is attributed to the validated field.
type ValidatorFunc func(field string, value any) []FieldError

// ValidateChange runs fn against the recorded change for field. The function
// is only invoked when the field has a recorded change and that change is
// non-nil; nil-ness is the concern of ValidateRequired, not of individual
// validators.
func (cs Changeset) ValidateChange(field string, fn ValidatorFunc) Changeset {
	return cs.validateChange(field, "", fn)
}

// ValidateChangeNamed is ValidateChange with a validator name recorded in the
// change-set's Validations log. The log entry is added unconditionally, even
// when the validator finds no error or never runs, so that downstream code
// can reflect on which validations a pipeline applies.
func (cs Changeset) ValidateChangeNamed(field, name string, fn ValidatorFunc) Changeset {
	return cs.validateChange(field, name, fn)
}

func (cs Changeset) validateChange(field, name string, fn ValidatorFunc) Changeset {
	out := cs
	if name != "" {
		out.Validations = append(append([]Validation{}, out.Validations...), Validation{Field: field, Name: name})
	}

	value, ok := out.Changes[field]
	if !ok || value == nil {
		return out
	}

	errs := fn(field, value)
	if len(errs) == 0 {
		return out
	}

	for i := len(errs) - 1; i >= 0; i-- {
		e := errs[i]
		if e.Field == "" {
			e.Field = field
		}
		out.Errors = prependError(out.Errors, e)
	}
	out.Valid = false
	return out
}

type validateOpts struct {
	message string
}

// ValidateOption adjusts a built-in validator, currently only by overriding
// its default message.
type ValidateOption func(*validateOpts)

// WithValidationMessage overrides the default error message of the validator
// it is passed to.
func WithValidationMessage(msg string) ValidateOption {
	return func(o *validateOpts) {
		o.message = msg
	}
}

func applyValidateOpts(opts []ValidateOption) validateOpts {
	var o validateOpts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o validateOpts) msg(fallback string) string {
	if o.message != "" {
		return o.message
	}
	return fallback
}

// ValidateRequired checks that every listed field has a present effective
// value: the recorded change if any, else the data value. A value is missing
// when it is nil or, for text, blank after trimming. Fields that were never
// submitted but already hold data are therefore not errors, which is what
// makes partial updates work.
//
// On failure the field gets an error and any recorded change for it is
// removed - a required-but-blank submission must not apply a blank overwrite.
// Every listed field is added to Required regardless of outcome. A field that
// already carries an error is not given a duplicate required error.
func (cs Changeset) ValidateRequired(fields []string, opts ...ValidateOption) Changeset {
	o := applyValidateOpts(opts)
	out := cs

	for _, field := range fields {
		if !containsString(out.Required, field) {
			out.Required = append(append([]string{}, out.Required...), field)
		}

		if !missingValue(out.GetField(field)) {
			continue
		}
		if out.HasErrorOn(field) {
			continue
		}

		out = out.DeleteChange(field)
		out = out.AddError(field, o.msg("can't be blank"), Metadata{"validation": "required"})
	}

	return out
}

func missingValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// ValidateFormat checks that the change for field is a string matching the
// given pattern.
func (cs Changeset) ValidateFormat(field, pattern string, opts ...ValidateOption) Changeset {
	o := applyValidateOpts(opts)
	re := regexp.MustCompile(pattern)

	return cs.ValidateChangeNamed(field, "format", func(f string, value any) []FieldError {
		s, ok := value.(string)
		if !ok || !re.MatchString(s) {
			return []FieldError{{Message: o.msg("has invalid format"), Meta: Metadata{"validation": "format", "pattern": pattern}}}
		}
		return nil
	})
}

// ValidateInclusion checks that the change for field is one of the given
// values.
func (cs Changeset) ValidateInclusion(field string, enum []any, opts ...ValidateOption) Changeset {
	o := applyValidateOpts(opts)

	return cs.ValidateChangeNamed(field, "inclusion", func(f string, value any) []FieldError {
		if containsValue(enum, value) {
			return nil
		}
		return []FieldError{{Message: o.msg("is invalid"), Meta: Metadata{"validation": "inclusion", "enum": enum}}}
	})
}

// ValidateExclusion checks that the change for field is none of the given
// values.
func (cs Changeset) ValidateExclusion(field string, enum []any, opts ...ValidateOption) Changeset {
	o := applyValidateOpts(opts)

	return cs.ValidateChangeNamed(field, "exclusion", func(f string, value any) []FieldError {
		if !containsValue(enum, value) {
			return nil
		}
		return []FieldError{{Message: o.msg("is reserved"), Meta: Metadata{"validation": "exclusion", "enum": enum}}}
	})
}

// ValidateSubset checks that every element of the change for field, which
// must be a slice, is one of the given values.
func (cs Changeset) ValidateSubset(field string, enum []any, opts ...ValidateOption) Changeset {
	o := applyValidateOpts(opts)

	return cs.ValidateChangeNamed(field, "subset", func(f string, value any) []FieldError {
		elems, ok := value.([]any)
		if !ok {
			return []FieldError{{Message: o.msg("has an invalid entry"), Meta: Metadata{"validation": "subset", "enum": enum}}}
		}
		for _, elem := range elems {
			if !containsValue(enum, elem) {
				return []FieldError{{Message: o.msg("has an invalid entry"), Meta: Metadata{"validation": "subset", "enum": enum}}}
			}
		}
		return nil
	})
}

func containsValue(enum []any, v any) bool {
	for _, e := range enum {
		if equalValues(e, v) {
			return true
		}
	}
	return false
}

// CountUnit selects how ValidateLength counts string length.
type CountUnit int

const (
	// Graphemes counts user-perceived characters (Unicode grapheme
	// clusters). This is the default.
	Graphemes CountUnit = iota

	// Codepoints counts Unicode code points.
	Codepoints

	// Bytes counts raw bytes.
	Bytes
)

type lengthOpts struct {
	is, min, max int
	hasIs        bool
	hasMin       bool
	hasMax       bool
	unit         CountUnit
	message      string
}

// LengthOption is a bound or setting for ValidateLength.
type LengthOption func(*lengthOpts)

// LengthIs requires the counted length to be exactly n.
func LengthIs(n int) LengthOption {
	return func(o *lengthOpts) { o.is, o.hasIs = n, true }
}

// LengthMin requires the counted length to be at least n.
func LengthMin(n int) LengthOption {
	return func(o *lengthOpts) { o.min, o.hasMin = n, true }
}

// LengthMax requires the counted length to be at most n.
func LengthMax(n int) LengthOption {
	return func(o *lengthOpts) { o.max, o.hasMax = n, true }
}

// CountBy selects the counting unit for string values.
func CountBy(u CountUnit) LengthOption {
	return func(o *lengthOpts) { o.unit = u }
}

// LengthMessage overrides every message produced by this ValidateLength call.
func LengthMessage(msg string) LengthOption {
	return func(o *lengthOpts) { o.message = msg }
}

// ValidateLength checks the length of the change for field. Strings are
// counted in the configured unit (graphemes by default); slices and maps are
// counted by item. The error messages are specific to the value's category
// and carry the offending bound in their metadata.
func (cs Changeset) ValidateLength(field string, opts ...LengthOption) Changeset {
	var o lengthOpts
	for _, opt := range opts {
		opt(&o)
	}

	return cs.ValidateChangeNamed(field, "length", func(f string, value any) []FieldError {
		length, noun, ok := countLength(value, o.unit)
		if !ok {
			return []FieldError{{Message: "is invalid", Meta: Metadata{"validation": "length"}}}
		}

		check := func(kind string, bound int, failed bool, template string) []FieldError {
			if !failed {
				return nil
			}
			msg := o.message
			if msg == "" {
				msg = fmt.Sprintf(template, noun)
			}
			return []FieldError{{Message: msg, Meta: Metadata{"validation": "length", "kind": kind, "count": bound}}}
		}

		if errs := check("is", o.is, o.hasIs && length != o.is, "should be %%{count} %s"); errs != nil {
			return errs
		}
		if errs := check("min", o.min, o.hasMin && length < o.min, "should be at least %%{count} %s"); errs != nil {
			return errs
		}
		if errs := check("max", o.max, o.hasMax && length > o.max, "should be at most %%{count} %s"); errs != nil {
			return errs
		}
		return nil
	})
}

func countLength(value any, unit CountUnit) (length int, noun string, ok bool) {
	switch v := value.(type) {
	case string:
		switch unit {
		case Codepoints:
			return utf8.RuneCountInString(v), "character(s)", true
		case Bytes:
			return len(v), "byte(s)", true
		default:
			return uniseg.GraphemeClusterCount(v), "character(s)", true
		}
	case []byte:
		return len(v), "byte(s)", true
	case []any:
		return len(v), "item(s)", true
	case map[string]any:
		return len(v), "item(s)", true
	default:
		return 0, "", false
	}
}

type numberComp struct {
	kind    string
	bound   decimal.Decimal
	orig    any
	holds   func(cmp int) bool
	message string
}

type numberOpts struct {
	comps   []numberComp
	message string
}

// NumberOption is a comparison for ValidateNumber. The bound may be any
// integer, float, or decimal.Decimal value; comparisons are performed in
// arbitrary-precision decimal arithmetic. Passing a non-numeric bound is a
// programming mistake and panics.
type NumberOption func(*numberOpts)

func numberComparison(kind string, n any, holds func(cmp int) bool, template string) NumberOption {
	bound, ok := toDecimal(n)
	if !ok {
		panic(fmt.Sprintf("ValidateNumber: %s bound %v (%T) is not a number", kind, n, n))
	}
	return func(o *numberOpts) {
		o.comps = append(o.comps, numberComp{kind: kind, bound: bound, orig: n, holds: holds, message: template})
	}
}

// LessThan requires the change to be strictly less than n.
func LessThan(n any) NumberOption {
	return numberComparison("less_than", n, func(cmp int) bool { return cmp < 0 }, "must be less than %v")
}

// GreaterThan requires the change to be strictly greater than n.
func GreaterThan(n any) NumberOption {
	return numberComparison("greater_than", n, func(cmp int) bool { return cmp > 0 }, "must be greater than %v")
}

// LessThanOrEqualTo requires the change to be at most n.
func LessThanOrEqualTo(n any) NumberOption {
	return numberComparison("less_than_or_equal_to", n, func(cmp int) bool { return cmp <= 0 }, "must be less than or equal to %v")
}

// GreaterThanOrEqualTo requires the change to be at least n.
func GreaterThanOrEqualTo(n any) NumberOption {
	return numberComparison("greater_than_or_equal_to", n, func(cmp int) bool { return cmp >= 0 }, "must be greater than or equal to %v")
}

// EqualTo requires the change to equal n.
func EqualTo(n any) NumberOption {
	return numberComparison("equal_to", n, func(cmp int) bool { return cmp == 0 }, "must be equal to %v")
}

// NotEqualTo requires the change to differ from n.
func NotEqualTo(n any) NumberOption {
	return numberComparison("not_equal_to", n, func(cmp int) bool { return cmp != 0 }, "must be not equal to %v")
}

// NumberMessage overrides every message produced by this ValidateNumber call.
func NumberMessage(msg string) NumberOption {
	return func(o *numberOpts) { o.message = msg }
}

// ValidateNumber checks the change for field against the given comparisons.
// Integer, float, and decimal changes are all supported; all comparison is
// decimal-aware, so 0.1 compared against a float bound behaves exactly.
func (cs Changeset) ValidateNumber(field string, opts ...NumberOption) Changeset {
	var o numberOpts
	for _, opt := range opts {
		opt(&o)
	}

	return cs.ValidateChangeNamed(field, "number", func(f string, value any) []FieldError {
		d, ok := toDecimal(value)
		if !ok {
			return []FieldError{{Message: "is invalid", Meta: Metadata{"validation": "number"}}}
		}

		for _, comp := range o.comps {
			if comp.holds(d.Cmp(comp.bound)) {
				continue
			}
			msg := o.message
			if msg == "" {
				msg = fmt.Sprintf(comp.message, comp.orig)
			}
			return []FieldError{{Message: msg, Meta: Metadata{"validation": "number", "kind": comp.kind, "number": comp.orig}}}
		}
		return nil
	})
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	default:
		return decimal.Decimal{}, false
	}
}

type confirmationOpts struct {
	required bool
	message  string
}

// ConfirmationOption adjusts ValidateConfirmation.
type ConfirmationOption func(*confirmationOpts)

// ConfirmationRequired makes a missing confirmation parameter an error
// instead of a pass.
func ConfirmationRequired() ConfirmationOption {
	return func(o *confirmationOpts) { o.required = true }
}

// ConfirmationMessage overrides the default confirmation error message.
func ConfirmationMessage(msg string) ConfirmationOption {
	return func(o *confirmationOpts) { o.message = msg }
}

// ValidateConfirmation checks that the raw parameter for field matches the
// raw parameter named "<field>_confirmation". Both values are read from
// Params, independent of the schema: the confirmation field never needs to be
// declared or cast. A missing confirmation parameter passes unless
// ConfirmationRequired is given.
func (cs Changeset) ValidateConfirmation(field string, opts ...ConfirmationOption) Changeset {
	var o confirmationOpts
	for _, opt := range opts {
		opt(&o)
	}
	msg := o.message
	if msg == "" {
		msg = "does not match confirmation"
	}

	confField := field + "_confirmation"
	out := cs
	out.Validations = append(append([]Validation{}, out.Validations...), Validation{Field: field, Name: "confirmation"})

	value, ok := cs.Params[field]
	if !ok {
		return out
	}

	confValue, confOk := cs.Params[confField]
	if !confOk {
		if o.required {
			return out.AddError(confField, msg, Metadata{"validation": "confirmation"})
		}
		return out
	}

	if !equalValues(value, confValue) {
		return out.AddError(confField, msg, Metadata{"validation": "confirmation"})
	}
	return out
}

// ValidateAcceptance checks that the raw parameter for field was positively
// accepted: boolean true or the string "true". The field is read from Params
// and never needs to be declared in the schema or persisted.
func (cs Changeset) ValidateAcceptance(field string, opts ...ValidateOption) Changeset {
	o := applyValidateOpts(opts)

	out := cs
	out.Validations = append(append([]Validation{}, out.Validations...), Validation{Field: field, Name: "acceptance"})

	value, ok := cs.Params[field]
	if !ok {
		return out
	}
	if b, isBool := value.(bool); isBool && b {
		return out
	}
	if s, isStr := value.(string); isStr && s == "true" {
		return out
	}
	return out.AddError(field, o.msg("must be accepted"), Metadata{"validation": "acceptance"})
}

// ExistsCond is one equality condition of an existence query.
type ExistsCond struct {
	Field string
	Value any
}

// ExistsQuery is the predicate handed to an injected existence checker by
// UnsafeValidateUnique. Exclude, when set, names a row that must not count as
// a match - the record's own row during updates.
type ExistsQuery struct {
	Source  string
	Conds   []ExistsCond
	Exclude *ExistsCond
}

// ExistsFunc answers whether at least one row matches the query. It is the
// only injected dependency of the validation engine that may perform I/O.
type ExistsFunc func(ctx context.Context, q ExistsQuery) (bool, error)

// UnsafeValidateUnique checks that the combination of effective values for
// the given fields does not already exist, by delegating to the injected
// existence checker. The query is skipped entirely when none of the fields
// has a recorded change, when any compared value is nil (null-distinct
// semantics), or when any field already carries an error.
//
// The check is explicitly advisory: between it and the commit another writer
// can insert a conflicting row, which is why it is "unsafe" and must always
// be paired with a UniqueConstraint for correctness.
func (cs Changeset) UnsafeValidateUnique(ctx context.Context, fields []string, exists ExistsFunc, opts ...ValidateOption) (Changeset, error) {
	if len(fields) == 0 {
		return cs, fmt.Errorf("UnsafeValidateUnique: no fields given")
	}
	o := applyValidateOpts(opts)

	out := cs
	out.Validations = append(append([]Validation{}, out.Validations...), Validation{Field: fields[0], Name: "unsafe_unique"})

	anyChanged := false
	for _, field := range fields {
		if _, ok := cs.Changes[field]; ok {
			anyChanged = true
		}
		if cs.GetField(field) == nil {
			return out, nil
		}
		if cs.HasErrorOn(field) {
			return out, nil
		}
	}
	if !anyChanged {
		return out, nil
	}

	q := ExistsQuery{Source: cs.Data.Source}
	for _, field := range fields {
		q.Conds = append(q.Conds, ExistsCond{Field: field, Value: cs.GetField(field)})
	}
	if cs.Data.Persisted {
		if pk := cs.Data.KeyValue(); pk != nil {
			q.Exclude = &ExistsCond{Field: cs.Data.Key(), Value: pk}
		}
	}

	taken, err := exists(ctx, q)
	if err != nil {
		return cs, err
	}
	if taken {
		out = out.AddError(fields[0], o.msg("has already been taken"), Metadata{"validation": "unsafe_unique", "fields": fields})
	}
	return out, nil
}
