// Package schema contains the field type descriptors consumed by the changeset
// package, along with the engine that coerces raw input values into typed
// values and the classifier that decides whether an input value counts as
// "empty".
//
// A Type is a closed tagged variant: it is always exactly one of a scalar kind,
// a parameterized kind (arrays, maps, and caller-defined custom types), or a
// relation kind (an association or embed of child entries). Code that branches
// on field kind should switch on Type.Kind exhaustively rather than inspecting
// values at runtime.
//
// This package does not define where type maps come from; they are supplied by
// the caller, either built up in code with the constructor functions or loaded
// from a YAML descriptor via LoadTypes.
package schema

import (
	"fmt"
	"strings"
)

// Kind enumerates every variant a Type can take.
type Kind int

const (
	// Any performs no coercion; values pass through as given.
	Any Kind = iota

	String
	Integer
	Float
	Boolean
	Decimal
	UUID
	Date
	Time
	NaiveDateTime
	UTCDateTime

	// Array and Map are parameterized on an element type.
	Array
	Map

	// Custom delegates coercion to a caller-supplied CustomCaster.
	Custom

	// Assoc and Embed are relation kinds. Fields of these kinds cannot be
	// cast as scalars; they are handled by the relation entry points in the
	// changeset package.
	Assoc
	Embed
)

func (k Kind) String() string {
	switch k {
	case Any:
		return "any"
	case String:
		return "string"
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Boolean:
		return "boolean"
	case Decimal:
		return "decimal"
	case UUID:
		return "uuid"
	case Date:
		return "date"
	case Time:
		return "time"
	case NaiveDateTime:
		return "naive_datetime"
	case UTCDateTime:
		return "utc_datetime"
	case Array:
		return "array"
	case Map:
		return "map"
	case Custom:
		return "custom"
	case Assoc:
		return "assoc"
	case Embed:
		return "embed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind returns the Kind named by s. Only kinds that can stand alone in a
// descriptor are parseable; Custom types must be built in code.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case Any.String():
		return Any, nil
	case String.String():
		return String, nil
	case Integer.String():
		return Integer, nil
	case Float.String():
		return Float, nil
	case Boolean.String():
		return Boolean, nil
	case Decimal.String():
		return Decimal, nil
	case UUID.String():
		return UUID, nil
	case Date.String():
		return Date, nil
	case Time.String():
		return Time, nil
	case NaiveDateTime.String():
		return NaiveDateTime, nil
	case UTCDateTime.String():
		return UTCDateTime, nil
	case Array.String():
		return Array, nil
	case Map.String():
		return Map, nil
	case Assoc.String():
		return Assoc, nil
	case Embed.String():
		return Embed, nil
	default:
		return Any, fmt.Errorf("unknown Kind %q", s)
	}
}

// Type is a field type descriptor. The zero value is not valid; use one of the
// constructor functions.
type Type struct {
	kind   Kind
	elem   *Type
	caster CustomCaster
	rel    *Relation
}

// Kind returns the variant tag of the type.
func (t *Type) Kind() Kind {
	return t.kind
}

// Elem returns the element type of an Array or Map type, or nil for any other
// kind.
func (t *Type) Elem() *Type {
	return t.elem
}

// Caster returns the CustomCaster of a Custom type, or nil.
func (t *Type) Caster() CustomCaster {
	return t.caster
}

// Rel returns the relation spec of an Assoc or Embed type, or nil for any
// other kind.
func (t *Type) Rel() *Relation {
	return t.rel
}

// IsRelation returns whether the type is an Assoc or Embed.
func (t *Type) IsRelation() bool {
	return t.kind == Assoc || t.kind == Embed
}

func (t *Type) String() string {
	switch t.kind {
	case Array, Map:
		return fmt.Sprintf("%s(%s)", t.kind, t.elem)
	case Assoc, Embed:
		return fmt.Sprintf("%s(%s)", t.kind, t.rel.Cardinality)
	default:
		return t.kind.String()
	}
}

func scalar(k Kind) *Type {
	return &Type{kind: k}
}

// AnyType returns a type that passes values through uncoerced.
func AnyType() *Type { return scalar(Any) }

// StringType returns the string scalar type.
func StringType() *Type { return scalar(String) }

// IntegerType returns the integer scalar type. Values coerce to int64.
func IntegerType() *Type { return scalar(Integer) }

// FloatType returns the float scalar type. Values coerce to float64.
func FloatType() *Type { return scalar(Float) }

// BooleanType returns the boolean scalar type.
func BooleanType() *Type { return scalar(Boolean) }

// DecimalType returns the arbitrary-precision decimal scalar type. Values
// coerce to decimal.Decimal.
func DecimalType() *Type { return scalar(Decimal) }

// UUIDType returns the UUID scalar type. Values coerce to uuid.UUID.
func UUIDType() *Type { return scalar(UUID) }

// DateType returns the calendar-date scalar type. Values coerce to a time.Time
// at midnight UTC.
func DateType() *Type { return scalar(Date) }

// TimeType returns the time-of-day scalar type. Values coerce to a time.Time
// on the zero date.
func TimeType() *Type { return scalar(Time) }

// NaiveDateTimeType returns the zoneless datetime scalar type.
func NaiveDateTimeType() *Type { return scalar(NaiveDateTime) }

// UTCDateTimeType returns the UTC datetime scalar type. Values are normalized
// to UTC on coercion.
func UTCDateTimeType() *Type { return scalar(UTCDateTime) }

// ArrayOf returns an array type parameterized on the given element type.
func ArrayOf(elem *Type) *Type {
	return &Type{kind: Array, elem: elem}
}

// MapOf returns a map type with string keys parameterized on the given value
// type.
func MapOf(elem *Type) *Type {
	return &Type{kind: Map, elem: elem}
}

// CustomOf returns a type whose coercion is delegated to the given caster.
func CustomOf(c CustomCaster) *Type {
	return &Type{kind: Custom, caster: c}
}

// AssocOne returns a one-cardinality association type over the given relation.
// The relation's Cardinality is overwritten.
func AssocOne(rel *Relation) *Type {
	rel.Cardinality = One
	return &Type{kind: Assoc, rel: rel}
}

// AssocMany returns a many-cardinality association type over the given
// relation. The relation's Cardinality is overwritten.
func AssocMany(rel *Relation) *Type {
	rel.Cardinality = Many
	return &Type{kind: Assoc, rel: rel}
}

// EmbedOne returns a one-cardinality embed type over the given relation. The
// relation's Cardinality is overwritten.
func EmbedOne(rel *Relation) *Type {
	rel.Cardinality = One
	return &Type{kind: Embed, rel: rel}
}

// EmbedMany returns a many-cardinality embed type over the given relation.
// The relation's Cardinality is overwritten.
func EmbedMany(rel *Relation) *Type {
	rel.Cardinality = Many
	return &Type{kind: Embed, rel: rel}
}

// Cardinality is the number of child entries a relation holds.
type Cardinality int

const (
	One Cardinality = iota
	Many
)

func (c Cardinality) String() string {
	switch c {
	case One:
		return "one"
	case Many:
		return "many"
	default:
		return fmt.Sprintf("Cardinality(%d)", int(c))
	}
}

// ParseCardinality returns the Cardinality named by s.
func ParseCardinality(s string) (Cardinality, error) {
	switch strings.ToLower(s) {
	case One.String(), "":
		return One, nil
	case Many.String():
		return Many, nil
	default:
		return One, fmt.Errorf("unknown Cardinality %q", s)
	}
}

// OnReplace is the policy applied to an existing related entry that is not
// present among the incoming entries during relation reconciliation.
type OnReplace int

const (
	// Raise aborts the whole operation with a contract error. It is the
	// default: replacing children must be an explicit schema decision.
	Raise OnReplace = iota

	// MarkInvalid records an error on the parent field and retains the
	// existing entry unchanged.
	MarkInvalid

	// Nilify clears the child's owner-side foreign key. Associations only.
	Nilify

	// Update passes the entire existing entry through the builder as an
	// update even though it was not re-submitted.
	Update

	// Delete marks the child for deletion by the persistence layer at commit
	// time.
	Delete

	// DeleteIfExists is Delete, but tolerates the row already being gone.
	DeleteIfExists
)

func (o OnReplace) String() string {
	switch o {
	case Raise:
		return "raise"
	case MarkInvalid:
		return "mark_as_invalid"
	case Nilify:
		return "nilify"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case DeleteIfExists:
		return "delete_if_exists"
	default:
		return fmt.Sprintf("OnReplace(%d)", int(o))
	}
}

// ParseOnReplace returns the OnReplace policy named by s.
func ParseOnReplace(s string) (OnReplace, error) {
	switch strings.ToLower(s) {
	case Raise.String(), "":
		return Raise, nil
	case MarkInvalid.String():
		return MarkInvalid, nil
	case Nilify.String():
		return Nilify, nil
	case Update.String():
		return Update, nil
	case Delete.String():
		return Delete, nil
	case DeleteIfExists.String():
		return DeleteIfExists, nil
	default:
		return Raise, fmt.Errorf("unknown OnReplace %q", s)
	}
}

// Relation describes the child side of an Assoc or Embed type.
type Relation struct {
	// Cardinality is set by the Type constructor that receives the Relation.
	Cardinality Cardinality

	// Fields maps child field names to their types.
	Fields map[string]*Type

	// PrimaryKey is the child field used as the identity key when matching
	// incoming entries against existing ones. Defaults to "id" when empty.
	PrimaryKey string

	// Defaults holds child field defaults substituted for empty input.
	Defaults map[string]any

	// OnReplace is the replacement policy. The zero value is Raise.
	OnReplace OnReplace

	// OwnerKey and RelatedKey identify the foreign-key columns linking child
	// to parent for associations: OwnerKey is the parent-side field whose
	// value the child's RelatedKey column carries. They are consulted by the
	// Nilify policy and by persistence collaborators writing child rows.
	OwnerKey   string
	RelatedKey string

	// Source is the child table or collection name, for associations.
	Source string
}

// Key returns the identity-key field name, applying the "id" default.
func (r *Relation) Key() string {
	if r.PrimaryKey == "" {
		return "id"
	}
	return r.PrimaryKey
}
