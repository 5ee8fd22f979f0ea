package changeset

import (
	"fmt"
	"math"
	"strings"
)

// ConstraintKind identifies which class of database constraint a declaration
// covers.
type ConstraintKind string

const (
	ConstraintCheck      ConstraintKind = "check"
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintExclusion  ConstraintKind = "exclusion"
)

// MatchKind selects how a declared constraint name is compared against the
// name reported by the database.
type MatchKind string

const (
	MatchExact  MatchKind = "exact"
	MatchPrefix MatchKind = "prefix"
	MatchSuffix MatchKind = "suffix"
)

// Constraint is a declarative mapping from a database constraint to a field
// error. Declaring one never talks to the database; the persistence
// collaborator consults the declarations when a write is rejected and
// converts the violation into a recorded error instead of a failure.
type Constraint struct {
	Kind    ConstraintKind
	Name    string
	Match   MatchKind
	Field   string
	Message string
	Meta    Metadata
}

// Matches reports whether the constraint name reported by the database
// satisfies this declaration under its match mode.
func (c Constraint) Matches(name string) bool {
	switch c.Match {
	case MatchPrefix:
		return strings.HasPrefix(name, c.Name)
	case MatchSuffix:
		return strings.HasSuffix(name, c.Name)
	default:
		return name == c.Name
	}
}

type constraintOpts struct {
	name    string
	message string
	match   MatchKind
}

// ConstraintOpt adjusts a single constraint declaration.
type ConstraintOpt func(*constraintOpts)

// WithConstraintName overrides the derived constraint name.
func WithConstraintName(name string) ConstraintOpt {
	return func(o *constraintOpts) { o.name = name }
}

// WithConstraintMessage overrides the message recorded when the constraint is
// violated.
func WithConstraintMessage(msg string) ConstraintOpt {
	return func(o *constraintOpts) { o.message = msg }
}

// WithMatch sets how the declared name is compared against the reported one.
// Prefix and suffix matching cover databases that mangle or partition
// constraint names.
func WithMatch(m MatchKind) ConstraintOpt {
	return func(o *constraintOpts) { o.match = m }
}

// CheckConstraint declares that the named check constraint maps to an error
// on field. Check constraints have no derivable name, so it is explicit.
func (cs Changeset) CheckConstraint(field, name string, opts ...ConstraintOpt) Changeset {
	return cs.constraint(ConstraintCheck, field, name, "is invalid", opts)
}

// UniqueConstraint declares that a uniqueness violation on field maps to an
// error on it. The default constraint name is "<source>_<field>_index".
func (cs Changeset) UniqueConstraint(field string, opts ...ConstraintOpt) Changeset {
	name := fmt.Sprintf("%s_%s_index", cs.Data.Source, field)
	return cs.constraint(ConstraintUnique, field, name, "has already been taken", opts)
}

// ForeignKeyConstraint declares that a foreign-key violation on field maps to
// an error on it. The default constraint name is "<source>_<field>_fkey".
func (cs Changeset) ForeignKeyConstraint(field string, opts ...ConstraintOpt) Changeset {
	name := fmt.Sprintf("%s_%s_fkey", cs.Data.Source, field)
	return cs.constraint(ConstraintForeignKey, field, name, "does not exist", opts)
}

// ExclusionConstraint declares that an exclusion-constraint violation maps to
// an error on field. The default constraint name is
// "<source>_<field>_exclusion".
func (cs Changeset) ExclusionConstraint(field string, opts ...ConstraintOpt) Changeset {
	name := fmt.Sprintf("%s_%s_exclusion", cs.Data.Source, field)
	return cs.constraint(ConstraintExclusion, field, name, "violates an exclusion constraint", opts)
}

func (cs Changeset) constraint(kind ConstraintKind, field, defaultName, defaultMsg string, opts []ConstraintOpt) Changeset {
	o := constraintOpts{name: defaultName, message: defaultMsg, match: MatchExact}
	for _, opt := range opts {
		opt(&o)
	}

	c := Constraint{
		Kind:    kind,
		Name:    o.name,
		Match:   o.match,
		Field:   field,
		Message: o.message,
		Meta:    Metadata{"constraint": string(kind), "constraint_name": o.name},
	}

	out := cs
	out.Constraints = append(append([]Constraint{}, out.Constraints...), c)
	return out
}

// PutFilter records an additional comparison predicate for the write: the
// persistence collaborator must reject the operation unless the stored row
// still holds value in field.
func (cs Changeset) PutFilter(field string, value any) Changeset {
	out := cs
	out.Filters = cloneValues(out.Filters)
	out.Filters[field] = value
	return out
}

// OptimisticLock arms optimistic concurrency control on a version field. The
// field's current value becomes a write filter, so a concurrent writer that
// already bumped the version causes a stale-write rejection instead of a
// silent overwrite. The version itself is incremented in a prepare step, in
// the same atomic unit as the write.
//
// The default increment handles integer versions and wraps back to 1 at the
// 32-bit boundary; pass inc to version by timestamp or any other scheme.
func (cs Changeset) OptimisticLock(field string, inc ...func(any) any) (Changeset, error) {
	if _, ok := cs.Data.Types[field]; !ok {
		return cs, unknownFieldError(field)
	}

	bump := bumpVersion
	if len(inc) > 0 && inc[0] != nil {
		bump = inc[0]
	}

	out := cs
	if cur := out.GetField(field); cur != nil {
		out = out.PutFilter(field, cur)
	}

	prep := func(c Changeset) Changeset {
		forced, err := c.ForceChange(field, bump(c.GetField(field)))
		if err != nil {
			return c
		}
		return forced
	}
	out.Prepare = append(append([]PrepareFunc{}, out.Prepare...), prep)
	return out, nil
}

func bumpVersion(v any) any {
	switch n := v.(type) {
	case int:
		if n >= math.MaxInt32 {
			return 1
		}
		return n + 1
	case int64:
		if n >= math.MaxInt32 {
			return int64(1)
		}
		return n + 1
	}
	return int64(1)
}
