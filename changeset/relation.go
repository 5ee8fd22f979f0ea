package changeset

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/WernerBuchert/ecto"
	"github.com/WernerBuchert/ecto/schema"
)

// BuildFunc produces a nested change-set for one related entry. It receives
// the child record to build over - a matched existing entry, or a fresh one
// for inserts - the entry's raw parameters, and the entry's target position
// in the reconciled collection (-1 when the relation has one cardinality or
// the position is not meaningful). It must return a change-set, never a bare
// record, so that the parent can track the child's validity and errors.
type BuildFunc func(child Record, params Params, pos int) (Changeset, error)

type relOpts struct {
	builder   BuildFunc
	sortParam string
	dropParam string
	required  bool
	message   string
	noForce   bool
}

// RelOption adjusts a single CastAssoc or CastEmbed call.
type RelOption func(*relOpts)

// WithBuilder injects the builder invoked for every incoming entry. The
// default builder casts all non-relation child fields.
func WithBuilder(fn BuildFunc) RelOption {
	return func(o *relOpts) { o.builder = fn }
}

// WithSortParam names a top-level parameter holding the desired ordering of
// entry indices. Many-cardinality relations with indexed-map parameters only.
func WithSortParam(name string) RelOption {
	return func(o *relOpts) { o.sortParam = name }
}

// WithDropParam names a top-level parameter holding entry indices to remove
// before reconciliation. Many-cardinality relations with indexed-map
// parameters only.
func WithDropParam(name string) RelOption {
	return func(o *relOpts) { o.dropParam = name }
}

// RelRequired adds a required error when the reconciled relation value is
// empty: an empty collection, or a null singleton.
func RelRequired() RelOption {
	return func(o *relOpts) { o.required = true }
}

// WithRelMessage overrides the message recorded on the parent field when
// reconciliation marks it invalid.
func WithRelMessage(msg string) RelOption {
	return func(o *relOpts) { o.message = msg }
}

// NoForceUpdate keeps a recorded relation change from marking the parent for
// forced persistence.
func NoForceUpdate() RelOption {
	return func(o *relOpts) { o.noForce = true }
}

// CastAssoc reconciles the association named by field from the parameters
// stored on the change-set. Cast must have been called first; the raw
// parameter value for the field is read from the stored params by its key.
func (cs Changeset) CastAssoc(field string, opts ...RelOption) (Changeset, error) {
	return cs.castRelation(schema.Assoc, field, opts)
}

// CastEmbed reconciles the embed named by field from the parameters stored on
// the change-set. Cast must have been called first.
func (cs Changeset) CastEmbed(field string, opts ...RelOption) (Changeset, error) {
	return cs.castRelation(schema.Embed, field, opts)
}

func (cs Changeset) castRelation(tag schema.Kind, field string, opts []RelOption) (Changeset, error) {
	var o relOpts
	for _, opt := range opts {
		opt(&o)
	}

	rel, err := cs.relationSpec(tag, field)
	if err != nil {
		return cs, err
	}
	if cs.Params == nil {
		return cs, ecto.NewError("Cast must be called before casting relations", ecto.ErrInvalidParams)
	}
	if rel.Cardinality == schema.One && (o.sortParam != "" || o.dropParam != "") {
		return cs, ecto.NewError(fmt.Sprintf("field %q: sort and drop params do not apply to one-cardinality relations", field), ecto.ErrBadArgument)
	}

	sortIdx, sortGiven, err := paramIndexList(cs.Params, o.sortParam)
	if err != nil {
		return cs, err
	}
	dropIdx, dropGiven, err := paramIndexList(cs.Params, o.dropParam)
	if err != nil {
		return cs, err
	}

	raw, present := cs.Params[field]
	if !present && !sortGiven && !dropGiven {
		// nothing submitted for this relation; existing data stands
		if o.required && relationEmpty(cs.Data.Get(field)) {
			return cs.requireRelation(field), nil
		}
		return cs, nil
	}

	builder := o.builder
	if builder == nil {
		builder = defaultBuilder(rel)
	}

	if rel.Cardinality == schema.One {
		return cs.castRelationOne(tag, field, rel, raw, builder, o)
	}
	return cs.castRelationMany(tag, field, rel, raw, sortIdx, dropIdx, sortGiven || dropGiven, builder, o)
}

func (cs Changeset) castRelationMany(tag schema.Kind, field string, rel *schema.Relation, raw any, sortIdx, dropIdx []string, normalize bool, builder BuildFunc, o relOpts) (Changeset, error) {
	entries, ok := normalizeManyParams(raw, sortIdx, dropIdx, normalize)
	if !ok {
		return cs.AddError(field, o.msgOr("is invalid"), Metadata{"validation": relTagName(tag)}), nil
	}

	existing, err := existingMany(field, cs.Data.Get(field))
	if err != nil {
		return cs, err
	}

	pkField := rel.Key()
	pkType := rel.Fields[pkField]
	seen := make([]bool, len(existing))
	usedIDs := map[string]bool{}

	var children []Changeset
	for pos, entry := range entries {
		idVal, hasID := entryIdentity(entry, pkField, pkType)

		matched := -1
		if hasID {
			key := identityKey(idVal)
			if usedIDs[key] {
				return cs.AddError(field, o.msgOr("has duplicate entries"), Metadata{"validation": relTagName(tag)}), nil
			}
			usedIDs[key] = true

			for i := range existing {
				if !seen[i] && equalValues(existing[i].Get(pkField), idVal) {
					matched = i
					break
				}
			}
		}

		var child Changeset
		if matched >= 0 {
			seen[matched] = true
			child, err = builder(existing[matched], entry, pos)
			if err != nil {
				return cs, err
			}
			if child.Action == ActionNone {
				child.Action = ActionUpdate
			}
		} else {
			// unknown identities route to insert; whether that is too
			// permissive is a product decision made upstream
			child, err = builder(freshChild(rel), entry, pos)
			if err != nil {
				return cs, err
			}
			if child.Action == ActionNone {
				child.Action = ActionInsert
			}
		}
		children = append(children, child)
	}

	for i := range existing {
		if seen[i] {
			continue
		}
		child, parentErr, fatal := cs.applyOnReplace(tag, field, rel, existing[i], builder, o)
		if fatal != nil {
			return cs, fatal
		}
		if parentErr {
			return cs.AddError(field, o.msgOr("is invalid"), Metadata{"validation": relTagName(tag)}), nil
		}
		if child != nil {
			children = append(children, *child)
		}
	}

	if relationManyUnchanged(children, existing, pkField) {
		if o.required && relationEmpty(cs.Data.Get(field)) {
			return cs.requireRelation(field), nil
		}
		return cs, nil
	}

	return cs.recordRelationChange(field, children, o), nil
}

func (cs Changeset) castRelationOne(tag schema.Kind, field string, rel *schema.Relation, raw any, builder BuildFunc, o relOpts) (Changeset, error) {
	existing, hasExisting, err := existingOne(field, cs.Data.Get(field))
	if err != nil {
		return cs, err
	}

	pkField := rel.Key()
	pkType := rel.Fields[pkField]

	if raw == nil {
		if !hasExisting {
			if o.required {
				return cs.requireRelation(field), nil
			}
			return cs, nil
		}

		child, parentErr, fatal := cs.applyOnReplace(tag, field, rel, existing, builder, o)
		if fatal != nil {
			return cs, fatal
		}
		if parentErr {
			return cs.AddError(field, o.msgOr("is invalid"), Metadata{"validation": relTagName(tag)}), nil
		}

		out := cs.recordRelationOneChange(field, child, o)
		if o.required {
			out = out.requireRelation(field)
		}
		return out, nil
	}

	entry, ok := raw.(map[string]any)
	if !ok {
		return cs.AddError(field, o.msgOr("is invalid"), Metadata{"validation": relTagName(tag)}), nil
	}

	idVal, hasID := entryIdentity(entry, pkField, pkType)
	if hasExisting && hasID && equalValues(existing.Get(pkField), idVal) {
		child, err := builder(existing, entry, -1)
		if err != nil {
			return cs, err
		}
		if child.Action == ActionNone {
			child.Action = ActionUpdate
		}
		if relationOneUnchanged(child) {
			return cs, nil
		}
		return cs.recordRelationOneChange(field, &child, o), nil
	}

	if hasExisting {
		switch rel.OnReplace {
		case schema.Raise:
			return cs, replaceError(field)
		case schema.MarkInvalid:
			return cs.AddError(field, o.msgOr("is invalid"), Metadata{"validation": relTagName(tag)}), nil
		case schema.Update:
			// existing entry absorbs the new params despite the identity
			// mismatch
			child, err := builder(existing, entry, -1)
			if err != nil {
				return cs, err
			}
			if child.Action == ActionNone {
				child.Action = ActionUpdate
			}
			return cs.recordRelationOneChange(field, &child, o), nil
		}
		// Nilify, Delete, DeleteIfExists: the replaced entry is resolved by
		// the persistence collaborator from the data snapshot and the
		// declared policy; the recorded change is the incoming entry.
	}

	child, err := builder(freshChild(rel), entry, -1)
	if err != nil {
		return cs, err
	}
	if child.Action == ActionNone {
		child.Action = ActionInsert
	}
	return cs.recordRelationOneChange(field, &child, o), nil
}

// applyOnReplace resolves the policy for one existing entry that was not
// re-submitted. It returns the replacement child to include in the result (or
// nil), whether a parent-level error should be recorded instead, or a fatal
// contract error.
func (cs Changeset) applyOnReplace(tag schema.Kind, field string, rel *schema.Relation, ex Record, builder BuildFunc, o relOpts) (*Changeset, bool, error) {
	switch rel.OnReplace {
	case schema.Raise:
		return nil, false, replaceError(field)
	case schema.MarkInvalid:
		return nil, true, nil
	case schema.Nilify:
		if tag != schema.Assoc {
			return nil, false, ecto.NewError(fmt.Sprintf("field %q: on_replace nilify requires an association", field), ecto.ErrBadArgument)
		}
		child := New(ex)
		child.Changes = Values{rel.RelatedKey: nil}
		child.Action = ActionReplace
		return &child, false, nil
	case schema.Update:
		var child Changeset
		var err error
		if builder != nil {
			child, err = builder(ex, Params{}, -1)
			if err != nil {
				return nil, false, err
			}
		} else {
			child = New(ex)
		}
		if child.Action == ActionNone {
			child.Action = ActionUpdate
		}
		return &child, false, nil
	case schema.Delete, schema.DeleteIfExists:
		child := New(ex)
		child.Action = ActionReplace
		return &child, false, nil
	default:
		return nil, false, ecto.NewError(fmt.Sprintf("field %q: unknown on_replace policy", field), ecto.ErrBadArgument)
	}
}

func replaceError(field string) error {
	return ecto.NewError(fmt.Sprintf("field %q: an existing related entry was not sent", field), ecto.ErrReplace)
}

func (cs Changeset) recordRelationChange(field string, children []Changeset, o relOpts) Changeset {
	out := cs
	out.Changes = cloneValues(out.Changes)
	out.Changes[field] = children

	for _, child := range children {
		out.Valid = out.Valid && child.Valid
	}
	if !o.noForce {
		out.ForceUpdate = true
	}
	if o.required && relationEmpty(children) {
		out = out.requireRelation(field)
	}
	return out
}

func (cs Changeset) recordRelationOneChange(field string, child *Changeset, o relOpts) Changeset {
	out := cs
	out.Changes = cloneValues(out.Changes)
	if child == nil {
		out.Changes[field] = nil
	} else {
		out.Changes[field] = child
		out.Valid = out.Valid && child.Valid
	}
	if !o.noForce {
		out.ForceUpdate = true
	}
	return out
}

func (cs Changeset) requireRelation(field string) Changeset {
	out := cs
	if !containsString(out.Required, field) {
		out.Required = append(append([]string{}, out.Required...), field)
	}
	if out.HasErrorOn(field) {
		return out
	}
	if !relationEmpty(out.GetField(field)) {
		return out
	}
	return out.AddError(field, "can't be blank", Metadata{"validation": "required"})
}

func (o relOpts) msgOr(fallback string) string {
	if o.message != "" {
		return o.message
	}
	return fallback
}

func relTagName(tag schema.Kind) string {
	if tag == schema.Embed {
		return "embed"
	}
	return "assoc"
}

func (cs Changeset) relationSpec(tag schema.Kind, field string) (*schema.Relation, error) {
	t, ok := cs.Data.Types[field]
	if !ok {
		return nil, unknownFieldError(field)
	}
	if t.Kind() != tag {
		return nil, ecto.NewError(fmt.Sprintf("field %q is %s, not %s", field, t, tag), ecto.ErrInvalidRelation)
	}
	return t.Rel(), nil
}

func defaultBuilder(rel *schema.Relation) BuildFunc {
	permitted := make([]string, 0, len(rel.Fields))
	for name, t := range rel.Fields {
		if !t.IsRelation() {
			permitted = append(permitted, name)
		}
	}
	sort.Strings(permitted)

	return func(child Record, params Params, pos int) (Changeset, error) {
		return Cast(child, params, permitted)
	}
}

func freshChild(rel *schema.Relation) Record {
	return Record{
		Source:     rel.Source,
		Fields:     map[string]any{},
		Types:      rel.Fields,
		PrimaryKey: rel.PrimaryKey,
		Defaults:   rel.Defaults,
	}
}

// entryIdentity extracts and coerces the identity key of one incoming entry.
// The identity is absent only when the key is missing or nil; a key value
// that fails to coerce participates in matching as-is.
func entryIdentity(entry Params, pkField string, pkType *schema.Type) (any, bool) {
	raw, ok := entry[pkField]
	if !ok || raw == nil {
		return nil, false
	}
	if pkType != nil {
		if cast, err := schema.CastValue(pkType, raw); err == nil {
			return cast, true
		}
	}
	return raw, true
}

func identityKey(v any) string {
	return fmt.Sprintf("%v", v)
}

// normalizeManyParams converts the raw parameter value of a many-relation
// into an ordered list of entry maps. Lists pass through as-is. Indexed maps
// are ordered numerically by key unless sort or drop indices were supplied,
// in which case: dropped indices are removed outright, sorted indices are
// popped in the given order (defaulting to an empty entry when absent), and
// all remaining entries are appended in numeric index order ahead of the
// sorted ones.
func normalizeManyParams(raw any, sortIdx, dropIdx []string, normalize bool) ([]Params, bool) {
	switch v := raw.(type) {
	case nil:
		// only reachable when sort or drop params were supplied without the
		// relation parameter itself
		return normalizeIndexed(map[string]any{}, sortIdx, dropIdx, normalize)
	case []any:
		out := make([]Params, 0, len(v))
		for _, elem := range v {
			entry, ok := elem.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, entry)
		}
		return out, true
	case map[string]any:
		return normalizeIndexed(v, sortIdx, dropIdx, normalize)
	default:
		return nil, false
	}
}

func normalizeIndexed(indexed map[string]any, sortIdx, dropIdx []string, normalize bool) ([]Params, bool) {
	entries := make(map[string]any, len(indexed))
	for k, v := range indexed {
		entries[k] = v
	}

	var sorted []Params
	if normalize {
		for _, idx := range dropIdx {
			delete(entries, idx)
		}

		dropped := map[string]bool{}
		for _, idx := range dropIdx {
			dropped[idx] = true
		}
		for _, idx := range sortIdx {
			if dropped[idx] {
				continue
			}
			raw, ok := entries[idx]
			if !ok {
				sorted = append(sorted, Params{})
				continue
			}
			delete(entries, idx)
			entry, ok := raw.(map[string]any)
			if !ok {
				return nil, false
			}
			sorted = append(sorted, entry)
		}
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aErr := strconv.Atoi(keys[i])
		b, bErr := strconv.Atoi(keys[j])
		if aErr == nil && bErr == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})

	out := make([]Params, 0, len(keys)+len(sorted))
	for _, k := range keys {
		entry, ok := entries[k].(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, entry)
	}

	// unsorted entries precede all sorted entries
	out = append(out, sorted...)
	return out, true
}

// paramIndexList reads a sort or drop parameter: a list of entry indices,
// given as strings or numbers.
func paramIndexList(params Params, name string) ([]string, bool, error) {
	if name == "" {
		return nil, false, nil
	}
	raw, ok := params[name]
	if !ok || raw == nil {
		return nil, false, nil
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, false, ecto.NewError(fmt.Sprintf("param %q: index list must be a list", name), ecto.ErrBadArgument)
	}

	out := make([]string, 0, len(list))
	for _, elem := range list {
		switch idx := elem.(type) {
		case string:
			out = append(out, idx)
		case int:
			out = append(out, strconv.Itoa(idx))
		case int64:
			out = append(out, strconv.FormatInt(idx, 10))
		case float64:
			out = append(out, strconv.FormatInt(int64(idx), 10))
		default:
			return nil, false, ecto.NewError(fmt.Sprintf("param %q: index %v (%T) is not an index", name, elem, elem), ecto.ErrBadArgument)
		}
	}
	return out, true, nil
}

func existingMany(field string, v any) ([]Record, error) {
	switch recs := v.(type) {
	case nil:
		return nil, nil
	case []Record:
		return recs, nil
	case []any:
		out := make([]Record, 0, len(recs))
		for _, elem := range recs {
			rec, ok := elem.(Record)
			if !ok {
				return nil, relationDataError(field, elem)
			}
			out = append(out, rec)
		}
		return out, nil
	default:
		return nil, relationDataError(field, v)
	}
}

func existingOne(field string, v any) (Record, bool, error) {
	switch rec := v.(type) {
	case nil:
		return Record{}, false, nil
	case Record:
		return rec, true, nil
	case *Record:
		if rec == nil {
			return Record{}, false, nil
		}
		return *rec, true, nil
	default:
		return Record{}, false, relationDataError(field, v)
	}
}

func relationDataError(field string, v any) error {
	return ecto.NewError(fmt.Sprintf("field %q: loaded relation data holds %T, not records", field, v), ecto.ErrBadArgument)
}

// relationEmpty classifies a relation value, in any of its shapes, as empty
// for required checks: a nil singleton, an empty collection, or a collection
// whose every entry is marked for replacement.
func relationEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case []Record:
		return len(val) == 0
	case []Changeset:
		for _, child := range val {
			if child.Action != ActionReplace {
				return false
			}
		}
		return true
	case *Changeset:
		return val == nil || val.Action == ActionReplace
	case Record:
		return false
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

// relationManyUnchanged reports whether the reconciled collection is
// identical to the loaded snapshot: same entries in the same order, every one
// an update carrying no changes and no errors. In that case no change is
// recorded, mirroring scalar-field semantics.
func relationManyUnchanged(children []Changeset, existing []Record, pkField string) bool {
	if len(children) != len(existing) {
		return false
	}
	for i, child := range children {
		if child.Action != ActionUpdate {
			return false
		}
		if len(child.Changes) > 0 || len(child.Errors) > 0 {
			return false
		}
		if !equalValues(child.Data.Get(pkField), existing[i].Get(pkField)) {
			return false
		}
	}
	return true
}

func relationOneUnchanged(child Changeset) bool {
	return child.Action == ActionUpdate && len(child.Changes) == 0 && len(child.Errors) == 0
}

// PutAssoc records a trusted, already-built value for the association named
// by field. Unlike CastAssoc no coercion or builder runs: change-sets and
// records are used as given, and value maps are treated as partial updates of
// the matched existing entry. Reconciliation against the loaded data uses the
// same identity matching and on-replace policies as casting. Putting nil on a
// one-cardinality relation, or an empty list on a many-cardinality relation,
// replaces everything currently loaded.
func (cs Changeset) PutAssoc(field string, value any) (Changeset, error) {
	return cs.putRelation(schema.Assoc, field, value)
}

// PutEmbed records a trusted, already-built value for the embed named by
// field. See PutAssoc for the accepted shapes and matching rules.
func (cs Changeset) PutEmbed(field string, value any) (Changeset, error) {
	return cs.putRelation(schema.Embed, field, value)
}

func (cs Changeset) putRelation(tag schema.Kind, field string, value any) (Changeset, error) {
	rel, err := cs.relationSpec(tag, field)
	if err != nil {
		return cs, err
	}
	if rel.Cardinality == schema.One {
		return cs.putRelationOne(tag, field, rel, value)
	}
	return cs.putRelationMany(tag, field, rel, value)
}

func (cs Changeset) putRelationMany(tag schema.Kind, field string, rel *schema.Relation, value any) (Changeset, error) {
	entries, err := putEntries(field, value)
	if err != nil {
		return cs, err
	}
	existing, err := existingMany(field, cs.Data.Get(field))
	if err != nil {
		return cs, err
	}

	pkField := rel.Key()
	pkType := rel.Fields[pkField]
	seen := make([]bool, len(existing))
	usedIDs := map[string]bool{}

	var children []Changeset
	for _, entry := range entries {
		idVal, hasID := putIdentity(entry, pkField, pkType)

		matched := -1
		if hasID {
			key := identityKey(idVal)
			if usedIDs[key] {
				return cs.AddError(field, "has duplicate entries", Metadata{"validation": relTagName(tag)}), nil
			}
			usedIDs[key] = true

			for i := range existing {
				if !seen[i] && equalValues(existing[i].Get(pkField), idVal) {
					matched = i
					break
				}
			}
		}

		var child Changeset
		if matched >= 0 {
			seen[matched] = true
			child, err = putChild(field, rel, entry, &existing[matched])
			if err != nil {
				return cs, err
			}
			if child.Action == ActionNone {
				child.Action = ActionUpdate
			}
		} else {
			child, err = putChild(field, rel, entry, nil)
			if err != nil {
				return cs, err
			}
			if child.Action == ActionNone {
				child.Action = ActionInsert
			}
		}
		children = append(children, child)
	}

	for i := range existing {
		if seen[i] {
			continue
		}
		child, parentErr, fatal := cs.applyOnReplace(tag, field, rel, existing[i], nil, relOpts{})
		if fatal != nil {
			return cs, fatal
		}
		if parentErr {
			return cs.AddError(field, "is invalid", Metadata{"validation": relTagName(tag)}), nil
		}
		if child != nil {
			children = append(children, *child)
		}
	}

	if relationManyUnchanged(children, existing, pkField) {
		return cs, nil
	}
	return cs.recordRelationChange(field, children, relOpts{}), nil
}

func (cs Changeset) putRelationOne(tag schema.Kind, field string, rel *schema.Relation, value any) (Changeset, error) {
	existing, hasExisting, err := existingOne(field, cs.Data.Get(field))
	if err != nil {
		return cs, err
	}

	if value == nil {
		if !hasExisting {
			return cs, nil
		}
		child, parentErr, fatal := cs.applyOnReplace(tag, field, rel, existing, nil, relOpts{})
		if fatal != nil {
			return cs, fatal
		}
		if parentErr {
			return cs.AddError(field, "is invalid", Metadata{"validation": relTagName(tag)}), nil
		}
		return cs.recordRelationOneChange(field, child, relOpts{}), nil
	}

	pkField := rel.Key()
	pkType := rel.Fields[pkField]
	idVal, hasID := putIdentity(value, pkField, pkType)

	if hasExisting && hasID && equalValues(existing.Get(pkField), idVal) {
		child, err := putChild(field, rel, value, &existing)
		if err != nil {
			return cs, err
		}
		if child.Action == ActionNone {
			child.Action = ActionUpdate
		}
		if relationOneUnchanged(child) {
			return cs, nil
		}
		return cs.recordRelationOneChange(field, &child, relOpts{}), nil
	}

	if hasExisting {
		switch rel.OnReplace {
		case schema.Raise:
			return cs, replaceError(field)
		case schema.MarkInvalid:
			return cs.AddError(field, "is invalid", Metadata{"validation": relTagName(tag)}), nil
		case schema.Update:
			child, err := putChild(field, rel, value, &existing)
			if err != nil {
				return cs, err
			}
			if child.Action == ActionNone {
				child.Action = ActionUpdate
			}
			return cs.recordRelationOneChange(field, &child, relOpts{}), nil
		}
	}

	child, err := putChild(field, rel, value, nil)
	if err != nil {
		return cs, err
	}
	if child.Action == ActionNone {
		child.Action = ActionInsert
	}
	return cs.recordRelationOneChange(field, &child, relOpts{}), nil
}

// putChild builds the nested change-set for one put entry. base is the
// matched existing record, nil when the entry is new. Change-sets and records
// are taken as given; value maps become partial updates over base.
func putChild(field string, rel *schema.Relation, entry any, base *Record) (Changeset, error) {
	switch e := entry.(type) {
	case Changeset:
		return e, nil
	case *Changeset:
		if e == nil {
			return Changeset{}, putEntryError(field, entry)
		}
		return *e, nil
	case Record:
		if base != nil {
			return Change(*base, nonRelationValues(rel, e.Fields))
		}
		return New(e), nil
	case *Record:
		if e == nil {
			return Changeset{}, putEntryError(field, entry)
		}
		return putChild(field, rel, *e, base)
	case map[string]any:
		if base != nil {
			return Change(*base, nonRelationValues(rel, e))
		}
		return Change(freshChild(rel), nonRelationValues(rel, e))
	default:
		return Changeset{}, putEntryError(field, entry)
	}
}

func putEntryError(field string, entry any) error {
	return ecto.NewError(fmt.Sprintf("field %q: cannot put %T; want a record, change-set, or value map", field, entry), ecto.ErrBadArgument)
}

// nonRelationValues filters nested relation fields out of a value map so that
// the scalar portion can be applied as changes. Nested relations are put with
// their own PutAssoc or PutEmbed call on the child change-set.
func nonRelationValues(rel *schema.Relation, fields map[string]any) Values {
	out := make(Values, len(fields))
	for k, v := range fields {
		if t, ok := rel.Fields[k]; ok && t.IsRelation() {
			continue
		}
		out[k] = v
	}
	return out
}

func putIdentity(entry any, pkField string, pkType *schema.Type) (any, bool) {
	switch e := entry.(type) {
	case Changeset:
		v := e.GetField(pkField)
		return v, v != nil
	case *Changeset:
		if e == nil {
			return nil, false
		}
		v := e.GetField(pkField)
		return v, v != nil
	case Record:
		v := e.Get(pkField)
		return v, v != nil
	case *Record:
		if e == nil {
			return nil, false
		}
		v := e.Get(pkField)
		return v, v != nil
	case map[string]any:
		return entryIdentity(e, pkField, pkType)
	default:
		return nil, false
	}
}

func putEntries(field string, value any) ([]any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case []Changeset:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, nil
	case []Record:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out, nil
	default:
		return nil, ecto.NewError(fmt.Sprintf("field %q: cannot put %T; want a list of entries", field, value), ecto.ErrBadArgument)
	}
}
