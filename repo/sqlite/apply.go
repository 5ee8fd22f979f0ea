package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/WernerBuchert/ecto"
	"github.com/WernerBuchert/ecto/changeset"
	"github.com/WernerBuchert/ecto/schema"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Insert commits the change-set as a new row, together with any nested
// relation changes. See repo.Repo for the error protocol.
func (s *Store) Insert(ctx context.Context, cs changeset.Changeset) (changeset.Changeset, error) {
	return s.apply(ctx, cs, changeset.ActionInsert)
}

// Update commits the change-set against the existing row identified by the
// data's primary key, subject to its optimistic-concurrency filters.
func (s *Store) Update(ctx context.Context, cs changeset.Changeset) (changeset.Changeset, error) {
	return s.apply(ctx, cs, changeset.ActionUpdate)
}

// Delete removes the row identified by the data's primary key, subject to the
// change-set's filters.
func (s *Store) Delete(ctx context.Context, cs changeset.Changeset) (changeset.Changeset, error) {
	return s.apply(ctx, cs, changeset.ActionDelete)
}

func (s *Store) apply(ctx context.Context, cs changeset.Changeset, action changeset.Action) (changeset.Changeset, error) {
	if !cs.Valid {
		return cs, ecto.NewError("change-set has recorded errors", ecto.ErrInvalid)
	}
	cs = cs.WithAction(action)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cs, WrapDBError(err)
	}

	out, err := s.applyTx(ctx, tx, cs, nil)
	if err != nil {
		tx.Rollback()
		return out, err
	}
	if err := tx.Commit(); err != nil {
		return out, WrapDBError(err)
	}
	return out, nil
}

// applyTx runs the change-set's prepare callbacks and dispatches on its
// action. extra holds column overrides injected by a parent write, such as
// the owner's key into a child's related-key column.
func (s *Store) applyTx(ctx context.Context, tx *sql.Tx, cs changeset.Changeset, extra changeset.Values) (changeset.Changeset, error) {
	for _, prep := range cs.Prepare {
		cs = prep(cs)
	}
	if !cs.Valid {
		return cs, ecto.NewError("change-set has recorded errors", ecto.ErrInvalid)
	}

	switch cs.Action {
	case changeset.ActionInsert:
		return s.insertTx(ctx, tx, cs, extra)
	case changeset.ActionUpdate, changeset.ActionNone:
		return s.updateTx(ctx, tx, cs, extra)
	case changeset.ActionDelete:
		return s.deleteTx(ctx, tx, cs)
	case changeset.ActionIgnore:
		return cs, nil
	default:
		return cs, ecto.NewError(fmt.Sprintf("action %q is not supported by the sqlite store", cs.Action), ecto.ErrBadArgument)
	}
}

func (s *Store) insertTx(ctx context.Context, tx *sql.Tx, cs changeset.Changeset, extra changeset.Values) (changeset.Changeset, error) {
	pkField := cs.Data.Key()
	pkType := cs.Data.Types[pkField]

	cols := changeset.Values{}
	for _, name := range sortedFieldNames(cs.Data.Types) {
		t := cs.Data.Types[name]
		switch t.Kind() {
		case schema.Assoc:
			continue
		case schema.Embed:
			v, err := embedColumn(cs, name)
			if err != nil {
				return cs, err
			}
			if v != nil {
				cols[name] = v
			}
		default:
			v := cs.GetField(name)
			_, changed := cs.Changes[name]
			if v != nil || changed {
				cols[name] = v
			}
		}
	}
	for k, v := range extra {
		cols[k] = v
	}

	var generated any
	if cols[pkField] == nil {
		delete(cols, pkField)
		if pkType != nil && pkType.Kind() == schema.UUID {
			id, err := uuid.NewRandom()
			if err != nil {
				return cs, fmt.Errorf("could not generate ID: %w", err)
			}
			cols[pkField] = id
			generated = id
		}
	}

	names := sortedKeys(cols)
	marks := make([]string, len(names))
	args := make([]any, len(names))
	for i, name := range names {
		marks[i] = "?"
		args[i] = bindValue(cols[name])
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s);`, cs.Data.Source, strings.Join(names, ", "), strings.Join(marks, ", "))
	s.log.Tracef("sqlite: %s", stmt)

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return s.translate(cs, err)
	}

	if generated == nil {
		if _, present := cols[pkField]; !present {
			if id, idErr := res.LastInsertId(); idErr == nil {
				generated = id
			}
		}
	}

	rec := cs.ApplyChanges()
	merged := changeset.Values{}
	for k, v := range extra {
		merged[k] = v
	}
	if generated != nil {
		merged[pkField] = generated
	}
	if len(merged) > 0 {
		rec = rec.WithFields(merged)
	}
	rec.Persisted = true

	rec, err = s.applyChildren(ctx, tx, cs, rec)
	if err != nil {
		return cs, err
	}

	out := cs
	out.Data = rec
	return out, nil
}

func (s *Store) updateTx(ctx context.Context, tx *sql.Tx, cs changeset.Changeset, extra changeset.Values) (changeset.Changeset, error) {
	pkField := cs.Data.Key()
	pkVal := cs.Data.KeyValue()
	if pkVal == nil {
		return cs, ecto.NewError("cannot update a record without its primary key", ecto.ErrBadArgument)
	}

	set := changeset.Values{}
	for _, name := range sortedFieldNames(cs.Data.Types) {
		t := cs.Data.Types[name]
		switch t.Kind() {
		case schema.Assoc:
			continue
		case schema.Embed:
			if _, changed := cs.Changes[name]; !changed {
				continue
			}
			v, err := embedColumn(cs, name)
			if err != nil {
				return cs, err
			}
			set[name] = v
		default:
			if v, changed := cs.Changes[name]; changed {
				set[name] = v
			}
		}
	}
	for k, v := range extra {
		set[k] = v
	}

	if len(set) > 0 {
		names := sortedKeys(set)
		assigns := make([]string, len(names))
		args := make([]any, 0, len(names)+1+len(cs.Filters))
		for i, name := range names {
			assigns[i] = name + " = ?"
			args = append(args, bindValue(set[name]))
		}

		where, whereArgs := whereClause(pkField, pkVal, cs.Filters)
		args = append(args, whereArgs...)

		stmt := fmt.Sprintf(`UPDATE %s SET %s WHERE %s;`, cs.Data.Source, strings.Join(assigns, ", "), where)
		s.log.Tracef("sqlite: %s", stmt)

		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return s.translate(cs, err)
		}
		rowsAff, err := res.RowsAffected()
		if err != nil {
			return cs, WrapDBError(err)
		}
		if rowsAff < 1 {
			return cs, ecto.NewError(fmt.Sprintf("no %s row matched the key and filters", cs.Data.Source), ecto.ErrStale)
		}
	} else if len(cs.Filters) > 0 {
		// nothing to write, but the liveness the filters assert must still
		// hold for nested writes to be safe
		where, whereArgs := whereClause(pkField, pkVal, cs.Filters)
		stmt := fmt.Sprintf(`SELECT 1 FROM %s WHERE %s LIMIT 1;`, cs.Data.Source, where)
		s.log.Tracef("sqlite: %s", stmt)

		var one int
		err := tx.QueryRowContext(ctx, stmt, whereArgs...).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return cs, ecto.NewError(fmt.Sprintf("no %s row matched the key and filters", cs.Data.Source), ecto.ErrStale)
		}
		if err != nil {
			return cs, WrapDBError(err)
		}
	}

	rec := cs.ApplyChanges()
	rec.Persisted = true

	rec, err := s.applyChildren(ctx, tx, cs, rec)
	if err != nil {
		return cs, err
	}

	out := cs
	out.Data = rec
	return out, nil
}

func (s *Store) deleteTx(ctx context.Context, tx *sql.Tx, cs changeset.Changeset) (changeset.Changeset, error) {
	pkField := cs.Data.Key()
	pkVal := cs.Data.KeyValue()
	if pkVal == nil {
		return cs, ecto.NewError("cannot delete a record without its primary key", ecto.ErrBadArgument)
	}

	where, args := whereClause(pkField, pkVal, cs.Filters)
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE %s;`, cs.Data.Source, where)
	s.log.Tracef("sqlite: %s", stmt)

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return s.translate(cs, err)
	}
	rowsAff, err := res.RowsAffected()
	if err != nil {
		return cs, WrapDBError(err)
	}
	if rowsAff < 1 {
		return cs, ecto.NewError(fmt.Sprintf("no %s row matched the key and filters", cs.Data.Source), ecto.ErrStale)
	}

	rec := cs.Data
	rec.Persisted = false

	out := cs
	out.Data = rec
	return out, nil
}

// applyChildren commits the association changes nested in the change-set and
// returns the applied record with its relation fields reflecting what was
// actually written. Embeds were already serialized into the parent row.
func (s *Store) applyChildren(ctx context.Context, tx *sql.Tx, cs changeset.Changeset, rec changeset.Record) (changeset.Record, error) {
	for _, name := range sortedFieldNames(cs.Data.Types) {
		t := cs.Data.Types[name]
		if t.Kind() != schema.Assoc {
			continue
		}
		change, ok := cs.Changes[name]
		if !ok {
			continue
		}
		rel := t.Rel()

		// the child's related key carries the parent's owner key, which is the
		// primary key unless the relation says otherwise
		parentPK := rec.KeyValue()
		if rel.OwnerKey != "" {
			parentPK = rec.Get(rel.OwnerKey)
		}

		switch ch := change.(type) {
		case nil:
			if err := s.clearChild(ctx, tx, rel, cs.Data.Get(name)); err != nil {
				return rec, err
			}
			rec = rec.WithFields(changeset.Values{name: nil})
		case *changeset.Changeset:
			if ch == nil {
				if err := s.clearChild(ctx, tx, rel, cs.Data.Get(name)); err != nil {
					return rec, err
				}
				rec = rec.WithFields(changeset.Values{name: nil})
				continue
			}
			kept, childRec, err := s.applyChild(ctx, tx, rel, parentPK, *ch)
			if err != nil {
				return rec, err
			}

			// an entry replaced by a different one still needs its policy
			// applied
			if old, isRec := cs.Data.Get(name).(changeset.Record); isRec {
				pkf := rel.Key()
				if !kept || !reflect.DeepEqual(childRec.Get(pkf), old.Get(pkf)) {
					if err := s.clearChildRecord(ctx, tx, rel, old); err != nil {
						return rec, err
					}
				}
			}

			if kept {
				rec = rec.WithFields(changeset.Values{name: childRec})
			} else {
				rec = rec.WithFields(changeset.Values{name: nil})
			}
		case []changeset.Changeset:
			var keptRecs []changeset.Record
			for _, child := range ch {
				kept, childRec, err := s.applyChild(ctx, tx, rel, parentPK, child)
				if err != nil {
					return rec, err
				}
				if kept {
					keptRecs = append(keptRecs, childRec)
				}
			}
			rec = rec.WithFields(changeset.Values{name: keptRecs})
		}
	}
	return rec, nil
}

// applyChild commits one nested change-set. kept reports whether the entry
// remains part of the relation afterward.
func (s *Store) applyChild(ctx context.Context, tx *sql.Tx, rel *schema.Relation, parentPK any, child changeset.Changeset) (kept bool, rec changeset.Record, err error) {
	switch child.Action {
	case changeset.ActionIgnore:
		return false, changeset.Record{}, nil
	case changeset.ActionReplace:
		if len(child.Changes) > 0 {
			// a detach: the recorded change nulls the related key
			return false, changeset.Record{}, s.detachChildRow(ctx, tx, rel, child.Data)
		}
		return false, changeset.Record{}, s.deleteChildRow(ctx, tx, rel, child.Data)
	case changeset.ActionDelete:
		_, err := s.deleteTx(ctx, tx, child)
		return false, changeset.Record{}, err
	case changeset.ActionInsert:
		extra := changeset.Values{}
		if rel.RelatedKey != "" {
			extra[rel.RelatedKey] = parentPK
		}
		out, err := s.applyTx(ctx, tx, child, extra)
		return err == nil, out.Data, err
	default:
		extra := changeset.Values{}
		if rel.RelatedKey != "" && child.Data.Get(rel.RelatedKey) == nil {
			extra[rel.RelatedKey] = parentPK
		}
		out, err := s.applyTx(ctx, tx, child, extra)
		return err == nil, out.Data, err
	}
}

// clearChild applies the relation's replacement policy to whatever the data
// snapshot holds for a cleared one-cardinality relation.
func (s *Store) clearChild(ctx context.Context, tx *sql.Tx, rel *schema.Relation, old any) error {
	switch rec := old.(type) {
	case nil:
		return nil
	case changeset.Record:
		return s.clearChildRecord(ctx, tx, rel, rec)
	case *changeset.Record:
		if rec == nil {
			return nil
		}
		return s.clearChildRecord(ctx, tx, rel, *rec)
	default:
		return nil
	}
}

func (s *Store) clearChildRecord(ctx context.Context, tx *sql.Tx, rel *schema.Relation, old changeset.Record) error {
	switch rel.OnReplace {
	case schema.Nilify:
		return s.detachChildRow(ctx, tx, rel, old)
	case schema.Delete, schema.DeleteIfExists:
		return s.deleteChildRow(ctx, tx, rel, old)
	default:
		// raise and mark-invalid were enforced during reconciliation; update
		// absorbs the entry instead of replacing it
		return nil
	}
}

func (s *Store) detachChildRow(ctx context.Context, tx *sql.Tx, rel *schema.Relation, old changeset.Record) error {
	pkf := rel.Key()
	pkVal := old.Get(pkf)
	if pkVal == nil {
		return nil
	}

	stmt := fmt.Sprintf(`UPDATE %s SET %s = NULL WHERE %s = ?;`, rel.Source, rel.RelatedKey, pkf)
	s.log.Tracef("sqlite: %s", stmt)

	if _, err := tx.ExecContext(ctx, stmt, bindValue(pkVal)); err != nil {
		return WrapDBError(err)
	}
	return nil
}

func (s *Store) deleteChildRow(ctx context.Context, tx *sql.Tx, rel *schema.Relation, old changeset.Record) error {
	pkf := rel.Key()
	pkVal := old.Get(pkf)
	if pkVal == nil {
		return nil
	}

	stmt := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?;`, rel.Source, pkf)
	s.log.Tracef("sqlite: %s", stmt)

	res, err := tx.ExecContext(ctx, stmt, bindValue(pkVal))
	if err != nil {
		return WrapDBError(err)
	}
	rowsAff, err := res.RowsAffected()
	if err != nil {
		return WrapDBError(err)
	}
	if rowsAff < 1 && rel.OnReplace == schema.Delete {
		return ecto.NewError(fmt.Sprintf("%s row to replace was already gone", rel.Source), ecto.ErrStale)
	}
	return nil
}

// translate converts a write rejection into the module's error protocol. If
// the violated constraint matches a declaration on the change-set, the
// violation is recorded as a field error on the returned change-set; the
// returned error matches ecto.ErrConstraintViolation either way.
func (s *Store) translate(cs changeset.Changeset, err error) (changeset.Changeset, error) {
	wrapped := WrapDBError(err)
	if !errors.Is(wrapped, ecto.ErrConstraintViolation) {
		return cs, wrapped
	}

	kind, name := parseConstraint(err.Error())
	for _, c := range cs.Constraints {
		if c.Kind != kind {
			continue
		}
		// sqlite reports foreign-key violations without the constraint name
		if name != "" && !c.Matches(name) {
			continue
		}
		s.log.Debugf("sqlite: translated %s violation %q to error on field %q", kind, name, c.Field)
		return cs.AddError(c.Field, c.Message, c.Meta), wrapped
	}

	s.log.Warnf("sqlite: no declared constraint matched violation: %s", err.Error())
	return cs, wrapped
}

var (
	uniqueViolationRe = regexp.MustCompile(`UNIQUE constraint failed: (\w+)\.(\w+)`)
	checkViolationRe  = regexp.MustCompile(`CHECK constraint failed: (\w+)`)
)

func parseConstraint(msg string) (changeset.ConstraintKind, string) {
	if m := uniqueViolationRe.FindStringSubmatch(msg); m != nil {
		return changeset.ConstraintUnique, fmt.Sprintf("%s_%s_index", m[1], m[2])
	}
	if m := checkViolationRe.FindStringSubmatch(msg); m != nil {
		return changeset.ConstraintCheck, m[1]
	}
	if strings.Contains(msg, "FOREIGN KEY constraint failed") {
		return changeset.ConstraintForeignKey, ""
	}
	return "", ""
}

func whereClause(pkField string, pkVal any, filters changeset.Values) (string, []any) {
	conds := []string{pkField + " = ?"}
	args := []any{bindValue(pkVal)}

	for _, name := range sortedKeys(filters) {
		v := filters[name]
		if v == nil {
			conds = append(conds, name+" IS NULL")
			continue
		}
		conds = append(conds, name+" = ?")
		args = append(args, bindValue(v))
	}
	return strings.Join(conds, " AND "), args
}

// embedColumn serializes the effective value of an embed field to its JSON
// column representation. Replaced entries of a many-embed are left out.
func embedColumn(cs changeset.Changeset, name string) (any, error) {
	if change, ok := cs.Changes[name]; ok {
		switch e := change.(type) {
		case nil:
			return nil, nil
		case *changeset.Changeset:
			if e == nil {
				return nil, nil
			}
			return marshalEmbed(cs, name, e.ApplyChanges().Fields)
		case []changeset.Changeset:
			entries := make([]map[string]any, 0, len(e))
			for _, child := range e {
				if child.Action == changeset.ActionReplace {
					continue
				}
				entries = append(entries, child.ApplyChanges().Fields)
			}
			return marshalEmbed(cs, name, entries)
		default:
			return marshalEmbed(cs, name, e)
		}
	}

	switch d := cs.Data.Get(name).(type) {
	case nil:
		return nil, nil
	case changeset.Record:
		return marshalEmbed(cs, name, d.Fields)
	case *changeset.Record:
		if d == nil {
			return nil, nil
		}
		return marshalEmbed(cs, name, d.Fields)
	case []changeset.Record:
		entries := make([]map[string]any, 0, len(d))
		for _, rec := range d {
			entries = append(entries, rec.Fields)
		}
		return marshalEmbed(cs, name, entries)
	default:
		return marshalEmbed(cs, name, d)
	}
}

func marshalEmbed(cs changeset.Changeset, name string, v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, ecto.NewError(fmt.Sprintf("field %q of %s: %s", name, cs.Data.Source, err.Error()), ecto.ErrDecodingFailure)
	}
	return string(b), nil
}

// bindValue converts a field value to a driver-friendly representation.
func bindValue(v any) any {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String()
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case []any, map[string]any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	default:
		return v
	}
}
