// Package sqlite provides a SQLite-backed persistence collaborator for
// change-sets.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/WernerBuchert/ecto"
	"github.com/WernerBuchert/ecto/changeset"
	"github.com/WernerBuchert/ecto/logging"
	"github.com/WernerBuchert/ecto/repo"
	"github.com/WernerBuchert/ecto/schema"
	"modernc.org/sqlite"
)

// Store commits change-sets against a SQLite database. It implements
// repo.Repo and repo.Checker.
type Store struct {
	db  *sql.DB
	log logging.Logger
}

var (
	_ repo.Repo    = (*Store)(nil)
	_ repo.Checker = (*Store)(nil)
)

// New opens the SQLite database at file and returns a store over it. A nil
// logger disables logging.
func New(file string, log logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return nil, WrapDBError(err)
	}
	return NewFromDB(db, log), nil
}

// NewFromDB returns a store over an already-opened database handle. A nil
// logger disables logging.
func NewFromDB(db *sql.DB, log logging.Logger) *Store {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Store{db: db, log: log}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InitTable creates the table for the record's source if it does not already
// exist, deriving column types from the record's field types. Association
// fields get no column; their entries live in their own source.
func (s *Store) InitTable(ctx context.Context, rec changeset.Record) error {
	pkField := rec.Key()

	var defs []string
	for _, name := range sortedFieldNames(rec.Types) {
		t := rec.Types[name]
		if t.Kind() == schema.Assoc {
			continue
		}
		def := fmt.Sprintf("%s %s", name, sqlType(t))
		if name == pkField {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, rec.Source, strings.Join(defs, ", "))
	s.log.Tracef("sqlite: %s", stmt)

	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return WrapDBError(err)
	}
	return nil
}

func sqlType(t *schema.Type) string {
	switch t.Kind() {
	case schema.Integer, schema.Boolean:
		return "INTEGER"
	case schema.Float:
		return "REAL"
	default:
		// strings, identifiers, temporal values, decimals, and JSON-encoded
		// composites all store as text
		return "TEXT"
	}
}

// WrapDBError wraps an error from the SQLite engine into an error useable by
// the rest of the module. It should be called on any error returned from
// SQLite before the store passes the error back to a caller.
func WrapDBError(err error) error {
	sqliteErr := &sqlite.Error{}
	if errors.As(err, &sqliteErr) {
		primaryCode := sqliteErr.Code() & 0xff
		if primaryCode == 19 {
			return fmt.Errorf("%w: %s", ecto.ErrConstraintViolation, err.Error())
		}
		if primaryCode == 1 {
			// this is a generic error and thus the string is not descriptive,
			// so preserve the original error instead
			return err
		}
		return fmt.Errorf("%s", sqlite.ErrorCodeString[sqliteErr.Code()])
	} else if errors.Is(err, sql.ErrNoRows) {
		return ecto.ErrNotFound
	}
	if strings.Contains(err.Error(), "constraint failed") {
		// drivers and pools sometimes surface the engine message without the
		// typed error
		return fmt.Errorf("%w: %s", ecto.ErrConstraintViolation, err.Error())
	}
	return fmt.Errorf("%w: %s", ecto.ErrDB, err.Error())
}

func sortedFieldNames(types map[string]*schema.Type) []string {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(vals changeset.Values) []string {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
