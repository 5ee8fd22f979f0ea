package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/WernerBuchert/ecto/changeset"
)

// Exists answers an advisory existence query. The method value satisfies
// changeset.ExistsFunc, so a store can be handed directly to
// UnsafeValidateUnique.
func (s *Store) Exists(ctx context.Context, q changeset.ExistsQuery) (bool, error) {
	var conds []string
	var args []any
	for _, c := range q.Conds {
		if c.Value == nil {
			conds = append(conds, c.Field+" IS NULL")
			continue
		}
		conds = append(conds, c.Field+" = ?")
		args = append(args, bindValue(c.Value))
	}
	if q.Exclude != nil {
		conds = append(conds, q.Exclude.Field+" <> ?")
		args = append(args, bindValue(q.Exclude.Value))
	}

	stmt := fmt.Sprintf(`SELECT 1 FROM %s WHERE %s LIMIT 1;`, q.Source, strings.Join(conds, " AND "))
	s.log.Tracef("sqlite: %s", stmt)

	var one int
	err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, WrapDBError(err)
	}
	return true, nil
}
