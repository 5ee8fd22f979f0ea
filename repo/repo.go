// Package repo defines the persistence collaborator contract consumed by
// change-sets. The core change-set machinery never performs I/O itself; a
// Repo takes a fully built change-set and commits it, converting declared
// constraint violations and stale-write rejections into the error protocol
// the rest of the module speaks.
package repo

import (
	"context"

	"github.com/WernerBuchert/ecto/changeset"
)

// Repo commits change-sets against a storage backend.
//
// Each operation returns the change-set it acted on. On success the returned
// change-set carries the applied record as its data, marked persisted, with
// any generated identity filled in. On failure the error matches one of the
// root ecto sentinels: ErrInvalid for a change-set that already carried
// recorded errors, ErrStale when an optimistic-concurrency filter rejected
// the write, and ErrConstraintViolation when the database rejected it - in
// which case the returned change-set has the violation recorded as a field
// error, provided a matching constraint was declared.
type Repo interface {
	Insert(ctx context.Context, cs changeset.Changeset) (changeset.Changeset, error)
	Update(ctx context.Context, cs changeset.Changeset) (changeset.Changeset, error)
	Delete(ctx context.Context, cs changeset.Changeset) (changeset.Changeset, error)

	Close() error
}

// Checker answers the advisory existence queries issued by
// changeset.UnsafeValidateUnique. A Checker's Exists method satisfies
// changeset.ExistsFunc.
type Checker interface {
	Exists(ctx context.Context, q changeset.ExistsQuery) (bool, error)
}
