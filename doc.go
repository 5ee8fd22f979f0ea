// Package ecto is a change-set engine: it takes a snapshot of existing data
// and a typed field schema, accepts proposed field updates, coerces and
// validates them, and tracks the result as a discrete set of changes separate
// from the original data. Business-rule violations accumulate as errors on the
// change-set instead of aborting, so a caller can chain every validation it
// cares about and check validity once at the end.
//
// The root package holds the error machinery shared by all subpackages. The
// interesting parts live below it:
//
//   - schema holds the field type descriptors and the value coercion engine.
//   - changeset holds the Changeset value and all operations on it: casting,
//     validation, nested relation reconciliation, constraints, optimistic
//     locking, merging and error traversal.
//   - repo defines the persistence collaborator boundary that consumes a
//     finished change-set, and repo/sqlite implements it over SQLite.
//   - logging provides the pluggable logger used by the repo implementations.
//
// The engine itself performs no I/O. The only operations that may touch the
// outside world are the advisory uniqueness check and caller-supplied builder
// functions, both of which are injected.
package ecto
