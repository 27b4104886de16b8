// Package aggregate folds metric fragments into one record per account and
// calendar day.
//
// Two platform fetchers may touch the same day in either order, in separate
// runs, months apart. Merge is the single place they converge: it reads the
// stored record, applies only the fields present in the fragment, recomputes
// the cross-platform totals and writes the record back through an upsert
// keyed on (account, date). The read-modify-write runs under a per-account
// lock so parallel runs never lose each other's fields.
//
// The service depends on the Repository interface only; it never imports
// database/sql directly.
package aggregate
