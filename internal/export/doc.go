// Package export pushes accumulated daily stat records to the central
// store.
//
// Records are sent per account in batches of bounded size. The first batch
// of an account carries its business overlay. The remote store resolves
// conflicts (last write on the same key wins), so a batch that fails is
// logged and skipped rather than retried until it succeeds.
package export
