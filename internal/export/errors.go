package export

import "errors"

var (
	// ErrBatchRejected is returned when the central store answers a batch
	// with success=false.
	ErrBatchRejected = errors.New("export: batch rejected by central store")

	// ErrNoSinks is returned by NewExporter when no sink is configured.
	ErrNoSinks = errors.New("export: no sinks configured")
)
