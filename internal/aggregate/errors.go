package aggregate

import "errors"

// Sentinel errors for the aggregate service layer.
var (
	ErrNotFound = errors.New("daily stat not found")
)
