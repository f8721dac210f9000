package catalog

import "errors"

var (
	// ErrNotFound is returned when a sensor ID is not in the catalog.
	ErrNotFound = errors.New("sensor not found")
	// ErrInvalidCatalog is returned for malformed catalog documents.
	ErrInvalidCatalog = errors.New("invalid catalog")
)
