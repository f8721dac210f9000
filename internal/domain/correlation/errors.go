package correlation

import "errors"

// Sentinel errors for correlation requests.
var (
	ErrUnknownMethod = errors.New("unknown correlation method")
	ErrSensorCount   = errors.New("sensor count out of range")
)
