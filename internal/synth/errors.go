package synth

import "errors"

// ErrInvalidConfig reports a generator configuration that cannot produce a fleet.
var ErrInvalidConfig = errors.New("invalid synth config")
