package resample

import "errors"

// Sentinel errors for resampling and derived-sensor resolution.
var (
	ErrDependencyCycle = errors.New("derived sensor dependency cycle")
	ErrDependencyDepth = errors.New("derived sensor dependency depth exceeded")
	ErrUnknownSensor   = errors.New("unknown sensor")
	ErrInvalidFormula  = errors.New("invalid formula")
	ErrInvalidWindow   = errors.New("invalid time window")
)
