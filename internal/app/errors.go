package service

import (
	"errors"

	"github.com/okian/sensorlink/internal/domain/resample"
)

// Sentinel kinds returned by the service.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownSensor  = resample.ErrUnknownSensor
	ErrJobNotFound    = errors.New("job not found")
	ErrJobFinished    = errors.New("job already finished")
	ErrBackpressure   = errors.New("job queue full")
)
