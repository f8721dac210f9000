package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidInterval = errors.New("invalid bucket interval")
	ErrInvalidWindow   = errors.New("invalid time window")
	ErrUnknownDriver   = errors.New("unknown store driver")
	ErrDB              = errors.New("db error")
)
