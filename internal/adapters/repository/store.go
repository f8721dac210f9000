// Package repository provides point stores that serve bucketed reads to the engine.
package repository

import (
	"context"
	"time"

	"github.com/okian/sensorlink/internal/domain/model"
)

// Store provides read/write access to raw sensor points.
type Store interface {
	// Append stores raw points for a sensor.
	Append(ctx context.Context, sensorID string, points ...model.Point) error

	// ReadBucketed aggregates points in [start, end) into epoch-aligned buckets.
	ReadBucketed(ctx context.Context, sensorID string, start, end time.Time, intervalSec int64, mode model.Aggregation) (model.Series, error)

	// SensorIDs lists sensors that have at least one stored point.
	SensorIDs(ctx context.Context) ([]string, error)

	// Count returns the number of stored points.
	Count(ctx context.Context) (int, error)

	Close() error
}

func validateRead(sensorID string, start, end time.Time, intervalSec int64) error {
	switch {
	case sensorID == "":
		return ErrInvalidInput
	case intervalSec <= 0:
		return ErrInvalidInterval
	case !end.After(start):
		return ErrInvalidWindow
	}
	return nil
}

// wholeSecond drops sub-second precision; stores keep timestamps as Unix seconds.
func wholeSecond(t time.Time) time.Time {
	return time.Unix(t.Unix(), 0)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}

// Open returns the store for driver: "memory", "sqlite3" or "postgres".
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	if driver == "" || driver == "memory" {
		return NewMemoryStore(), nil
	}
	return OpenSQL(ctx, driver, dsn, opts...)
}
