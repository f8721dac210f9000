// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"time"
)

// Aggregation selects how raw points inside one bucket collapse to a value.
type Aggregation string

const (
	AggAvg  Aggregation = "avg"
	AggLast Aggregation = "last"
	AggSum  Aggregation = "sum"
)

// Valid reports whether a is a known aggregation mode.
func (a Aggregation) Valid() bool {
	return a == AggAvg || a == AggLast || a == AggSum
}

// Point is one raw stored sample. Quality is carried but ignored by analysis.
type Point struct {
	TS      time.Time
	Value   float64
	Quality string
}

// Bucket is an epoch-aligned aggregate. Start is unix seconds.
type Bucket struct {
	Start int64
	Value float64
}

// MarshalJSON renders the bucket start as RFC3339.
func (b Bucket) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TS    string  `json:"ts"`
		Value float64 `json:"value"`
	}{TS: FormatUnix(b.Start), Value: b.Value})
}

// Series is a gap-tolerant bucketed series. Buckets are strictly ascending by Start.
type Series struct {
	SensorID string      `json:"sensor_id"`
	Interval int64       `json:"interval_seconds"`
	Mode     Aggregation `json:"aggregation"`
	Buckets  []Bucket    `json:"buckets"`
}

// Len returns the number of buckets.
func (s Series) Len() int { return len(s.Buckets) }

// Delta is the change between two consecutive buckets, stamped at the later one.
type Delta struct {
	TS    int64
	Value float64
}

// FormatUnix renders unix seconds as RFC3339 in UTC.
func FormatUnix(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

// Timestamps is a list of unix seconds rendered as RFC3339 strings.
type Timestamps []int64

// MarshalJSON renders each timestamp as RFC3339.
func (ts Timestamps) MarshalJSON() ([]byte, error) {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = FormatUnix(t)
	}
	return json.Marshal(out)
}
