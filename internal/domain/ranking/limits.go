// Package ranking clamps request limits and blends pool-relative evidence into
// a deterministic ranked list.
package ranking

import "math"

// Bound is a fixed server-side clamp range. Quick caps the value in quick mode;
// zero means no quick cap.
type Bound struct {
	Min, Max, Default, Quick int
}

// Clamp returns the bounded value for a caller-supplied pointer (nil = default).
func (b Bound) Clamp(v *int, quick bool) int {
	out := b.Default
	if v != nil {
		out = *v
	}
	if out < b.Min {
		out = b.Min
	}
	if out > b.Max {
		out = b.Max
	}
	if quick && b.Quick > 0 && out > b.Quick {
		out = b.Quick
	}
	return out
}

// Bounds for every size-governing parameter.
var (
	CandidateLimit       = Bound{Min: 10, Max: 500, Default: 100, Quick: 50}
	MaxResults           = Bound{Min: 1, Max: 100, Default: 25, Quick: 10}
	MaxBuckets           = Bound{Min: 100, Max: 20000, Default: 5000, Quick: 2000}
	MaxEvents            = Bound{Min: 10, Max: 2000, Default: 500, Quick: 200}
	MaxEpisodes          = Bound{Min: 1, Max: 50, Default: 10, Quick: 5}
	ToleranceBuckets     = Bound{Min: 0, Max: 10, Default: 1, Quick: 1}
	MaxLagBuckets        = Bound{Min: 0, Max: 120, Default: 12, Quick: 6}
	MinSensors           = Bound{Min: 2, Max: 50, Default: 2}
	MinSeparationBuckets = Bound{Min: 0, Max: 100, Default: 2}
	EpisodeGapBuckets    = Bound{Min: 1, Max: 1000, Default: 3}
	CooccurrenceBuckets  = Bound{Min: 1, Max: 1000, Default: 200, Quick: 100}
	CorrelationTopK      = Bound{Min: 0, Max: 8, Default: 0}
)

// Z threshold range.
const (
	ZThresholdMin     = 1.0
	ZThresholdMax     = 20.0
	ZThresholdDefault = 3.0
)

// Requested carries caller-supplied limits; nil fields take defaults.
type Requested struct {
	CandidateLimit       *int
	MaxResults           *int
	MaxBuckets           *int
	MaxEvents            *int
	MaxEpisodes          *int
	ToleranceBuckets     *int
	MaxLagBuckets        *int
	MinSensors           *int
	MinSeparationBuckets *int
	EpisodeGapBuckets    *int
	CooccurrenceBuckets  *int
	CorrelationTopK      *int
	ZThreshold           *float64
	Quick                bool
}

// Limits are the effective, clamped parameters reported back as limits_used.
type Limits struct {
	CandidateLimit       int     `json:"candidate_limit"`
	MaxResults           int     `json:"max_results"`
	MaxBuckets           int     `json:"max_buckets"`
	MaxEvents            int     `json:"max_events"`
	MaxEpisodes          int     `json:"max_episodes"`
	ToleranceBuckets     int     `json:"tolerance_buckets"`
	MaxLagBuckets        int     `json:"max_lag_buckets"`
	MinSensors           int     `json:"min_sensors"`
	MinSeparationBuckets int     `json:"min_separation_buckets"`
	EpisodeGapBuckets    int     `json:"episode_gap_buckets"`
	CooccurrenceBuckets  int     `json:"cooccurrence_buckets"`
	CorrelationTopK      int     `json:"correlation_top_k"`
	ZThreshold           float64 `json:"z_threshold"`
	Quick                bool    `json:"quick"`
	IntervalSeconds      int64   `json:"interval_seconds"`
	IntervalAdjusted     bool    `json:"interval_adjusted"`
}

// Resolve clamps every requested value into its bound. serverMaxBuckets, when
// positive, further caps MaxBuckets.
func Resolve(r Requested, serverMaxBuckets int) Limits {
	q := r.Quick
	l := Limits{
		CandidateLimit:       CandidateLimit.Clamp(r.CandidateLimit, q),
		MaxResults:           MaxResults.Clamp(r.MaxResults, q),
		MaxBuckets:           MaxBuckets.Clamp(r.MaxBuckets, q),
		MaxEvents:            MaxEvents.Clamp(r.MaxEvents, q),
		MaxEpisodes:          MaxEpisodes.Clamp(r.MaxEpisodes, q),
		ToleranceBuckets:     ToleranceBuckets.Clamp(r.ToleranceBuckets, q),
		MaxLagBuckets:        MaxLagBuckets.Clamp(r.MaxLagBuckets, q),
		MinSensors:           MinSensors.Clamp(r.MinSensors, q),
		MinSeparationBuckets: MinSeparationBuckets.Clamp(r.MinSeparationBuckets, q),
		EpisodeGapBuckets:    EpisodeGapBuckets.Clamp(r.EpisodeGapBuckets, q),
		CooccurrenceBuckets:  CooccurrenceBuckets.Clamp(r.CooccurrenceBuckets, q),
		CorrelationTopK:      CorrelationTopK.Clamp(r.CorrelationTopK, q),
		ZThreshold:           ZThresholdDefault,
		Quick:                q,
	}
	if serverMaxBuckets > 0 && l.MaxBuckets > serverMaxBuckets {
		l.MaxBuckets = serverMaxBuckets
	}
	if r.ZThreshold != nil && !math.IsNaN(*r.ZThreshold) {
		l.ZThreshold = math.Min(math.Max(*r.ZThreshold, ZThresholdMin), ZThresholdMax)
	}
	return l
}
