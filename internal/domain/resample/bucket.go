// Package resample turns raw points into epoch-aligned bucketed series and
// resolves derived sensors over their inputs.
package resample

import (
	"math"
	"sort"
	"strings"

	"github.com/okian/sensorlink/internal/domain/model"
)

// Keyword lists for the aggregation heuristic. Sum is checked first.
var (
	sumKeywords  = []string{"pulse", "flow", "rain", "counter"}
	lastKeywords = []string{"state", "status", "bool", "switch", "contact", "mode"}
)

// FloorDiv is integer division rounding toward negative infinity.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// BucketStart returns the start of the epoch-aligned bucket containing unix.
// It is independent of any query window.
func BucketStart(unix, interval int64) int64 {
	return FloorDiv(unix, interval) * interval
}

// ModeFor picks the aggregation mode for a sensor type string.
func ModeFor(sensorType string) model.Aggregation {
	t := strings.ToLower(sensorType)
	for _, k := range sumKeywords {
		if strings.Contains(t, k) {
			return model.AggSum
		}
	}
	for _, k := range lastKeywords {
		if strings.Contains(t, k) {
			return model.AggLast
		}
	}
	return model.AggAvg
}

// EffectiveInterval returns the interval used for a window [start, end).
// A non-positive requested interval falls back to def. When the window would
// need more than maxBuckets buckets the interval widens to ceil(window/maxBuckets)
// and adjusted is true.
func EffectiveInterval(start, end, requested, def int64, maxBuckets int) (interval int64, adjusted bool) {
	interval = requested
	if interval <= 0 {
		interval = def
	}
	if interval <= 0 {
		interval = 1
	}
	window := end - start
	if window <= 0 || maxBuckets <= 0 {
		return interval, false
	}
	if ceilDiv(window, interval) > int64(maxBuckets) {
		return ceilDiv(window, int64(maxBuckets)), true
	}
	return interval, false
}

func ceilDiv(a, b int64) int64 {
	return -FloorDiv(-a, b)
}

// Bucketize aggregates points into epoch-aligned buckets. Non-finite values are
// skipped; a bucket exists only when at least one finite point landed in it.
// For AggLast the point with the latest timestamp wins; on equal timestamps the
// later input wins.
func Bucketize(sensorID string, points []model.Point, interval int64, mode model.Aggregation) model.Series {
	out := model.Series{SensorID: sensorID, Interval: interval, Mode: mode}
	if interval <= 0 || len(points) == 0 {
		return out
	}

	type acc struct {
		sum    float64
		n      int
		last   float64
		lastTS int64
	}
	accs := make(map[int64]*acc)
	for _, p := range points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			continue
		}
		ts := p.TS.Unix()
		start := BucketStart(ts, interval)
		a, ok := accs[start]
		if !ok {
			a = &acc{lastTS: math.MinInt64}
			accs[start] = a
		}
		a.sum += p.Value
		a.n++
		if ts >= a.lastTS {
			a.last, a.lastTS = p.Value, ts
		}
	}

	out.Buckets = make([]model.Bucket, 0, len(accs))
	for start, a := range accs {
		var v float64
		switch mode {
		case model.AggSum:
			v = a.sum
		case model.AggLast:
			v = a.last
		default:
			v = a.sum / float64(a.n)
		}
		out.Buckets = append(out.Buckets, model.Bucket{Start: start, Value: v})
	}
	sort.Slice(out.Buckets, func(i, j int) bool { return out.Buckets[i].Start < out.Buckets[j].Start })
	return out
}
