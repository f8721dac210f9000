// Package events extracts robust-z-scored step changes from bucketed series.
package events

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/okian/sensorlink/internal/domain/model"
)

// Polarity filters events by the sign of z.
type Polarity string

const (
	PolarityBoth Polarity = "both"
	PolarityUp   Polarity = "up"
	PolarityDown Polarity = "down"
)

// Valid reports whether p is a known polarity.
func (p Polarity) Valid() bool {
	return p == PolarityBoth || p == PolarityUp || p == PolarityDown
}

const (
	madToSigma = 1.4826
	iqrToSigma = 1.349
	scaleEps   = 1e-9
)

// Scale sources reported in Stats.
const (
	ScaleMAD  = "mad"
	ScaleIQR  = "iqr"
	ScaleUnit = "unit"
)

// Params configures detection.
type Params struct {
	ZThreshold           float64
	Polarity             Polarity
	MinSeparationBuckets int
	MaxEvents            int
}

// Stats describes the robust center and scale used for one series.
type Stats struct {
	Deltas      int     `json:"deltas"`
	Center      float64 `json:"center"`
	Scale       float64 `json:"scale"`
	ScaleSource string  `json:"scale_source"`
}

// Deltas returns consecutive bucket differences stamped at the later bucket.
// A pair with a non-finite operand is skipped.
func Deltas(s model.Series) []model.Delta {
	if len(s.Buckets) < 2 {
		return nil
	}
	out := make([]model.Delta, 0, len(s.Buckets)-1)
	for i := 1; i < len(s.Buckets); i++ {
		prev, cur := s.Buckets[i-1].Value, s.Buckets[i].Value
		if !finite(prev) || !finite(cur) {
			continue
		}
		out = append(out, model.Delta{TS: s.Buckets[i].Start, Value: cur - prev})
	}
	return out
}

// RobustScale returns median(Δ) and a scale: 1.4826·MAD, else IQR/1.349, else 1.
func RobustScale(values []float64) (center, scale float64, source string) {
	data := stats.Float64Data(values)
	center, err := stats.Median(data)
	if err != nil {
		return 0, 1, ScaleUnit
	}
	if mad, err := stats.MedianAbsoluteDeviation(data); err == nil && finite(mad) && mad > scaleEps {
		return center, madToSigma * mad, ScaleMAD
	}
	iqr, err := stats.InterQuartileRange(data)
	if err != nil || !finite(iqr) {
		iqr = 0
	}
	if s := iqr / iqrToSigma; s > scaleEps {
		return center, s, ScaleIQR
	}
	return center, 1, ScaleUnit
}

// Detect scores deltas with a robust z and returns time-ordered events after
// thresholding, polarity filtering, separation dedupe and the count cap.
func Detect(s model.Series, p Params) ([]model.Event, Stats) {
	deltas := Deltas(s)
	st := Stats{Deltas: len(deltas), Scale: 1, ScaleSource: ScaleUnit}
	if len(deltas) == 0 {
		return nil, st
	}

	values := make([]float64, len(deltas))
	for i, d := range deltas {
		values[i] = d.Value
	}
	st.Center, st.Scale, st.ScaleSource = RobustScale(values)

	var out []model.Event
	for _, d := range deltas {
		z := (d.Value - st.Center) / st.Scale
		if math.Abs(z) < p.ZThreshold || !keep(p.Polarity, z) {
			continue
		}
		out = append(out, model.Event{SensorID: s.SensorID, TS: d.TS, Z: z})
	}

	out = Dedupe(out, int64(p.MinSeparationBuckets)*s.Interval)
	return Cap(out, p.MaxEvents), st
}

func keep(p Polarity, z float64) bool {
	switch p {
	case PolarityUp:
		return z > 0
	case PolarityDown:
		return z < 0
	default:
		return true
	}
}

// Dedupe scans time-ordered events; an event closer than minSep seconds to the
// last kept one replaces it only when its |z| is strictly larger.
// minSep <= 0 disables dedupe.
func Dedupe(evs []model.Event, minSep int64) []model.Event {
	if minSep <= 0 || len(evs) < 2 {
		return evs
	}
	out := make([]model.Event, 0, len(evs))
	for _, e := range evs {
		if n := len(out); n > 0 && e.TS-out[n-1].TS < minSep {
			if math.Abs(e.Z) > math.Abs(out[n-1].Z) {
				out[n-1] = e
			}
			continue
		}
		out = append(out, e)
	}
	return out
}

// Cap keeps the limit largest-|z| events (earlier first on ties) in time order.
// limit <= 0 disables the cap.
func Cap(evs []model.Event, limit int) []model.Event {
	if limit <= 0 || len(evs) <= limit {
		return evs
	}
	top := append([]model.Event(nil), evs...)
	sort.SliceStable(top, func(i, j int) bool {
		ai, aj := math.Abs(top[i].Z), math.Abs(top[j].Z)
		if ai != aj {
			return ai > aj
		}
		return top[i].TS < top[j].TS
	})
	top = top[:limit]
	sort.Slice(top, func(i, j int) bool { return top[i].TS < top[j].TS })
	return top
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
