// Package cooccur finds buckets where several sensors fire events together and
// tallies a focus-weighted score per candidate.
package cooccur

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/internal/domain/resample"
)

// MaxRecentBuckets caps the representative bucket timestamps kept per candidate.
const MaxRecentBuckets = 10

// Params configures grouping and selection.
type Params struct {
	Interval   int64
	Tolerance  int
	MinSensors int
	MaxBuckets int
}

// Index maps tolerance-expanded bucket indices to the strongest signed z of one sensor.
type Index struct {
	SensorID string
	Hits     map[int64]float64
}

// Expand maps each event to b = floor(t/Δt), widens it to [b-τ, b+τ] and keeps
// the larger-|z| event per index.
func Expand(sensorID string, evs []model.Event, interval int64, tolerance int) Index {
	idx := Index{SensorID: sensorID, Hits: make(map[int64]float64, len(evs)*(2*tolerance+1))}
	if interval <= 0 {
		return idx
	}
	for _, e := range evs {
		b := resample.FloorDiv(e.TS, interval)
		for d := -tolerance; d <= tolerance; d++ {
			k := b + int64(d)
			if prev, ok := idx.Hits[k]; !ok || math.Abs(e.Z) > math.Abs(prev) {
				idx.Hits[k] = e.Z
			}
		}
	}
	return idx
}

// Bucket is a selected co-occurrence bucket.
type Bucket struct {
	Index    int64
	Start    int64
	Sensors  []string
	Severity float64
	Score    float64
}

// MarshalJSON renders the bucket start as RFC3339.
func (b Bucket) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TS       string   `json:"ts"`
		Sensors  []string `json:"sensors"`
		Severity float64  `json:"severity"`
		Score    float64  `json:"score"`
	}{TS: model.FormatUnix(b.Start), Sensors: b.Sensors, Severity: b.Severity, Score: b.Score})
}

// Tally is the per-candidate co-occurrence evidence.
type Tally struct {
	Score   float64
	Count   int
	Buckets model.Timestamps
}

// Result holds the selected buckets and candidate tallies.
type Result struct {
	Buckets    []Bucket
	Candidates map[string]Tally
}

type group struct {
	index    int64
	sensors  []string
	severity float64
	score    float64
}

// Score groups expanded indexes per bucket, keeps groups with at least
// MinSensors members (and the focus, when focusID is set), selects the top
// MaxBuckets by pair_weight·severity with ±τ non-maximum suppression and tallies
// |z_focus|·|z_C| per candidate.
func Score(indexes []Index, focusID string, p Params) Result {
	res := Result{Candidates: make(map[string]Tally)}

	byID := make(map[string]Index, len(indexes))
	members := make(map[int64][]string)
	for _, ix := range indexes {
		byID[ix.SensorID] = ix
		for k := range ix.Hits {
			members[k] = append(members[k], ix.SensorID)
		}
	}

	groups := make([]group, 0, len(members))
	for k, ids := range members {
		if len(ids) < p.MinSensors {
			continue
		}
		if focusID != "" {
			if _, ok := byID[focusID].Hits[k]; !ok {
				continue
			}
		}
		sort.Strings(ids)
		g := group{index: k, sensors: ids}
		for _, id := range ids {
			g.severity += math.Abs(byID[id].Hits[k])
		}
		n := float64(len(ids))
		g.score = n * (n - 1) / 2 * g.severity
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].score != groups[j].score {
			return groups[i].score > groups[j].score
		}
		return groups[i].index < groups[j].index
	})

	tol := int64(p.Tolerance)
	recent := make(map[string][]int64)
	for _, g := range groups {
		if p.MaxBuckets > 0 && len(res.Buckets) >= p.MaxBuckets {
			break
		}
		suppressed := false
		for _, sel := range res.Buckets {
			if d := g.index - sel.Index; d >= -tol && d <= tol {
				suppressed = true
				break
			}
		}
		if suppressed {
			continue
		}
		start := g.index * p.Interval
		res.Buckets = append(res.Buckets, Bucket{
			Index: g.index, Start: start, Sensors: g.sensors, Severity: g.severity, Score: g.score,
		})

		if focusID == "" {
			continue
		}
		zf := math.Abs(byID[focusID].Hits[g.index])
		for _, id := range g.sensors {
			if id == focusID {
				continue
			}
			t := res.Candidates[id]
			t.Score += zf * math.Abs(byID[id].Hits[g.index])
			t.Count++
			res.Candidates[id] = t
			recent[id] = append(recent[id], start)
		}
	}

	for id, starts := range recent {
		sort.Slice(starts, func(i, j int) bool { return starts[i] > starts[j] })
		if len(starts) > MaxRecentBuckets {
			starts = starts[:MaxRecentBuckets]
		}
		t := res.Candidates[id]
		t.Buckets = model.Timestamps(starts)
		res.Candidates[id] = t
	}
	return res
}
