package ranking

import (
	"math"
	"sort"

	"github.com/okian/sensorlink/internal/domain/model"
)

// Tier thresholds.
const (
	highScore   = 0.75
	mediumScore = 0.35
)

// Weights balance the two evidence channels before renormalization.
type Weights struct {
	Events       float64 `json:"events"`
	Cooccurrence float64 `json:"cooccurrence"`
}

// Normalize clamps negative or non-finite weights to zero and rescales the
// pair to sum to one; two zero weights become 0.5/0.5.
func (w Weights) Normalize() Weights {
	e, k := nonNeg(w.Events), nonNeg(w.Cooccurrence)
	if e+k == 0 {
		return Weights{Events: 0.5, Cooccurrence: 0.5}
	}
	we := e / (e + k)
	return Weights{Events: we, Cooccurrence: 1 - we}
}

// Candidate is the raw pass-one evidence for one pool member.
type Candidate struct {
	SensorID string
	Evidence model.Evidence
}

// Options control filtering and truncation.
type Options struct {
	Weights              Weights
	IncludeLowConfidence bool
	MaxResults           int
}

// Ranking is the blended, sorted and truncated output.
type Ranking struct {
	Candidates []model.RankedCandidate
	// Truncated lists IDs dropped by the MaxResults cut, in rank order.
	Truncated []string
	// DroppedLow counts Low-tier candidates filtered out.
	DroppedLow int
}

// TierFor assigns the heuristic confidence tier.
func TierFor(blended float64, overlap, count int) model.Tier {
	switch {
	case blended >= highScore && (overlap >= 2 || count >= 2):
		return model.TierHigh
	case blended >= mediumScore && (overlap >= 1 || count >= 1):
		return model.TierMedium
	default:
		return model.TierLow
	}
}

// Blend normalizes both channels against the maxima of this pool, blends them,
// drops non-positive scores and Low tiers (unless requested), sorts and truncates.
// The result is a pure function of its inputs.
func Blend(pool []Candidate, opts Options) Ranking {
	var eMax, kMax float64
	for _, c := range pool {
		if s := c.Evidence.EventsScore; finite(s) && s > eMax {
			eMax = s
		}
		if s := c.Evidence.CooccurrenceScore; finite(s) && s > kMax {
			kMax = s
		}
	}
	w := opts.Weights.Normalize()

	var out Ranking
	ranked := make([]model.RankedCandidate, 0, len(pool))
	for _, c := range pool {
		b := w.Events*norm(c.Evidence.EventsScore, eMax) + w.Cooccurrence*norm(c.Evidence.CooccurrenceScore, kMax)
		if !finite(b) || b <= 0 {
			continue
		}
		tier := TierFor(b, c.Evidence.EventsOverlap, c.Evidence.CooccurrenceCount)
		if tier == model.TierLow && !opts.IncludeLowConfidence {
			out.DroppedLow++
			continue
		}
		ranked = append(ranked, model.RankedCandidate{
			SensorID: c.SensorID, Evidence: c.Evidence, BlendedScore: b, Confidence: tier,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return less(ranked[i], ranked[j]) })

	if opts.MaxResults > 0 && len(ranked) > opts.MaxResults {
		for _, r := range ranked[opts.MaxResults:] {
			out.Truncated = append(out.Truncated, r.SensorID)
		}
		ranked = ranked[:opts.MaxResults]
	}
	out.Candidates = ranked
	return out
}

// less orders by blended desc, tier, co-occurrence count desc, overlap desc, sensor ID asc.
func less(a, b model.RankedCandidate) bool {
	if a.BlendedScore != b.BlendedScore {
		return a.BlendedScore > b.BlendedScore
	}
	if ta, tb := a.Confidence.Rank(), b.Confidence.Rank(); ta != tb {
		return ta > tb
	}
	if a.Evidence.CooccurrenceCount != b.Evidence.CooccurrenceCount {
		return a.Evidence.CooccurrenceCount > b.Evidence.CooccurrenceCount
	}
	if a.Evidence.EventsOverlap != b.Evidence.EventsOverlap {
		return a.Evidence.EventsOverlap > b.Evidence.EventsOverlap
	}
	return a.SensorID < b.SensorID
}

func norm(v, vmax float64) float64 {
	if vmax <= 0 || !finite(v) {
		return 0
	}
	return math.Min(math.Max(v/vmax, 0), 1)
}

func nonNeg(v float64) float64 {
	if !finite(v) || v < 0 {
		return 0
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
