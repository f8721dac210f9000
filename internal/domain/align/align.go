// Package align searches integer bucket lags for the best event alignment
// between a focus sensor and a candidate and explains the match as episodes.
package align

import (
	"fmt"
	"math"
	"sort"

	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/internal/domain/resample"
)

// Params configures the lag search and episode construction.
type Params struct {
	Interval          int64
	MaxLagBuckets     int
	EpisodeGapBuckets int
	MaxEpisodes       int
}

// Result is the best-lag alignment of one candidate.
type Result struct {
	Score      float64
	Overlap    int
	LagBuckets int
	LagSec     int64
	Episodes   []model.Episode
}

// F1 returns 2·overlap/(nf+nc), or 0 when both sets are empty.
func F1(overlap, nf, nc int) float64 {
	if nf+nc == 0 {
		return 0
	}
	return 2 * float64(overlap) / float64(nf+nc)
}

// Align evaluates every lag in [-MaxLagBuckets, +MaxLagBuckets]. A candidate
// event at focus index i+L matches focus index i. Ties on F1 go to the larger
// overlap, then the smaller |L|, then the negative L.
func Align(focus, cand []model.Event, p Params) Result {
	if p.Interval <= 0 || len(focus) == 0 || len(cand) == 0 {
		return Result{}
	}

	candIdx := make(map[int64]struct{}, len(cand))
	for _, e := range cand {
		candIdx[resample.FloorDiv(e.TS, p.Interval)] = struct{}{}
	}
	focusIdx := make([]int64, len(focus))
	for i, e := range focus {
		focusIdx[i] = resample.FloorDiv(e.TS, p.Interval)
	}

	best := Result{Score: -1}
	for l := -p.MaxLagBuckets; l <= p.MaxLagBuckets; l++ {
		overlap := 0
		for _, fi := range focusIdx {
			if _, ok := candIdx[fi+int64(l)]; ok {
				overlap++
			}
		}
		score := F1(overlap, len(focus), len(cand))
		if better(score, overlap, l, best) {
			best = Result{Score: score, Overlap: overlap, LagBuckets: l}
		}
	}
	best.LagSec = int64(best.LagBuckets) * p.Interval
	if best.Overlap == 0 {
		return Result{}
	}

	matched := make([]model.Event, 0, best.Overlap)
	for i, fi := range focusIdx {
		if _, ok := candIdx[fi+int64(best.LagBuckets)]; ok {
			matched = append(matched, focus[i])
		}
	}
	best.Episodes = Episodes(matched, focus, p)
	return best
}

func better(score float64, overlap, lag int, cur Result) bool {
	if score != cur.Score {
		return score > cur.Score
	}
	if overlap != cur.Overlap {
		return overlap > cur.Overlap
	}
	al, ac := abs(lag), abs(cur.LagBuckets)
	if al != ac {
		return al < ac
	}
	return lag < cur.LagBuckets
}

// Episodes groups time-ordered matched focus events into runs split where the
// gap exceeds EpisodeGapBuckets·Interval. Coverage is the share of all focus
// events inside the run's [start, end] that matched. Episodes are ordered by
// peak |z| descending (earlier start first on ties) and truncated to MaxEpisodes.
func Episodes(matched, focus []model.Event, p Params) []model.Episode {
	if len(matched) == 0 {
		return nil
	}
	gap := int64(p.EpisodeGapBuckets) * p.Interval

	var (
		out []model.Episode
		run []model.Event
	)
	flush := func() {
		if len(run) == 0 {
			return
		}
		ep := model.Episode{Start: run[0].TS, End: run[len(run)-1].TS, Points: len(run)}
		var sum float64
		for _, e := range run {
			a := math.Abs(e.Z)
			sum += a
			if a > ep.PeakAbsZ {
				ep.PeakAbsZ = a
			}
		}
		ep.MeanAbsZ = sum / float64(len(run))
		total := 0
		for _, e := range focus {
			if e.TS >= ep.Start && e.TS <= ep.End {
				total++
			}
		}
		if total > 0 {
			ep.Coverage = float64(ep.Points) / float64(total)
		}
		out = append(out, ep)
		run = run[:0]
	}

	for _, e := range matched {
		if n := len(run); n > 0 && e.TS-run[n-1].TS > gap {
			flush()
		}
		run = append(run, e)
	}
	flush()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PeakAbsZ != out[j].PeakAbsZ {
			return out[i].PeakAbsZ > out[j].PeakAbsZ
		}
		return out[i].Start < out[j].Start
	})
	if p.MaxEpisodes > 0 && len(out) > p.MaxEpisodes {
		out = out[:p.MaxEpisodes]
	}
	return out
}

// FormatLag renders a lag in seconds as a short signed label such as "+5m",
// "-30s" or "0s". Values that are not a whole number of the larger unit fall
// back to the next smaller unit.
func FormatLag(sec int64) string {
	if sec == 0 {
		return "0s"
	}
	sign := "+"
	if sec < 0 {
		sign, sec = "-", -sec
	}
	switch {
	case sec%86400 == 0:
		return fmt.Sprintf("%s%dd", sign, sec/86400)
	case sec%3600 == 0:
		return fmt.Sprintf("%s%dh", sign, sec/3600)
	case sec%60 == 0:
		return fmt.Sprintf("%s%dm", sign, sec/60)
	default:
		return fmt.Sprintf("%s%ds", sign, sec)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
