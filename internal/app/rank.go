package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/sensorlink/internal/domain/align"
	"github.com/okian/sensorlink/internal/domain/cooccur"
	"github.com/okian/sensorlink/internal/domain/correlation"
	"github.com/okian/sensorlink/internal/domain/events"
	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/internal/domain/ranking"
	"github.com/okian/sensorlink/internal/domain/resample"
	"github.com/okian/sensorlink/pkg/logger"
	"github.com/okian/sensorlink/pkg/metrics"
)

// Pool scopes.
const (
	ScopeAll  = "all"
	ScopeNode = "node"
)

// Filters select the candidate pool from the catalog when no explicit IDs are given.
type Filters struct {
	Scope           string `json:"scope"`
	SameUnit        bool   `json:"same_unit"`
	SameType        bool   `json:"same_type"`
	ExcludeProvider bool   `json:"exclude_provider"`
}

// RankRequest asks which candidates move together with the focus sensor over [Start, End).
type RankRequest struct {
	FocusSensorID        string            `json:"focus_sensor_id"`
	Start                time.Time         `json:"start"`
	End                  time.Time         `json:"end"`
	IntervalSeconds      int64             `json:"interval_seconds,omitempty"`
	Filters              Filters           `json:"filters"`
	CandidateSensorIDs   []string          `json:"candidate_sensor_ids,omitempty"`
	Weights              ranking.Weights   `json:"weights"`
	Polarity             events.Polarity   `json:"polarity,omitempty"`
	IncludeLowConfidence bool              `json:"include_low_confidence"`
	Limits               ranking.Requested `json:"-"`
}

// RankResponse is the unified ranking result.
type RankResponse struct {
	FocusSensorID               string                  `json:"focus_sensor_id"`
	Start                       time.Time               `json:"start"`
	End                         time.Time               `json:"end"`
	Candidates                  []model.RankedCandidate `json:"candidates"`
	LimitsUsed                  ranking.Limits          `json:"limits_used"`
	TruncatedCandidateSensorIDs []string                `json:"truncated_candidate_sensor_ids"`
	TruncatedResultSensorIDs    []string                `json:"truncated_result_sensor_ids"`
	SkippedCandidates           []model.SkippedSensor   `json:"skipped_candidates"`
	PoolSize                    int                     `json:"pool_size"`
	FocusEvents                 int                     `json:"focus_events"`
	FocusStats                  events.Stats            `json:"focus_stats"`
	CooccurrenceBuckets         []cooccur.Bucket        `json:"cooccurrence_buckets"`
	Correlation                 *correlation.Matrix     `json:"correlation,omitempty"`
}

// analysis is the pass-one output for one sensor.
type analysis struct {
	id      string
	series  model.Series
	events  []model.Event
	stats   events.Stats
	index   cooccur.Index
	aligned align.Result
	skip    string
}

// Rank runs the two-pass pipeline: per-sensor evidence in parallel, then a
// single reduction that scores co-occurrence and blends across the pool.
func (s *Service) Rank(ctx context.Context, req RankRequest) (resp RankResponse, err error) {
	t0 := time.Now()
	defer func() { metrics.RecordAnalysis("rank", outcome(err), msSince(t0)) }()

	if err := validateRank(req); err != nil {
		return RankResponse{}, err
	}
	g, err := s.graph(ctx)
	if err != nil {
		return RankResponse{}, err
	}
	focus, ok := g.Sensor(req.FocusSensorID)
	if !ok {
		return RankResponse{}, fmt.Errorf("%w: %s", ErrUnknownSensor, req.FocusSensorID)
	}
	if focus.External {
		return RankResponse{}, fmt.Errorf("%w: focus sensor %s is externally provided", ErrInvalidRequest, focus.ID)
	}
	if err := g.Check(focus.ID); err != nil {
		return RankResponse{}, err
	}

	limits := ranking.Resolve(req.Limits, s.maxBuckets)
	limits.IntervalSeconds, limits.IntervalAdjusted = resample.EffectiveInterval(
		req.Start.Unix(), req.End.Unix(), req.IntervalSeconds, s.defaultInterval, limits.MaxBuckets)
	if limits.IntervalAdjusted {
		metrics.RecordIntervalAdjusted()
	}

	pool, dropped, skipped := buildPool(g, focus, req, limits.CandidateLimit)
	metrics.RecordPoolSize(len(pool))
	metrics.RecordTruncated("candidates", len(dropped))

	log := s.logger.With(logger.String("focus", focus.ID))
	log.Debug(ctx, "ranking pool built",
		logger.Int("pool", len(pool)),
		logger.Int("dropped", len(dropped)),
		logger.Int("skipped", len(skipped)),
		logger.Int64("interval", limits.IntervalSeconds))
	if len(dropped) > 0 {
		log.Debug(ctx, "candidate pool truncated", logger.Strings("dropped_ids", dropped))
	}
	if len(skipped) > 0 {
		log.Debug(ctx, "candidates skipped before analysis", logger.Any("skipped", skipped))
	}

	resolver := resample.NewResolver(s.store, g)
	evp := events.Params{
		ZThreshold:           limits.ZThreshold,
		Polarity:             req.Polarity,
		MinSeparationBuckets: limits.MinSeparationBuckets,
		MaxEvents:            limits.MaxEvents,
	}
	if evp.Polarity == "" {
		evp.Polarity = events.PolarityBoth
	}
	alp := align.Params{
		Interval:          limits.IntervalSeconds,
		MaxLagBuckets:     limits.MaxLagBuckets,
		EpisodeGapBuckets: limits.EpisodeGapBuckets,
		MaxEpisodes:       limits.MaxEpisodes,
	}

	// The focus is resolved first; its failures are request failures.
	fa, err := s.analyse(ctx, resolver, focus.ID, req, limits, evp)
	if err != nil {
		return RankResponse{}, err
	}

	// Pass one: independent per-candidate evidence.
	results := make([]analysis, len(pool))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.parallelism)
	for i, id := range pool {
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			a, err := s.analyse(egctx, resolver, id, req, limits, evp)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				log.Warn(egctx, "candidate read failed", logger.String("sensor", id), logger.Error(err))
				results[i] = analysis{id: id, skip: model.SkipReadError}
				return nil
			}
			if len(a.series.Buckets) == 0 {
				a.skip = model.SkipNoData
			} else {
				a.aligned = align.Align(fa.events, a.events, alp)
			}
			results[i] = a
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return RankResponse{}, err
	}
	if err := ctx.Err(); err != nil {
		return RankResponse{}, err
	}

	// Pass two: pool-wide reduction.
	indexes := make([]cooccur.Index, 0, len(results)+1)
	indexes = append(indexes, fa.index)
	analysed := make([]analysis, 0, len(results))
	totalEvents := len(fa.events)
	for _, a := range results {
		if a.skip != "" {
			skipped = append(skipped, model.SkippedSensor{SensorID: a.id, Reason: a.skip})
			continue
		}
		totalEvents += len(a.events)
		indexes = append(indexes, a.index)
		analysed = append(analysed, a)
	}
	metrics.RecordEventsDetected(totalEvents)

	co := cooccur.Score(indexes, focus.ID, cooccur.Params{
		Interval:   limits.IntervalSeconds,
		Tolerance:  limits.ToleranceBuckets,
		MinSensors: limits.MinSensors,
		MaxBuckets: limits.CooccurrenceBuckets,
	})

	cands := make([]ranking.Candidate, len(analysed))
	for i, a := range analysed {
		tally := co.Candidates[a.id]
		cands[i] = ranking.Candidate{SensorID: a.id, Evidence: model.Evidence{
			EventsScore:         a.aligned.Score,
			EventsOverlap:       a.aligned.Overlap,
			BestLagSec:          a.aligned.LagSec,
			LagLabel:            align.FormatLag(a.aligned.LagSec),
			CooccurrenceScore:   tally.Score,
			CooccurrenceCount:   tally.Count,
			CooccurrenceBuckets: tally.Buckets,
			FocusEvents:         len(fa.events),
			CandidateEvents:     len(a.events),
			Episodes:            a.aligned.Episodes,
		}}
	}
	ranked := ranking.Blend(cands, ranking.Options{
		Weights:              req.Weights,
		IncludeLowConfidence: req.IncludeLowConfidence,
		MaxResults:           limits.MaxResults,
	})
	metrics.RecordTruncated("results", len(ranked.Truncated))

	sort.Slice(skipped, func(i, j int) bool { return skipped[i].SensorID < skipped[j].SensorID })
	resp = RankResponse{
		FocusSensorID:               focus.ID,
		Start:                       req.Start,
		End:                         req.End,
		Candidates:                  nonNil(ranked.Candidates),
		LimitsUsed:                  limits,
		TruncatedCandidateSensorIDs: nonNil(dropped),
		TruncatedResultSensorIDs:    nonNil(ranked.Truncated),
		SkippedCandidates:           nonNil(skipped),
		PoolSize:                    len(pool),
		FocusEvents:                 len(fa.events),
		FocusStats:                  fa.stats,
		CooccurrenceBuckets:         nonNil(co.Buckets),
	}

	if k := limits.CorrelationTopK; k > 0 && len(ranked.Candidates) > 0 {
		byID := make(map[string]model.Series, len(analysed))
		for _, a := range analysed {
			byID[a.id] = a.series
		}
		series := []model.Series{fa.series}
		for i, c := range ranked.Candidates {
			if i == k {
				break
			}
			series = append(series, byID[c.SensorID])
		}
		m := correlation.Compute(series, correlation.DefaultParams())
		recordCells(m)
		resp.Correlation = &m
	}

	top := 0.0
	if len(resp.Candidates) > 0 {
		top = resp.Candidates[0].BlendedScore
	}
	log.Info(ctx, "ranking complete",
		logger.Int("candidates", len(resp.Candidates)),
		logger.Int("skipped", len(resp.SkippedCandidates)),
		logger.Float64("top_score", top),
		logger.Bool("interval_adjusted", limits.IntervalAdjusted),
		logger.Duration("took", time.Since(t0)))
	return resp, nil
}

// analyse resolves one sensor's series and runs detection and expansion on it.
func (s *Service) analyse(ctx context.Context, r *resample.Resolver, id string, req RankRequest, l ranking.Limits, p events.Params) (analysis, error) {
	series, err := r.Series(ctx, id, req.Start, req.End, l.IntervalSeconds)
	if err != nil {
		return analysis{}, err
	}
	evs, st := events.Detect(series, p)
	return analysis{
		id:     id,
		series: series,
		events: evs,
		stats:  st,
		index:  cooccur.Expand(id, evs, l.IntervalSeconds, l.ToleranceBuckets),
	}, nil
}

func validateRank(req RankRequest) error {
	switch {
	case req.FocusSensorID == "":
		return fmt.Errorf("%w: focus_sensor_id is required", ErrInvalidRequest)
	case req.Start.IsZero() || req.End.IsZero():
		return fmt.Errorf("%w: start and end are required", ErrInvalidRequest)
	case !req.End.After(req.Start):
		return fmt.Errorf("%w: end must be after start", ErrInvalidRequest)
	case req.Polarity != "" && !req.Polarity.Valid():
		return fmt.Errorf("%w: unknown polarity %q", ErrInvalidRequest, req.Polarity)
	}
	switch req.Filters.Scope {
	case "", ScopeAll, ScopeNode:
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidRequest, req.Filters.Scope)
	}
	return nil
}

// buildPool picks candidates, excluding the focus, in ID order and truncated to
// limit. External and unresolvable sensors are reported as skipped.
func buildPool(g *resample.Graph, focus model.Sensor, req RankRequest, limit int) (pool, dropped []string, skipped []model.SkippedSensor) {
	var ids []string
	if len(req.CandidateSensorIDs) > 0 {
		seen := make(map[string]bool, len(req.CandidateSensorIDs))
		for _, id := range req.CandidateSensorIDs {
			if id == focus.ID || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		sort.Strings(ids)
	} else {
		for _, id := range g.IDs() {
			if id == focus.ID {
				continue
			}
			sn, _ := g.Sensor(id)
			if matches(req.Filters, focus, sn) {
				ids = append(ids, id)
			}
		}
	}

	for _, id := range ids {
		sn, ok := g.Sensor(id)
		switch {
		case !ok:
			skipped = append(skipped, model.SkippedSensor{SensorID: id, Reason: model.SkipUnknownSensor})
		case sn.External:
			skipped = append(skipped, model.SkippedSensor{SensorID: id, Reason: model.SkipExternalProvider})
		case g.Check(id) != nil:
			skipped = append(skipped, model.SkippedSensor{SensorID: id, Reason: model.SkipDependency})
		default:
			pool = append(pool, id)
		}
	}
	if len(pool) > limit {
		dropped = append(dropped, pool[limit:]...)
		pool = pool[:limit]
	}
	return pool, dropped, skipped
}

func matches(f Filters, focus, c model.Sensor) bool {
	if f.Scope == ScopeNode && c.NodeID != focus.NodeID {
		return false
	}
	if f.SameUnit && c.Unit != focus.Unit {
		return false
	}
	if f.SameType && c.Type != focus.Type {
		return false
	}
	if f.ExcludeProvider && c.Provider != "" {
		return false
	}
	return true
}

func recordCells(m correlation.Matrix) {
	for i := range m.Cells {
		for j := i + 1; j < len(m.Cells[i]); j++ {
			metrics.RecordCorrelationCell(string(m.Cells[i][j].Status))
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
