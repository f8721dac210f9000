package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	service "github.com/okian/sensorlink/internal/app"
	"github.com/okian/sensorlink/internal/domain/correlation"
	"github.com/okian/sensorlink/internal/domain/ranking"
)

const maxBodyBytes = 1 << 20

// AnalysisDependencies runs the synchronous analyses.
type AnalysisDependencies interface {
	Rank(ctx context.Context, req service.RankRequest) (service.RankResponse, error)
	Correlate(ctx context.Context, req service.CorrelationRequest) (service.CorrelationResponse, error)
	Preview(ctx context.Context, req service.PreviewRequest) (service.PreviewResponse, error)
}

// AnalysisHandler serves rank, correlation and preview requests.
type AnalysisHandler struct {
	deps    AnalysisDependencies
	timeout time.Duration
}

// NewAnalysisHandler creates a new analysis handler.
func NewAnalysisHandler(deps AnalysisDependencies, timeout time.Duration) *AnalysisHandler {
	return &AnalysisHandler{deps: deps, timeout: timeout}
}

// limitParams are the optional ranking knobs; absent fields take defaults
// and out-of-range values are clamped by the service.
type limitParams struct {
	CandidateLimit       *int     `json:"candidate_limit,omitempty"`
	MaxResults           *int     `json:"max_results,omitempty"`
	MaxBuckets           *int     `json:"max_buckets,omitempty"`
	MaxEvents            *int     `json:"max_events,omitempty"`
	MaxEpisodes          *int     `json:"max_episodes,omitempty"`
	ToleranceBuckets     *int     `json:"tolerance_buckets,omitempty"`
	MaxLagBuckets        *int     `json:"max_lag_buckets,omitempty"`
	MinSensors           *int     `json:"min_sensors,omitempty"`
	MinSeparationBuckets *int     `json:"min_separation_buckets,omitempty"`
	EpisodeGapBuckets    *int     `json:"episode_gap_buckets,omitempty"`
	CooccurrenceBuckets  *int     `json:"cooccurrence_buckets,omitempty"`
	CorrelationTopK      *int     `json:"correlation_top_k,omitempty"`
	ZThreshold           *float64 `json:"z_threshold,omitempty"`
	Quick                bool     `json:"quick,omitempty"`
}

func (p limitParams) requested() ranking.Requested {
	return ranking.Requested{
		CandidateLimit:       p.CandidateLimit,
		MaxResults:           p.MaxResults,
		MaxBuckets:           p.MaxBuckets,
		MaxEvents:            p.MaxEvents,
		MaxEpisodes:          p.MaxEpisodes,
		ToleranceBuckets:     p.ToleranceBuckets,
		MaxLagBuckets:        p.MaxLagBuckets,
		MinSensors:           p.MinSensors,
		MinSeparationBuckets: p.MinSeparationBuckets,
		EpisodeGapBuckets:    p.EpisodeGapBuckets,
		CooccurrenceBuckets:  p.CooccurrenceBuckets,
		CorrelationTopK:      p.CorrelationTopK,
		ZThreshold:           p.ZThreshold,
		Quick:                p.Quick,
	}
}

type correlationParams struct {
	Method            string   `json:"method,omitempty"`
	MinOverlap        *int     `json:"min_overlap,omitempty"`
	MinSignificantN   *int     `json:"min_significant_n,omitempty"`
	SignificanceAlpha *float64 `json:"significance_alpha,omitempty"`
	MinAbsR           *float64 `json:"min_abs_r,omitempty"`
}

func (p correlationParams) requested() correlation.Requested {
	return correlation.Requested{
		Method:            p.Method,
		MinOverlap:        p.MinOverlap,
		MinSignificantN:   p.MinSignificantN,
		SignificanceAlpha: p.SignificanceAlpha,
		MinAbsR:           p.MinAbsR,
	}
}

type rankBody struct {
	service.RankRequest
	limitParams
}

func (b rankBody) request() service.RankRequest {
	req := b.RankRequest
	req.Limits = b.limitParams.requested()
	return req
}

type correlationBody struct {
	service.CorrelationRequest
	correlationParams
}

func (b correlationBody) request() service.CorrelationRequest {
	req := b.CorrelationRequest
	req.Params = b.correlationParams.requested()
	return req
}

// decodeJSON reads a single JSON document from the request body.
func decodeJSON(op string, r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return NewKind(op, ErrBadRequest)
		}
		return WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

func (h *AnalysisHandler) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

// HandleRank handles POST /v1/rank.
func (h *AnalysisHandler) HandleRank(w http.ResponseWriter, r *http.Request) {
	const op = "api.rank"
	var body rankBody
	if err := decodeJSON(op, r, &body); err != nil {
		writeServiceError(w, err)
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()
	resp, err := h.deps.Rank(ctx, body.request())
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCorrelation handles POST /v1/correlation.
func (h *AnalysisHandler) HandleCorrelation(w http.ResponseWriter, r *http.Request) {
	const op = "api.correlation"
	var body correlationBody
	if err := decodeJSON(op, r, &body); err != nil {
		writeServiceError(w, err)
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()
	resp, err := h.deps.Correlate(ctx, body.request())
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandlePreview handles POST /v1/preview.
func (h *AnalysisHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	const op = "api.preview"
	var req service.PreviewRequest
	if err := decodeJSON(op, r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()
	resp, err := h.deps.Preview(ctx, req)
	if err != nil {
		writeServiceError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
