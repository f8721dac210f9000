package service

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/internal/domain/ranking"
	"github.com/okian/sensorlink/internal/domain/resample"
	"github.com/okian/sensorlink/pkg/metrics"
)

// PreviewMaxPoints bounds the requested chart resolution.
var PreviewMaxPoints = ranking.Bound{Min: 10, Max: 5000, Default: 500}

const maxPreviewBucket = 3600

// PreviewRequest asks for chartable focus and candidate series.
type PreviewRequest struct {
	FocusSensorID     string    `json:"focus_sensor_id"`
	CandidateSensorID string    `json:"candidate_sensor_id"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	LagSeconds        *int64    `json:"lag_seconds,omitempty"`
	MaxPoints         *int      `json:"max_points,omitempty"`
}

// PreviewResponse holds both series at a common bucket width. When a lag is
// given, CandidateAlignedSeries is the candidate read at +lag and shifted back.
type PreviewResponse struct {
	FocusSeries            model.Series  `json:"focus_series"`
	CandidateSeries        model.Series  `json:"candidate_series"`
	CandidateAlignedSeries *model.Series `json:"candidate_aligned_series,omitempty"`
	BucketSeconds          int64         `json:"bucket_seconds"`
	LagSeconds             *int64        `json:"lag_seconds,omitempty"`
}

// PreviewBucketSeconds is clamp(ceil(window/maxPoints), 1, 3600).
func PreviewBucketSeconds(window int64, maxPoints int) int64 {
	if maxPoints <= 0 {
		maxPoints = PreviewMaxPoints.Default
	}
	b := (window + int64(maxPoints) - 1) / int64(maxPoints)
	if b < 1 {
		b = 1
	}
	if b > maxPreviewBucket {
		b = maxPreviewBucket
	}
	return b
}

// Preview returns the series a chart needs to show an alignment.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (resp PreviewResponse, err error) {
	t0 := time.Now()
	defer func() { metrics.RecordAnalysis("preview", outcome(err), msSince(t0)) }()

	if req.FocusSensorID == "" || req.CandidateSensorID == "" {
		return PreviewResponse{}, fmt.Errorf("%w: focus_sensor_id and candidate_sensor_id are required", ErrInvalidRequest)
	}
	if req.Start.IsZero() || req.End.IsZero() || !req.End.After(req.Start) {
		return PreviewResponse{}, fmt.Errorf("%w: end must be after start", ErrInvalidRequest)
	}
	g, err := s.graph(ctx)
	if err != nil {
		return PreviewResponse{}, err
	}
	for _, id := range []string{req.FocusSensorID, req.CandidateSensorID} {
		if _, ok := g.Sensor(id); !ok {
			return PreviewResponse{}, fmt.Errorf("%w: %s", ErrUnknownSensor, id)
		}
		if err := g.Check(id); err != nil {
			return PreviewResponse{}, err
		}
	}

	points := PreviewMaxPoints.Clamp(req.MaxPoints, false)
	bucket := PreviewBucketSeconds(req.End.Unix()-req.Start.Unix(), points)
	r := resample.NewResolver(s.store, g)

	if resp.FocusSeries, err = r.Series(ctx, req.FocusSensorID, req.Start, req.End, bucket); err != nil {
		return PreviewResponse{}, err
	}
	if resp.CandidateSeries, err = r.Series(ctx, req.CandidateSensorID, req.Start, req.End, bucket); err != nil {
		return PreviewResponse{}, err
	}
	resp.BucketSeconds = bucket

	if req.LagSeconds != nil {
		lag := *req.LagSeconds
		d := time.Duration(lag) * time.Second
		shifted, err := r.Series(ctx, req.CandidateSensorID, req.Start.Add(d), req.End.Add(d), bucket)
		if err != nil {
			return PreviewResponse{}, err
		}
		for i := range shifted.Buckets {
			shifted.Buckets[i].Start -= lag
		}
		resp.CandidateAlignedSeries = &shifted
		resp.LagSeconds = &lag
	}
	return resp, nil
}
