package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/sensorlink/internal/domain/correlation"
	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/internal/domain/resample"
	"github.com/okian/sensorlink/pkg/logger"
	"github.com/okian/sensorlink/pkg/metrics"
)

// CorrelationRequest asks for a significance-tested matrix over SensorIDs.
type CorrelationRequest struct {
	SensorIDs       []string              `json:"sensor_ids"`
	Start           time.Time             `json:"start"`
	End             time.Time             `json:"end"`
	IntervalSeconds int64                 `json:"interval_seconds,omitempty"`
	Params          correlation.Requested `json:"-"`
}

// CorrelationResponse carries the matrix in request order.
type CorrelationResponse struct {
	correlation.Matrix
	IntervalSeconds  int64 `json:"interval_seconds"`
	IntervalAdjusted bool  `json:"interval_adjusted"`
}

// Correlate resolves every sensor's series and computes the pairwise matrix.
// Cells that cannot be computed carry a status instead of values.
func (s *Service) Correlate(ctx context.Context, req CorrelationRequest) (resp CorrelationResponse, err error) {
	t0 := time.Now()
	defer func() { metrics.RecordAnalysis("correlation", outcome(err), msSince(t0)) }()

	n := len(req.SensorIDs)
	if n < correlation.MinSensors || n > correlation.MaxSensors {
		return CorrelationResponse{}, fmt.Errorf("%w: %w: got %d, want %d..%d",
			ErrInvalidRequest, correlation.ErrSensorCount, n, correlation.MinSensors, correlation.MaxSensors)
	}
	if req.Start.IsZero() || req.End.IsZero() || !req.End.After(req.Start) {
		return CorrelationResponse{}, fmt.Errorf("%w: end must be after start", ErrInvalidRequest)
	}
	params, err := correlation.Resolve(req.Params)
	if err != nil {
		return CorrelationResponse{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	g, err := s.graph(ctx)
	if err != nil {
		return CorrelationResponse{}, err
	}
	seen := make(map[string]bool, n)
	for _, id := range req.SensorIDs {
		if seen[id] {
			return CorrelationResponse{}, fmt.Errorf("%w: duplicate sensor %s", ErrInvalidRequest, id)
		}
		seen[id] = true
		if _, ok := g.Sensor(id); !ok {
			return CorrelationResponse{}, fmt.Errorf("%w: %s", ErrUnknownSensor, id)
		}
		if err := g.Check(id); err != nil {
			return CorrelationResponse{}, err
		}
	}

	interval, adjusted := resample.EffectiveInterval(req.Start.Unix(), req.End.Unix(), req.IntervalSeconds, s.defaultInterval, s.maxBuckets)
	if adjusted {
		metrics.RecordIntervalAdjusted()
	}

	resolver := resample.NewResolver(s.store, g)
	series := make([]model.Series, n)
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.parallelism)
	for i, id := range req.SensorIDs {
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			sn, _ := g.Sensor(id)
			if sn.External {
				series[i] = model.Series{SensorID: id, Interval: interval, Mode: resample.ModeFor(sn.Type)}
				return nil
			}
			ser, err := resolver.Series(egctx, id, req.Start, req.End, interval)
			if err != nil {
				return err
			}
			series[i] = ser
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return CorrelationResponse{}, err
	}

	m := correlation.Compute(series, params)
	recordCells(m)
	s.logger.Info(ctx, "correlation complete",
		logger.Int("sensors", n),
		logger.String("method", params.Method),
		logger.Duration("took", time.Since(t0)))
	return CorrelationResponse{Matrix: m, IntervalSeconds: interval, IntervalAdjusted: adjusted}, nil
}
