package resample

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/sensorlink/internal/domain/model"
)

// Reader reads stored points aggregated into buckets over [start, end).
type Reader interface {
	ReadBucketed(ctx context.Context, sensorID string, start, end time.Time, intervalSec int64, mode model.Aggregation) (model.Series, error)
}

// Resolver produces bucketed series for stored and derived sensors.
type Resolver struct {
	reader Reader
	graph  *Graph
}

// NewResolver creates a resolver over a point reader and a dependency graph.
func NewResolver(reader Reader, graph *Graph) *Resolver {
	return &Resolver{reader: reader, graph: graph}
}

// Graph returns the dependency graph used for resolution.
func (r *Resolver) Graph() *Graph { return r.graph }

// Series returns the bucketed series for id over [start, end).
// Derived sensors are evaluated on the intersection of their inputs' buckets.
func (r *Resolver) Series(ctx context.Context, id string, start, end time.Time, interval int64) (model.Series, error) {
	if !end.After(start) {
		return model.Series{}, ErrInvalidWindow
	}
	plan, err := r.graph.Plan(id)
	if err != nil {
		return model.Series{}, err
	}

	resolved := make(map[string]model.Series, len(plan))
	for _, sid := range plan {
		if err := ctx.Err(); err != nil {
			return model.Series{}, err
		}
		s, _ := r.graph.Sensor(sid)
		mode := ModeFor(s.Type)
		if s.Formula == nil {
			series, err := r.reader.ReadBucketed(ctx, sid, start, end, interval, mode)
			if err != nil {
				return model.Series{}, fmt.Errorf("read %s: %w", sid, err)
			}
			series.SensorID, series.Interval, series.Mode = sid, interval, mode
			resolved[sid] = series
			continue
		}
		inputs := make([]model.Series, len(s.Formula.Inputs))
		for i, in := range s.Formula.Inputs {
			inputs[i] = resolved[in]
		}
		resolved[sid] = derive(s, inputs, interval, mode)
	}
	return resolved[id], nil
}

// derive evaluates a formula on buckets present in every input. No forward fill.
func derive(s model.Sensor, inputs []model.Series, interval int64, mode model.Aggregation) model.Series {
	out := model.Series{SensorID: s.ID, Interval: interval, Mode: mode}
	if len(inputs) == 0 {
		return out
	}

	// Walk all inputs in lockstep; buckets are strictly ascending.
	idx := make([]int, len(inputs))
	row := make([]float64, len(inputs))
	for {
		var ts int64 = math.MinInt64
		for i, in := range inputs {
			if idx[i] >= len(in.Buckets) {
				return out
			}
			if b := in.Buckets[idx[i]].Start; b > ts {
				ts = b
			}
		}
		aligned := true
		for i, in := range inputs {
			for idx[i] < len(in.Buckets) && in.Buckets[idx[i]].Start < ts {
				idx[i]++
			}
			if idx[i] >= len(in.Buckets) {
				return out
			}
			if in.Buckets[idx[i]].Start != ts {
				aligned = false
			}
		}
		if !aligned {
			continue
		}
		for i, in := range inputs {
			row[i] = in.Buckets[idx[i]].Value
			idx[i]++
		}
		if v, ok := Evaluate(s.Formula, row); ok {
			out.Buckets = append(out.Buckets, model.Bucket{Start: ts, Value: v})
		}
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
