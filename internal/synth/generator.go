// Package synth generates synthetic sensor fleets with planted co-movement,
// for seeding stores and exercising the ranking end to end.
package synth

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/pkg/logger"
)

// Signal shape constants.
const (
	baseStep        = 10.0
	noiseSigma      = 0.5
	episodeLift     = 20.0
	episodeWidth    = 3
	weatherDrift    = 0.2
	weatherBase     = 12.0
	weatherSensor   = "weather.outdoor"
	weatherProvider = "weather"
)

// kinds cycles through the sensor types a node carries.
var kinds = []struct{ typ, unit string }{
	{"temperature", "C"},
	{"power", "kW"},
	{"flow", "l/min"},
	{"pressure", "bar"},
}

// Config shapes a generated fleet.
type Config struct {
	Nodes          int
	SensorsPerNode int
	Start          time.Time
	Points         int
	Step           time.Duration
	Episodes       int
	MaxLagSteps    int
	Seed           uint64
	Workers        int
}

// DefaultConfig returns a day of minute data for three nodes of four sensors.
func DefaultConfig() Config {
	return Config{
		Nodes:          3,
		SensorsPerNode: 4,
		Start:          time.Now().UTC().Truncate(time.Hour).Add(-24 * time.Hour),
		Points:         1440,
		Step:           time.Minute,
		Episodes:       6,
		MaxLagSteps:    3,
		Seed:           1,
		Workers:        runtime.NumCPU(),
	}
}

func (c Config) validate() error {
	switch {
	case c.Nodes < 1:
		return fmt.Errorf("%w: nodes must be positive", ErrInvalidConfig)
	case c.SensorsPerNode < 2:
		return fmt.Errorf("%w: sensors per node must be at least 2", ErrInvalidConfig)
	case c.Points < 1:
		return fmt.Errorf("%w: points must be positive", ErrInvalidConfig)
	case c.Step <= 0:
		return fmt.Errorf("%w: step must be positive", ErrInvalidConfig)
	case c.Episodes < 0 || c.MaxLagSteps < 0:
		return fmt.Errorf("%w: episodes and lag must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Dataset is a generated catalog plus raw points per stored sensor.
type Dataset struct {
	RunID   string
	Sensors []model.Sensor
	Points  map[string][]model.Point
	// Lags records the planted lag in steps of each node sensor behind its node's first sensor.
	Lags map[string]int
}

// End returns the first instant after the generated window.
func (d Dataset) End(cfg Config) time.Time {
	return cfg.Start.Add(time.Duration(cfg.Points) * cfg.Step)
}

type nodeResult struct {
	sensors []model.Sensor
	points  map[string][]model.Point
	lags    map[string]int
}

// Generate builds a fleet where every sensor on a node shares the node's
// episode schedule at its own lag, each node has a derived ".total" sensor,
// and one provider-fed weather sensor drifts independently. Output is
// deterministic for a given Seed.
func Generate(ctx context.Context, cfg Config) (Dataset, error) {
	if err := cfg.validate(); err != nil {
		return Dataset{}, err
	}
	log := logger.Get().Named("synth")
	log.Info(ctx, "generating dataset",
		logger.Int("nodes", cfg.Nodes),
		logger.Int("sensorsPerNode", cfg.SensorsPerNode),
		logger.Int("points", cfg.Points),
	)

	results := make([]nodeResult, cfg.Nodes)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for i := 0; i < cfg.Nodes; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("generate node %d: %w", i, err)
			}
			results[i] = generateNode(cfg, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Dataset{}, err
	}

	ds := Dataset{
		RunID:  uuid.NewString(),
		Points: make(map[string][]model.Point),
		Lags:   make(map[string]int),
	}
	for _, r := range results {
		ds.Sensors = append(ds.Sensors, r.sensors...)
		for id, pts := range r.points {
			ds.Points[id] = pts
		}
		for id, lag := range r.lags {
			ds.Lags[id] = lag
		}
	}
	ds.Sensors = append(ds.Sensors, model.Sensor{
		ID: weatherSensor, Name: "Outdoor temperature", Unit: "C", Type: "temperature", Provider: weatherProvider,
	})
	ds.Points[weatherSensor] = weather(cfg)
	sort.Slice(ds.Sensors, func(a, b int) bool { return ds.Sensors[a].ID < ds.Sensors[b].ID })

	log.Info(ctx, "generated dataset", logger.String("runID", ds.RunID), logger.Int("sensors", len(ds.Sensors)))
	return ds, nil
}

func nodeID(i int) string { return fmt.Sprintf("node-%02d", i+1) }

// SensorID names the j-th sensor of node i.
func SensorID(i, j int) string { return fmt.Sprintf("%s.s%02d", nodeID(i), j+1) }

func generateNode(cfg Config, i int) nodeResult {
	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)+1))
	node := nodeID(i)

	episodes := make([]int, cfg.Episodes)
	for e := range episodes {
		episodes[e] = rng.IntN(cfg.Points)
	}

	res := nodeResult{points: make(map[string][]model.Point), lags: make(map[string]int)}
	inputs := make([]string, 0, cfg.SensorsPerNode)
	for j := 0; j < cfg.SensorsPerNode; j++ {
		id := SensorID(i, j)
		k := kinds[j%len(kinds)]
		lag := 0
		if j > 0 {
			lag = rng.IntN(cfg.MaxLagSteps + 1)
		}
		res.sensors = append(res.sensors, model.Sensor{
			ID: id, Name: fmt.Sprintf("%s %s %d", node, k.typ, j+1), Unit: k.unit, Type: k.typ, NodeID: node,
		})
		res.points[id] = series(cfg, rng, baseStep*float64(j+1), episodes, lag)
		res.lags[id] = lag
		inputs = append(inputs, id)
	}
	res.sensors = append(res.sensors, model.Sensor{
		ID: node + ".total", Name: node + " total", NodeID: node, Type: "derived",
		Formula: &model.Formula{Op: model.OpSum, Inputs: inputs},
	})
	return res
}

// series is base plus noise with a lifted plateau after each episode start shifted by lag.
func series(cfg Config, rng *rand.Rand, base float64, episodes []int, lag int) []model.Point {
	lifted := make([]bool, cfg.Points)
	for _, e := range episodes {
		for k := e + lag; k < e+lag+episodeWidth && k < cfg.Points; k++ {
			lifted[k] = true
		}
	}
	pts := make([]model.Point, cfg.Points)
	for k := range pts {
		v := base + rng.NormFloat64()*noiseSigma
		if lifted[k] {
			v += episodeLift
		}
		pts[k] = model.Point{TS: cfg.Start.Add(time.Duration(k) * cfg.Step), Value: v}
	}
	return pts
}

func weather(cfg Config) []model.Point {
	rng := rand.New(rand.NewPCG(cfg.Seed, 0))
	pts := make([]model.Point, cfg.Points)
	v := weatherBase
	for k := range pts {
		v += rng.NormFloat64() * weatherDrift
		pts[k] = model.Point{TS: cfg.Start.Add(time.Duration(k) * cfg.Step), Value: v}
	}
	return pts
}
