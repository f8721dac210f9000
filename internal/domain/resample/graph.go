package resample

import (
	"fmt"
	"sort"

	"github.com/okian/sensorlink/internal/domain/model"
)

// DefaultMaxDepth bounds derived-sensor expansion when no depth is configured.
const DefaultMaxDepth = 8

// Graph is the explicit dependency graph of derived sensors.
type Graph struct {
	sensors  map[string]model.Sensor
	maxDepth int
}

// NewGraph indexes sensors by ID. maxDepth <= 0 uses DefaultMaxDepth.
func NewGraph(sensors []model.Sensor, maxDepth int) *Graph {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	g := &Graph{sensors: make(map[string]model.Sensor, len(sensors)), maxDepth: maxDepth}
	for _, s := range sensors {
		g.sensors[s.ID] = s
	}
	return g
}

// Sensor looks up a sensor by ID.
func (g *Graph) Sensor(id string) (model.Sensor, bool) {
	s, ok := g.sensors[id]
	return s, ok
}

// IDs returns all sensor IDs in ascending order.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.sensors))
	for id := range g.sensors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MaxDepth returns the configured expansion bound.
func (g *Graph) MaxDepth() int { return g.maxDepth }

// Plan returns the sensors needed to evaluate id with every input listed
// before its dependents. A cycle yields ErrDependencyCycle; a chain of derived
// sensors deeper than MaxDepth yields ErrDependencyDepth.
func (g *Graph) Plan(id string) ([]string, error) {
	var (
		order   []string
		done    = make(map[string]bool)
		onStack = make(map[string]bool)
	)

	var visit func(id string, depth int, path []string) error
	visit = func(id string, depth int, path []string) error {
		if onStack[id] {
			return fmt.Errorf("%w: %v", ErrDependencyCycle, append(path, id))
		}
		if done[id] {
			return nil
		}
		s, ok := g.sensors[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSensor, id)
		}
		if s.Formula != nil {
			if depth >= g.maxDepth {
				return fmt.Errorf("%w: %s exceeds %d levels", ErrDependencyDepth, id, g.maxDepth)
			}
			if err := validateFormula(s.Formula); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			onStack[id] = true
			for _, in := range s.Formula.Inputs {
				if err := visit(in, depth+1, append(path, id)); err != nil {
					return err
				}
			}
			onStack[id] = false
		}
		done[id] = true
		order = append(order, id)
		return nil
	}

	if err := visit(id, 0, nil); err != nil {
		return nil, err
	}
	return order, nil
}

// Check validates that id resolves within the cycle and depth limits.
func (g *Graph) Check(id string) error {
	_, err := g.Plan(id)
	return err
}

func validateFormula(f *model.Formula) error {
	if len(f.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrInvalidFormula)
	}
	switch f.Op {
	case model.OpSum, model.OpProduct, model.OpMean, model.OpMin, model.OpMax:
	case model.OpDiff, model.OpRatio:
		if len(f.Inputs) != 2 {
			return fmt.Errorf("%w: %s needs exactly 2 inputs", ErrInvalidFormula, f.Op)
		}
	case model.OpLinear:
		if len(f.Coefficients) != 0 && len(f.Coefficients) != len(f.Inputs) {
			return fmt.Errorf("%w: %d coefficients for %d inputs", ErrInvalidFormula, len(f.Coefficients), len(f.Inputs))
		}
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidFormula, f.Op)
	}
	return nil
}

// Evaluate applies f to one row of input values. ok is false when the result is not finite.
func Evaluate(f *model.Formula, xs []float64) (float64, bool) {
	var v float64
	switch f.Op {
	case model.OpSum, model.OpMean:
		for _, x := range xs {
			v += x
		}
		if f.Op == model.OpMean {
			v /= float64(len(xs))
		}
	case model.OpDiff:
		v = xs[0] - xs[1]
	case model.OpProduct:
		v = 1
		for _, x := range xs {
			v *= x
		}
	case model.OpRatio:
		if xs[1] == 0 {
			return 0, false
		}
		v = xs[0] / xs[1]
	case model.OpMin, model.OpMax:
		v = xs[0]
		for _, x := range xs[1:] {
			if (f.Op == model.OpMin && x < v) || (f.Op == model.OpMax && x > v) {
				v = x
			}
		}
	case model.OpLinear:
		for i, x := range xs {
			c := 1.0
			if len(f.Coefficients) == len(xs) {
				c = f.Coefficients[i]
			}
			v += c * x
		}
		v += f.Offset
	default:
		return 0, false
	}
	return v, isFinite(v)
}
