package model

// Formula operators understood by the derived-sensor evaluator.
const (
	OpSum     = "sum"
	OpDiff    = "diff"
	OpProduct = "product"
	OpRatio   = "ratio"
	OpMean    = "mean"
	OpMin     = "min"
	OpMax     = "max"
	OpLinear  = "linear"
)

// Sensor is a catalog entry.
type Sensor struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name,omitempty" yaml:"name"`
	Unit     string   `json:"unit,omitempty" yaml:"unit"`
	Type     string   `json:"type,omitempty" yaml:"type"`
	NodeID   string   `json:"node_id,omitempty" yaml:"node_id"`
	Provider string   `json:"provider,omitempty" yaml:"provider"`
	External bool     `json:"external,omitempty" yaml:"external"`
	Formula  *Formula `json:"formula,omitempty" yaml:"formula"`
}

// Derived reports whether the sensor is computed from other sensors.
func (s Sensor) Derived() bool { return s.Formula != nil }

// Formula defines a derived sensor over its inputs.
// For OpLinear the value is Σ Coefficients[i]·x[i] + Offset; Coefficients default to 1.
type Formula struct {
	Op           string    `json:"op" yaml:"op"`
	Inputs       []string  `json:"inputs" yaml:"inputs"`
	Coefficients []float64 `json:"coefficients,omitempty" yaml:"coefficients"`
	Offset       float64   `json:"offset,omitempty" yaml:"offset"`
}
