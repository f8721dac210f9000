package correlation

import (
	"fmt"
	"math"
	"strings"
)

// Methods.
const (
	MethodPearson  = "pearson"
	MethodSpearman = "spearman"
)

// Bounds.
const (
	MinSensors = 2
	MaxSensors = 20

	minOverlapLo, minOverlapHi, minOverlapDefault = 3, 100_000, 10
	minSigNLo, minSigNHi, minSigNDefault          = 4, 100_000, 10
	alphaHi, alphaDefault                         = 0.5, 0.05
	minAbsRDefault                                = 0.3
)

// Requested carries caller-supplied parameters; nil fields take defaults.
type Requested struct {
	Method            string
	MinOverlap        *int
	MinSignificantN   *int
	SignificanceAlpha *float64
	MinAbsR           *float64
}

// Params are the effective, clamped parameters.
type Params struct {
	Method            string  `json:"method"`
	MinOverlap        int     `json:"min_overlap"`
	MinSignificantN   int     `json:"min_significant_n"`
	SignificanceAlpha float64 `json:"significance_alpha"`
	MinAbsR           float64 `json:"min_abs_r"`
}

// DefaultParams returns the defaults for every parameter.
func DefaultParams() Params {
	return Params{
		Method:            MethodPearson,
		MinOverlap:        minOverlapDefault,
		MinSignificantN:   minSigNDefault,
		SignificanceAlpha: alphaDefault,
		MinAbsR:           minAbsRDefault,
	}
}

// Resolve clamps r into the allowed ranges. Only an unknown method is an error.
func Resolve(r Requested) (Params, error) {
	p := DefaultParams()
	if m := strings.ToLower(strings.TrimSpace(r.Method)); m != "" {
		if m != MethodPearson && m != MethodSpearman {
			return Params{}, fmt.Errorf("%w: %q", ErrUnknownMethod, r.Method)
		}
		p.Method = m
	}
	if r.MinOverlap != nil {
		p.MinOverlap = clampInt(*r.MinOverlap, minOverlapLo, minOverlapHi)
	}
	if r.MinSignificantN != nil {
		p.MinSignificantN = clampInt(*r.MinSignificantN, minSigNLo, minSigNHi)
	}
	if a := r.SignificanceAlpha; a != nil && !math.IsNaN(*a) {
		switch {
		case *a <= 0:
			p.SignificanceAlpha = alphaDefault
		case *a > alphaHi:
			p.SignificanceAlpha = alphaHi
		default:
			p.SignificanceAlpha = *a
		}
	}
	if m := r.MinAbsR; m != nil && !math.IsNaN(*m) {
		p.MinAbsR = math.Min(math.Max(*m, 0), 1)
	}
	return p, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
