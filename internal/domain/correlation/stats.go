package correlation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	rhoBound = 1 - 1e-9
	rBound   = 1 - 1e-12
	// PFloor is the smallest reported p-value.
	PFloor = 1e-16
	z975   = 1.959964
)

// Pearson returns r by the sum-of-products formula; ok is false for fewer than
// two points or zero variance on either side.
func Pearson(x, y []float64) (r float64, ok bool) {
	n := len(x)
	if n < 2 || n != len(y) {
		return 0, false
	}
	var sx, sy, sxx, syy, sxy float64
	for i := 0; i < n; i++ {
		sx += x[i]
		sy += y[i]
		sxx += x[i] * x[i]
		syy += y[i] * y[i]
		sxy += x[i] * y[i]
	}
	fn := float64(n)
	vx := fn*sxx - sx*sx
	vy := fn*syy - sy*sy
	if vx <= 0 || vy <= 0 {
		return 0, false
	}
	r = (fn*sxy - sx*sy) / math.Sqrt(vx*vy)
	if math.IsNaN(r) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, r)), true
}

// Spearman returns Pearson's r on average ranks.
func Spearman(x, y []float64) (float64, bool) {
	return Pearson(Ranks(x), Ranks(y))
}

// Ranks assigns 1-based ranks with ties sharing their average rank.
func Ranks(v []float64) []float64 {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })
	out := make([]float64, len(v))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && v[idx[j+1]] == v[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}

// Lag1 returns the lag-1 autocorrelation of v, dropping non-finite pairs and
// clamping into the open interval (-1, 1). Undefined cases return 0.
func Lag1(v []float64) float64 {
	if len(v) < 3 {
		return 0
	}
	a := make([]float64, 0, len(v)-1)
	b := make([]float64, 0, len(v)-1)
	for i := 1; i < len(v); i++ {
		if finite(v[i-1]) && finite(v[i]) {
			a = append(a, v[i-1])
			b = append(b, v[i])
		}
	}
	r, ok := Pearson(a, b)
	if !ok {
		return 0
	}
	return math.Max(-rhoBound, math.Min(rhoBound, r))
}

// EffectiveN shrinks n for serial autocorrelation:
// floor(n / max(1, 1+2·ρx·ρy)) clamped to [3, n].
func EffectiveN(n int, rhoX, rhoY float64) int {
	if n <= 3 {
		return n
	}
	neff := int(math.Floor(float64(n) / math.Max(1, 1+2*rhoX*rhoY)))
	if neff < 3 {
		neff = 3
	}
	if neff > n {
		neff = n
	}
	return neff
}

// FisherP returns the two-sided p-value of r with nEff samples and the 95%
// confidence bounds on r. nEff must exceed 3.
func FisherP(r float64, nEff int) (p, lo, hi float64) {
	rc := math.Max(-rBound, math.Min(rBound, r))
	z := math.Atanh(rc)
	se := 1 / math.Sqrt(float64(nEff-3))
	p = 2 * distuv.UnitNormal.Survival(math.Abs(z/se))
	if p < PFloor {
		p = PFloor
	}
	if p > 1 {
		p = 1
	}
	return p, math.Tanh(z - z975*se), math.Tanh(z + z975*se)
}

// BH returns Benjamini–Hochberg q-values in the input order.
func BH(p []float64) []float64 {
	m := len(p)
	q := make([]float64, m)
	if m == 0 {
		return q
	}
	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })

	running := 1.0
	for rank := m; rank >= 1; rank-- {
		i := order[rank-1]
		v := p[i] * float64(m) / float64(rank)
		if v < running {
			running = v
		}
		q[i] = math.Max(0, math.Min(1, running))
	}
	return q
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
