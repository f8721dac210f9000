// Package correlation computes significance-tested correlation matrices with
// autocorrelation-adjusted sample sizes and Benjamini–Hochberg q-values.
package correlation

import (
	"github.com/okian/sensorlink/internal/domain/model"
)

// Matrix is a symmetric correlation matrix over SensorIDs.
type Matrix struct {
	SensorIDs []string                  `json:"sensor_ids"`
	Params    Params                    `json:"params"`
	Cells     [][]model.CorrelationCell `json:"matrix"`
}

// Align returns the values of a and b at bucket starts present in both,
// dropping pairs with a non-finite side.
func Align(a, b model.Series) (x, y []float64) {
	i, j := 0, 0
	for i < len(a.Buckets) && j < len(b.Buckets) {
		ta, tb := a.Buckets[i].Start, b.Buckets[j].Start
		switch {
		case ta < tb:
			i++
		case tb < ta:
			j++
		default:
			va, vb := a.Buckets[i].Value, b.Buckets[j].Value
			if finite(va) && finite(vb) {
				x = append(x, va)
				y = append(y, vb)
			}
			i++
			j++
		}
	}
	return x, y
}

// Pair computes one off-diagonal cell without its q-value.
func Pair(a, b model.Series, p Params) model.CorrelationCell {
	x, y := Align(a, b)
	n := len(x)
	cell := model.CorrelationCell{N: n, NEff: n}
	if n < p.MinOverlap {
		cell.Status = model.CellInsufficientOverlap
		return cell
	}

	var (
		r  float64
		ok bool
	)
	if p.Method == MethodSpearman {
		r, ok = Spearman(x, y)
	} else {
		r, ok = Pearson(x, y)
	}
	if !ok {
		cell.Status = model.CellNotComputed
		return cell
	}
	cell.R = ptr(r)
	cell.NEff = EffectiveN(n, Lag1(x), Lag1(y))

	if cell.NEff < p.MinSignificantN || cell.NEff <= 3 {
		cell.Status = model.CellNotSignificant
		return cell
	}
	pv, lo, hi := FisherP(r, cell.NEff)
	cell.P, cell.RLow, cell.RHigh = ptr(pv), ptr(lo), ptr(hi)
	return cell
}

// Compute builds the full matrix. q-values come from one BH pass over the
// computed p-values of the unique off-diagonal pairs and are mirrored.
func Compute(series []model.Series, p Params) Matrix {
	n := len(series)
	m := Matrix{SensorIDs: make([]string, n), Params: p, Cells: make([][]model.CorrelationCell, n)}
	for i := range series {
		m.SensorIDs[i] = series[i].SensorID
		m.Cells[i] = make([]model.CorrelationCell, n)
	}

	type ij struct{ i, j int }
	var (
		pairs []ij
		ps    []float64
	)
	for i := 0; i < n; i++ {
		m.Cells[i][i] = model.CorrelationCell{
			R: ptr(1), N: series[i].Len(), NEff: series[i].Len(), Status: model.CellNotComputed,
		}
		for j := i + 1; j < n; j++ {
			c := Pair(series[i], series[j], p)
			m.Cells[i][j] = c
			if c.P != nil {
				pairs = append(pairs, ij{i, j})
				ps = append(ps, *c.P)
			}
		}
	}

	for k, q := range BH(ps) {
		c := &m.Cells[pairs[k].i][pairs[k].j]
		c.Q = ptr(q)
		if q <= p.SignificanceAlpha && abs(*c.R) >= p.MinAbsR {
			c.Status = model.CellOK
		} else {
			c.Status = model.CellNotSignificant
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			m.Cells[j][i] = m.Cells[i][j]
		}
	}
	return m
}

func ptr(v float64) *float64 { return &v }

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
