package correlation

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/okian/sensorlink/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkSeries(id string, vals []float64) model.Series {
	s := model.Series{SensorID: id, Interval: 60}
	for i, v := range vals {
		s.Buckets = append(s.Buckets, model.Bucket{Start: int64(i) * 60, Value: v})
	}
	return s
}

func TestPearson(t *testing.T) {
	r, ok := Pearson([]float64{1, 2, 3, 4, 5}, []float64{2, 4, 5, 4, 5})
	require.True(t, ok)
	assert.InDelta(t, 6/math.Sqrt(60), r, 1e-12)

	_, ok = Pearson([]float64{1, 1, 1}, []float64{1, 2, 3})
	assert.False(t, ok, "zero variance is undefined")

	r, ok = Spearman([]float64{1, 2, 3, 4}, []float64{1, 8, 27, 64})
	require.True(t, ok)
	assert.InDelta(t, 1.0, r, 1e-12)

	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, Ranks([]float64{1, 5, 5, 9}))
}

func TestEffectiveN(t *testing.T) {
	for _, n := range []int{4, 10, 57, 1000} {
		assert.Equal(t, n, EffectiveN(n, 0, 0), "no autocorrelation keeps n")
		for _, rx := range []float64{-0.99, -0.5, 0, 0.3, 0.9, 0.999} {
			for _, ry := range []float64{-0.99, -0.2, 0, 0.5, 0.999} {
				ne := EffectiveN(n, rx, ry)
				assert.LessOrEqual(t, ne, n)
				assert.GreaterOrEqual(t, ne, 3)
			}
		}
	}
	assert.Equal(t, 33, EffectiveN(100, 1-1e-9, 1-1e-9))
}

func TestLag1(t *testing.T) {
	trend := make([]float64, 20)
	for i := range trend {
		trend[i] = float64(i)
	}
	assert.InDelta(t, 1, Lag1(trend), 1e-8)
	assert.Less(t, Lag1(trend), 1.0)
	assert.Equal(t, 0.0, Lag1([]float64{1, 2}))
	assert.Less(t, Lag1([]float64{1, -1, 1, -1, 1, -1}), -0.9)
}

func TestFisherP(t *testing.T) {
	p, lo, hi := FisherP(0.5, 28)
	assert.InDelta(t, 0.00602, p, 1e-4)
	assert.Less(t, lo, 0.5)
	assert.Greater(t, hi, 0.5)

	p, _, _ = FisherP(0, 13)
	assert.InDelta(t, 1, p, 1e-12)

	p, _, _ = FisherP(1, 500)
	assert.Equal(t, PFloor, p)
}

func TestBH(t *testing.T) {
	p := []float64{0.04, 0.001, 0.03, 0.5, 0.02, 0.2}
	q := BH(p)

	order := make([]int, len(p))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })
	for k := range order {
		assert.GreaterOrEqual(t, q[order[k]], p[order[k]])
		assert.LessOrEqual(t, q[order[k]], 1.0)
		if k > 0 {
			assert.GreaterOrEqual(t, q[order[k]], q[order[k-1]])
		}
	}
	assert.InDelta(t, 0.006, q[1], 1e-12)
	assert.InDelta(t, 0.06, q[0], 1e-12)
	assert.Empty(t, BH(nil))
}

func TestResolve(t *testing.T) {
	Convey("Given correlation parameters", t, func() {
		Convey("Defaults apply when omitted", func() {
			p, err := Resolve(Requested{})
			So(err, ShouldBeNil)
			So(p, ShouldResemble, DefaultParams())
		})

		Convey("Out of range values are clamped", func() {
			mo, mn, a, r := 1, 2, 0.9, 1.5
			p, err := Resolve(Requested{Method: "Spearman", MinOverlap: &mo, MinSignificantN: &mn, SignificanceAlpha: &a, MinAbsR: &r})
			So(err, ShouldBeNil)
			So(p.Method, ShouldEqual, MethodSpearman)
			So(p.MinOverlap, ShouldEqual, 3)
			So(p.MinSignificantN, ShouldEqual, 4)
			So(p.SignificanceAlpha, ShouldEqual, 0.5)
			So(p.MinAbsR, ShouldEqual, 1)
		})

		Convey("An unknown method is a request error", func() {
			_, err := Resolve(Requested{Method: "kendall"})
			So(errors.Is(err, ErrUnknownMethod), ShouldBeTrue)
		})
	})
}

func TestCompute(t *testing.T) {
	Convey("Given a pair with only eight shared buckets", t, func() {
		a := mkSeries("a", []float64{1, 2, 3, 4, 5, 6, 7, 8})
		b := mkSeries("b", []float64{2, 1, 4, 3, 6, 5, 8, 7})
		m := Compute([]model.Series{a, b}, DefaultParams())

		Convey("The cell is insufficient_overlap with values withheld", func() {
			c := m.Cells[0][1]
			So(c.Status, ShouldEqual, model.CellInsufficientOverlap)
			So(c.N, ShouldEqual, 8)
			So(c.R, ShouldBeNil)
			So(c.P, ShouldBeNil)
			So(c.Q, ShouldBeNil)
		})

		Convey("The diagonal is not computed with r = 1", func() {
			So(m.Cells[0][0].Status, ShouldEqual, model.CellNotComputed)
			So(*m.Cells[0][0].R, ShouldEqual, 1)
		})
	})

	Convey("Given strongly related and flat series", t, func() {
		n := 60
		x := make([]float64, n)
		y := make([]float64, n)
		flat := make([]float64, n)
		for i := 0; i < n; i++ {
			x[i] = math.Sin(float64(i) * 2.1)
			y[i] = 3*x[i] + 0.05*math.Cos(float64(i)*7.3)
			flat[i] = 4
		}
		m := Compute([]model.Series{mkSeries("x", x), mkSeries("y", y), mkSeries("flat", flat)}, DefaultParams())

		Convey("The related pair is significant and mirrored", func() {
			c := m.Cells[0][1]
			So(c.Status, ShouldEqual, model.CellOK)
			So(*c.R, ShouldBeGreaterThan, 0.99)
			So(c.NEff, ShouldBeLessThanOrEqualTo, c.N)
			So(*c.Q, ShouldBeGreaterThanOrEqualTo, *c.P)
			So(*c.RLow, ShouldBeLessThanOrEqualTo, *c.R)
			So(m.Cells[1][0], ShouldResemble, c)
		})

		Convey("Zero variance is not computed", func() {
			So(m.Cells[0][2].Status, ShouldEqual, model.CellNotComputed)
			So(m.Cells[0][2].R, ShouldBeNil)
			So(m.Cells[2][1].Status, ShouldEqual, model.CellNotComputed)
		})
	})

	Convey("Given a small effective sample", t, func() {
		n := 12
		x := make([]float64, n)
		y := make([]float64, n)
		for i := 0; i < n; i++ {
			x[i] = float64(i)
			y[i] = float64(i) + math.Sin(float64(i))
		}
		m := Compute([]model.Series{mkSeries("x", x), mkSeries("y", y)}, DefaultParams())

		Convey("r is reported but significance is withheld", func() {
			c := m.Cells[0][1]
			So(c.Status, ShouldEqual, model.CellNotSignificant)
			So(c.R, ShouldNotBeNil)
			So(c.P, ShouldBeNil)
			So(c.Q, ShouldBeNil)
			So(c.NEff, ShouldBeLessThan, 10)
		})
	})
}
