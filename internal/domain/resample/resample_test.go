package resample

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okian/sensorlink/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
)

func TestBucketStart(t *testing.T) {
	cases := []struct {
		unix, interval, want int64
	}{
		{0, 60, 0},
		{59, 60, 0},
		{60, 60, 60},
		{125, 60, 120},
		{-1, 60, -60},
		{-60, 60, -60},
		{-61, 60, -120},
		{1_700_000_007, 10, 1_700_000_000},
	}
	for _, c := range cases {
		got := BucketStart(c.unix, c.interval)
		assert.Equal(t, c.want, got, "BucketStart(%d, %d)", c.unix, c.interval)
		assert.Equal(t, got, BucketStart(got, c.interval), "idempotent for %d", c.unix)
		assert.Zero(t, got%c.interval, "epoch aligned for %d", c.unix)
	}
}

func TestModeFor(t *testing.T) {
	assert.Equal(t, model.AggSum, ModeFor("water_flow"))
	assert.Equal(t, model.AggSum, ModeFor("Rain gauge"))
	assert.Equal(t, model.AggSum, ModeFor("pulse_counter"))
	assert.Equal(t, model.AggLast, ModeFor("door_contact"))
	assert.Equal(t, model.AggLast, ModeFor("HVAC Mode"))
	assert.Equal(t, model.AggAvg, ModeFor("temperature"))
	assert.Equal(t, model.AggAvg, ModeFor(""))
	// sum keywords take precedence over last keywords
	assert.Equal(t, model.AggSum, ModeFor("flow_status"))
}

func TestEffectiveInterval(t *testing.T) {
	Convey("Given a one day window", t, func() {
		start, end := int64(0), int64(86_400)

		Convey("A small request is widened to respect max buckets", func() {
			iv, adjusted := EffectiveInterval(start, end, 1, 60, 5000)
			So(adjusted, ShouldBeTrue)
			So(iv, ShouldEqual, 18) // ceil(86400/5000)
		})

		Convey("A request within bounds is kept", func() {
			iv, adjusted := EffectiveInterval(start, end, 60, 60, 5000)
			So(adjusted, ShouldBeFalse)
			So(iv, ShouldEqual, 60)
		})

		Convey("A missing interval uses the default", func() {
			iv, adjusted := EffectiveInterval(start, end, 0, 300, 5000)
			So(adjusted, ShouldBeFalse)
			So(iv, ShouldEqual, 300)
		})
	})
}

func pt(sec int64, v float64) model.Point {
	return model.Point{TS: time.Unix(sec, 0), Value: v}
}

func TestBucketize(t *testing.T) {
	Convey("Given raw points spanning three buckets", t, func() {
		points := []model.Point{
			pt(125, 4), pt(61, 1), pt(70, 3), pt(119, math.NaN()), pt(130, math.Inf(1)),
			pt(300, 10), pt(300, 11),
		}

		Convey("avg averages finite points per bucket", func() {
			s := Bucketize("s", points, 60, model.AggAvg)
			So(s.Buckets, ShouldResemble, []model.Bucket{{Start: 60, Value: 2}, {Start: 120, Value: 4}, {Start: 300, Value: 10.5}})
		})

		Convey("sum totals per bucket", func() {
			s := Bucketize("s", points, 60, model.AggSum)
			So(s.Buckets[0].Value, ShouldEqual, 4)
			So(s.Buckets[2].Value, ShouldEqual, 21)
		})

		Convey("last keeps the latest timestamp and the later input on ties", func() {
			s := Bucketize("s", points, 60, model.AggLast)
			So(s.Buckets[0].Value, ShouldEqual, 3)
			So(s.Buckets[2].Value, ShouldEqual, 11)
		})

		Convey("no bucket is synthesized for empty intervals", func() {
			s := Bucketize("s", points, 60, model.AggAvg)
			So(len(s.Buckets), ShouldEqual, 3)
			for i := 1; i < len(s.Buckets); i++ {
				So(s.Buckets[i].Start, ShouldBeGreaterThan, s.Buckets[i-1].Start)
			}
		})
	})
}

func derived(id, op string, inputs ...string) model.Sensor {
	return model.Sensor{ID: id, Formula: &model.Formula{Op: op, Inputs: inputs}}
}

func TestGraphPlan(t *testing.T) {
	Convey("Given a derived sensor graph", t, func() {
		sensors := []model.Sensor{
			{ID: "a"}, {ID: "b"},
			derived("ab", model.OpSum, "a", "b"),
			derived("top", model.OpRatio, "ab", "a"),
			derived("x", model.OpSum, "y"),
			derived("y", model.OpSum, "x"),
			derived("bad", "median", "a"),
		}
		g := NewGraph(sensors, 8)

		Convey("Inputs are planned before dependents", func() {
			plan, err := g.Plan("top")
			So(err, ShouldBeNil)
			So(plan, ShouldResemble, []string{"a", "b", "ab", "top"})
		})

		Convey("A cycle is a request error", func() {
			_, err := g.Plan("x")
			So(errors.Is(err, ErrDependencyCycle), ShouldBeTrue)
		})

		Convey("Unknown ops and inputs are rejected", func() {
			So(errors.Is(g.Check("bad"), ErrInvalidFormula), ShouldBeTrue)
			So(errors.Is(g.Check("missing"), ErrUnknownSensor), ShouldBeTrue)
		})

		Convey("Depth beyond the bound is a request error", func() {
			chain := []model.Sensor{{ID: "d0"}}
			prev := "d0"
			for _, id := range []string{"d1", "d2", "d3", "d4"} {
				chain = append(chain, derived(id, model.OpSum, prev))
				prev = id
			}
			shallow := NewGraph(chain, 3)
			So(shallow.Check("d3"), ShouldBeNil)
			So(errors.Is(shallow.Check("d4"), ErrDependencyDepth), ShouldBeTrue)
		})
	})
}

func TestEvaluate(t *testing.T) {
	lin := &model.Formula{Op: model.OpLinear, Inputs: []string{"a", "b"}, Coefficients: []float64{2, -1}, Offset: 0.5}
	v, ok := Evaluate(lin, []float64{3, 4})
	assert.True(t, ok)
	assert.InDelta(t, 2.5, v, 1e-12)

	_, ok = Evaluate(&model.Formula{Op: model.OpRatio}, []float64{1, 0})
	assert.False(t, ok)

	v, _ = Evaluate(&model.Formula{Op: model.OpMin}, []float64{3, -2, 7})
	assert.Equal(t, -2.0, v)
	v, _ = Evaluate(&model.Formula{Op: model.OpMean}, []float64{1, 2, 6})
	assert.Equal(t, 3.0, v)
}

type fakeReader map[string][]model.Point

func (f fakeReader) ReadBucketed(_ context.Context, id string, start, end time.Time, iv int64, mode model.Aggregation) (model.Series, error) {
	var in []model.Point
	for _, p := range f[id] {
		if !p.TS.Before(start) && p.TS.Before(end) {
			in = append(in, p)
		}
	}
	return Bucketize(id, in, iv, mode), nil
}

func TestResolverSeries(t *testing.T) {
	Convey("Given stored inputs with gaps", t, func() {
		reader := fakeReader{
			"a": {pt(0, 2), pt(10, 4), pt(20, 6), pt(40, 8)},
			"b": {pt(0, 1), pt(20, 0), pt(30, 5), pt(40, 2)},
		}
		g := NewGraph([]model.Sensor{
			{ID: "a"}, {ID: "b"},
			derived("ratio", model.OpRatio, "a", "b"),
			derived("twice", model.OpSum, "ratio", "ratio"),
		}, 8)
		r := NewResolver(reader, g)
		ctx := context.Background()

		Convey("Derived buckets exist only where every input has a bucket", func() {
			s, err := r.Series(ctx, "ratio", time.Unix(0, 0), time.Unix(60, 0), 10)
			So(err, ShouldBeNil)
			// 10 and 30 miss an input; 20 divides by zero
			So(s.Buckets, ShouldResemble, []model.Bucket{{Start: 0, Value: 2}, {Start: 40, Value: 4}})
		})

		Convey("Nested derived sensors resolve transitively", func() {
			s, err := r.Series(ctx, "twice", time.Unix(0, 0), time.Unix(60, 0), 10)
			So(err, ShouldBeNil)
			So(s.Buckets, ShouldResemble, []model.Bucket{{Start: 0, Value: 4}, {Start: 40, Value: 8}})
		})

		Convey("An empty window is rejected", func() {
			_, err := r.Series(ctx, "a", time.Unix(60, 0), time.Unix(60, 0), 10)
			So(errors.Is(err, ErrInvalidWindow), ShouldBeTrue)
		})

		Convey("A cancelled context stops resolution", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := r.Series(cctx, "a", time.Unix(0, 0), time.Unix(60, 0), 10)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}
