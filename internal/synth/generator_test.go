package synth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/sensorlink/internal/adapters/repository"
	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/internal/synth"
	"github.com/okian/sensorlink/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	m.Run()
}

func smallConfig() synth.Config {
	cfg := synth.DefaultConfig()
	cfg.Start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg.Nodes = 2
	cfg.SensorsPerNode = 3
	cfg.Points = 120
	cfg.Episodes = 4
	cfg.Seed = 7
	return cfg
}

func TestGenerate(t *testing.T) {
	Convey("Given a small fleet config", t, func() {
		cfg := smallConfig()
		ds, err := synth.Generate(context.Background(), cfg)
		So(err, ShouldBeNil)

		Convey("Then the catalog has node sensors, node totals and the weather feed", func() {
			So(len(ds.Sensors), ShouldEqual, 2*3+2+1)
			So(ds.RunID, ShouldNotBeEmpty)
			for i := 1; i < len(ds.Sensors); i++ {
				So(ds.Sensors[i-1].ID, ShouldBeLessThan, ds.Sensors[i].ID)
			}
		})

		Convey("Then every derived input has stored points", func() {
			for _, s := range ds.Sensors {
				if !s.Derived() {
					So(len(ds.Points[s.ID]), ShouldEqual, cfg.Points)
					continue
				}
				So(s.Formula.Op, ShouldEqual, model.OpSum)
				for _, in := range s.Formula.Inputs {
					So(ds.Points, ShouldContainKey, in)
				}
			}
		})

		Convey("Then points are on the step grid", func() {
			pts := ds.Points[synth.SensorID(0, 0)]
			So(pts[0].TS, ShouldEqual, cfg.Start)
			So(pts[1].TS.Sub(pts[0].TS), ShouldEqual, cfg.Step)
			So(ds.End(cfg), ShouldEqual, cfg.Start.Add(120*time.Minute))
		})

		Convey("Then planted lags stay within bounds and the lead sensor has none", func() {
			So(ds.Lags[synth.SensorID(0, 0)], ShouldEqual, 0)
			for _, lag := range ds.Lags {
				So(lag, ShouldBeBetweenOrEqual, 0, cfg.MaxLagSteps)
			}
		})

		Convey("Then the same seed reproduces the same values", func() {
			again, err := synth.Generate(context.Background(), cfg)
			So(err, ShouldBeNil)
			So(again.Points[synth.SensorID(1, 2)], ShouldResemble, ds.Points[synth.SensorID(1, 2)])
			So(again.RunID, ShouldNotEqual, ds.RunID)
		})
	})

	Convey("Given an invalid config", t, func() {
		cfg := smallConfig()
		cfg.SensorsPerNode = 1

		Convey("Then generation is refused", func() {
			_, err := synth.Generate(context.Background(), cfg)
			So(errors.Is(err, synth.ErrInvalidConfig), ShouldBeTrue)
		})
	})

	Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("Then generation stops with the context error", func() {
			_, err := synth.Generate(ctx, smallConfig())
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestSeed(t *testing.T) {
	Convey("Given a generated fleet and an empty store", t, func() {
		cfg := smallConfig()
		ds, err := synth.Generate(context.Background(), cfg)
		So(err, ShouldBeNil)
		store := repository.NewMemoryStore()

		Convey("Then seeding writes every point in batches", func() {
			n, err := synth.Seed(context.Background(), store, ds, 50)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, (2*3+1)*cfg.Points)

			count, err := store.Count(context.Background())
			So(err, ShouldBeNil)
			So(count, ShouldEqual, n)

			ids, err := store.SensorIDs(context.Background())
			So(err, ShouldBeNil)
			So(ids, ShouldContain, "weather.outdoor")
		})
	})
}
