package catalog

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init(logger.WithOutput(os.Stderr))
	os.Exit(m.Run())
}

const sample = `
sensors:
  - id: ahu1.supply_temp
    unit: C
    type: temperature
    node_id: ahu1
  - id: ahu1.return_temp
    unit: C
    type: temperature
    node_id: ahu1
  - id: ahu1.delta_t
    unit: C
    type: temperature
    node_id: ahu1
    formula:
      op: diff
      inputs: [ahu1.return_temp, ahu1.supply_temp]
  - id: weather.outdoor
    unit: C
    provider: weather
    external: true
`

func TestStatic(t *testing.T) {
	Convey("Given a static catalog", t, func() {
		ctx := context.Background()
		c := NewStatic(model.Sensor{ID: "b"}, model.Sensor{ID: "a", Unit: "kW"})

		Convey("Sensors are listed by ID", func() {
			all, err := c.Sensors(ctx)
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 2)
			So(all[0].ID, ShouldEqual, "a")
		})

		Convey("Unknown IDs return ErrNotFound", func() {
			_, err := c.Sensor(ctx, "zzz")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})

		Convey("Put replaces existing entries", func() {
			c.Put(model.Sensor{ID: "a", Unit: "W"})
			s, err := c.Sensor(ctx, "a")
			So(err, ShouldBeNil)
			So(s.Unit, ShouldEqual, "W")
		})
	})
}

func TestDecode(t *testing.T) {
	Convey("Decoding a catalog document", t, func() {
		Convey("keeps formulas and provider flags", func() {
			sensors, err := Decode(strings.NewReader(sample))
			So(err, ShouldBeNil)
			So(len(sensors), ShouldEqual, 4)
			So(sensors[2].Derived(), ShouldBeTrue)
			So(sensors[2].Formula.Inputs, ShouldResemble, []string{"ahu1.return_temp", "ahu1.supply_temp"})
			So(sensors[3].External, ShouldBeTrue)
		})

		Convey("rejects duplicates", func() {
			_, err := Decode(strings.NewReader("sensors:\n  - id: a\n  - id: a\n"))
			So(errors.Is(err, ErrInvalidCatalog), ShouldBeTrue)
		})

		Convey("rejects unknown fields", func() {
			_, err := Decode(strings.NewReader("sensors:\n  - id: a\n    colour: red\n"))
			So(errors.Is(err, ErrInvalidCatalog), ShouldBeTrue)
		})

		Convey("rejects derived sensors without inputs", func() {
			_, err := Decode(strings.NewReader("sensors:\n  - id: a\n    formula:\n      op: sum\n"))
			So(errors.Is(err, ErrInvalidCatalog), ShouldBeTrue)
		})

		Convey("accepts an empty document", func() {
			sensors, err := Decode(strings.NewReader(""))
			So(err, ShouldBeNil)
			So(sensors, ShouldBeEmpty)
		})
	})
}

func TestYAMLCatalog(t *testing.T) {
	Convey("Given a catalog file on disk", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		So(os.WriteFile(path, []byte(sample), 0o600), ShouldBeNil)

		c, err := Open(ctx, path)
		So(err, ShouldBeNil)
		So(c.Path(), ShouldEqual, path)

		s, err := c.Sensor(ctx, "ahu1.delta_t")
		So(err, ShouldBeNil)
		So(s.Formula.Op, ShouldEqual, model.OpDiff)

		Convey("Save and Reload round-trip the sensor set", func() {
			So(Save(path, []model.Sensor{{ID: "only", Type: "flow"}}), ShouldBeNil)
			So(c.Reload(ctx), ShouldBeNil)
			all, err := c.Sensors(ctx)
			So(err, ShouldBeNil)
			So(len(all), ShouldEqual, 1)
			So(all[0].Type, ShouldEqual, "flow")
		})

		Convey("Encode produces a readable document", func() {
			var buf bytes.Buffer
			So(Encode(&buf, []model.Sensor{{ID: "x"}}), ShouldBeNil)
			So(buf.String(), ShouldContainSubstring, "id: x")
		})
	})

	Convey("Opening a missing file fails", t, func() {
		_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
		So(err, ShouldNotBeNil)
	})
}
