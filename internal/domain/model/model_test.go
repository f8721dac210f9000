package model_test

import (
	"encoding/json"
	"testing"

	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestJSONRendering(t *testing.T) {
	convey.Convey("Given domain values carrying unix timestamps", t, func() {
		convey.Convey("Buckets render their start as RFC3339", func() {
			b, err := json.Marshal(model.Bucket{Start: 60, Value: 1.5})
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(b), convey.ShouldEqual, `{"ts":"1970-01-01T00:01:00Z","value":1.5}`)
		})

		convey.Convey("Timestamps render as a string list", func() {
			b, err := json.Marshal(model.Timestamps{0, 3600})
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(b), convey.ShouldEqual, `["1970-01-01T00:00:00Z","1970-01-01T01:00:00Z"]`)
		})

		convey.Convey("Withheld correlation values render as null", func() {
			b, err := json.Marshal(model.CorrelationCell{N: 8, NEff: 8, Status: model.CellInsufficientOverlap})
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(b), convey.ShouldContainSubstring, `"r":null`)
			convey.So(string(b), convey.ShouldContainSubstring, `"p":null`)
			convey.So(string(b), convey.ShouldContainSubstring, `"q":null`)
		})
	})
}

func TestTierRank(t *testing.T) {
	convey.Convey("Tiers order High > Medium > Low", t, func() {
		convey.So(model.TierHigh.Rank(), convey.ShouldBeGreaterThan, model.TierMedium.Rank())
		convey.So(model.TierMedium.Rank(), convey.ShouldBeGreaterThan, model.TierLow.Rank())
		convey.So(model.AggSum.Valid(), convey.ShouldBeTrue)
		convey.So(model.Aggregation("median").Valid(), convey.ShouldBeFalse)
	})
}
