package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/sensorlink/internal/adapters/catalog"
	"github.com/okian/sensorlink/internal/adapters/repository"
	"github.com/okian/sensorlink/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithOutput(io.Discard)); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func execute(args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWindowFlags(t *testing.T) {
	Convey("Given window flags", t, func() {
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

		Convey("Then --last counts back from now", func() {
			w := windowFlags{last: time.Hour}
			start, end, err := w.resolve(now)
			So(err, ShouldBeNil)
			So(end, ShouldEqual, now)
			So(start, ShouldEqual, now.Add(-time.Hour))
		})

		Convey("Then explicit bounds win", func() {
			w := windowFlags{start: "2024-01-01T00:00:00Z", end: "2024-01-02T00:00:00Z", last: time.Hour}
			start, end, err := w.resolve(now)
			So(err, ShouldBeNil)
			So(end.Sub(start), ShouldEqual, 24*time.Hour)
		})

		Convey("Then malformed times are rejected", func() {
			w := windowFlags{end: "yesterday"}
			_, _, err := w.resolve(now)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSeedCommand(t *testing.T) {
	Convey("Given an empty sqlite file and catalog path", t, func() {
		dir := t.TempDir()
		db := filepath.Join(dir, "points.db")
		cat := filepath.Join(dir, "catalog.yaml")

		out, err := execute("seed", "--dsn", db, "--catalog", cat,
			"--nodes", "1", "--sensors-per-node", "2", "--points", "30", "--start", "2024-01-01T00:00:00Z")
		So(err, ShouldBeNil)

		Convey("Then it reports what it wrote", func() {
			var summary map[string]any
			So(json.Unmarshal([]byte(out), &summary), ShouldBeNil)
			So(summary["points"], ShouldEqual, 90.0)
			So(summary["sensors"], ShouldEqual, 4.0)
			So(summary["end"], ShouldEqual, "2024-01-01T00:30:00Z")
		})

		Convey("Then the store and catalog hold the fleet", func() {
			store, err := repository.Open(context.Background(), "sqlite3", db)
			So(err, ShouldBeNil)
			defer store.Close()
			n, err := store.Count(context.Background())
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 90)

			c, err := catalog.Open(context.Background(), cat)
			So(err, ShouldBeNil)
			sensors, err := c.Sensors(context.Background())
			So(err, ShouldBeNil)
			So(len(sensors), ShouldEqual, 4)
		})
	})
}

func TestAnalysisCommands(t *testing.T) {
	Convey("Given a fake server", t, func() {
		var body map[string]any
		var polled bool
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/rank", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&body)
			_, _ = w.Write([]byte(`{"candidates":[{"sensor_id":"a"}]}`))
		})
		mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&body)
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"job_id":"j1","status":"queued"}`))
		})
		mux.HandleFunc("GET /v1/jobs/j1", func(w http.ResponseWriter, _ *http.Request) {
			polled = true
			_, _ = w.Write([]byte(`{"job_id":"j1","status":"succeeded","result":{"matrix":[]}}`))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		Convey("Then rank sends the flags as a request body", func() {
			out, err := execute("--url", srv.URL, "rank", "--focus", "f", "--candidates", "a,b",
				"--start", "2024-01-01T00:00:00Z", "--end", "2024-01-02T00:00:00Z", "--interval", "300",
				"--max-lag-buckets", "4", "--same-unit")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, `"sensor_id": "a"`)
			So(body["focus_sensor_id"], ShouldEqual, "f")
			So(body["candidate_sensor_ids"], ShouldResemble, []any{"a", "b"})
			So(body["interval_seconds"], ShouldEqual, 300.0)
			So(body["max_lag_buckets"], ShouldEqual, 4.0)
			So(body, ShouldNotContainKey, "max_results")
			So(body["filters"].(map[string]any)["same_unit"], ShouldBeTrue)
		})

		Convey("Then correlate --async --wait submits a job and polls it", func() {
			out, err := execute("--url", srv.URL, "correlate", "--sensors", "a,b", "--async", "--wait", "--poll", "5ms")
			So(err, ShouldBeNil)
			So(body["kind"], ShouldEqual, "correlation")
			So(polled, ShouldBeTrue)
			So(out, ShouldContainSubstring, `"status": "succeeded"`)
		})

		Convey("Then rank without --focus fails before calling the server", func() {
			_, err := execute("--url", srv.URL, "rank")
			So(err, ShouldNotBeNil)
			So(body, ShouldBeNil)
		})
	})
}
