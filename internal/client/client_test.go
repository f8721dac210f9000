package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/sensorlink/internal/client"
)

func TestClient(t *testing.T) {
	Convey("Given a fake sensorlink server", t, func() {
		var polls atomic.Int32
		var lastBody atomic.Value
		var lastKey atomic.Value
		lastKey.Store("")

		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/rank", func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			lastBody.Store(string(b))
			_, _ = w.Write([]byte(`{"focus_sensor_id":"f","candidates":[]}`))
		})
		mux.HandleFunc("POST /v1/correlation", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"bad_request","message":"sensor count out of range"}`))
		})
		mux.HandleFunc("GET /v1/sensors", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"sensors":[{"id":"` + r.URL.Query().Get("node_id") + `.s01"}]}`))
		})
		mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
			lastKey.Store(r.Header.Get("Idempotency-Key"))
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"job_id":"j1","status":"queued"}`))
		})
		mux.HandleFunc("GET /v1/jobs/j1", func(w http.ResponseWriter, _ *http.Request) {
			status := "running"
			if polls.Add(1) >= 3 {
				status = "succeeded"
			}
			_, _ = w.Write([]byte(`{"job_id":"j1","kind":"rank","status":"` + status + `","result":{"ok":true}}`))
		})
		mux.HandleFunc("DELETE /v1/jobs/j1", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte("already finished"))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		c := client.New(srv.URL+"/", client.WithTimeout(2*time.Second))
		ctx := context.Background()

		Convey("Then Rank posts the body and returns the raw document", func() {
			out, err := c.Rank(ctx, map[string]any{"focus_sensor_id": "f"})
			So(err, ShouldBeNil)
			So(lastBody.Load(), ShouldEqual, `{"focus_sensor_id":"f"}`)
			var doc map[string]any
			So(json.Unmarshal(out, &doc), ShouldBeNil)
			So(doc["focus_sensor_id"], ShouldEqual, "f")
		})

		Convey("Then server errors surface as APIError", func() {
			_, err := c.Correlate(ctx, map[string]any{"sensor_ids": []string{"a"}})
			var apiErr *client.APIError
			So(errors.As(err, &apiErr), ShouldBeTrue)
			So(apiErr.Status, ShouldEqual, http.StatusBadRequest)
			So(apiErr.Code, ShouldEqual, "bad_request")
		})

		Convey("Then non-JSON error bodies still produce a code", func() {
			_, err := c.CancelJob(ctx, "j1")
			var apiErr *client.APIError
			So(errors.As(err, &apiErr), ShouldBeTrue)
			So(apiErr.Code, ShouldEqual, "conflict")
			So(apiErr.Message, ShouldEqual, "already finished")
		})

		Convey("Then Sensors passes the node filter", func() {
			out, err := c.Sensors(ctx, "node-01")
			So(err, ShouldBeNil)
			So(string(out), ShouldContainSubstring, "node-01.s01")
		})

		Convey("Then jobs carry the idempotency key and can be awaited", func() {
			ack, err := c.SubmitJob(ctx, "rank", map[string]any{"focus_sensor_id": "f"}, "k-9")
			So(err, ShouldBeNil)
			So(ack.JobID, ShouldEqual, "j1")
			So(lastKey.Load(), ShouldEqual, "k-9")

			js, err := c.WaitJob(ctx, ack.JobID, 5*time.Millisecond)
			So(err, ShouldBeNil)
			So(js.Status, ShouldEqual, "succeeded")
			So(js.Terminal(), ShouldBeTrue)
			So(string(js.Result), ShouldEqual, `{"ok":true}`)
		})

		Convey("Then an unreachable server is a request error", func() {
			dead := client.New("http://127.0.0.1:1", client.WithTimeout(200*time.Millisecond))
			_, err := dead.Rank(ctx, map[string]any{})
			So(errors.Is(err, client.ErrRequest), ShouldBeTrue)
		})
	})
}
