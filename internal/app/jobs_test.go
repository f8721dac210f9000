package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/sensorlink/internal/adapters/repository"
	service "github.com/okian/sensorlink/internal/app"
	"github.com/okian/sensorlink/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// blockingStore holds every read until the caller's context ends.
type blockingStore struct{ *repository.MemoryStore }

func (blockingStore) ReadBucketed(ctx context.Context, _ string, _, _ time.Time, _ int64, _ model.Aggregation) (model.Series, error) {
	<-ctx.Done()
	return model.Series{}, ctx.Err()
}

func waitTerminal(svc *service.Service, id string) service.Job {
	deadline := time.Now().Add(5 * time.Second)
	for {
		j, err := svc.Job(context.Background(), id)
		if err != nil || j.Status.Terminal() || time.Now().After(deadline) {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		store, cat := fixture()
		svc := service.New(store, cat, service.WithWorkerCount(2), service.WithQueueSize(10))
		defer svc.Stop()

		Convey("Jobs are refused before Start", func() {
			req := rankRequest()
			_, _, err := svc.SubmitJob(context.Background(), service.JobRequest{Kind: model.JobRank, Rank: &req})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("Start is idempotent and reported in stats", func() {
			So(svc.Start(context.Background()), ShouldBeNil)
			So(svc.Start(context.Background()), ShouldBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["workerCount"], ShouldEqual, 2)
			So(stats["storedPoints"], ShouldEqual, 500)

			svc.Stop()
			So(svc.GetStats()["started"], ShouldEqual, false)
		})
	})
}

func TestService_Jobs(t *testing.T) {
	Convey("Given a started service", t, func() {
		store, cat := fixture()
		svc := service.New(store, cat, service.WithWorkerCount(2), service.WithJobRetention(1))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("A rank job runs to completion with its result", func() {
			req := rankRequest()
			j, existing, err := svc.SubmitJob(ctx, service.JobRequest{Kind: model.JobRank, Rank: &req})
			So(err, ShouldBeNil)
			So(existing, ShouldBeFalse)
			So(j.Status, ShouldEqual, model.JobQueued)

			done := waitTerminal(svc, j.ID)
			So(done.Status, ShouldEqual, model.JobSucceeded)
			res, ok := done.Result.(service.RankResponse)
			So(ok, ShouldBeTrue)
			So(res.Candidates[0].SensorID, ShouldEqual, "a")

			Convey("and cannot be cancelled afterwards", func() {
				_, err := svc.CancelJob(ctx, j.ID)
				So(errors.Is(err, service.ErrJobFinished), ShouldBeTrue)
			})
		})

		Convey("A correlation job runs to completion", func() {
			req := service.CorrelationRequest{SensorIDs: []string{"focus", "a"}, Start: t0, End: t0.Add(minutes * time.Minute)}
			j, _, err := svc.SubmitJob(ctx, service.JobRequest{Kind: model.JobCorrelation, Correlation: &req})
			So(err, ShouldBeNil)
			So(waitTerminal(svc, j.ID).Status, ShouldEqual, model.JobSucceeded)
		})

		Convey("A failing job records its error", func() {
			req := service.CorrelationRequest{SensorIDs: []string{"focus", "ghost"}, Start: t0, End: t0.Add(time.Hour)}
			j, _, err := svc.SubmitJob(ctx, service.JobRequest{Kind: model.JobCorrelation, Correlation: &req})
			So(err, ShouldBeNil)
			done := waitTerminal(svc, j.ID)
			So(done.Status, ShouldEqual, model.JobFailed)
			So(done.Error, ShouldContainSubstring, "ghost")
		})

		Convey("A repeated idempotency key returns the original job", func() {
			req := rankRequest()
			first, _, err := svc.SubmitJob(ctx, service.JobRequest{Kind: model.JobRank, Rank: &req, IdempotencyKey: "k1"})
			So(err, ShouldBeNil)
			again, existing, err := svc.SubmitJob(ctx, service.JobRequest{Kind: model.JobRank, Rank: &req, IdempotencyKey: "k1"})
			So(err, ShouldBeNil)
			So(existing, ShouldBeTrue)
			So(again.ID, ShouldEqual, first.ID)
		})

		Convey("Finished jobs beyond retention are evicted", func() {
			req := rankRequest()
			first, _, err := svc.SubmitJob(ctx, service.JobRequest{Kind: model.JobRank, Rank: &req})
			So(err, ShouldBeNil)
			So(waitTerminal(svc, first.ID).Status, ShouldEqual, model.JobSucceeded)
			second, _, err := svc.SubmitJob(ctx, service.JobRequest{Kind: model.JobRank, Rank: &req})
			So(err, ShouldBeNil)
			So(waitTerminal(svc, second.ID).Status, ShouldEqual, model.JobSucceeded)

			_, err = svc.Job(ctx, first.ID)
			So(errors.Is(err, service.ErrJobNotFound), ShouldBeTrue)
		})

		Convey("Mismatched kinds are rejected", func() {
			req := rankRequest()
			_, _, err := svc.SubmitJob(ctx, service.JobRequest{Kind: model.JobCorrelation, Rank: &req})
			So(errors.Is(err, service.ErrInvalidRequest), ShouldBeTrue)
		})

		Convey("Unknown jobs are not found", func() {
			_, err := svc.Job(ctx, "nope")
			So(errors.Is(err, service.ErrJobNotFound), ShouldBeTrue)
			_, err = svc.CancelJob(ctx, "nope")
			So(errors.Is(err, service.ErrJobNotFound), ShouldBeTrue)
		})
	})
}

func TestService_JobCancellation(t *testing.T) {
	Convey("Given a service whose reads block", t, func() {
		mem, cat := fixture()
		svc := service.New(blockingStore{mem}, cat, service.WithWorkerCount(1), service.WithQueueSize(1))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()
		req := rankRequest()

		Convey("A running job can be cancelled", func() {
			j, _, err := svc.SubmitJob(ctx, service.JobRequest{Kind: model.JobRank, Rank: &req})
			So(err, ShouldBeNil)

			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				cur, _ := svc.Job(ctx, j.ID)
				if cur.Status == model.JobRunning {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}

			cancelled, err := svc.CancelJob(ctx, j.ID)
			So(err, ShouldBeNil)
			So(cancelled.Status, ShouldEqual, model.JobCancelled)
			So(waitTerminal(svc, j.ID).Status, ShouldEqual, model.JobCancelled)
		})

		Convey("A full queue pushes back", func() {
			var last error
			for i := 0; i < 10 && last == nil; i++ {
				_, _, last = svc.SubmitJob(ctx, service.JobRequest{Kind: model.JobRank, Rank: &req})
			}
			So(errors.Is(last, service.ErrBackpressure), ShouldBeTrue)
		})
	})
}

func TestService_ConcurrentSubmit(t *testing.T) {
	Convey("Given a started service with one worker", t, func() {
		store, cat := fixture()
		svc := service.New(store, cat, service.WithWorkerCount(1), service.WithQueueSize(256), service.WithJobRetention(256))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		const n = 64
		submit := func(key func(i int) string) ([]service.Job, []bool, []error) {
			jobs := make([]service.Job, n)
			existing := make([]bool, n)
			errs := make([]error, n)
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					req := rankRequest()
					jobs[i], existing[i], errs[i] = svc.SubmitJob(ctx, service.JobRequest{
						Kind: model.JobRank, Rank: &req, IdempotencyKey: key(i),
					})
				}(i)
			}
			wg.Wait()
			return jobs, existing, errs
		}

		Convey("Submissions racing the worker return queued snapshots", func() {
			jobs, _, errs := submit(func(i int) string { return fmt.Sprintf("k-%d", i) })
			seen := map[string]bool{}
			for i := range jobs {
				So(errs[i], ShouldBeNil)
				So(jobs[i].Status, ShouldEqual, model.JobQueued)
				seen[jobs[i].ID] = true
			}
			So(seen, ShouldHaveLength, n)
			for id := range seen {
				So(waitTerminal(svc, id).Status, ShouldEqual, model.JobSucceeded)
			}
		})

		Convey("One shared key binds every submitter to a single job", func() {
			jobs, existing, errs := submit(func(int) string { return "shared" })
			fresh := 0
			for i := range jobs {
				So(errs[i], ShouldBeNil)
				So(jobs[i].ID, ShouldEqual, jobs[0].ID)
				if !existing[i] {
					fresh++
				}
			}
			So(fresh, ShouldEqual, 1)
			So(svc.GetStats()["idempotencyKeys"], ShouldEqual, int64(1))
		})
	})
}
