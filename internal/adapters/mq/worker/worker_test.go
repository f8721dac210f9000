package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/sensorlink/internal/adapters/mq/queue"
	"github.com/okian/sensorlink/internal/adapters/mq/worker"
	"github.com/okian/sensorlink/internal/domain/model"
	"github.com/okian/sensorlink/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	goleak.VerifyTestMain(m)
}

type recordingRunner struct {
	mu   sync.Mutex
	ran  map[string]int
	fail map[string]error
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{ran: make(map[string]int), fail: make(map[string]error)}
}

func (r *recordingRunner) RunJob(_ context.Context, t model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran[t.JobID]++
	return r.fail[t.JobID]
}

func (r *recordingRunner) failOn(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[id] = err
}

func (r *recordingRunner) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ran[id]
}

func (r *recordingRunner) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.ran {
		n += c
	}
	return n
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a single worker on a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(8))
		runner := newRecordingRunner()
		w := worker.NewInMemoryWorker(q, runner, worker.WithName("test-worker"))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When tasks are enqueued they are run once each", func() {
			convey.So(q.Enqueue(ctx, model.Task{JobID: "j1", Kind: model.JobRank}), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, model.Task{JobID: "j2", Kind: model.JobCorrelation}), convey.ShouldBeNil)
			convey.So(waitFor(func() bool { return runner.total() == 2 }), convey.ShouldBeTrue)
			convey.So(runner.count("j1"), convey.ShouldEqual, 1)
		})

		convey.Convey("A failing job does not stop the worker", func() {
			runner.failOn("bad", errors.New("boom"))
			convey.So(q.Enqueue(ctx, model.Task{JobID: "bad"}), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, model.Task{JobID: "good"}), convey.ShouldBeNil)
			convey.So(waitFor(func() bool { return runner.count("good") == 1 }), convey.ShouldBeTrue)
		})

		convey.Convey("Shutdown returns once the loop exits", func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
		})

		// Release the queue's dequeue goroutine.
		cancel()
		_ = q.Close()
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of workers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(256))
		runner := newRecordingRunner()
		pool := worker.NewPool(4, q, runner, worker.WithMetricsInterval(10*time.Millisecond))
		convey.So(pool.Size(), convey.ShouldEqual, 4)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		convey.Convey("Concurrent producers see every task run exactly once", func() {
			const producers, perProducer = 5, 20
			var wg sync.WaitGroup
			for p := 0; p < producers; p++ {
				wg.Add(1)
				go func(p int) {
					defer wg.Done()
					for j := 0; j < perProducer; j++ {
						_ = q.Enqueue(ctx, model.Task{JobID: fmt.Sprintf("%d-%d", p, j), Kind: model.JobRank})
					}
				}(p)
			}
			wg.Wait()
			convey.So(waitFor(func() bool { return runner.total() == producers*perProducer }), convey.ShouldBeTrue)
			convey.So(runner.count("3-7"), convey.ShouldEqual, 1)
		})

		convey.Convey("Shutdown drains pending tasks and is idempotent", func() {
			for i := 0; i < 10; i++ {
				convey.So(q.Enqueue(ctx, model.Task{JobID: fmt.Sprintf("d-%d", i)}), convey.ShouldBeNil)
			}
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(runner.total(), convey.ShouldEqual, 10)
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
		})

		convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
	})
}
