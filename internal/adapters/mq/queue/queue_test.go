package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/sensorlink/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func task(id string) Task { return Task{JobID: id, Kind: model.JobRank, Enqueued: time.Now()} }

func TestInMemoryQueue(t *testing.T) {
	Convey("Given a queue with capacity 2", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		q := NewInMemoryQueue(WithCapacity(2))
		So(q.Capacity(), ShouldEqual, 2)
		So(q.Len(ctx), ShouldEqual, 0)

		Convey("Enqueued tasks are delivered in order", func() {
			So(q.Enqueue(ctx, task("a")), ShouldBeNil)
			So(q.Enqueue(ctx, task("b")), ShouldBeNil)
			So(q.Len(ctx), ShouldEqual, 2)

			ch := q.Dequeue(ctx)
			So((<-ch).JobID, ShouldEqual, "a")
			So((<-ch).JobID, ShouldEqual, "b")
		})

		Convey("A full queue rejects with ErrFull", func() {
			So(q.Enqueue(ctx, task("a")), ShouldBeNil)
			So(q.Enqueue(ctx, task("b")), ShouldBeNil)
			So(errors.Is(q.Enqueue(ctx, task("c")), ErrFull), ShouldBeTrue)
			So(q.Len(ctx), ShouldEqual, 2)
		})

		Convey("A closed queue rejects and drains", func() {
			So(q.Enqueue(ctx, task("a")), ShouldBeNil)
			So(q.Close(), ShouldBeNil)
			So(q.IsClosed(), ShouldBeTrue)
			So(errors.Is(q.Enqueue(ctx, task("b")), ErrClosed), ShouldBeTrue)

			var got []string
			for tk := range q.Dequeue(ctx) {
				got = append(got, tk.JobID)
			}
			So(got, ShouldResemble, []string{"a"})
			So(q.Close(), ShouldBeNil)
		})
	})
}

func TestInMemoryQueueConcurrent(t *testing.T) {
	Convey("Given concurrent producers and consumers", t, func() {
		ctx := context.Background()
		q := NewInMemoryQueue(WithCapacity(16))

		const producers, perProducer = 4, 50
		var consumed sync.Map
		var consumers sync.WaitGroup
		for i := 0; i < 3; i++ {
			consumers.Add(1)
			go func() {
				defer consumers.Done()
				for tk := range q.Dequeue(ctx) {
					consumed.Store(tk.JobID, true)
				}
			}()
		}

		var wg sync.WaitGroup
		for p := 0; p < producers; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for j := 0; j < perProducer; j++ {
					for q.Enqueue(ctx, task(fmt.Sprintf("%d-%d", p, j))) != nil {
						time.Sleep(time.Millisecond)
					}
				}
			}(p)
		}
		wg.Wait()
		So(q.Close(), ShouldBeNil)
		consumers.Wait()

		n := 0
		consumed.Range(func(_, _ any) bool { n++; return true })
		So(n, ShouldEqual, producers*perProducer)
	})
}
