package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/typerace/internal/adapters/mq/queue"
	"github.com/okian/typerace/internal/adapters/mq/worker"
	"github.com/okian/typerace/internal/domain/model"
	logging "github.com/okian/typerace/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
	fail   map[string]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{fail: map[string]bool{}}
}

func (s *recordingSink) Deliver(_ context.Context, ev model.Event) error { //nolint:gocritic // test helper
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[ev.RaceID] {
		return errors.New("subscriber gone")
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func progress(raceID, pid string, n int) model.Event {
	return model.NewProgressEvent(model.ProgressUpdate{
		RaceID: raceID, ParticipantID: pid, Progress: n, At: time.Now(),
	})
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
	convey.Convey("Given a worker over an in-memory queue", t, func() {
		_ = logging.Init()
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		sink := newRecordingSink()
		w := worker.NewInMemoryWorker(q, sink, worker.WithName("test-worker"))

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go w.Run(runCtx)

		convey.Convey("Events are delivered in order", func() {
			for i := 1; i <= 3; i++ {
				convey.So(q.Publish(ctx, progress("r1", "p1", i)), convey.ShouldBeNil)
			}
			convey.So(waitFor(func() bool { return sink.count() == 3 }), convey.ShouldBeTrue)
			sink.mu.Lock()
			convey.So(sink.events[0].Progress.Progress, convey.ShouldEqual, 1)
			convey.So(sink.events[2].Progress.Progress, convey.ShouldEqual, 3)
			sink.mu.Unlock()
		})

		convey.Convey("A failing delivery does not stop the worker", func() {
			sink.fail["bad"] = true
			convey.So(q.Publish(ctx, progress("bad", "p1", 1)), convey.ShouldBeNil)
			convey.So(q.Publish(ctx, progress("good", "p1", 1)), convey.ShouldBeNil)
			convey.So(waitFor(func() bool { return sink.count() == 1 }), convey.ShouldBeTrue)
		})

		convey.Convey("Shutdown stops the loop and is idempotent", func() {
			sctx, scancel := context.WithTimeout(ctx, time.Second)
			defer scancel()
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool of workers", t, func() {
		_ = logging.Init()
		ctx := context.Background()
		q := queue.NewInMemoryQueue(queue.WithCapacity(256))
		sink := newRecordingSink()
		p := worker.NewPool(4, q, sink)
		convey.So(p.Size(), convey.ShouldEqual, 4)

		convey.Convey("A non-positive count falls back to the CPU default", func() {
			convey.So(worker.NewPool(0, q, sink).Size(), convey.ShouldBeGreaterThan, 0)
		})

		convey.Convey("Shutdown drains what was queued", func() {
			for i := 0; i < 100; i++ {
				convey.So(q.Publish(ctx, progress("r1", "p1", i)), convey.ShouldBeNil)
			}
			p.Start(ctx)
			convey.So(p.Shutdown(ctx), convey.ShouldBeNil)
			convey.So(sink.count(), convey.ShouldEqual, 100)
			convey.So(q.IsClosed(), convey.ShouldBeTrue)
			convey.So(errors.Is(q.Publish(ctx, progress("r1", "p1", 1)), queue.ErrClosed), convey.ShouldBeTrue)
		})

		convey.Convey("Shutdown before Start only closes the queue", func() {
			convey.So(p.Shutdown(ctx), convey.ShouldBeNil)
			convey.So(q.IsClosed(), convey.ShouldBeTrue)
		})
	})
}

func TestSinks(t *testing.T) {
	convey.Convey("Sink helpers", t, func() {
		ctx := context.Background()
		ev := model.NewChatEvent("r1", "p1", "Ana", "gl hf", time.Now())

		convey.Convey("LogSink encodes without error", func() {
			convey.So(worker.NewLogSink(logging.Discard()).Deliver(ctx, ev), convey.ShouldBeNil)
			convey.So(worker.NewLogSink(nil).Deliver(ctx, ev), convey.ShouldBeNil)
		})

		convey.Convey("MultiSink reaches every sink and reports the first error", func() {
			a, b := newRecordingSink(), newRecordingSink()
			a.fail["r1"] = true
			var called int
			m := worker.MultiSink{a, b, worker.SinkFunc(func(context.Context, model.Event) error {
				called++
				return nil
			})}
			err := m.Deliver(ctx, ev)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(b.count(), convey.ShouldEqual, 1)
			convey.So(called, convey.ShouldEqual, 1)
		})
	})
}
