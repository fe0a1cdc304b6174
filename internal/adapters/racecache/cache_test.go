package racecache_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/typerace/internal/adapters/racecache"
	"github.com/okian/typerace/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingFlusher struct {
	mu      sync.Mutex
	fail    bool
	batches [][]model.ProgressUpdate
}

func (f *recordingFlusher) Flush(_ context.Context, batch []model.ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store unavailable")
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *recordingFlusher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type memSpill struct {
	batch []model.ProgressUpdate
}

func (s *memSpill) Spill(_ context.Context, batch []model.ProgressUpdate) error {
	s.batch = append(s.batch, batch...)
	return nil
}

func race(id string) (model.Race, []model.Participant) {
	return model.Race{ID: id, RoomCode: "ABCD", Status: model.StatusWaiting, Paragraph: "hello world"},
		[]model.Participant{
			{ID: id + "-a", RaceID: id, UserID: "alice", IsActive: true},
			{ID: id + "-b", RaceID: id, GuestName: "bob", IsActive: true},
		}
}

func TestCacheTTL(t *testing.T) {
	Convey("Given a cache with a 10s TTL", t, func() {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		c := racecache.New(nil, racecache.WithTTL(10*time.Second), racecache.WithClock(clock.Now))
		r, ps := race("r1")
		c.SetRace(r, ps)

		Convey("When read inside the TTL", func() {
			clock.Advance(10 * time.Second)
			e, ok := c.GetRace("r1")

			Convey("Then it is a hit with a copy of the participants", func() {
				So(ok, ShouldBeTrue)
				So(e.Version, ShouldEqual, 1)
				So(e.Participants, ShouldHaveLength, 2)
				e.Participants[0].Progress = 99
				again, _ := c.GetRace("r1")
				So(again.Participants[0].Progress, ShouldEqual, 0)
			})
		})

		Convey("When read after the TTL", func() {
			clock.Advance(10*time.Second + time.Millisecond)
			_, ok := c.GetRace("r1")

			Convey("Then it is a miss and the entry is gone", func() {
				So(ok, ShouldBeFalse)
				st := c.Stats()
				So(st.Misses, ShouldEqual, 1)
				So(st.Evictions, ShouldEqual, 1)
				So(st.Size, ShouldEqual, 0)
			})
		})

		Convey("When the race is mutated before expiry", func() {
			clock.Advance(8 * time.Second)
			So(c.UpdateRaceStatus("r1", model.StatusCountdown, clock.Now()), ShouldBeTrue)
			clock.Advance(8 * time.Second)
			e, ok := c.GetRace("r1")

			Convey("Then the TTL runs from the last update", func() {
				So(ok, ShouldBeTrue)
				So(e.Race.Status, ShouldEqual, model.StatusCountdown)
				So(e.Version, ShouldEqual, 2)
			})
		})

		Convey("When the sweep runs after expiry", func() {
			clock.Advance(time.Minute)
			n := c.Sweep()

			Convey("Then expired races are evicted without a read", func() {
				So(n, ShouldEqual, 1)
				So(c.Stats().Size, ShouldEqual, 0)
			})
		})

		Convey("When reads happen at many ages", func() {
			for i := 0; i < 30; i++ {
				clock.Advance(time.Second)
				e, ok := c.GetRace("r1")
				if ok {
					So(clock.Now().Sub(e.UpdatedAt), ShouldBeLessThanOrEqualTo, 10*time.Second)
				}
				if i == 4 {
					c.BufferProgress(model.ProgressUpdate{RaceID: "r1", ParticipantID: "r1-a", Progress: 5})
				}
			}
		})
	})
}

func TestCacheMutations(t *testing.T) {
	Convey("Given a cached race", t, func() {
		c := racecache.New(nil)
		r, ps := race("r1")
		c.SetRace(r, ps)

		Convey("When a participant is added and another removed", func() {
			So(c.AddParticipant("r1", model.Participant{ID: "r1-bot", RaceID: "r1", IsBot: true, IsActive: true}), ShouldBeTrue)
			So(c.RemoveParticipant("r1", "r1-b"), ShouldBeTrue)

			Convey("Then the removed one stays but is inactive", func() {
				e, _ := c.GetRace("r1")
				So(e.Participants, ShouldHaveLength, 3)
				So(e.Participants[1].IsActive, ShouldBeFalse)
				So(e.Participants[2].IsBot, ShouldBeTrue)
				So(e.Version, ShouldEqual, 3)
			})
		})

		Convey("When a finish is recorded", func() {
			So(c.FinishParticipant("r1", "r1-a", 1, time.Unix(5, 0)), ShouldBeTrue)

			Convey("Then the participant and counter reflect it", func() {
				e, _ := c.GetRace("r1")
				So(e.Participants[0].IsFinished, ShouldBeTrue)
				So(e.Participants[0].FinishPosition, ShouldEqual, 1)
				So(e.Race.FinishCounter, ShouldEqual, 1)
			})
		})

		Convey("When mutating an unknown race or participant", func() {
			Convey("Then nothing is applied", func() {
				So(c.UpdateParticipants("nope", nil), ShouldBeFalse)
				So(c.RemoveParticipant("r1", "ghost"), ShouldBeFalse)
				So(c.FinishParticipant("r1", "ghost", 1, time.Now()), ShouldBeFalse)
				e, _ := c.GetRace("r1")
				So(e.Version, ShouldEqual, 1)
			})
		})

		Convey("When the race is removed", func() {
			So(c.RemoveRace("r1"), ShouldBeTrue)

			Convey("Then reads miss", func() {
				_, ok := c.GetRace("r1")
				So(ok, ShouldBeFalse)
				So(c.RemoveRace("r1"), ShouldBeFalse)
			})
		})
	})
}

func TestCacheEviction(t *testing.T) {
	Convey("Given a cache limited to three entries", t, func() {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		c := racecache.New(nil, racecache.WithMaxEntries(3), racecache.WithClock(clock.Now))
		for i := 0; i < 3; i++ {
			r, ps := race(fmt.Sprintf("r%d", i))
			c.SetRace(r, ps)
		}

		Convey("When the oldest is read and a fourth is inserted", func() {
			_, _ = c.GetRace("r0")
			r, ps := race("r3")
			c.SetRace(r, ps)

			Convey("Then the least recently accessed entry is evicted", func() {
				_, ok := c.GetRace("r1")
				So(ok, ShouldBeFalse)
				_, ok = c.GetRace("r0")
				So(ok, ShouldBeTrue)
				So(c.Stats().Evictions, ShouldEqual, 1)
			})
		})
	})

	Convey("Given a cache with a tight memory budget", t, func() {
		c := racecache.New(nil, racecache.WithMemoryBudget(2_000))
		long := strings.Repeat("x", 600)
		for i := 0; i < 5; i++ {
			c.SetRace(model.Race{ID: fmt.Sprintf("r%d", i), Paragraph: long}, nil)
		}

		Convey("Then entries are evicted until under budget", func() {
			st := c.Stats()
			So(st.MemoryBytes, ShouldBeLessThanOrEqualTo, 2_000)
			So(st.Size, ShouldBeLessThan, 5)
			_, ok := c.GetRace("r4")
			So(ok, ShouldBeTrue)
			_, ok = c.GetRace("r0")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestProgressBuffer(t *testing.T) {
	Convey("Given a cache with a flush callback", t, func() {
		ctx := context.Background()
		f := &recordingFlusher{}
		c := racecache.New(f.Flush)
		r, ps := race("r1")
		c.SetRace(r, ps)

		Convey("When progress is buffered", func() {
			ok := c.BufferProgress(model.ProgressUpdate{RaceID: "r1", ParticipantID: "r1-a", Progress: 10, WPM: 60, Accuracy: 98})
			c.BufferProgress(model.ProgressUpdate{RaceID: "r1", ParticipantID: "r1-a", Progress: 20, WPM: 62, Accuracy: 97})

			Convey("Then readers see it before any flush", func() {
				So(ok, ShouldBeTrue)
				e, _ := c.GetRace("r1")
				So(e.Participants[0].Progress, ShouldEqual, 20)
				So(c.Stats().Dirty, ShouldEqual, 1)
			})

			Convey("Then a flush hands over only the latest value", func() {
				So(c.Flush(ctx), ShouldBeNil)
				So(f.batches, ShouldHaveLength, 1)
				So(f.batches[0], ShouldHaveLength, 1)
				So(f.batches[0][0].Progress, ShouldEqual, 20)
				So(c.Stats().Dirty, ShouldEqual, 0)

				Convey("And a second flush has nothing to do", func() {
					So(c.Flush(ctx), ShouldBeNil)
					So(f.batches, ShouldHaveLength, 1)
				})
			})

			Convey("Then a failed flush keeps the entries dirty for a retry", func() {
				f.fail = true
				So(c.Flush(ctx), ShouldNotBeNil)
				st := c.Stats()
				So(st.Dirty, ShouldEqual, 1)
				So(st.FlushErrors, ShouldEqual, 1)

				f.fail = false
				So(c.Flush(ctx), ShouldBeNil)
				So(f.total(), ShouldEqual, 1)
				So(c.Stats().FlushedEntries, ShouldEqual, 1)
			})
		})

		Convey("When a participant is released", func() {
			c.BufferProgress(model.ProgressUpdate{RaceID: "r1", ParticipantID: "r1-a", Progress: 4})
			c.BufferProgress(model.ProgressUpdate{RaceID: "r1", ParticipantID: "r1-b", Progress: 9})
			So(c.Stats().Buffered, ShouldEqual, 2)

			So(c.Release(ctx, "r1-b"), ShouldBeNil)

			Convey("Then only its progress is written and its entry is gone", func() {
				So(f.batches, ShouldHaveLength, 1)
				So(f.batches[0], ShouldHaveLength, 1)
				So(f.batches[0][0].ParticipantID, ShouldEqual, "r1-b")
				st := c.Stats()
				So(st.Buffered, ShouldEqual, 1)
				So(st.Dirty, ShouldEqual, 1)
			})

			Convey("Then releasing again is a no-op", func() {
				So(c.Release(ctx, "r1-b"), ShouldBeNil)
				So(c.Release(ctx), ShouldBeNil)
				So(f.batches, ShouldHaveLength, 1)
			})
		})

		Convey("When a release cannot write", func() {
			c.BufferProgress(model.ProgressUpdate{RaceID: "r1", ParticipantID: "r1-b", Progress: 9})
			f.fail = true
			So(c.Release(ctx, "r1-b"), ShouldNotBeNil)

			Convey("Then the entry stays dirty for the next flush", func() {
				So(c.Stats().Dirty, ShouldEqual, 1)
				f.fail = false
				So(c.Flush(ctx), ShouldBeNil)
				So(f.total(), ShouldEqual, 1)
			})
		})
	})
}

func TestStopSpill(t *testing.T) {
	Convey("Given a cache whose store is down at shutdown", t, func() {
		ctx := context.Background()
		f := &recordingFlusher{fail: true}
		spill := &memSpill{}
		c := racecache.New(f.Flush, racecache.WithSpill(spill), racecache.WithFlushInterval(time.Hour))
		c.Start(ctx)
		c.BufferProgress(model.ProgressUpdate{RaceID: "r1", ParticipantID: "p1", Progress: 7})

		err := c.Stop(ctx)

		Convey("Then the dirty batch is spilled", func() {
			So(err, ShouldBeNil)
			So(spill.batch, ShouldHaveLength, 1)
			So(spill.batch[0].Progress, ShouldEqual, 7)
			So(c.Stats().Dirty, ShouldEqual, 0)
		})
	})

	Convey("Given a cache with a healthy store at shutdown", t, func() {
		ctx := context.Background()
		f := &recordingFlusher{}
		c := racecache.New(f.Flush, racecache.WithFlushInterval(time.Hour))
		c.Start(ctx)
		c.BufferProgress(model.ProgressUpdate{RaceID: "r1", ParticipantID: "p1", Progress: 7})

		Convey("Then Stop performs a final flush", func() {
			So(c.Stop(ctx), ShouldBeNil)
			So(f.total(), ShouldEqual, 1)
			So(c.Stop(ctx), ShouldBeNil)
		})
	})
}

func TestConcurrentAccess(t *testing.T) {
	Convey("Given concurrent writers, readers and flushes", t, func() {
		ctx := context.Background()
		f := &recordingFlusher{}
		c := racecache.New(f.Flush)
		r, ps := race("r1")
		c.SetRace(r, ps)

		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			w := w
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					pid := ps[w%2].ID
					c.BufferProgress(model.ProgressUpdate{RaceID: "r1", ParticipantID: pid, Progress: i})
					_, _ = c.GetRace("r1")
					if i%50 == 0 {
						_ = c.Flush(ctx)
					}
				}
			}()
		}
		wg.Wait()
		So(c.Flush(ctx), ShouldBeNil)

		Convey("Then nothing is left dirty", func() {
			So(c.Stats().Dirty, ShouldEqual, 0)
			So(f.total(), ShouldBeGreaterThan, 0)
		})
	})
}
