package rating_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/typerace/internal/adapters/repository"
	"github.com/okian/typerace/internal/domain/model"
	"github.com/okian/typerace/internal/domain/rating"
	. "github.com/smartystreets/goconvey/convey"
)

// flakyStore fails selected operations for selected users.
type flakyStore struct {
	*repository.MemoryStore
	mu       sync.Mutex
	failLoad map[string]bool
	failSave map[string]bool
	// history writes that fail, by user
	failMatch map[string]bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{
		MemoryStore: repository.NewMemoryStore(),
		failLoad:    map[string]bool{},
		failSave:    map[string]bool{},
		failMatch:   map[string]bool{},
	}
}

func (s *flakyStore) GetRating(ctx context.Context, userID string) (model.UserRating, error) {
	s.mu.Lock()
	fail := s.failLoad[userID]
	s.mu.Unlock()
	if fail {
		return model.UserRating{}, errors.New("connection reset")
	}
	return s.MemoryStore.GetRating(ctx, userID)
}

func (s *flakyStore) SaveRating(ctx context.Context, r model.UserRating) error {
	s.mu.Lock()
	fail := s.failSave[r.UserID]
	s.mu.Unlock()
	if fail {
		return errors.New("deadlock detected")
	}
	return s.MemoryStore.SaveRating(ctx, r)
}

func (s *flakyStore) RecordMatch(ctx context.Context, r model.UserRating, rec model.MatchRecord) error {
	s.mu.Lock()
	failSave, failMatch := s.failSave[r.UserID], s.failMatch[rec.UserID]
	s.mu.Unlock()
	switch {
	case failMatch:
		return errors.New("match_history: disk full")
	case failSave:
		return errors.New("deadlock detected")
	}
	return s.MemoryStore.RecordMatch(ctx, r, rec)
}

func placement(pid, uid string, pos int) model.Placement {
	return model.Placement{ParticipantID: pid, UserID: uid, Name: uid, Position: pos}
}

func botPlacement(pid string, pos int) model.Placement {
	return model.Placement{ParticipantID: pid, Name: "bot", IsBot: true, Position: pos}
}

func TestEloMath(t *testing.T) {
	Convey("Elo building blocks", t, func() {
		p := rating.DefaultParams()

		So(rating.Expected(1000, []int{1000}), ShouldAlmostEqual, 0.5, 1e-9)
		So(rating.Expected(1400, []int{1000}), ShouldAlmostEqual, 1/(1+0.1), 1e-9)
		So(rating.Actual(1, 4), ShouldEqual, 1)
		So(rating.Actual(4, 4), ShouldEqual, 0)
		So(rating.Actual(2, 3), ShouldEqual, 0.5)

		So(p.KFactor(model.UserRating{ProvisionalGames: 3}), ShouldEqual, 40)
		So(p.KFactor(model.UserRating{ProvisionalGames: 10, Wins: 10, Losses: 5}), ShouldEqual, 32)
		So(p.KFactor(model.UserRating{ProvisionalGames: 10, Wins: 20, Losses: 15}), ShouldEqual, 24)

		So(p.Clamp(50), ShouldEqual, 100)
		So(p.Clamp(3500), ShouldEqual, 3000)

		So(rating.OutcomeFor(1, 2), ShouldEqual, model.OutcomeWin)
		So(rating.OutcomeFor(2, 2), ShouldEqual, model.OutcomeLoss)
		So(rating.OutcomeFor(2, 3), ShouldEqual, model.OutcomeDraw)

		tiers := []struct {
			rating int
			tier   string
		}{
			{2400, model.TierGrandmaster},
			{2399, model.TierMaster},
			{1800, model.TierDiamond},
			{1500, model.TierPlatinum},
			{1200, model.TierGold},
			{900, model.TierSilver},
			{899, model.TierBronze},
			{100, model.TierBronze},
		}
		for _, c := range tiers {
			So(rating.TierFor(c.rating), ShouldEqual, c.tier)
		}
	})
}

func TestProcessRace(t *testing.T) {
	ctx := context.Background()

	Convey("Given an engine over a store", t, func() {
		store := newFlakyStore()
		e := rating.NewEngine(store)

		Convey("Two new players trade equal points", func() {
			changes, err := e.ProcessRace(ctx, "r1", []model.Placement{
				placement("p2", "bob", 2),
				placement("p1", "alice", 1),
			})
			So(err, ShouldBeNil)
			So(changes, ShouldHaveLength, 2)
			So(changes[0].UserID, ShouldEqual, "alice")
			So(changes[0].Delta, ShouldEqual, 20)
			So(changes[1].Delta, ShouldEqual, -20)
			So(changes[0].Delta+changes[1].Delta, ShouldEqual, 0)
			So(changes[0].Outcome, ShouldEqual, model.OutcomeWin)

			alice, err := store.GetRating(ctx, "alice")
			So(err, ShouldBeNil)
			So(alice.Rating, ShouldEqual, 1020)
			So(alice.Wins, ShouldEqual, 1)
			So(alice.WinStreak, ShouldEqual, 1)
			So(alice.BestStreak, ShouldEqual, 1)
			So(alice.ProvisionalGames, ShouldEqual, 1)
			So(alice.Provisional, ShouldBeTrue)

			has, err := store.HasMatchHistory(ctx, "r1")
			So(err, ShouldBeNil)
			So(has, ShouldBeTrue)

			Convey("Processing the race again changes nothing", func() {
				again, err := e.ProcessRace(ctx, "r1", []model.Placement{
					placement("p1", "alice", 1), placement("p2", "bob", 2),
				})
				So(err, ShouldBeNil)
				So(again, ShouldBeEmpty)
				alice, _ := store.GetRating(ctx, "alice")
				So(alice.Rating, ShouldEqual, 1020)
			})

			Convey("A fresh engine still sees the persisted history", func() {
				again, err := rating.NewEngine(store).ProcessRace(ctx, "r1", []model.Placement{
					placement("p1", "alice", 1), placement("p2", "bob", 2),
				})
				So(err, ShouldBeNil)
				So(again, ShouldBeEmpty)
			})

			Convey("A loss resets the streak", func() {
				_, err := e.ProcessRace(ctx, "r2", []model.Placement{
					placement("p1", "bob", 1), placement("p2", "alice", 2),
				})
				So(err, ShouldBeNil)
				alice, _ := store.GetRating(ctx, "alice")
				So(alice.WinStreak, ShouldEqual, 0)
				So(alice.BestStreak, ShouldEqual, 1)
				So(alice.Losses, ShouldEqual, 1)
			})
		})

		Convey("Bots are ignored and humans re-ranked", func() {
			changes, err := e.ProcessRace(ctx, "r3", []model.Placement{
				botPlacement("b1", 1),
				placement("p1", "alice", 2),
				botPlacement("b2", 3),
				placement("p2", "bob", 4),
			})
			So(err, ShouldBeNil)
			So(changes, ShouldHaveLength, 2)
			So(changes[0].Position, ShouldEqual, 1)
			So(changes[0].Outcome, ShouldEqual, model.OutcomeWin)
			So(changes[1].Position, ShouldEqual, 2)
		})

		Convey("A middle finisher of three draws", func() {
			changes, err := e.ProcessRace(ctx, "r4", []model.Placement{
				placement("p1", "a", 1), placement("p2", "b", 2), placement("p3", "c", 3),
			})
			So(err, ShouldBeNil)
			So(changes, ShouldHaveLength, 3)
			So(changes[1].Outcome, ShouldEqual, model.OutcomeDraw)
			So(changes[1].Delta, ShouldEqual, 0)
			So(changes[0].Delta+changes[1].Delta+changes[2].Delta, ShouldEqual, 0)
		})

		Convey("Fewer than two humans is a no-op", func() {
			changes, err := e.ProcessRace(ctx, "r5", []model.Placement{
				placement("p1", "alice", 1), botPlacement("b1", 2),
				{ParticipantID: "g1", Name: "guest", Position: 3},
			})
			So(err, ShouldBeNil)
			So(changes, ShouldBeEmpty)
			So(store.RatingCount(), ShouldEqual, 0)
		})

		Convey("A load failure is returned and the race stays retryable", func() {
			store.failLoad["bob"] = true
			_, err := e.ProcessRace(ctx, "r6", []model.Placement{
				placement("p1", "alice", 1), placement("p2", "bob", 2),
			})
			So(err, ShouldNotBeNil)
			So(store.RatingCount(), ShouldEqual, 0)

			store.failLoad["bob"] = false
			changes, err := e.ProcessRace(ctx, "r6", []model.Placement{
				placement("p1", "alice", 1), placement("p2", "bob", 2),
			})
			So(err, ShouldBeNil)
			So(changes, ShouldHaveLength, 2)
		})

		Convey("A write failure skips only that player", func() {
			store.failSave["alice"] = true
			changes, err := e.ProcessRace(ctx, "r7", []model.Placement{
				placement("p1", "alice", 1), placement("p2", "bob", 2),
			})
			So(err, ShouldBeNil)
			So(changes, ShouldHaveLength, 1)
			So(changes[0].UserID, ShouldEqual, "bob")
		})

		Convey("A failed history write leaves the rating alone and a retry adds nothing", func() {
			store.failMatch["alice"] = true
			changes, err := e.ProcessRace(ctx, "r8", []model.Placement{
				placement("p1", "alice", 1), placement("p2", "bob", 2),
			})
			So(err, ShouldBeNil)
			So(changes, ShouldHaveLength, 1)
			_, err = store.GetRating(ctx, "alice")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)

			store.failMatch["alice"] = false
			again, err := rating.NewEngine(store).ProcessRace(ctx, "r8", []model.Placement{
				placement("p1", "alice", 1), placement("p2", "bob", 2),
			})
			So(err, ShouldBeNil)
			So(again, ShouldBeEmpty)
			bob, _ := store.GetRating(ctx, "bob")
			So(bob.Rating, ShouldEqual, 980)
		})
	})

	Convey("Given a player who never raced", t, func() {
		e := rating.NewEngine(repository.NewMemoryStore())

		Convey("Rating reports not found", func() {
			_, err := e.Rating(ctx, "nobody")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Matchmaking starts from the initial rating", func() {
			pool, err := e.MatchmakingPool(ctx, "nobody", 100, 5)
			So(err, ShouldBeNil)
			So(pool, ShouldBeEmpty)
		})
	})
}

func TestDecay(t *testing.T) {
	ctx := context.Background()

	Convey("Given inactive players", t, func() {
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		store := repository.NewMemoryStore()
		e := rating.NewEngine(store, rating.WithClock(func() time.Time { return now }))
		day := 24 * time.Hour

		seed := func(uid string, r int, idle time.Duration) {
			So(store.SaveRating(ctx, model.UserRating{UserID: uid, Rating: r, LastRaceAt: now.Add(-idle)}), ShouldBeNil)
		}
		get := func(uid string) model.UserRating {
			r, err := store.GetRating(ctx, uid)
			So(err, ShouldBeNil)
			return r
		}
		seed("veteran", 1400, 28*day)
		seed("idle-month", 1400, 30*day)
		seed("near-floor", 1010, 60*day)
		seed("below-floor", 900, 90*day)
		seed("active", 1500, 3*day)

		n, err := e.DecaySweep(ctx)
		So(err, ShouldBeNil)
		So(n, ShouldEqual, 3)
		So(get("veteran").Rating, ShouldEqual, 1350)
		// floor((30-14)/7) = 2 steps of 25
		So(get("idle-month").Rating, ShouldEqual, 1350)
		So(get("idle-month").DecayApplied, ShouldEqual, 50)
		So(get("veteran").DecayApplied, ShouldEqual, 50)
		So(get("near-floor").Rating, ShouldEqual, 1000)
		So(get("below-floor").Rating, ShouldEqual, 900)
		So(get("active").Rating, ShouldEqual, 1500)

		Convey("A repeated sweep applies nothing new", func() {
			n, err := e.DecaySweep(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
			So(get("veteran").Rating, ShouldEqual, 1350)
		})

		Convey("Another idle week applies only the increment", func() {
			now = now.Add(7 * day)
			_, err := e.DecaySweep(ctx)
			So(err, ShouldBeNil)
			So(get("veteran").Rating, ShouldEqual, 1325)
			So(get("veteran").DecayApplied, ShouldEqual, 75)
		})

		Convey("Decay is capped", func() {
			So(rating.DefaultDecayParams().Due(400*day), ShouldEqual, 200)
			So(rating.DefaultDecayParams().Due(13*day), ShouldEqual, 0)
			So(rating.DefaultDecayParams().Due(21*day), ShouldEqual, 25)
		})
	})
}

func TestMatchmakingPool(t *testing.T) {
	ctx := context.Background()

	Convey("Players within tolerance are listed closest first", t, func() {
		store := repository.NewMemoryStore()
		for uid, r := range map[string]int{"me": 1000, "a": 1050, "b": 1200, "c": 980, "d": 900} {
			So(store.SaveRating(ctx, model.UserRating{UserID: uid, Rating: r}), ShouldBeNil)
		}
		pool, err := rating.NewEngine(store).MatchmakingPool(ctx, "me", 100, 10)
		So(err, ShouldBeNil)
		So(pool, ShouldHaveLength, 3)
		So(pool[0].UserID, ShouldEqual, "c")
		So(pool[1].UserID, ShouldEqual, "a")
		So(pool[2].UserID, ShouldEqual, "d")
	})

	Convey("The limit keeps the closest players, not the highest rated", t, func() {
		store := repository.NewMemoryStore()
		for uid, r := range map[string]int{"me": 1000, "x": 1090, "y": 1080, "z": 1001} {
			So(store.SaveRating(ctx, model.UserRating{UserID: uid, Rating: r}), ShouldBeNil)
		}
		pool, err := rating.NewEngine(store).MatchmakingPool(ctx, "me", 100, 2)
		So(err, ShouldBeNil)
		So(pool, ShouldHaveLength, 2)
		So(pool[0].Rating, ShouldEqual, 1001)
		So(pool[1].Rating, ShouldEqual, 1080)
	})
}
