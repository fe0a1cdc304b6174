package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/typerace/internal/adapters/repository"
	"github.com/okian/typerace/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.UnixMilli(1_700_000_000_000).UTC()

// eachStore runs fn against every Store implementation that needs no
// external server.
func eachStore(t *testing.T, name string, fn func(ctx context.Context, s repository.Store)) {
	t.Helper()
	for _, driver := range []string{"memory", repository.DialectSQLite} {
		driver := driver
		Convey(name+" ("+driver+")", t, func() {
			ctx := context.Background()
			s, err := repository.Open(ctx, driver, ":memory:")
			So(err, ShouldBeNil)
			Reset(func() { _ = s.Close() })
			fn(ctx, s)
		})
	}
}

func seedRace(ctx context.Context, s repository.Store, id string, n int) []string {
	So(s.CreateRace(ctx, model.Race{ID: id, RoomCode: "ROOM", Status: model.StatusRacing, Paragraph: "abc", CreatedAt: t0}), ShouldBeNil)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("%s-p%d", id, i)
		So(s.UpsertParticipant(ctx, model.Participant{ID: ids[i], RaceID: id, UserID: fmt.Sprintf("u%d", i), IsActive: true}), ShouldBeNil)
	}
	return ids
}

func TestRaceStore(t *testing.T) {
	eachStore(t, "Given a race with three participants", func(ctx context.Context, s repository.Store) {
		ids := seedRace(ctx, s, "r1", 3)

		Convey("When they finish in order A, B, C", func() {
			var got []model.FinishResult
			for i, id := range ids {
				res, err := s.FinishParticipant(ctx, "r1", id, t0.Add(time.Duration(i)*time.Second))
				So(err, ShouldBeNil)
				got = append(got, res)
			}

			Convey("Then positions are dense 1..3 in arrival order", func() {
				for i, res := range got {
					So(res.Position, ShouldEqual, i+1)
					So(res.IsNewFinish, ShouldBeTrue)
				}
			})

			Convey("Then finishing A again returns position 1 without a new finish", func() {
				res, err := s.FinishParticipant(ctx, "r1", ids[0], t0.Add(time.Hour))
				So(err, ShouldBeNil)
				So(res.Position, ShouldEqual, 1)
				So(res.IsNewFinish, ShouldBeFalse)
				So(res.FinishedAt, ShouldEqual, t0)

				r, err := s.GetRace(ctx, "r1")
				So(err, ShouldBeNil)
				So(r.FinishCounter, ShouldEqual, 3)
			})

			Convey("Then the participants carry their positions", func() {
				ps, err := s.ListParticipants(ctx, "r1")
				So(err, ShouldBeNil)
				So(ps, ShouldHaveLength, 3)
				for _, p := range ps {
					So(p.IsFinished, ShouldBeTrue)
					So(p.FinishPosition, ShouldBeGreaterThan, 0)
				}
			})
		})

		Convey("When a participant of another race finishes here", func() {
			seedRace(ctx, s, "r2", 1)
			_, err := s.FinishParticipant(ctx, "r1", "r2-p0", t0)

			Convey("Then it is rejected", func() {
				So(errors.Is(err, repository.ErrParticipantAbsent), ShouldBeTrue)
			})
		})

		Convey("When a progress batch is written", func() {
			err := s.UpdateProgressBatch(ctx, []model.ProgressUpdate{
				{ParticipantID: ids[1], Progress: 42, WPM: 88.5, Accuracy: 97, Errors: 2},
				{ParticipantID: "ghost", Progress: 1},
			})

			Convey("Then known participants are updated and unknown ones skipped", func() {
				So(err, ShouldBeNil)
				ps, _ := s.ListParticipants(ctx, "r1")
				So(ps[1].Progress, ShouldEqual, 42)
				So(ps[1].WPM, ShouldEqual, 88.5)
				So(ps[1].Errors, ShouldEqual, 2)
			})
		})

		Convey("When a participant is deactivated", func() {
			So(s.SetParticipantActive(ctx, ids[2], false), ShouldBeNil)

			Convey("Then the flag persists", func() {
				ps, _ := s.ListParticipants(ctx, "r1")
				So(ps[2].IsActive, ShouldBeFalse)
			})
		})

		Convey("When the race status changes", func() {
			So(s.UpdateRaceStatus(ctx, "r1", model.StatusFinished, t0.Add(time.Minute)), ShouldBeNil)

			Convey("Then finished_at is stamped", func() {
				r, _ := s.GetRace(ctx, "r1")
				So(r.Status, ShouldEqual, model.StatusFinished)
				So(r.FinishedAt, ShouldEqual, t0.Add(time.Minute))
			})
		})

		Convey("When an unknown race is read", func() {
			_, err := s.GetRace(ctx, "missing")

			Convey("Then ErrNotFound is returned", func() {
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestConcurrentFinish(t *testing.T) {
	eachStore(t, "Given ten participants finishing concurrently", func(ctx context.Context, s repository.Store) {
		ids := seedRace(ctx, s, "r1", 10)

		var wg sync.WaitGroup
		positions := make([]int, len(ids))
		for i, id := range ids {
			i, id := i, id
			wg.Add(1)
			go func() {
				defer wg.Done()
				// Each participant submits twice.
				for _i := 0; _i < 2; _i++ {
					res, err := s.FinishParticipant(ctx, "r1", id, t0)
					if err == nil && res.IsNewFinish {
						positions[i] = res.Position
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then every position 1..10 is assigned exactly once", func() {
			seen := map[int]bool{}
			for _, p := range positions {
				So(p, ShouldBeBetweenOrEqual, 1, 10)
				So(seen[p], ShouldBeFalse)
				seen[p] = true
			}
			So(seen, ShouldHaveLength, 10)
		})
	})
}

func TestStaleAndPurge(t *testing.T) {
	eachStore(t, "Given races of different ages", func(ctx context.Context, s repository.Store) {
		races := []model.Race{
			{ID: "old-wait", Status: model.StatusWaiting, CreatedAt: t0},
			{ID: "new-wait", Status: model.StatusWaiting, CreatedAt: t0.Add(50 * time.Minute)},
			// Created long ago but started recently.
			{ID: "fresh-race", Status: model.StatusRacing, CreatedAt: t0, StartedAt: t0.Add(55 * time.Minute)},
			{ID: "stuck-race", Status: model.StatusRacing, CreatedAt: t0, StartedAt: t0.Add(time.Minute)},
			{ID: "done-old", Status: model.StatusFinished, CreatedAt: t0, FinishedAt: t0.Add(time.Minute)},
			{ID: "done-new", Status: model.StatusFinished, CreatedAt: t0, FinishedAt: t0.Add(59 * time.Minute)},
		}
		for _, r := range races {
			So(s.CreateRace(ctx, r), ShouldBeNil)
		}
		So(s.UpsertParticipant(ctx, model.Participant{ID: "p", RaceID: "done-old", IsActive: true}), ShouldBeNil)
		cutoff := t0.Add(30 * time.Minute)

		Convey("When querying stale waiting races", func() {
			got, err := s.StaleRaces(ctx, model.StatusWaiting, cutoff)

			Convey("Then only races created before the cutoff are returned", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
				So(got[0].ID, ShouldEqual, "old-wait")
			})
		})

		Convey("When querying stale racing races", func() {
			got, err := s.StaleRaces(ctx, model.StatusRacing, cutoff)

			Convey("Then age is measured from started_at", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
				So(got[0].ID, ShouldEqual, "stuck-race")
			})
		})

		Convey("When purging finished races", func() {
			n, err := s.DeleteFinishedBefore(ctx, cutoff)

			Convey("Then only old finished races go", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
				_, err = s.GetRace(ctx, "done-old")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				ps, _ := s.ListParticipants(ctx, "done-old")
				So(ps, ShouldBeEmpty)
				_, err = s.GetRace(ctx, "done-new")
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestRatingStore(t *testing.T) {
	eachStore(t, "Given stored ratings", func(ctx context.Context, s repository.Store) {
		for i, r := range []int{900, 1180, 1200, 1200, 1250, 1600} {
			So(s.SaveRating(ctx, model.UserRating{
				UserID:     fmt.Sprintf("u%d", i),
				Rating:     r,
				PeakRating: r,
				Tier:       model.TierGold,
				LastRaceAt: t0.Add(time.Duration(i) * 24 * time.Hour),
			}), ShouldBeNil)
		}

		Convey("When querying ratings near 1200", func() {
			got, err := s.RatingsNear(ctx, 1200, 50, "u2", 0)

			Convey("Then users in band are returned closest first without the requester", func() {
				So(err, ShouldBeNil)
				ids := []string{}
				for _, r := range got {
					ids = append(ids, r.UserID)
				}
				So(ids, ShouldResemble, []string{"u3", "u1", "u4"})
			})

			Convey("Then a limit keeps the closest", func() {
				got, err := s.RatingsNear(ctx, 1200, 1000, "", 2)
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].UserID, ShouldEqual, "u2")
				So(got[1].UserID, ShouldEqual, "u3")
			})
		})

		Convey("When the closest ratings rank below farther ones", func() {
			for id, r := range map[string]int{"far": 1090, "mid": 1080, "near": 1001} {
				So(s.SaveRating(ctx, model.UserRating{UserID: id, Rating: r}), ShouldBeNil)
			}

			Convey("Then the limit is applied after ordering by distance", func() {
				got, err := s.RatingsNear(ctx, 1000, 100, "", 2)
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].UserID, ShouldEqual, "near")
				So(got[1].UserID, ShouldEqual, "mid")
			})
		})

		Convey("When a rating moves", func() {
			r, err := s.GetRating(ctx, "u0")
			So(err, ShouldBeNil)
			r.Rating = 1210
			So(s.SaveRating(ctx, r), ShouldBeNil)

			Convey("Then band queries see the new value", func() {
				got, _ := s.RatingsNear(ctx, 1210, 5, "", 0)
				So(got, ShouldHaveLength, 1)
				So(got[0].UserID, ShouldEqual, "u0")
			})
		})

		Convey("When asking for decay candidates", func() {
			got, err := s.DecayCandidates(ctx, t0.Add(3*24*time.Hour), 1000)

			Convey("Then only inactive users above the floor qualify", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 2)
				So(got[0].UserID, ShouldEqual, "u1")
				So(got[1].UserID, ShouldEqual, "u2")
			})
		})

		Convey("When match history is written", func() {
			has, err := s.HasMatchHistory(ctx, "race-9")
			So(err, ShouldBeNil)
			So(has, ShouldBeFalse)

			So(s.InsertMatchHistory(ctx, model.MatchRecord{RaceID: "race-9", UserID: "u1", Position: 1, TotalPlayers: 2, Outcome: model.OutcomeWin, CreatedAt: t0}), ShouldBeNil)

			Convey("Then the race is known", func() {
				has, err := s.HasMatchHistory(ctx, "race-9")
				So(err, ShouldBeNil)
				So(has, ShouldBeTrue)
			})

			Convey("Then the same user cannot be recorded twice", func() {
				err := s.InsertMatchHistory(ctx, model.MatchRecord{RaceID: "race-9", UserID: "u1", Outcome: model.OutcomeWin, CreatedAt: t0})
				So(err, ShouldNotBeNil)
			})

			Convey("Then a duplicate result leaves the rating untouched", func() {
				err := s.RecordMatch(ctx,
					model.UserRating{UserID: "u1", Rating: 1500, PeakRating: 1500, Tier: model.TierPlatinum},
					model.MatchRecord{RaceID: "race-9", UserID: "u1", Outcome: model.OutcomeWin, CreatedAt: t0})
				So(err, ShouldNotBeNil)
				r, err := s.GetRating(ctx, "u1")
				So(err, ShouldBeNil)
				So(r.Rating, ShouldEqual, 1180)
			})

			Convey("Then a new result writes history and rating together", func() {
				So(s.RecordMatch(ctx,
					model.UserRating{UserID: "u2", Rating: 1230, PeakRating: 1230, Tier: model.TierGold},
					model.MatchRecord{RaceID: "race-10", UserID: "u2", Position: 1, TotalPlayers: 2, Outcome: model.OutcomeWin, CreatedAt: t0},
				), ShouldBeNil)
				has, err := s.HasMatchHistory(ctx, "race-10")
				So(err, ShouldBeNil)
				So(has, ShouldBeTrue)
				r, _ := s.GetRating(ctx, "u2")
				So(r.Rating, ShouldEqual, 1230)
			})
		})

		Convey("When an unknown user is read", func() {
			_, err := s.GetRating(ctx, "nobody")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestAuditStore(t *testing.T) {
	eachStore(t, "Given an audit store", func(ctx context.Context, s repository.Store) {
		Convey("When a certification is saved twice", func() {
			So(s.SaveCertification(ctx, model.Certification{UserID: "u1", CertifiedWPM: 150, CreatedAt: t0}), ShouldBeNil)
			So(s.SaveCertification(ctx, model.Certification{UserID: "u1", CertifiedWPM: 200, CreatedAt: t0}), ShouldBeNil)

			Convey("Then the latest value wins", func() {
				c, err := s.GetCertification(ctx, "u1")
				So(err, ShouldBeNil)
				So(c.CertifiedWPM, ShouldEqual, 200)
			})
		})

		Convey("When analyses and audits are inserted", func() {
			So(s.InsertKeystrokeAnalysis(ctx, model.KeystrokeAnalysis{ID: "a1", RaceID: "r", ParticipantID: "p", Flags: []string{"burst_typing"}, CreatedAt: t0}), ShouldBeNil)
			So(s.InsertAudit(ctx, model.AuditEvent{ID: "e1", UserID: "u1", Kind: "challenge_passed", CreatedAt: t0}), ShouldBeNil)

			Convey("Then uncertified users report ErrNotFound", func() {
				_, err := s.GetCertification(ctx, "u2")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestOpen(t *testing.T) {
	Convey("Given an unknown driver", t, func() {
		_, err := repository.Open(context.Background(), "mongo", "")

		Convey("Then ErrUnknownDriver is returned", func() {
			So(errors.Is(err, repository.ErrUnknownDriver), ShouldBeTrue)
		})
	})
}
