package rating

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/typerace/internal/adapters/repository"
	"github.com/okian/typerace/internal/domain/dedupe"
	"github.com/okian/typerace/internal/domain/model"
	"github.com/okian/typerace/pkg/logger"
	"github.com/okian/typerace/pkg/metrics"
)

// Store persists ratings and match history.
type Store interface {
	GetRating(ctx context.Context, userID string) (model.UserRating, error)
	SaveRating(ctx context.Context, r model.UserRating) error
	HasMatchHistory(ctx context.Context, raceID string) (bool, error)
	RecordMatch(ctx context.Context, r model.UserRating, rec model.MatchRecord) error
	RatingsNear(ctx context.Context, center, tolerance int, excludeUserID string, limit int) ([]model.UserRating, error)
	DecayCandidates(ctx context.Context, cutoff time.Time, floor int) ([]model.UserRating, error)
}

// Engine applies race results to ratings at most once per race.
type Engine struct {
	store  Store
	seen   dedupe.Deduper
	params Params
	decay  DecayParams
	now    func() time.Time
	logger logger.Logger
}

// NewEngine builds an Engine backed by store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		params: DefaultParams(),
		decay:  DefaultDecayParams(),
		now:    time.Now,
		logger: logger.Get().Named("rating"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.seen == nil {
		e.seen = dedupe.NewInMemoryDeduper(dedupe.WithTTL(10 * time.Minute))
	}
	return e
}

// Params returns the Elo constants in use.
func (e *Engine) Params() Params { return e.params }

type player struct {
	pos    int
	before model.UserRating
}

// ProcessRace rates the human finishers of a race. Bots are dropped and the
// remaining humans re-ranked 1..N in finish order. A race seen before, or
// with fewer than two rated humans, yields no changes.
func (e *Engine) ProcessRace(ctx context.Context, raceID string, placements []model.Placement) ([]model.RatingChange, error) {
	humans := ratedHumans(placements)
	if len(humans) < 2 {
		return nil, nil
	}

	if e.seen.SeenAndRecord(ctx, raceID) {
		metrics.RecordRatingDuplicate()
		e.logger.Debug(ctx, "race already rated", logger.String("race_id", raceID))
		return nil, nil
	}
	done, err := e.store.HasMatchHistory(ctx, raceID)
	if err != nil {
		e.seen.Unrecord(ctx, raceID)
		metrics.RecordRatingError()
		return nil, fmt.Errorf("check match history for %s: %w", raceID, err)
	}
	if done {
		metrics.RecordRatingDuplicate()
		return nil, nil
	}

	players := make([]player, len(humans))
	for i, h := range humans {
		r, err := e.load(ctx, h.UserID)
		if err != nil {
			e.seen.Unrecord(ctx, raceID)
			metrics.RecordRatingError()
			return nil, fmt.Errorf("load rating for %s: %w", h.UserID, err)
		}
		players[i] = player{pos: i + 1, before: r}
	}

	now := e.now()
	n := len(players)
	changes := make([]model.RatingChange, 0, n)
	for i, p := range players {
		opponents := make([]int, 0, n-1)
		for j, o := range players {
			if j != i {
				opponents = append(opponents, o.before.Rating)
			}
		}
		ch, after := e.apply(p, opponents, n, now)
		rec := model.MatchRecord{
			RaceID:       raceID,
			UserID:       after.UserID,
			Position:     p.pos,
			TotalPlayers: n,
			OldRating:    ch.OldRating,
			NewRating:    ch.NewRating,
			Delta:        ch.Delta,
			Outcome:      ch.Outcome,
			CreatedAt:    now,
		}
		// history and rating are written in one step
		if err := e.store.RecordMatch(ctx, after, rec); err != nil {
			metrics.RecordRatingError()
			e.logger.Error(ctx, "record match failed",
				logger.String("race_id", raceID),
				logger.String("user_id", after.UserID),
				logger.Error(err))
			continue
		}
		changes = append(changes, ch)
	}

	metrics.RecordRatingUpdates(len(changes))
	e.logger.Info(ctx, "race rated",
		logger.String("race_id", raceID),
		logger.Int("players", n),
		logger.Int("updated", len(changes)))
	return changes, nil
}

// apply computes one player's change and updated record.
func (e *Engine) apply(p player, opponents []int, n int, now time.Time) (model.RatingChange, model.UserRating) {
	r := p.before
	expected := Expected(r.Rating, opponents)
	actual := Actual(p.pos, n)
	k := e.params.KFactor(r)
	newRating := e.params.Clamp(r.Rating + int(math.Round(float64(k)*(actual-expected))))
	outcome := OutcomeFor(p.pos, n)

	after := r
	after.Rating = newRating
	after.PeakRating = max(r.PeakRating, newRating)
	after.Tier = TierFor(newRating)
	switch outcome {
	case model.OutcomeWin:
		after.Wins++
		after.WinStreak++
		after.BestStreak = max(after.BestStreak, after.WinStreak)
	case model.OutcomeLoss:
		after.Losses++
		after.WinStreak = 0
	default:
		after.Draws++
		after.WinStreak = 0
	}
	if after.ProvisionalGames < e.params.ProvisionalGames {
		after.ProvisionalGames++
	}
	after.Provisional = after.ProvisionalGames < e.params.ProvisionalGames
	after.DecayApplied = 0
	after.LastRaceAt = now

	return model.RatingChange{
		UserID:    r.UserID,
		OldRating: r.Rating,
		NewRating: newRating,
		Delta:     newRating - r.Rating,
		Expected:  expected,
		Actual:    actual,
		Position:  p.pos,
		Outcome:   outcome,
		Tier:      after.Tier,
	}, after
}

// load returns the stored rating or a fresh one for new players.
func (e *Engine) load(ctx context.Context, userID string) (model.UserRating, error) {
	r, err := e.store.GetRating(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return e.params.NewRating(userID), nil
	}
	return r, err
}

// Rating returns a user's stored rating. For users who never raced the error
// wraps repository.ErrNotFound.
func (e *Engine) Rating(ctx context.Context, userID string) (model.UserRating, error) {
	r, err := e.store.GetRating(ctx, userID)
	if err != nil {
		return model.UserRating{}, fmt.Errorf("load rating for %s: %w", userID, err)
	}
	return r, nil
}

// MatchmakingPool lists up to limit users rated within tolerance of userID,
// closest first, excluding userID. New players are matched from the initial
// rating.
func (e *Engine) MatchmakingPool(ctx context.Context, userID string, tolerance, limit int) ([]model.UserRating, error) {
	me, err := e.load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load rating for %s: %w", userID, err)
	}
	pool, err := e.store.RatingsNear(ctx, me.Rating, tolerance, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("rating band for %s: %w", userID, err)
	}
	return pool, nil
}

// ratedHumans keeps registered human finishers ordered by position.
func ratedHumans(placements []model.Placement) []model.Placement {
	sorted := make([]model.Placement, len(placements))
	copy(sorted, placements)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	out := make([]model.Placement, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, p := range sorted {
		if p.IsBot || p.UserID == "" || p.Position <= 0 || seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		out = append(out, p)
	}
	return out
}
