// Package rating updates Elo-style skill ratings after races and decays
// ratings of inactive players.
package rating

import (
	"math"

	"github.com/okian/typerace/internal/domain/model"
)

// Params holds the Elo constants.
type Params struct {
	KProvisional     int
	KIntermediate    int
	KEstablished     int
	ProvisionalGames int // games played with the provisional K
	EstablishedRaces int // races before the established K applies
	Initial          int
	Min              int
	Max              int
}

// DefaultParams returns the production Elo constants.
func DefaultParams() Params {
	return Params{
		KProvisional:     40,
		KIntermediate:    32,
		KEstablished:     24,
		ProvisionalGames: 10,
		EstablishedRaces: 30,
		Initial:          1000,
		Min:              100,
		Max:              3000,
	}
}

// KFactor returns the K for a player's record before the race.
func (p Params) KFactor(r model.UserRating) int {
	switch {
	case r.ProvisionalGames < p.ProvisionalGames:
		return p.KProvisional
	case r.TotalRaces() < p.EstablishedRaces:
		return p.KIntermediate
	default:
		return p.KEstablished
	}
}

// Clamp bounds rating to [Min, Max].
func (p Params) Clamp(rating int) int {
	return max(p.Min, min(p.Max, rating))
}

// NewRating is the record of a player who has never raced.
func (p Params) NewRating(userID string) model.UserRating {
	return model.UserRating{
		UserID:      userID,
		Rating:      p.Initial,
		PeakRating:  p.Initial,
		Tier:        TierFor(p.Initial),
		Provisional: true,
	}
}

// Expected is the mean probability of beating each opponent.
func Expected(rating int, opponents []int) float64 {
	if len(opponents) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range opponents {
		sum += 1 / (1 + math.Pow(10, float64(o-rating)/400))
	}
	return sum / float64(len(opponents))
}

// Actual scores position pos of n linearly from 1 (first) to 0 (last).
func Actual(pos, n int) float64 {
	if n < 2 {
		return 0
	}
	return float64(n-pos) / float64(n-1)
}

// OutcomeFor classifies a position. Middle positions of races with more
// than two players count as draws.
func OutcomeFor(pos, n int) model.Outcome {
	switch {
	case pos == 1:
		return model.OutcomeWin
	case pos == n:
		return model.OutcomeLoss
	case n > 2:
		return model.OutcomeDraw
	default:
		return model.OutcomeNone
	}
}

var tierFloors = []struct {
	floor int
	tier  string
}{
	{2400, model.TierGrandmaster},
	{2100, model.TierMaster},
	{1800, model.TierDiamond},
	{1500, model.TierPlatinum},
	{1200, model.TierGold},
	{900, model.TierSilver},
	{0, model.TierBronze},
}

// TierFor maps a rating to its tier name.
func TierFor(rating int) string {
	for _, t := range tierFloors {
		if rating >= t.floor {
			return t.tier
		}
	}
	return model.TierBronze
}
