package model

import "time"

// Rating tiers, highest first.
const (
	TierGrandmaster = "grandmaster"
	TierMaster      = "master"
	TierDiamond     = "diamond"
	TierPlatinum    = "platinum"
	TierGold        = "gold"
	TierSilver      = "silver"
	TierBronze      = "bronze"
)

// UserRating is a persisted skill rating.
type UserRating struct {
	UserID           string
	Rating           int
	PeakRating       int
	Tier             string
	Wins             int
	Losses           int
	Draws            int
	WinStreak        int
	BestStreak       int
	Provisional      bool
	ProvisionalGames int
	DecayApplied     int
	LastRaceAt       time.Time
}

// TotalRaces is the number of rated races played.
func (r *UserRating) TotalRaces() int {
	return r.Wins + r.Losses + r.Draws
}

// Placement is one finisher in a completed race.
type Placement struct {
	ParticipantID string  `json:"participantId"`
	UserID        string  `json:"userId,omitempty"`
	Name          string  `json:"name"`
	IsBot         bool    `json:"isBot"`
	Position      int     `json:"position"`
	WPM           float64 `json:"wpm"`
}

// Outcome is the win/loss/draw classification of a placement.
type Outcome string

// Outcomes.
const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
	OutcomeNone Outcome = "none"
)

// RatingChange describes one player's rating update for a race.
type RatingChange struct {
	UserID    string  `json:"userId"`
	OldRating int     `json:"oldRating"`
	NewRating int     `json:"newRating"`
	Delta     int     `json:"delta"`
	Expected  float64 `json:"expected"`
	Actual    float64 `json:"actual"`
	Position  int     `json:"position"`
	Outcome   Outcome `json:"outcome"`
	Tier      string  `json:"tier"`
}

// MatchRecord is one row of persisted match history.
type MatchRecord struct {
	RaceID       string
	UserID       string
	Position     int
	TotalPlayers int
	OldRating    int
	NewRating    int
	Delta        int
	Outcome      Outcome
	CreatedAt    time.Time
}
