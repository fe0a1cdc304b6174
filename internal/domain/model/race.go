// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// RaceStatus is the lifecycle state of a race.
type RaceStatus string

// Race lifecycle states.
const (
	StatusWaiting   RaceStatus = "waiting"
	StatusCountdown RaceStatus = "countdown"
	StatusRacing    RaceStatus = "racing"
	StatusFinished  RaceStatus = "finished"
)

// Valid reports whether s is a known status.
func (s RaceStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusCountdown, StatusRacing, StatusFinished:
		return true
	}
	return false
}

// Race is a single typing race. The finish counter is owned by the store and
// only ever grows.
type Race struct {
	ID            string
	RoomCode      string
	Status        RaceStatus
	Paragraph     string
	FinishCounter int
	CreatedAt     time.Time
	StartedAt     time.Time // zero until racing
	FinishedAt    time.Time // zero until finished
}

// Participant is a human or bot seat in a race.
type Participant struct {
	ID             string
	RaceID         string
	UserID         string // empty for guests and bots
	GuestName      string
	IsBot          bool
	Progress       int // characters typed
	WPM            float64
	Accuracy       float64
	Errors         int
	IsActive       bool
	IsFinished     bool
	FinishPosition int // 0 until finished
	FinishedAt     time.Time
}

// Identity identifies who is joining a race.
type Identity struct {
	UserID    string
	GuestName string
}

// Matches reports whether the participant belongs to id. Registered users
// match by user id, guests by case-insensitive name.
func (p *Participant) Matches(id Identity) bool {
	if p.IsBot {
		return false
	}
	if id.UserID != "" {
		return p.UserID == id.UserID
	}
	return p.UserID == "" && id.GuestName != "" && strings.EqualFold(p.GuestName, id.GuestName)
}

// DisplayName returns the user id or guest name.
func (p *Participant) DisplayName() string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.GuestName
}

// ProgressUpdate is a single progress sample for one participant.
type ProgressUpdate struct {
	RaceID        string
	ParticipantID string
	Progress      int
	WPM           float64
	Accuracy      float64
	Errors        int
	At            time.Time
}

// Apply copies the progress fields of u onto p.
func (p *Participant) Apply(u ProgressUpdate) {
	p.Progress = u.Progress
	p.WPM = u.WPM
	p.Accuracy = u.Accuracy
	p.Errors = u.Errors
}

// FinishResult is the outcome of a finish request.
type FinishResult struct {
	ParticipantID string
	Position      int
	IsNewFinish   bool
	FinishedAt    time.Time
}

// CloneParticipants returns a copy of ps.
func CloneParticipants(ps []Participant) []Participant {
	if ps == nil {
		return nil
	}
	out := make([]Participant, len(ps))
	copy(out, ps)
	return out
}
