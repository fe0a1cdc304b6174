// Package repository defines the persistence contract for races, ratings and
// audit records, with in-memory and SQL implementations.
package repository

import (
	"context"
	"time"

	"github.com/okian/typerace/internal/domain/model"
)

// RaceStore persists races and their participants.
type RaceStore interface {
	CreateRace(ctx context.Context, race model.Race) error
	// GetRace returns ErrNotFound for unknown ids.
	GetRace(ctx context.Context, raceID string) (model.Race, error)
	// UpdateRaceStatus moves a race to status, stamping started_at when it
	// enters racing and finished_at when it enters finished.
	UpdateRaceStatus(ctx context.Context, raceID string, status model.RaceStatus, at time.Time) error

	ListParticipants(ctx context.Context, raceID string) ([]model.Participant, error)
	UpsertParticipant(ctx context.Context, p model.Participant) error
	SetParticipantActive(ctx context.Context, participantID string, active bool) error
	// UpdateProgressBatch writes the latest progress for each participant.
	// Unknown participants are skipped.
	UpdateProgressBatch(ctx context.Context, updates []model.ProgressUpdate) error

	// FinishParticipant assigns the next finish position of the race under a
	// transaction. A participant that already finished keeps its position and
	// IsNewFinish is false.
	FinishParticipant(ctx context.Context, raceID, participantID string, at time.Time) (model.FinishResult, error)

	// StaleRaces lists races in status whose reference time is before
	// cutoff. Racing races age from started_at (created_at if unset), all
	// others from created_at.
	StaleRaces(ctx context.Context, status model.RaceStatus, cutoff time.Time) ([]model.Race, error)
	// DeleteFinishedBefore purges finished races (and their participants)
	// finished before cutoff and returns how many were removed.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// RatingStore persists skill ratings and match history.
type RatingStore interface {
	// GetRating returns ErrNotFound for users that never raced.
	GetRating(ctx context.Context, userID string) (model.UserRating, error)
	SaveRating(ctx context.Context, r model.UserRating) error
	HasMatchHistory(ctx context.Context, raceID string) (bool, error)
	InsertMatchHistory(ctx context.Context, rec model.MatchRecord) error
	// RecordMatch writes a race result and the rating it produced together.
	// Neither is written when either fails.
	RecordMatch(ctx context.Context, r model.UserRating, rec model.MatchRecord) error
	// RatingsNear lists up to limit ratings within tolerance of center,
	// closest first, excluding one user. Equal distances rank the higher
	// rating first, then by user id.
	RatingsNear(ctx context.Context, center, tolerance int, excludeUserID string, limit int) ([]model.UserRating, error)
	// DecayCandidates lists ratings above floor whose last race is before cutoff.
	DecayCandidates(ctx context.Context, cutoff time.Time, floor int) ([]model.UserRating, error)
}

// AuditStore persists anti-cheat results and certifications.
type AuditStore interface {
	InsertKeystrokeAnalysis(ctx context.Context, a model.KeystrokeAnalysis) error
	InsertAudit(ctx context.Context, e model.AuditEvent) error
	// GetCertification returns ErrNotFound for uncertified users.
	GetCertification(ctx context.Context, userID string) (model.Certification, error)
	SaveCertification(ctx context.Context, c model.Certification) error
}

// Store is the full persistence contract.
type Store interface {
	RaceStore
	RatingStore
	AuditStore
	Close() error
}
