package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/okian/typerace/internal/domain/model"
)

// MemoryStore is an in-process Store. All operations take a single lock, so
// finish assignment is serialized the same way a SQL transaction would be.
type MemoryStore struct {
	mu           sync.RWMutex
	races        map[string]model.Race
	participants map[string]model.Participant
	seats        map[string][]string // race id -> participant ids in join order
	ratings      map[string]model.UserRating
	index        ratingIndex
	history      map[string][]model.MatchRecord
	analyses     []model.KeystrokeAnalysis
	audits       []model.AuditEvent
	certs        map[string]model.Certification
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		races:        make(map[string]model.Race),
		participants: make(map[string]model.Participant),
		seats:        make(map[string][]string),
		ratings:      make(map[string]model.UserRating),
		history:      make(map[string][]model.MatchRecord),
		certs:        make(map[string]model.Certification),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateRace(_ context.Context, race model.Race) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.races[race.ID]; ok {
		return fmt.Errorf("race %s: %w", race.ID, ErrDuplicate)
	}
	s.races[race.ID] = race
	return nil
}

func (s *MemoryStore) GetRace(_ context.Context, raceID string) (model.Race, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.races[raceID]
	if !ok {
		return model.Race{}, fmt.Errorf("race %s: %w", raceID, ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) UpdateRaceStatus(_ context.Context, raceID string, status model.RaceStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[raceID]
	if !ok {
		return fmt.Errorf("race %s: %w", raceID, ErrNotFound)
	}
	r.Status = status
	switch status {
	case model.StatusRacing:
		r.StartedAt = at
	case model.StatusFinished:
		r.FinishedAt = at
	}
	s.races[raceID] = r
	return nil
}

func (s *MemoryStore) ListParticipants(_ context.Context, raceID string) ([]model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.seats[raceID]
	out := make([]model.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.participants[id])
	}
	return out, nil
}

func (s *MemoryStore) UpsertParticipant(_ context.Context, p model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.races[p.RaceID]; !ok {
		return fmt.Errorf("race %s: %w", p.RaceID, ErrNotFound)
	}
	if _, ok := s.participants[p.ID]; !ok {
		s.seats[p.RaceID] = append(s.seats[p.RaceID], p.ID)
	}
	s.participants[p.ID] = p
	return nil
}

func (s *MemoryStore) SetParticipantActive(_ context.Context, participantID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantID]
	if !ok {
		return fmt.Errorf("participant %s: %w", participantID, ErrNotFound)
	}
	p.IsActive = active
	s.participants[participantID] = p
	return nil
}

func (s *MemoryStore) UpdateProgressBatch(_ context.Context, updates []model.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range updates {
		p, ok := s.participants[u.ParticipantID]
		if !ok {
			continue
		}
		p.Apply(u)
		s.participants[u.ParticipantID] = p
	}
	return nil
}

func (s *MemoryStore) FinishParticipant(_ context.Context, raceID, participantID string, at time.Time) (model.FinishResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[raceID]
	if !ok {
		return model.FinishResult{}, fmt.Errorf("race %s: %w", raceID, ErrNotFound)
	}
	p, ok := s.participants[participantID]
	if !ok || p.RaceID != raceID {
		return model.FinishResult{}, fmt.Errorf("participant %s: %w", participantID, ErrParticipantAbsent)
	}
	if p.IsFinished {
		return model.FinishResult{ParticipantID: participantID, Position: p.FinishPosition, FinishedAt: p.FinishedAt}, nil
	}
	r.FinishCounter++
	s.races[raceID] = r
	p.IsFinished = true
	p.FinishPosition = r.FinishCounter
	p.FinishedAt = at
	s.participants[participantID] = p
	return model.FinishResult{ParticipantID: participantID, Position: p.FinishPosition, IsNewFinish: true, FinishedAt: at}, nil
}

func (s *MemoryStore) StaleRaces(_ context.Context, status model.RaceStatus, cutoff time.Time) ([]model.Race, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Race
	for _, r := range s.races {
		if r.Status != status {
			continue
		}
		ref := r.CreatedAt
		if status == model.StatusRacing && !r.StartedAt.IsZero() {
			ref = r.StartedAt
		}
		if ref.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.races {
		if r.Status != model.StatusFinished || !r.FinishedAt.Before(cutoff) {
			continue
		}
		for _, pid := range s.seats[id] {
			delete(s.participants, pid)
		}
		delete(s.seats, id)
		delete(s.races, id)
		n++
	}
	return n, nil
}

func (s *MemoryStore) GetRating(_ context.Context, userID string) (model.UserRating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.ratings[userID]
	if !ok {
		return model.UserRating{}, fmt.Errorf("rating %s: %w", userID, ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) SaveRating(_ context.Context, r model.UserRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, had := s.ratings[r.UserID]
	s.index.set(r.UserID, old.Rating, had, r.Rating)
	s.ratings[r.UserID] = r
	return nil
}

func (s *MemoryStore) HasMatchHistory(_ context.Context, raceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history[raceID]) > 0, nil
}

func (s *MemoryStore) InsertMatchHistory(_ context.Context, rec model.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertMatchLocked(rec)
}

func (s *MemoryStore) RecordMatch(_ context.Context, r model.UserRating, rec model.MatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insertMatchLocked(rec); err != nil {
		return err
	}
	old, had := s.ratings[r.UserID]
	s.index.set(r.UserID, old.Rating, had, r.Rating)
	s.ratings[r.UserID] = r
	return nil
}

func (s *MemoryStore) insertMatchLocked(rec model.MatchRecord) error {
	for _, h := range s.history[rec.RaceID] {
		if h.UserID == rec.UserID {
			return fmt.Errorf("match %s/%s: %w", rec.RaceID, rec.UserID, ErrDuplicate)
		}
	}
	s.history[rec.RaceID] = append(s.history[rec.RaceID], rec)
	return nil
}

func (s *MemoryStore) RatingsNear(_ context.Context, center, tolerance int, excludeUserID string, limit int) ([]model.UserRating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// the whole band comes back in rank order; the stable sort keeps it as
	// the tie break
	ids := s.index.band(center-tolerance, center+tolerance, excludeUserID, 0)
	out := make([]model.UserRating, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.ratings[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return distance(out[i].Rating, center) < distance(out[j].Rating, center)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

func (s *MemoryStore) DecayCandidates(_ context.Context, cutoff time.Time, floor int) ([]model.UserRating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.UserRating
	for _, r := range s.ratings {
		if r.Rating > floor && !r.LastRaceAt.IsZero() && r.LastRaceAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) InsertKeystrokeAnalysis(_ context.Context, a model.KeystrokeAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Flags = slices.Clone(a.Flags)
	s.analyses = append(s.analyses, a)
	return nil
}

func (s *MemoryStore) InsertAudit(_ context.Context, e model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, e)
	return nil
}

func (s *MemoryStore) GetCertification(_ context.Context, userID string) (model.Certification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.certs[userID]
	if !ok {
		return model.Certification{}, fmt.Errorf("certification %s: %w", userID, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) SaveCertification(_ context.Context, c model.Certification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[c.UserID] = c
	return nil
}

// Analyses returns a copy of every stored keystroke analysis.
func (s *MemoryStore) Analyses() []model.KeystrokeAnalysis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.analyses)
}

// Audits returns a copy of every stored audit event.
func (s *MemoryStore) Audits() []model.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.audits)
}

// RatingCount returns the number of rated users.
func (s *MemoryStore) RatingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.len()
}
